// Package antibody persists and retrieves antibodies — records of past
// incorrect answers plus their corrections — by semantic similarity.
//
// Grounded on the teacher's search package: a Qdrant-accelerated ANN index
// with a fail-open fallback to a Postgres/pgvector full scan, the same
// Healthy()-gated degrade-on-error chain the teacher uses for decision
// search. Insertion reuses storage.WithRetry for serialization-failure
// retries, as the teacher's transactional writes do.
package antibody

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	qdrantvector "github.com/qdrant/go-client/qdrant"

	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/storage"
)

// Store persists antibodies and serves similarity search over them.
type Store interface {
	// Insert durably records a new antibody.
	Insert(ctx context.Context, a model.Antibody) error

	// MatchAntibodies returns the up-to-count antibodies whose embedding is
	// at least matchThreshold cosine-similar to queryEmbedding, ranked
	// descending by similarity. The exact ranking metric (cosine) and
	// signature are this engine's own design choice — the original source
	// left match_antibodies underspecified (spec §9, Open Question (b)).
	MatchAntibodies(ctx context.Context, queryEmbedding []float32, matchThreshold float64, matchCount int) ([]model.Match, error)
}

// PostgresStore is the source-of-truth antibody store: every antibody lives
// here regardless of whether a Qdrant accelerator is also configured.
type PostgresStore struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed antibody store.
func NewPostgresStore(db *storage.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Insert writes a new antibody row, retrying on serialization failure or
// deadlock per the teacher's storage.WithRetry convention.
func (s *PostgresStore) Insert(ctx context.Context, a model.Antibody) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	vec := pgvector.NewVector(a.Embedding)

	return storage.WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		_, err := s.db.Pool().Exec(ctx, `
			INSERT INTO antibodies (id, content, embedding, project_id, created_at)
			VALUES ($1, $2, $3, $4, now())
		`, a.ID, a.Content, vec, a.ProjectID)
		if err != nil {
			return fmt.Errorf("antibody: insert: %w", err)
		}
		return nil
	})
}

// MatchAntibodies performs a full pgvector cosine-distance scan ordered by
// similarity, filtering to matches at or above matchThreshold. Used directly
// when no Qdrant accelerator is configured, and as the fallback leg of
// CompositeStore when Qdrant is unreachable.
func (s *PostgresStore) MatchAntibodies(ctx context.Context, queryEmbedding []float32, matchThreshold float64, matchCount int) ([]model.Match, error) {
	if matchCount <= 0 {
		matchCount = 2
	}
	vec := pgvector.NewVector(queryEmbedding)

	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, content, project_id, created_at, 1 - (embedding <=> $1) AS similarity
		FROM antibodies
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, vec, matchThreshold, matchCount)
	if err != nil {
		return nil, fmt.Errorf("antibody: match query: %w", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ID, &m.Content, &m.ProjectID, &m.CreatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("antibody: scan match row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("antibody: match rows: %w", err)
	}
	return matches, nil
}

// QdrantAccelerator mirrors antibody vectors into Qdrant for sub-linear ANN
// search, used opportunistically in front of PostgresStore. It never becomes
// the source of truth: PostgresStore.Insert is always called first.
type QdrantAccelerator struct {
	client     *qdrantvector.Client
	collection string
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL,
// defaulting to the gRPC port when the REST port (6333) is given.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("antibody: invalid qdrant URL: %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("antibody: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}
	return host, port, useTLS, nil
}

// NewQdrantAccelerator connects to Qdrant and ensures the antibody
// collection exists with a cosine-distance HNSW index.
func NewQdrantAccelerator(ctx context.Context, rawURL, apiKey, collection string, dims uint64, logger *slog.Logger) (*QdrantAccelerator, error) {
	host, port, useTLS, err := parseQdrantURL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := qdrantvector.NewClient(&qdrantvector.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("antibody: connect to qdrant at %s:%d: %w", host, port, err)
	}

	q := &QdrantAccelerator{client: client, collection: collection, logger: logger}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("antibody: check collection exists: %w", err)
	}
	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)
		if err := client.CreateCollection(ctx, &qdrantvector.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrantvector.NewVectorsConfig(&qdrantvector.VectorParams{
				Size:     dims,
				Distance: qdrantvector.Distance_Cosine,
				HnswConfig: &qdrantvector.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return nil, fmt.Errorf("antibody: create collection %q: %w", collection, err)
		}
		keywordType := qdrantvector.FieldType_FieldTypeKeyword
		if _, err := client.CreateFieldIndex(ctx, &qdrantvector.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      "project_id",
			FieldType:      &keywordType,
		}); err != nil {
			return nil, fmt.Errorf("antibody: create project_id index: %w", err)
		}
	}
	return q, nil
}

// Upsert mirrors an antibody's vector into Qdrant, keyed by its Postgres id.
func (q *QdrantAccelerator) Upsert(ctx context.Context, a model.Antibody) error {
	_, err := q.client.Upsert(ctx, &qdrantvector.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrantvector.PtrOf(true),
		Points: []*qdrantvector.PointStruct{{
			Id:      qdrantvector.NewID(a.ID),
			Vectors: qdrantvector.NewVectorsDense(a.Embedding),
			Payload: qdrantvector.NewValueMap(map[string]any{
				"project_id": a.ProjectID,
				"content":    a.Content,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("antibody: qdrant upsert: %w", err)
	}
	return nil
}

// Search returns up to matchCount antibody ids and scores, without payload
// (the caller re-hydrates full content from Postgres, which remains the
// source of truth).
func (q *QdrantAccelerator) Search(ctx context.Context, queryEmbedding []float32, matchThreshold float64, matchCount int) ([]model.Match, error) {
	limit := uint64(matchCount)
	scored, err := q.client.Query(ctx, &qdrantvector.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrantvector.NewQueryDense(queryEmbedding),
		Limit:          &limit,
		WithPayload:    qdrantvector.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("antibody: qdrant query: %w", err)
	}

	matches := make([]model.Match, 0, len(scored))
	for _, sp := range scored {
		if float64(sp.Score) < matchThreshold {
			continue
		}
		matches = append(matches, model.Match{
			Antibody: model.Antibody{ID: sp.Id.GetUuid()},
			Score:    float64(sp.Score),
		})
	}
	return matches, nil
}

// Healthy returns nil if Qdrant is reachable, caching the result for 5s to
// avoid hammering the health endpoint on every match call.
func (q *QdrantAccelerator) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()

	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}
	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = fmt.Errorf("antibody: qdrant unhealthy: %w", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantAccelerator) Close() error {
	return q.client.Close()
}

// CompositeStore prefers Qdrant for MatchAntibodies (sub-linear ANN) and
// falls back to a Postgres full scan when Qdrant is unhealthy or errors —
// the same fail-open chain the teacher's search package uses in front of
// its Qdrant index. Insert always writes Postgres first (source of truth)
// then mirrors into Qdrant best-effort.
type CompositeStore struct {
	pg     *PostgresStore
	qdrant *QdrantAccelerator
	logger *slog.Logger
}

// NewCompositeStore creates a store backed by Postgres with an optional
// Qdrant accelerator. qdrant may be nil to disable acceleration entirely.
func NewCompositeStore(pg *PostgresStore, qdrant *QdrantAccelerator, logger *slog.Logger) *CompositeStore {
	return &CompositeStore{pg: pg, qdrant: qdrant, logger: logger}
}

// Insert writes through to Postgres, then best-effort mirrors into Qdrant.
// A Qdrant mirror failure is logged and swallowed: Postgres remains
// authoritative and the next MatchAntibodies call simply falls back.
func (c *CompositeStore) Insert(ctx context.Context, a model.Antibody) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := c.pg.Insert(ctx, a); err != nil {
		return err
	}
	if c.qdrant != nil {
		if err := c.qdrant.Upsert(ctx, a); err != nil {
			c.logger.Warn("antibody: qdrant mirror failed, postgres remains authoritative", "error", err)
		}
	}
	return nil
}

// MatchAntibodies tries Qdrant first when configured and healthy, falling
// back to the Postgres full scan on any error.
func (c *CompositeStore) MatchAntibodies(ctx context.Context, queryEmbedding []float32, matchThreshold float64, matchCount int) ([]model.Match, error) {
	if c.qdrant == nil {
		return c.pg.MatchAntibodies(ctx, queryEmbedding, matchThreshold, matchCount)
	}
	if err := c.qdrant.Healthy(ctx); err != nil {
		c.logger.Debug("antibody: qdrant unhealthy, falling back to postgres", "error", err)
		return c.pg.MatchAntibodies(ctx, queryEmbedding, matchThreshold, matchCount)
	}

	matches, err := c.qdrant.Search(ctx, queryEmbedding, matchThreshold, matchCount)
	if err != nil {
		c.logger.Warn("antibody: qdrant search failed, falling back to postgres", "error", err)
		return c.pg.MatchAntibodies(ctx, queryEmbedding, matchThreshold, matchCount)
	}
	if len(matches) == 0 {
		return matches, nil
	}
	return c.hydrate(ctx, matches)
}

// hydrate fills in full antibody content/project_id/created_at for Qdrant
// results, which carry only id and score.
func (c *CompositeStore) hydrate(ctx context.Context, matches []model.Match) ([]model.Match, error) {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}

	rows, err := c.pg.db.Pool().Query(ctx, `
		SELECT id, content, project_id, created_at FROM antibodies WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("antibody: hydrate query: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]model.Antibody, len(matches))
	for rows.Next() {
		var a model.Antibody
		if err := rows.Scan(&a.ID, &a.Content, &a.ProjectID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("antibody: scan hydrate row: %w", err)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("antibody: hydrate rows: %w", err)
	}

	out := make([]model.Match, 0, len(matches))
	for _, m := range matches {
		if a, ok := byID[m.ID]; ok {
			m.Antibody = a
			out = append(out, m)
		}
	}
	return out, nil
}
