package model

import "errors"

// Sentinel errors forming the request-path error taxonomy. Optimisation and
// background-task errors (vector-skip, pruning, antibody fetch) are not part
// of this taxonomy: they are caught locally and logged, never propagated.
var (
	// ErrUnauthorized signals a bad, missing, or expired bearer token.
	ErrUnauthorized = errors.New("model: unauthorized")

	// ErrProviderUnavailable signals that an embedding or generation provider
	// could not be reached. Embedding callers must treat this as "skip
	// vector-based optimisations", never as a zero vector.
	ErrProviderUnavailable = errors.New("model: provider unavailable")

	// ErrConfig signals a configuration error detected at startup (e.g. a
	// missing secret in a production deployment).
	ErrConfig = errors.New("model: configuration error")
)
