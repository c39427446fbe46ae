// Package auth verifies bearer tokens for the engine's HTTP and MCP
// surfaces.
//
// Uses HS256 with a symmetric secret, matching the upstream Supabase-issued
// tokens this engine sits behind (audience "authenticated"). This is a
// deliberate departure from asymmetric JWT signing: the engine is a verifier
// only, it never issues tokens itself, so there is no private key to guard.
package auth

import (
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

// audience is the fixed JWT audience claim every token must carry.
const audience = "authenticated"

// DevSubject is the synthetic subject used when auth is bypassed in dev mode
// (no JWT secret configured and RENDER is not "true").
const DevSubject = "dev-user"

// Claims is the set of JWT claims the engine reads off a validated token.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a configured HS256 secret, or
// bypasses validation in dev mode.
type Verifier struct {
	secret  []byte
	devMode bool
	logger  *slog.Logger
}

// NewVerifier creates a Verifier. If secret is empty and devMode is true,
// ValidateToken always succeeds with a synthetic dev-user subject. If secret
// is empty and devMode is false, the caller has misconfigured a production
// deployment; config.Validate is expected to have already rejected this
// combination when RENDER=true.
func NewVerifier(secret string, devMode bool, logger *slog.Logger) *Verifier {
	if secret == "" && devMode {
		logger.Warn("auth: no SUPABASE_JWT_SECRET configured, any bearer token authenticates as dev-user")
	}
	return &Verifier{secret: []byte(secret), devMode: devMode, logger: logger}
}

// ValidateToken parses and validates a JWT, returning its claims. In dev
// mode with no secret configured, any (or no) token yields a synthetic
// dev-user subject without signature verification.
func (v *Verifier) ValidateToken(tokenStr string) (*Claims, error) {
	if len(v.secret) == 0 && v.devMode {
		return &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:  DevSubject,
				Audience: jwt.ClaimStrings{audience},
			},
		}, nil
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(audience),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("auth: token missing subject")
	}

	return claims, nil
}
