package model

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes, matching the taxonomy in
// the error handling design.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeProviderOffline = "PROVIDER_UNAVAILABLE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// EmbedRequest is the request body for POST /embed.
type EmbedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

// EmbedResponse is the response body for POST /embed.
type EmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	ModelUsed  string      `json:"model_used"`
	Dimensions int         `json:"dimensions"`
}

// RecycleRequest is the request body for POST /recycle.
type RecycleRequest struct {
	UserPrompt     string `json:"user_prompt"`
	RejectedOutput string `json:"rejected_output"`
	Correction     string `json:"correction"`
	ProjectID      string `json:"project_id"`
}

// RecycleResponse is the response body for POST /recycle.
type RecycleResponse struct {
	Status string `json:"status"`
}

// GenerateResponse is the response for POST /generate/absolute_truth.
type GenerateResponse struct {
	Text       string         `json:"text"`
	Model      string         `json:"model"`
	Hypervisor map[string]any `json:"hypervisor"`
}

// validPrivateRanges is the set of CIDR blocks considered non-public. Used by
// ValidateOutboundURL to guard webhook and source-URI destinations against
// SSRF.
var validPrivateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // link-local
		"::1/128",
		"fc00::/7",  // unique-local IPv6
		"fe80::/10", // link-local IPv6
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			validPrivateRanges = append(validPrivateRanges, network)
		}
	}
}

// ValidateOutboundURL ensures a URL (webhook target or evidence source) is a
// safe, publicly-routable http/https URL. Rejects non-http(s) schemes,
// credentials embedded in the URL, and private/loopback addresses.
func ValidateOutboundURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url must use http or https scheme (got %q)", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("url must not include credentials")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url must include a host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("url must not point to localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, r := range validPrivateRanges {
			if r.Contains(ip) {
				return fmt.Errorf("url must not point to a private or loopback address")
			}
		}
	}
	return nil
}
