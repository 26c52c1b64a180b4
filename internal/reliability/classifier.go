package reliability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidCredentials reports a provider rejecting the tenant's key.
	ErrInvalidCredentials = errors.New("provider rejected credentials")
	// ErrServiceUnavailable reports a provider that is down, throttling, or unreachable.
	ErrServiceUnavailable = errors.New("provider unavailable")
	// ErrBadResponse reports a provider answering with a status or body we cannot use.
	ErrBadResponse = errors.New("provider returned unusable response")
)

// IsRetryableHTTPStatus classifies transient HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps a non-2xx provider status to a sentinel, keeping the
// body snippet for logs.
func ClassifyHTTPStatus(provider string, code int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	var kind error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = ErrInvalidCredentials
	case IsRetryableHTTPStatus(code):
		kind = ErrServiceUnavailable
	default:
		kind = ErrBadResponse
	}
	return fmt.Errorf("%s http status %d: %w: %s", provider, code, kind, snippet)
}

// TransportError wraps a failed round trip. Context expiry is preserved so that
// callers can tell a stage timeout from an outage.
func TransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	return fmt.Errorf("%s request: %w: %v", provider, ErrServiceUnavailable, err)
}

// Code returns a short metrics label for a provider error.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "error"
	}
}
