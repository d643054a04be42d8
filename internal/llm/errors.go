package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/scrypster/engram/pkg/types"
)

// ErrCircuitOpen is returned when the circuit breaker is in open state
// and rejects requests to prevent cascading failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// statusError builds a ProviderError from a non-2xx HTTP response.
func statusError(provider string, status int, body string) *types.ProviderError {
	return &types.ProviderError{
		Kind:     kindForStatus(status),
		Provider: provider,
		Err:      fmt.Errorf("status %d: %s", status, truncate(body, 256)),
	}
}

func kindForStatus(status int) types.ProviderErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return types.ProviderRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.ProviderAuth
	case status == http.StatusRequestTimeout || status >= 500:
		return types.ProviderNetwork
	default:
		return types.ProviderInvalidRequest
	}
}

// asProviderError classifies any error returned while talking to a provider.
// Errors that are already a *types.ProviderError pass through unchanged.
func asProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	// Transport failures, timeouts and open circuits all mean the backend
	// could not be reached.
	return &types.ProviderError{Kind: types.ProviderNetwork, Provider: provider, Err: err}
}

func invalidResponse(provider, format string, args ...interface{}) *types.ProviderError {
	return &types.ProviderError{
		Kind:     types.ProviderInvalidRequest,
		Provider: provider,
		Err:      fmt.Errorf(format, args...),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
