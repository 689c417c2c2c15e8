package llm

import (
	"errors"
	"fmt"
)

// TransportError reports a failed exchange with a model provider: network
// faults, non-2xx status codes, or malformed provider payloads. Callers treat
// it as fatal for the session that triggered it.
type TransportError struct {
	Provider string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s transport error (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a TransportError for the given provider.
func NewTransportError(provider string, status int, err error) *TransportError {
	return &TransportError{Provider: provider, Status: status, Err: err}
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
