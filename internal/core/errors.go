package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport_error"
	KindRateLimited ErrorKind = "upstream_rate_limited"
	KindServer      ErrorKind = "upstream_server_error"
	KindClient      ErrorKind = "upstream_client_error"
	KindDecode      ErrorKind = "decode_error"
	KindStorage     ErrorKind = "storage_error"
)

// FetchError is the terminal failure of a fetch cycle.
type FetchError struct {
	Kind     ErrorKind `json:"kind"`
	Source   Source    `json:"source,omitempty"`
	Status   int       `json:"status,omitempty"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts,omitempty"`
	Err      error     `json:"-"`
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	prefix := string(e.Kind)
	if e.Source != "" {
		prefix = string(e.Source) + ": " + prefix
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", prefix, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the kind is retried inside the HTTP client.
func (e *FetchError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindTransport, KindRateLimited, KindServer:
		return true
	default:
		return false
	}
}

// NewFetchError builds a FetchError with a formatted message.
func NewFetchError(kind ErrorKind, source Source, format string, args ...any) *FetchError {
	return &FetchError{
		Kind:    kind,
		Source:  source,
		Message: fmt.Sprintf(format, args...),
	}
}

// StorageFailure wraps a store error for the given source.
func StorageFailure(source Source, err error) *FetchError {
	return &FetchError{
		Kind:    KindStorage,
		Source:  source,
		Message: err.Error(),
		Err:     err,
	}
}

// AsFetchError extracts a FetchError from err. Errors of other types become transport errors.
func AsFetchError(source Source, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = source
		}
		return fe
	}
	return &FetchError{
		Kind:    KindTransport,
		Source:  source,
		Message: err.Error(),
		Err:     err,
	}
}
