package models

import (
	"context"
	"errors"
)

// ValidationError represents a validation failure on a model field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return "validation failed on " + e.Field + ": " + e.Message
}

// ErrorKind classifies a pipeline failure. The retry and backoff policy
// dispatches on the kind, never on the error string.
type ErrorKind string

const (
	ErrValidation               ErrorKind = "validation"
	ErrUnsupportedType          ErrorKind = "unsupported_type"
	ErrNetworkTransient         ErrorKind = "network_transient"
	ErrProviderRateLimit        ErrorKind = "provider_rate_limit"
	ErrProviderSchema           ErrorKind = "provider_schema"
	ErrTimeout                  ErrorKind = "timeout"
	ErrVectorStoreUnavailable   ErrorKind = "vector_store_unavailable"
	ErrRelationalStoreUnavailable ErrorKind = "relational_store_unavailable"
	ErrCancelled                ErrorKind = "cancelled"
	ErrInternal                 ErrorKind = "internal"
)

// IsRetryable reports whether the job queue may retry a job that failed
// with this kind.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case ErrNetworkTransient, ErrProviderRateLimit, ErrTimeout,
		ErrVectorStoreUnavailable, ErrRelationalStoreUnavailable:
		return true
	default:
		return false
	}
}

// PipelineError carries an error kind through the pipeline so that the
// job layer can decide on retry without string matching.
type PipelineError struct {
	Kind      ErrorKind
	Operation string
	Err       error
	Message   string
}

func (e *PipelineError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	prefix := e.Operation + ": " + msg
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new pipeline error
func NewPipelineError(kind ErrorKind, operation string, err error, message string) *PipelineError {
	return &PipelineError{
		Kind:      kind,
		Operation: operation,
		Err:       err,
		Message:   message,
	}
}

// KindOf extracts the error kind from err, walking the wrap chain.
// Errors that carry no kind are classified as internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return ErrInternal
}
