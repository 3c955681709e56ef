package repositories

import (
	"context"
	"time"
)

// Upload is a client-supplied file held until its processing job runs
type Upload struct {
	Ref      string
	Filename string
	MIMEType string
	Data     []byte
}

// BlobRepository defines the interface for staged upload storage. File
// bytes live here between the upload request and the moment the worker
// picks up the file-processing job; they expire if the job never runs.
type BlobRepository interface {
	// Put stores the upload under its ref with the given TTL
	Put(ctx context.Context, upload *Upload, ttl time.Duration) error

	// Get retrieves an upload by ref
	Get(ctx context.Context, ref string) (*Upload, error)

	// Delete removes an upload once consumed
	Delete(ctx context.Context, ref string) error

	// Health
	Ping(ctx context.Context) error
}

// BlobRepositoryError represents errors from the blob store
type BlobRepositoryError struct {
	Operation string
	Ref       string
	Err       error
	Message   string
}

func (e *BlobRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	prefix := e.Operation
	if e.Ref != "" {
		prefix += " (ref: " + e.Ref + ")"
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix + ": unknown error"
}

func (e *BlobRepositoryError) Unwrap() error {
	return e.Err
}

// NewBlobRepositoryError creates a new blob repository error
func NewBlobRepositoryError(operation, ref string, err error, message string) *BlobRepositoryError {
	return &BlobRepositoryError{
		Operation: operation,
		Ref:       ref,
		Err:       err,
		Message:   message,
	}
}

// UploadNotFoundError indicates the upload expired or never existed
func UploadNotFoundError(ref string) error {
	return NewBlobRepositoryError("get_upload", ref, ErrNotFound, "upload not found or expired: "+ref)
}
