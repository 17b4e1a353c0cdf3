package docpipe

import "errors"

var (
	// ErrUnsupportedFormat is returned for file extensions outside the
	// supported set. Never retried.
	ErrUnsupportedFormat = errors.New("docpipe: unsupported document format")

	// ErrParseFailed is returned when a format parser fails on a document
	// (malformed file, missing expected XML parts, etc.).
	ErrParseFailed = errors.New("docpipe: parsing failed")

	// ErrWorkerTimeout is returned when a parse task exceeds its fixed
	// execution budget.
	ErrWorkerTimeout = errors.New("docpipe: worker timeout")

	// ErrWorkerCrashed is returned when the execution unit running a task
	// terminated unexpectedly. The pool self-heals; the task is not retried.
	ErrWorkerCrashed = errors.New("docpipe: worker crashed")

	// ErrStorageUnavailable is returned when object storage or the durable
	// store cannot be reached on a synchronous path.
	ErrStorageUnavailable = errors.New("docpipe: storage unavailable")

	// ErrObjectNotFound is returned when a requested object key does not
	// exist in the bucket.
	ErrObjectNotFound = errors.New("docpipe: object not found")

	// ErrServiceClosed is returned when operating on a closed service.
	ErrServiceClosed = errors.New("docpipe: service is closed")
)
