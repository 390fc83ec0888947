// Package apperr defines the tagged error variants used across the indexing
// and search pipeline, each carrying the structured context (operation, pool
// identity, correlation id) the HTTP surface needs to classify and log a
// failure without parsing a message string.
package apperr

import (
	"errors"
	"fmt"
)

// Pool identifies one of the metadata store's logical connection pools.
type Pool string

const (
	PoolWrite     Pool = "write"
	PoolRead      Pool = "read"
	PoolAnalytics Pool = "analytics"
)

// ValidationError covers malformed requests: empty files, over-long queries,
// missing required commit fields.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Op, e.Message)
}

// AdmissionTimeoutError fires when job creation exceeds its admission deadline.
type AdmissionTimeoutError struct {
	CorrelationID string
}

func (e *AdmissionTimeoutError) Error() string {
	return fmt.Sprintf("admission timed out (correlation_id=%s)", e.CorrelationID)
}

// DatabaseError is the family of errors the metadata store can return.
// Kind distinguishes pool exhaustion, connection failure, query timeout,
// query failure, constraint violation, and data-integrity failures, which
// the spec treats as siblings sharing the same context fields.
type DatabaseError struct {
	Kind          DatabaseErrorKind
	Op            string
	Pool          Pool
	CorrelationID string
	Err           error
}

type DatabaseErrorKind string

const (
	DatabasePoolExhausted    DatabaseErrorKind = "pool_exhausted"
	DatabaseConnectionFailed DatabaseErrorKind = "connection_failed"
	DatabaseQueryTimeout     DatabaseErrorKind = "query_timeout"
	DatabaseQueryFailed      DatabaseErrorKind = "query_failed"
	DatabaseConstraint       DatabaseErrorKind = "constraint_violation"
	DatabaseDataIntegrity    DatabaseErrorKind = "data_integrity"
)

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("%s error in %s (pool=%s, correlation_id=%s)", e.Kind, e.Op, e.Pool, e.CorrelationID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// VectorStoreError covers connection/search/write failures against the
// vector store.
type VectorStoreError struct {
	Op            string
	CorrelationID string
	Err           error
}

func (e *VectorStoreError) Error() string {
	msg := fmt.Sprintf("vector store error in %s (correlation_id=%s)", e.Op, e.CorrelationID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// EmbeddingError covers model-load failure, tokenization failure, and
// dimension mismatch.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	msg := fmt.Sprintf("embedding error in %s", e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ParseError is returned when grammar initialization itself fails; ordinary
// parse failures degrade to the heuristic chunker instead of erroring.
type ParseError struct {
	LanguageID string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for language %s: %v", e.LanguageID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SearchTimeoutError fires when a search attempt's wall-clock budget expires.
// It is a distinct kind and is never retried within the same call.
type SearchTimeoutError struct {
	CorrelationID string
}

func (e *SearchTimeoutError) Error() string {
	return fmt.Sprintf("search timed out (correlation_id=%s)", e.CorrelationID)
}

// JobNotFoundError is returned when a job id has no corresponding row.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string { return fmt.Sprintf("job not found: %s", e.JobID) }

// FileNotFoundError is returned when get_context cannot find a file row.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string { return fmt.Sprintf("file not found: %s", e.Path) }

// HTTPStatus classifies any error from this package (or an unrecognized one)
// into the HTTP status class the spec's §7 propagation policy requires:
// validation -> 4xx, resource/timeout -> 503, everything else -> 500.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		admission  *AdmissionTimeoutError
		db         *DatabaseError
		searchTO   *SearchTimeoutError
		jobNF      *JobNotFoundError
		fileNF     *FileNotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return 400
	case errors.As(err, &jobNF), errors.As(err, &fileNF):
		return 404
	case errors.As(err, &admission), errors.As(err, &searchTO):
		return 503
	case errors.As(err, &db):
		if db.Kind == DatabasePoolExhausted || db.Kind == DatabaseConnectionFailed || db.Kind == DatabaseQueryTimeout {
			return 503
		}
		return 500
	default:
		return 500
	}
}
