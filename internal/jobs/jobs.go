// Package jobs implements job admission (C8): validating an indexing
// submission and persisting it as a single atomic unit (project branch +
// job row + queued files) within an admission deadline.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/store"
)

// FileSubmission is re-exported so httpapi only needs to import this
// package, not internal/store directly, to build a submission.
type FileSubmission = store.FileSubmission

// Admitter submits indexing jobs against a metadata store under an
// admission deadline.
type Admitter struct {
	metadata         store.MetadataStore
	admissionTimeout time.Duration
	log              zerolog.Logger
}

// NewAdmitter builds an Admitter. admissionTimeout bounds how long
// SubmitJob's transaction is allowed to take before it is treated as a
// timeout rather than left to hang indefinitely.
func NewAdmitter(metadata store.MetadataStore, admissionTimeout time.Duration, log zerolog.Logger) *Admitter {
	return &Admitter{metadata: metadata, admissionTimeout: admissionTimeout, log: log}
}

// Submit validates rc and files, then admits the job atomically. A
// misconfigured or empty submission returns a ValidationError without ever
// touching the store; a submission that exceeds the admission deadline
// returns an AdmissionTimeoutError.
func (a *Admitter) Submit(ctx context.Context, tenant uuid.UUID, rc models.RepositoryContext, files []FileSubmission, correlationID string) (uuid.UUID, error) {
	if err := validate(rc, files); err != nil {
		return uuid.Nil, err
	}

	admitCtx, cancel := context.WithTimeout(ctx, a.admissionTimeout)
	defer cancel()

	type result struct {
		jobID uuid.UUID
		err   error
	}
	done := make(chan result, 1)
	go func() {
		jobID, err := a.metadata.SubmitJob(admitCtx, tenant, rc, files, correlationID)
		done <- result{jobID, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			a.log.Error().Err(r.err).Str("correlation_id", correlationID).Str("repository_id", rc.RepositoryID).Msg("job submission failed")
			return uuid.Nil, r.err
		}
		a.log.Info().Str("correlation_id", correlationID).Str("job_id", r.jobID.String()).Int("file_count", len(files)).Msg("job admitted")
		return r.jobID, nil
	case <-admitCtx.Done():
		a.log.Warn().Str("correlation_id", correlationID).Msg("job admission timed out")
		return uuid.Nil, &apperr.AdmissionTimeoutError{CorrelationID: correlationID}
	}
}

func validate(rc models.RepositoryContext, files []FileSubmission) error {
	if rc.RepositoryID == "" {
		return &apperr.ValidationError{Op: "submit_job", Message: "repository_id is required"}
	}
	if rc.Branch == "" {
		return &apperr.ValidationError{Op: "submit_job", Message: "branch is required"}
	}
	if rc.CommitSHA == "" {
		return &apperr.ValidationError{Op: "submit_job", Message: "commit_sha is required"}
	}
	if len(files) == 0 {
		return &apperr.ValidationError{Op: "submit_job", Message: "at least one file is required"}
	}
	for _, f := range files {
		if f.Path == "" {
			return &apperr.ValidationError{Op: "submit_job", Message: "file path must not be empty"}
		}
	}
	return nil
}
