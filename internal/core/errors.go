package core

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when no print job exists for the given id.
	ErrJobNotFound = errors.New("print job not found")

	// ErrAlreadyAssigned is returned when an operator loses the race to
	// claim a queued job. The caller should re-fetch the queue and pick
	// another job.
	ErrAlreadyAssigned = errors.New("job already assigned to another operator")

	// ErrGone is returned when a card artifact was deliberately deleted
	// after a passed quality check. Distinct from a plain not-found so the
	// API can answer 410 instead of 404.
	ErrGone = errors.New("card files deleted after quality check")

	// ErrRenderFailed wraps card rendering failures. The job stays QUEUED
	// with files_generated=false and rendering is retried on next access.
	ErrRenderFailed = errors.New("card rendering failed")
)

// InvalidTransitionError rejects a status change not permitted from the
// job's current state. The record is left untouched.
type InvalidTransitionError struct {
	Current   Status
	Requested Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.Current, e.Requested)
}

// CleanupIncompleteError reports that post-QA file deletion did not fully
// remove the job directory. The completed status is not rolled back; the
// job is flagged for the maintenance sweep instead.
type CleanupIncompleteError struct {
	JobID string
	Cause error
}

func (e *CleanupIncompleteError) Error() string {
	return fmt.Sprintf("cleanup incomplete for job %s: %v", e.JobID, e.Cause)
}

func (e *CleanupIncompleteError) Unwrap() error {
	return e.Cause
}
