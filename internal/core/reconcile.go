package core

import (
	"context"
	"fmt"
	"time"

	"github.com/schuttebj/linc-print-backend/internal/store"
)

// ReconcileCleanups retries artifact destruction for jobs that completed but
// whose files were never confirmed gone, typically after a crash between the
// completion commit and the cleanup. Returns how many jobs were cleaned.
func (e *Engine) ReconcileCleanups(ctx context.Context) (int, error) {
	jobs, err := e.listJobsWhere(ctx,
		`status = ? AND files_deleted_after_qa = 0`, StatusCompleted)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if err := e.CleanupFiles(ctx, job); err != nil {
			e.log.Error("reconciliation cleanup failed", "job_id", job.ID, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// RepairMissingReprints spawns the replacement job for any quality failure
// that has none, covering a crash between the verdict and the spawn on
// databases migrated from systems without the same-transaction guarantee.
func (e *Engine) RepairMissingReprints(ctx context.Context) (int, error) {
	jobs, err := e.listJobsWhere(ctx,
		`status = ? AND id NOT IN (SELECT parent_job_id FROM print_jobs WHERE parent_job_id IS NOT NULL)`,
		StatusReprintRequired)
	if err != nil {
		return 0, err
	}

	spawned := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return spawned, err
		}
		if err := e.spawnReprintFor(ctx, job); err != nil {
			e.log.Error("reprint repair failed", "job_id", job.ID, "error", err)
			continue
		}
		spawned++
	}
	return spawned, nil
}

func (e *Engine) spawnReprintFor(ctx context.Context, job *Job) error {
	result := QAFailedPrinting
	if job.QualityCheckResult != nil && job.QualityCheckResult.Failed() {
		result = *job.QualityCheckResult
	}

	unlock := e.lockLocation(job.LocationID)
	defer unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	childID, err := e.spawnReprint(ctx, tx, job, result, job.QualityCheckNotes, nil, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reprint: %w", err)
	}

	child, err := e.GetJob(ctx, childID)
	if err != nil {
		return err
	}
	e.sendEvent("reprint_created", child)

	if err := e.generateFiles(ctx, child); err != nil {
		e.log.Warn("reprint rendering failed, job stays queued",
			"job_id", child.ID, "error", err)
	}
	return nil
}

// Orphan is an on-disk job directory that no live job record accounts for:
// either the record is missing, or it says the files were already destroyed.
type Orphan struct {
	JobID  string `json:"job_id"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ScanOrphans walks the card store and reports directories the records do
// not account for. It only reports; removal stays a manual decision.
func (e *Engine) ScanOrphans(ctx context.Context) ([]Orphan, error) {
	var orphans []Orphan

	err := e.store.WalkJobDirs(ctx, func(ref store.JobDirRef) error {
		job, err := e.GetJob(ctx, ref.JobID)
		if err == ErrJobNotFound {
			orphans = append(orphans, Orphan{
				JobID:  ref.JobID.String(),
				Path:   ref.Path,
				Reason: "no job record",
			})
			return nil
		}
		if err != nil {
			return err
		}
		if job.FilesDeletedAfterQA {
			orphans = append(orphans, Orphan{
				JobID:  ref.JobID.String(),
				Path:   ref.Path,
				Reason: "record says files were destroyed",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, o := range orphans {
		e.log.Warn("orphaned card directory", "job_id", o.JobID, "path", o.Path, "reason", o.Reason)
	}
	return orphans, nil
}

// VerifyCleanup re-checks that a completed job's directory is gone and
// repairs the record flags if reality disagrees.
func (e *Engine) VerifyCleanup(ctx context.Context, job *Job) (bool, error) {
	if !job.FilesDeletedAfterQA {
		return false, fmt.Errorf("job %s has no recorded cleanup to verify", job.JobNumber)
	}
	if e.store.VerifyRemoved(job.ID, job.CreatedAt) {
		return true, nil
	}
	e.flagManualCleanup(ctx, job.ID)
	return false, nil
}

func (e *Engine) listJobsWhere(ctx context.Context, where string, args ...interface{}) ([]*Job, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs WHERE `+where+` ORDER BY created_at ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
