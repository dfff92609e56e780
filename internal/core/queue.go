package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/schuttebj/linc-print-backend/internal/db"
)

// NextJob returns the job a print operator should take next at the given
// location: lowest queue position first, earliest submission breaking ties.
// Priority influences where jobs enter the queue, not the pull order, so
// the front of the queue is stable once set.
func (e *Engine) NextJob(ctx context.Context, locationID uuid.UUID) (*Job, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs
		 WHERE location_id = ? AND status = ?
		 ORDER BY queue_position ASC, submitted_at ASC
		 LIMIT 1`,
		locationID, StatusQueued,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query next job: %w", err)
	}
	return job, nil
}

// QueueJobs lists the waiting jobs of a location in pull order.
func (e *Engine) QueueJobs(ctx context.Context, locationID uuid.UUID) ([]*Job, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs
		 WHERE location_id = ? AND status = ?
		 ORDER BY queue_position ASC, submitted_at ASC`,
		locationID, StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
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

// MoveToTop puts a waiting job at the front of its location queue by giving
// it a position below the current minimum. Other jobs keep their positions.
// Only QUEUED jobs can move; anything already picked up keeps its course.
func (e *Engine) MoveToTop(ctx context.Context, jobID, operatorID uuid.UUID, reason string) (*Job, error) {
	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusQueued {
		return nil, &InvalidTransitionError{Current: job.Status, Requested: StatusQueued}
	}

	unlock := e.lockLocation(job.LocationID)
	defer unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var minPos sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MIN(queue_position) FROM print_jobs WHERE location_id = ? AND status = ?`,
		job.LocationID, StatusQueued,
	).Scan(&minPos)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue head: %w", err)
	}

	newPos := 0
	if minPos.Valid {
		newPos = int(minPos.Int64) - 1
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET queue_position = ? WHERE id = ? AND status = ?`,
		newPos, jobID, StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to move job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect update: %w", err)
	}
	if rows == 0 {
		// Lost a race with an assign; report the state as it is now.
		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, jobID)
		current, err := scanJob(row)
		if err != nil {
			return nil, ErrJobNotFound
		}
		return nil, &InvalidTransitionError{Current: current.Status, Requested: StatusQueued}
	}

	note := "moved to top of queue"
	if reason != "" {
		note += ": " + reason
	}
	if err := insertHistory(ctx, tx, jobID, StatusQueued, StatusQueued, &operatorID, note); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit move: %w", err)
	}

	return e.GetJob(ctx, jobID)
}

// QueueStatistics summarizes one location's queue for dashboards.
type QueueStatistics struct {
	LocationID    uuid.UUID      `json:"location_id"`
	Waiting       int            `json:"waiting"`
	InProgress    int            `json:"in_progress"`
	JobsProcessed int64          `json:"jobs_processed"`
	ByStatus      map[Status]int `json:"by_status"`
}

func (e *Engine) QueueStats(ctx context.Context, locationID uuid.UUID) (*QueueStatistics, error) {
	counts, err := e.StatusCounts(ctx, &locationID)
	if err != nil {
		return nil, err
	}

	stats := &QueueStatistics{
		LocationID: locationID,
		Waiting:    counts[StatusQueued],
		InProgress: counts[StatusAssigned] + counts[StatusPrinting] +
			counts[StatusPrinted] + counts[StatusQualityCheck],
		ByStatus: counts,
	}

	var processed sql.NullInt64
	err = e.db.QueryRowContext(ctx,
		`SELECT jobs_processed FROM location_queues WHERE location_id = ?`,
		locationID,
	).Scan(&processed)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query location queue: %w", err)
	}
	stats.JobsProcessed = processed.Int64

	return stats, nil
}

// History returns the recorded status transitions of a job, oldest first.
func (e *Engine) History(ctx context.Context, jobID uuid.UUID) ([]*db.StatusHistoryEntry, error) {
	if _, err := e.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return db.History.ListByJob(ctx, jobID)
}
