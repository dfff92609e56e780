package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const jobColumns = `
	id, job_number, status, priority, queue_position, person_id, location_id,
	primary_application_id, application_ids, card_number, card_template,
	license_data, person_data, assigned_to, submitted_at, assigned_at,
	printing_started_at, printing_completed_at, quality_check_started_at,
	quality_check_completed_at, quality_check_result, quality_check_notes,
	quality_check_by, parent_job_id, reprint_reason, reprint_count,
	files_generated, files_deleted_after_qa, files_deleted_at,
	files_bytes_freed, manual_cleanup_needed, front_image_path,
	back_image_path, front_pdf_path, back_pdf_path, combined_pdf_path,
	completed_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var (
		queuePosition                                    sql.NullInt64
		applicationIDs                                   string
		assignedTo, qualityCheckBy, parentJobID          uuid.NullUUID
		assignedAt, printingStartedAt                    sql.NullTime
		printingCompletedAt, qcStartedAt, qcCompletedAt  sql.NullTime
		qcResult                                         sql.NullString
		filesGenerated, filesDeleted, manualCleanup      int
		filesDeletedAt, completedAt                      sql.NullTime
		licenseData, personData                          string
	)

	err := row.Scan(
		&job.ID, &job.JobNumber, &job.Status, &job.Priority, &queuePosition,
		&job.PersonID, &job.LocationID, &job.PrimaryApplicationID,
		&applicationIDs, &job.CardNumber, &job.CardTemplate,
		&licenseData, &personData, &assignedTo, &job.SubmittedAt, &assignedAt,
		&printingStartedAt, &printingCompletedAt, &qcStartedAt,
		&qcCompletedAt, &qcResult, &job.QualityCheckNotes,
		&qualityCheckBy, &parentJobID, &job.ReprintReason, &job.ReprintCount,
		&filesGenerated, &filesDeleted, &filesDeletedAt,
		&job.FilesBytesFreed, &manualCleanup, &job.FrontImagePath,
		&job.BackImagePath, &job.FrontPDFPath, &job.BackPDFPath,
		&job.CombinedPDFPath, &completedAt, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if queuePosition.Valid {
		pos := int(queuePosition.Int64)
		job.QueuePosition = &pos
	}
	if err := json.Unmarshal([]byte(applicationIDs), &job.ApplicationIDs); err != nil {
		return nil, fmt.Errorf("failed to decode application ids: %w", err)
	}
	job.LicenseData = json.RawMessage(licenseData)
	job.PersonData = json.RawMessage(personData)
	if assignedTo.Valid {
		job.AssignedTo = &assignedTo.UUID
	}
	if assignedAt.Valid {
		job.AssignedAt = &assignedAt.Time
	}
	if printingStartedAt.Valid {
		job.PrintingStartedAt = &printingStartedAt.Time
	}
	if printingCompletedAt.Valid {
		job.PrintingCompletedAt = &printingCompletedAt.Time
	}
	if qcStartedAt.Valid {
		job.QualityCheckStartedAt = &qcStartedAt.Time
	}
	if qcCompletedAt.Valid {
		job.QualityCheckCompletedAt = &qcCompletedAt.Time
	}
	if qcResult.Valid {
		result := QAResult(qcResult.String)
		job.QualityCheckResult = &result
	}
	if qualityCheckBy.Valid {
		job.QualityCheckBy = &qualityCheckBy.UUID
	}
	if parentJobID.Valid {
		job.ParentJobID = &parentJobID.UUID
	}
	job.FilesGenerated = filesGenerated != 0
	job.FilesDeletedAfterQA = filesDeleted != 0
	if filesDeletedAt.Valid {
		job.FilesDeletedAt = &filesDeletedAt.Time
	}
	job.ManualCleanupNeeded = manualCleanup != 0
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return job, nil
}

func (e *Engine) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

func (e *Engine) GetJobByNumber(ctx context.Context, jobNumber string) (*Job, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs WHERE job_number = ?`, jobNumber)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

// ChildJob returns the reprint spawned for the given failed job, or nil if
// none exists yet.
func (e *Engine) ChildJob(ctx context.Context, parentID uuid.UUID) (*Job, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs WHERE parent_job_id = ? ORDER BY created_at ASC LIMIT 1`,
		parentID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query child job: %w", err)
	}
	return job, nil
}

type JobFilter struct {
	LocationID *uuid.UUID
	PersonID   *uuid.UUID
	Status     Status
	Limit      int
	Offset     int
}

func (e *Engine) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM print_jobs WHERE 1=1`
	var args []interface{}

	if filter.LocationID != nil {
		query += ` AND location_id = ?`
		args = append(args, *filter.LocationID)
	}
	if filter.PersonID != nil {
		query += ` AND person_id = ?`
		args = append(args, *filter.PersonID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query += ` ORDER BY submitted_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
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

// StatusCounts returns the number of jobs per status, optionally scoped to
// one print location.
func (e *Engine) StatusCounts(ctx context.Context, locationID *uuid.UUID) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM print_jobs`
	var args []interface{}
	if locationID != nil {
		query += ` WHERE location_id = ?`
		args = append(args, *locationID)
	}
	query += ` GROUP BY status`

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CountJobsWithFiles reports how many jobs still have artifacts on disk
// according to the record flags, for the storage dashboard.
func (e *Engine) CountJobsWithFiles(ctx context.Context) (int, error) {
	var count int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM print_jobs WHERE files_generated = 1 AND files_deleted_after_qa = 0`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs with files: %w", err)
	}
	return count, nil
}
