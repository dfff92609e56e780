package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schuttebj/linc-print-backend/internal/db"
	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
	"github.com/schuttebj/linc-print-backend/internal/render"
	"github.com/schuttebj/linc-print-backend/internal/store"
)

// Engine drives print jobs through their lifecycle. All status changes go
// through it so the transition rules and the record flags stay consistent.
type Engine struct {
	db       *sql.DB
	store    *store.Store
	renderer render.Renderer
	events   EventSink
	log      *logger.Logger

	mu            sync.Mutex
	locationLocks map[uuid.UUID]*sync.Mutex
}

func NewEngine(database *sql.DB, st *store.Store, renderer render.Renderer, events EventSink, log *logger.Logger) *Engine {
	return &Engine{
		db:            database,
		store:         st,
		renderer:      renderer,
		events:        events,
		log:           log,
		locationLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockLocation serialises queue mutations per location so job numbers and
// queue positions stay unique.
func (e *Engine) lockLocation(locationID uuid.UUID) func() {
	e.mu.Lock()
	lock, ok := e.locationLocks[locationID]
	if !ok {
		lock = &sync.Mutex{}
		e.locationLocks[locationID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

const insertJob = `
	INSERT INTO print_jobs (
		id, job_number, status, priority, queue_position, person_id,
		location_id, primary_application_id, application_ids, card_number,
		card_template, license_data, person_data, parent_job_id,
		reprint_reason, reprint_count, submitted_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateJob registers a new card print job at the tail of its location
// queue and renders the card artifacts. A render failure does not fail the
// creation; the job stays queued and rendering is retried on demand.
func (e *Engine) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := e.lockLocation(req.LocationID)
	defer unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	jobNumber, err := e.nextJobNumber(ctx, tx, req.LocationID, now)
	if err != nil {
		return nil, err
	}

	var position int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(queue_position), 0) + 1 FROM print_jobs WHERE location_id = ? AND status = ?`,
		req.LocationID, StatusQueued,
	).Scan(&position)
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue position: %w", err)
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	template := req.CardTemplate
	if template == "" {
		template = "STANDARD"
	}

	appList := append([]uuid.UUID{req.PrimaryApplicationID}, req.AdditionalApplicationIDs...)
	appIDs, err := json.Marshal(appList)
	if err != nil {
		return nil, fmt.Errorf("failed to encode application ids: %w", err)
	}

	jobID := uuid.New()
	var parentID uuid.NullUUID

	_, err = tx.ExecContext(ctx, insertJob,
		jobID, jobNumber, StatusQueued, priority, position, req.PersonID,
		req.LocationID, req.PrimaryApplicationID, string(appIDs),
		req.CardNumber, template, string(req.LicenseData),
		string(req.PersonData), parentID, "", 0, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	var createdBy *uuid.UUID
	if req.CreatedBy != uuid.Nil {
		createdBy = &req.CreatedBy
	}
	if err := insertHistory(ctx, tx, jobID, "", StatusQueued, createdBy, "print job created"); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, db.UpsertLocationQueue, req.LocationID); err != nil {
		return nil, fmt.Errorf("failed to touch location queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job: %w", err)
	}

	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := e.generateFiles(ctx, job); err != nil {
		e.log.Warn("card rendering failed, job stays queued",
			"job_id", jobID, "error", err)
	} else {
		job, err = e.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}

	e.sendEvent("job_queued", job)
	return job, nil
}

// nextJobNumber builds PJ{YYYYMMDD}{location code}{sequence}. The sequence
// restarts each day per location.
func (e *Engine) nextJobNumber(ctx context.Context, tx *sql.Tx, locationID uuid.UUID, now time.Time) (string, error) {
	prefix := "PJ" + now.Format("20060102") + locationCode(locationID)

	var last string
	err := tx.QueryRowContext(ctx,
		`SELECT job_number FROM print_jobs WHERE job_number LIKE ? ORDER BY job_number DESC LIMIT 1`,
		prefix+"%",
	).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to query last job number: %w", err)
	}

	seq := 1
	if last != "" {
		n, err := strconv.Atoi(last[len(prefix):])
		if err != nil {
			return "", fmt.Errorf("failed to parse job number %q: %w", last, err)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s%03d", prefix, seq), nil
}

func locationCode(locationID uuid.UUID) string {
	hex := strings.ToUpper(strings.ReplaceAll(locationID.String(), "-", ""))
	return hex[:6]
}

// EnsureFiles renders the card artifacts if they are not on disk yet. Jobs
// whose files were already destroyed after quality assurance are gone for
// good and are never re-rendered.
func (e *Engine) EnsureFiles(ctx context.Context, job *Job) error {
	if job.FilesDeletedAfterQA || job.Status == StatusCompleted {
		return ErrGone
	}
	if job.FilesGenerated && e.store.VerifyPresent(job.ID, job.CreatedAt) {
		return nil
	}
	return e.generateFiles(ctx, job)
}

func (e *Engine) generateFiles(ctx context.Context, job *Job) error {
	data := render.CardData{
		JobNumber:  job.JobNumber,
		CardNumber: job.CardNumber,
		Template:   job.CardTemplate,
		Person:     decodeStringMap(job.PersonData),
		Licenses:   decodeStringMaps(job.LicenseData),
	}

	artifacts, err := e.renderer.Render(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	paths := make(map[store.ArtifactKind]string, 5)
	for kind, payload := range map[store.ArtifactKind][]byte{
		store.ArtifactFrontImage:  artifacts.FrontPNG,
		store.ArtifactBackImage:   artifacts.BackPNG,
		store.ArtifactFrontPDF:    artifacts.FrontPDF,
		store.ArtifactBackPDF:     artifacts.BackPDF,
		store.ArtifactCombinedPDF: artifacts.CombinedPDF,
	} {
		path, err := e.store.Save(job.ID, job.CreatedAt, kind, payload)
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", kind, err)
		}
		paths[kind] = path
	}

	_, err = e.db.ExecContext(ctx,
		`UPDATE print_jobs SET files_generated = 1, front_image_path = ?,
			back_image_path = ?, front_pdf_path = ?, back_pdf_path = ?,
			combined_pdf_path = ? WHERE id = ?`,
		paths[store.ArtifactFrontImage], paths[store.ArtifactBackImage],
		paths[store.ArtifactFrontPDF], paths[store.ArtifactBackPDF],
		paths[store.ArtifactCombinedPDF], job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record file paths: %w", err)
	}

	job.FilesGenerated = true
	job.FrontImagePath = paths[store.ArtifactFrontImage]
	job.BackImagePath = paths[store.ArtifactBackImage]
	job.FrontPDFPath = paths[store.ArtifactFrontPDF]
	job.BackPDFPath = paths[store.ArtifactBackPDF]
	job.CombinedPDFPath = paths[store.ArtifactCombinedPDF]
	return nil
}

// RetrieveArtifact returns the bytes of one card artifact. Completed jobs
// (or ones whose files were destroyed) report gone rather than missing, so
// callers can tell "never existed" apart from "destroyed after QA".
func (e *Engine) RetrieveArtifact(ctx context.Context, jobID uuid.UUID, kind store.ArtifactKind) ([]byte, error) {
	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.FilesDeletedAfterQA || job.Status == StatusCompleted {
		return nil, ErrGone
	}
	if err := e.EnsureFiles(ctx, job); err != nil {
		return nil, err
	}
	data, err := e.store.Retrieve(job.ID, job.CreatedAt, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Assign hands the next job to a print operator. The status update is a
// compare-and-set on QUEUED, so two operators racing for the same job get
// exactly one winner.
func (e *Engine) Assign(ctx context.Context, jobID, operatorID uuid.UUID) (*Job, error) {
	now := time.Now().UTC()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, assigned_to = ?, assigned_at = ?,
			queue_position = NULL
		 WHERE id = ? AND status = ?`,
		StatusAssigned, operatorID, now, jobID, StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assign job: %w", err)
	}
	if err := e.requireTransition(ctx, tx, res, jobID, StatusAssigned); err != nil {
		return nil, err
	}

	if err := insertHistory(ctx, tx, jobID, StatusQueued, StatusAssigned, &operatorID, "assigned to operator"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.sendEvent("job_assigned", job)
	return job, nil
}

// StartPrinting moves an assigned job to PRINTING. Artifacts are rendered
// first if the earlier attempt failed, so the operator never prints blind.
func (e *Engine) StartPrinting(ctx context.Context, jobID, operatorID uuid.UUID) (*Job, error) {
	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusAssigned {
		return nil, &InvalidTransitionError{Current: job.Status, Requested: StatusPrinting}
	}
	if err := e.EnsureFiles(ctx, job); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, printing_started_at = ? WHERE id = ? AND status = ?`,
		StatusPrinting, now, jobID, StatusAssigned,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start printing: %w", err)
	}
	if err := e.requireTransition(ctx, tx, res, jobID, StatusPrinting); err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, jobID, StatusAssigned, StatusPrinting, &operatorID, "printing started"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	job, err = e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.sendEvent("printing_started", job)
	return job, nil
}

// CompletePrinting marks the physical print as done, ready for quality
// assurance.
func (e *Engine) CompletePrinting(ctx context.Context, jobID, operatorID uuid.UUID) (*Job, error) {
	now := time.Now().UTC()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, printing_completed_at = ? WHERE id = ? AND status = ?`,
		StatusPrinted, now, jobID, StatusPrinting,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete printing: %w", err)
	}
	if err := e.requireTransition(ctx, tx, res, jobID, StatusPrinted); err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, jobID, StatusPrinting, StatusPrinted, &operatorID, "printing completed"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.sendEvent("printing_completed", job)
	return job, nil
}

// StartQualityCheck begins the inspection of a printed card.
func (e *Engine) StartQualityCheck(ctx context.Context, jobID, operatorID uuid.UUID) (*Job, error) {
	now := time.Now().UTC()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, quality_check_started_at = ?,
			quality_check_by = ? WHERE id = ? AND status = ?`,
		StatusQualityCheck, now, operatorID, jobID, StatusPrinted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start quality check: %w", err)
	}
	if err := e.requireTransition(ctx, tx, res, jobID, StatusQualityCheck); err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, jobID, StatusPrinted, StatusQualityCheck, &operatorID, "quality check started"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteQualityCheck records the inspection verdict. A pass completes the
// job and destroys its artifacts; the completion is committed before any
// file is touched, so a crash mid-cleanup leaves a completed job for the
// reconciliation sweep rather than a half-done one. A failure spawns a
// reprint job in the same transaction as the verdict.
func (e *Engine) CompleteQualityCheck(ctx context.Context, jobID uuid.UUID, result QAResult, notes string, operatorID uuid.UUID) (*Job, *Job, error) {
	if !result.Valid() {
		return nil, nil, fmt.Errorf("unknown quality check result %q", result)
	}

	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusQualityCheck {
		final := StatusCompleted
		if result.Failed() {
			final = StatusReprintRequired
		}
		return nil, nil, &InvalidTransitionError{Current: job.Status, Requested: final}
	}

	if result == QAPassed {
		job, err = e.passQualityCheck(ctx, job, notes, operatorID)
		return job, nil, err
	}
	return e.failQualityCheck(ctx, job, result, notes, operatorID)
}

func (e *Engine) passQualityCheck(ctx context.Context, job *Job, notes string, operatorID uuid.UUID) (*Job, error) {
	now := time.Now().UTC()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, quality_check_completed_at = ?,
			quality_check_result = ?, quality_check_notes = ?,
			quality_check_by = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		StatusCompleted, now, QAPassed, notes, operatorID, now,
		job.ID, StatusQualityCheck,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}
	if err := e.requireTransition(ctx, tx, res, job.ID, StatusCompleted); err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, job.ID, StatusQualityCheck, StatusCompleted, &operatorID, "quality check passed"); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, db.IncrementJobsProcessed, job.LocationID); err != nil {
		return nil, fmt.Errorf("failed to bump processed counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}

	job, err = e.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	e.sendEvent("qa_passed", job)

	// Completion is durable at this point; cleanup failures only flag the
	// job for the reconciliation sweep.
	if err := e.CleanupFiles(ctx, job); err != nil {
		e.log.Error("post-completion cleanup incomplete, flagged for sweep",
			"job_id", job.ID, "error", err)
	}

	return e.GetJob(ctx, job.ID)
}

func (e *Engine) failQualityCheck(ctx context.Context, job *Job, result QAResult, notes string, operatorID uuid.UUID) (*Job, *Job, error) {
	unlock := e.lockLocation(job.LocationID)
	defer unlock()

	now := time.Now().UTC()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, quality_check_completed_at = ?,
			quality_check_result = ?, quality_check_notes = ?,
			quality_check_by = ?
		 WHERE id = ? AND status = ?`,
		StatusReprintRequired, now, result, notes, operatorID,
		job.ID, StatusQualityCheck,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record quality failure: %w", err)
	}
	if err := e.requireTransition(ctx, tx, res, job.ID, StatusReprintRequired); err != nil {
		return nil, nil, err
	}
	if err := insertHistory(ctx, tx, job.ID, StatusQualityCheck, StatusReprintRequired, &operatorID,
		fmt.Sprintf("quality check failed: %s", result)); err != nil {
		return nil, nil, err
	}

	child, err := e.spawnReprint(ctx, tx, job, result, notes, &operatorID, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit quality failure: %w", err)
	}

	parent, err := e.GetJob(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	childJob, err := e.GetJob(ctx, child)
	if err != nil {
		return nil, nil, err
	}

	e.sendEvent("qa_failed", parent)
	e.sendEvent("reprint_created", childJob)

	if err := e.generateFiles(ctx, childJob); err != nil {
		e.log.Warn("reprint rendering failed, job stays queued",
			"job_id", childJob.ID, "error", err)
	} else {
		childJob, err = e.GetJob(ctx, childJob.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	return parent, childJob, nil
}

// spawnReprint inserts the replacement job at the tail of the queue with the
// priority the failure reason calls for. Caller holds the location lock and
// the transaction.
func (e *Engine) spawnReprint(ctx context.Context, tx *sql.Tx, parent *Job, result QAResult, notes string, operatorID *uuid.UUID, now time.Time) (uuid.UUID, error) {
	jobNumber, err := e.nextJobNumber(ctx, tx, parent.LocationID, now)
	if err != nil {
		return uuid.Nil, err
	}

	var position int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(queue_position), 0) + 1 FROM print_jobs WHERE location_id = ? AND status = ?`,
		parent.LocationID, StatusQueued,
	).Scan(&position)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to compute queue position: %w", err)
	}

	appIDs, err := json.Marshal(parent.ApplicationIDs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode application ids: %w", err)
	}

	childID := uuid.New()
	reason := fmt.Sprintf("quality check failed: %s", result)
	if notes != "" {
		reason += " - " + notes
	}

	_, err = tx.ExecContext(ctx, insertJob,
		childID, jobNumber, StatusQueued, result.ReprintPriority(), position,
		parent.PersonID, parent.LocationID, parent.PrimaryApplicationID,
		string(appIDs), parent.CardNumber, parent.CardTemplate,
		string(parent.LicenseData), string(parent.PersonData),
		uuid.NullUUID{UUID: parent.ID, Valid: true},
		reason, parent.ReprintCount+1, now, now,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert reprint job: %w", err)
	}

	if err := insertHistory(ctx, tx, childID, "", StatusQueued, operatorID,
		fmt.Sprintf("reprint of %s", parent.JobNumber)); err != nil {
		return uuid.Nil, err
	}
	if _, err := tx.ExecContext(ctx, db.UpsertLocationQueue, parent.LocationID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to touch location queue: %w", err)
	}
	return childID, nil
}

// CleanupFiles destroys the artifacts of a completed job and records the
// destruction on the job row. A failed delete or a directory that survives
// deletion flags the job for manual attention and the reconciliation sweep.
func (e *Engine) CleanupFiles(ctx context.Context, job *Job) error {
	result, err := e.store.DeleteAll(job.ID, job.CreatedAt)
	if err != nil {
		e.flagManualCleanup(ctx, job.ID)
		return &CleanupIncompleteError{JobID: job.ID.String(), Cause: err}
	}
	if !e.store.VerifyRemoved(job.ID, job.CreatedAt) {
		e.flagManualCleanup(ctx, job.ID)
		return &CleanupIncompleteError{JobID: job.ID.String(), Cause: errFilesStillPresent}
	}

	now := time.Now().UTC()
	_, err = e.db.ExecContext(ctx,
		`UPDATE print_jobs SET files_deleted_after_qa = 1, files_deleted_at = ?,
			files_bytes_freed = ?, manual_cleanup_needed = 0 WHERE id = ?`,
		now, result.BytesFreed, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record cleanup: %w", err)
	}

	e.log.Info("card files destroyed",
		"job_id", job.ID,
		"files_deleted", result.FilesDeleted,
		"bytes_freed", result.BytesFreed,
		"dirs_pruned", result.EmptyDirsPruned)
	e.sendEvent("cleanup_completed", job)
	return nil
}

var errFilesStillPresent = errors.New("job directory still present after delete")

func (e *Engine) flagManualCleanup(ctx context.Context, jobID uuid.UUID) {
	if _, err := e.db.ExecContext(ctx,
		`UPDATE print_jobs SET manual_cleanup_needed = 1 WHERE id = ?`, jobID); err != nil {
		e.log.Error("failed to flag job for manual cleanup", "job_id", jobID, "error", err)
	}
}

// Cancel withdraws a job that has not reached the printer yet.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID, operatorID uuid.UUID, reason string) (*Job, error) {
	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusQueued && job.Status != StatusAssigned {
		return nil, &InvalidTransitionError{Current: job.Status, Requested: StatusCancelled}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, queue_position = NULL WHERE id = ? AND status = ?`,
		StatusCancelled, jobID, job.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	if err := e.requireTransition(ctx, tx, res, jobID, StatusCancelled); err != nil {
		return nil, err
	}
	note := "cancelled"
	if reason != "" {
		note = "cancelled: " + reason
	}
	if err := insertHistory(ctx, tx, jobID, job.Status, StatusCancelled, &operatorID, note); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return e.GetJob(ctx, jobID)
}

// requireTransition inspects a compare-and-set result and translates a miss
// into the right domain error based on the job's actual state. The refetch
// goes through the open transaction; a separate connection would block
// behind it.
func (e *Engine) requireTransition(ctx context.Context, tx *sql.Tx, res sql.Result, jobID uuid.UUID, requested Status) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect update: %w", err)
	}
	if rows > 0 {
		return nil
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query job: %w", err)
	}
	if requested == StatusAssigned && job.Status == StatusAssigned {
		return ErrAlreadyAssigned
	}
	return &InvalidTransitionError{Current: job.Status, Requested: requested}
}

func insertHistory(ctx context.Context, tx *sql.Tx, jobID uuid.UUID, from, to Status, operatorID *uuid.UUID, notes string) error {
	var changedBy uuid.NullUUID
	if operatorID != nil {
		changedBy = uuid.NullUUID{UUID: *operatorID, Valid: true}
	}
	var fromStatus sql.NullString
	if from != "" {
		fromStatus = sql.NullString{String: string(from), Valid: true}
	}
	_, err := tx.ExecContext(ctx, db.InsertStatusHistory,
		jobID, fromStatus, string(to), changedBy, notes)
	if err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}
	return nil
}

func (e *Engine) sendEvent(event string, job *Job) {
	if e.events == nil {
		return
	}
	e.events.SendJobEvent(event, job)
}

func decodeStringMap(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		out[k] = stringify(v)
	}
	return out
}

func decodeStringMaps(raw json.RawMessage) []map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var generic []map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	out := make([]map[string]string, 0, len(generic))
	for _, entry := range generic {
		m := make(map[string]string, len(entry))
		for k, v := range entry {
			m[k] = stringify(v)
		}
		out = append(out, m)
	}
	return out
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
