package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued          Status = "QUEUED"
	StatusAssigned        Status = "ASSIGNED"
	StatusPrinting        Status = "PRINTING"
	StatusPrinted         Status = "PRINTED"
	StatusQualityCheck    Status = "QUALITY_CHECK"
	StatusCompleted       Status = "COMPLETED"
	StatusReprintRequired Status = "REPRINT_REQUIRED"
	StatusCancelled       Status = "CANCELLED"
)

// validTransitions lists the allowed edges of the job workflow. Anything
// not listed fails with InvalidTransitionError.
var validTransitions = map[Status][]Status{
	StatusQueued:       {StatusAssigned, StatusCancelled},
	StatusAssigned:     {StatusPrinting, StatusCancelled},
	StatusPrinting:     {StatusPrinted},
	StatusPrinted:      {StatusQualityCheck},
	StatusQualityCheck: {StatusCompleted, StatusReprintRequired},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further workflow transition is possible.
// REPRINT_REQUIRED is terminal for this job; production continues on the
// spawned reprint job.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusReprintRequired, StatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type QAResult string

const (
	QAPassed         QAResult = "PASSED"
	QAFailedPrinting QAResult = "FAILED_PRINTING"
	QAFailedData     QAResult = "FAILED_DATA"
	QAFailedDamage   QAResult = "FAILED_DAMAGE"
)

func (r QAResult) Valid() bool {
	switch r {
	case QAPassed, QAFailedPrinting, QAFailedData, QAFailedDamage:
		return true
	}
	return false
}

func (r QAResult) Failed() bool {
	return r.Valid() && r != QAPassed
}

// ReprintPriority is the priority assigned to the reprint job spawned by a
// failed quality check. Physical damage during production jumps the queue
// harder than print or data defects.
func (r QAResult) ReprintPriority() Priority {
	if r == QAFailedDamage {
		return PriorityUrgent
	}
	return PriorityHigh
}

type Job struct {
	ID                   uuid.UUID       `json:"id"`
	JobNumber            string          `json:"job_number"`
	Status               Status          `json:"status"`
	Priority             Priority        `json:"priority"`
	QueuePosition        *int            `json:"queue_position,omitempty"`
	PersonID             uuid.UUID       `json:"person_id"`
	LocationID           uuid.UUID       `json:"location_id"`
	PrimaryApplicationID uuid.UUID       `json:"primary_application_id"`
	ApplicationIDs       []uuid.UUID     `json:"application_ids"`
	CardNumber           string          `json:"card_number"`
	CardTemplate         string          `json:"card_template"`
	LicenseData          json.RawMessage `json:"license_data"`
	PersonData           json.RawMessage `json:"person_data"`

	AssignedTo          *uuid.UUID `json:"assigned_to,omitempty"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	AssignedAt          *time.Time `json:"assigned_at,omitempty"`
	PrintingStartedAt   *time.Time `json:"printing_started_at,omitempty"`
	PrintingCompletedAt *time.Time `json:"printing_completed_at,omitempty"`

	QualityCheckStartedAt   *time.Time `json:"quality_check_started_at,omitempty"`
	QualityCheckCompletedAt *time.Time `json:"quality_check_completed_at,omitempty"`
	QualityCheckResult      *QAResult  `json:"quality_check_result,omitempty"`
	QualityCheckNotes       string     `json:"quality_check_notes,omitempty"`
	QualityCheckBy          *uuid.UUID `json:"quality_check_by,omitempty"`

	ParentJobID   *uuid.UUID `json:"parent_job_id,omitempty"`
	ReprintReason string     `json:"reprint_reason,omitempty"`
	ReprintCount  int        `json:"reprint_count"`

	FilesGenerated      bool       `json:"files_generated"`
	FilesDeletedAfterQA bool       `json:"files_deleted_after_qa"`
	FilesDeletedAt      *time.Time `json:"files_deleted_at,omitempty"`
	FilesBytesFreed     int64      `json:"files_bytes_freed"`
	ManualCleanupNeeded bool       `json:"manual_cleanup_needed"`

	FrontImagePath  string `json:"front_image_path,omitempty"`
	BackImagePath   string `json:"back_image_path,omitempty"`
	FrontPDFPath    string `json:"front_pdf_path,omitempty"`
	BackPDFPath     string `json:"back_pdf_path,omitempty"`
	CombinedPDFPath string `json:"combined_pdf_path,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateJobRequest carries everything the applications module supplies when
// it orders a card. License and person data are snapshots: later edits to
// the person or application never touch a queued job.
type CreateJobRequest struct {
	PersonID                 uuid.UUID
	LocationID               uuid.UUID
	PrimaryApplicationID     uuid.UUID
	AdditionalApplicationIDs []uuid.UUID
	CardNumber               string
	CardTemplate             string
	Priority                 Priority
	LicenseData              json.RawMessage
	PersonData               json.RawMessage
	CreatedBy                uuid.UUID
}

func (r CreateJobRequest) Validate() error {
	if r.PersonID == uuid.Nil {
		return errors.New("person_id is required")
	}
	if r.LocationID == uuid.Nil {
		return errors.New("location_id is required")
	}
	if r.PrimaryApplicationID == uuid.Nil {
		return errors.New("primary_application_id is required")
	}
	if r.CardNumber == "" {
		return errors.New("card_number is required")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", r.Priority)
	}
	if len(r.LicenseData) > 0 && !json.Valid(r.LicenseData) {
		return errors.New("license_data is not valid JSON")
	}
	if len(r.PersonData) > 0 && !json.Valid(r.PersonData) {
		return errors.New("person_data is not valid JSON")
	}
	return nil
}

// EventSink receives job lifecycle notifications. The webhook sender
// implements it; tests use a recorder.
type EventSink interface {
	SendJobEvent(event string, job *Job)
}
