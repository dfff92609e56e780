package db

import (
	"time"

	"github.com/google/uuid"
)

type Operator struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type StatusHistoryEntry struct {
	ID           int64      `json:"id"`
	JobID        uuid.UUID  `json:"job_id"`
	FromStatus   *string    `json:"from_status,omitempty"`
	ToStatus     string     `json:"to_status"`
	ChangedBy    *uuid.UUID `json:"changed_by,omitempty"`
	ChangeReason string     `json:"change_reason"`
	ChangedAt    time.Time  `json:"changed_at"`
}

type LocationQueue struct {
	LocationID    uuid.UUID `json:"location_id"`
	JobsProcessed int64     `json:"jobs_processed"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
