package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type OperatorOperations struct{}

func (o *OperatorOperations) CreateOperator(ctx context.Context, op *Operator) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	_, err := GetDB().ExecContext(ctx, InsertOperator,
		op.ID, op.Username, op.PasswordHash, op.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}
	return nil
}

func (o *OperatorOperations) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	op := &Operator{}
	err := GetDB().QueryRowContext(ctx, GetOperatorByUsername, username).Scan(
		&op.ID, &op.Username, &op.PasswordHash, &op.DisplayName, &op.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return op, nil
}

func (o *OperatorOperations) GetOperatorByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	op := &Operator{}
	err := GetDB().QueryRowContext(ctx, GetOperatorByID, id).Scan(
		&op.ID, &op.Username, &op.PasswordHash, &op.DisplayName, &op.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return op, nil
}

func (o *OperatorOperations) CountOperators(ctx context.Context) (int, error) {
	var count int
	if err := GetDB().QueryRowContext(ctx, CountOperators).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count operators: %w", err)
	}
	return count, nil
}

type HistoryOperations struct{}

func (o *HistoryOperations) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*StatusHistoryEntry, error) {
	rows, err := GetDB().QueryContext(ctx, ListStatusHistoryByJob, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var entries []*StatusHistoryEntry
	for rows.Next() {
		e := &StatusHistoryEntry{}
		var fromStatus sql.NullString
		var changedBy uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.JobID, &fromStatus, &e.ToStatus,
			&changedBy, &e.ChangeReason, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		if fromStatus.Valid {
			e.FromStatus = &fromStatus.String
		}
		if changedBy.Valid {
			e.ChangedBy = &changedBy.UUID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type LocationQueueOperations struct{}

func (o *LocationQueueOperations) Get(ctx context.Context, locationID uuid.UUID) (*LocationQueue, error) {
	q := &LocationQueue{}
	err := GetDB().QueryRowContext(ctx, GetLocationQueue, locationID).Scan(
		&q.LocationID, &q.JobsProcessed, &q.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get location queue: %w", err)
	}
	return q, nil
}

type WebhookOperations struct{}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	result, err := GetDB().ExecContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w := &Webhook{}
	var enabled int
	err := GetDB().QueryRowContext(ctx, GetWebhookByID, id).Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &enabled, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook %d: %w", id, err)
	}
	w.Enabled = enabled != 0
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (o *WebhookOperations) ListWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, ListWebhooksForEvent, "%\""+event+"\"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	_, err := GetDB().ExecContext(ctx, UpdateWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		var enabled int
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Secret,
			&w.EventsJSON, &enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		w.Enabled = enabled != 0
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

type SettingOperations struct{}

func (o *SettingOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingOperations) SetSetting(ctx context.Context, key, value string) error {
	_, err := GetDB().ExecContext(ctx, SetSetting, key, value, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

var (
	Operators      = &OperatorOperations{}
	History        = &HistoryOperations{}
	LocationQueues = &LocationQueueOperations{}
	Webhooks       = &WebhookOperations{}
	Settings       = &SettingOperations{}
)
