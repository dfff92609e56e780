package db

const (
	InsertStatusHistory = `
		INSERT INTO print_job_status_history (job_id, from_status, to_status, changed_by, change_reason)
		VALUES (?, ?, ?, ?, ?)
	`

	ListStatusHistoryByJob = `
		SELECT id, job_id, from_status, to_status, changed_by, change_reason, changed_at
		FROM print_job_status_history WHERE job_id = ? ORDER BY changed_at ASC, id ASC
	`
)

const (
	UpsertLocationQueue = `
		INSERT INTO location_queues (location_id, jobs_processed, updated_at)
		VALUES (?, 0, CURRENT_TIMESTAMP)
		ON CONFLICT(location_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`

	IncrementJobsProcessed = `
		INSERT INTO location_queues (location_id, jobs_processed, updated_at)
		VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(location_id) DO UPDATE SET
			jobs_processed = jobs_processed + 1, updated_at = CURRENT_TIMESTAMP
	`

	GetLocationQueue = `
		SELECT location_id, jobs_processed, updated_at
		FROM location_queues WHERE location_id = ?
	`
)

const (
	InsertOperator = `
		INSERT INTO operators (id, username, password_hash, display_name)
		VALUES (?, ?, ?, ?)
	`

	GetOperatorByUsername = `
		SELECT id, username, password_hash, display_name, created_at
		FROM operators WHERE username = ?
	`

	GetOperatorByID = `
		SELECT id, username, password_hash, display_name, created_at
		FROM operators WHERE id = ?
	`

	CountOperators = `SELECT COUNT(*) FROM operators`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)
