package db

var allMigrations = []Migration{
	{
		Version: "001_initial",
		SQL: `
			CREATE TABLE IF NOT EXISTS print_jobs (
				id TEXT PRIMARY KEY,
				job_number TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL,
				priority TEXT NOT NULL DEFAULT 'NORMAL',
				queue_position INTEGER,
				person_id TEXT NOT NULL,
				location_id TEXT NOT NULL,
				primary_application_id TEXT NOT NULL,
				application_ids TEXT NOT NULL DEFAULT '[]',
				card_number TEXT NOT NULL,
				card_template TEXT NOT NULL DEFAULT 'STANDARD',
				license_data TEXT NOT NULL,
				person_data TEXT NOT NULL,
				assigned_to TEXT,
				submitted_at DATETIME NOT NULL,
				assigned_at DATETIME,
				printing_started_at DATETIME,
				printing_completed_at DATETIME,
				quality_check_started_at DATETIME,
				quality_check_completed_at DATETIME,
				quality_check_result TEXT,
				quality_check_notes TEXT NOT NULL DEFAULT '',
				quality_check_by TEXT,
				parent_job_id TEXT REFERENCES print_jobs(id),
				reprint_reason TEXT NOT NULL DEFAULT '',
				reprint_count INTEGER NOT NULL DEFAULT 0,
				files_generated INTEGER NOT NULL DEFAULT 0,
				files_deleted_after_qa INTEGER NOT NULL DEFAULT 0,
				files_deleted_at DATETIME,
				files_bytes_freed INTEGER NOT NULL DEFAULT 0,
				manual_cleanup_needed INTEGER NOT NULL DEFAULT 0,
				front_image_path TEXT NOT NULL DEFAULT '',
				back_image_path TEXT NOT NULL DEFAULT '',
				front_pdf_path TEXT NOT NULL DEFAULT '',
				back_pdf_path TEXT NOT NULL DEFAULT '',
				combined_pdf_path TEXT NOT NULL DEFAULT '',
				completed_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_print_jobs_location_status
				ON print_jobs(location_id, status, queue_position);
			CREATE INDEX IF NOT EXISTS idx_print_jobs_person_status
				ON print_jobs(person_id, status);
			CREATE INDEX IF NOT EXISTS idx_print_jobs_parent
				ON print_jobs(parent_job_id);

			CREATE TABLE IF NOT EXISTS print_job_status_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_id TEXT NOT NULL REFERENCES print_jobs(id),
				from_status TEXT,
				to_status TEXT NOT NULL,
				changed_by TEXT,
				change_reason TEXT NOT NULL DEFAULT '',
				changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_status_history_job
				ON print_job_status_history(job_id);

			CREATE TABLE IF NOT EXISTS location_queues (
				location_id TEXT PRIMARY KEY,
				jobs_processed INTEGER NOT NULL DEFAULT 0,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS operators (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS webhooks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				url TEXT NOT NULL,
				secret TEXT NOT NULL DEFAULT '',
				events_json TEXT NOT NULL DEFAULT '[]',
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}
