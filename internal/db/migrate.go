package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migrate runs all schema migrations in order. Statements are idempotent
// (CREATE IF NOT EXISTS) except ALTER TABLE additions, whose duplicate
// column errors are tolerated on re-run.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS programs (
		id                       TEXT PRIMARY KEY,
		external_id              TEXT NOT NULL,
		name                     TEXT NOT NULL,
		status                   TEXT NOT NULL DEFAULT 'active'
		                         CHECK(status IN ('active','on_hold','completed','cancelled')),
		baseline_start           TEXT,
		baseline_end             TEXT,
		pm_resource_id           TEXT,
		secondary_pm_resource_id TEXT,
		created_at               TEXT NOT NULL,
		updated_at               TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_programs_external ON programs(external_id)`,

	`CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		program_id  TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		name        TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		UNIQUE(program_id, external_id)
	)`,

	`CREATE TABLE IF NOT EXISTS phases (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		name        TEXT NOT NULL,
		sequence    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		UNIQUE(project_id, external_id)
	)`,

	`CREATE TABLE IF NOT EXISTS resources (
		id                  TEXT PRIMARY KEY,
		external_id         TEXT NOT NULL,
		name                TEXT NOT NULL,
		primary_email       TEXT NOT NULL DEFAULT '',
		notification_email  TEXT NOT NULL DEFAULT '',
		role                TEXT NOT NULL DEFAULT '',
		backup_resource_id  TEXT,
		manager_id          TEXT,
		availability_status TEXT NOT NULL DEFAULT 'active'
		                    CHECK(availability_status IN ('active','on_leave','unavailable','partial')),
		leave_start         TEXT,
		leave_end           TEXT,
		timezone            TEXT NOT NULL DEFAULT 'UTC',
		max_utilization     REAL NOT NULL DEFAULT 100,
		chat_user_id        TEXT NOT NULL DEFAULT '',
		country             TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_resources_external ON resources(external_id)`,

	`CREATE TABLE IF NOT EXISTS work_items (
		id                   TEXT PRIMARY KEY,
		phase_id             TEXT NOT NULL REFERENCES phases(id) ON DELETE CASCADE,
		external_id          TEXT NOT NULL,
		name                 TEXT NOT NULL,
		planned_start        TEXT NOT NULL,
		planned_end          TEXT NOT NULL,
		planned_effort_hrs   REAL NOT NULL DEFAULT 0,
		allocation_percent   REAL NOT NULL DEFAULT 100,
		current_start        TEXT NOT NULL,
		current_end          TEXT NOT NULL,
		actual_start         TEXT,
		actual_end           TEXT,
		status               TEXT NOT NULL DEFAULT 'not_started'
		                     CHECK(status IN ('not_started','in_progress','completed','on_hold','cancelled')),
		completion_percent   REAL NOT NULL DEFAULT 0,
		resource_id          TEXT REFERENCES resources(id),
		is_critical_path     INTEGER NOT NULL DEFAULT 0,
		slack_days           INTEGER NOT NULL DEFAULT 0,
		flag_for_review      INTEGER NOT NULL DEFAULT 0,
		review_message       TEXT NOT NULL DEFAULT '',
		cancellation_reason  TEXT NOT NULL DEFAULT '',
		complexity           TEXT NOT NULL DEFAULT '',
		revenue_impact       REAL NOT NULL DEFAULT 0,
		strategic_importance INTEGER NOT NULL DEFAULT 0,
		customer_impact      TEXT NOT NULL DEFAULT '',
		is_critical_launch   INTEGER NOT NULL DEFAULT 0,
		feature_name         TEXT NOT NULL DEFAULT '',
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL,
		UNIQUE(phase_id, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_phase ON work_items(phase_id)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_current_end ON work_items(current_end)`,

	`CREATE TABLE IF NOT EXISTS dependencies (
		successor_id   TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
		predecessor_id TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
		dep_type       TEXT NOT NULL DEFAULT 'FS' CHECK(dep_type IN ('FS','SS','FF','SF')),
		lag_days       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (successor_id, predecessor_id)
	)`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id                    TEXT PRIMARY KEY,
		work_item_id          TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
		deadline_date         TEXT NOT NULL,
		intended_recipient_id TEXT,
		actual_recipient_id   TEXT,
		recipient_email       TEXT NOT NULL DEFAULT '',
		alert_type            TEXT NOT NULL,
		escalation_level      INTEGER NOT NULL DEFAULT 0,
		urgency               TEXT NOT NULL DEFAULT 'normal',
		status                TEXT NOT NULL DEFAULT 'pending'
		                      CHECK(status IN ('pending','sent','delivered','opened','responded','expired','cancelled')),
		scheduled_send_at     TEXT,
		sent_at               TEXT,
		responded_at          TEXT,
		expires_at            TEXT,
		escalation_timeout_at TEXT,
		parent_alert_id       TEXT,
		escalation_reason     TEXT NOT NULL DEFAULT '',
		metadata              TEXT NOT NULL DEFAULT '',
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL
	)`,
	// At most one in-flight alert per (work item, deadline, type, level).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_inflight
		ON alerts(work_item_id, deadline_date, alert_type, escalation_level)
		WHERE status IN ('pending','sent','delivered','opened')`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_timeout ON alerts(escalation_timeout_at)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,

	`CREATE TABLE IF NOT EXISTS response_tokens (
		id                  TEXT PRIMARY KEY,
		token_hash          TEXT NOT NULL,
		work_item_id        TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
		resource_id         TEXT NOT NULL,
		alert_id            TEXT,
		expires_at          TEXT NOT NULL,
		revoked             INTEGER NOT NULL DEFAULT 0,
		used_at             TEXT,
		used_by_response_id TEXT,
		created_at          TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_response_tokens_hash ON response_tokens(token_hash)`,

	`CREATE TABLE IF NOT EXISTS work_item_responses (
		id                             TEXT PRIMARY KEY,
		alert_id                       TEXT NOT NULL,
		work_item_id                   TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
		responder_id                   TEXT NOT NULL,
		token_id                       TEXT,
		reported_status                TEXT NOT NULL,
		proposed_new_date              TEXT,
		delay_days                     INTEGER NOT NULL DEFAULT 0,
		reason_category                TEXT NOT NULL DEFAULT '',
		reason_details                 TEXT NOT NULL DEFAULT '',
		comment                        TEXT NOT NULL DEFAULT '',
		response_version               INTEGER NOT NULL DEFAULT 1,
		is_latest                      INTEGER NOT NULL DEFAULT 1,
		superseded_by_response_version INTEGER,
		requires_approval              INTEGER NOT NULL DEFAULT 0,
		approval_status                TEXT NOT NULL DEFAULT 'not_required',
		approved_by                    TEXT,
		approved_at                    TEXT,
		rejection_reason               TEXT NOT NULL DEFAULT '',
		impact_analysis                TEXT NOT NULL DEFAULT '',
		submitted_at                   TEXT NOT NULL,
		idempotency_key                TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_responses_idem
		ON work_item_responses(idempotency_key) WHERE idempotency_key != ''`,
	// Exactly one latest response per work item.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_responses_latest
		ON work_item_responses(work_item_id) WHERE is_latest = 1`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id            TEXT PRIMARY KEY,
		entity_type   TEXT NOT NULL,
		entity_id     TEXT NOT NULL,
		action        TEXT NOT NULL,
		field_changed TEXT NOT NULL DEFAULT '',
		old_value     TEXT NOT NULL DEFAULT '',
		new_value     TEXT NOT NULL DEFAULT '',
		change_source TEXT NOT NULL DEFAULT '',
		batch_id      TEXT NOT NULL DEFAULT '',
		changed_by    TEXT NOT NULL DEFAULT '',
		reason        TEXT NOT NULL DEFAULT '',
		metadata      TEXT NOT NULL DEFAULT '',
		changed_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_batch ON audit_logs(batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs(entity_type, entity_id)`,

	`CREATE TABLE IF NOT EXISTS import_batches (
		id                  TEXT PRIMARY KEY,
		program_id          TEXT NOT NULL,
		file_name           TEXT NOT NULL DEFAULT '',
		file_hash           TEXT NOT NULL DEFAULT '',
		started_at          TEXT NOT NULL,
		completed_at        TEXT,
		status              TEXT NOT NULL DEFAULT 'running',
		summary             TEXT NOT NULL DEFAULT '',
		baseline_version_id TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS baseline_versions (
		id              TEXT PRIMARY KEY,
		program_id      TEXT NOT NULL,
		version_number  INTEGER NOT NULL,
		snapshot        TEXT NOT NULL DEFAULT '',
		total_items     INTEGER NOT NULL DEFAULT 0,
		reason          TEXT NOT NULL DEFAULT '',
		created_by      TEXT NOT NULL DEFAULT '',
		import_batch_id TEXT,
		created_at      TEXT NOT NULL,
		UNIQUE(program_id, version_number)
	)`,

	`CREATE TABLE IF NOT EXISTS holiday_calendar (
		id           TEXT PRIMARY KEY,
		holiday_date TEXT NOT NULL,
		country_code TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL DEFAULT '',
		UNIQUE(holiday_date, country_code)
	)`,

	`CREATE TABLE IF NOT EXISTS alert_queue (
		id              TEXT PRIMARY KEY,
		alert_id        TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		due_at          TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		sent_at         TEXT,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_queue_idem ON alert_queue(idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_queue_due ON alert_queue(due_at)`,

	`CREATE TABLE IF NOT EXISTS org_settings (
		id                        TEXT PRIMARY KEY DEFAULT 'default',
		default_pm_resource_id    TEXT,
		escalation_email_fallback TEXT NOT NULL DEFAULT ''
	)`,
	`INSERT OR IGNORE INTO org_settings (id) VALUES ('default')`,

	`CREATE TABLE IF NOT EXISTS escalation_policies (
		program_id                   TEXT PRIMARY KEY,
		days_before_deadline         INTEGER NOT NULL DEFAULT 1,
		alert_time_of_day            TEXT NOT NULL DEFAULT '09:00',
		timeout_hours_l0             REAL NOT NULL DEFAULT 4,
		timeout_hours_l1             REAL NOT NULL DEFAULT 4,
		timeout_hours_l2             REAL NOT NULL DEFAULT 2,
		timeout_hours_l3             REAL NOT NULL DEFAULT 0,
		auto_approve_delay_days      INTEGER NOT NULL DEFAULT 0,
		blocker_immediate_escalation INTEGER NOT NULL DEFAULT 1,
		reminder_after_hours         REAL NOT NULL DEFAULT 2
	)`,
}
