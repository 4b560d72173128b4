package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

// SQLiteSettingsRepo implements SettingsRepo over a DBTX. Org settings
// live in a single seeded row; escalation policies are keyed per program
// and fall back to the documented defaults when absent.
type SQLiteSettingsRepo struct {
	db db.DBTX
}

func NewSQLiteSettingsRepo(conn db.DBTX) *SQLiteSettingsRepo {
	return &SQLiteSettingsRepo{db: conn}
}

func (r *SQLiteSettingsRepo) Get(ctx context.Context) (*domain.OrgSettings, error) {
	var s domain.OrgSettings
	var pmStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT default_pm_resource_id, escalation_email_fallback
		FROM org_settings WHERE id = 'default'`).Scan(&pmStr, &s.EscalationEmailFallback)
	if err == sql.ErrNoRows {
		return &domain.OrgSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading org settings: %w", err)
	}
	s.DefaultPMResourceID = nullStringToPtr(pmStr)
	return &s, nil
}

func (r *SQLiteSettingsRepo) Update(ctx context.Context, s *domain.OrgSettings) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE org_settings SET default_pm_resource_id = ?, escalation_email_fallback = ?
		WHERE id = 'default'`,
		nullableStringToValue(s.DefaultPMResourceID), s.EscalationEmailFallback)
	if err != nil {
		return fmt.Errorf("updating org settings: %w", err)
	}
	return nil
}

func (r *SQLiteSettingsRepo) PolicyForProgram(ctx context.Context, programID string) (domain.EscalationPolicy, error) {
	var p domain.EscalationPolicy
	var blockerInt int
	err := r.db.QueryRowContext(ctx,
		`SELECT days_before_deadline, alert_time_of_day,
			timeout_hours_l0, timeout_hours_l1, timeout_hours_l2, timeout_hours_l3,
			auto_approve_delay_days, blocker_immediate_escalation, reminder_after_hours
		FROM escalation_policies WHERE program_id = ?`, programID).Scan(
		&p.DaysBeforeDeadline, &p.AlertTimeOfDay,
		&p.TimeoutHoursPerLevel[0], &p.TimeoutHoursPerLevel[1],
		&p.TimeoutHoursPerLevel[2], &p.TimeoutHoursPerLevel[3],
		&p.AutoApproveDelayUpToDays, &blockerInt, &p.ReminderAfterHours,
	)
	if err == sql.ErrNoRows {
		return domain.DefaultEscalationPolicy(), nil
	}
	if err != nil {
		return domain.EscalationPolicy{}, fmt.Errorf("reading escalation policy: %w", err)
	}
	p.BlockerImmediateEscalate = intToBool(blockerInt)
	return p, nil
}

func (r *SQLiteSettingsRepo) UpsertPolicy(ctx context.Context, programID string, p domain.EscalationPolicy) error {
	query := `INSERT INTO escalation_policies (program_id, days_before_deadline, alert_time_of_day,
		timeout_hours_l0, timeout_hours_l1, timeout_hours_l2, timeout_hours_l3,
		auto_approve_delay_days, blocker_immediate_escalation, reminder_after_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(program_id) DO UPDATE SET
			days_before_deadline = excluded.days_before_deadline,
			alert_time_of_day = excluded.alert_time_of_day,
			timeout_hours_l0 = excluded.timeout_hours_l0,
			timeout_hours_l1 = excluded.timeout_hours_l1,
			timeout_hours_l2 = excluded.timeout_hours_l2,
			timeout_hours_l3 = excluded.timeout_hours_l3,
			auto_approve_delay_days = excluded.auto_approve_delay_days,
			blocker_immediate_escalation = excluded.blocker_immediate_escalation,
			reminder_after_hours = excluded.reminder_after_hours`
	_, err := r.db.ExecContext(ctx, query,
		programID, p.DaysBeforeDeadline, p.AlertTimeOfDay,
		p.TimeoutHoursPerLevel[0], p.TimeoutHoursPerLevel[1],
		p.TimeoutHoursPerLevel[2], p.TimeoutHoursPerLevel[3],
		p.AutoApproveDelayUpToDays, boolToInt(p.BlockerImmediateEscalate), p.ReminderAfterHours,
	)
	if err != nil {
		return fmt.Errorf("upserting escalation policy: %w", err)
	}
	return nil
}
