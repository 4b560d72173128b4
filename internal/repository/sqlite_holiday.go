package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
)

// SQLiteHolidayRepo implements HolidayRepo over a DBTX.
type SQLiteHolidayRepo struct {
	db db.DBTX
}

func NewSQLiteHolidayRepo(conn db.DBTX) *SQLiteHolidayRepo {
	return &SQLiteHolidayRepo{db: conn}
}

func (r *SQLiteHolidayRepo) Create(ctx context.Context, h *domain.Holiday) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO holiday_calendar (id, holiday_date, country_code, name) VALUES (?, ?, ?, ?)`,
		h.ID, h.Date.Format(dateLayout), h.CountryCode, h.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("holiday %s (%s): %w", h.Date.Format(dateLayout), h.CountryCode, ErrDuplicate)
		}
		return fmt.Errorf("inserting holiday: %w", err)
	}
	return nil
}

func (r *SQLiteHolidayRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM holiday_calendar WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting holiday: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting holiday: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("holiday: %w", ErrNotFound)
	}
	return nil
}

func (r *SQLiteHolidayRepo) List(ctx context.Context) ([]*domain.Holiday, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, holiday_date, country_code, name FROM holiday_calendar
		ORDER BY holiday_date, country_code`)
	if err != nil {
		return nil, fmt.Errorf("listing holidays: %w", err)
	}
	defer rows.Close()

	var holidays []*domain.Holiday
	for rows.Next() {
		var h domain.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &dateStr, &h.CountryCode, &h.Name); err != nil {
			return nil, fmt.Errorf("scanning holiday: %w", err)
		}
		if h.Date, err = parseTime(dateStr, dateLayout); err != nil {
			return nil, fmt.Errorf("parsing holiday_date: %w", err)
		}
		holidays = append(holidays, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating holidays: %w", err)
	}
	return holidays, nil
}

// DatesFor returns universal holidays (empty country code) merged with
// the given country's, deduplicated, as UTC midnights.
func (r *SQLiteHolidayRepo) DatesFor(ctx context.Context, country string) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT holiday_date FROM holiday_calendar
		WHERE country_code = '' OR country_code = ?
		ORDER BY holiday_date`, country)
	if err != nil {
		return nil, fmt.Errorf("listing holiday dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("scanning holiday date: %w", err)
		}
		d, err := parseTime(dateStr, dateLayout)
		if err != nil {
			return nil, fmt.Errorf("parsing holiday_date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating holiday dates: %w", err)
	}
	return dates, nil
}

// HolidayDates satisfies the calendar's holiday source interface.
func (r *SQLiteHolidayRepo) HolidayDates(ctx context.Context, country string) ([]time.Time, error) {
	return r.DatesFor(ctx, country)
}
