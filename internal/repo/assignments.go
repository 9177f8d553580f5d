package repo

import (
	"context"
	"database/sql"
	"strings"

	"fleetplan/internal/domain"
)

// Slot is one stored row of an annual vehicle/month/category bucket.
type Slot struct {
	ID   string
	Slot int
	Code string
}

func categoryClause(categories []string, args []any) (string, []any) {
	if len(categories) == 0 {
		return "", args
	}
	marks := make([]string, len(categories))
	for i, c := range categories {
		marks[i] = "?"
		args = append(args, c)
	}
	return " AND category IN (" + strings.Join(marks, ",") + ")", args
}

// AnnualAssignments returns a year's records in slot order. An empty categories list
// returns every category.
func (r Repo) AnnualAssignments(ctx context.Context, year int, categories []string) ([]domain.Assignment, error) {
	filter, args := categoryClause(categories, []any{year})
	rows, err := r.DB.QueryContext(ctx, `SELECT id,year,month,vehicle,category,code,man_hours FROM annual_assignments
WHERE year=?`+filter+` ORDER BY month, vehicle, category, slot, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.Year, &a.Month, &a.Vehicle, &a.Category, &a.Code, &a.ManHours); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// MonthlyAssignments returns a month's records ordered by day, vehicle and write order.
func (r Repo) MonthlyAssignments(ctx context.Context, year, month int, categories []string) ([]domain.Assignment, error) {
	filter, args := categoryClause(categories, []any{year, month})
	rows, err := r.DB.QueryContext(ctx, `SELECT id,year,month,day,vehicle,category,code,man_hours FROM monthly_assignments
WHERE year=? AND month=?`+filter+` ORDER BY day, vehicle, seq, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		var day int
		if err := rows.Scan(&a.ID, &a.Year, &a.Month, &day, &a.Vehicle, &a.Category, &a.Code, &a.ManHours); err != nil {
			return nil, err
		}
		a.Day = &day
		res = append(res, a)
	}
	return res, rows.Err()
}

// AnnualSlotsTx returns the stored slots of one bucket in slot order.
func (r Repo) AnnualSlotsTx(ctx context.Context, tx *sql.Tx, year, month int, vehicle, category string) ([]Slot, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,slot,code FROM annual_assignments
WHERE year=? AND month=? AND vehicle=? AND category=? ORDER BY slot, created_at`, year, month, vehicle, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.Slot, &s.Code); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertAnnualTx(ctx context.Context, tx *sql.Tx, a domain.Assignment, slot int) error {
	ts := now()
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO annual_assignments(id,year,month,vehicle,category,slot,code,man_hours,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Year, a.Month, a.Vehicle, a.Category, slot, a.Code, a.ManHours, ts, ts)
	return err
}

func (r Repo) UpdateAnnualCodeTx(ctx context.Context, tx *sql.Tx, id, code string, manHours float64) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE annual_assignments SET code=?, man_hours=?, updated_at=? WHERE id=?`, code, manHours, now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAnnualSlotTx removes a slot and shifts the following slots of the bucket down by one.
func (r Repo) DeleteAnnualSlotTx(ctx context.Context, tx *sql.Tx, year, month int, vehicle, category string, slot int) error {
	q := r.on(tx)
	res, err := q.ExecContext(ctx, `DELETE FROM annual_assignments WHERE year=? AND month=? AND vehicle=? AND category=? AND slot=?`,
		year, month, vehicle, category, slot)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = q.ExecContext(ctx, `UPDATE annual_assignments SET slot=slot-1, updated_at=? WHERE year=? AND month=? AND vehicle=? AND category=? AND slot>?`,
		now(), year, month, vehicle, category, slot)
	return err
}

// DeleteAnnualPeriodTx clears a year for the given categories, or every category.
func (r Repo) DeleteAnnualPeriodTx(ctx context.Context, tx *sql.Tx, year int, categories []string) (int64, error) {
	filter, args := categoryClause(categories, []any{year})
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM annual_assignments WHERE year=?`+filter, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteMonthlyCellTx clears every record of one vehicle/day cell.
func (r Repo) DeleteMonthlyCellTx(ctx context.Context, tx *sql.Tx, year, month, day int, vehicle string) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM monthly_assignments WHERE year=? AND month=? AND day=? AND vehicle=?`,
		year, month, day, vehicle)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertMonthlyTx(ctx context.Context, tx *sql.Tx, a domain.Assignment, seq int) error {
	ts := now()
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO monthly_assignments(id,year,month,day,vehicle,seq,category,code,man_hours,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Year, a.Month, a.DayValue(), a.Vehicle, seq, a.Category, a.Code, a.ManHours, ts, ts)
	return err
}

// DeleteMonthlyPeriodTx clears a month for the given categories, or every category.
func (r Repo) DeleteMonthlyPeriodTx(ctx context.Context, tx *sql.Tx, year, month int, categories []string) (int64, error) {
	filter, args := categoryClause(categories, []any{year, month})
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM monthly_assignments WHERE year=? AND month=?`+filter, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountAssignments returns the number of stored annual and monthly records of a year.
func (r Repo) CountAssignments(ctx context.Context, year int) (annual, monthly int, err error) {
	if err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM annual_assignments WHERE year=?`, year).Scan(&annual); err != nil {
		return 0, 0, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM monthly_assignments WHERE year=?`, year).Scan(&monthly)
	return annual, monthly, err
}
