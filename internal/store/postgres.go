package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate reports a unique-constraint violation, e.g. a second
// daily report for the same department and calendar day.
var ErrDuplicate = errors.New("duplicate record")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetUser(ctx context.Context, department string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT department, password_hash, is_admin, created_at
		FROM users
		WHERE department=$1
	`, department).Scan(&user.Department, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, department, passwordHash string, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (department, password_hash, is_admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (department) DO NOTHING
	`, department, passwordHash, isAdmin)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT department FROM users WHERE NOT is_admin ORDER BY department ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var department string
		if err := rows.Scan(&department); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, department)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertReport(ctx context.Context, report Report) error {
	data := report.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, department, type, data, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, report.ID, report.Department, report.Type, string(data), report.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReports(ctx context.Context, department, reportType string, limit, skip int) ([]Report, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports
		WHERE department=$1 AND ($2='' OR type=$2)
	`, department, reportType).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, department, type, data, created_at
		FROM reports
		WHERE department=$1 AND ($2='' OR type=$2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, department, reportType, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	items := make([]Report, 0)
	for rows.Next() {
		var item Report
		var raw []byte
		if err := rows.Scan(&item.ID, &item.Department, &item.Type, &raw, &item.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		item.Data = json.RawMessage(raw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reports: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) LatestReport(ctx context.Context, department, reportType string) (*Report, error) {
	var item Report
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, department, type, data, created_at
		FROM reports
		WHERE department=$1 AND type=$2
		ORDER BY created_at DESC
		LIMIT 1
	`, department, reportType).Scan(&item.ID, &item.Department, &item.Type, &raw, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest report: %w", err)
	}
	item.Data = json.RawMessage(raw)
	return &item, nil
}

// IncrementLeaks adds to the yearly leak counters for a department,
// creating the row on first contribution. Single statement, safe under
// concurrent report submissions.
func (s *PostgresStore) IncrementLeaks(ctx context.Context, year int, department string, total, done int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaks (year, department, total, done)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (year, department)
		DO UPDATE SET total = leaks.total + EXCLUDED.total, done = leaks.done + EXCLUDED.done
	`, year, department, total, done)
	if err != nil {
		return fmt.Errorf("increment leaks: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLeaks(ctx context.Context, year int, department string) (LeakTotals, error) {
	var totals LeakTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT total, done FROM leaks WHERE year=$1 AND department=$2
	`, year, department).Scan(&totals.Total, &totals.Done)
	if errors.Is(err, sql.ErrNoRows) {
		return LeakTotals{}, nil
	}
	if err != nil {
		return LeakTotals{}, fmt.Errorf("get leaks: %w", err)
	}
	return totals, nil
}

func (s *PostgresStore) IncrementKSS(ctx context.Context, year, done int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kss (year, total)
		VALUES ($1, $2)
		ON CONFLICT (year)
		DO UPDATE SET total = kss.total + EXCLUDED.total
	`, year, done)
	if err != nil {
		return fmt.Errorf("increment kss: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetKSS(ctx context.Context, year int) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT total FROM kss WHERE year=$1`, year).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get kss: %w", err)
	}
	return total, nil
}

// IncrementRemarkDone bumps the done counter on an existing remark row.
// Rows are created by planning, so a missing row means the department
// reported progress against a kind that was never planned; the increment
// is silently skipped and false returned.
func (s *PostgresStore) IncrementRemarkDone(ctx context.Context, year int, department, kind string, done int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE remarks SET done = done + $4
		WHERE year=$1 AND department=$2 AND kind=$3
	`, year, department, kind, done)
	if err != nil {
		return false, fmt.Errorf("increment remark done: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment remark done rows: %w", err)
	}
	return affected > 0, nil
}

// ReplaceRemarkPlan sets the yearly quota for one remark kind and resets
// its done counter.
func (s *PostgresStore) ReplaceRemarkPlan(ctx context.Context, year int, department, kind string, total int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remarks (year, department, kind, total, done)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (year, department, kind)
		DO UPDATE SET total=EXCLUDED.total, done=0
	`, year, department, kind, total)
	if err != nil {
		return fmt.Errorf("replace remark plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRemarks(ctx context.Context, year int, department string) ([]Remark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year, department, kind, total, done
		FROM remarks
		WHERE year=$1 AND department=$2
		ORDER BY kind ASC
	`, year, department)
	if err != nil {
		return nil, fmt.Errorf("list remarks: %w", err)
	}
	defer rows.Close()

	items := make([]Remark, 0)
	for rows.Next() {
		var item Remark
		if err := rows.Scan(&item.Year, &item.Department, &item.Kind, &item.Total, &item.Done); err != nil {
			return nil, fmt.Errorf("scan remark: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate remarks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ReplacePlan(ctx context.Context, plan Plan) error {
	quarters := plan.Quarters
	if quarters == nil {
		quarters = map[string]int{"1": 0, "2": 0, "3": 0, "4": 0}
	}
	encoded, err := json.Marshal(quarters)
	if err != nil {
		return fmt.Errorf("marshal plan quarters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (department, year, kind, total, quarters)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (department, year, kind)
		DO UPDATE SET total=EXCLUDED.total, quarters=EXCLUDED.quarters
	`, plan.Department, plan.Year, plan.Kind, plan.Total, string(encoded))
	if err != nil {
		return fmt.Errorf("replace plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPlans(ctx context.Context, year int, department string) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT department, year, kind, total, quarters
		FROM plans
		WHERE year=$1 AND department=$2
		ORDER BY kind ASC
	`, year, department)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	items := make([]Plan, 0)
	for rows.Next() {
		var item Plan
		var quartersRaw []byte
		if err := rows.Scan(&item.Department, &item.Year, &item.Kind, &item.Total, &quartersRaw); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		_ = json.Unmarshal(quartersRaw, &item.Quarters)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertPath(ctx context.Context, path Path) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paths (id, path_type, num_stages)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET path_type=EXCLUDED.path_type, num_stages=EXCLUDED.num_stages
	`, path.ID, path.PathType, path.NumStages)
	if err != nil {
		return fmt.Errorf("upsert path: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRequest(ctx context.Context, request Request) error {
	extra := request.Extra
	if len(extra) == 0 {
		extra = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, status, req_type, is_complete, request_datetime, gpa_id, path_id, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, request.ID, request.Status, request.ReqType, request.IsComplete, request.RequestDatetime, request.GpaID, request.PathID, string(extra))
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

const requestColumns = `
	r.id, r.status, r.req_type, r.is_complete, r.request_datetime,
	r.gpa_id, r.path_id, r.extra,
	COALESCE(p.path_type, ''), COALESCE(p.num_stages, 0)
`

func (s *PostgresStore) scanRequests(rows *sql.Rows) ([]Request, error) {
	items := make([]Request, 0)
	for rows.Next() {
		var item Request
		var extraRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Status,
			&item.ReqType,
			&item.IsComplete,
			&item.RequestDatetime,
			&item.GpaID,
			&item.PathID,
			&extraRaw,
			&item.PathType,
			&item.NumStages,
		); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		item.Extra = json.RawMessage(extraRaw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListPendingRequests(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests r
		LEFT JOIN paths p ON p.id = r.path_id
		WHERE r.status='inwork' AND r.req_type='with_approval'
		ORDER BY r.request_datetime ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()
	return s.scanRequests(rows)
}

// ListApprovedRequests returns approved, still-open requests scheduled
// for the given UTC day or earlier. Overdue items stay visible until
// completed.
func (s *PostgresStore) ListApprovedRequests(ctx context.Context, today time.Time) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests r
		LEFT JOIN paths p ON p.id = r.path_id
		WHERE r.status='approved' AND NOT r.is_complete
		  AND (r.request_datetime AT TIME ZONE 'UTC')::date <= $1::date
		ORDER BY r.request_datetime ASC
	`, today.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list approved requests: %w", err)
	}
	defer rows.Close()
	return s.scanRequests(rows)
}

func (s *PostgresStore) ListCompletedRequests(ctx context.Context, today time.Time) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests r
		LEFT JOIN paths p ON p.id = r.path_id
		WHERE r.status='approved' AND r.is_complete
		  AND (r.request_datetime AT TIME ZONE 'UTC')::date = $1::date
		ORDER BY r.request_datetime ASC
	`, today.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list completed requests: %w", err)
	}
	defer rows.Close()
	return s.scanRequests(rows)
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
