package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Tracked document persistence: protocols, orders, faults and
// reliability items. Done-marks merge a single key into the JSONB map
// so concurrent marks from different departments never overwrite each
// other.

func (s *PostgresStore) InsertProtocol(ctx context.Context, item Protocol) error {
	departments, err := json.Marshal(item.Departments)
	if err != nil {
		return fmt.Errorf("marshal protocol departments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO protocols (id, protocol_num, protocol_name, issue_date, deadline, body, departments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`, item.ID, item.ProtocolNum, item.ProtocolName, item.IssueDate, item.Deadline, item.Text, string(departments), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert protocol: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveProtocols(ctx context.Context) ([]Protocol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, protocol_num, protocol_name, issue_date, deadline, body, departments, done, archived, archived_at, created_at
		FROM protocols
		WHERE NOT archived
		ORDER BY issue_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	items := make([]Protocol, 0)
	for rows.Next() {
		var item Protocol
		var departmentsRaw, doneRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.ProtocolNum,
			&item.ProtocolName,
			&item.IssueDate,
			&item.Deadline,
			&item.Text,
			&departmentsRaw,
			&doneRaw,
			&item.Archived,
			&item.ArchivedAt,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		_ = json.Unmarshal(departmentsRaw, &item.Departments)
		_ = json.Unmarshal(doneRaw, &item.Done)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate protocols: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProtocol(ctx context.Context, id string) (Protocol, error) {
	var item Protocol
	var departmentsRaw, doneRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, protocol_num, protocol_name, issue_date, deadline, body, departments, done, archived, archived_at, created_at
		FROM protocols
		WHERE id=$1
	`, id).Scan(
		&item.ID,
		&item.ProtocolNum,
		&item.ProtocolName,
		&item.IssueDate,
		&item.Deadline,
		&item.Text,
		&departmentsRaw,
		&doneRaw,
		&item.Archived,
		&item.ArchivedAt,
		&item.CreatedAt,
	)
	if err != nil {
		return Protocol{}, err
	}
	_ = json.Unmarshal(departmentsRaw, &item.Departments)
	_ = json.Unmarshal(doneRaw, &item.Done)
	return item, nil
}

func (s *PostgresStore) UpdateProtocol(ctx context.Context, item Protocol) (bool, error) {
	departments, err := json.Marshal(item.Departments)
	if err != nil {
		return false, fmt.Errorf("marshal protocol departments: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE protocols
		SET protocol_num=$2, protocol_name=$3, issue_date=$4, deadline=$5, body=$6, departments=$7::jsonb
		WHERE id=$1
	`, item.ID, item.ProtocolNum, item.ProtocolName, item.IssueDate, item.Deadline, item.Text, string(departments))
	if err != nil {
		return false, fmt.Errorf("update protocol: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update protocol rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ArchiveProtocol(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE protocols SET archived=TRUE, archived_at=$2
		WHERE id=$1 AND NOT archived
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("archive protocol: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive protocol rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkProtocolDone(ctx context.Context, id, department, doneDate string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE protocols
		SET done = done || jsonb_build_object($2::text, to_jsonb($3::text))
		WHERE id=$1
	`, id, department, doneDate)
	if err != nil {
		return false, fmt.Errorf("mark protocol done: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark protocol done rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, item Order) error {
	departments, err := json.Marshal(item.Departments)
	if err != nil {
		return fmt.Errorf("marshal order departments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, num, issue_date, deadline, body, departments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, item.ID, item.Num, item.IssueDate, item.Deadline, item.Text, string(departments), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, num, issue_date, deadline, body, departments, done, archived, archived_at, created_at
		FROM orders
		WHERE NOT archived
		ORDER BY issue_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	items := make([]Order, 0)
	for rows.Next() {
		var item Order
		var departmentsRaw, doneRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Num,
			&item.IssueDate,
			&item.Deadline,
			&item.Text,
			&departmentsRaw,
			&doneRaw,
			&item.Archived,
			&item.ArchivedAt,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		_ = json.Unmarshal(departmentsRaw, &item.Departments)
		_ = json.Unmarshal(doneRaw, &item.Done)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ArchiveOrder(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET archived=TRUE, archived_at=$2
		WHERE id=$1 AND NOT archived
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("archive order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive order rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkOrderDone(ctx context.Context, id, department, doneDate string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET done = done || jsonb_build_object($2::text, to_jsonb($3::text))
		WHERE id=$1
	`, id, department, doneDate)
	if err != nil {
		return false, fmt.Errorf("mark order done: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order done rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertFault(ctx context.Context, item Fault) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO faults (id, department, fault_type, body, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Department, item.Type, item.Text, item.DueDate, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fault: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveFaults(ctx context.Context) ([]Fault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, department, fault_type, body, due_date, is_done, date_done, archived, created_at
		FROM faults
		WHERE NOT archived
		ORDER BY due_date ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list faults: %w", err)
	}
	defer rows.Close()

	items := make([]Fault, 0)
	for rows.Next() {
		var item Fault
		if err := rows.Scan(
			&item.ID,
			&item.Department,
			&item.Type,
			&item.Text,
			&item.DueDate,
			&item.IsDone,
			&item.DateDone,
			&item.Archived,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faults: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ArchiveFault(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE faults SET archived=TRUE, archived_at=$2
		WHERE id=$1 AND NOT archived
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("archive fault: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive fault rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkFaultDone(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE faults SET is_done=TRUE, date_done=$2
		WHERE id=$1
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark fault done: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark fault done rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertReliabilityItem(ctx context.Context, item ReliabilityItem) error {
	departments, err := json.Marshal(item.Departments)
	if err != nil {
		return fmt.Errorf("marshal reliability departments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reliability (id, name, period, departments, note, source, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
	`, item.ID, item.Name, item.Period, string(departments), item.Note, item.Source, item.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert reliability item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveReliabilityItems(ctx context.Context) ([]ReliabilityItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, period, departments, note, done, source, archived, created_at
		FROM reliability
		WHERE NOT archived
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list reliability items: %w", err)
	}
	defer rows.Close()

	items := make([]ReliabilityItem, 0)
	for rows.Next() {
		var item ReliabilityItem
		var departmentsRaw, doneRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Period,
			&departmentsRaw,
			&item.Note,
			&doneRaw,
			&item.Source,
			&item.Archived,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reliability item: %w", err)
		}
		_ = json.Unmarshal(departmentsRaw, &item.Departments)
		_ = json.Unmarshal(doneRaw, &item.Done)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reliability items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ArchiveReliabilityItem(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reliability SET archived=TRUE, archived_at=$2
		WHERE id=$1 AND NOT archived
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("archive reliability item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive reliability item rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkReliabilityDone(ctx context.Context, id, department, doneDate string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reliability
		SET done = done || jsonb_build_object($2::text, to_jsonb($3::text))
		WHERE id=$1
	`, id, department, doneDate)
	if err != nil {
		return false, fmt.Errorf("mark reliability done: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reliability done rows: %w", err)
	}
	return affected > 0, nil
}
