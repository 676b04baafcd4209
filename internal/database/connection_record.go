package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowpbx/telephony/internal/database/models"
)

const connectionRecordColumns = `id, connection_id, phone_id, direction, address,
		 start_time, connect_time, end_time, duration, cause, telephony_cause, reason`

type connectionRecordRepo struct {
	db *DB
}

// NewConnectionRecordRepository creates a ConnectionRecordRepository.
func NewConnectionRecordRepository(db *DB) ConnectionRecordRepository {
	return &connectionRecordRepo{db: db}
}

// Create inserts a history entry and sets rec.ID.
func (r *connectionRecordRepo) Create(ctx context.Context, rec *models.ConnectionRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_records (connection_id, phone_id, direction, address,
		 start_time, connect_time, end_time, duration, cause, telephony_cause, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConnectionID, rec.PhoneID, rec.Direction, rec.Address,
		rec.StartTime, rec.ConnectTime, rec.EndTime, rec.Duration,
		rec.Cause, rec.TelephonyCause, rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("inserting connection record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByConnectionID returns the entry for a connection, or ErrNotFound.
func (r *connectionRecordRepo) GetByConnectionID(ctx context.Context, connectionID string) (*models.ConnectionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionRecordColumns+` FROM connection_records WHERE connection_id = ?`,
		connectionID,
	)
	rec, err := scanConnectionRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection record: %w", err)
	}
	return rec, nil
}

// List returns entries matching the filter, newest first, with the total
// number of matches.
func (r *connectionRecordRepo) List(ctx context.Context, filter ConnectionRecordFilter) ([]models.ConnectionRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Cause != "" {
		where += " AND cause = ?"
		args = append(args, filter.Cause)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM connection_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting connection records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + connectionRecordColumns + ` FROM connection_records
		 WHERE ` + where + ` ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing connection records: %w", err)
	}
	defer rows.Close()

	var recs []models.ConnectionRecord
	for rows.Next() {
		rec, err := scanConnectionRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning connection record row: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating connection record rows: %w", err)
	}

	return recs, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnectionRecord(s scanner) (*models.ConnectionRecord, error) {
	var rec models.ConnectionRecord
	var phoneID sql.NullInt64
	var connectTime sql.NullTime
	err := s.Scan(&rec.ID, &rec.ConnectionID, &phoneID, &rec.Direction, &rec.Address,
		&rec.StartTime, &connectTime, &rec.EndTime, &rec.Duration,
		&rec.Cause, &rec.TelephonyCause, &rec.Reason)
	if err != nil {
		return nil, err
	}
	if phoneID.Valid {
		id := int(phoneID.Int64)
		rec.PhoneID = &id
	}
	if connectTime.Valid {
		t := connectTime.Time
		rec.ConnectTime = &t
	}
	return &rec, nil
}
