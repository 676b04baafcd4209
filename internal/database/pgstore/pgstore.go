// Package pgstore implements the database repositories on PostgreSQL for
// deployments that share settings and history between several daemons.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flowpbx/telephony/internal/database"
	"github.com/flowpbx/telephony/internal/database/models"
	"github.com/flowpbx/telephony/internal/phone"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns the PostgreSQL connection pool and hands out repositories.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}
	if err := database.Migrate(db, sub, database.Postgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("database opened", "driver", "postgres")
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Settings returns a cached settings repository.
func (s *Store) Settings(ctx context.Context) (database.SettingsRepository, error) {
	repo := &settingsRepo{db: s.db, cache: make(map[string]string)}
	if err := repo.loadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return repo, nil
}

// Subscriptions returns the subscription-to-slot repository.
func (s *Store) Subscriptions() database.SubscriptionRepository {
	return &subscriptionRepo{db: s.db}
}

// ConnectionRecords returns the connection history repository.
func (s *Store) ConnectionRecords() database.ConnectionRecordRepository {
	return &connectionRecordRepo{db: s.db}
}

// Operators returns the control API account repository.
func (s *Store) Operators() database.OperatorRepository {
	return &operatorRepo{db: s.db}
}

type settingsRepo struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]string
}

func (r *settingsRepo) Get(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key], nil
}

func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
	return nil
}

func (r *settingsRepo) GetAll(ctx context.Context) ([]models.Setting, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var settings []models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.ID, &st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

func (r *settingsRepo) loadAll(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scanning setting row: %w", err)
		}
		r.cache[key] = value
	}
	return rows.Err()
}

type subscriptionRepo struct {
	db *sql.DB
}

func (r *subscriptionRepo) PhoneIDForSubscription(ctx context.Context, subID int64) (int, error) {
	var phoneID int
	err := r.db.QueryRowContext(ctx, "SELECT phone_id FROM subscriptions WHERE sub_id = $1", subID).Scan(&phoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, phone.ErrSubscriptionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying subscription %d: %w", subID, err)
	}
	return phoneID, nil
}

func (r *subscriptionRepo) Upsert(ctx context.Context, sub *models.Subscription) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (sub_id, phone_id, label)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (sub_id) DO UPDATE SET phone_id = EXCLUDED.phone_id, label = EXCLUDED.label
		 RETURNING id, created_at`,
		sub.SubID, sub.PhoneID, sub.Label,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting subscription %d: %w", sub.SubID, err)
	}
	return nil
}

func (r *subscriptionRepo) List(ctx context.Context) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, sub_id, phone_id, label, created_at FROM subscriptions ORDER BY sub_id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.SubID, &sub.PhoneID, &sub.Label, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *subscriptionRepo) Delete(ctx context.Context, subID int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE sub_id = $1", subID)
	if err != nil {
		return fmt.Errorf("deleting subscription %d: %w", subID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

type connectionRecordRepo struct {
	db *sql.DB
}

const recordColumns = `id, connection_id, phone_id, direction, address,
		 start_time, connect_time, end_time, duration, cause, telephony_cause, reason`

func (r *connectionRecordRepo) Create(ctx context.Context, rec *models.ConnectionRecord) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO connection_records (connection_id, phone_id, direction, address,
		 start_time, connect_time, end_time, duration, cause, telephony_cause, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		rec.ConnectionID, rec.PhoneID, rec.Direction, rec.Address,
		rec.StartTime, rec.ConnectTime, rec.EndTime, rec.Duration,
		rec.Cause, rec.TelephonyCause, rec.Reason,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("inserting connection record: %w", err)
	}
	return nil
}

func (r *connectionRecordRepo) GetByConnectionID(ctx context.Context, connectionID string) (*models.ConnectionRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM connection_records WHERE connection_id = $1`, connectionID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection record: %w", err)
	}
	return rec, nil
}

func (r *connectionRecordRepo) List(ctx context.Context, filter database.ConnectionRecordFilter) ([]models.ConnectionRecord, int, error) {
	where := "TRUE"
	args := []any{}

	if filter.Direction != "" {
		args = append(args, filter.Direction)
		where += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	if filter.Cause != "" {
		args = append(args, filter.Cause)
		where += fmt.Sprintf(" AND cause = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM connection_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting connection records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM connection_records WHERE %s
		 ORDER BY start_time DESC, id DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing connection records: %w", err)
	}
	defer rows.Close()

	var recs []models.ConnectionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
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

func scanRecord(row interface{ Scan(...any) error }) (*models.ConnectionRecord, error) {
	var rec models.ConnectionRecord
	var phoneID sql.NullInt32
	var connectTime sql.NullTime
	err := row.Scan(&rec.ID, &rec.ConnectionID, &phoneID, &rec.Direction, &rec.Address,
		&rec.StartTime, &connectTime, &rec.EndTime, &rec.Duration,
		&rec.Cause, &rec.TelephonyCause, &rec.Reason)
	if err != nil {
		return nil, err
	}
	if phoneID.Valid {
		id := int(phoneID.Int32)
		rec.PhoneID = &id
	}
	if connectTime.Valid {
		t := connectTime.Time
		rec.ConnectTime = &t
	}
	return &rec, nil
}

type operatorRepo struct {
	db *sql.DB
}

func (r *operatorRepo) Create(ctx context.Context, op *models.Operator) error {
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO operators (username, password_hash) VALUES ($1, $2) RETURNING id, created_at",
		op.Username, op.PasswordHash,
	).Scan(&op.ID, &op.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting operator: %w", err)
	}
	return nil
}

func (r *operatorRepo) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var op models.Operator
	err := r.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM operators WHERE username = $1", username,
	).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying operator: %w", err)
	}
	return &op, nil
}

func (r *operatorRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operators").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting operators: %w", err)
	}
	return n, nil
}
