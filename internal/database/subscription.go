package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowpbx/telephony/internal/database/models"
	"github.com/flowpbx/telephony/internal/phone"
)

type subscriptionRepo struct {
	db *DB
}

// NewSubscriptionRepository creates a SubscriptionRepository.
func NewSubscriptionRepository(db *DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

// PhoneIDForSubscription returns the slot serving subID, or
// phone.ErrSubscriptionNotFound.
func (r *subscriptionRepo) PhoneIDForSubscription(ctx context.Context, subID int64) (int, error) {
	var phoneID int
	err := r.db.QueryRowContext(ctx,
		"SELECT phone_id FROM subscriptions WHERE sub_id = ?", subID,
	).Scan(&phoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, phone.ErrSubscriptionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying subscription %d: %w", subID, err)
	}
	return phoneID, nil
}

// Upsert maps sub.SubID to sub.PhoneID, replacing an existing mapping.
func (r *subscriptionRepo) Upsert(ctx context.Context, sub *models.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (sub_id, phone_id, label)
		 VALUES (?, ?, ?)
		 ON CONFLICT(sub_id) DO UPDATE SET phone_id = excluded.phone_id, label = excluded.label`,
		sub.SubID, sub.PhoneID, sub.Label,
	)
	if err != nil {
		return fmt.Errorf("upserting subscription %d: %w", sub.SubID, err)
	}

	err = r.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM subscriptions WHERE sub_id = ?", sub.SubID,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("reading subscription %d: %w", sub.SubID, err)
	}
	return nil
}

// List returns every mapping ordered by subscription id.
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
		var s models.Subscription
		if err := rows.Scan(&s.ID, &s.SubID, &s.PhoneID, &s.Label, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Delete removes the mapping for subID. Returns ErrNotFound if none exists.
func (r *subscriptionRepo) Delete(ctx context.Context, subID int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE sub_id = ?", subID)
	if err != nil {
		return fmt.Errorf("deleting subscription %d: %w", subID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
