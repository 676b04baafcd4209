package database

import (
	"context"
	"errors"

	"github.com/flowpbx/telephony/internal/database/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SettingsRepository manages the shared key-value settings store.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.Setting, error)
}

// SubscriptionRepository manages the subscription-to-slot map. It also
// satisfies phone.SubscriptionStore.
type SubscriptionRepository interface {
	PhoneIDForSubscription(ctx context.Context, subID int64) (int, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
	List(ctx context.Context) ([]models.Subscription, error)
	Delete(ctx context.Context, subID int64) error
}

// ConnectionRecordRepository stores the history of released connections.
type ConnectionRecordRepository interface {
	Create(ctx context.Context, rec *models.ConnectionRecord) error
	GetByConnectionID(ctx context.Context, connectionID string) (*models.ConnectionRecord, error)
	List(ctx context.Context, filter ConnectionRecordFilter) ([]models.ConnectionRecord, int, error)
}

// ConnectionRecordFilter selects a page of connection history.
type ConnectionRecordFilter struct {
	Direction string
	Cause     string
	Limit     int
	Offset    int
}

// OperatorRepository manages control API accounts.
type OperatorRepository interface {
	Create(ctx context.Context, op *models.Operator) error
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
	Count(ctx context.Context) (int64, error)
}
