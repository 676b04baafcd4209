package phone

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

// AccountHandle identifies the account a call request was made on. The
// component name names the service that owns the account; the ID is the
// decimal subscription id.
type AccountHandle struct {
	ComponentName string `json:"component"`
	ID            string `json:"id"`
}

// ErrSubscriptionNotFound is returned by a SubscriptionStore with no slot
// for the requested subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionStore maps subscription ids to phone slots.
type SubscriptionStore interface {
	PhoneIDForSubscription(ctx context.Context, subID int64) (int, error)
}

// Registry holds the process-wide set of voice stacks and resolves call
// requests to the stack that will carry them.
type Registry struct {
	component string
	subs      SubscriptionStore
	logger    *slog.Logger

	mu        sync.RWMutex
	phones    map[int]Phone
	defaultID int
}

// NewRegistry creates an empty registry that accepts accounts owned by
// component and maps their subscriptions through subs.
func NewRegistry(component string, subs SubscriptionStore, logger *slog.Logger) *Registry {
	return &Registry{
		component: component,
		subs:      subs,
		logger:    logger.With("subsystem", "phone_registry"),
		phones:    make(map[int]Phone),
	}
}

// Add registers a phone under its slot id, replacing any previous one.
func (r *Registry) Add(p Phone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phones[p.ID()] = p
	r.logger.Info("phone registered", "phone_id", p.ID(), "type", p.Type())
}

// SetDefault selects the slot used for emergency calls.
func (r *Registry) SetDefault(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultID = id
}

// Get returns the phone in the given slot, or nil.
func (r *Registry) Get(id int) Phone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phones[id]
}

// Default returns the phone used for emergency calls, or nil.
func (r *Registry) Default() Phone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phones[r.defaultID]
}

// Phones returns a snapshot of all registered phones ordered by slot.
func (r *Registry) Phones() []Phone {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Phone, 0, len(r.phones))
	for _, p := range r.phones {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Resolve returns the phone that should carry a call on the given account.
// Emergency calls always go to the default phone. Otherwise the account must
// belong to this registry's component and carry a numeric subscription id
// mapped to a registered slot. Returns nil when nothing matches.
func (r *Registry) Resolve(ctx context.Context, account AccountHandle, isEmergency bool) Phone {
	if isEmergency {
		return r.Default()
	}

	if account.ComponentName != r.component || account.ID == "" {
		return nil
	}

	subID, err := strconv.ParseInt(account.ID, 10, 64)
	if err != nil {
		r.logger.Warn("could not get subscription id from account", "account_id", account.ID)
		return nil
	}

	if r.subs == nil {
		return nil
	}

	phoneID, err := r.subs.PhoneIDForSubscription(ctx, subID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			r.logger.Error("subscription lookup failed", "sub_id", subID, "error", err)
		}
		return nil
	}

	return r.Get(phoneID)
}
