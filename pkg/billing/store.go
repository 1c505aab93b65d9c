package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountStore persists the locally cached subscription view together with
// the idempotency ledger. Subscription fields are written only through
// ApplyChange; everything else reads.
type AccountStore interface {
	// Get retrieves an account by its ID.
	// Returns ErrAccountNotFound if no account exists.
	Get(ctx context.Context, accountID uuid.UUID) (*Account, error)

	// GetBySubscriptionID resolves a provider subscription ID to the local
	// account. Returns ErrAccountNotFound when no account references it.
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error)

	// SetCustomerID persists a lazily created provider customer reference.
	// Losing a race to another writer is not an error: the first committed
	// customer ID wins and later calls with a different ID are ignored.
	SetCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error

	// HasEvent reports whether a notification has already been applied.
	HasEvent(ctx context.Context, eventID string) (bool, error)

	// ApplyChange commits the account's new subscription fields and the
	// event record in a single transaction. Neither survives without the
	// other. Returns ErrEventAlreadyApplied when the ledger already holds
	// the event ID, and ErrStoreConflict when the optimistic check on the
	// account row fails.
	ApplyChange(ctx context.Context, change Change) error
}

// Change is one reconciled state transition, applied atomically.
type Change struct {
	AccountID      uuid.UUID
	SubscriptionID string
	CustomerID     string // ignored by stores when the account already has one
	Tier           Tier
	Status         Status
	PeriodEndsAt   *time.Time
	OccurredAt     time.Time

	// ObservedUpdatedAt is the account's UpdatedAt as read before computing
	// the change; stores use it for the optimistic conflict check.
	ObservedUpdatedAt time.Time

	Event EventRecord
}
