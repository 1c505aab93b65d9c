package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/pg"
)

// Store implements billing.AccountStore on PostgreSQL. All reconciliation
// writes go through ApplyChange, which commits the account fields and the
// idempotency record in one transaction; there is no other write path for
// subscription state.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL-backed account store.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("pgstore: connection pool is required")
	}
	return &Store{pool: pool}
}

const accountColumns = `id, subscription_id, customer_id, tier, status, period_ends_at, last_event_at, updated_at`

// Get retrieves an account by ID.
func (s *Store) Get(ctx context.Context, accountID uuid.UUID) (*billing.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// GetBySubscriptionID resolves a provider subscription ID to its account.
func (s *Store) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*billing.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE subscription_id = $1`, subscriptionID)
	return scanAccount(row)
}

// Create inserts a fresh account in its signup state: free tier, no
// subscription. Duplicate IDs are surfaced as-is for the caller to handle.
func (s *Store) Create(ctx context.Context, accountID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, tier, status, updated_at) VALUES ($1, $2, $3, now())`,
		accountID, billing.TierFree, billing.StatusNone)
	if err != nil {
		return fmt.Errorf("create account %s: %w", accountID, err)
	}
	return nil
}

// SetCustomerID persists a lazily created provider customer reference.
// The first committed value wins; a racing write with a different customer
// becomes a no-op instead of an error.
func (s *Store) SetCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET customer_id = $2
		 WHERE id = $1 AND (customer_id IS NULL OR customer_id = '' OR customer_id = $2)`,
		accountID, customerID)
	if err != nil {
		return fmt.Errorf("set customer for account %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the account is missing or another checkout won the race.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return fmt.Errorf("set customer for account %s: %w", accountID, err)
		}
		if !exists {
			return billing.ErrAccountNotFound
		}
	}
	return nil
}

// HasEvent reports whether a notification is already in the ledger.
func (s *Store) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return exists, nil
}

// ApplyChange commits one reconciled transition: the account's new
// subscription fields and the event's ledger record, atomically. The
// account update carries an optimistic check on updated_at; losing that
// race returns billing.ErrStoreConflict so the engine can re-read and
// retry. A duplicate ledger insert returns billing.ErrEventAlreadyApplied.
func (s *Store) ApplyChange(ctx context.Context, change billing.Change) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin apply for event %s: %w", change.Event.EventID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET subscription_id = $2,
		     customer_id = CASE WHEN customer_id IS NULL OR customer_id = '' THEN NULLIF($3, '') ELSE customer_id END,
		     tier = $4,
		     status = $5,
		     period_ends_at = $6,
		     last_event_at = $7,
		     updated_at = now()
		 WHERE id = $1 AND updated_at = $8`,
		change.AccountID, nullable(change.SubscriptionID), change.CustomerID,
		change.Tier, change.Status, change.PeriodEndsAt, change.OccurredAt,
		change.ObservedUpdatedAt)
	if err != nil {
		return fmt.Errorf("update account %s for event %s: %w",
			change.AccountID, change.Event.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrStoreConflict
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO billing_events (event_id, account_id, resulting_status, applied_at)
		 VALUES ($1, $2, $3, now())`,
		change.Event.EventID, change.AccountID, change.Event.ResultingStatus)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return billing.ErrEventAlreadyApplied
		}
		return fmt.Errorf("record event %s: %w", change.Event.EventID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit event %s: %w", change.Event.EventID, err)
	}
	return nil
}

// Events returns the ledger entries for an account, newest first. Intended
// for operator audit of which notification produced which transition.
func (s *Store) Events(ctx context.Context, accountID uuid.UUID, limit int) ([]billing.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, account_id, resulting_status, applied_at
		 FROM billing_events WHERE account_id = $1
		 ORDER BY applied_at DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var records []billing.EventRecord
	for rows.Next() {
		var rec billing.EventRecord
		if err := rows.Scan(&rec.EventID, &rec.AccountID, &rec.ResultingStatus, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanAccount(row pgx.Row) (*billing.Account, error) {
	var (
		account        billing.Account
		subscriptionID *string
		customerID     *string
	)
	err := row.Scan(&account.ID, &subscriptionID, &customerID, &account.Tier,
		&account.Status, &account.PeriodEndsAt, &account.LastEventAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrAccountNotFound
		}
		return nil, err
	}
	if subscriptionID != nil {
		account.SubscriptionID = *subscriptionID
	}
	if customerID != nil {
		account.CustomerID = *customerID
	}
	return &account, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ billing.AccountStore = (*Store)(nil)
