package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Op describes what the engine did with a notification.
type Op string

const (
	OpApplied        Op = "applied"
	OpAlreadyApplied Op = "already_applied" // duplicate delivery, ledger hit
	OpStale          Op = "stale"           // older than the last applied event
	OpOrphaned       Op = "orphaned"        // no account references the subscription
	OpIgnored        Op = "ignored"         // event type outside the mapping
)

// Outcome reports the result of reconciling one notification.
type Outcome struct {
	Op       Op
	Account  *Account // post-apply state; nil for orphaned/ignored
	Previous Status   // status before the change, valid when Op is applied
}

// Notifier observes committed status transitions. Called after the store
// transaction commits; failures are logged and never affect the result.
type Notifier interface {
	StatusChanged(ctx context.Context, account *Account, previous Status)
}

// Engine is the reconciliation state machine. It owns every write to the
// account's subscription fields: given a verified notification it computes
// the new canonical state from the provider snapshot and applies it exactly
// once per event ID. Local state is never trusted over the snapshot.
type Engine struct {
	store     AccountStore
	catalog   *Catalog
	log       *slog.Logger
	notifiers []Notifier
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier registers a post-commit observer. May be used multiple times.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifiers = append(e.notifiers, n)
		}
	}
}

// WithEngineLogger sets the logger used for reconciliation audit records.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates a reconciliation engine. Panics on nil store or catalog
// to fail fast during initialization.
func NewEngine(store AccountStore, catalog *Catalog, opts ...EngineOption) *Engine {
	if store == nil {
		panic("billing: AccountStore is required")
	}
	if catalog == nil {
		panic("billing: plan catalog is required")
	}

	e := &Engine{
		store:   store,
		catalog: catalog,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply reconciles one verified notification against the account store.
// Safe to replay: duplicate deliveries of the same event ID are no-ops, and
// the account update and the idempotency record commit in one transaction.
func (e *Engine) Apply(ctx context.Context, n *Notification) (*Outcome, error) {
	if err := validateNotification(n); err != nil {
		return nil, err
	}

	log := e.log.With(slog.String("event_id", n.EventID), slog.String("event_type", string(n.Type)))

	if n.Type == NotificationUnknown {
		log.InfoContext(ctx, "ignoring unmapped notification type")
		return &Outcome{Op: OpIgnored}, nil
	}

	applied, err := e.store.HasEvent(ctx, n.EventID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check for event %s: %w", n.EventID, err)
	}
	if applied {
		log.InfoContext(ctx, "duplicate notification delivery, already applied")
		return &Outcome{Op: OpAlreadyApplied}, nil
	}

	outcome, err := e.applyOnce(ctx, n, log)
	if errors.Is(err, ErrStoreConflict) {
		// Lost a race against a concurrent reconcile; one retry against
		// the fresh account row, then surface the conflict.
		log.WarnContext(ctx, "store conflict while applying notification, retrying once")
		outcome, err = e.applyOnce(ctx, n, log)
	}
	return outcome, err
}

func (e *Engine) applyOnce(ctx context.Context, n *Notification, log *slog.Logger) (*Outcome, error) {
	account, err := e.resolveAccount(ctx, n)
	if err != nil {
		return nil, err
	}
	if account == nil {
		log.WarnContext(ctx, "orphan notification: no account for subscription",
			slog.String("subscription_id", n.SubscriptionID))
		return &Outcome{Op: OpOrphaned}, nil
	}

	log = log.With(slog.String("account_id", account.ID.String()))

	// Each payload is a full snapshot at OccurredAt. An event that is
	// strictly older than the last applied one carries no news; it is
	// discarded but still recorded so a redelivery stays a no-op.
	if account.LastEventAt != nil && n.OccurredAt.Before(*account.LastEventAt) {
		log.InfoContext(ctx, "discarding stale notification",
			slog.Time("occurred_at", n.OccurredAt),
			slog.Time("last_event_at", *account.LastEventAt))
		change := noopChange(account, n)
		if err := e.store.ApplyChange(ctx, change); err != nil {
			if errors.Is(err, ErrEventAlreadyApplied) {
				return &Outcome{Op: OpAlreadyApplied}, nil
			}
			return nil, err
		}
		return &Outcome{Op: OpStale, Account: account, Previous: account.Status}, nil
	}

	tier, status, periodEnd, err := computeState(n, account, e.catalog)
	if err != nil {
		return nil, err
	}

	if !transitionExpected(ctx, account.Status, status) {
		log.WarnContext(ctx, "provider snapshot produced an unexpected status transition",
			slog.String("from", string(account.Status)), slog.String("to", string(status)))
	}

	change := Change{
		AccountID:         account.ID,
		SubscriptionID:    n.SubscriptionID,
		CustomerID:        n.CustomerID,
		Tier:              tier,
		Status:            status,
		PeriodEndsAt:      periodEnd,
		OccurredAt:        n.OccurredAt,
		ObservedUpdatedAt: account.UpdatedAt,
		Event: EventRecord{
			EventID:         n.EventID,
			AccountID:       account.ID,
			ResultingStatus: status,
		},
	}

	if err := e.store.ApplyChange(ctx, change); err != nil {
		if errors.Is(err, ErrEventAlreadyApplied) {
			// Concurrent delivery of the same event won the race.
			return &Outcome{Op: OpAlreadyApplied}, nil
		}
		return nil, err
	}

	previous := account.Status
	updated := *account
	updated.SubscriptionID = n.SubscriptionID
	if updated.CustomerID == "" && n.CustomerID != "" {
		updated.CustomerID = n.CustomerID
	}
	updated.Tier = tier
	updated.Status = status
	updated.PeriodEndsAt = periodEnd
	occurred := n.OccurredAt
	updated.LastEventAt = &occurred

	log.InfoContext(ctx, "notification applied",
		slog.String("from", string(previous)),
		slog.String("to", string(status)),
		slog.String("tier", string(tier)))

	if status != previous {
		for _, notifier := range e.notifiers {
			notifier.StatusChanged(ctx, &updated, previous)
		}
	}

	return &Outcome{Op: OpApplied, Account: &updated, Previous: previous}, nil
}

// resolveAccount locates the account a notification belongs to. The primary
// key is the provider subscription ID; a first-ever event for a fresh
// subscription falls back to the account ID carried in checkout metadata.
// Returns (nil, nil) for orphans.
func (e *Engine) resolveAccount(ctx context.Context, n *Notification) (*Account, error) {
	account, err := e.store.GetBySubscriptionID(ctx, n.SubscriptionID)
	switch {
	case err == nil:
		return account, nil
	case !errors.Is(err, ErrAccountNotFound):
		return nil, fmt.Errorf("resolve account for subscription %s: %w", n.SubscriptionID, err)
	}

	if n.AccountID == nil {
		return nil, nil
	}

	account, err = e.store.Get(ctx, *n.AccountID)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, ErrAccountNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("resolve account %s: %w", n.AccountID, err)
	}
}

// computeState derives the new canonical {tier, status, period end} purely
// from the event type and the snapshot. The local account is consulted only
// for fields the snapshot cannot carry (current tier on payment failures
// with an unknown price).
func computeState(n *Notification, account *Account, catalog *Catalog) (Tier, Status, *time.Time, error) {
	var status Status

	switch n.Type {
	case NotificationSubscriptionCanceled:
		status = StatusCanceled

	case NotificationPaymentFailed:
		status = StatusPastDue

	case NotificationSubscriptionCreated, NotificationSubscriptionUpdated, NotificationPaymentSucceeded:
		switch n.ProviderStatus {
		case "active", "trialing", "paid":
			status = StatusActive
		case "past_due", "unpaid":
			status = StatusPastDue
		case "canceled", "cancelled", "expired":
			status = StatusCanceled
		default:
			return "", "", nil, errors.Join(ErrMalformedNotification,
				fmt.Errorf("event %s: unknown provider status %q", n.EventID, n.ProviderStatus))
		}
		if status == StatusActive && n.CancelAtPeriodEnd {
			status = StatusCancelScheduled
		}

	default:
		return "", "", nil, errors.Join(ErrMalformedNotification,
			fmt.Errorf("event %s: unhandled notification type %q", n.EventID, n.Type))
	}

	tier := catalog.TierFor(n.PriceID)
	if tier == TierFree && n.Type == NotificationPaymentFailed && n.PriceID == "" {
		// Payment events may omit the price; the failure does not change
		// the tier, only the status.
		tier = account.Tier
	}

	// Entitlement invariant: a paid tier exists only in an entitled status.
	if !status.Entitled() {
		tier = TierFree
	}

	return tier, status, n.PeriodEndsAt, nil
}

// noopChange records an event in the ledger without altering the account's
// reconciled state.
func noopChange(account *Account, n *Notification) Change {
	occurred := account.UpdatedAt
	if account.LastEventAt != nil {
		occurred = *account.LastEventAt
	}
	return Change{
		AccountID:         account.ID,
		SubscriptionID:    account.SubscriptionID,
		Tier:              account.Tier,
		Status:            account.Status,
		PeriodEndsAt:      account.PeriodEndsAt,
		OccurredAt:        occurred,
		ObservedUpdatedAt: account.UpdatedAt,
		Event: EventRecord{
			EventID:         n.EventID,
			AccountID:       account.ID,
			ResultingStatus: account.Status,
		},
	}
}

func validateNotification(n *Notification) error {
	if n == nil {
		return errors.Join(ErrMalformedNotification, errors.New("nil notification"))
	}
	if n.EventID == "" {
		return errors.Join(ErrMalformedNotification, errors.New("missing event ID"))
	}
	if n.Type != NotificationUnknown && n.SubscriptionID == "" {
		return errors.Join(ErrMalformedNotification,
			fmt.Errorf("event %s: missing subscription ID", n.EventID))
	}
	if n.Type != NotificationUnknown && n.OccurredAt.IsZero() {
		return errors.Join(ErrMalformedNotification,
			fmt.Errorf("event %s: missing occurrence time", n.EventID))
	}
	if n.AccountID != nil && *n.AccountID == uuid.Nil {
		n.AccountID = nil
	}
	return nil
}
