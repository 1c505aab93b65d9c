package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Service is the public interface for subscription management. Intents go
// out through the gateway; state comes back in only through notifications
// reconciled by the engine.
type Service interface {
	// Billing intents. Neither call writes subscription state: the provider
	// computes the result server-side and announces it asynchronously.
	CreateCheckoutSession(ctx context.Context, accountID uuid.UUID, priceID string, opts CheckoutOptions) (*CheckoutSession, error)
	RequestCancellation(ctx context.Context, accountID uuid.UUID, immediate bool) (*Cancellation, error)
	CustomerPortalURL(ctx context.Context, accountID uuid.UUID, returnURL string) (string, error)

	// Notification path.
	HandleNotification(ctx context.Context, payload []byte, signature string) (*Outcome, error)

	// Reads.
	GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error)
	Entitled(ctx context.Context, accountID uuid.UUID) Tier
	HasFeature(ctx context.Context, accountID uuid.UUID, feature Feature) bool
	Plans() []Plan
}

// CheckoutOptions carries the optional parts of a checkout intent.
type CheckoutOptions struct {
	Email      string // pre-fill billing email if known
	SuccessURL string
	CancelURL  string
}

type service struct {
	gateway Gateway
	store   AccountStore
	engine  *Engine
	catalog *Catalog
	log     *slog.Logger
}

// NewService wires the gateway, store and reconciliation engine behind the
// Service interface. Panics if any required dependency is nil to fail fast
// during initialization.
func NewService(ctx context.Context, src PlansSource, gateway Gateway, store AccountStore, opts ...ServiceOption) (Service, error) {
	if src == nil {
		panic("billing: PlansSource is required")
	}
	if gateway == nil {
		panic("billing: Gateway is required")
	}
	if store == nil {
		panic("billing: AccountStore is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	catalog, err := NewCatalog(plans)
	if err != nil {
		return nil, err
	}

	s := &service{
		gateway: gateway,
		store:   store,
		catalog: catalog,
		log:     slog.Default(),
	}

	cfg := serviceConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log != nil {
		s.log = cfg.log
	}

	engineOpts := []EngineOption{WithEngineLogger(s.log)}
	for _, n := range cfg.notifiers {
		engineOpts = append(engineOpts, WithNotifier(n))
	}
	s.engine = NewEngine(store, catalog, engineOpts...)

	return s, nil
}

// CreateCheckoutSession resolves or lazily creates the provider customer
// for the account, then opens a hosted subscription checkout. Retrying on
// timeout is safe: a duplicate session is just a fresh link, never a second
// charge, and no subscription state is written on this path.
func (s *service) CreateCheckoutSession(ctx context.Context, accountID uuid.UUID, priceID string, opts CheckoutOptions) (*CheckoutSession, error) {
	if accountID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	if priceID == "" {
		return nil, errors.Join(ErrInvalidRequest, errors.New("price ID is required"))
	}
	plan, ok := s.catalog.ByPrice(priceID)
	if !ok || !plan.Public {
		return nil, errors.Join(ErrInvalidRequest, ErrPlanNotFound)
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	customerID := account.CustomerID
	if customerID == "" {
		customerID, err = s.gateway.EnsureCustomer(ctx, CustomerRequest{
			AccountID: accountID.String(),
			Email:     opts.Email,
		})
		if err != nil {
			return nil, errors.Join(ErrUpstream, err)
		}
		// A concurrent checkout may have stored a customer first; the
		// store keeps the winner and this write becomes a no-op.
		if err := s.store.SetCustomerID(ctx, accountID, customerID); err != nil {
			return nil, err
		}
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		AccountID:  accountID,
		CustomerID: customerID,
		PriceID:    priceID,
		Email:      opts.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
	if err != nil {
		return nil, errors.Join(ErrUpstream, err)
	}
	if session.URL == "" {
		return nil, errors.Join(ErrUpstream, ErrNoCheckoutURL)
	}

	return session, nil
}

// RequestCancellation forwards a cancel intent to the provider. The returned
// values are user feedback only; the account record changes when the
// provider's notification is reconciled.
func (s *service) RequestCancellation(ctx context.Context, accountID uuid.UUID, immediate bool) (*Cancellation, error) {
	if accountID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.SubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	result, err := s.gateway.CancelSubscription(ctx, CancellationRequest{
		SubscriptionID: account.SubscriptionID,
		Immediate:      immediate,
	})
	if err != nil {
		return nil, errors.Join(ErrUpstream, err)
	}

	return result, nil
}

// CustomerPortalURL returns a pre-authenticated provider portal link.
func (s *service) CustomerPortalURL(ctx context.Context, accountID uuid.UUID, returnURL string) (string, error) {
	if accountID == uuid.Nil {
		return "", ErrUnauthenticated
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.CustomerID == "" {
		return "", ErrNoSubscription
	}

	url, err := s.gateway.CustomerPortalURL(ctx, account.CustomerID, returnURL)
	if err != nil {
		return "", errors.Join(ErrUpstream, err)
	}
	if url == "" {
		return "", errors.Join(ErrUpstream, ErrNoPortalURL)
	}
	return url, nil
}

// HandleNotification verifies an inbound provider notification and applies
// it through the reconciliation engine. Verification happens against the
// raw payload bytes before anything else looks at the content.
func (s *service) HandleNotification(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	notification, err := s.gateway.ParseNotification(ctx, payload, signature)
	if err != nil {
		return nil, err
	}
	return s.engine.Apply(ctx, notification)
}

// GetAccount retrieves the cached subscription view for an account.
func (s *service) GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	return s.store.Get(ctx, accountID)
}

// Entitled returns the account's effective tier. Fails closed: any lookup
// error or non-entitled status yields the free tier.
func (s *service) Entitled(ctx context.Context, accountID uuid.UUID) Tier {
	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return TierFree
	}
	if !account.Status.Entitled() {
		return TierFree
	}
	return account.Tier
}

// HasFeature reports whether the account's current tier grants a feature.
// Fails closed on errors, like Entitled.
func (s *service) HasFeature(ctx context.Context, accountID uuid.UUID, feature Feature) bool {
	tier := s.Entitled(ctx, accountID)
	for _, plan := range s.catalog.Plans() {
		if plan.Tier == tier {
			return plan.HasFeature(feature)
		}
	}
	return false
}

// Plans lists the catalog for display.
func (s *service) Plans() []Plan {
	return s.catalog.Plans()
}
