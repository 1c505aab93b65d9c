package billing

import "context"

// Gateway is the minimal contract a payment provider integration must
// satisfy. It is a stateless adapter: it translates local intents into
// provider API calls and verified notifications into normalized snapshots,
// and never touches the account store. Implementations should use official
// provider SDKs and absorb provider quirks internally.
type Gateway interface {
	// EnsureCustomer resolves the provider-side customer for an account,
	// creating one when none exists. Must be duplicate-safe: concurrent
	// calls for the same account may race, and "customer already exists"
	// is not an error.
	EnsureCustomer(ctx context.Context, req CustomerRequest) (customerID string, err error)

	// CreateCheckoutSession opens a hosted, subscription-mode checkout for
	// the given customer and price. The account ID travels in provider
	// metadata so the first notification can be bound to the account.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// CancelSubscription issues an immediate cancel or schedules one at
	// period end. The returned values are feedback for the caller only;
	// the state change is applied when the matching notification arrives.
	CancelSubscription(ctx context.Context, req CancellationRequest) (*Cancellation, error)

	// CustomerPortalURL returns a pre-authenticated link to the provider's
	// self-service portal for the given customer.
	CustomerPortalURL(ctx context.Context, customerID string, returnURL string) (string, error)

	// ParseNotification verifies the signature against the raw payload
	// bytes and normalizes the event. Returns ErrVerificationFailed for
	// anything unsigned or tampered, ErrMalformedNotification for a
	// well-signed payload missing required subscription fields.
	ParseNotification(ctx context.Context, payload []byte, signature string) (*Notification, error)
}

// CustomerRequest identifies the account a provider customer belongs to.
type CustomerRequest struct {
	AccountID string // stored in provider metadata for reverse lookup
	Email     string
}
