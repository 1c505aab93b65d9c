package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeGateway implements Gateway for Stripe. Checkout and cancellation go
// through the official SDK; notifications are verified with Stripe's signed
// webhook scheme over the raw body and normalized from the event payload.
type StripeGateway struct {
	client *stripe.Client
	config StripeConfig
}

// NewStripeGateway creates a new Stripe billing gateway.
func NewStripeGateway(config StripeConfig) (*StripeGateway, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	return &StripeGateway{
		client: stripe.NewClient(config.SecretKey, nil),
		config: config,
	}, nil
}

// EnsureCustomer resolves the Stripe customer for an account, creating one
// when none exists. Search-first by account metadata keeps concurrent calls
// from producing duplicates: the race loser finds the winner's customer.
func (g *StripeGateway) EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	if req.AccountID == "" {
		return "", errors.New("account ID is required")
	}

	searchParams := &stripe.CustomerSearchParams{}
	searchParams.Query = fmt.Sprintf("metadata['account_id']:'%s'", req.AccountID)
	searchParams.Limit = stripe.Int64(1)

	for customer, err := range g.client.V1Customers.Search(ctx, searchParams) {
		if err != nil {
			return "", fmt.Errorf("failed to search stripe customers: %w", err)
		}
		return customer.ID, nil
	}

	createParams := &stripe.CustomerCreateParams{
		Metadata: map[string]string{"account_id": req.AccountID},
	}
	if req.Email != "" {
		createParams.Email = stripe.String(req.Email)
	}

	customer, err := g.client.V1Customers.Create(ctx, createParams)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession opens a hosted, subscription-mode checkout. The
// account ID rides along as client reference and subscription metadata so
// every later subscription event can be bound back to the account.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}
	if req.CustomerID == "" {
		return nil, errors.New("customer ID is required")
	}

	metadata := map[string]string{"account_id": req.AccountID.String()}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(1),
		}},
		ClientReferenceID: stripe.String(req.AccountID.String()),
		Metadata:          metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}

	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:       session.URL,
		SessionID: session.ID,
		ExpiresAt: time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

// CancelSubscription cancels immediately or flags cancel-at-period-end. The
// returned fields are the provider's synchronous answer only; the engine
// applies the real change when the matching event arrives.
func (g *StripeGateway) CancelSubscription(ctx context.Context, req CancellationRequest) (*Cancellation, error) {
	if req.SubscriptionID == "" {
		return nil, errors.New("subscription ID is required")
	}

	if req.Immediate {
		sub, err := g.client.V1Subscriptions.Cancel(ctx, req.SubscriptionID, &stripe.SubscriptionCancelParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to cancel stripe subscription: %w", err)
		}
		result := &Cancellation{CancelAtPeriodEnd: false}
		if sub.EndedAt > 0 {
			endedAt := time.Unix(sub.EndedAt, 0).UTC()
			result.AccessUntil = &endedAt
		}
		return result, nil
	}

	sub, err := g.client.V1Subscriptions.Update(ctx, req.SubscriptionID, &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule stripe subscription cancellation: %w", err)
	}

	result := &Cancellation{CancelAtPeriodEnd: sub.CancelAtPeriodEnd}
	if sub.CancelAt > 0 {
		cancelAt := time.Unix(sub.CancelAt, 0).UTC()
		result.AccessUntil = &cancelAt
	}
	return result, nil
}

// CustomerPortalURL returns a Stripe billing portal session link.
func (g *StripeGateway) CustomerPortalURL(ctx context.Context, customerID string, returnURL string) (string, error) {
	if customerID == "" {
		return "", errors.New("customer ID is required")
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	session, err := g.client.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe billing portal session: %w", err)
	}
	if session.URL == "" {
		return "", ErrNoPortalURL
	}
	return session.URL, nil
}

// ParseNotification verifies the Stripe-Signature header against the raw
// payload bytes and normalizes the event. The signature covers the bytes as
// delivered; the payload is only parsed after verification passes.
func (g *StripeGateway) ParseNotification(_ context.Context, payload []byte, signature string) (*Notification, error) {
	if signature == "" {
		return nil, errors.Join(ErrVerificationFailed, errors.New("missing Stripe-Signature header"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}

	return normalizeStripeEvent(&event)
}

// stripeSubscription is the slice of Stripe's subscription object the
// reconciliation core needs. Parsed from the verified event payload rather
// than through SDK structs so field moves between Stripe API versions stay
// contained here.
type stripeSubscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	Customer          string            `json:"customer"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	CancelAt          int64             `json:"cancel_at"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	PeriodEnd    int64  `json:"period_end"`
	Lines        struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Subscription string `json:"subscription"`
		} `json:"data"`
	} `json:"lines"`
}

func normalizeStripeEvent(event *stripe.Event) (*Notification, error) {
	n := &Notification{
		EventID:    event.ID,
		Type:       NotificationUnknown,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if len(event.Data.Raw) > 0 {
		var raw map[string]any
		// Already validated as JSON by signature construction; a decode
		// failure here means the object shape, not the envelope, is off.
		if err := json.Unmarshal(event.Data.Raw, &raw); err == nil {
			n.Raw = raw
		}
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedNotification, err)
		}
		if sub.ID == "" || sub.Status == "" {
			return nil, errors.Join(ErrMalformedNotification,
				fmt.Errorf("event %s: subscription payload missing id or status", event.ID))
		}

		switch event.Type {
		case "customer.subscription.created":
			n.Type = NotificationSubscriptionCreated
		case "customer.subscription.updated":
			n.Type = NotificationSubscriptionUpdated
		default:
			n.Type = NotificationSubscriptionCanceled
		}

		n.SubscriptionID = sub.ID
		n.CustomerID = sub.Customer
		n.ProviderStatus = sub.Status
		n.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		n.PeriodEndsAt = stripePeriodEnd(&sub)
		if len(sub.Items.Data) > 0 {
			n.PriceID = sub.Items.Data[0].Price.ID
		}
		if id, err := uuid.Parse(sub.Metadata["account_id"]); err == nil {
			n.AccountID = &id
		}

	case "invoice.payment_failed", "invoice.payment_succeeded", "invoice.paid":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedNotification, err)
		}
		subscriptionID := inv.Subscription
		if subscriptionID == "" && len(inv.Lines.Data) > 0 {
			subscriptionID = inv.Lines.Data[0].Subscription
		}
		if subscriptionID == "" {
			// Invoices unrelated to a subscription (one-off charges) carry
			// nothing to reconcile.
			return n, nil
		}

		if event.Type == "invoice.payment_failed" {
			n.Type = NotificationPaymentFailed
		} else {
			n.Type = NotificationPaymentSucceeded
			n.ProviderStatus = "paid"
		}
		n.SubscriptionID = subscriptionID
		n.CustomerID = inv.Customer
		if inv.PeriodEnd > 0 {
			periodEnd := time.Unix(inv.PeriodEnd, 0).UTC()
			n.PeriodEndsAt = &periodEnd
		}
		if len(inv.Lines.Data) > 0 {
			n.PriceID = inv.Lines.Data[0].Price.ID
		}
	}

	return n, nil
}

// stripePeriodEnd reads the billing period end, preferring the item-level
// field newer Stripe API versions use over the legacy subscription-level one.
func stripePeriodEnd(sub *stripeSubscription) *time.Time {
	end := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		end = sub.Items.Data[0].CurrentPeriodEnd
	}
	if end <= 0 && sub.CancelAt > 0 {
		end = sub.CancelAt
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}
