package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway implements Gateway for Paddle.
//
// Paddle identifies the buyer at checkout time, so EnsureCustomer hands back
// the account reference and the durable ctm_ customer ID is captured from
// the first notification instead.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleGateway creates a new Paddle billing gateway.
func NewPaddleGateway(config PaddleConfig) (*PaddleGateway, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

// EnsureCustomer returns the account reference for checkout custom data.
// Paddle creates its own customer record during the hosted checkout; the
// ctm_ ID comes back on the first subscription notification, which makes
// repeated calls trivially duplicate-safe.
func (g *PaddleGateway) EnsureCustomer(_ context.Context, req CustomerRequest) (string, error) {
	if req.AccountID == "" {
		return "", errors.New("account ID is required")
	}
	return req.AccountID, nil
}

// CreateCheckoutSession creates a catalog transaction whose hosted checkout
// collects payment and starts the subscription. The account ID travels in
// custom data so notifications can be bound back to the account.
func (g *PaddleGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"account_id": req.AccountID.String(),
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := g.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil || *transaction.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		// Paddle checkout links typically expire in 24 hours
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// CancelSubscription cancels immediately or at the next billing period.
func (g *PaddleGateway) CancelSubscription(ctx context.Context, req CancellationRequest) (*Cancellation, error) {
	if req.SubscriptionID == "" {
		return nil, errors.New("subscription ID is required")
	}

	effectiveFrom := paddle.EffectiveFromNextBillingPeriod
	if req.Immediate {
		effectiveFrom = paddle.EffectiveFromImmediately
	}

	sub, err := g.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: req.SubscriptionID,
		EffectiveFrom:  paddle.PtrTo(effectiveFrom),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel paddle subscription: %w", err)
	}

	result := &Cancellation{CancelAtPeriodEnd: !req.Immediate}
	if sub.ScheduledChange != nil && sub.ScheduledChange.EffectiveAt != "" {
		if at, err := time.Parse(time.RFC3339, sub.ScheduledChange.EffectiveAt); err == nil {
			at = at.UTC()
			result.AccessUntil = &at
		}
	}
	return result, nil
}

// CustomerPortalURL returns a link to Paddle's customer portal overview.
func (g *PaddleGateway) CustomerPortalURL(ctx context.Context, customerID string, _ string) (string, error) {
	if customerID == "" {
		return "", errors.New("customer ID is required")
	}

	session, err := g.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return "", ErrNoPortalURL
	}
	return session.URLs.General.Overview, nil
}

// ParseNotification verifies the Paddle-Signature header against the raw
// payload bytes and normalizes the event.
func (g *PaddleGateway) ParseNotification(ctx context.Context, payload []byte, signature string) (*Notification, error) {
	if signature == "" {
		return nil, errors.Join(ErrVerificationFailed, errors.New("missing Paddle-Signature header"))
	}

	// The SDK verifier works on the request form; rebuild one around the
	// raw bytes so the signature is checked over exactly what was sent.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}
	if !valid {
		return nil, ErrVerificationFailed
	}

	return normalizePaddleEvent(payload)
}

func normalizePaddleEvent(payload []byte) (*Notification, error) {
	var event struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}
	if event.EventID == "" {
		return nil, errors.Join(ErrMalformedNotification, errors.New("missing event_id"))
	}

	n := &Notification{
		EventID: event.EventID,
		Type:    mapPaddleEventType(event.EventType),
		Raw:     event.Data,
	}
	if at, err := time.Parse(time.RFC3339, event.OccurredAt); err == nil {
		n.OccurredAt = at.UTC()
	}
	if n.Type == NotificationUnknown {
		return n, nil
	}

	if subID, ok := event.Data["id"].(string); ok {
		n.SubscriptionID = subID
	}
	if subID, ok := event.Data["subscription_id"].(string); ok {
		// Transaction events reference their subscription separately.
		n.SubscriptionID = subID
	}
	if n.SubscriptionID == "" {
		return nil, errors.Join(ErrMalformedNotification,
			fmt.Errorf("event %s: missing subscription ID", event.EventID))
	}

	if status, ok := event.Data["status"].(string); ok {
		n.ProviderStatus = mapPaddleStatus(status)
	}
	if customerID, ok := event.Data["customer_id"].(string); ok {
		n.CustomerID = customerID
	}
	if customData, ok := event.Data["custom_data"].(map[string]any); ok {
		if raw, ok := customData["account_id"].(string); ok {
			if id, err := uuid.Parse(raw); err == nil {
				n.AccountID = &id
			}
		}
	}
	if end, ok := paddleTime(event.Data, "current_billing_period", "ends_at"); ok {
		n.PeriodEndsAt = &end
	}
	if change, ok := event.Data["scheduled_change"].(map[string]any); ok {
		if action, ok := change["action"].(string); ok && action == "cancel" {
			n.CancelAtPeriodEnd = true
		}
	}
	if items, ok := event.Data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			if priceID, ok := item["price_id"].(string); ok {
				n.PriceID = priceID
			} else if price, ok := item["price"].(map[string]any); ok {
				if priceID, ok := price["id"].(string); ok {
					n.PriceID = priceID
				}
			}
		}
	}

	if n.Type != NotificationSubscriptionCanceled && n.Type != NotificationPaymentFailed && n.ProviderStatus == "" {
		return nil, errors.Join(ErrMalformedNotification,
			fmt.Errorf("event %s: subscription payload missing status", event.EventID))
	}

	return n, nil
}

func mapPaddleEventType(eventType string) NotificationType {
	switch eventType {
	case "subscription.created":
		return NotificationSubscriptionCreated
	case "subscription.updated", "subscription.resumed", "subscription.paused":
		return NotificationSubscriptionUpdated
	case "subscription.canceled":
		return NotificationSubscriptionCanceled
	case "transaction.completed":
		return NotificationPaymentSucceeded
	case "transaction.payment_failed":
		return NotificationPaymentFailed
	default:
		return NotificationUnknown
	}
}

// mapPaddleStatus folds Paddle's status vocabulary into the one the engine
// understands.
func mapPaddleStatus(status string) string {
	switch status {
	case "active", "trialing":
		return status
	case "past_due", "paused":
		return "past_due"
	case "canceled":
		return "canceled"
	case "completed", "paid", "billed":
		return "paid"
	default:
		return status
	}
}

func paddleTime(data map[string]any, keys ...string) (time.Time, bool) {
	var current any = data
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return time.Time{}, false
		}
		current = m[key]
	}
	raw, ok := current.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
