package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

const stripeTestSecret = "whsec_test_secret"

// signStripePayload produces a Stripe-Signature header valid for the given
// body, using the documented t=...,v1=HMAC-SHA256("{t}.{body}") scheme.
func signStripePayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventEnvelope(eventID, eventType string, created time.Time, object string) []byte {
	return fmt.Appendf(nil, `{
		"id": %q,
		"object": "event",
		"type": %q,
		"created": %d,
		"data": {"object": %s}
	}`, eventID, eventType, created.Unix(), object)
}

func newStripeTestGateway(t *testing.T) *billing.StripeGateway {
	t.Helper()
	gw, err := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: stripeTestSecret,
	})
	require.NoError(t, err)
	return gw
}

func TestNewStripeGateway(t *testing.T) {
	t.Parallel()

	_, err := billing.NewStripeGateway(billing.StripeConfig{WebhookSecret: "whsec"})
	assert.ErrorIs(t, err, billing.ErrMissingAPIKey)

	_, err = billing.NewStripeGateway(billing.StripeConfig{SecretKey: "sk_test"})
	assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
}

func TestStripeGateway_ParseNotification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := newStripeTestGateway(t)

	t.Run("subscription created", func(t *testing.T) {
		t.Parallel()
		now := time.Now().Truncate(time.Second)
		periodEnd := now.Add(30 * 24 * time.Hour)
		body := stripeEventEnvelope("evt_1", "customer.subscription.created", now, fmt.Sprintf(`{
			"id": "sub_1",
			"object": "subscription",
			"status": "active",
			"customer": "cus_1",
			"cancel_at_period_end": false,
			"metadata": {"account_id": "7f0bcfcb-9c1c-4b83-a2ad-b4a1e0f5a010"},
			"items": {"data": [{"current_period_end": %d, "price": {"id": "price_pro"}}]}
		}`, periodEnd.Unix()))

		n, err := gw.ParseNotification(ctx, body, signStripePayload(body, stripeTestSecret, now))
		require.NoError(t, err)

		assert.Equal(t, "evt_1", n.EventID)
		assert.Equal(t, billing.NotificationSubscriptionCreated, n.Type)
		assert.Equal(t, "sub_1", n.SubscriptionID)
		assert.Equal(t, "cus_1", n.CustomerID)
		assert.Equal(t, "price_pro", n.PriceID)
		assert.Equal(t, "active", n.ProviderStatus)
		assert.False(t, n.CancelAtPeriodEnd)
		require.NotNil(t, n.AccountID)
		assert.Equal(t, "7f0bcfcb-9c1c-4b83-a2ad-b4a1e0f5a010", n.AccountID.String())
		require.NotNil(t, n.PeriodEndsAt)
		assert.Equal(t, periodEnd.Unix(), n.PeriodEndsAt.Unix())
		assert.Equal(t, now.Unix(), n.OccurredAt.Unix())
	})

	t.Run("subscription deleted maps to canceled", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_2", "customer.subscription.deleted", now, `{
			"id": "sub_1",
			"status": "canceled",
			"customer": "cus_1",
			"items": {"data": [{"price": {"id": "price_pro"}}]}
		}`)

		n, err := gw.ParseNotification(ctx, body, signStripePayload(body, stripeTestSecret, now))
		require.NoError(t, err)
		assert.Equal(t, billing.NotificationSubscriptionCanceled, n.Type)
		assert.Equal(t, "canceled", n.ProviderStatus)
	})

	t.Run("cancel scheduled flag survives normalization", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_3", "customer.subscription.updated", now, `{
			"id": "sub_1",
			"status": "active",
			"customer": "cus_1",
			"cancel_at_period_end": true,
			"items": {"data": [{"price": {"id": "price_pro"}}]}
		}`)

		n, err := gw.ParseNotification(ctx, body, signStripePayload(body, stripeTestSecret, now))
		require.NoError(t, err)
		assert.Equal(t, billing.NotificationSubscriptionUpdated, n.Type)
		assert.True(t, n.CancelAtPeriodEnd)
	})

	t.Run("payment failed invoice", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_4", "invoice.payment_failed", now, `{
			"object": "invoice",
			"customer": "cus_1",
			"subscription": "sub_1",
			"period_end": 1750000000,
			"lines": {"data": [{"price": {"id": "price_pro"}}]}
		}`)

		n, err := gw.ParseNotification(ctx, body, signStripePayload(body, stripeTestSecret, now))
		require.NoError(t, err)
		assert.Equal(t, billing.NotificationPaymentFailed, n.Type)
		assert.Equal(t, "sub_1", n.SubscriptionID)
		assert.Equal(t, "price_pro", n.PriceID)
	})

	t.Run("one-off invoice carries nothing to reconcile", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_5", "invoice.paid", now, `{
			"object": "invoice",
			"customer": "cus_1",
			"lines": {"data": []}
		}`)

		n, err := gw.ParseNotification(ctx, body, signStripePayload(body, stripeTestSecret, now))
		require.NoError(t, err)
		assert.Equal(t, billing.NotificationUnknown, n.Type)
	})

	t.Run("unmapped event type normalizes to unknown", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_6", "charge.refunded", now, `{"id": "ch_1"}`)

		n, err := gw.ParseNotification(ctx, body, signStripePayload(body, stripeTestSecret, now))
		require.NoError(t, err)
		assert.Equal(t, billing.NotificationUnknown, n.Type)
		assert.Equal(t, "evt_6", n.EventID)
	})

	t.Run("tampered body fails verification", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_7", "customer.subscription.created", now, `{
			"id": "sub_1", "status": "active"
		}`)
		sig := signStripePayload(body, stripeTestSecret, now)

		tampered := append([]byte(nil), body...)
		tampered[len(tampered)-2] = ' '

		_, err := gw.ParseNotification(ctx, tampered, sig)
		assert.ErrorIs(t, err, billing.ErrVerificationFailed)
	})

	t.Run("wrong secret fails verification", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_8", "customer.subscription.created", now, `{"id": "sub_1", "status": "active"}`)

		_, err := gw.ParseNotification(ctx, body, signStripePayload(body, "whsec_other", now))
		assert.ErrorIs(t, err, billing.ErrVerificationFailed)
	})

	t.Run("missing signature fails verification", func(t *testing.T) {
		t.Parallel()
		body := stripeEventEnvelope("evt_9", "customer.subscription.created", time.Now(), `{"id": "sub_1", "status": "active"}`)

		_, err := gw.ParseNotification(ctx, body, "")
		assert.ErrorIs(t, err, billing.ErrVerificationFailed)
	})

	t.Run("subscription payload without status is malformed", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		body := stripeEventEnvelope("evt_10", "customer.subscription.updated", now, `{"id": "sub_1"}`)

		_, err := gw.ParseNotification(ctx, body, signStripePayload(body, stripeTestSecret, now))
		assert.ErrorIs(t, err, billing.ErrMalformedNotification)
	})
}
