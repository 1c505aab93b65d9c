package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/webhook"
)

// RelayConfig configures the internal entitlement-change relay.
type RelayConfig struct {
	URL    string `env:"BILLING_RELAY_URL"`
	Secret string `env:"BILLING_RELAY_SECRET"`
}

// RelayEvent is the payload delivered to internal consumers after a status
// transition has committed. It mirrors the reconciled account fields so
// consumers never need to read the store on the hot path.
type RelayEvent struct {
	AccountID      string     `json:"account_id"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Tier           Tier       `json:"tier"`
	Status         Status     `json:"status"`
	PreviousStatus Status     `json:"previous_status"`
	PeriodEndsAt   *time.Time `json:"period_ends_at,omitempty"`
}

// RelayNotifier fans committed status transitions out to one internal HTTP
// consumer as an HMAC-signed webhook. Delivery is best-effort with retries;
// a down consumer never blocks or fails reconciliation.
type RelayNotifier struct {
	sender  *webhook.Sender
	circuit *webhook.CircuitBreaker
	config  RelayConfig
	log     *slog.Logger
}

// NewRelayNotifier creates a relay for the given endpoint. The secret signs
// each delivery so the consumer can verify origin with webhook.VerifySignature.
func NewRelayNotifier(config RelayConfig, log *slog.Logger) *RelayNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RelayNotifier{
		sender:  webhook.NewSender(),
		circuit: webhook.NewCircuitBreaker(5, 2, 30*time.Second),
		config:  config,
		log:     log,
	}
}

// StatusChanged implements Notifier.
func (r *RelayNotifier) StatusChanged(ctx context.Context, account *Account, previous Status) {
	if r.config.URL == "" {
		return
	}

	event := RelayEvent{
		AccountID:      account.ID.String(),
		SubscriptionID: account.SubscriptionID,
		Tier:           account.Tier,
		Status:         account.Status,
		PreviousStatus: previous,
		PeriodEndsAt:   account.PeriodEndsAt,
	}

	opts := []webhook.SendOption{
		webhook.WithExponentialRetry(3, 500*time.Millisecond, 5*time.Second),
		webhook.WithCircuitBreaker(r.circuit),
	}
	if r.config.Secret != "" {
		opts = append(opts, webhook.WithSignature(r.config.Secret))
	}

	if err := r.sender.Send(ctx, r.config.URL, event, opts...); err != nil {
		r.log.ErrorContext(ctx, "failed to relay entitlement change",
			slog.String("account_id", account.ID.String()),
			slog.String("status", string(account.Status)),
			slog.Any("error", err))
	}
}
