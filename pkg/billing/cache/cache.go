package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

// Config configures the account cache.
type Config struct {
	TTL       time.Duration `env:"BILLING_CACHE_TTL" envDefault:"30s"`
	KeyPrefix string        `env:"BILLING_CACHE_KEY_PREFIX" envDefault:"billing:account:"`
}

// Store decorates a billing.AccountStore with a Redis read-through cache
// for Get, the call entitlement checks hammer on every request. Every write
// path drops the cached entry after delegating, so a reconcile is visible
// on the next read. Reconciliation lookups by subscription ID bypass the
// cache entirely: the engine must always see fresh rows.
type Store struct {
	inner  billing.AccountStore
	client *redis.Client
	config Config
	log    *slog.Logger
}

// New wraps an account store with the Redis cache.
func New(inner billing.AccountStore, client *redis.Client, config Config, log *slog.Logger) *Store {
	if inner == nil {
		panic("cache: inner AccountStore is required")
	}
	if client == nil {
		panic("cache: redis client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "billing:account:"
	}
	return &Store{inner: inner, client: client, config: config, log: log}
}

func (s *Store) key(accountID uuid.UUID) string {
	return s.config.KeyPrefix + accountID.String()
}

// Get returns the cached account view, falling back to the inner store.
// Cache failures degrade to direct reads; they are never surfaced.
func (s *Store) Get(ctx context.Context, accountID uuid.UUID) (*billing.Account, error) {
	key := s.key(accountID)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var account billing.Account
		if err := json.Unmarshal(raw, &account); err == nil {
			return &account, nil
		}
		// Unreadable entry, drop it and fall through to the store.
		s.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		s.log.WarnContext(ctx, "account cache read failed", slog.Any("error", err))
	}

	account, err := s.inner.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(account); err == nil {
		if err := s.client.Set(ctx, key, encoded, s.config.TTL).Err(); err != nil {
			s.log.WarnContext(ctx, "account cache write failed", slog.Any("error", err))
		}
	}
	return account, nil
}

// GetBySubscriptionID always hits the inner store: it is the engine's
// resolution path and must never observe a stale row.
func (s *Store) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*billing.Account, error) {
	return s.inner.GetBySubscriptionID(ctx, subscriptionID)
}

// SetCustomerID delegates and invalidates.
func (s *Store) SetCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error {
	err := s.inner.SetCustomerID(ctx, accountID, customerID)
	s.invalidate(ctx, accountID)
	return err
}

// HasEvent delegates; the ledger is never cached.
func (s *Store) HasEvent(ctx context.Context, eventID string) (bool, error) {
	return s.inner.HasEvent(ctx, eventID)
}

// ApplyChange delegates and invalidates, including on conflict so the
// engine's retry re-reads a fresh row.
func (s *Store) ApplyChange(ctx context.Context, change billing.Change) error {
	err := s.inner.ApplyChange(ctx, change)
	s.invalidate(ctx, change.AccountID)
	return err
}

func (s *Store) invalidate(ctx context.Context, accountID uuid.UUID) {
	if err := s.client.Del(ctx, s.key(accountID)).Err(); err != nil {
		s.log.WarnContext(ctx, "account cache invalidation failed",
			slog.String("account_id", accountID.String()), slog.Any("error", err))
	}
}

var _ billing.AccountStore = (*Store)(nil)
