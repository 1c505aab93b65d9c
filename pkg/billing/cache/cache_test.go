package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/billing/cache"
)

// countingStore is a minimal AccountStore that tracks how often the inner
// Get is reached, so cache hits and misses are observable.
type countingStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*billing.Account
	getCalls int
}

func newCountingStore(accounts ...*billing.Account) *countingStore {
	s := &countingStore{accounts: make(map[uuid.UUID]*billing.Account)}
	for _, a := range accounts {
		cp := *a
		s.accounts[a.ID] = &cp
	}
	return s
}

func (s *countingStore) Get(_ context.Context, accountID uuid.UUID) (*billing.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *countingStore) GetBySubscriptionID(_ context.Context, subscriptionID string) (*billing.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.SubscriptionID == subscriptionID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, billing.ErrAccountNotFound
}

func (s *countingStore) SetCustomerID(_ context.Context, accountID uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[accountID]; ok && a.CustomerID == "" {
		a.CustomerID = customerID
	}
	return nil
}

func (s *countingStore) HasEvent(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *countingStore) ApplyChange(_ context.Context, change billing.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[change.AccountID]
	if !ok {
		return billing.ErrAccountNotFound
	}
	a.Tier = change.Tier
	a.Status = change.Status
	a.SubscriptionID = change.SubscriptionID
	a.UpdatedAt = time.Now()
	return nil
}

func newTestCache(t *testing.T, inner billing.AccountStore) *cache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.New(inner, client, cache.Config{TTL: time.Minute}, nil)
}

func TestStore_Get(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("second read is served from cache", func(t *testing.T) {
		t.Parallel()
		account := &billing.Account{ID: uuid.New(), Tier: billing.TierPro, Status: billing.StatusActive}
		inner := newCountingStore(account)
		store := newTestCache(t, inner)

		first, err := store.Get(ctx, account.ID)
		require.NoError(t, err)
		second, err := store.Get(ctx, account.ID)
		require.NoError(t, err)

		assert.Equal(t, first.Tier, second.Tier)
		assert.Equal(t, 1, inner.getCalls)
	})

	t.Run("miss propagates not found", func(t *testing.T) {
		t.Parallel()
		store := newTestCache(t, newCountingStore())

		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, billing.ErrAccountNotFound)
	})
}

func TestStore_Invalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("apply change drops the cached entry", func(t *testing.T) {
		t.Parallel()
		account := &billing.Account{ID: uuid.New(), Tier: billing.TierPro, Status: billing.StatusActive}
		inner := newCountingStore(account)
		store := newTestCache(t, inner)

		_, err := store.Get(ctx, account.ID)
		require.NoError(t, err)

		require.NoError(t, store.ApplyChange(ctx, billing.Change{
			AccountID:      account.ID,
			SubscriptionID: "sub_1",
			Tier:           billing.TierFree,
			Status:         billing.StatusCanceled,
		}))

		got, err := store.Get(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, got.Status)
		assert.Equal(t, 2, inner.getCalls)
	})

	t.Run("set customer ID drops the cached entry", func(t *testing.T) {
		t.Parallel()
		account := &billing.Account{ID: uuid.New()}
		inner := newCountingStore(account)
		store := newTestCache(t, inner)

		_, err := store.Get(ctx, account.ID)
		require.NoError(t, err)

		require.NoError(t, store.SetCustomerID(ctx, account.ID, "cus_1"))

		got, err := store.Get(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_1", got.CustomerID)
	})
}

func TestStore_SubscriptionLookupBypassesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	account := &billing.Account{ID: uuid.New(), SubscriptionID: "sub_1", Status: billing.StatusActive}
	inner := newCountingStore(account)
	store := newTestCache(t, inner)

	// Prime the ID cache, then mutate the row behind the decorator's back.
	_, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	require.NoError(t, inner.ApplyChange(ctx, billing.Change{
		AccountID:      account.ID,
		SubscriptionID: "sub_1",
		Status:         billing.StatusPastDue,
	}))

	got, err := store.GetBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, got.Status)
}
