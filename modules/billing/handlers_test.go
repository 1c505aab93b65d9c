package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/modules/billing"
	pkgbilling "github.com/dmitrymomot/subsync/pkg/billing"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) CreateCheckoutSession(ctx context.Context, accountID uuid.UUID, priceID string, opts pkgbilling.CheckoutOptions) (*pkgbilling.CheckoutSession, error) {
	args := m.Called(ctx, accountID, priceID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pkgbilling.CheckoutSession), args.Error(1)
}

func (m *mockService) RequestCancellation(ctx context.Context, accountID uuid.UUID, immediate bool) (*pkgbilling.Cancellation, error) {
	args := m.Called(ctx, accountID, immediate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pkgbilling.Cancellation), args.Error(1)
}

func (m *mockService) CustomerPortalURL(ctx context.Context, accountID uuid.UUID, returnURL string) (string, error) {
	args := m.Called(ctx, accountID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockService) HandleNotification(ctx context.Context, payload []byte, signature string) (*pkgbilling.Outcome, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pkgbilling.Outcome), args.Error(1)
}

func (m *mockService) GetAccount(ctx context.Context, accountID uuid.UUID) (*pkgbilling.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pkgbilling.Account), args.Error(1)
}

func (m *mockService) Entitled(ctx context.Context, accountID uuid.UUID) pkgbilling.Tier {
	args := m.Called(ctx, accountID)
	return args.Get(0).(pkgbilling.Tier)
}

func (m *mockService) HasFeature(ctx context.Context, accountID uuid.UUID, feature pkgbilling.Feature) bool {
	args := m.Called(ctx, accountID, feature)
	return args.Bool(0)
}

func (m *mockService) Plans() []pkgbilling.Plan {
	args := m.Called()
	return args.Get(0).([]pkgbilling.Plan)
}

func authenticatedRequest(method, target string, accountID uuid.UUID, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req = req.WithContext(pkgbilling.SetAccountIDToContext(req.Context(), accountID))
	return req
}

func TestRouter_Checkout(t *testing.T) {
	t.Parallel()

	t.Run("returns checkout URL", func(t *testing.T) {
		t.Parallel()
		accountID := uuid.New()
		svc := &mockService{}
		svc.On("CreateCheckoutSession", mock.Anything, accountID, "price_pro", pkgbilling.CheckoutOptions{
			Email: "user@example.com",
		}).Return(&pkgbilling.CheckoutSession{URL: "https://checkout.example.com/s/1"}, nil)

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/checkout", accountID,
			[]byte(`{"price_id": "price_pro", "email": "user@example.com"}`)))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "https://checkout.example.com/s/1", resp["url"])
	})

	t.Run("requires authentication", func(t *testing.T) {
		t.Parallel()
		router := billing.Router(&mockService{}, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout",
			bytes.NewReader([]byte(`{"price_id": "price_pro"}`))))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		t.Parallel()
		router := billing.Router(&mockService{}, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/checkout", uuid.New(), []byte(`{`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		accountID := uuid.New()
		svc := &mockService{}
		svc.On("CreateCheckoutSession", mock.Anything, accountID, "price_nope", mock.Anything).
			Return(nil, errors.Join(pkgbilling.ErrInvalidRequest, pkgbilling.ErrPlanNotFound))

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/checkout", accountID,
			[]byte(`{"price_id": "price_nope"}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider outage maps to bad gateway", func(t *testing.T) {
		t.Parallel()
		accountID := uuid.New()
		svc := &mockService{}
		svc.On("CreateCheckoutSession", mock.Anything, accountID, "price_pro", mock.Anything).
			Return(nil, errors.Join(pkgbilling.ErrUpstream, errors.New("timeout")))

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/checkout", accountID,
			[]byte(`{"price_id": "price_pro"}`)))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestRouter_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("schedules cancellation at period end", func(t *testing.T) {
		t.Parallel()
		accountID := uuid.New()
		accessUntil := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
		svc := &mockService{}
		svc.On("RequestCancellation", mock.Anything, accountID, false).
			Return(&pkgbilling.Cancellation{AccessUntil: &accessUntil, CancelAtPeriodEnd: true}, nil)

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/cancel", accountID, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, true, resp["cancel_at_period_end"])
		assert.Equal(t, "2026-09-30T00:00:00Z", resp["access_until"])
	})

	t.Run("immediate cancellation", func(t *testing.T) {
		t.Parallel()
		accountID := uuid.New()
		svc := &mockService{}
		svc.On("RequestCancellation", mock.Anything, accountID, true).
			Return(&pkgbilling.Cancellation{}, nil)

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/cancel", accountID,
			[]byte(`{"cancel_immediately": true}`)))

		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no subscription on file", func(t *testing.T) {
		t.Parallel()
		accountID := uuid.New()
		svc := &mockService{}
		svc.On("RequestCancellation", mock.Anything, accountID, false).
			Return(nil, pkgbilling.ErrNoSubscription)

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/cancel", accountID, nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter_Portal(t *testing.T) {
	t.Parallel()

	accountID := uuid.New()
	svc := &mockService{}
	svc.On("CustomerPortalURL", mock.Anything, accountID, "https://app.example.com/settings").
		Return("https://portal.example.com/p/1", nil)

	router := billing.Router(svc, billing.RouterOptions{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/portal", accountID,
		[]byte(`{"return_url": "https://app.example.com/settings"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://portal.example.com/p/1", resp["url"])
}

func TestRouter_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("acknowledges applied notifications", func(t *testing.T) {
		t.Parallel()
		svc := &mockService{}
		svc.On("HandleNotification", mock.Anything, []byte(`{"id":"evt_1"}`), "sig").
			Return(&pkgbilling.Outcome{Op: pkgbilling.OpApplied}, nil)

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{"id":"evt_1"}`)))
		req.Header.Set("Stripe-Signature", "sig")
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "applied", resp["received"])
	})

	t.Run("custom signature header", func(t *testing.T) {
		t.Parallel()
		svc := &mockService{}
		svc.On("HandleNotification", mock.Anything, mock.Anything, "paddle-sig").
			Return(&pkgbilling.Outcome{Op: pkgbilling.OpAlreadyApplied}, nil)

		router := billing.Router(svc, billing.RouterOptions{SignatureHeader: "Paddle-Signature"})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Paddle-Signature", "paddle-sig")
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("verification failure is not retryable", func(t *testing.T) {
		t.Parallel()
		svc := &mockService{}
		svc.On("HandleNotification", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, pkgbilling.ErrVerificationFailed)

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{}`))))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure leans on provider redelivery", func(t *testing.T) {
		t.Parallel()
		svc := &mockService{}
		svc.On("HandleNotification", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, pkgbilling.ErrStoreConflict)

		router := billing.Router(svc, billing.RouterOptions{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{}`))))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
