package billing

import "errors"

var (
	// Request-path errors, returned synchronously with no state mutation.
	ErrUnauthenticated = errors.New("billing: caller is not authenticated")
	ErrInvalidRequest  = errors.New("billing: invalid request")
	ErrAccountNotFound = errors.New("billing: account not found")
	ErrNoSubscription  = errors.New("billing: account has no subscription on file")
	ErrUpstream        = errors.New("billing: provider request failed")

	// Notification-path errors. Verification failures are rejected for good;
	// malformed payloads are held for manual replay and never enter the ledger.
	ErrVerificationFailed    = errors.New("billing: notification signature verification failed")
	ErrMalformedNotification = errors.New("billing: notification payload is malformed")

	// ErrStoreConflict means a transactional write lost a race. The engine
	// retries once before surfacing it.
	ErrStoreConflict = errors.New("billing: store write conflict")

	// ErrEventAlreadyApplied is returned by stores when the idempotency
	// insert hits an existing record for the same event ID.
	ErrEventAlreadyApplied = errors.New("billing: event already applied")

	ErrPlanNotFound             = errors.New("billing: plan not found")
	ErrInvalidPlanConfiguration = errors.New("billing: invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("billing: failed to load plans")

	ErrMissingAPIKey        = errors.New("billing: provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing: webhook signing secret is required")
	ErrNoCheckoutURL        = errors.New("billing: no checkout URL returned from provider")
	ErrNoPortalURL          = errors.New("billing: no portal URL returned from provider")
)
