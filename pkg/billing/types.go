package billing

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the entitlement level an account is allowed to use.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierGold Tier = "gold"
)

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierGold:
		return true
	}
	return false
}

// Status is the local view of the provider-side subscription state.
type Status string

const (
	StatusNone            Status = "none"
	StatusActive          Status = "active"
	StatusPastDue         Status = "past_due"
	StatusCanceled        Status = "canceled"
	StatusCancelScheduled Status = "cancel_scheduled"
)

// Entitled reports whether an account in this status may hold a paid tier.
// Only active, past_due and cancel_scheduled carry entitlement; none and
// canceled force the free tier.
func (s Status) Entitled() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCancelScheduled:
		return true
	}
	return false
}

// Feature represents a tier-specific capability.
type Feature string

const (
	FeatureAPI             Feature = "api"
	FeatureExport          Feature = "export"
	FeatureAnalytics       Feature = "analytics"
	FeatureWhiteLabel      Feature = "white_label"
	FeaturePrioritySupport Feature = "priority_support"
)

// Account is the locally cached view of one account's subscription.
// The billing provider is the source of truth; this record is written only
// by the reconciliation engine and read by everything else.
type Account struct {
	ID             uuid.UUID
	SubscriptionID string // provider's subscription ID, empty until first reconcile
	CustomerID     string // provider's customer ID, set lazily at first checkout
	Tier           Tier
	Status         Status
	PeriodEndsAt   *time.Time
	LastEventAt    *time.Time // occurrence time of the last applied notification
	UpdatedAt      time.Time
}

// NotificationType is the normalized billing event type. Provider adapters
// map their native event names onto these.
type NotificationType string

const (
	NotificationSubscriptionCreated  NotificationType = "subscription_created"
	NotificationSubscriptionUpdated  NotificationType = "subscription_updated"
	NotificationSubscriptionCanceled NotificationType = "subscription_canceled"
	NotificationPaymentSucceeded     NotificationType = "payment_succeeded"
	NotificationPaymentFailed        NotificationType = "payment_failed"
	NotificationUnknown              NotificationType = "unknown"
)

// Notification is a verified, normalized provider event. The payload is a
// full snapshot of the subscription at OccurredAt; adapters must only build
// one from a payload whose signature was checked against the raw bytes.
type Notification struct {
	EventID           string           // provider-unique, used as idempotency key
	Type              NotificationType
	SubscriptionID    string
	AccountID         *uuid.UUID // from checkout metadata, binds first-ever events
	CustomerID        string
	PriceID           string
	ProviderStatus    string // provider's native subscription status
	CancelAtPeriodEnd bool
	PeriodEndsAt      *time.Time
	OccurredAt        time.Time
	Raw               map[string]any
}

// EventRecord marks one notification as applied. Created exactly once per
// EventID, in the same transaction as the account update, and never mutated.
type EventRecord struct {
	EventID         string
	AccountID       uuid.UUID
	ResultingStatus Status
	AppliedAt       time.Time
}

// CheckoutRequest asks the provider for a hosted checkout session.
type CheckoutRequest struct {
	AccountID  uuid.UUID
	CustomerID string // provider customer, resolved before the call
	PriceID    string
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's hosted checkout flow.
type CheckoutSession struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// CancellationRequest asks the provider to cancel a subscription.
type CancellationRequest struct {
	SubscriptionID string
	Immediate      bool // false schedules cancellation at period end
}

// Cancellation carries the provider's synchronous answer to a cancel
// request. It is user feedback only: the authoritative state change lands
// later through the corresponding notification.
type Cancellation struct {
	AccessUntil       *time.Time
	CancelAtPeriodEnd bool
}
