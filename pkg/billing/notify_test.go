package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/email"
)

type mockEmailSender struct {
	mock.Mock
}

func (m *mockEmailSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func staticLookup(address string) billing.AccountEmailLookup {
	return func(_ context.Context, _ *billing.Account) (string, error) {
		return address, nil
	}
}

func TestEmailNotifier_StatusChanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sends dunning notice on past due", func(t *testing.T) {
		t.Parallel()
		sender := &mockEmailSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.SendTo == "user@example.com" && p.Tag == "billing-past_due"
		})).Return(nil)

		n := billing.NewEmailNotifier(sender, staticLookup("user@example.com"), nil)
		n.StatusChanged(ctx, &billing.Account{
			ID: uuid.New(), Tier: billing.TierPro, Status: billing.StatusPastDue,
		}, billing.StatusActive)

		sender.AssertExpectations(t)
	})

	t.Run("sends farewell notice on cancellation", func(t *testing.T) {
		t.Parallel()
		sender := &mockEmailSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.Tag == "billing-canceled"
		})).Return(nil)

		n := billing.NewEmailNotifier(sender, staticLookup("user@example.com"), nil)
		n.StatusChanged(ctx, &billing.Account{
			ID: uuid.New(), Tier: billing.TierFree, Status: billing.StatusCanceled,
		}, billing.StatusCancelScheduled)

		sender.AssertExpectations(t)
	})

	t.Run("an activation stays silent", func(t *testing.T) {
		t.Parallel()
		sender := &mockEmailSender{}

		n := billing.NewEmailNotifier(sender, staticLookup("user@example.com"), nil)
		n.StatusChanged(ctx, &billing.Account{
			ID: uuid.New(), Tier: billing.TierPro, Status: billing.StatusActive,
		}, billing.StatusNone)

		sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("missing address skips the notice", func(t *testing.T) {
		t.Parallel()
		sender := &mockEmailSender{}

		n := billing.NewEmailNotifier(sender, staticLookup(""), nil)
		n.StatusChanged(ctx, &billing.Account{
			ID: uuid.New(), Status: billing.StatusPastDue,
		}, billing.StatusActive)

		sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("send failures never propagate", func(t *testing.T) {
		t.Parallel()
		sender := &mockEmailSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

		n := billing.NewEmailNotifier(sender, staticLookup("user@example.com"), nil)
		assert.NotPanics(t, func() {
			n.StatusChanged(ctx, &billing.Account{
				ID: uuid.New(), Status: billing.StatusCanceled,
			}, billing.StatusActive)
		})
	})
}
