package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/subsync/pkg/email"
)

// AccountEmailLookup resolves the contact address for dunning and
// cancellation notices. Returning an empty address skips the notice.
type AccountEmailLookup func(ctx context.Context, account *Account) (string, error)

// EmailNotifier sends a notice when a reconciled transition lands in a
// state the user should hear about: past_due (payment failed, dunning) and
// canceled (access ended). All other transitions stay silent.
type EmailNotifier struct {
	sender email.EmailSender
	lookup AccountEmailLookup
	log    *slog.Logger
}

// NewEmailNotifier creates a status change mailer.
func NewEmailNotifier(sender email.EmailSender, lookup AccountEmailLookup, log *slog.Logger) *EmailNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &EmailNotifier{sender: sender, lookup: lookup, log: log}
}

// StatusChanged implements Notifier. Runs after the store transaction has
// committed; failures are logged and never bubble up into the webhook path.
func (n *EmailNotifier) StatusChanged(ctx context.Context, account *Account, previous Status) {
	var subject, body string
	switch account.Status {
	case StatusPastDue:
		subject = "Payment failed for your subscription"
		body = "<p>We could not collect your latest subscription payment. " +
			"Please update your payment method to keep your plan active.</p>"
	case StatusCanceled:
		subject = "Your subscription has ended"
		body = "<p>Your subscription is now canceled. You can resubscribe at any time.</p>"
	default:
		return
	}

	address, err := n.lookup(ctx, account)
	if err != nil || address == "" {
		n.log.WarnContext(ctx, "no contact address for billing notice",
			slog.String("account_id", account.ID.String()), slog.Any("error", err))
		return
	}

	err = n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   address,
		Subject:  subject,
		BodyHTML: body,
		Tag:      fmt.Sprintf("billing-%s", account.Status),
	})
	if err != nil {
		n.log.ErrorContext(ctx, "failed to send billing notice",
			slog.String("account_id", account.ID.String()),
			slog.String("status", string(account.Status)),
			slog.Any("error", err))
	}
}
