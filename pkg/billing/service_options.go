package billing

import "log/slog"

type serviceConfig struct {
	log       *slog.Logger
	notifiers []Notifier
}

// ServiceOption configures a Service instance.
type ServiceOption func(*serviceConfig)

// WithLogger sets the logger shared by the service and its engine.
// Reconciliation audit logs are keyed by event_id and account_id.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(c *serviceConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithStatusNotifier registers a post-commit status change observer, e.g.
// a dunning mailer or an internal webhook relay. May be used multiple times.
func WithStatusNotifier(n Notifier) ServiceOption {
	return func(c *serviceConfig) {
		if n != nil {
			c.notifiers = append(c.notifiers, n)
		}
	}
}
