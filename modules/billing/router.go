package billing

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	pkgbilling "github.com/dmitrymomot/subsync/pkg/billing"
)

// RouterOptions configures the billing module's HTTP surface.
type RouterOptions struct {
	// SignatureHeader is the header the provider signs notifications with.
	// Defaults to Stripe-Signature; set to Paddle-Signature for Paddle.
	SignatureHeader string

	// Logger for request-path failures. Defaults to slog.Default.
	Logger *slog.Logger
}

// Router mounts the billing endpoints:
//
//	POST /checkout          create a hosted checkout session (authenticated)
//	POST /cancel            request cancellation (authenticated)
//	POST /portal            customer portal link (authenticated)
//	POST /webhooks/billing  provider notification delivery
//
// Authentication is the host application's concern: handlers expect the
// account ID in the request context via billing.SetAccountIDToContext.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(authMiddleware)
//	r.Mount("/billing", billing.Router(svc, billing.RouterOptions{}))
func Router(svc pkgbilling.Service, opts RouterOptions) chi.Router {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "Stripe-Signature"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &handlers{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Post("/checkout", h.checkout)
	r.Post("/cancel", h.cancel)
	r.Post("/portal", h.portal)
	r.Post("/webhooks/billing", h.webhook)
	return r
}
