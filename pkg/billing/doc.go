// Package billing keeps a locally cached subscription record eventually
// consistent with an external billing provider that is the single source of
// truth for payment and subscription state.
//
// The package is built around one rule: intents go out, state comes back in.
// User actions (checkout, cancellation) are forwarded to the provider through
// a Gateway and their synchronous responses are surfaced as feedback only.
// The account record changes exclusively when the provider's signed
// notification is verified and reconciled by the Engine, which applies each
// event exactly once.
//
// # Components
//
//   - Gateway: stateless provider adapter (Stripe and Paddle implementations
//     included). Creates hosted checkouts, issues cancellations, and verifies
//     and normalizes inbound notifications.
//   - Engine: the reconciliation state machine. Resolves the target account,
//     discards duplicates and stale snapshots, computes the new canonical
//     {tier, status, period end} from the provider payload, and commits it
//     together with the idempotency record in one store transaction.
//   - AccountStore: persistence contract for the cached account view plus
//     the idempotency ledger. See pgstore for the PostgreSQL implementation.
//   - Service: the public facade wiring gateway, store and engine, plus plan
//     catalog lookups and entitlement reads.
//
// # Reconciliation guarantees
//
// Notifications may be delivered more than once, out of order, or for
// subscriptions this system has never seen. The engine guarantees:
//
//   - Idempotence: an event ID is applied at most once; replays are no-ops.
//   - Atomicity: the account update and its idempotency record commit in a
//     single transaction, so a crash never leaves one without the other.
//   - Entitlement safety: a paid tier only ever coexists with the active,
//     past_due or cancel_scheduled statuses.
//   - Snapshot authority: the provider payload always wins over local state;
//     only events strictly older than the last applied one are discarded.
//
// # Usage
//
//	gateway, err := billing.NewStripeGateway(stripeCfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	svc, err := billing.NewService(ctx,
//		billing.FilePlansSource{Path: "plans.yml"},
//		gateway,
//		pgstore.New(pool),
//		billing.WithLogger(logger),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Intent path: the returned URL redirects the user to hosted checkout.
//	session, err := svc.CreateCheckoutSession(ctx, accountID, "price_pro_monthly", billing.CheckoutOptions{
//		SuccessURL: "https://app.example.com/billing/success",
//	})
//
//	// Notification path: wired to the provider's webhook endpoint.
//	outcome, err := svc.HandleNotification(ctx, rawBody, r.Header.Get("Stripe-Signature"))
package billing
