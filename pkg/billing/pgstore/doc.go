// Package pgstore is the PostgreSQL implementation of billing.AccountStore.
//
// Concurrency correctness for reconciliation rests entirely on this
// package's transactional guarantees: ApplyChange pairs the account update
// with the idempotency-ledger insert inside one transaction, using an
// optimistic updated_at check on the account row and the ledger's primary
// key to resolve races. No in-process locking is involved; any number of
// webhook handlers may reconcile concurrently against the same account.
//
// Schema migrations live in the migrations directory and are applied with
// pg.Migrate (goose).
package pgstore
