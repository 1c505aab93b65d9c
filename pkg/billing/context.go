package billing

import (
	"context"

	"github.com/google/uuid"
)

type accountIDCtxKey struct{}

// SetAccountIDToContext stores the authenticated account ID in the context.
// Auth middleware is expected to call this once the bearer token is checked.
func SetAccountIDToContext(ctx context.Context, accountID uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDCtxKey{}, accountID)
}

// GetAccountIDFromContext retrieves the authenticated account ID, if any.
func GetAccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	accountID, ok := ctx.Value(accountIDCtxKey{}).(uuid.UUID)
	return accountID, ok
}
