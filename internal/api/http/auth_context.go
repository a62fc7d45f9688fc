package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

type authContextKey string

const callerKey authContextKey = "caller"

// Caller is the identity an upstream gateway asserted for the request.
// Role is empty when the gateway did not say.
type Caller struct {
	UserID uuid.UUID
	Role   negotiation.Role
}

func withCaller(ctx context.Context, c *Caller) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, callerKey, c)
}

func callerFromContext(ctx context.Context) *Caller {
	if v, ok := ctx.Value(callerKey).(*Caller); ok {
		return v
	}
	return nil
}
