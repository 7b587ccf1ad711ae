// Package reqctx carries request-scoped values through a context.Context.
package reqctx

import (
	"context"

	"github.com/aliskhannn/pixmix-relay/internal/model"
)

type key struct{}

// Values holds everything attached to a single inbound request.
type Values struct {
	RequestID string
	Identity  *model.Identity
}

// With returns a copy of ctx that carries v.
func With(ctx context.Context, v Values) context.Context {
	return context.WithValue(ctx, key{}, v)
}

// From returns the values stored in ctx, or the zero Values.
func From(ctx context.Context) Values {
	v, _ := ctx.Value(key{}).(Values)
	return v
}

// RequestID is a shorthand for From(ctx).RequestID.
func RequestID(ctx context.Context) string {
	return From(ctx).RequestID
}

// WithIdentity attaches the authenticated caller, keeping the other values.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	v := From(ctx)
	v.Identity = &id
	return With(ctx, v)
}
