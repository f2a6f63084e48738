package common

import (
	"context"
	"strings"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyIdentity  contextKey = "identity"
)

// Identity is the caller on whose behalf a reconciliation runs. It travels
// with the request context so access checks performed after asynchronous
// hops still see the original caller, never whatever identity a concurrent
// request put on the worker goroutine.
type Identity struct {
	Subject string
	Roles   []string
	Tenant  string
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	for _, r := range id.Roles {
		if strings.EqualFold(r, "admin") {
			return true
		}
	}
	return false
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

// IdentityFromContext extracts the caller identity from context
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(Identity)
	return id, ok
}

// Detach captures the request-scoped values (request id, identity) into a
// fresh context that is safe to carry across an asynchronous boundary. The
// parent's cancellation and deadline are deliberately not inherited: a
// reconciliation keeps running on pool workers after the originating
// goroutine returns, and a worker must never observe scope bled in from an
// unrelated in-flight request.
func Detach(ctx context.Context) context.Context {
	detached := context.Background()
	if rid := RequestIDFromContext(ctx); rid != "" {
		detached = WithRequestID(detached, rid)
	}
	if id, ok := IdentityFromContext(ctx); ok {
		detached = WithIdentity(detached, id)
	}
	return detached
}
