package tools

import "context"

type invocationKey struct{}

// Invocation identifies the gated tool call an adapter is running for.
type Invocation struct {
	SessionID string
	CallID    string
}

func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the zero Invocation when ctx carries none.
func InvocationFrom(ctx context.Context) Invocation {
	inv, _ := ctx.Value(invocationKey{}).(Invocation)
	return inv
}
