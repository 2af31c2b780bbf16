package billing

import "context"

// StatusProvider answers "what does the processor say about this session".
// Any returned error is treated by the poller as transient.
type StatusProvider interface {
	Fetch(ctx context.Context, sessionID string) (*RawStatus, error)
}

// StatusProviderFunc adapts a function to StatusProvider
type StatusProviderFunc func(ctx context.Context, sessionID string) (*RawStatus, error)

func (f StatusProviderFunc) Fetch(ctx context.Context, sessionID string) (*RawStatus, error) {
	return f(ctx, sessionID)
}
