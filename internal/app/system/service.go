package system

import "context"

// Service is a background component owned by the Manager: the feed hub, the
// realtime relay and the purchase reconciler. Start must not block; Stop
// waits for the component's goroutines to exit or ctx to expire.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
