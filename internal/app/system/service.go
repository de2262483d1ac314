package system

import "context"

// Service represents a lifecycle-managed component. Long-running modules
// (the scheduler runner, the live hub, the HTTP listener) implement this
// interface so the runtime can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
