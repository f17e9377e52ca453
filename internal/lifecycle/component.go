package lifecycle

import "context"

// Component is anything the Manager starts and stops: the tracing provider,
// the vector store connection, the policy watcher and the API server.
type Component interface {
	// Start brings the component up. The context bounds startup only; long
	// running work must not hold on to it.
	Start(ctx context.Context) error

	// Stop releases the component's resources within the context deadline.
	// An error is logged by the Manager but does not stop other components.
	Stop(ctx context.Context) error

	// Name is used in logs and error messages and must not be empty.
	Name() string
}

// Func adapts a pair of functions to Component. Either function may be nil.
type Func struct {
	ComponentName string
	StartFunc     func(ctx context.Context) error
	StopFunc      func(ctx context.Context) error
}

// Start implements Component.
func (f *Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

// Stop implements Component.
func (f *Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

// Name implements Component.
func (f *Func) Name() string {
	return f.ComponentName
}
