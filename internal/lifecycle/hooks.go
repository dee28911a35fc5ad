package lifecycle

import "context"

// Hook describes a named shutdown hook.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// StopFunc adapts a blocking stop call without a context to a hook function.
// The hook returns when stop returns or ctx is done, whichever comes first.
func StopFunc(stop func()) func(context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			defer close(done)
			stop()
		}()

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CloseFunc adapts an io.Closer style function to a hook function.
func CloseFunc(closeFn func() error) func(context.Context) error {
	return func(context.Context) error {
		return closeFn()
	}
}
