package execctl

import (
	"context"
	"fmt"
)

// WithSession manages session lifecycle with automatic cleanup.
//
// It opens a session with the provided options, runs fn and closes the
// session when fn returns. If Close fails, a warning is logged but does not
// override fn's error.
//
// Example usage:
//
//	err := execctl.WithSession(ctx, func(s execctl.Session) error {
//	    if err := s.Load(ctx, classes); err != nil {
//	        return err
//	    }
//	    _, err := s.Invoke(ctx, "Snippet", "size")
//	    return err
//	},
//	    execctl.WithLogger(log),
//	    execctl.WithStdout(os.Stdout),
//	)
func WithSession(ctx context.Context, fn func(Session) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	s, err := open(ctx, options)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			log.Warn("Failed to close session", "error", closeErr)
		}
	}()

	return fn(s)
}
