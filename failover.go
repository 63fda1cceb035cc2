package execctl

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

var errNoGenerators = errors.New("no session generators")

// Generator opens a session. Generators are tried in order by FailOver.
type Generator func(ctx context.Context) (Session, error)

// Launching returns a generator that starts the worker directly under debug
// control.
func Launching(opts ...Option) Generator {
	return func(ctx context.Context) (Session, error) {
		return Open(ctx, append(slices.Clone(opts), WithLaunch())...)
	}
}

// Listening returns a generator that starts the worker as a plain subprocess
// which connects back to a debug listener on host.
func Listening(host string, opts ...Option) Generator {
	return func(ctx context.Context) (Session, error) {
		return Open(ctx, append(slices.Clone(opts), WithListen(host))...)
	}
}

// FailOver tries each generator in order and returns the first session that
// opens. If all of them fail, the error of the first generator is returned.
// Later errors are logged at debug level through slog's default logger.
func FailOver(ctx context.Context, generators ...Generator) (Session, error) {
	if len(generators) == 0 {
		return nil, errNoGenerators
	}

	var first error

	for i, gen := range generators {
		if err := ctx.Err(); err != nil {
			if first == nil {
				first = err
			}

			break
		}

		s, err := gen(ctx)
		if err == nil {
			return s, nil
		}

		if first == nil {
			first = err

			continue
		}

		slog.Debug("Session generator failed", "index", i, "error", err)
	}

	return nil, first
}
