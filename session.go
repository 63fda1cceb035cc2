package execctl

import (
	"context"
)

// Session controls one worker process.
//
// A session is single-use: once closed, or once its worker is gone, every
// operation fails with an error matching ErrSessionClosed. Open a new session
// to continue.
//
// Invoke and VarValue block until the worker answers. Stop, called from
// another goroutine, interrupts them without killing the worker. Only one
// command may be outstanding at a time.
//
// Example usage:
//
//	s, err := execctl.Open(ctx, execctl.WithStdout(os.Stdout))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	if err := s.Load(ctx, classes); err != nil {
//	    log.Fatal(err)
//	}
//
//	value, err := s.Invoke(ctx, "Snippet", "size")
type Session interface {
	// ID returns the session's unique identifier.
	ID() string

	// State returns the current lifecycle state.
	State() State

	// Invoke runs classRef.methodName in the worker and returns its result.
	// Returns *UserException, *ResolutionError, *StoppedError or
	// *ExecutionFailure for failures reported by the worker.
	Invoke(ctx context.Context, classRef, methodName string) (string, error)

	// VarValue returns the value of the variable varName held by classRef.
	VarValue(ctx context.Context, classRef, varName string) (string, error)

	// Load installs new classes in the worker.
	Load(ctx context.Context, classes []Class) error

	// Redefine replaces the bytes of already loaded classes.
	Redefine(ctx context.Context, classes []Class) error

	// AddToClasspath extends the worker's class path.
	AddToClasspath(ctx context.Context, path string) error

	// Stop interrupts the running Invoke or VarValue, if any. It is a no-op
	// when nothing is running.
	Stop(ctx context.Context) error

	// Close terminates the worker and releases all resources. It is idempotent.
	Close() error

	// Done is closed once the session has been closed and its resources
	// released.
	Done() <-chan struct{}

	// Err returns why the session ended, or nil while it is open.
	Err() error
}

// Open launches a worker and returns a ready session.
//
// Returns *WorkerNotFoundError if the worker binary is missing, *ConfigError
// for invalid options and *LaunchError when the worker cannot be started or
// does not connect back in time.
func Open(ctx context.Context, opts ...Option) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return open(ctx, applyOptions(opts))
}

// open starts a session from already applied options.
func open(ctx context.Context, options *Options) (Session, error) {
	if options.err != nil {
		return nil, &ConfigError{Err: options.err}
	}

	s := newSessionImpl(options.Launcher)
	if err := s.impl.Start(ctx, &options.Options); err != nil {
		return nil, err
	}

	return s, nil
}
