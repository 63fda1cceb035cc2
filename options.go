package execctl

import (
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/wagiedev/execctl-go/internal/config"
)

// Options configures a session.
type Options struct {
	config.Options

	// Launcher starts the worker. If nil, the built-in launcher is used.
	Launcher Launcher

	err error
}

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithConfigFile loads settings from a TOML file. Keys present in the file
// override options applied before it; options applied after it win. A file
// that cannot be loaded makes Open fail.
func WithConfigFile(path string) Option {
	return func(o *Options) {
		loaded, err := config.LoadFile(path, &o.Options)
		if err != nil {
			if o.err == nil {
				o.err = err
			}

			return
		}

		o.Options = *loaded
	}
}

// WithLauncher replaces the launcher used to start the worker.
func WithLauncher(l Launcher) Option {
	return func(o *Options) {
		o.Launcher = l
	}
}

// ===== Worker Process =====

// WithWorkerPath sets an explicit path to the execworker binary.
func WithWorkerPath(path string) Option {
	return func(o *Options) {
		o.WorkerPath = path
	}
}

// WithLaunch starts the worker directly under debug control. This is the
// default strategy.
func WithLaunch() Option {
	return func(o *Options) {
		o.Strategy = config.Launch{}
	}
}

// WithListen starts the worker as a plain subprocess that connects back to
// a debug listener on host. An empty host listens on the loopback interface.
func WithListen(host string) Option {
	return func(o *Options) {
		o.Strategy = config.Listen{Host: host}
	}
}

// WithEntryPoint sets the agent entry point passed to the worker.
func WithEntryPoint(entry string) Option {
	return func(o *Options) {
		o.EntryPoint = entry
	}
}

// WithVMOptions appends worker options placed ahead of the protocol arguments.
func WithVMOptions(options ...string) Option {
	return func(o *Options) {
		o.VMOptions = append(o.VMOptions, options...)
	}
}

// WithConnectorArgs sets connector arguments by name. Names the selected
// connector does not declare make Open fail with a ConfigError.
func WithConnectorArgs(args map[string]string) Option {
	return func(o *Options) {
		if o.ConnectorArgs == nil {
			o.ConnectorArgs = make(map[string]string, len(args))
		}

		maps.Copy(o.ConnectorArgs, args)
	}
}

// WithEnv provides additional environment variables for the worker.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}

		maps.Copy(o.Env, env)
	}
}

// WithCwd sets the working directory for the worker.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithAcceptTimeout bounds how long Open waits for the worker to connect back.
func WithAcceptTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.AcceptTimeout = timeout
	}
}

// WithDebugRequestTimeout bounds a single debug request.
func WithDebugRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.DebugRequestTimeout = timeout
	}
}

// ===== Streams and Callbacks =====

// WithStdin forwards r to the worker's standard input.
func WithStdin(r io.Reader) Option {
	return func(o *Options) {
		o.Stdin = r
	}
}

// WithStdout receives the worker's standard output.
func WithStdout(w io.Writer) Option {
	return func(o *Options) {
		o.Stdout = w
	}
}

// WithStderr receives the worker's standard error.
func WithStderr(w io.Writer) Option {
	return func(o *Options) {
		o.Stderr = w
	}
}

// WithWorkerStderr sets a callback for the diagnostic lines the worker
// process writes to its own stderr.
func WithWorkerStderr(handler func(string)) Option {
	return func(o *Options) {
		o.WorkerStderr = handler
	}
}

// WithOnTermination sets a callback invoked once when the worker dies or
// the connection to it is lost. It is not called for Close.
func WithOnTermination(handler func(reason string)) Option {
	return func(o *Options) {
		o.OnTermination = handler
	}
}
