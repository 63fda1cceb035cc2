// Package config provides configuration types for execution control sessions.
package config

import (
	"io"
	"log/slog"
	"time"
)

const (
	// DefaultEntryPoint is the worker-side agent entry point passed to the worker.
	DefaultEntryPoint = "execctl.agent"

	// DefaultAcceptTimeout bounds how long the controller waits for the worker
	// to connect back on the debug and command endpoints.
	DefaultAcceptTimeout = 5 * time.Second

	// DefaultDebugRequestTimeout bounds a single debug-protocol round trip.
	DefaultDebugRequestTimeout = 10 * time.Second
)

// Options configures how a session launches and talks to its worker.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Strategy selects how the worker is started: Launch or Listen.
	// If nil, Launch is used.
	Strategy Strategy

	// WorkerPath is the explicit path to the worker binary.
	// If empty, the worker is searched in PATH and common locations.
	WorkerPath string

	// EntryPoint names the agent the worker runs. Defaults to DefaultEntryPoint.
	EntryPoint string

	// VMOptions are extra worker options, placed ahead of the protocol
	// arguments on the worker command line.
	VMOptions []string

	// ConnectorArgs customises connector arguments by name. Names the selected
	// connector does not declare are rejected.
	ConnectorArgs map[string]string

	// Env provides additional environment variables for the worker process.
	Env map[string]string

	// Cwd sets the working directory for the worker process.
	Cwd string

	// AcceptTimeout bounds the wait for the worker to connect back.
	// If zero, DefaultAcceptTimeout is used.
	AcceptTimeout time.Duration

	// DebugRequestTimeout bounds a single debug request.
	// If zero, DefaultDebugRequestTimeout is used.
	DebugRequestTimeout time.Duration

	// Stdin is copied to the worker's "in" channel. Optional.
	Stdin io.Reader

	// Stdout receives the worker's "out" channel. Optional.
	Stdout io.Writer

	// Stderr receives the worker's "err" channel. Optional.
	Stderr io.Writer

	// WorkerStderr is called for every line the worker process writes to its
	// own stderr (outside the multiplexed channels).
	WorkerStderr func(string)

	// OnTermination is called once when the worker dies or the transport is
	// lost. It is not called for an explicit Close.
	OnTermination func(reason string)
}

// StrategyOrDefault returns the configured strategy or Launch.
func (o *Options) StrategyOrDefault() Strategy {
	if o.Strategy == nil {
		return Launch{}
	}

	return o.Strategy
}

// EntryPointOrDefault returns the configured entry point or DefaultEntryPoint.
func (o *Options) EntryPointOrDefault() string {
	if o.EntryPoint == "" {
		return DefaultEntryPoint
	}

	return o.EntryPoint
}

// AcceptTimeoutOrDefault returns the configured accept timeout or DefaultAcceptTimeout.
func (o *Options) AcceptTimeoutOrDefault() time.Duration {
	if o.AcceptTimeout <= 0 {
		return DefaultAcceptTimeout
	}

	return o.AcceptTimeout
}

// DebugRequestTimeoutOrDefault returns the configured debug request timeout
// or DefaultDebugRequestTimeout.
func (o *Options) DebugRequestTimeoutOrDefault() time.Duration {
	if o.DebugRequestTimeout <= 0 {
		return DefaultDebugRequestTimeout
	}

	return o.DebugRequestTimeout
}
