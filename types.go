package execctl

import (
	"github.com/wagiedev/execctl-go/internal/command"
	"github.com/wagiedev/execctl-go/internal/config"
	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/launcher"
	"github.com/wagiedev/execctl-go/internal/session"
)

// Class is the bytecode of one class to install in the worker.
type Class = command.Class

// State is the lifecycle state of a session.
type State = session.State

// Session states.
const (
	StateCreated    = session.StateCreated
	StateConnecting = session.StateConnecting
	StateReady      = session.StateReady
	StateInvoking   = session.StateInvoking
	StateClosed     = session.StateClosed
)

// Strategy selects how the worker is started.
type Strategy = config.Strategy

// Launch starts the worker directly under debug control.
type Launch = config.Launch

// Listen starts the worker as a plain subprocess that connects back to a
// listening debug endpoint.
type Listen = config.Listen

// Launcher starts workers. Use WithLauncher to replace the default.
type Launcher = session.Launcher

// LaunchResult is what a Launcher returns: a debug handle and a process.
type LaunchResult = launcher.Result

// Process is the OS handle of a running worker.
type Process = launcher.Process

// DebugVM is the debug handle of a running worker.
type DebugVM = debug.VM
