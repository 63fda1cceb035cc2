package errors

import (
	"errors"
	"fmt"
)

// ExecError is the base interface for all execution control errors.
type ExecError interface {
	error
	IsExecError() bool
}

// Compile-time verification that all error types implement ExecError.
var (
	_ ExecError = (*LaunchError)(nil)
	_ ExecError = (*WorkerNotFoundError)(nil)
	_ ExecError = (*ConfigError)(nil)
	_ ExecError = (*UserException)(nil)
	_ ExecError = (*ResolutionError)(nil)
	_ ExecError = (*StoppedError)(nil)
	_ ExecError = (*ExecutionFailure)(nil)
	_ ExecError = (*ClassInstallError)(nil)
	_ ExecError = (*NotImplementedError)(nil)
	_ ExecError = (*InternalError)(nil)
	_ ExecError = (*TerminationError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSessionClosed indicates the session has been closed or the worker died.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvokeInProgress indicates another invoke is already outstanding.
	ErrInvokeInProgress = errors.New("invoke already in progress")

	// ErrConnectorNotFound indicates no connector is registered under the requested name.
	ErrConnectorNotFound = errors.New("connector not found")

	// ErrAcceptTimeout indicates the worker did not connect back in time.
	ErrAcceptTimeout = errors.New("timed out waiting for worker to connect")

	// ErrIllegalArgument indicates a connector argument the connector does not declare.
	ErrIllegalArgument = errors.New("illegal connector argument")

	// ErrDisconnected indicates the debug connection is already gone.
	ErrDisconnected = errors.New("debug connection disconnected")

	// ErrRequestTimeout indicates a debug request timed out.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrNotStarted indicates an operation on a session that has not been started.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted indicates Start was called on a session more than once.
	ErrAlreadyStarted = errors.New("session already started")
)

// LaunchError indicates the worker could not be started or attached to.
// Launch errors are fatal and never retried internally.
type LaunchError struct {
	Strategy string
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch worker (%s): %v", e.Strategy, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsExecError implements ExecError.
func (e *LaunchError) IsExecError() bool { return true }

// WorkerNotFoundError indicates the worker binary was not found.
type WorkerNotFoundError struct {
	SearchedPaths []string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("worker binary not found in: %v", e.SearchedPaths)
}

// IsExecError implements ExecError.
func (e *WorkerNotFoundError) IsExecError() bool { return true }

// ConfigError indicates invalid launcher or session configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}

	return fmt.Sprintf("invalid configuration %q: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsExecError implements ExecError.
func (e *ConfigError) IsExecError() bool { return true }

// UserException indicates the invoked code raised an exception in the worker.
type UserException struct {
	ClassName string
	Message   string
	Trace     []string
}

func (e *UserException) Error() string {
	if e.ClassName == "" {
		return fmt.Sprintf("user exception: %s", e.Message)
	}

	return fmt.Sprintf("user exception %s: %s", e.ClassName, e.Message)
}

// IsExecError implements ExecError.
func (e *UserException) IsExecError() bool { return true }

// ResolutionError indicates the invoked code referenced something that is
// not resolvable in the worker.
type ResolutionError struct {
	ID      string
	Message string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unresolved reference %s: %s", e.ID, e.Message)
}

// IsExecError implements ExecError.
func (e *ResolutionError) IsExecError() bool { return true }

// StoppedError indicates an invoke was unwound by Stop.
type StoppedError struct{}

func (e *StoppedError) Error() string {
	return "execution stopped"
}

// IsExecError implements ExecError.
func (e *StoppedError) IsExecError() bool { return true }

// ExecutionFailure is a generic failure reported by the worker.
type ExecutionFailure struct {
	Message string
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failed: %s", e.Message)
}

// IsExecError implements ExecError.
func (e *ExecutionFailure) IsExecError() bool { return true }

// ClassInstallError indicates the worker rejected a load or redefine.
type ClassInstallError struct {
	Message string
}

func (e *ClassInstallError) Error() string {
	return fmt.Sprintf("class install failed: %s", e.Message)
}

// IsExecError implements ExecError.
func (e *ClassInstallError) IsExecError() bool { return true }

// NotImplementedError indicates the worker does not support a command.
type NotImplementedError struct {
	Command string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("command not implemented by worker: %s", e.Command)
}

// IsExecError implements ExecError.
func (e *NotImplementedError) IsExecError() bool { return true }

// InternalError indicates a protocol violation or a failed debug-handle
// manipulation.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error during %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// IsExecError implements ExecError.
func (e *InternalError) IsExecError() bool { return true }

// TerminationError indicates an operation on a session whose worker is gone.
// It always matches ErrSessionClosed.
type TerminationError struct {
	Reason string
	Err    error
}

func (e *TerminationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker terminated (%s): %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("worker terminated: %s", e.Reason)
}

func (e *TerminationError) Unwrap() error {
	if e.Err != nil {
		return errors.Join(ErrSessionClosed, e.Err)
	}

	return ErrSessionClosed
}

// IsExecError implements ExecError.
func (e *TerminationError) IsExecError() bool { return true }

// IsRemote reports whether err was reported by the worker while executing
// user code, as opposed to a local, protocol or lifecycle failure.
func IsRemote(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := errors.AsType[*UserException](err); ok {
		return true
	}

	if _, ok := errors.AsType[*ResolutionError](err); ok {
		return true
	}

	if _, ok := errors.AsType[*StoppedError](err); ok {
		return true
	}

	if _, ok := errors.AsType[*ExecutionFailure](err); ok {
		return true
	}

	if _, ok := errors.AsType[*ClassInstallError](err); ok {
		return true
	}

	_, ok := errors.AsType[*NotImplementedError](err)

	return ok
}
