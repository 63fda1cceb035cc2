package execctl

import "github.com/wagiedev/execctl-go/internal/errors"

// Re-export error types from internal package

// ExecError is the base interface for all execution control errors.
type ExecError = errors.ExecError

// LaunchError indicates the worker could not be started or attached to.
type LaunchError = errors.LaunchError

// WorkerNotFoundError indicates the worker binary was not found.
type WorkerNotFoundError = errors.WorkerNotFoundError

// ConfigError indicates invalid session configuration.
type ConfigError = errors.ConfigError

// UserException indicates the invoked code raised an exception.
type UserException = errors.UserException

// ResolutionError indicates the invoked code has unresolved references.
type ResolutionError = errors.ResolutionError

// StoppedError indicates the invocation was interrupted by Stop.
type StoppedError = errors.StoppedError

// ExecutionFailure indicates the worker could not run the request.
type ExecutionFailure = errors.ExecutionFailure

// ClassInstallError indicates classes could not be loaded or redefined.
type ClassInstallError = errors.ClassInstallError

// NotImplementedError indicates the worker does not support a command.
type NotImplementedError = errors.NotImplementedError

// InternalError indicates a protocol or debug-handle failure.
type InternalError = errors.InternalError

// TerminationError indicates the worker is gone.
type TerminationError = errors.TerminationError

// Re-export sentinel errors from internal package.
var (
	// ErrSessionClosed indicates the session has been closed or the worker died.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrInvokeInProgress indicates another invoke is already outstanding.
	ErrInvokeInProgress = errors.ErrInvokeInProgress

	// ErrConnectorNotFound indicates no connector is registered for the strategy.
	ErrConnectorNotFound = errors.ErrConnectorNotFound

	// ErrAcceptTimeout indicates the worker did not connect back in time.
	ErrAcceptTimeout = errors.ErrAcceptTimeout

	// ErrIllegalArgument indicates an undeclared connector argument.
	ErrIllegalArgument = errors.ErrIllegalArgument

	// ErrNoGenerators indicates FailOver was called without generators.
	ErrNoGenerators = errNoGenerators
)

// IsRemote reports whether err was raised by code running in the worker.
func IsRemote(err error) bool {
	return errors.IsRemote(err)
}
