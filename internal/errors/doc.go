// Package errors defines the error taxonomy for execution control.
//
// Errors fall into five groups: launch errors (worker could not be started
// or attached to), transport errors (surfaced as termination on later calls),
// remote-execution errors (reported by the worker while running user code),
// internal errors (protocol violations and failed debug-handle manipulation)
// and termination errors (operations after the worker is gone). All error
// types support unwrapping and can be checked using errors.Is, errors.As and
// errors.AsType.
package errors
