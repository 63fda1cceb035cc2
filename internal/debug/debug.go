// Package debug defines the debug-handle abstraction used to suspend a
// worker, inspect its threads and force a running invocation to unwind.
//
// The operations are deliberately narrow: instead of general stack and
// object inspection, callers locate the agent's client-code frame on a
// thread and flip named boolean markers on it. A real debug connection
// (see package debugwire) and in-process fakes satisfy the same contract.
package debug

import "context"

// Marker and field names on the agent's invocation object.
const (
	// MarkerInClientCode is true while the invocation is running user code.
	MarkerInClientCode = "inClientCode"

	// MarkerExpectingStop is set by the controller just before it throws the
	// stop signal, so the agent reports the unwind as a stop rather than as
	// a user exception.
	MarkerExpectingStop = "expectingStop"

	// FieldStopSignal holds the pre-allocated stop signal object.
	FieldStopSignal = "stopSignal"
)

// Entry points of the worker-side agent whose frames identify client code.
const (
	AgentType      = "execctl/agent.Agent"
	MethodInvoke   = "invoke"
	MethodVarValue = "varValue"
)

// ThreadID identifies a worker thread.
type ThreadID string

// ObjectID identifies an object in the worker.
type ObjectID string

// StackFrame describes one frame of a worker thread's call stack.
type StackFrame struct {
	// Type is the declaring type of the executing method.
	Type string `json:"type"`

	// Method is the executing method name.
	Method string `json:"method"`

	// This is the receiver object of the frame, empty for static frames.
	This ObjectID `json:"this,omitempty"`
}

// IsClientEntry reports whether the frame is one of the agent's
// invoke/query entry points.
func (f StackFrame) IsClientEntry() bool {
	return f.Type == AgentType && (f.Method == MethodInvoke || f.Method == MethodVarValue)
}

// FrameHandle binds a located client-code frame to its thread.
type FrameHandle struct {
	Thread ThreadID
	Frame  StackFrame
}

// VM is a debug connection to a worker process.
type VM interface {
	// Suspend suspends every thread of the worker.
	Suspend(ctx context.Context) error

	// Resume resumes every thread of the worker.
	Resume(ctx context.Context) error

	// Threads lists the worker's threads.
	Threads(ctx context.Context) ([]ThreadID, error)

	// LocateClientFrame scans thread's call stack for the agent's
	// invoke/query entry frame. found is false if the thread is not
	// running client code.
	LocateClientFrame(ctx context.Context, thread ThreadID) (frame FrameHandle, found bool, err error)

	// Marker reads a boolean marker on the frame's receiver.
	Marker(ctx context.Context, frame FrameHandle, name string) (bool, error)

	// SetMarker writes a boolean marker on the frame's receiver.
	SetMarker(ctx context.Context, frame FrameHandle, name string, value bool) error

	// StopSignal returns the pre-allocated stop signal held by the frame's receiver.
	StopSignal(ctx context.Context, frame FrameHandle) (ObjectID, error)

	// Throw makes thread unwind by throwing obj into it.
	Throw(ctx context.Context, thread ThreadID, obj ObjectID) error

	// Dispose closes the debug connection. It returns errors.ErrDisconnected
	// if the connection was already gone.
	Dispose() error
}

// EventKind is the kind of an asynchronous debug event.
type EventKind string

const (
	// EventVMDeath reports that the worker terminated.
	EventVMDeath EventKind = "vm_death"

	// EventVMDisconnect reports that the debug connection dropped.
	EventVMDisconnect EventKind = "vm_disconnect"

	// EventVMStart reports that the worker finished starting.
	EventVMStart EventKind = "vm_start"
)

// Event is an asynchronous notification from the worker.
type Event struct {
	Kind   EventKind `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// EventSource is implemented by debug connections that deliver
// asynchronous events. The channel is closed when the connection ends.
type EventSource interface {
	Events() <-chan Event
}
