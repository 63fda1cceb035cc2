package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/debugwire"
)

// MainThread is the thread serving the command channel.
const MainThread debug.ThreadID = "main"

// ErrStopped is the cause of a program context cancelled by the stop signal.
var ErrStopped = stderrors.New("stopped by controller")

// invocation is the agent-side object behind one invoke or var_value call.
type invocation struct {
	id     debug.ObjectID
	thread debug.ThreadID
	signal debug.ObjectID
	entry  string
	class  string
	member string

	cancel context.CancelCauseFunc

	mu            sync.Mutex
	inClientCode  bool
	expectingStop bool
	thrown        bool
	killed        bool // expectingStop was set when the signal was thrown
	finished      bool
}

func (inv *invocation) setInClientCode(v bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.inClientCode = v
}

// outcome reports whether the invocation was thrown and, if so, whether the
// controller expected the stop.
func (inv *invocation) outcome() (thrown, killed bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	return inv.thrown, inv.killed
}

var _ debugwire.Target = (*Agent)(nil)

type agentKey struct{}

// Checkpoint returns nil once the worker is not suspended. It returns
// ErrStopped if the invocation running on ctx has been stopped, and the
// context's error if ctx ends for another reason.
func Checkpoint(ctx context.Context) error {
	a, _ := ctx.Value(agentKey{}).(*Agent)

	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		if a == nil {
			return nil
		}

		a.gateMu.Lock()
		gate := a.resumed
		a.gateMu.Unlock()

		if gate == nil {
			return nil
		}

		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
}

func (a *Agent) Suspend() error {
	a.gateMu.Lock()
	defer a.gateMu.Unlock()

	if a.resumed == nil {
		a.resumed = make(chan struct{})
		a.log.Debug("Worker suspended")
	}

	return nil
}

func (a *Agent) Resume() error {
	a.gateMu.Lock()
	defer a.gateMu.Unlock()

	if a.resumed != nil {
		close(a.resumed)
		a.resumed = nil
		a.log.Debug("Worker resumed")
	}

	return nil
}

func (a *Agent) Threads() []debug.ThreadID {
	a.invMu.Lock()
	defer a.invMu.Unlock()

	threads := []debug.ThreadID{MainThread}

	for _, id := range slices.Sorted(maps.Keys(a.invocations)) {
		inv := a.invocations[id]

		inv.mu.Lock()
		finished := inv.finished
		inv.mu.Unlock()

		if !finished {
			threads = append(threads, inv.thread)
		}
	}

	return threads
}

func (a *Agent) Frames(thread debug.ThreadID) ([]debug.StackFrame, error) {
	if thread == MainThread {
		return []debug.StackFrame{{Type: debug.AgentType, Method: "serve"}}, nil
	}

	inv, err := a.byThread(thread)
	if err != nil {
		return nil, err
	}

	return []debug.StackFrame{
		{Type: inv.class, Method: inv.member},
		{Type: debug.AgentType, Method: inv.entry, This: inv.id},
	}, nil
}

func (a *Agent) Bool(obj debug.ObjectID, name string) (bool, error) {
	inv, err := a.byObject(obj)
	if err != nil {
		return false, err
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	switch name {
	case debug.MarkerInClientCode:
		return inv.inClientCode, nil
	case debug.MarkerExpectingStop:
		return inv.expectingStop, nil
	default:
		return false, fmt.Errorf("no boolean field %q on %s", name, obj)
	}
}

func (a *Agent) SetBool(obj debug.ObjectID, name string, value bool) error {
	inv, err := a.byObject(obj)
	if err != nil {
		return err
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	switch name {
	case debug.MarkerInClientCode:
		inv.inClientCode = value
	case debug.MarkerExpectingStop:
		inv.expectingStop = value
	default:
		return fmt.Errorf("no boolean field %q on %s", name, obj)
	}

	return nil
}

func (a *Agent) Object(obj debug.ObjectID, name string) (debug.ObjectID, error) {
	inv, err := a.byObject(obj)
	if err != nil {
		return "", err
	}

	if name != debug.FieldStopSignal {
		return "", fmt.Errorf("no object field %q on %s", name, obj)
	}

	return inv.signal, nil
}

// Throw cancels the invocation running on thread. Throwing into an
// invocation that has already finished is a no-op.
func (a *Agent) Throw(thread debug.ThreadID, obj debug.ObjectID) error {
	inv, err := a.byThread(thread)
	if err != nil {
		return err
	}

	if obj != inv.signal {
		return fmt.Errorf("object %s is not the stop signal of %s", obj, thread)
	}

	inv.mu.Lock()

	if inv.finished || inv.thrown {
		inv.mu.Unlock()
		a.log.Debug("Stop signal arrived after invocation ended", "thread", thread)

		return nil
	}

	inv.thrown = true
	inv.killed = inv.expectingStop
	killed := inv.killed
	inv.mu.Unlock()

	a.log.Info("Stopping invocation", "thread", thread, "expected", killed)
	inv.cancel(ErrStopped)

	return nil
}

func (a *Agent) byThread(thread debug.ThreadID) (*invocation, error) {
	a.invMu.Lock()
	defer a.invMu.Unlock()

	for _, inv := range a.invocations {
		if inv.thread == thread {
			return inv, nil
		}
	}

	return nil, fmt.Errorf("no such thread %s", thread)
}

func (a *Agent) byObject(obj debug.ObjectID) (*invocation, error) {
	a.invMu.Lock()
	defer a.invMu.Unlock()

	inv, ok := a.invocations[obj]
	if !ok {
		return nil, fmt.Errorf("no such object %s", obj)
	}

	return inv, nil
}
