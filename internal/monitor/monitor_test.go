package monitor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/execctl-go/internal/debug"
)

// plainVM implements debug.VM without event support.
type plainVM struct{}

func (plainVM) Suspend(context.Context) error                     { return nil }
func (plainVM) Resume(context.Context) error                      { return nil }
func (plainVM) Threads(context.Context) ([]debug.ThreadID, error) { return nil, nil }
func (plainVM) LocateClientFrame(context.Context, debug.ThreadID) (debug.FrameHandle, bool, error) {
	return debug.FrameHandle{}, false, nil
}
func (plainVM) Marker(context.Context, debug.FrameHandle, string) (bool, error) { return false, nil }
func (plainVM) SetMarker(context.Context, debug.FrameHandle, string, bool) error {
	return nil
}
func (plainVM) StopSignal(context.Context, debug.FrameHandle) (debug.ObjectID, error) {
	return "", nil
}
func (plainVM) Throw(context.Context, debug.ThreadID, debug.ObjectID) error { return nil }
func (plainVM) Dispose() error                                              { return nil }

// eventVM adds an event channel.
type eventVM struct {
	plainVM
	events chan debug.Event
}

func (e *eventVM) Events() <-chan debug.Event { return e.events }

type recorder struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 8)}
}

func (r *recorder) handler(name string) Handler {
	return func(reason string) {
		r.mu.Lock()
		r.calls = append(r.calls, name+":"+reason)
		r.mu.Unlock()

		r.done <- struct{}{}
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

func waitCalls(t *testing.T, r *recorder, n int) {
	t.Helper()

	for range n {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("handlers not called, got %v", r.snapshot())
		}
	}
}

func TestMonitor_FiresHandlersInOrderOnce(t *testing.T) {
	vm := &eventVM{events: make(chan debug.Event, 4)}
	rec := newRecorder()

	m := New(slog.Default(), vm)
	require.True(t, m.Supported())

	m.AddHandler(rec.handler("first"))
	m.AddHandler(rec.handler("second"))
	m.Start(context.Background())

	vm.events <- debug.Event{Kind: debug.EventVMStart}
	vm.events <- debug.Event{Kind: debug.EventVMDeath}
	vm.events <- debug.Event{Kind: debug.EventVMDisconnect}

	waitCalls(t, rec, 2)
	m.Stop()

	require.Equal(t, []string{
		"first:" + ReasonTerminated,
		"second:" + ReasonTerminated,
	}, rec.snapshot())
}

func TestMonitor_ClosedEventChannelIsDisconnect(t *testing.T) {
	vm := &eventVM{events: make(chan debug.Event)}
	rec := newRecorder()

	m := New(slog.Default(), vm)
	m.AddHandler(rec.handler("h"))
	m.Start(context.Background())

	close(vm.events)

	waitCalls(t, rec, 1)
	m.Stop()

	require.Equal(t, []string{"h:" + ReasonDisconnected}, rec.snapshot())
}

func TestMonitor_NoEventSupportIsNoop(t *testing.T) {
	rec := newRecorder()

	m := New(slog.Default(), plainVM{})
	require.False(t, m.Supported())

	m.AddHandler(rec.handler("h"))
	m.Start(context.Background())
	m.Stop()

	require.Empty(t, rec.snapshot())
}

func TestMonitor_StopDoesNotFire(t *testing.T) {
	vm := &eventVM{events: make(chan debug.Event)}
	rec := newRecorder()

	m := New(slog.Default(), vm)
	m.AddHandler(rec.handler("h"))
	m.Start(context.Background())
	m.Stop()
	m.Stop()

	close(vm.events)
	time.Sleep(20 * time.Millisecond)

	require.Empty(t, rec.snapshot())
}
