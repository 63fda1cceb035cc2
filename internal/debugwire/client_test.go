package debugwire

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/errors"
)

// fakeTarget implements Target with one invocation thread.
type fakeTarget struct {
	mu        sync.Mutex
	suspended int
	resumed   int
	bools     map[string]bool
	thrown    []string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		bools: map[string]bool{
			debug.MarkerInClientCode:  true,
			debug.MarkerExpectingStop: false,
		},
	}
}

func (f *fakeTarget) Suspend() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.suspended++

	return nil
}

func (f *fakeTarget) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resumed++

	return nil
}

func (f *fakeTarget) Threads() []debug.ThreadID {
	return []debug.ThreadID{"main", "invoke-1"}
}

func (f *fakeTarget) Frames(thread debug.ThreadID) ([]debug.StackFrame, error) {
	switch thread {
	case "main":
		return []debug.StackFrame{{Type: "execctl/agent.Agent", Method: "serve"}}, nil
	case "invoke-1":
		return []debug.StackFrame{
			{Type: "programs.Loop", Method: "run"},
			{Type: debug.AgentType, Method: debug.MethodInvoke, This: "inv-1"},
		}, nil
	default:
		return nil, fmt.Errorf("no such thread %s", thread)
	}
}

func (f *fakeTarget) Bool(obj debug.ObjectID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if obj != "inv-1" {
		return false, fmt.Errorf("no such object %s", obj)
	}

	return f.bools[name], nil
}

func (f *fakeTarget) SetBool(obj debug.ObjectID, name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bools[name] = value

	return nil
}

func (f *fakeTarget) Object(obj debug.ObjectID, name string) (debug.ObjectID, error) {
	if name != debug.FieldStopSignal {
		return "", nil
	}

	return "stop-1", nil
}

func (f *fakeTarget) Throw(thread debug.ThreadID, obj debug.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.thrown = append(f.thrown, string(thread)+":"+string(obj))

	return nil
}

func startPair(t *testing.T, target Target) (*Client, *Server, chan error) {
	t.Helper()

	controllerConn, workerConn := net.Pipe()

	server := NewServer(slog.Default(), target, workerConn)
	served := make(chan error, 1)

	go func() {
		served <- server.Serve()
	}()

	client := NewClient(slog.Default(), controllerConn, 2*time.Second)
	client.Start()

	t.Cleanup(func() {
		_ = client.Dispose()
	})

	return client, server, served
}

func TestClient_StopSequence(t *testing.T) {
	target := newFakeTarget()
	client, _, _ := startPair(t, target)
	ctx := context.Background()

	require.NoError(t, client.Suspend(ctx))

	threads, err := client.Threads(ctx)
	require.NoError(t, err)
	require.Equal(t, []debug.ThreadID{"main", "invoke-1"}, threads)

	_, found, err := client.LocateClientFrame(ctx, "main")
	require.NoError(t, err)
	require.False(t, found)

	frame, found, err := client.LocateClientFrame(ctx, "invoke-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, debug.ObjectID("inv-1"), frame.Frame.This)

	inClient, err := client.Marker(ctx, frame, debug.MarkerInClientCode)
	require.NoError(t, err)
	require.True(t, inClient)

	require.NoError(t, client.SetMarker(ctx, frame, debug.MarkerExpectingStop, true))

	signal, err := client.StopSignal(ctx, frame)
	require.NoError(t, err)
	require.Equal(t, debug.ObjectID("stop-1"), signal)

	require.NoError(t, client.Resume(ctx))
	require.NoError(t, client.Throw(ctx, frame.Thread, signal))

	target.mu.Lock()
	defer target.mu.Unlock()

	require.Equal(t, 1, target.suspended)
	require.Equal(t, 1, target.resumed)
	require.True(t, target.bools[debug.MarkerExpectingStop])
	require.Equal(t, []string{"invoke-1:stop-1"}, target.thrown)
}

func TestClient_ErrorResponse(t *testing.T) {
	client, _, _ := startPair(t, newFakeTarget())

	_, _, err := client.LocateClientFrame(context.Background(), "ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no such thread ghost")

	// The connection survives an error response.
	require.NoError(t, client.Suspend(context.Background()))
}

func TestClient_Events(t *testing.T) {
	client, server, _ := startPair(t, newFakeTarget())

	require.NoError(t, server.SendEvent(debug.Event{Kind: debug.EventVMDeath, Detail: "exit 0"}))

	select {
	case ev := <-client.Events():
		require.Equal(t, debug.EventVMDeath, ev.Kind)
		require.Equal(t, "exit 0", ev.Detail)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestClient_Dispose(t *testing.T) {
	client, _, served := startPair(t, newFakeTarget())

	require.NoError(t, client.Dispose())
	require.NoError(t, <-served)

	// Second dispose reports the connection as already gone.
	require.ErrorIs(t, client.Dispose(), errors.ErrDisconnected)

	// Events channel is closed once the read loop stops.
	_, ok := <-client.Events()
	require.False(t, ok)

	err := client.Suspend(context.Background())
	require.ErrorIs(t, err, errors.ErrDisconnected)
}

func TestClient_DisposeAfterPeerLoss(t *testing.T) {
	controllerConn, workerConn := net.Pipe()

	client := NewClient(slog.Default(), controllerConn, time.Second)
	client.Start()

	require.NoError(t, workerConn.Close())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe peer loss")
	}

	require.ErrorIs(t, client.FatalError(), errors.ErrDisconnected)
	require.ErrorIs(t, client.Dispose(), errors.ErrDisconnected)
}

func TestClient_RequestTimeout(t *testing.T) {
	controllerConn, workerConn := net.Pipe()
	defer workerConn.Close()

	// Drain requests without answering them.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := workerConn.Read(buf); err != nil {
				return
			}
		}
	}()

	client := NewClient(slog.Default(), controllerConn, 50*time.Millisecond)
	client.Start()

	defer client.Dispose()

	err := client.Suspend(context.Background())
	require.ErrorIs(t, err, errors.ErrRequestTimeout)

	client.pendingMu.RLock()
	defer client.pendingMu.RUnlock()

	require.Empty(t, client.pending)
}
