package session

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/execctl-go/internal/agent"
	"github.com/wagiedev/execctl-go/internal/command"
	"github.com/wagiedev/execctl-go/internal/config"
	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/debugwire"
	"github.com/wagiedev/execctl-go/internal/errors"
	"github.com/wagiedev/execctl-go/internal/launcher"
)

// countingVM counts suspend and resume round trips and lets tests inject
// debug events and failures.
type countingVM struct {
	debug.VM

	suspends atomic.Int32
	resumes  atomic.Int32
	events   chan debug.Event

	mu     sync.Mutex
	failOp string
}

var _ debug.EventSource = (*countingVM)(nil)

var errInjected = stderrors.New("injected debug failure")

// failOn makes the named operation fail until it is reset with "".
func (v *countingVM) failOn(op string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.failOp = op
}

func (v *countingVM) injected(op string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failOp == op {
		return errInjected
	}

	return nil
}

func (v *countingVM) Threads(ctx context.Context) ([]debug.ThreadID, error) {
	if err := v.injected("threads"); err != nil {
		return nil, err
	}

	return v.VM.Threads(ctx)
}

func (v *countingVM) LocateClientFrame(
	ctx context.Context,
	thread debug.ThreadID,
) (debug.FrameHandle, bool, error) {
	if err := v.injected("locate"); err != nil {
		return debug.FrameHandle{}, false, err
	}

	if v.injected("hide") != nil {
		return debug.FrameHandle{}, false, nil
	}

	return v.VM.LocateClientFrame(ctx, thread)
}

func (v *countingVM) Marker(ctx context.Context, frame debug.FrameHandle, name string) (bool, error) {
	if err := v.injected("marker"); err != nil {
		return false, err
	}

	return v.VM.Marker(ctx, frame, name)
}

func (v *countingVM) Throw(ctx context.Context, thread debug.ThreadID, obj debug.ObjectID) error {
	if err := v.injected("throw"); err != nil {
		return err
	}

	return v.VM.Throw(ctx, thread, obj)
}

func (v *countingVM) Suspend(ctx context.Context) error {
	v.suspends.Add(1)

	return v.VM.Suspend(ctx)
}

func (v *countingVM) Resume(ctx context.Context) error {
	v.resumes.Add(1)

	return v.VM.Resume(ctx)
}

func (v *countingVM) Events() <-chan debug.Event {
	return v.events
}

// fakeProcess stands in for the worker process.
type fakeProcess struct {
	kills  atomic.Int32
	once   sync.Once
	done   chan struct{}
	onKill func()
}

var _ launcher.Process = (*fakeProcess)(nil)

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.once.Do(func() {
		if p.onKill != nil {
			p.onKill()
		}

		close(p.done)
	})

	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.done

	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

// fakeLauncher runs an in-process agent that dials the session's command port.
type fakeLauncher struct {
	fail   error
	noDial bool

	mu     sync.Mutex
	vm     *countingVM
	proc   *fakeProcess
	worker net.Conn
}

var _ Launcher = (*fakeLauncher)(nil)

func (l *fakeLauncher) Launch(
	_ context.Context,
	strategy config.Strategy,
	_ *config.Options,
	commandPort int,
) (*launcher.Result, error) {
	if l.fail != nil {
		return nil, &errors.LaunchError{Strategy: strategy.Name(), Err: l.fail}
	}

	a := agent.New(&agent.Options{
		Logger:   slog.Default(),
		Programs: agent.Builtins(),
		Vars:     agent.BuiltinVars(),
		System:   agent.BuiltinClasses(),
	})

	controllerDbg, workerDbg := net.Pipe()

	go func() {
		_ = debugwire.NewServer(slog.Default(), a, workerDbg).Serve()
	}()

	client := debugwire.NewClient(slog.Default(), controllerDbg, 2*time.Second)
	client.Start()

	vm := &countingVM{VM: client, events: make(chan debug.Event, 4)}
	proc := &fakeProcess{done: make(chan struct{})}

	var worker net.Conn

	if !l.noDial {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", commandPort))
		if err != nil {
			return nil, err
		}

		worker = conn

		go func() {
			_ = a.Serve(context.Background(), conn)
		}()
	}

	proc.onKill = func() {
		if worker != nil {
			_ = worker.Close()
		}

		_ = workerDbg.Close()
	}

	l.mu.Lock()
	l.vm, l.proc, l.worker = vm, proc, worker
	l.mu.Unlock()

	return &launcher.Result{VM: vm, Process: proc}, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type terminations struct {
	mu      sync.Mutex
	reasons []string
}

func (r *terminations) record(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reasons = append(r.reasons, reason)
}

func (r *terminations) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.reasons...)
}

type fixture struct {
	session  *Session
	launcher *fakeLauncher
	out      *syncBuffer
	terms    *terminations
}

func start(t *testing.T) *fixture {
	t.Helper()

	return startWith(t, nil)
}

// startWith starts a session whose OnTermination records the reason and
// then calls onTerm, if set.
func startWith(t *testing.T, onTerm func(s *Session, reason string)) *fixture {
	t.Helper()

	f := &fixture{
		launcher: &fakeLauncher{},
		out:      &syncBuffer{},
		terms:    &terminations{},
	}
	f.session = New(f.launcher)

	err := f.session.Start(context.Background(), &config.Options{
		Logger:        slog.Default(),
		Stdout:        f.out,
		AcceptTimeout: 2 * time.Second,
		OnTermination: func(reason string) {
			f.terms.record(reason)

			if onTerm != nil {
				onTerm(f.session, reason)
			}
		},
	})
	require.NoError(t, err)
	require.Equal(t, StateReady, f.session.State())

	t.Cleanup(func() {
		_ = f.session.Close()
	})

	return f
}

// invokeAsync runs Invoke on its own goroutine and waits until the session
// reports it as running.
func invokeAsync(t *testing.T, s *Session, class, method string) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)

	go func() {
		_, err := s.Invoke(context.Background(), class, method)
		errCh <- err
	}()

	require.Eventually(t, s.isRunning, 2*time.Second, 5*time.Millisecond)

	return errCh
}

// waitInClientCode waits until the worker runs client code, without
// suspending it.
func waitInClientCode(t *testing.T, vm *countingVM) {
	t.Helper()

	ctx := context.Background()

	require.Eventually(t, func() bool {
		threads, err := vm.VM.Threads(ctx)
		if err != nil {
			return false
		}

		for _, thread := range threads {
			frame, found, err := vm.VM.LocateClientFrame(ctx, thread)
			if err != nil || !found {
				continue
			}

			if in, err := vm.VM.Marker(ctx, frame, debug.MarkerInClientCode); err == nil && in {
				return true
			}
		}

		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func requireStopped(t *testing.T, errCh <-chan error) {
	t.Helper()

	select {
	case err := <-errCh:
		_, ok := stderrors.AsType[*errors.StoppedError](err)
		require.True(t, ok, "got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("invoke was not stopped")
	}
}

func TestSession_InvokeEcho(t *testing.T) {
	f := start(t)

	result, err := f.session.Invoke(context.Background(), "Echo", "run")
	require.NoError(t, err)
	require.Equal(t, "5", result)

	require.Eventually(t, func() bool {
		return f.out.String() == "hello"
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, StateReady, f.session.State())
}

func TestSession_VarValueAndLoad(t *testing.T) {
	f := start(t)
	ctx := context.Background()

	value, err := f.session.VarValue(ctx, "Echo", "greeting")
	require.NoError(t, err)
	require.Equal(t, "hello", value)

	require.NoError(t, f.session.Load(ctx, []command.Class{{Name: "S1", Bytes: []byte{1}}}))
	require.NoError(t, f.session.Redefine(ctx, []command.Class{{Name: "S1", Bytes: []byte{2}}}))
	require.NoError(t, f.session.AddToClasspath(ctx, "/tmp/extra"))

	err = f.session.Load(ctx, []command.Class{{Name: "S1", Bytes: []byte{3}}})

	_, ok := stderrors.AsType[*errors.ClassInstallError](err)
	require.True(t, ok)
}

func TestSession_RemoteErrorsAreTyped(t *testing.T) {
	f := start(t)

	_, err := f.session.Invoke(context.Background(), "Fail", "run")

	ue, ok := stderrors.AsType[*errors.UserException](err)
	require.True(t, ok)
	require.Equal(t, "IllegalStateException", ue.ClassName)

	// The session stays usable after a remote failure.
	result, err := f.session.Invoke(context.Background(), "Echo", "run")
	require.NoError(t, err)
	require.Equal(t, "5", result)
}

func TestSession_StopWithoutInvokeIsNoop(t *testing.T) {
	f := start(t)

	require.NoError(t, f.session.Stop(context.Background()))

	require.Zero(t, f.launcher.vm.suspends.Load())
	require.Zero(t, f.launcher.vm.resumes.Load())
}

func TestSession_StopUnblocksInvoke(t *testing.T) {
	f := start(t)

	vm := f.launcher.vm

	errCh := invokeAsync(t, f.session, "Loop", "run")
	waitInClientCode(t, vm)

	require.NoError(t, f.session.Stop(context.Background()))
	requireStopped(t, errCh)

	require.EqualValues(t, 1, vm.suspends.Load())
	require.EqualValues(t, 1, vm.resumes.Load())

	// Nothing is running any more.
	require.NoError(t, f.session.Stop(context.Background()))
	require.EqualValues(t, 1, vm.suspends.Load())
	require.EqualValues(t, 1, vm.resumes.Load())

	require.Equal(t, StateReady, f.session.State())

	result, err := f.session.Invoke(context.Background(), "Echo", "run")
	require.NoError(t, err)
	require.Equal(t, "5", result)
}

func TestSession_StopBeforeClientCode(t *testing.T) {
	for range 10 {
		f := start(t)
		vm := f.launcher.vm

		errCh := make(chan error, 1)

		go func() {
			_, err := f.session.Invoke(context.Background(), "Loop", "run")
			errCh <- err
		}()

		for !f.session.isRunning() {
			runtime.Gosched()
		}

		require.NoError(t, f.session.Stop(context.Background()))
		requireStopped(t, errCh)

		require.Positive(t, vm.suspends.Load())
		require.Equal(t, vm.suspends.Load(), vm.resumes.Load())
		require.Equal(t, StateReady, f.session.State())

		require.NoError(t, f.session.Close())
	}
}

func TestSession_StopHonoursContext(t *testing.T) {
	f := start(t)
	vm := f.launcher.vm

	errCh := invokeAsync(t, f.session, "Loop", "run")
	waitInClientCode(t, vm)

	vm.failOn("hide")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, f.session.Stop(ctx), context.DeadlineExceeded)
	require.True(t, f.session.isRunning())
	require.Positive(t, vm.suspends.Load())
	require.Equal(t, vm.suspends.Load(), vm.resumes.Load())

	vm.failOn("")

	require.NoError(t, f.session.Stop(context.Background()))
	requireStopped(t, errCh)
}

func TestSession_StopAlwaysResumes(t *testing.T) {
	testCases := []struct {
		name string
		op   string
	}{
		{name: "list threads fails", op: "threads"},
		{name: "locate frame fails", op: "locate"},
		{name: "read marker fails", op: "marker"},
		{name: "throw fails after resume", op: "throw"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := start(t)
			vm := f.launcher.vm

			errCh := invokeAsync(t, f.session, "Loop", "run")
			waitInClientCode(t, vm)

			vm.failOn(tc.op)

			err := f.session.Stop(context.Background())

			internal, ok := stderrors.AsType[*errors.InternalError](err)
			require.True(t, ok, "got %v", err)
			require.ErrorIs(t, internal, errInjected)

			require.EqualValues(t, 1, vm.suspends.Load())
			require.EqualValues(t, 1, vm.resumes.Load())

			// The worker was left running and can still be stopped.
			vm.failOn("")

			require.NoError(t, f.session.Stop(context.Background()))
			requireStopped(t, errCh)
			require.Equal(t, vm.suspends.Load(), vm.resumes.Load())
		})
	}
}

func TestSession_ConcurrentInvokeRejected(t *testing.T) {
	f := start(t)

	errCh := invokeAsync(t, f.session, "Loop", "run")

	_, err := f.session.Invoke(context.Background(), "Echo", "run")
	require.ErrorIs(t, err, errors.ErrInvokeInProgress)

	require.NoError(t, f.session.Stop(context.Background()))
	<-errCh
}

func TestSession_WorkerDeathUnblocksInvoke(t *testing.T) {
	f := start(t)

	errCh := invokeAsync(t, f.session, "Loop", "run")

	f.launcher.vm.events <- debug.Event{Kind: debug.EventVMDeath, Detail: "exit 137"}

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, errors.ErrSessionClosed)

		term, ok := stderrors.AsType[*errors.TerminationError](err)
		require.True(t, ok)
		require.Equal(t, "worker terminated", term.Reason)
	case <-time.After(3 * time.Second):
		t.Fatal("invoke did not unblock after worker death")
	}

	select {
	case <-f.session.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session not released after worker death")
	}

	require.Equal(t, StateClosed, f.session.State())
	require.Equal(t, []string{"worker terminated"}, f.terms.snapshot())
	require.EqualValues(t, 1, f.launcher.proc.kills.Load())

	_, err := f.session.Invoke(context.Background(), "Echo", "run")
	require.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestSession_TransportLossTerminates(t *testing.T) {
	f := start(t)

	f.launcher.mu.Lock()
	worker := f.launcher.worker
	f.launcher.mu.Unlock()

	require.NoError(t, worker.Close())

	select {
	case <-f.session.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session not closed after transport loss")
	}

	require.Equal(t, []string{"command transport closed"}, f.terms.snapshot())
}

func TestSession_CloseFromTerminationCallback(t *testing.T) {
	testCases := []struct {
		name   string
		reason string
		kill   func(f *fixture)
	}{
		{
			name:   "worker death",
			reason: "worker terminated",
			kill: func(f *fixture) {
				f.launcher.vm.events <- debug.Event{Kind: debug.EventVMDeath, Detail: "exit 1"}
			},
		},
		{
			name:   "transport loss",
			reason: "command transport closed",
			kill: func(f *fixture) {
				f.launcher.mu.Lock()
				worker := f.launcher.worker
				f.launcher.mu.Unlock()

				_ = worker.Close()
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			closed := make(chan error, 1)

			f := startWith(t, func(s *Session, _ string) {
				closed <- s.Close()
			})

			tc.kill(f)

			select {
			case err := <-closed:
				require.NoError(t, err)
			case <-time.After(3 * time.Second):
				t.Fatal("Close called from OnTermination never returned")
			}

			select {
			case <-f.session.Done():
			case <-time.After(3 * time.Second):
				t.Fatal("session not released")
			}

			require.Equal(t, StateClosed, f.session.State())
			require.Equal(t, []string{tc.reason}, f.terms.snapshot())
			require.EqualValues(t, 1, f.launcher.proc.kills.Load())
			require.NoError(t, f.session.Close())
		})
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	f := start(t)

	require.NoError(t, f.session.Close())
	require.NoError(t, f.session.Close())

	require.EqualValues(t, 1, f.launcher.proc.kills.Load())
	require.Equal(t, StateClosed, f.session.State())
	require.Empty(t, f.terms.snapshot(), "explicit close is not a termination")

	_, err := f.session.Invoke(context.Background(), "Echo", "run")
	require.ErrorIs(t, err, errors.ErrSessionClosed)

	// Stop after close has nothing to interrupt.
	require.NoError(t, f.session.Stop(context.Background()))
}

func TestSession_CloseUnblocksInvoke(t *testing.T) {
	f := start(t)

	errCh := invokeAsync(t, f.session, "Loop", "run")

	require.NoError(t, f.session.Close())

	err := <-errCh
	require.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestSession_LaunchFailure(t *testing.T) {
	s := New(&fakeLauncher{fail: stderrors.New("spawn failed")})

	err := s.Start(context.Background(), &config.Options{})

	launchErr, ok := stderrors.AsType[*errors.LaunchError](err)
	require.True(t, ok)
	require.Equal(t, "launch", launchErr.Strategy)
	require.Equal(t, StateClosed, s.State())

	require.ErrorIs(t, s.Start(context.Background(), &config.Options{}), errors.ErrSessionClosed)
	require.NoError(t, s.Close())
}

func TestSession_CommandAcceptTimeout(t *testing.T) {
	l := &fakeLauncher{noDial: true}
	s := New(l)

	err := s.Start(context.Background(), &config.Options{AcceptTimeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, errors.ErrAcceptTimeout)

	_, ok := stderrors.AsType[*errors.LaunchError](err)
	require.True(t, ok)
	require.EqualValues(t, 1, l.proc.kills.Load())
}

func TestSession_StartTwice(t *testing.T) {
	f := start(t)

	require.ErrorIs(t, f.session.Start(context.Background(), nil), errors.ErrAlreadyStarted)
}

func TestSession_NotStarted(t *testing.T) {
	s := New(&fakeLauncher{})

	_, err := s.Invoke(context.Background(), "Echo", "run")
	require.ErrorIs(t, err, errors.ErrNotStarted)
	require.NotEmpty(t, s.ID())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "CREATED", StateCreated.String())
	require.Equal(t, "INVOKING", StateInvoking.String())
	require.Equal(t, "CLOSED", StateClosed.String())
}
