package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/execctl-go/internal/command"
	"github.com/wagiedev/execctl-go/internal/config"
	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/errors"
	"github.com/wagiedev/execctl-go/internal/frame"
	"github.com/wagiedev/execctl-go/internal/launcher"
	"github.com/wagiedev/execctl-go/internal/monitor"
	"github.com/wagiedev/execctl-go/internal/pipe"
)

// Launcher starts a worker that connects its command channel back to
// commandPort.
type Launcher interface {
	Launch(
		ctx context.Context,
		strategy config.Strategy,
		opts *config.Options,
		commandPort int,
	) (*launcher.Result, error)
}

var _ Launcher = (*launcher.Launcher)(nil)

// Session controls one worker process.
type Session struct {
	id       string
	log      *slog.Logger
	launcher Launcher
	options  *config.Options

	// Resources, assigned once under mu during Start and read-only afterwards.
	vm      debug.VM
	proc    launcher.Process
	conn    net.Conn
	pipe    *pipe.Pipe
	cmd     *command.Conn
	monitor *monitor.Monitor
	eg      *errgroup.Group

	mu      sync.Mutex
	state   State
	running bool // an interruptible command is outstanding

	// stopMu serialises Stop.
	stopMu sync.Mutex

	errMu   sync.RWMutex
	termErr error

	done          chan struct{}
	closeOnce     sync.Once
	terminateOnce sync.Once
}

// New creates a session that starts its worker through l. A nil l uses the
// default launcher.
//
// The session is not connected after creation. Call Start to launch the worker.
func New(l Launcher) *Session {
	return &Session{
		id:       ulid.Make().String(),
		launcher: l,
		state:    StateCreated,
		done:     make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Done is closed once the session has been closed or its worker is gone and
// all resources have been released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the termination cause once the session is closed, or nil.
func (s *Session) Err() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()

	return s.termErr
}

func (s *Session) setTermErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	if s.termErr == nil {
		s.termErr = err
	}
}

// Start launches the worker and brings the session to READY.
//
// It opens the command listener, launches the worker, accepts the worker's
// command connection, wires the output sinks and the stdin forwarder, arms
// the liveness monitor and performs the protocol handshake. On failure every
// acquired resource is released and the session is CLOSED.
func (s *Session) Start(ctx context.Context, opts *config.Options) error {
	s.mu.Lock()

	switch s.state {
	case StateCreated:
	case StateClosed:
		s.mu.Unlock()

		return errors.ErrSessionClosed
	default:
		s.mu.Unlock()

		return errors.ErrAlreadyStarted
	}

	if opts == nil {
		opts = &config.Options{}
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	s.options = opts
	s.log = log.With("component", "session", "session_id", s.id)
	s.state = StateConnecting

	if s.launcher == nil {
		s.launcher = launcher.New(log)
	}

	s.mu.Unlock()

	s.log.Info("Starting session", "strategy", opts.StrategyOrDefault().Name())

	if err := s.connect(ctx); err != nil {
		s.setTermErr(&errors.TerminationError{Reason: "start failed", Err: err})
		_ = s.Close()

		return err
	}

	s.log.Debug("Sending handshake")

	resp, err := s.cmd.Call(ctx, &command.Request{Cmd: command.CmdHandshake, Version: command.ProtocolVersion})
	if err != nil {
		err = s.callError(err)
		s.setTermErr(&errors.TerminationError{Reason: "handshake failed", Err: err})
		_ = s.Close()

		return fmt.Errorf("handshake: %w", err)
	}

	if resp.Value != command.ProtocolVersion {
		err := &errors.InternalError{
			Op:  command.CmdHandshake,
			Err: fmt.Errorf("worker speaks protocol %q, want %q", resp.Value, command.ProtocolVersion),
		}
		s.setTermErr(&errors.TerminationError{Reason: "handshake failed", Err: err})
		_ = s.Close()

		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return s.closedErr()
	}

	s.state = StateReady
	s.log.Info("Session ready", "pid", s.proc.Pid())

	return nil
}

// connect acquires the worker and the command transport and starts the
// background goroutines.
func (s *Session) connect(ctx context.Context) error {
	opts := s.options
	strategy := opts.StrategyOrDefault()

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return &errors.LaunchError{Strategy: strategy.Name(), Err: fmt.Errorf("command listener: %w", err)}
	}

	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	s.log.Debug("Listening for command connection", "port", port)

	result, err := s.launcher.Launch(ctx, strategy, opts, port)
	if err != nil {
		return err
	}

	conn, err := acceptCommand(ctx, ln, result.Process, opts.AcceptTimeoutOrDefault())
	if err != nil {
		_ = result.VM.Dispose()
		_ = result.Process.Kill()

		return &errors.LaunchError{Strategy: strategy.Name(), Err: err}
	}

	p := pipe.New()
	mux := frame.NewMultiplexer(conn)

	channels := make(map[string]io.Writer, 2)
	if opts.Stdout != nil {
		channels[frame.OutChannel] = opts.Stdout
	}

	if opts.Stderr != nil {
		channels[frame.ErrChannel] = opts.Stderr
	}

	s.mu.Lock()

	if s.state != StateConnecting {
		s.mu.Unlock()

		_ = conn.Close()
		_ = result.VM.Dispose()
		_ = result.Process.Kill()

		return errors.ErrSessionClosed
	}

	s.vm = result.VM
	s.proc = result.Process
	s.conn = conn
	s.pipe = p
	s.cmd = command.NewConn(s.log, mux.Channel(frame.CommandChannel), p)
	s.monitor = monitor.New(s.log, result.VM)
	s.eg = &errgroup.Group{}

	s.mu.Unlock()

	s.eg.Go(func() error {
		err := frame.Demux(context.Background(), s.log, conn, p, channels)
		s.terminate("command transport closed", err)

		return nil
	})

	if opts.Stdin != nil {
		// Not tracked by the errgroup: a read from the caller's stdin cannot
		// be interrupted.
		go s.forwardStdin(opts.Stdin, mux.Channel(frame.InChannel))
	}

	s.monitor.AddHandler(func(reason string) {
		s.terminate(reason, nil)
	})
	s.monitor.Start(context.Background())

	if !s.monitor.Supported() {
		s.log.Warn("Debug connection has no event support, worker death is only detected through the command transport")
	}

	return nil
}

func (s *Session) forwardStdin(r io.Reader, w io.Writer) {
	n, err := io.Copy(w, r)
	s.log.Debug("Stdin forwarder stopped", "bytes", n, "error", err)
}

// acceptCommand waits for the worker to connect its command channel.
func acceptCommand(
	ctx context.Context,
	ln net.Listener,
	proc launcher.Process,
	timeout time.Duration,
) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	accepted := make(chan result, 1)

	go func() {
		conn, err := ln.Accept()
		accepted <- result{conn: conn, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error

	select {
	case res := <-accepted:
		if res.err != nil {
			return nil, fmt.Errorf("accept command connection: %w", res.err)
		}

		return res.conn, nil
	case <-timer.C:
		cause = fmt.Errorf("%w: command connection after %s", errors.ErrAcceptTimeout, timeout)
	case <-proc.Done():
		cause = fmt.Errorf("worker exited before connecting: %w", proc.Wait())
	case <-ctx.Done():
		cause = ctx.Err()
	}

	_ = ln.Close()

	if res := <-accepted; res.conn != nil {
		_ = res.conn.Close()
	}

	return nil, cause
}

// terminate records the loss of the worker, notifies OnTermination once and
// tears the session down. The callback and the teardown run on a fresh
// goroutine; Done is closed after the callback returns. It is a no-op once
// the session is closed.
func (s *Session) terminate(reason string, cause error) {
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()

	if closed {
		return
	}

	s.terminateOnce.Do(func() {
		s.log.Warn("Worker lost, closing session", "reason", reason, "error", cause)
		s.setTermErr(&errors.TerminationError{Reason: reason, Err: cause})

		// Unblock a pending call before the callback runs.
		_ = s.pipe.Close()

		// Close waits for the monitor and the demux goroutine, either of
		// which may be the caller. The callback runs on the same goroutine
		// so that it may call Close itself.
		go func() {
			if cb := s.options.OnTermination; cb != nil {
				cb(reason)
			}

			_ = s.Close()
		}()
	})
}

// Close releases the session: it stops the liveness monitor, disposes the
// debug handle, kills the worker and closes the command transport. Close is
// idempotent and never fails because the session is already closed.
func (s *Session) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		s.running = false
		s.mu.Unlock()

		defer close(s.done)

		s.setTermErr(&errors.TerminationError{Reason: "session closed"})

		if prev == StateCreated {
			return
		}

		s.log.Info("Closing session", "state", prev.String())

		if s.monitor != nil {
			s.monitor.Stop()
		}

		if s.vm != nil {
			if err := s.vm.Dispose(); err != nil && !stderrors.Is(err, errors.ErrDisconnected) {
				closeErr = fmt.Errorf("dispose debug connection: %w", err)
			}
		}

		if s.proc != nil {
			if err := s.proc.Kill(); err != nil && closeErr == nil {
				closeErr = err
			}
		}

		if s.pipe != nil {
			_ = s.pipe.Close()
		}

		if s.conn != nil {
			_ = s.conn.Close()
		}

		if s.eg != nil {
			_ = s.eg.Wait()
		}

		s.log.Info("Session closed")
	})

	return closeErr
}

// closedErr returns the error reported for operations on a closed session.
func (s *Session) closedErr() error {
	if err := s.Err(); err != nil {
		return err
	}

	return &errors.TerminationError{Reason: "session closed"}
}
