package agent

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/execctl-go/internal/command"
	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/errors"
	"github.com/wagiedev/execctl-go/internal/frame"
	"github.com/wagiedev/execctl-go/internal/pipe"
)

// StopSignalClass is reported as the exception class of an invocation that
// was stopped without the controller expecting it.
const StopSignalClass = "execctl.StopSignal"

// Env is the standard streams of a running program.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Program is code the agent can invoke. Its result string is returned to the
// controller. Programs are looked up by "Class.member".
type Program func(ctx context.Context, env Env) (string, error)

// Exception is a user-level exception raised by a program.
type Exception struct {
	Class   string
	Message string
	Trace   []string
}

func (e *Exception) Error() string {
	return e.Class + ": " + e.Message
}

// Options configures an Agent.
type Options struct {
	// Logger is the slog logger for debug output. If nil, logging is disabled.
	Logger *slog.Logger

	// Loader installs classes. If nil, a MemoryLoader is used.
	Loader Loader

	// Programs maps "Class.method" to the code run by invoke.
	Programs map[string]Program

	// Vars maps "Class.variable" to the code run by var_value.
	Vars map[string]Program

	// System names the classes that resolve without being loaded. Programs
	// of any other class run only once the loader resolves their class.
	System []string
}

// Agent serves one controller's command channel.
type Agent struct {
	log      *slog.Logger
	loader   Loader
	programs map[string]Program
	vars     map[string]Program
	system   map[string]bool

	env Env

	gateMu  sync.Mutex
	resumed chan struct{} // non-nil while suspended

	invMu       sync.Mutex
	invocations map[debug.ObjectID]*invocation
	seq         int
}

// New creates an agent.
func New(opts *Options) *Agent {
	if opts == nil {
		opts = &Options{}
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	loader := opts.Loader
	if loader == nil {
		loader = NewMemoryLoader()
	}

	system := make(map[string]bool, len(opts.System))
	for _, name := range opts.System {
		system[name] = true
	}

	return &Agent{
		log:         log.With("component", "agent"),
		loader:      loader,
		programs:    opts.Programs,
		vars:        opts.Vars,
		system:      system,
		invocations: make(map[debug.ObjectID]*invocation),
	}
}

// resolve reports a class that neither the system classes nor the loader
// can provide.
func (a *Agent) resolve(class string) *command.Response {
	if a.system[class] {
		return nil
	}

	if _, ok := a.loader.Class(class); ok {
		return nil
	}

	return &command.Response{
		Status:  command.StatusCorralled,
		ID:      class,
		Message: "class " + class + " is not loaded",
	}
}

// Serve runs the command loop over conn until the controller closes it.
// conn carries the multiplexed channels; Serve may only be called once.
func (a *Agent) Serve(ctx context.Context, conn io.ReadWriter) error {
	mux := frame.NewMultiplexer(conn)
	commands := pipe.New()
	stdin := pipe.New()

	a.env = Env{
		Stdin:  stdin,
		Stdout: mux.Channel(frame.OutChannel),
		Stderr: mux.Channel(frame.ErrChannel),
	}
	replies := mux.Channel(frame.CommandChannel)

	// In-flight invocations are cancelled once the controller goes away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var eg errgroup.Group

	eg.Go(func() error {
		defer cancel()
		defer stdin.Close()

		return frame.Demux(ctx, a.log, conn, commands, map[string]io.Writer{
			frame.InChannel: stdin,
		})
	})

	a.log.Info("Agent serving commands")

	r := bufio.NewReader(commands)

	for {
		var req command.Request

		if err := command.Read(r, &req); err != nil {
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
				break
			}

			a.log.Warn("Malformed command", "error", err)

			if err := command.Write(replies, command.Failure(command.StatusFail, err.Error())); err != nil {
				return fmt.Errorf("write response: %w", err)
			}

			continue
		}

		resp := a.handle(ctx, &req)

		if ctx.Err() != nil {
			break
		}

		if err := command.Write(replies, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	a.log.Info("Command channel closed")

	return eg.Wait()
}

func (a *Agent) handle(ctx context.Context, req *command.Request) *command.Response {
	a.log.Debug("Handling command", "cmd", req.Cmd, "class", req.Class, "method", req.Method, "var", req.Var)

	switch req.Cmd {
	case command.CmdHandshake:
		if req.Version != command.ProtocolVersion {
			return command.Failure(command.StatusFail, "unsupported protocol version "+strconv.Quote(req.Version))
		}

		return command.Success(command.ProtocolVersion)

	case command.CmdLoad:
		for _, c := range req.Classes {
			if err := a.loader.Load(c.Name, c.Bytes); err != nil {
				return command.Failure(command.StatusFail, err.Error())
			}
		}

		return command.Success("")

	case command.CmdRedefine:
		r, ok := a.loader.(Redefiner)
		if !ok {
			return command.Failure(command.StatusNotImplemented, "redefine is not supported by this loader")
		}

		for _, c := range req.Classes {
			if err := r.Redefine(c.Name, c.Bytes); err != nil {
				return command.Failure(command.StatusFail, err.Error())
			}
		}

		return command.Success("")

	case command.CmdAddToClasspath:
		if err := a.loader.AddToClasspath(req.Path); err != nil {
			return command.Failure(command.StatusFail, err.Error())
		}

		return command.Success("")

	case command.CmdInvoke:
		prog, ok := a.programs[req.Class+"."+req.Method]
		if !ok {
			return command.Failure(command.StatusFail, "no such method "+req.Class+"."+req.Method)
		}

		if resp := a.resolve(req.Class); resp != nil {
			return resp
		}

		return a.run(ctx, debug.MethodInvoke, req.Class, req.Method, prog)

	case command.CmdVarValue:
		prog, ok := a.vars[req.Class+"."+req.Var]
		if !ok {
			return command.Failure(command.StatusFail, "no such variable "+req.Class+"."+req.Var)
		}

		if resp := a.resolve(req.Class); resp != nil {
			return resp
		}

		return a.run(ctx, debug.MethodVarValue, req.Class, req.Var, prog)

	default:
		return command.Failure(command.StatusNotImplemented, "unknown command "+strconv.Quote(req.Cmd))
	}
}

type result struct {
	value string
	err   error
}

// run executes prog on its own goroutine as a new invocation and waits for
// it to return or be stopped.
func (a *Agent) run(ctx context.Context, entry, class, member string, prog Program) *command.Response {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	inv := a.begin(entry, class, member, cancel)
	defer a.finish(inv)

	ctx = context.WithValue(ctx, agentKey{}, a)
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &Exception{Class: "panic", Message: fmt.Sprint(r)}}
			}
		}()

		inv.setInClientCode(true)
		defer inv.setInClientCode(false)

		value, err := prog(ctx, a.env)
		done <- result{value: value, err: err}
	}()

	var res result

	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = context.Cause(ctx)
	}

	if thrown, killed := inv.outcome(); thrown {
		if killed {
			return command.Failure(command.StatusKilled, "stopped")
		}

		return &command.Response{
			Status:         command.StatusException,
			ExceptionClass: StopSignalClass,
			Message:        "stop signal thrown outside a stop request",
		}
	}

	return respond(res)
}

func respond(res result) *command.Response {
	if res.err == nil {
		return command.Success(res.value)
	}

	if re, ok := stderrors.AsType[*errors.ResolutionError](res.err); ok {
		return &command.Response{Status: command.StatusCorralled, ID: re.ID, Message: re.Message}
	}

	if ex, ok := stderrors.AsType[*Exception](res.err); ok {
		return &command.Response{
			Status:         command.StatusException,
			ExceptionClass: ex.Class,
			Message:        ex.Message,
			Trace:          ex.Trace,
		}
	}

	return &command.Response{
		Status:         command.StatusException,
		ExceptionClass: "error",
		Message:        res.err.Error(),
	}
}

// begin registers a new invocation. Invocations that finished earlier are
// dropped; the most recent one stays reachable so that a stop racing its
// completion can still clear its markers.
func (a *Agent) begin(entry, class, member string, cancel context.CancelCauseFunc) *invocation {
	a.invMu.Lock()
	defer a.invMu.Unlock()

	for id, inv := range a.invocations {
		inv.mu.Lock()
		finished := inv.finished
		inv.mu.Unlock()

		if finished {
			delete(a.invocations, id)
		}
	}

	a.seq++
	n := strconv.Itoa(a.seq)

	inv := &invocation{
		id:     debug.ObjectID("inv-" + n),
		thread: debug.ThreadID("invoke-" + n),
		signal: debug.ObjectID("stop-" + n),
		entry:  entry,
		class:  class,
		member: member,
		cancel: cancel,
	}
	a.invocations[inv.id] = inv

	return inv
}

func (a *Agent) finish(inv *invocation) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.finished = true
}
