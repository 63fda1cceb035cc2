package session

import (
	"context"
	stderrors "errors"

	"github.com/wagiedev/execctl-go/internal/command"
	"github.com/wagiedev/execctl-go/internal/errors"
)

// Invoke runs classRef.methodName in the worker and returns its result.
//
// Invoke blocks until the worker responds or the session closes; ctx is only
// consulted before the command is sent. Use Stop to interrupt it. A second
// Invoke while one is outstanding fails with ErrInvokeInProgress.
func (s *Session) Invoke(ctx context.Context, classRef, methodName string) (string, error) {
	resp, err := s.call(ctx, &command.Request{
		Cmd:    command.CmdInvoke,
		Class:  classRef,
		Method: methodName,
	}, true)
	if err != nil {
		return "", err
	}

	return resp.Value, nil
}

// VarValue returns the string value of the variable varName held by
// classRef. Like Invoke it can be interrupted with Stop.
func (s *Session) VarValue(ctx context.Context, classRef, varName string) (string, error) {
	resp, err := s.call(ctx, &command.Request{
		Cmd:   command.CmdVarValue,
		Class: classRef,
		Var:   varName,
	}, true)
	if err != nil {
		return "", err
	}

	return resp.Value, nil
}

// Load installs new classes in the worker.
func (s *Session) Load(ctx context.Context, classes []command.Class) error {
	_, err := s.call(ctx, &command.Request{Cmd: command.CmdLoad, Classes: classes}, false)

	return err
}

// Redefine replaces the bytes of already loaded classes.
func (s *Session) Redefine(ctx context.Context, classes []command.Class) error {
	_, err := s.call(ctx, &command.Request{Cmd: command.CmdRedefine, Classes: classes}, false)

	return err
}

// AddToClasspath extends the worker's class path.
func (s *Session) AddToClasspath(ctx context.Context, path string) error {
	_, err := s.call(ctx, &command.Request{Cmd: command.CmdAddToClasspath, Path: path}, false)

	return err
}

// call runs one command with the session in INVOKING. Interruptible calls
// set the running flag so that Stop can reach them.
func (s *Session) call(ctx context.Context, req *command.Request, interruptible bool) (*command.Response, error) {
	if err := s.beginCall(interruptible); err != nil {
		return nil, err
	}

	defer s.endCall()

	s.log.Debug("Calling worker", "cmd", req.Cmd, "class", req.Class, "method", req.Method, "var", req.Var)

	resp, err := s.cmd.Call(ctx, req)
	if err != nil {
		return nil, s.callError(err)
	}

	return resp, nil
}

func (s *Session) beginCall(interruptible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		s.state = StateInvoking
		s.running = interruptible

		return nil
	case StateInvoking:
		return errors.ErrInvokeInProgress
	case StateClosed:
		return s.closedErr()
	default:
		return errors.ErrNotStarted
	}
}

func (s *Session) endCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false

	if s.state == StateInvoking {
		s.state = StateReady
	}
}

// callError replaces a generic end-of-stream error with the recorded
// termination cause.
func (s *Session) callError(err error) error {
	if _, ok := stderrors.AsType[*errors.TerminationError](err); ok {
		if cause := s.Err(); cause != nil {
			return cause
		}
	}

	return err
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}
