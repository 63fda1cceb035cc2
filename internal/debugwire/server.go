package debugwire

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wagiedev/execctl-go/internal/debug"
)

// Target is the worker-side state a Server exposes over the debug protocol.
type Target interface {
	Suspend() error
	Resume() error
	Threads() []debug.ThreadID
	Frames(thread debug.ThreadID) ([]debug.StackFrame, error)
	Bool(obj debug.ObjectID, name string) (bool, error)
	SetBool(obj debug.ObjectID, name string, value bool) error
	Object(obj debug.ObjectID, name string) (debug.ObjectID, error)
	Throw(thread debug.ThreadID, obj debug.ObjectID) error
}

// Server is the worker side of a debug connection.
type Server struct {
	log    *slog.Logger
	target Target
	conn   io.ReadWriteCloser

	writeMu sync.Mutex
}

// NewServer creates a server exposing target over conn.
func NewServer(log *slog.Logger, target Target, conn io.ReadWriteCloser) *Server {
	return &Server{
		log:    log.With("component", "debugwire_server"),
		target: target,
		conn:   conn,
	}
}

// Serve handles requests until the controller disposes the connection or
// the connection ends. It closes the connection before returning.
//
// Serve returns nil after a dispose request or a clean end of stream.
func (s *Server) Serve() error {
	defer s.conn.Close()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		var req Message
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.log.Warn("Failed to decode debug request", "error", err)

			continue
		}

		if req.Type != TypeRequest {
			s.log.Warn("Ignoring non-request debug message", "type", req.Type)

			continue
		}

		resp := s.handle(&req)
		if err := s.write(resp); err != nil {
			return fmt.Errorf("write debug response: %w", err)
		}

		if req.Op == OpDispose {
			s.log.Debug("Debug connection disposed by controller")

			return nil
		}
	}

	if err := scanner.Err(); err != nil && !stderrors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("read debug request: %w", err)
	}

	return nil
}

// SendEvent writes an asynchronous event to the controller.
func (s *Server) SendEvent(ev debug.Event) error {
	return s.write(&Message{Type: TypeEvent, Event: ev.Kind, Detail: ev.Detail})
}

func (s *Server) write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.conn.Write(data)

	return err
}

// handle executes one request against the target.
func (s *Server) handle(req *Message) *Message {
	resp := &Message{Type: TypeResponse, ID: req.ID}

	s.log.Debug("Handling debug request", "op", req.Op, "thread", req.Thread, "object", req.Object)

	var err error

	switch req.Op {
	case OpSuspend:
		err = s.target.Suspend()

	case OpResume:
		err = s.target.Resume()

	case OpThreads:
		resp.Threads = s.target.Threads()

	case OpFrames:
		resp.Frames, err = s.target.Frames(req.Thread)

	case OpGetBool:
		var v bool

		v, err = s.target.Bool(req.Object, req.Name)
		resp.Value = &v

	case OpSetBool:
		if req.Value == nil {
			err = fmt.Errorf("set_bool %s: missing value", req.Name)

			break
		}

		err = s.target.SetBool(req.Object, req.Name, *req.Value)

	case OpGetObject:
		resp.Ref, err = s.target.Object(req.Object, req.Name)

	case OpThrow:
		err = s.target.Throw(req.Thread, req.Object)

	case OpDispose:

	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}

	if err != nil {
		return &Message{Type: TypeResponse, ID: req.ID, Error: err.Error()}
	}

	return resp
}
