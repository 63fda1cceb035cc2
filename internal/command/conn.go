package command

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wagiedev/execctl-go/internal/errors"
)

// Conn is the controller end of the command channel.
type Conn struct {
	log *slog.Logger
	w   io.Writer
	r   *bufio.Reader

	mu sync.Mutex // serialises calls; one outstanding call at a time
}

// NewConn creates a command connection writing requests to w and reading
// responses from r.
func NewConn(log *slog.Logger, w io.Writer, r io.Reader) *Conn {
	return &Conn{
		log: log.With("component", "command"),
		w:   w,
		r:   bufio.NewReader(r),
	}
}

// Call sends req and blocks until its response arrives or the response
// stream ends.
//
// ctx is only checked before the request is written. Once sent, the call
// waits for the response; callers unblock it by closing the response stream.
//
// Returns a TerminationError if the stream ends and an InternalError if the
// response is malformed. A response with a non-success status is returned
// together with its mapped error.
func (c *Conn) Call(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := Write(c.w, req); err != nil {
		c.log.Debug("Failed to write command", "cmd", req.Cmd, "error", err)

		return nil, &errors.TerminationError{Reason: "command channel closed", Err: err}
	}

	c.log.Debug("Command sent, waiting for response", "cmd", req.Cmd)

	var resp Response
	if err := Read(c.r, &resp); err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &errors.TerminationError{Reason: "command channel closed"}
		}

		return nil, &errors.InternalError{Op: req.Cmd, Err: err}
	}

	c.log.Debug("Received command response", "cmd", req.Cmd, "status", resp.Status)

	return &resp, resp.Err(req.Cmd)
}

// Write encodes v as one JSON line.
func Write(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal command message: %w", err)
	}

	data = append(data, '\n')

	_, err = w.Write(data)

	return err
}

// Read decodes one JSON line from r into v. A line cut short by the end of
// the stream yields io.ErrUnexpectedEOF.
func Read(r *bufio.Reader, v any) error {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if stderrors.Is(err, io.EOF) && len(line) > 0 {
			return io.ErrUnexpectedEOF
		}

		return err
	}

	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode command message: %w", err)
	}

	return nil
}
