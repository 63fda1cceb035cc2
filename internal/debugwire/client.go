package debugwire

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/errors"
)

const (
	// maxLineSize is the maximum size of one protocol line.
	maxLineSize = 1024 * 1024 // 1MB

	// eventBufferSize is the buffer size of the events channel.
	eventBufferSize = 16

	// disposeTimeout bounds the courtesy dispose request sent before closing.
	disposeTimeout = time.Second
)

// Client is the controller side of a debug connection.
//
// The Client must be started with Start() before use and manages its own
// goroutine for reading responses and events.
type Client struct {
	log     *slog.Logger
	conn    io.ReadWriteCloser
	timeout time.Duration

	writeMu sync.Mutex

	// Request tracking
	pendingMu sync.RWMutex
	pending   map[string]chan *Message

	events chan debug.Event

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	// Lifecycle management
	closeOnce   sync.Once
	disposeOnce sync.Once
	done        chan struct{}
	wg          sync.WaitGroup
}

// Compile-time verification that Client implements the debug interfaces.
var (
	_ debug.VM          = (*Client)(nil)
	_ debug.EventSource = (*Client)(nil)
)

// NewClient creates a debug client over conn. Each request waits at most
// timeout for its response.
func NewClient(log *slog.Logger, conn io.ReadWriteCloser, timeout time.Duration) *Client {
	return &Client{
		log:     log.With("component", "debugwire"),
		conn:    conn,
		timeout: timeout,
		pending: make(map[string]chan *Message, 4),
		events:  make(chan debug.Event, eventBufferSize),
		done:    make(chan struct{}),
	}
}

// closeDone safely closes the done channel exactly once.
func (c *Client) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// setFatalError stores a fatal error and broadcasts to all waiters by closing done.
func (c *Client) setFatalError(err error) {
	c.errMu.Lock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}

	c.errMu.Unlock()

	c.closeDone()
}

// FatalError returns the error that ended the connection, if any.
func (c *Client) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// Done returns a channel that is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Events implements debug.EventSource.
func (c *Client) Events() <-chan debug.Event {
	return c.events
}

// Start begins reading responses and events from the connection.
func (c *Client) Start() {
	c.wg.Go(c.readLoop)

	c.log.Debug("Debug client started")
}

// readLoop reads protocol lines until the connection ends.
func (c *Client) readLoop() {
	defer close(c.events)
	defer c.log.Debug("Debug read loop stopped")

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.log.Warn("Failed to decode debug message", "error", err, "message", scanner.Text())

			continue
		}

		switch msg.Type {
		case TypeResponse:
			c.handleResponse(&msg)

		case TypeEvent:
			c.log.Debug("Received debug event", "event", msg.Event, "detail", msg.Detail)

			// Never block response routing on a slow event consumer.
			select {
			case c.events <- debug.Event{Kind: msg.Event, Detail: msg.Detail}:
			default:
				c.log.Warn("Dropping debug event, buffer full", "event", msg.Event)
			}

		default:
			c.log.Warn("Ignoring debug message of unknown type", "type", msg.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		c.log.Debug("Debug connection read failed", "error", err)
		c.setFatalError(fmt.Errorf("%w: %w", errors.ErrDisconnected, err))

		return
	}

	c.setFatalError(errors.ErrDisconnected)
}

// handleResponse routes a response to the waiting request.
func (c *Client) handleResponse(msg *Message) {
	// Find and claim pending request atomically
	c.pendingMu.Lock()

	ch, exists := c.pending[msg.ID]
	if exists {
		delete(c.pending, msg.ID)
	}

	c.pendingMu.Unlock()

	if !exists {
		c.log.Warn("No pending request for debug response", "request_id", msg.ID)

		return
	}

	// Buffered; we own the only send.
	ch <- msg
}

// request sends one request and waits for its response.
func (c *Client) request(ctx context.Context, req *Message, timeout time.Duration) (*Message, error) {
	select {
	case <-c.done:
		return nil, c.disconnectedError()
	default:
	}

	req.Type = TypeRequest
	req.ID = ulid.Make().String()

	responseChan := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[req.ID] = responseChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", req.Op, err)
	}

	data = append(data, '\n')

	c.log.Debug("Sending debug request", "request_id", req.ID, "op", req.Op)

	c.writeMu.Lock()
	_, err = c.conn.Write(data)
	c.writeMu.Unlock()

	if err != nil {
		c.setFatalError(fmt.Errorf("%w: %w", errors.ErrDisconnected, err))

		return nil, c.disconnectedError()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-responseChan:
		return responseResult(req.Op, resp)

	case <-c.done:
		// A response read just before the connection ended still counts.
		select {
		case resp := <-responseChan:
			return responseResult(req.Op, resp)
		default:
		}

		return nil, c.disconnectedError()

	case <-timer.C:
		c.log.Warn("Debug request timed out", "request_id", req.ID, "op", req.Op, "timeout", timeout)

		return nil, fmt.Errorf("%s: %w after %s", req.Op, errors.ErrRequestTimeout, timeout)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func responseResult(op string, resp *Message) (*Message, error) {
	if resp.IsError() {
		return nil, fmt.Errorf("%s: %s", op, resp.Error)
	}

	return resp, nil
}

func (c *Client) disconnectedError() error {
	if err := c.FatalError(); err != nil {
		return err
	}

	return errors.ErrDisconnected
}

// Suspend implements debug.VM.
func (c *Client) Suspend(ctx context.Context) error {
	_, err := c.request(ctx, &Message{Op: OpSuspend}, c.timeout)

	return err
}

// Resume implements debug.VM.
func (c *Client) Resume(ctx context.Context) error {
	_, err := c.request(ctx, &Message{Op: OpResume}, c.timeout)

	return err
}

// Threads implements debug.VM.
func (c *Client) Threads(ctx context.Context) ([]debug.ThreadID, error) {
	resp, err := c.request(ctx, &Message{Op: OpThreads}, c.timeout)
	if err != nil {
		return nil, err
	}

	return resp.Threads, nil
}

// Frames returns the call stack of thread, innermost frame first.
func (c *Client) Frames(ctx context.Context, thread debug.ThreadID) ([]debug.StackFrame, error) {
	resp, err := c.request(ctx, &Message{Op: OpFrames, Thread: thread}, c.timeout)
	if err != nil {
		return nil, err
	}

	return resp.Frames, nil
}

// LocateClientFrame implements debug.VM by scanning the thread's frames for
// the agent's invoke or varValue entry point.
func (c *Client) LocateClientFrame(
	ctx context.Context,
	thread debug.ThreadID,
) (debug.FrameHandle, bool, error) {
	frames, err := c.Frames(ctx, thread)
	if err != nil {
		return debug.FrameHandle{}, false, err
	}

	for _, f := range frames {
		if f.IsClientEntry() {
			return debug.FrameHandle{Thread: thread, Frame: f}, true, nil
		}
	}

	return debug.FrameHandle{}, false, nil
}

// Marker implements debug.VM.
func (c *Client) Marker(ctx context.Context, frame debug.FrameHandle, name string) (bool, error) {
	resp, err := c.request(ctx, &Message{Op: OpGetBool, Object: frame.Frame.This, Name: name}, c.timeout)
	if err != nil {
		return false, err
	}

	if resp.Value == nil {
		return false, fmt.Errorf("%s %s: response has no value", OpGetBool, name)
	}

	return *resp.Value, nil
}

// SetMarker implements debug.VM.
func (c *Client) SetMarker(ctx context.Context, frame debug.FrameHandle, name string, value bool) error {
	_, err := c.request(ctx, &Message{
		Op:     OpSetBool,
		Object: frame.Frame.This,
		Name:   name,
		Value:  &value,
	}, c.timeout)

	return err
}

// StopSignal implements debug.VM.
func (c *Client) StopSignal(ctx context.Context, frame debug.FrameHandle) (debug.ObjectID, error) {
	resp, err := c.request(ctx, &Message{
		Op:     OpGetObject,
		Object: frame.Frame.This,
		Name:   debug.FieldStopSignal,
	}, c.timeout)
	if err != nil {
		return "", err
	}

	if resp.Ref == "" {
		return "", fmt.Errorf("%s %s: null reference", OpGetObject, debug.FieldStopSignal)
	}

	return resp.Ref, nil
}

// Throw implements debug.VM.
func (c *Client) Throw(ctx context.Context, thread debug.ThreadID, obj debug.ObjectID) error {
	_, err := c.request(ctx, &Message{Op: OpThrow, Thread: thread, Object: obj}, c.timeout)

	return err
}

// Dispose implements debug.VM.
//
// It asks the worker to release the connection, then closes it. A
// connection that was already lost yields errors.ErrDisconnected. Calling
// Dispose more than once returns errors.ErrDisconnected.
func (c *Client) Dispose() error {
	err := errors.ErrDisconnected

	c.disposeOnce.Do(func() {
		select {
		case <-c.done:
			c.log.Debug("Debug connection already closed before dispose")
		default:
			err = nil

			ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
			if _, reqErr := c.request(ctx, &Message{Op: OpDispose}, disposeTimeout); reqErr != nil {
				c.log.Debug("Dispose request failed", "error", reqErr)

				if stderrors.Is(reqErr, errors.ErrDisconnected) {
					err = errors.ErrDisconnected
				}
			}

			cancel()
		}

		c.setFatalError(errors.ErrDisconnected)

		if closeErr := c.conn.Close(); closeErr != nil {
			c.log.Debug("Closing debug connection failed", "error", closeErr)
		}

		c.wg.Wait()
	})

	return err
}
