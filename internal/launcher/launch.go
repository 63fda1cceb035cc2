package launcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/wagiedev/execctl-go/internal/debugwire"
)

// launchConnector starts the worker with the debug channel on an inherited
// pipe pair: the worker reads requests from fd 3 and writes to fd 4.
type launchConnector struct{}

var _ Connector = launchConnector{}

func (launchConnector) Name() string { return ConnectorLaunch }

func (launchConnector) Arguments() []Argument {
	return []Argument{
		{Name: ArgMain, Description: "Entry point and command port", Mandatory: true},
		{Name: ArgOptions, Description: "Worker options placed ahead of the protocol arguments"},
	}
}

func (launchConnector) Connect(_ context.Context, spawn *Spawn, args map[string]string) (*Result, error) {
	toWorkerR, toWorkerW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("debug pipe: %w", err)
	}

	fromWorkerR, fromWorkerW, err := os.Pipe()
	if err != nil {
		_ = toWorkerR.Close()
		_ = toWorkerW.Close()

		return nil, fmt.Errorf("debug pipe: %w", err)
	}

	cmd := spawn.command("transport=fd,address=3:4", args)
	cmd.ExtraFiles = []*os.File{toWorkerR, fromWorkerW}

	proc, err := startProcess(spawn.Log, cmd, spawn.Stderr)

	// The child holds its own copies of these ends.
	_ = toWorkerR.Close()
	_ = fromWorkerW.Close()

	if err != nil {
		_ = toWorkerW.Close()
		_ = fromWorkerR.Close()

		return nil, err
	}

	client := debugwire.NewClient(spawn.Log, &pipeConn{r: fromWorkerR, w: toWorkerW}, spawn.DebugRequestTimeout)
	client.Start()

	return &Result{
		VM:      watchProcess(spawn.Log, client, proc),
		Process: proc,
	}, nil
}

// pipeConn joins the two controller-side pipe ends into one connection.
type pipeConn struct {
	r *os.File
	w *os.File
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) Close() error {
	return stderrors.Join(c.w.Close(), c.r.Close())
}
