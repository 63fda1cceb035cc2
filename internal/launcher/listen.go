package launcher

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wagiedev/execctl-go/internal/debugwire"
	"github.com/wagiedev/execctl-go/internal/errors"
)

// listenConnector accepts the worker's inbound debug connection on a TCP
// listener whose address is passed on the worker command line.
type listenConnector struct{}

var _ Connector = listenConnector{}

func (listenConnector) Name() string { return ConnectorListen }

func (listenConnector) Arguments() []Argument {
	return []Argument{
		{Name: ArgMain, Description: "Entry point and command port", Mandatory: true},
		{Name: ArgOptions, Description: "Worker options placed ahead of the protocol arguments"},
		{Name: ArgAddress, Description: "Local address to listen on", Default: "127.0.0.1:0", Mandatory: true},
		{Name: ArgTimeout, Description: "How long to wait for the worker to connect", Mandatory: true},
	}
}

type acceptResult struct {
	conn net.Conn
	err  error
}

func (listenConnector) Connect(ctx context.Context, spawn *Spawn, args map[string]string) (*Result, error) {
	timeout, err := time.ParseDuration(args[ArgTimeout])
	if err != nil || timeout <= 0 {
		return nil, &errors.ConfigError{
			Field: "connector_args." + ArgTimeout,
			Err:   fmt.Errorf("invalid duration %q", args[ArgTimeout]),
		}
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", args[ArgAddress])
	if err != nil {
		return nil, fmt.Errorf("listen for debug connection: %w", err)
	}

	// Stop listening once the worker is accepted or the launch fails.
	defer ln.Close()

	address := ln.Addr().String()
	spawn.Log.Debug("Listening for worker debug connection", "address", address)

	proc, err := startProcess(spawn.Log, spawn.command("transport=tcp,address="+address, args), spawn.Stderr)
	if err != nil {
		return nil, err
	}

	accepted := make(chan acceptResult, 1)

	go func() {
		conn, err := ln.Accept()
		accepted <- acceptResult{conn: conn, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	abandon := func(cause error) (*Result, error) {
		_ = proc.Kill()
		_ = ln.Close()

		if res := <-accepted; res.conn != nil {
			_ = res.conn.Close()
		}

		return nil, cause
	}

	select {
	case res := <-accepted:
		if res.err != nil {
			_ = proc.Kill()

			return nil, fmt.Errorf("accept debug connection: %w", res.err)
		}

		spawn.Log.Debug("Accepted worker debug connection", "remote", res.conn.RemoteAddr().String())

		client := debugwire.NewClient(spawn.Log, res.conn, spawn.DebugRequestTimeout)
		client.Start()

		return &Result{
			VM:      watchProcess(spawn.Log, client, proc),
			Process: proc,
		}, nil

	case <-timer.C:
		return abandon(fmt.Errorf("%w after %s", errors.ErrAcceptTimeout, timeout))

	case <-proc.Done():
		return abandon(fmt.Errorf("worker exited before connecting: %w", proc.Wait()))

	case <-ctx.Done():
		return abandon(ctx.Err())
	}
}
