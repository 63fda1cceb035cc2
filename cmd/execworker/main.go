// Command execworker is the reference worker for execctl. It serves the
// built-in programs over a command connection to the controller and exposes
// them to a debug connection so that running code can be stopped.
//
// Usage:
//
//	execworker [-log-level=info] -debug-attach=transport=<fd|tcp>,address=<addr> <entry> <port>
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/wagiedev/execctl-go/internal/agent"
	"github.com/wagiedev/execctl-go/internal/config"
	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/debugwire"
)

// version is reported by -version and checked by the controller's discovery.
const version = "1.0.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "execworker: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("execworker", flag.ContinueOnError)

	attach := fs.String("debug-attach", "", "debug transport, e.g. transport=tcp,address=127.0.0.1:4000")
	showVersion := fs.Bool("version", false, "print the version and exit")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Println(version)

		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if fs.NArg() != 2 {
		return fmt.Errorf("want <entry> <port>, got %d arguments", fs.NArg())
	}

	entry := fs.Arg(0)
	if entry != config.DefaultEntryPoint {
		return fmt.Errorf("unknown entry point %q", entry)
	}

	port, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("command port: %w", err)
	}

	att, err := parseAttach(*attach)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, log, att, port)
}

// exitProgram terminates the worker without answering, the way user code
// that exits the process would.
func exitProgram(context.Context, agent.Env) (string, error) {
	os.Exit(3)

	return "", nil
}

func serve(ctx context.Context, log *slog.Logger, att attachSpec, port int) error {
	programs := agent.Builtins()
	programs["System.exit"] = exitProgram

	a := agent.New(&agent.Options{
		Logger:   log,
		Programs: programs,
		Vars:     agent.BuiltinVars(),
		System:   append(agent.BuiltinClasses(), "System"),
	})

	dbg, err := att.dial(ctx)
	if err != nil {
		return fmt.Errorf("attach debug connection: %w", err)
	}

	server := debugwire.NewServer(log, a, dbg)
	if err := server.SendEvent(debug.Event{Kind: debug.EventVMStart}); err != nil {
		return fmt.Errorf("announce start: %w", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			log.Warn("Debug connection ended", "error", err)
		}
	}()

	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("dial command port: %w", err)
	}
	defer conn.Close()

	log.Info("Worker started", "pid", os.Getpid(), "debug_transport", att.Transport)

	if err := a.Serve(ctx, conn); err != nil && !stderrors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
