package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	execctl "github.com/wagiedev/execctl-go"
)

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// sessionOptions maps the global flags to session options. The config file
// is applied first so that explicit flags win.
func sessionOptions(c *cli.Context, log *slog.Logger) ([]execctl.Option, error) {
	opts := []execctl.Option{
		execctl.WithLogger(log),
		execctl.WithStdin(os.Stdin),
		execctl.WithStdout(os.Stdout),
		execctl.WithStderr(os.Stderr),
		execctl.WithWorkerStderr(func(line string) {
			log.Debug("Worker", "line", line)
		}),
		execctl.WithOnTermination(func(reason string) {
			log.Warn("Worker terminated", "reason", reason)
		}),
	}

	if path := c.String("config"); path != "" {
		opts = append(opts, execctl.WithConfigFile(path))
	}

	if c.IsSet("worker") {
		opts = append(opts, execctl.WithWorkerPath(c.String("worker")))
	}

	if vmOptions := c.StringSlice("vm-option"); len(vmOptions) > 0 {
		opts = append(opts, execctl.WithVMOptions(vmOptions...))
	}

	if pairs := c.StringSlice("connector-arg"); len(pairs) > 0 {
		args, err := parseKeyValues(pairs)
		if err != nil {
			return nil, fmt.Errorf("connector-arg: %w", err)
		}

		opts = append(opts, execctl.WithConnectorArgs(args))
	}

	if c.IsSet("accept-timeout") {
		opts = append(opts, execctl.WithAcceptTimeout(c.Duration("accept-timeout")))
	}

	return opts, nil
}

// parseKeyValues parses name=value pairs. Later pairs override earlier ones.
func parseKeyValues(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("malformed pair %q, want name=value", pair)
		}

		values[strings.TrimSpace(key)] = value
	}

	return values, nil
}

// generators returns the ways to open a session the strategy flag asks for.
// Without the flag, the strategy from the config file or the default applies.
func generators(c *cli.Context, opts []execctl.Option) ([]execctl.Generator, error) {
	host := c.String("host")

	switch strategy := strings.ToLower(c.String("strategy")); strategy {
	case "":
		if c.IsSet("host") {
			return []execctl.Generator{execctl.Listening(host, opts...)}, nil
		}

		return []execctl.Generator{func(ctx context.Context) (execctl.Session, error) {
			return execctl.Open(ctx, opts...)
		}}, nil
	case "launch":
		return []execctl.Generator{execctl.Launching(opts...)}, nil
	case "listen":
		return []execctl.Generator{execctl.Listening(host, opts...)}, nil
	case "failover":
		return []execctl.Generator{execctl.Launching(opts...), execctl.Listening(host, opts...)}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (want launch, listen or failover)", strategy)
	}
}
