package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	execctl "github.com/wagiedev/execctl-go"
	"github.com/wagiedev/execctl-go/internal/launcher"
)

func invokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "run CLASS.METHOD in the worker and print its result",
		ArgsUsage: "CLASS METHOD",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "load",
				Usage: "install a class before invoking, as NAME=FILE or FILE (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "classpath",
				Usage: "add a path to the worker's class path (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "stop the invocation after this long",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("invoke: want CLASS METHOD, got %d arguments", c.NArg())
			}

			class, method := c.Args().Get(0), c.Args().Get(1)

			return withSession(c, func(ctx context.Context, s execctl.Session, log *slog.Logger) error {
				if err := prepare(ctx, c, s); err != nil {
					return err
				}

				return runInterruptible(ctx, s, log, c.Duration("timeout"), func() (string, error) {
					return s.Invoke(ctx, class, method)
				})
			})
		},
	}
}

func varCommand() *cli.Command {
	return &cli.Command{
		Name:      "var",
		Usage:     "print the value of CLASS.VARIABLE",
		ArgsUsage: "CLASS VARIABLE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "stop the query after this long",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("var: want CLASS VARIABLE, got %d arguments", c.NArg())
			}

			class, variable := c.Args().Get(0), c.Args().Get(1)

			return withSession(c, func(ctx context.Context, s execctl.Session, log *slog.Logger) error {
				return runInterruptible(ctx, s, log, c.Duration("timeout"), func() (string, error) {
					return s.VarValue(ctx, class, variable)
				})
			})
		},
	}
}

func connectorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "connectors",
		Usage: "list the built-in connectors and the arguments they accept",
		Action: func(c *cli.Context) error {
			registry := launcher.New(newLogger(c)).Registry()
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)

			for _, name := range registry.Names() {
				connector, err := registry.Lookup(name)
				if err != nil {
					return err
				}

				fmt.Fprintf(w, "%s\n", name)

				for _, arg := range connector.Arguments() {
					mandatory := ""
					if arg.Mandatory {
						mandatory = "mandatory"
					}

					fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", arg.Name, arg.Default, mandatory, arg.Description)
				}
			}

			return w.Flush()
		},
	}
}

// withSession opens a session the way the global flags ask for, runs fn and
// closes the session.
func withSession(c *cli.Context, fn func(context.Context, execctl.Session, *slog.Logger) error) error {
	ctx := c.Context
	log := newLogger(c)

	opts, err := sessionOptions(c, log)
	if err != nil {
		return err
	}

	gens, err := generators(c, opts)
	if err != nil {
		return err
	}

	s, err := execctl.FailOver(ctx, gens...)
	if err != nil {
		return err
	}

	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("Failed to close session", "error", err)
		}
	}()

	log.Debug("Session open", "session_id", s.ID())

	return fn(ctx, s, log)
}

// prepare installs the classes and class path entries given on the command line.
func prepare(ctx context.Context, c *cli.Context, s execctl.Session) error {
	var classes []execctl.Class

	for _, spec := range c.StringSlice("load") {
		class, err := readClass(spec)
		if err != nil {
			return err
		}

		classes = append(classes, class)
	}

	if len(classes) > 0 {
		if err := s.Load(ctx, classes); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}

	for _, path := range c.StringSlice("classpath") {
		if err := s.AddToClasspath(ctx, path); err != nil {
			return fmt.Errorf("classpath %s: %w", path, err)
		}
	}

	return nil
}

// readClass reads NAME=FILE, or FILE with the class named after the file.
func readClass(spec string) (execctl.Class, error) {
	name, path, ok := strings.Cut(spec, "=")
	if !ok {
		path = spec
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if name == "" || path == "" {
		return execctl.Class{}, fmt.Errorf("malformed class %q, want NAME=FILE", spec)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return execctl.Class{}, fmt.Errorf("read class %s: %w", name, err)
	}

	return execctl.Class{Name: name, Bytes: data}, nil
}

// runInterruptible runs call and prints its result. The first interrupt, or
// the timeout, stops the running code; a second interrupt closes the session.
func runInterruptible(
	ctx context.Context,
	s execctl.Session,
	log *slog.Logger,
	timeout time.Duration,
	call func() (string, error),
) error {
	type result struct {
		value string
		err   error
	}

	done := make(chan result, 1)

	go func() {
		value, err := call()
		done <- result{value: value, err: err}
	}()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(signals)

	var deadline <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		deadline = timer.C
	}

	interrupted := false

	for {
		select {
		case res := <-done:
			if res.err != nil {
				return res.err
			}

			fmt.Println(res.value)

			return nil
		case <-deadline:
			log.Info("Timeout reached, stopping")

			if err := s.Stop(ctx); err != nil {
				return err
			}
		case <-signals:
			if interrupted {
				log.Info("Second interrupt, closing session")

				return s.Close()
			}

			interrupted = true

			log.Info("Interrupted, stopping")

			if err := s.Stop(ctx); err != nil {
				return err
			}
		}
	}
}
