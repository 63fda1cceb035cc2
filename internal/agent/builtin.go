package agent

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Builtins returns the programs shipped with execworker.
//
//	Echo.run   writes "hello" to out and returns "5"
//	Loop.run   spins until stopped
//	Sleep.run  waits one second, then returns "slept"
//	Cat.run    copies one line of stdin to out and returns its length
//	Fail.run   raises an IllegalStateException
//	Snippet.size returns the byte length of the loaded Snippet class
//
// Every class except Snippet is a system class, see BuiltinClasses.
func Builtins() map[string]Program {
	return map[string]Program{
		"Echo.run": func(_ context.Context, env Env) (string, error) {
			if _, err := io.WriteString(env.Stdout, "hello"); err != nil {
				return "", err
			}

			return "5", nil
		},
		"Loop.run": func(ctx context.Context, _ Env) (string, error) {
			for {
				if err := Checkpoint(ctx); err != nil {
					return "", err
				}

				time.Sleep(5 * time.Millisecond)
			}
		},
		"Sleep.run": func(ctx context.Context, _ Env) (string, error) {
			select {
			case <-time.After(time.Second):
				return "slept", nil
			case <-ctx.Done():
				return "", context.Cause(ctx)
			}
		},
		"Cat.run": func(_ context.Context, env Env) (string, error) {
			line, err := readLine(env.Stdin)
			if err != nil && line == "" {
				return "", fmt.Errorf("read stdin: %w", err)
			}

			if _, err := io.WriteString(env.Stdout, line); err != nil {
				return "", err
			}

			return strconv.Itoa(len(line)), nil
		},
		"Fail.run": func(context.Context, Env) (string, error) {
			return "", &Exception{Class: "IllegalStateException", Message: "failing on purpose"}
		},
		"Snippet.size": func(ctx context.Context, _ Env) (string, error) {
			b, _ := ClassBytes(ctx, "Snippet")

			return strconv.Itoa(len(b)), nil
		},
	}
}

// BuiltinClasses returns the classes of Builtins and BuiltinVars that
// resolve without a load.
func BuiltinClasses() []string {
	return []string{"Cat", "Clock", "Echo", "Fail", "Loop", "Sleep"}
}

// BuiltinVars returns the variables shipped with execworker.
func BuiltinVars() map[string]Program {
	return map[string]Program{
		"Echo.greeting": func(context.Context, Env) (string, error) {
			return "hello", nil
		},
		"Clock.now": func(context.Context, Env) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	}
}

// readLine reads up to and excluding the next newline one byte at a time,
// leaving the rest of stdin for later invocations.
func readLine(r io.Reader) (string, error) {
	var (
		sb  strings.Builder
		buf [1]byte
	)

	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			if buf[0] == '\n' {
				return sb.String(), nil
			}

			sb.WriteByte(buf[0])
		}

		if err != nil {
			return sb.String(), err
		}
	}
}
