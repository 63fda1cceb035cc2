package launcher

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Process is the OS handle of a running worker.
type Process interface {
	// Pid returns the worker's process id.
	Pid() int
	// Kill terminates the worker. Safe to call multiple times and after the
	// worker has exited.
	Kill() error
	// Wait blocks until the worker has exited and returns its exit error.
	Wait() error
	// Done is closed once the worker has exited.
	Done() <-chan struct{}
}

// process wraps a started exec.Cmd. One goroutine owns cmd.Wait so that
// Wait and Done can be used from any number of callers.
type process struct {
	log *slog.Logger
	cmd *exec.Cmd

	done    chan struct{}
	waitErr error

	killOnce sync.Once
	killErr  error
}

var _ Process = (*process)(nil)

// startProcess starts cmd and forwards every line it writes to stderr to
// the logger and onStderr.
func startProcess(log *slog.Logger, cmd *exec.Cmd, onStderr func(string)) (*process, error) {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	p := &process{
		log:  log.With("pid", cmd.Process.Pid),
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var stderrWg sync.WaitGroup

	stderrWg.Go(func() {
		p.scanStderr(stderr, onStderr)
	})

	go func() {
		defer close(p.done)

		// Stderr must be fully read before Wait closes the pipe.
		stderrWg.Wait()

		p.waitErr = cmd.Wait()
		p.log.Debug("Worker process exited", "error", p.waitErr)
	}()

	return p, nil
}

func (p *process) scanStderr(r io.Reader, onStderr func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()

		p.log.Debug("Worker stderr", "line", line)

		if onStderr != nil {
			onStderr(line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.log.Warn("Worker stderr line unreadable, discarding the rest of stderr", "error", err)

		// Keep draining so the worker never blocks on a full stderr pipe.
		if _, err := io.Copy(io.Discard, r); err != nil {
			p.log.Debug("Draining worker stderr failed", "error", err)
		}
	}
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *process) Kill() error {
	p.killOnce.Do(func() {
		p.log.Debug("Killing worker process")

		err := p.cmd.Process.Kill()
		if err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			p.killErr = fmt.Errorf("kill worker (pid %d): %w", p.Pid(), err)
		}
	})

	return p.killErr
}

func (p *process) Wait() error {
	<-p.done

	return p.waitErr
}

func (p *process) Done() <-chan struct{} {
	return p.done
}
