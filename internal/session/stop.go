package session

import (
	"context"
	"fmt"
	"time"

	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/errors"
)

// stopRetryInterval is the pause between stop attempts that found the
// invocation outside client code.
const stopRetryInterval = 10 * time.Millisecond

// Stop interrupts the outstanding Invoke or VarValue.
//
// Stop is a no-op when nothing interruptible is running. Otherwise it
// suspends the worker, finds the thread executing the agent's entry point
// and, if that thread is in client code, throws the invocation's stop signal
// into it. The worker is always resumed after each attempt. An invocation
// that has not reached client code yet is retried until the signal is
// thrown, the invocation ends, the session closes or ctx is done. Debug
// failures are returned as *errors.InternalError.
func (s *Session) Stop(ctx context.Context) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if !s.isRunning() {
		s.log.Debug("Stop requested with nothing running")

		return nil
	}

	s.log.Info("Stopping running invocation")

	for attempt := 1; ; attempt++ {
		thrown, err := s.stop(ctx)
		if err != nil {
			s.log.Error("Failed to stop invocation", "error", err, "attempt", attempt)

			return &errors.InternalError{Op: "stop", Err: err}
		}

		if thrown {
			return nil
		}

		if !s.isRunning() {
			s.log.Debug("Invocation ended before the stop signal was thrown", "attempt", attempt)

			return nil
		}

		timer := time.NewTimer(stopRetryInterval)

		select {
		case <-timer.C:
		case <-s.done:
			timer.Stop()

			return nil
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		}
	}
}

// stop makes one attempt and reports whether the stop signal was thrown.
func (s *Session) stop(ctx context.Context) (thrown bool, err error) {
	vm := s.vm

	if err := vm.Suspend(ctx); err != nil {
		// The request may have reached the worker before ctx ended.
		if rerr := vm.Resume(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Debug("Resume after failed suspend failed", "error", rerr)
		}

		return false, fmt.Errorf("suspend: %w", err)
	}

	resumed := false

	resume := func(ctx context.Context) error {
		resumed = true

		return vm.Resume(ctx)
	}

	defer func() {
		if resumed {
			return
		}

		if rerr := resume(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = fmt.Errorf("resume: %w", rerr)
		}
	}()

	threads, err := vm.Threads(ctx)
	if err != nil {
		return false, fmt.Errorf("list threads: %w", err)
	}

	for _, thread := range threads {
		frame, found, err := vm.LocateClientFrame(ctx, thread)
		if err != nil {
			return false, fmt.Errorf("locate client frame in %s: %w", thread, err)
		}

		if !found {
			continue
		}

		return s.interrupt(ctx, vm, frame, resume)
	}

	s.log.Debug("No thread is executing client code")

	return false, nil
}

// interrupt throws the stop signal into the thread owning frame if it is in
// client code. resume is called exactly once before the throw.
func (s *Session) interrupt(
	ctx context.Context,
	vm debug.VM,
	frame debug.FrameHandle,
	resume func(context.Context) error,
) (bool, error) {
	inClient, err := vm.Marker(ctx, frame, debug.MarkerInClientCode)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", debug.MarkerInClientCode, err)
	}

	if !inClient {
		s.log.Debug("Invocation is not in client code", "thread", frame.Thread)

		return false, nil
	}

	if err := vm.SetMarker(ctx, frame, debug.MarkerExpectingStop, true); err != nil {
		return false, fmt.Errorf("set %s: %w", debug.MarkerExpectingStop, err)
	}

	signal, err := vm.StopSignal(ctx, frame)
	if err != nil {
		return false, fmt.Errorf("read stop signal: %w", err)
	}

	if err := resume(ctx); err != nil {
		return false, fmt.Errorf("resume: %w", err)
	}

	s.log.Debug("Throwing stop signal", "thread", frame.Thread, "signal", signal)

	if err := vm.Throw(ctx, frame.Thread, signal); err != nil {
		return false, fmt.Errorf("throw stop signal: %w", err)
	}

	if err := vm.SetMarker(ctx, frame, debug.MarkerExpectingStop, false); err != nil {
		return true, fmt.Errorf("clear %s: %w", debug.MarkerExpectingStop, err)
	}

	return true, nil
}
