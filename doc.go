// Package execctl is a remote execution control plane: it launches an
// isolated worker process, multiplexes command, output, error and input
// channels over one connection, and can stop in-flight worker code through a
// separate debug connection without killing the worker.
//
// # Basic Usage
//
// Open a session, invoke code in the worker and close the session:
//
//	ctx := context.Background()
//	s, err := execctl.Open(ctx,
//	    execctl.WithStdout(os.Stdout),
//	    execctl.WithLaunch(),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	result, err := s.Invoke(ctx, "Echo", "run")
//
// Or let WithSession manage the lifecycle:
//
//	err := execctl.WithSession(ctx, func(s execctl.Session) error {
//	    _, err := s.Invoke(ctx, "Echo", "run")
//	    return err
//	}, execctl.WithWorkerPath("/opt/execctl/bin/execworker"))
//
// # Stopping Code
//
// Invoke blocks until the worker answers. Stop, called from another
// goroutine, interrupts it; Invoke then returns a *StoppedError:
//
//	go func() {
//	    time.Sleep(time.Second)
//	    _ = s.Stop(ctx)
//	}()
//
//	_, err := s.Invoke(ctx, "Loop", "run")
//	if _, ok := errors.AsType[*execctl.StoppedError](err); ok {
//	    fmt.Println("stopped")
//	}
//
// # Fail-over
//
// FailOver tries several ways of starting a worker and keeps the first that
// works:
//
//	s, err := execctl.FailOver(ctx,
//	    execctl.Launching(opts...),
//	    execctl.Listening("127.0.0.1", opts...),
//	)
//
// # Error Handling
//
// Errors are typed after their origin:
//
//	_, err := s.Invoke(ctx, "Calc", "divide")
//	if ue, ok := errors.AsType[*execctl.UserException](err); ok {
//	    log.Printf("worker raised %s: %s", ue.ClassName, ue.Message)
//	}
//	if errors.Is(err, execctl.ErrSessionClosed) {
//	    log.Print("worker is gone, open a new session")
//	}
//
// # Requirements
//
// The execworker binary must be installed in PATH or a common location, or
// given with WithWorkerPath.
package execctl
