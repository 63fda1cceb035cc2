// Package launcher starts or attaches to the execworker process and hands
// back a debug handle together with an OS process handle.
//
// Two strategies are supported, both consumed by Launcher.Launch:
//
//   - Launch: the "exec.launch" connector starts the worker with an inherited
//     pipe pair (fds 3 and 4) carrying the debug protocol, so the debug handle
//     exists as soon as the process has started.
//   - Listen: the "tcp.listen" connector opens a TCP listener, starts the
//     worker as a plain subprocess with the listening address on its command
//     line, and accepts the worker's inbound debug connection.
//
// Worker discovery searches in the following order:
//  1. The explicit path in Options.WorkerPath (if provided)
//  2. The system PATH
//  3. Common installation directories (/usr/local/bin, /usr/bin, ~/.local/bin)
//
// Launch failures are returned as *errors.LaunchError and are never retried.
package launcher
