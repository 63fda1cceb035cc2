// Package agent is the worker side of an execution control session.
//
// An Agent serves the command channel of one controller: it installs
// classes through a Loader, runs registered programs for invoke and
// var_value commands, and routes program output to the "out" and "err"
// channels. Each invocation runs on its own goroutine, exposed to the
// controller's debug connection as a thread whose entry frame carries the
// inClientCode and expectingStop markers and a pre-allocated stop signal.
//
// Programs observe a stop through their context. Long-running programs
// should call Checkpoint regularly; it also parks them while the controller
// holds the worker suspended.
package agent
