// Package session implements the execution control session: it launches a
// worker, multiplexes the worker's channels over one command connection,
// runs invoke and query commands, and stops in-flight worker code through
// the debug connection.
//
// A session moves through CREATED, CONNECTING, READY and INVOKING and ends
// in CLOSED, either through Close or when the worker dies.
package session
