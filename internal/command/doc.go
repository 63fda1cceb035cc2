// Package command implements the command protocol carried on the reserved
// "command" channel between the controller and the worker-side agent.
//
// Messages are newline-delimited JSON. The frame codec underneath carries no
// message boundaries, so the newline is the only delimiter. Exactly one call
// is outstanding at a time, so responses are matched to requests in FIFO
// order without request IDs.
package command
