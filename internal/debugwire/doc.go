// Package debugwire implements the debug connection between the controller
// and a worker.
//
// The protocol is newline-delimited JSON over a dedicated stream, separate
// from the worker's multiplexed command transport. The controller side
// (Client) implements debug.VM and debug.EventSource; the worker side
// (Server) serves a Target.
//
// The Client handles:
//   - Sending requests with unique ULID request IDs
//   - Correlating responses with waiting requests
//   - Request timeout enforcement
//   - Forwarding asynchronous events (vm_start, vm_death) to Events()
//
// Example usage:
//
//	client := debugwire.NewClient(log, conn, 10*time.Second)
//	client.Start()
//
//	if err := client.Suspend(ctx); err != nil {
//	    return err
//	}
//	defer client.Resume(ctx)
package debugwire
