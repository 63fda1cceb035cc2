// Package monitor watches a debug connection for worker death or
// disconnection and notifies registered handlers.
package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wagiedev/execctl-go/internal/debug"
)

// Reasons passed to handlers.
const (
	ReasonTerminated   = "worker terminated"
	ReasonDisconnected = "debug connection dropped"
)

// Handler is notified once with a short reason when the worker goes away.
type Handler func(reason string)

// Monitor fires its handlers on the first death or disconnect event of a
// debug connection. A connection without event support makes the monitor a
// no-op.
type Monitor struct {
	log    *slog.Logger
	events <-chan debug.Event

	mu       sync.Mutex
	handlers []Handler
	fired    bool
	started  bool

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a monitor for vm.
func New(log *slog.Logger, vm debug.VM) *Monitor {
	m := &Monitor{
		log:  log.With("component", "monitor"),
		stop: make(chan struct{}),
	}

	if src, ok := vm.(debug.EventSource); ok {
		m.events = src.Events()
	}

	return m
}

// Supported reports whether the debug connection delivers events.
func (m *Monitor) Supported() bool {
	return m.events != nil
}

// AddHandler registers h. Handlers fire in registration order. Handlers
// added after the monitor has fired are never called.
func (m *Monitor) AddHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, h)
}

// Start begins watching. It is a no-op without event support or when
// already started.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.events == nil {
		m.log.Debug("Debug connection has no event support, liveness monitor disabled")

		return
	}

	if m.started {
		return
	}

	m.started = true

	m.wg.Go(func() {
		m.watch(ctx)
	})
}

// Stop stops watching without firing handlers and waits for the watcher
// to exit. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		close(m.stop)
	})

	m.wg.Wait()
}

func (m *Monitor) watch(ctx context.Context) {
	defer m.log.Debug("Liveness monitor stopped")

	for {
		select {
		case ev, ok := <-m.events:
			if !ok {
				m.fire(ReasonDisconnected)

				return
			}

			switch ev.Kind {
			case debug.EventVMDeath:
				m.fire(ReasonTerminated)

				return
			case debug.EventVMDisconnect:
				m.fire(ReasonDisconnected)

				return
			default:
				m.log.Debug("Ignoring debug event", "event", ev.Kind)
			}

		case <-m.stop:
			return

		case <-ctx.Done():
			return
		}
	}
}

// fire calls every handler once, in registration order.
func (m *Monitor) fire(reason string) {
	m.mu.Lock()

	if m.fired {
		m.mu.Unlock()

		return
	}

	m.fired = true
	handlers := m.handlers
	m.mu.Unlock()

	m.log.Info("Worker lost", "reason", reason)

	for _, h := range handlers {
		h(reason)
	}
}
