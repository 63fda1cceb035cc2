package launcher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/debugwire"
)

// watchedVM is a debug client whose event stream also reports the exit of
// the worker process.
type watchedVM struct {
	*debugwire.Client

	log    *slog.Logger
	events chan debug.Event
}

var _ debug.EventSource = (*watchedVM)(nil)

func watchProcess(log *slog.Logger, client *debugwire.Client, proc Process) *watchedVM {
	w := &watchedVM{
		Client: client,
		log:    log,
		events: make(chan debug.Event, eventBuffer),
	}

	go w.forward(proc)

	return w
}

// Events implements debug.EventSource.
func (w *watchedVM) Events() <-chan debug.Event {
	return w.events
}

// forward copies client events until the connection or the process ends,
// then emits one final death or disconnect event.
func (w *watchedVM) forward(proc Process) {
	defer close(w.events)

	src := w.Client.Events()

	for {
		select {
		case ev, ok := <-src:
			if !ok {
				select {
				case <-proc.Done():
					w.emit(exitEvent(proc))
				case <-time.After(exitGrace):
					w.emit(debug.Event{Kind: debug.EventVMDisconnect})
				}

				return
			}

			w.emit(ev)

			if ev.Kind == debug.EventVMDeath || ev.Kind == debug.EventVMDisconnect {
				return
			}

		case <-proc.Done():
			w.emit(exitEvent(proc))

			return
		}
	}
}

func (w *watchedVM) emit(ev debug.Event) {
	select {
	case w.events <- ev:
	default:
		w.log.Warn("Debug event buffer full, dropping event", "event", ev.Kind)
	}
}

func exitEvent(proc Process) debug.Event {
	detail := "exit 0"
	if err := proc.Wait(); err != nil {
		detail = fmt.Sprint(err)
	}

	return debug.Event{Kind: debug.EventVMDeath, Detail: detail}
}
