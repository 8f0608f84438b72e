package kernel

import (
	"github.com/decibelsystems/decibel/internal/model"
)

// EventKind is the closed set of kernel lifecycle events.
type EventKind int

const (
	// KindDispatch fires after resolution and gating, before the handler
	// runs. The event's Outcome and DurationMs are not yet meaningful.
	KindDispatch EventKind = iota
	// KindResult fires when a handler returns a success envelope.
	KindResult
	// KindError fires when a call ends in an error envelope, whether the
	// handler failed or a gate rejected it.
	KindError
)

// String names the event kind for logs.
func (k EventKind) String() string {
	switch k {
	case KindDispatch:
		return "dispatch"
	case KindResult:
		return "result"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Event is one kernel lifecycle notification.
type Event struct {
	Kind     EventKind
	Dispatch model.DispatchEvent
}

// Observer receives kernel events. Observe is called synchronously on
// the dispatching goroutine and must not block; implementations that do
// I/O should buffer and hand off.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// multiObserver fans events out to several observers in order.
type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// MultiObserver combines observers; nil entries are dropped.
func MultiObserver(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
