package testharness

import (
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Recorder collects emitted events. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

// Emit appends ev; it satisfies the pipeline's emitter signature.
func (r *Recorder) Emit(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []models.EventType {
	return Types(r.Events())
}

// Count returns how many events of typ were recorded.
func (r *Recorder) Count(typ models.EventType) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// Terminal returns the recorded terminal events.
func (r *Recorder) Terminal() []models.Event {
	var out []models.Event
	for _, ev := range r.Events() {
		if ev.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}

// Types extracts event types.
func Types(events []models.Event) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// Drain reads a stream until it closes.
func Drain(ch <-chan models.Event) []models.Event {
	var out []models.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
