package agent

import (
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/internal/abort"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Emitter receives a run's events in order. It must not block for long;
// the runner fans events out through a hub.
type Emitter func(models.Event)

// runEmitter stamps events with run metadata and a strictly increasing
// sequence number. Once the run is aborted or a terminal event has been
// sent, everything else is dropped.
type runEmitter struct {
	mu         sync.Mutex
	runID      string
	sessionKey string
	seq        uint64
	terminal   bool
	handle     *abort.Handle
	emit       Emitter
	now        func() time.Time
}

func newRunEmitter(runID, sessionKey string, handle *abort.Handle, emit Emitter, now func() time.Time) *runEmitter {
	return &runEmitter{
		runID:      runID,
		sessionKey: sessionKey,
		handle:     handle,
		emit:       emit,
		now:        now,
	}
}

// send reports whether ev was delivered.
func (e *runEmitter) send(ev models.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal || e.handle.Aborted() {
		return false
	}
	e.seq++
	ev.Sequence = e.seq
	ev.RunID = e.runID
	ev.SessionKey = e.sessionKey
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	if ev.IsTerminal() {
		e.terminal = true
	}
	if e.emit != nil {
		e.emit(ev)
	}
	return true
}
