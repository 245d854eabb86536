package subagent

import (
	"sort"
	"sync"
	"time"
)

// RunStatus is the lifecycle state of a child run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// RunRecord tracks one child run.
type RunRecord struct {
	RunID            string    `json:"run_id"`
	ChildSessionKey  string    `json:"child_session_key"`
	ParentSessionKey string    `json:"parent_session_key"`
	ParentRunID      string    `json:"parent_run_id,omitempty"`
	AgentID          string    `json:"agent_id"`
	Task             string    `json:"task"`
	Depth            int       `json:"depth"`
	Status           RunStatus `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	Result           string    `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// IsComplete reports whether the run has finished.
func (r RunRecord) IsComplete() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// Duration returns the run time of a finished run.
func (r RunRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.CreatedAt)
}

// defaultRetainFinished bounds how many finished records are kept.
const defaultRetainFinished = 256

// RunRegistry records in-flight and recently finished child runs.
type RunRegistry struct {
	mu       sync.RWMutex
	runs     map[string]*RunRecord
	finished []string
	retain   int
	now      func() time.Time
}

// NewRunRegistry creates a registry keeping up to retain finished runs.
func NewRunRegistry(retain int) *RunRegistry {
	if retain <= 0 {
		retain = defaultRetainFinished
	}
	return &RunRegistry{
		runs:   make(map[string]*RunRecord),
		retain: retain,
		now:    time.Now,
	}
}

func (r *RunRegistry) start(rec RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Status = StatusRunning
	rec.CreatedAt = r.now()
	r.runs[rec.RunID] = &rec
}

func (r *RunRegistry) finish(runID, result string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[runID]
	if !ok || rec.IsComplete() {
		return
	}
	rec.EndedAt = r.now()
	if err != nil {
		rec.Status = StatusError
		rec.Error = err.Error()
	} else {
		rec.Status = StatusCompleted
		rec.Result = result
	}

	r.finished = append(r.finished, runID)
	for len(r.finished) > r.retain {
		delete(r.runs, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// Get returns a copy of the record for runID.
func (r *RunRegistry) Get(runID string) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// Active returns the in-flight runs, oldest first.
func (r *RunRegistry) Active() []RunRecord {
	return r.list(func(rec *RunRecord) bool { return !rec.IsComplete() })
}

// ListForParent returns every known run spawned from a parent session.
func (r *RunRegistry) ListForParent(parentSessionKey string) []RunRecord {
	return r.list(func(rec *RunRecord) bool { return rec.ParentSessionKey == parentSessionKey })
}

func (r *RunRegistry) list(keep func(*RunRecord) bool) []RunRecord {
	r.mu.RLock()
	out := make([]RunRecord, 0, len(r.runs))
	for _, rec := range r.runs {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
