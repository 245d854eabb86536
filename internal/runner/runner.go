// Package runner is the entry point for executing agent turns. It owns the
// per-session lifecycle around the pipeline: one active run per session,
// abort signalling, event fan-out and persistence.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/haasonsaas/agentcore/internal/abort"
	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/events"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/pkg/models"
)

var (
	// ErrSessionBusy is returned when a session already has an active run.
	ErrSessionBusy = errors.New("session has an active run")

	// ErrNotActive is returned by Abort when the session has no active run.
	ErrNotActive = errors.New("no active run for session")
)

// DefaultHistoryLimit is how many stored messages precede a new turn.
const DefaultHistoryLimit = 100

// Options configure a Runner.
type Options struct {
	Hub    *events.Hub
	Aborts *abort.Registry

	// Store persists transcripts. Nil keeps nothing between runs.
	Store sessions.Store

	// HistoryLimit bounds the stored messages loaded before each run.
	// Zero uses DefaultHistoryLimit; negative disables loading.
	HistoryLimit int

	Logger *slog.Logger
}

// Runner executes runs and publishes their events.
type Runner struct {
	pipeline     *agent.Pipeline
	hub          *events.Hub
	aborts       *abort.Registry
	store        sessions.Store
	historyLimit int
	logger       *slog.Logger
	wg           sync.WaitGroup
}

// New creates a runner around a pipeline.
func New(pipeline *agent.Pipeline, opts Options) *Runner {
	if opts.Hub == nil {
		opts.Hub = events.NewHub(events.DefaultBufferSize)
	}
	if opts.Aborts == nil {
		opts.Aborts = abort.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Runner{
		pipeline:     pipeline,
		hub:          opts.Hub,
		aborts:       opts.Aborts,
		store:        opts.Store,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger.With("component", "runner"),
	}
}

// Run starts a run and returns its event stream. The stream ends with one
// complete or error event and is then closed; an aborted run's stream
// closes without a terminal event. The caller must keep reading.
func (r *Runner) Run(ctx context.Context, params models.RunParams) (<-chan models.Event, error) {
	handle, runCtx, err := r.register(ctx, params.SessionKey)
	if err != nil {
		return nil, err
	}
	stream, unsubscribe := r.hub.Subscribe(context.Background(), params.SessionKey)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsubscribe()
		_, _ = r.execute(runCtx, handle, params)
	}()
	return stream, nil
}

// RunSync runs to completion and returns the result. Events still go to
// session subscribers.
func (r *Runner) RunSync(ctx context.Context, params models.RunParams) (*models.RunResult, error) {
	handle, runCtx, err := r.register(ctx, params.SessionKey)
	if err != nil {
		return nil, err
	}
	return r.execute(runCtx, handle, params)
}

// Subscribe attaches a live listener to a session. Events published before
// the call are not replayed.
func (r *Runner) Subscribe(ctx context.Context, sessionKey string) (<-chan models.Event, func()) {
	return r.hub.Subscribe(ctx, sessionKey)
}

// Abort signals the session's active run.
func (r *Runner) Abort(sessionKey string) error {
	if !r.aborts.Signal(sessionKey) {
		return fmt.Errorf("%w: %s", ErrNotActive, sessionKey)
	}
	return nil
}

// Active lists the sessions with a run in flight, sorted.
func (r *Runner) Active() []string {
	keys := r.aborts.Keys()
	slices.Sort(keys)
	return keys
}

// Wait blocks until every run started with Run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) register(ctx context.Context, sessionKey string) (*abort.Handle, context.Context, error) {
	handle, runCtx, err := r.aborts.Register(ctx, sessionKey)
	switch {
	case errors.Is(err, abort.ErrAlreadyActive):
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionKey)
	case err != nil:
		return nil, nil, err
	}
	return handle, runCtx, nil
}

func (r *Runner) execute(ctx context.Context, handle *abort.Handle, params models.RunParams) (*models.RunResult, error) {
	defer handle.Release()
	key := params.SessionKey
	inbound := params.Messages

	history, err := r.history(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to load session history", "session_key", key, "error", err)
	}
	if len(history) > 0 {
		params.Messages = append(history, inbound...)
	}

	emit := func(ev models.Event) {
		if ev.Type == models.EventCompaction && r.store != nil {
			if _, err := r.store.Compact(context.WithoutCancel(ctx), key, ev.Compaction.Strategy, ev.Compaction.Summary); err != nil {
				r.logger.WarnContext(ctx, "failed to record compaction", "session_key", key, "error", err)
			}
		}
		_ = r.hub.Publish(ctx, key, ev)
	}

	result, err := r.pipeline.Run(ctx, params, handle, emit)
	if err != nil {
		return nil, err
	}
	r.persist(ctx, key, inbound, result.Messages)
	return result, nil
}

func (r *Runner) history(ctx context.Context, key string) ([]models.Message, error) {
	if r.store == nil || r.historyLimit < 0 {
		return nil, nil
	}
	return r.store.GetHistory(ctx, key, r.historyLimit)
}

func (r *Runner) persist(ctx context.Context, key string, inbound, appended []models.Message) {
	if r.store == nil {
		return
	}
	msgs := make([]models.Message, 0, len(inbound)+len(appended))
	msgs = append(msgs, inbound...)
	msgs = append(msgs, appended...)
	if err := r.store.AppendMessages(context.WithoutCancel(ctx), key, msgs); err != nil {
		r.logger.WarnContext(ctx, "failed to persist run", "session_key", key, "error", err)
	}
}
