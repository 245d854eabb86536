package agent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// dispatchTools runs the calls of one response and returns their results
// in request order. Start and result events are emitted in request order
// in both modes.
func (r *run) dispatchTools(ctx context.Context, toolset *tools.Registry, calls []models.ToolCall) ([]models.ToolResult, error) {
	results := make([]models.ToolResult, len(calls))

	if !r.loop.ParallelTools || len(calls) == 1 {
		for i, call := range calls {
			if r.aborted(ctx) {
				return nil, r.abortErr()
			}
			r.em.send(models.NewToolCallStartEvent(call.Name, call.ID))
			results[i] = r.executeTool(ctx, toolset, call)
			if r.aborted(ctx) {
				return nil, r.abortErr()
			}
			r.finishTool(call, results[i])
		}
		return results, nil
	}

	if r.aborted(ctx) {
		return nil, r.abortErr()
	}
	for _, call := range calls {
		r.em.send(models.NewToolCallStartEvent(call.Name, call.ID))
	}

	var g errgroup.Group
	if r.loop.MaxParallelTools > 0 {
		g.SetLimit(r.loop.MaxParallelTools)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.executeTool(ctx, toolset, call)
			return nil
		})
	}
	_ = g.Wait()

	if r.aborted(ctx) {
		return nil, r.abortErr()
	}
	for i, call := range calls {
		r.finishTool(call, results[i])
	}
	return results, nil
}

func (r *run) finishTool(call models.ToolCall, res models.ToolResult) {
	r.records = append(r.records, models.ToolCallRecord{
		ID:      call.ID,
		Name:    call.Name,
		Input:   call.Input,
		Output:  res.Content,
		IsError: res.IsError,
	})
	r.em.send(models.NewToolCallResultEvent(call.ID, res.Content, res.IsError))
}

type toolOutcome struct {
	res *tools.Result
	err error
}

// executeTool never fails the run: every failure becomes an error result
// the model can react to. The call runs detached from run cancellation, so
// an abort waits for it to finish and the caller discards the result; only
// ToolTimeout cuts it short.
func (r *run) executeTool(ctx context.Context, toolset *tools.Registry, call models.ToolCall) models.ToolResult {
	ctx, span := r.p.deps.Tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()
	start := r.p.deps.Clock()

	var (
		execCtx context.Context
		cancel  context.CancelFunc
	)
	detached := context.WithoutCancel(ctx)
	if r.loop.ToolTimeout > 0 {
		execCtx, cancel = context.WithTimeout(detached, r.loop.ToolTimeout)
	} else {
		execCtx, cancel = context.WithCancel(detached)
	}
	defer cancel()

	done := make(chan toolOutcome, 1)
	go func() {
		res, err := toolset.Execute(execCtx, call.Name, call.Input)
		done <- toolOutcome{res: res, err: err}
	}()

	var out toolOutcome
	select {
	case out = <-done:
	case <-execCtx.Done():
		out.err = fmt.Errorf("%w after %s", ErrToolTimeout, r.loop.ToolTimeout)
	}
	if out.err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		out.err = fmt.Errorf("%w after %s", ErrToolTimeout, r.loop.ToolTimeout)
	}

	result := models.ToolResult{ToolCallID: call.ID}
	status := "success"
	switch {
	case out.err != nil:
		te := NewToolError(call.Name, call.ID, out.err)
		observability.RecordError(span, te)
		result.Content = te.Error()
		result.IsError = true
		status = string(te.Type)
	case out.res != nil:
		result.Content = out.res.Content
		result.IsError = out.res.IsError
		if out.res.IsError {
			status = "error"
		}
	}
	r.p.deps.Metrics.RecordToolExecution(call.Name, status, r.p.deps.Clock().Sub(start).Seconds())
	return result
}
