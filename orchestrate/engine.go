package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/decompose"
	"github.com/juniperhq/juniper/expert"
	"github.com/juniperhq/juniper/internal/ctxkeys"
	"github.com/juniperhq/juniper/types"
)

// Observer receives engine outcome notifications, typically for
// metrics.
type Observer interface {
	RunCompleted(status types.RunStatus, duration time.Duration)
	TaskCompleted(expertID string, state types.TaskState, duration time.Duration)
}

// TaskResult is the outcome of one task node.
type TaskResult struct {
	TaskID   string          `json:"task_id"`
	ExpertID string          `json:"expert_id"`
	State    types.TaskState `json:"state"`
	Output   map[string]any  `json:"output,omitempty"`
	Err      error           `json:"-"`
	Duration time.Duration   `json:"duration"`
}

// RunResult is the aggregated outcome of a run: per-task detail plus
// the overall status.
type RunResult struct {
	RunID  string                 `json:"run_id"`
	Status types.RunStatus        `json:"status"`
	Tasks  map[string]*TaskResult `json:"tasks"`
}

// Engine executes task graphs on a bounded worker pool.
type Engine struct {
	invoker  expert.Invoker
	cfg      config.OrchestratorConfig
	logger   *zap.Logger
	observer Observer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates an engine calling experts through the invoker.
func NewEngine(invoker expert.Invoker, cfg config.OrchestratorConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = 30 * time.Second
	}
	e := &Engine{
		invoker: invoker,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// completion is one worker's report back to the scheduler.
type completion struct {
	taskID   string
	output   map[string]any
	err      error
	duration time.Duration
}

// run holds the mutable state of one execution. It is only touched by
// the scheduler goroutine; workers communicate through doneCh.
type run struct {
	id      string
	ownerID string
	graph   *decompose.Graph
	em      *emitter

	states   map[string]types.TaskState
	results  map[string]*TaskResult
	launched map[string]bool
	// completed records succeeded task ids in completion order, the
	// order rollback walks in reverse.
	completed []string

	doneCh  chan completion
	running int
}

// Run executes the graph and streams progress to the sink. Structural
// faults (cycles, dangling edges) abort before any side effect or
// event. Task-level failures never abort the run; they surface in the
// aggregated result.
func (e *Engine) Run(ctx context.Context, runID, ownerID string, graph *decompose.Graph, sink Sink) (*RunResult, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	r := &run{
		id:       runID,
		ownerID:  ownerID,
		graph:    graph,
		em:       newEmitter(sink, e.cfg.EventQueueSize, e.logger),
		states:   make(map[string]types.TaskState, graph.Len()),
		results:  make(map[string]*TaskResult, graph.Len()),
		launched: make(map[string]bool, graph.Len()),
		doneCh:   make(chan completion, graph.Len()),
	}
	for _, n := range graph.Nodes() {
		r.states[n.ID] = types.TaskPending
		r.results[n.ID] = &TaskResult{TaskID: n.ID, ExpertID: n.ExpertID, State: types.TaskPending}
	}

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("owner_id", ownerID),
		zap.Int("tasks", graph.Len()))

	r.em.emit(&Event{Type: EventRunStarted, RunID: runID, TaskCount: graph.Len()})

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))
	e.schedule(ctx, r, sem)

	for r.running > 0 || e.anyPending(r) {
		if r.running == 0 {
			// Nothing in flight and nothing launchable: the remaining
			// pending tasks were not resolved by skip propagation,
			// which cannot happen for a validated acyclic graph.
			e.logger.Error("scheduler stalled", zap.String("run_id", r.id))
			break
		}
		select {
		case c := <-r.doneCh:
			e.apply(r, c)
		case <-ctx.Done():
			// Skip everything not yet launched; in-flight workers see
			// the same cancellation and report failure.
			e.skipUnlaunched(r)
			c := <-r.doneCh
			e.apply(r, c)
		}
		e.schedule(ctx, r, sem)
	}

	status := e.finalize(ctx, r)

	cards := e.collectActionCards(r)
	if len(cards) > 0 {
		r.em.emit(&Event{Type: EventActionCards, RunID: runID, Cards: cards})
	}

	summary := make(map[string]TaskView, len(r.results))
	for id, res := range r.results {
		view := TaskView{State: res.State, ExpertID: res.ExpertID, Output: res.Output}
		if res.Err != nil {
			view.Error = res.Err.Error()
		}
		summary[id] = view
	}
	r.em.emit(&Event{Type: EventRunEnded, RunID: runID, RunStatus: status, Summary: summary})
	r.em.close()

	duration := time.Since(start)
	e.logger.Info("run ended",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration))
	if e.observer != nil {
		e.observer.RunCompleted(status, duration)
	}

	return &RunResult{RunID: runID, Status: status, Tasks: r.results}, nil
}

// schedule launches every ready task and resolves tasks whose upstream
// failure propagates as a skip. Skips can cascade, so it loops until a
// pass makes no progress.
func (e *Engine) schedule(ctx context.Context, r *run, sem *semaphore.Weighted) {
	for {
		progressed := false
		for _, n := range r.graph.Nodes() {
			if r.states[n.ID] != types.TaskPending || r.launched[n.ID] {
				continue
			}
			ready, skip, degraded := e.resolveDeps(r, n)
			switch {
			case skip:
				e.markSkipped(r, n.ID)
				progressed = true
			case ready:
				r.launched[n.ID] = true
				r.states[n.ID] = types.TaskRunning
				r.results[n.ID].State = types.TaskRunning
				r.running++
				go e.execute(ctx, r, n, sem, degraded)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// resolveDeps inspects a node's upstream states. ready means all deps
// are terminal and none forces a skip; degraded lists best-effort deps
// whose upstream failed, executed with a placeholder input.
func (e *Engine) resolveDeps(r *run, n *decompose.Node) (ready, skip bool, degraded []string) {
	for _, dep := range n.DependsOn {
		switch r.states[dep.TaskID] {
		case types.TaskSucceeded:
		case types.TaskFailed, types.TaskRolledBack, types.TaskSkipped:
			if !dep.BestEffort {
				return false, true, nil
			}
			degraded = append(degraded, dep.TaskID)
		default:
			return false, false, nil
		}
	}
	return true, false, degraded
}

func (e *Engine) markSkipped(r *run, taskID string) {
	r.states[taskID] = types.TaskSkipped
	r.results[taskID].State = types.TaskSkipped
	r.em.emit(&Event{
		Type:      EventTaskCompleted,
		RunID:     r.id,
		TaskID:    taskID,
		ExpertID:  r.results[taskID].ExpertID,
		TaskState: types.TaskSkipped,
	})
	e.logger.Debug("task skipped",
		zap.String("run_id", r.id),
		zap.String("task_id", taskID))
}

func (e *Engine) skipUnlaunched(r *run) {
	for _, n := range r.graph.Nodes() {
		if r.states[n.ID] == types.TaskPending && !r.launched[n.ID] {
			e.markSkipped(r, n.ID)
		}
	}
}

// execute runs one task in a worker goroutine and reports exactly one
// completion.
func (e *Engine) execute(ctx context.Context, r *run, n *decompose.Node, sem *semaphore.Weighted, degraded []string) {
	start := time.Now()

	if err := sem.Acquire(ctx, 1); err != nil {
		r.doneCh <- completion{
			taskID:   n.ID,
			err:      types.NewError(types.ErrRunCancelled, "run cancelled before task started").WithCause(err),
			duration: time.Since(start),
		}
		return
	}
	defer sem.Release(1)

	r.em.emit(&Event{
		Type:     EventTaskStarted,
		RunID:    r.id,
		TaskID:   n.ID,
		ExpertID: n.ExpertID,
	})

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTaskTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tctx = ctxkeys.WithRunID(tctx, r.id)
	tctx = ctxkeys.WithTaskID(tctx, n.ID)
	tctx = ctxkeys.WithOwnerID(tctx, r.ownerID)
	tctx = ctxkeys.WithProgress(tctx, func(message string) {
		r.em.emitProgress(&Event{
			Type:     EventTaskProgress,
			RunID:    r.id,
			TaskID:   n.ID,
			ExpertID: n.ExpertID,
			Message:  message,
		})
	})

	resp, err := e.invoker.Invoke(tctx, &types.ExpertRequest{
		ExpertID: n.ExpertID,
		OwnerID:  r.ownerID,
		Input:    e.buildInput(r, n, degraded),
	})
	if err == nil && !resp.OK() {
		err = types.NewError(types.ErrExpertInvocation, resp.ErrorDetail).WithExpert(n.ExpertID)
	}
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		err = types.NewError(types.ErrRunCancelled, "run cancelled").
			WithExpert(n.ExpertID).WithCause(err)
	}

	c := completion{taskID: n.ID, err: err, duration: time.Since(start)}
	if err == nil {
		c.output = resp.Output
	}
	r.doneCh <- c
}

// buildInput copies the node input and attaches resolved upstream
// outputs under "deps". Failed best-effort upstreams contribute a nil
// placeholder.
func (e *Engine) buildInput(r *run, n *decompose.Node, degraded []string) map[string]any {
	input := make(map[string]any, len(n.Input)+1)
	for k, v := range n.Input {
		input[k] = v
	}
	if len(n.DependsOn) == 0 {
		return input
	}

	deg := make(map[string]bool, len(degraded))
	for _, id := range degraded {
		deg[id] = true
	}
	deps := make(map[string]any, len(n.DependsOn))
	for _, dep := range n.DependsOn {
		if deg[dep.TaskID] {
			deps[dep.TaskID] = nil
			continue
		}
		deps[dep.TaskID] = r.results[dep.TaskID].Output
	}
	input["deps"] = deps
	return input
}

// apply records one completion and emits task_completed.
func (e *Engine) apply(r *run, c completion) {
	r.running--
	res := r.results[c.taskID]
	res.Duration = c.duration

	ev := &Event{
		Type:     EventTaskCompleted,
		RunID:    r.id,
		TaskID:   c.taskID,
		ExpertID: res.ExpertID,
	}

	if c.err != nil {
		r.states[c.taskID] = types.TaskFailed
		res.State = types.TaskFailed
		res.Err = c.err
		ev.TaskState = types.TaskFailed
		ev.Error = c.err.Error()
		e.logger.Warn("task failed",
			zap.String("run_id", r.id),
			zap.String("task_id", c.taskID),
			zap.String("expert_id", res.ExpertID),
			zap.Error(c.err))
	} else {
		r.states[c.taskID] = types.TaskSucceeded
		res.State = types.TaskSucceeded
		res.Output = c.output
		r.completed = append(r.completed, c.taskID)
		ev.TaskState = types.TaskSucceeded
		ev.Output = summarizeOutput(c.output)
	}
	r.em.emit(ev)

	if e.observer != nil {
		e.observer.TaskCompleted(res.ExpertID, res.State, c.duration)
	}
}

// anyPending reports whether any task is still pending.
func (e *Engine) anyPending(r *run) bool {
	for _, s := range r.states {
		if s == types.TaskPending {
			return true
		}
	}
	return false
}

// finalize derives the overall status and runs compensation when the
// run must abort: any failure alongside a succeeded task that defined a
// rollback action triggers rollback of all succeeded tasks in reverse
// completion order.
func (e *Engine) finalize(ctx context.Context, r *run) types.RunStatus {
	var failed, succeeded, rollbackDefined bool
	for _, res := range r.results {
		switch res.State {
		case types.TaskFailed:
			failed = true
		case types.TaskSucceeded:
			succeeded = true
		}
	}
	for _, id := range r.completed {
		if n, _ := r.graph.Node(id); n.Rollback != nil {
			rollbackDefined = true
			break
		}
	}

	if failed && rollbackDefined {
		e.rollback(ctx, r)
	}
	switch {
	case ctx.Err() != nil:
		return types.RunCancelled
	case failed && rollbackDefined:
		return types.RunFailed
	case !failed && succeeded && !e.anySkipped(r):
		return types.RunSucceeded
	case succeeded || e.anySkipped(r):
		// Succeeded results remain usable; skipped tasks were never
		// attempted, so the run was only partly carried out.
		return types.RunPartial
	}
	// Every task failed outright.
	return types.RunFailed
}

func (e *Engine) anySkipped(r *run) bool {
	for _, s := range r.states {
		if s == types.TaskSkipped {
			return true
		}
	}
	return false
}

// rollback compensates every succeeded task that defined a rollback
// action, newest first. Compensation is best-effort: a failing rollback
// call is logged, the remaining ones still run.
func (e *Engine) rollback(ctx context.Context, r *run) {
	// Rollback must run even when the caller already cancelled.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DefaultTaskTimeout)
	defer cancel()

	for i := len(r.completed) - 1; i >= 0; i-- {
		id := r.completed[i]
		n, _ := r.graph.Node(id)
		if n.Rollback == nil {
			continue
		}

		_, err := e.invoker.Invoke(rctx, &types.ExpertRequest{
			ExpertID: n.Rollback.ExpertID,
			OwnerID:  r.ownerID,
			Input:    n.Rollback.Input,
		})
		if err != nil {
			e.logger.Error("rollback action failed",
				zap.String("run_id", r.id),
				zap.String("task_id", id),
				zap.String("expert_id", n.Rollback.ExpertID),
				zap.Error(err))
		}

		r.states[id] = types.TaskRolledBack
		r.results[id].State = types.TaskRolledBack
		r.em.emit(&Event{
			Type:      EventTaskCompleted,
			RunID:     r.id,
			TaskID:    id,
			ExpertID:  r.results[id].ExpertID,
			TaskState: types.TaskRolledBack,
		})
	}
}

// collectActionCards gathers follow-up suggestions: cards returned by
// experts under the "action_cards" output key, plus a retry suggestion
// for each failed task.
func (e *Engine) collectActionCards(r *run) []ActionCard {
	var cards []ActionCard
	for _, id := range r.completed {
		res := r.results[id]
		if res.State != types.TaskSucceeded || res.Output == nil {
			continue
		}
		raw, ok := res.Output["action_cards"].([]any)
		if !ok {
			continue
		}
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			card := ActionCard{ExpertID: res.ExpertID}
			if v, ok := m["title"].(string); ok {
				card.Title = v
			}
			if v, ok := m["action"].(string); ok {
				card.Action = v
			}
			if v, ok := m["metadata"].(map[string]any); ok {
				card.Metadata = v
			}
			if card.Title != "" {
				cards = append(cards, card)
			}
		}
	}
	for _, n := range r.graph.Nodes() {
		if r.results[n.ID].State == types.TaskFailed {
			cards = append(cards, ActionCard{
				Title:    fmt.Sprintf("Retry %s", n.ExpertID),
				Action:   "retry_task",
				ExpertID: n.ExpertID,
				Metadata: map[string]any{"task_id": n.ID},
			})
		}
	}
	return cards
}

// summarizeOutput trims a task output for the progress stream; the full
// output stays in the run result.
func summarizeOutput(output map[string]any) map[string]any {
	if len(output) <= 4 {
		return output
	}
	out := make(map[string]any, 4)
	for _, k := range []string{"text", "summary", "status", "result"} {
		if v, ok := output[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return map[string]any{"keys": len(output)}
	}
	return out
}
