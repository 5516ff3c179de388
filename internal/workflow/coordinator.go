package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/docflow/internal/events"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/metrics"
	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/status"
)

// ErrDeadlock reports a pending set with no runnable document.
var ErrDeadlock = errors.New("no runnable documents left while documents are pending")

// Planner resolves requests into plans and exposes direct dependencies.
type Planner interface {
	Resolve(requested []string) (model.ExecutionPlan, error)
	Dependencies(id string) []string
	Get(id string) (model.DocumentDefinition, bool)
}

// DocumentRunner executes one document. *Executor implements it.
type DocumentRunner interface {
	Execute(ctx context.Context, task Task) (model.DocumentResult, error)
}

// Request is one workflow run.
type Request struct {
	RunID       string   `yaml:"run_id,omitempty"`
	UserRequest string   `yaml:"request"`
	DocumentIDs []string `yaml:"documents"`
}

// Coordinator schedules plan documents in waves. Scheduler state is owned
// by Run; wave tasks only return outcomes.
type Coordinator struct {
	planner     Planner
	runner      DocumentRunner
	store       status.Store
	sink        events.Sink
	instruments *metrics.Instruments
	logger      *logging.Logger
	now         func() time.Time
}

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*Coordinator)

func WithStore(s status.Store) CoordinatorOption { return func(c *Coordinator) { c.store = s } }

func WithSink(s events.Sink) CoordinatorOption { return func(c *Coordinator) { c.sink = events.OrNop(s) } }

func WithInstruments(in *metrics.Instruments) CoordinatorOption {
	return func(c *Coordinator) { c.instruments = in }
}

func NewCoordinator(planner Planner, runner DocumentRunner, logger *logging.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		planner: planner,
		runner:  runner,
		sink:    events.Nop(),
		logger:  logger.With("coordinator"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type outcome struct {
	result model.DocumentResult
	err    error
}

// runState is the scheduler state of one run.
type runState struct {
	plan      model.ExecutionPlan
	inPlan    map[string]bool
	pending   []string
	completed map[string]model.DocumentResult
	order     []string
	failed    map[string]error
	tasks     map[string]*model.TaskState
}

// Plan resolves ids without running anything.
func (c *Coordinator) Plan(ids []string) (model.ExecutionPlan, error) {
	return c.planner.Resolve(ids)
}

// Run resolves the request and executes it wave by wave. Resolution errors
// abort before scheduling. Per-document failures never return an error; they
// are reflected in the result status.
func (c *Coordinator) Run(ctx context.Context, req Request) (*model.WorkflowResult, error) {
	runID := req.RunID
	if runID == "" {
		id, err := model.GenerateID(model.IDTypeRun)
		if err != nil {
			return nil, err
		}
		runID = id
	}

	plan, err := c.planner.Resolve(req.DocumentIDs)
	if err != nil {
		c.logger.Errorf("run_id=%s plan failed: %v", runID, err)
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	c.logger.Infof("run_id=%s plan=%v", runID, []string(plan))
	c.sink.Emit(events.NewEvent(events.EventPlanComputed, runID, "", map[string]any{
		"plan":      []string(plan),
		"requested": req.DocumentIDs,
	}))

	collector := metrics.NewCollector(runID, c.instruments)
	defer collector.Dispose()

	st := c.newRunState(plan)
	c.updateStatus(runID, model.RunInProgress, st, "")

	var runErr error
	for wave := 1; len(st.pending) > 0; wave++ {
		if err := ctx.Err(); err != nil {
			c.logger.Warnf("run_id=%s stopped before wave %d: %v", runID, wave, err)
			runErr = err
			break
		}
		ready := c.ready(st)
		if len(ready) == 0 {
			if blocked := c.blocked(st); len(blocked) == len(st.pending) {
				c.logger.Warnf("run_id=%s documents blocked by failed dependencies: %v", runID, blocked)
				break
			}
			c.logger.Errorf("run_id=%s FATAL scheduler invariant violated: %v, pending=%v", runID, ErrDeadlock, st.pending)
			runErr = ErrDeadlock
			break
		}
		c.runWave(ctx, runID, req.UserRequest, wave, ready, st, collector)
	}

	return c.finish(ctx, runID, st, collector, runErr)
}

func (c *Coordinator) newRunState(plan model.ExecutionPlan) *runState {
	st := &runState{
		plan:      plan,
		inPlan:    make(map[string]bool, len(plan)),
		pending:   append([]string(nil), plan...),
		completed: make(map[string]model.DocumentResult, len(plan)),
		failed:    make(map[string]error),
		tasks:     make(map[string]*model.TaskState, len(plan)),
	}
	now := c.now()
	for _, id := range plan {
		st.inPlan[id] = true
		st.tasks[id] = model.NewTaskState(id, now)
	}
	return st
}

// ready returns pending documents whose in-plan dependencies all completed,
// in plan order.
func (c *Coordinator) ready(st *runState) []string {
	var ready []string
	for _, id := range st.pending {
		ok := true
		for _, dep := range c.planner.Dependencies(id) {
			if !st.inPlan[dep] {
				continue
			}
			if _, done := st.completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// blocked returns pending documents that depend, directly or through another
// pending document, on a failed one. pending is in plan order, so a single pass suffices.
func (c *Coordinator) blocked(st *runState) []string {
	isBlocked := make(map[string]bool)
	var out []string
	for _, id := range st.pending {
		for _, dep := range c.planner.Dependencies(id) {
			if _, failed := st.failed[dep]; failed || isBlocked[dep] {
				isBlocked[id] = true
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func (c *Coordinator) runWave(ctx context.Context, runID, userRequest string, wave int, ready []string, st *runState, collector *metrics.Collector) {
	c.logger.Infof("run_id=%s wave=%d documents=%v", runID, wave, ready)
	c.sink.Emit(events.NewEvent(events.EventWaveStarted, runID, "", map[string]any{
		"wave":      wave,
		"documents": ready,
	}))

	start := c.now()
	for _, id := range ready {
		if err := st.tasks[id].Transition(model.TaskInProgress, start); err != nil {
			c.logger.Errorf("run_id=%s document=%s: %v", runID, id, err)
		}
	}

	outcomes := make([]outcome, len(ready))
	var g errgroup.Group
	for i, id := range ready {
		g.Go(func() error {
			outcomes[i] = c.runDocument(ctx, runID, userRequest, id, wave, st.completed, collector)
			return nil
		})
	}
	_ = g.Wait()
	wall := c.now().Sub(start)

	end := c.now()
	remaining := st.pending[:0]
	isReady := make(map[string]int, len(ready))
	for i, id := range ready {
		isReady[id] = i
	}
	for _, id := range st.pending {
		i, ran := isReady[id]
		if !ran {
			remaining = append(remaining, id)
			continue
		}
		task := st.tasks[id]
		out := outcomes[i]
		if out.err != nil {
			st.failed[id] = out.err
			task.Error = out.err.Error()
			_ = task.Transition(model.TaskFailed, end)
			continue
		}
		st.completed[id] = out.result
		st.order = append(st.order, id)
		task.Content = out.result.Content
		task.OutputRef = out.result.OutputRef
		_ = task.Transition(model.TaskCompleted, end)
	}
	st.pending = remaining

	c.updateStatus(runID, model.RunInProgress, st, "")
	rec := collector.RecordWave(wave, ready, wall)
	c.logger.Infof("run_id=%s wave=%d done duration=%s parallel_efficiency=%.1f completed=%d failed=%d pending=%d",
		runID, wave, wall.Round(time.Millisecond), rec.ParallelEfficiency, len(st.completed), len(st.failed), len(st.pending))
	c.sink.Emit(events.NewEvent(events.EventWaveCompleted, runID, "", map[string]any{
		"wave":                wave,
		"duration_ms":         wall.Milliseconds(),
		"parallel_efficiency": rec.ParallelEfficiency,
	}))
}

// runDocument runs inside a wave goroutine. completed is read only here.
func (c *Coordinator) runDocument(ctx context.Context, runID, userRequest, id string, wave int, completed map[string]model.DocumentResult, collector *metrics.Collector) outcome {
	c.sink.Emit(events.NewEvent(events.EventDocumentStarted, runID, id, map[string]any{"wave": wave}))
	collector.DocumentStarted(id)

	res, err := c.runner.Execute(ctx, Task{
		RunID:       runID,
		DocumentID:  id,
		UserRequest: userRequest,
		Completed:   completed,
	})
	collector.DocumentEnded(id, err == nil)

	if err != nil {
		timeout := errors.Is(err, ErrTimeout)
		c.logger.Errorf("run_id=%s document=%s failed timeout=%t: %v", runID, id, timeout, err)
		c.sink.Emit(events.NewEvent(events.EventDocumentErrored, runID, id, map[string]any{
			"error":   err.Error(),
			"timeout": timeout,
		}))
		return outcome{err: err}
	}

	data := map[string]any{"output_ref": res.OutputRef}
	if res.Quality != nil {
		data["improved"] = res.Quality.Improved
		data["review_score"] = res.Quality.ReviewScore
	}
	c.logger.Infof("run_id=%s document=%s completed output=%s", runID, id, res.OutputRef)
	c.sink.Emit(events.NewEvent(events.EventDocumentCompleted, runID, id, data))
	return outcome{result: res}
}

func (c *Coordinator) updateStatus(runID string, s model.RunStatus, st *runState, errMsg string) {
	if c.store == nil {
		return
	}
	if err := c.store.Update(runID, s, st.order, st.completed, errMsg); err != nil {
		c.logger.Warnf("run_id=%s status update failed: %v", runID, err)
	}
}

func (c *Coordinator) finish(ctx context.Context, runID string, st *runState, collector *metrics.Collector, runErr error) (*model.WorkflowResult, error) {
	total := len(st.plan)
	final := model.FinalRunStatus(total, len(st.completed), len(st.failed))

	result := &model.WorkflowResult{
		RunID:     runID,
		Plan:      st.plan,
		Documents: make(map[string]model.DocumentResult, len(st.completed)),
		Completed: append([]string{}, st.order...),
	}
	for id, r := range st.completed {
		result.Documents[id] = r
	}
	for _, id := range st.plan {
		def, _ := c.planner.Get(id)
		task := st.tasks[id]
		result.Metadata = append(result.Metadata, model.DocumentMetadata{
			ID:        id,
			Name:      def.Name,
			Category:  def.Category,
			Status:    task.Status,
			OutputRef: task.OutputRef,
			Error:     task.Error,
		})
		if task.Status == model.TaskFailed {
			result.Failed = append(result.Failed, id)
		}
	}

	summary := model.WorkflowSummary{
		Total:      total,
		Completed:  len(st.completed),
		Failed:     len(st.failed),
		Unresolved: len(st.pending),
		Status:     final,
	}
	summary.Message = summaryMessage(summary)
	summary.Metrics = collector.Summary(total)
	result.Summary = summary

	c.updateStatus(runID, final, st, errorMessage(result.Failed, st.pending, runErr))
	c.instruments.ObserveRun(string(final))
	c.logger.Infof("run_id=%s status=%s %s", runID, final, summary.Message)
	c.sink.Emit(events.NewEvent(events.EventRunCompleted, runID, "", map[string]any{
		"status":     string(final),
		"completed":  summary.Completed,
		"failed":     summary.Failed,
		"unresolved": summary.Unresolved,
	}))

	if runErr != nil && ctx.Err() != nil {
		return result, fmt.Errorf("run %s interrupted: %w", runID, runErr)
	}
	return result, nil
}

// summaryMessage reads "<completed>/<total> documents completed, <failed> failed".
func summaryMessage(s model.WorkflowSummary) string {
	msg := fmt.Sprintf("%d/%d documents completed, %d failed", s.Completed, s.Total, s.Failed)
	if s.Unresolved > 0 {
		msg += fmt.Sprintf(", %d unresolved", s.Unresolved)
	}
	return msg
}

func errorMessage(failed, unresolved []string, runErr error) string {
	var parts []string
	if len(failed) > 0 {
		parts = append(parts, "failed: "+strings.Join(failed, ", "))
	}
	if len(unresolved) > 0 {
		parts = append(parts, "unresolved: "+strings.Join(unresolved, ", "))
	}
	if runErr != nil {
		parts = append(parts, runErr.Error())
	}
	return strings.Join(parts, "; ")
}
