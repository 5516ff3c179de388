package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/docflow/internal/catalog"
	"github.com/msageha/docflow/internal/events"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/status"
)

// fakeRunner records every Execute call. Behaviour per id is optional.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	tasks   map[string]Task
	fail    map[string]bool
	hooks   map[string]func(ctx context.Context)
	running int
	peak    int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{tasks: map[string]Task{}, fail: map[string]bool{}, hooks: map[string]func(context.Context){}}
}

func (f *fakeRunner) Execute(ctx context.Context, task Task) (model.DocumentResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, task.DocumentID)
	f.tasks[task.DocumentID] = task
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	hook := f.hooks[task.DocumentID]
	fail := f.fail[task.DocumentID]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	f.mu.Lock()
	f.running--
	f.mu.Unlock()

	if fail {
		return model.DocumentResult{}, &GenerationError{DocumentID: task.DocumentID, Err: errors.New("backend failure")}
	}
	return model.DocumentResult{
		Content:     "content of " + task.DocumentID,
		OutputRef:   "out/" + task.DocumentID + ".md",
		GeneratedAt: time.Now(),
	}, nil
}

func (f *fakeRunner) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

func doc(id string, deps ...string) model.DocumentDefinition {
	return model.DocumentDefinition{ID: id, Name: "Doc " + id, DependsOn: deps}
}

func diamond(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]model.DocumentDefinition{doc("A"), doc("B"), doc("C", "A", "B")})
	require.NoError(t, err)
	return cat
}

type harness struct {
	coord  *Coordinator
	runner *fakeRunner
	store  *status.MemoryStore
	rec    *events.Recorder
	logs   *bytes.Buffer
}

func newHarness(planner Planner) *harness {
	h := &harness{
		runner: newFakeRunner(),
		store:  status.NewMemoryStore(),
		rec:    &events.Recorder{},
		logs:   &bytes.Buffer{},
	}
	logger := logging.New(h.logs, logging.LogLevelDebug, "test")
	h.coord = NewCoordinator(planner, h.runner, logger, WithStore(h.store), WithSink(h.rec))
	return h
}

// waves returns the document ids of each wave-started event.
func (h *harness) waves() [][]string {
	var out [][]string
	for _, e := range h.rec.Events() {
		if e.Type == events.EventWaveStarted {
			out = append(out, e.Data["documents"].([]string))
		}
	}
	return out
}

func TestRun_DiamondWaves(t *testing.T) {
	h := newHarness(diamond(t))

	res, err := h.coord.Run(context.Background(), Request{UserRequest: "build it", DocumentIDs: []string{"C"}})
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionPlan{"A", "B", "C"}, res.Plan)
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, h.waves())
	assert.Equal(t, model.RunComplete, res.Summary.Status)
	assert.Equal(t, []string{"A", "B", "C"}, res.Completed)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "3/3 documents completed, 0 failed", res.Summary.Message)
	assert.Len(t, res.Documents, 3)

	// C sees both dependencies in its completed map
	taskC := h.runner.tasks["C"]
	assert.Contains(t, taskC.Completed, "A")
	assert.Contains(t, taskC.Completed, "B")
	assert.Equal(t, "build it", taskC.UserRequest)

	require.Len(t, res.Summary.Metrics.Waves, 2)
	assert.Equal(t, []string{"A", "B"}, res.Summary.Metrics.Waves[0].DocumentIDs)
	assert.Equal(t, 3, res.Summary.Metrics.Completed)

	history := h.store.History(res.RunID)
	assert.Equal(t, []model.RunStatus{model.RunInProgress, model.RunInProgress, model.RunInProgress, model.RunComplete}, history)
	rec, err := h.store.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, rec.CompletedIDs)
}

func TestRun_FailureBlocksDependents(t *testing.T) {
	h := newHarness(diamond(t))
	h.runner.fail["A"] = true

	res, err := h.coord.Run(context.Background(), Request{DocumentIDs: []string{"C"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, res.Completed)
	assert.Equal(t, []string{"A"}, res.Failed)
	assert.Equal(t, 0, h.runner.callCount("C"), "C must never start")
	assert.Equal(t, model.RunPartialFailure, res.Summary.Status)
	assert.Equal(t, 1, res.Summary.Unresolved)
	assert.Equal(t, "1/3 documents completed, 1 failed, 1 unresolved", res.Summary.Message)
	assert.NotContains(t, h.logs.String(), "FATAL")

	byID := map[string]model.DocumentMetadata{}
	for _, m := range res.Metadata {
		byID[m.ID] = m
	}
	assert.Equal(t, model.TaskFailed, byID["A"].Status)
	assert.Contains(t, byID["A"].Error, "backend failure")
	assert.Equal(t, model.TaskCompleted, byID["B"].Status)
	assert.Equal(t, model.TaskPending, byID["C"].Status)

	errored := 0
	for _, e := range h.rec.For("A") {
		if e.Type == events.EventDocumentErrored {
			errored++
			assert.Equal(t, false, e.Data["timeout"])
		}
	}
	assert.Equal(t, 1, errored)

	rec, err := h.store.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunPartialFailure, rec.Status)
	assert.Contains(t, rec.Error, "failed: A")
	assert.Contains(t, rec.Error, "unresolved: C")
}

func TestRun_AllFailed(t *testing.T) {
	cat, err := catalog.New([]model.DocumentDefinition{doc("A"), doc("B")})
	require.NoError(t, err)
	h := newHarness(cat)
	h.runner.fail["A"] = true
	h.runner.fail["B"] = true

	res, err := h.coord.Run(context.Background(), Request{DocumentIDs: []string{"A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, res.Summary.Status)
	assert.Empty(t, res.Completed)
	assert.Equal(t, []string{"A", "B"}, res.Failed)
}

func TestRun_FailureDoesNotStopUnrelatedBranch(t *testing.T) {
	cat, err := catalog.New([]model.DocumentDefinition{
		doc("A"), doc("A2", "A"), doc("B"), doc("B2", "B"), doc("B3", "B2"),
	})
	require.NoError(t, err)
	h := newHarness(cat)
	h.runner.fail["A"] = true

	res, err := h.coord.Run(context.Background(), Request{DocumentIDs: []string{"A2", "B3"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "B2", "B3"}, res.Completed)
	assert.Equal(t, 0, h.runner.callCount("A2"))
	assert.Equal(t, model.RunPartialFailure, res.Summary.Status)
}

func TestRun_EveryDocumentScheduledOnce(t *testing.T) {
	var defs []model.DocumentDefinition
	for i := 0; i < 12; i++ {
		var deps []string
		for j := 0; j < i; j++ {
			if (i+j)%3 == 0 {
				deps = append(deps, fmt.Sprintf("d%02d", j))
			}
		}
		defs = append(defs, doc(fmt.Sprintf("d%02d", i), deps...))
	}
	cat, err := catalog.New(defs)
	require.NoError(t, err)
	h := newHarness(cat)

	res, err := h.coord.Run(context.Background(), Request{DocumentIDs: []string{"d11", "d10", "d07"}})
	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, res.Summary.Status)

	seen := map[string]int{}
	for _, wave := range h.waves() {
		for _, id := range wave {
			seen[id]++
		}
	}
	for _, id := range res.Plan {
		assert.Equal(t, 1, seen[id], "document %s", id)
		assert.Equal(t, 1, h.runner.callCount(id), "document %s", id)
	}
	completed := append([]string(nil), res.Completed...)
	plan := append([]string(nil), res.Plan...)
	sort.Strings(completed)
	sort.Strings(plan)
	assert.Equal(t, plan, completed)
}

func TestRun_WaveRunsConcurrently(t *testing.T) {
	cat, err := catalog.New([]model.DocumentDefinition{doc("A"), doc("B"), doc("C")})
	require.NoError(t, err)
	h := newHarness(cat)

	var started sync.WaitGroup
	started.Add(3)
	barrier := func(ctx context.Context) {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	for _, id := range []string{"A", "B", "C"} {
		h.runner.hooks[id] = barrier
	}

	res, err := h.coord.Run(context.Background(), Request{DocumentIDs: []string{"A", "B", "C"}})
	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, res.Summary.Status)
	assert.Equal(t, 3, h.runner.peak)
	assert.Len(t, h.waves(), 1)
}

func TestRun_WaveBarrier(t *testing.T) {
	cat, err := catalog.New([]model.DocumentDefinition{doc("slow"), doc("fast"), doc("next", "fast")})
	require.NoError(t, err)
	h := newHarness(cat)

	var slowDone time.Time
	var nextStart time.Time
	h.runner.hooks["slow"] = func(context.Context) {
		time.Sleep(50 * time.Millisecond)
		slowDone = time.Now()
	}
	h.runner.hooks["next"] = func(context.Context) { nextStart = time.Now() }

	_, err = h.coord.Run(context.Background(), Request{DocumentIDs: []string{"slow", "next"}})
	require.NoError(t, err)
	assert.False(t, nextStart.Before(slowDone), "wave 2 started before wave 1 drained")
}

func TestRun_ResolveErrorAbortsBeforeScheduling(t *testing.T) {
	h := newHarness(diamond(t))

	_, err := h.coord.Run(context.Background(), Request{DocumentIDs: []string{"missing"}})
	var unknown *catalog.UnknownDocumentError
	require.ErrorAs(t, err, &unknown)
	assert.Empty(t, h.runner.calls)
	assert.Empty(t, h.rec.Events())
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(diamond(t))
	ctx, cancel := context.WithCancel(context.Background())
	h.runner.hooks["B"] = func(context.Context) { cancel() }

	res, err := h.coord.Run(ctx, Request{DocumentIDs: []string{"C"}})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 0, h.runner.callCount("C"))
	assert.Equal(t, 1, res.Summary.Unresolved)
}

// loopingPlanner reports a dependency the plan can never satisfy.
type loopingPlanner struct{}

func (loopingPlanner) Resolve([]string) (model.ExecutionPlan, error) { return model.ExecutionPlan{"X", "Y"}, nil }
func (loopingPlanner) Get(id string) (model.DocumentDefinition, bool) {
	return model.DocumentDefinition{ID: id}, true
}
func (loopingPlanner) Dependencies(id string) []string {
	if id == "X" {
		return []string{"Y"}
	}
	return []string{"X"}
}

func TestRun_DeadlockStops(t *testing.T) {
	h := newHarness(loopingPlanner{})

	res, err := h.coord.Run(context.Background(), Request{RunID: "run_1700000000_abcdef01", DocumentIDs: []string{"X"}})
	require.NoError(t, err)
	assert.Equal(t, "run_1700000000_abcdef01", res.RunID)
	assert.Empty(t, h.runner.calls)
	assert.Equal(t, 2, res.Summary.Unresolved)
	assert.Equal(t, model.RunPartialFailure, res.Summary.Status)
	assert.Contains(t, h.logs.String(), "FATAL scheduler invariant violated")
}

func TestRun_EventsSequence(t *testing.T) {
	cat, err := catalog.New([]model.DocumentDefinition{doc("A")})
	require.NoError(t, err)
	h := newHarness(cat)

	_, err = h.coord.Run(context.Background(), Request{DocumentIDs: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, []events.EventType{
		events.EventPlanComputed,
		events.EventWaveStarted,
		events.EventDocumentStarted,
		events.EventDocumentCompleted,
		events.EventWaveCompleted,
		events.EventRunCompleted,
	}, h.rec.Types())
}

func TestRun_NoOptionalCollaborators(t *testing.T) {
	runner := newFakeRunner()
	coord := NewCoordinator(diamond(t), runner, nil)

	res, err := coord.Run(context.Background(), Request{DocumentIDs: []string{"C"}})
	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, res.Summary.Status)
	assert.True(t, model.ValidateID(res.RunID))
}

func TestSummaryMessage(t *testing.T) {
	assert.Equal(t, "2/3 documents completed, 1 failed", summaryMessage(model.WorkflowSummary{Total: 3, Completed: 2, Failed: 1}))
}
