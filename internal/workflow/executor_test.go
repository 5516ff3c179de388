package workflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/docflow/internal/catalog"
	"github.com/msageha/docflow/internal/generator"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/merge"
	"github.com/msageha/docflow/internal/metrics"
	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/quality"
)

type fakeGenerator struct {
	content    string
	err        error
	ignoreCtx  bool
	delay      time.Duration
	gotDeps    map[string]model.DocumentResult
	gotRequest string
	gotOutRef  string
}

func (f *fakeGenerator) GenerateAndSave(ctx context.Context, userRequest string, deps map[string]model.DocumentResult, outputRef, runID string) (model.DocumentResult, error) {
	f.gotDeps = deps
	f.gotRequest = userRequest
	f.gotOutRef = outputRef
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return model.DocumentResult{}, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return model.DocumentResult{}, f.err
	}
	if err := os.MkdirAll(filepath.Dir(outputRef), 0755); err != nil {
		return model.DocumentResult{}, err
	}
	if err := os.WriteFile(outputRef, []byte(f.content), 0644); err != nil {
		return model.DocumentResult{}, err
	}
	return model.DocumentResult{Content: f.content, OutputRef: outputRef, GeneratedAt: time.Now()}, nil
}

func chainCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]model.DocumentDefinition{
		doc("reqs"), doc("design", "reqs"), {ID: "api", Category: "api", DependsOn: []string{"design"}},
	})
	require.NoError(t, err)
	return cat
}

func TestExecute_DependencyPayloadTransitive(t *testing.T) {
	var logs bytes.Buffer
	gen := &fakeGenerator{content: "# API"}
	exec := NewExecutor(chainCatalog(t), generator.Set{"api": gen}, nil, t.TempDir(), time.Minute,
		logging.New(&logs, logging.LogLevelDebug, "test"))

	completed := map[string]model.DocumentResult{
		"design": {Content: "design text"},
	}
	res, err := exec.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "api", UserRequest: "req", Completed: completed})
	require.NoError(t, err)
	assert.Equal(t, "# API", res.Content)
	assert.Equal(t, "req", gen.gotRequest)
	assert.True(t, strings.HasSuffix(gen.gotOutRef, filepath.Join("run_1", "api.md")))

	assert.Len(t, gen.gotDeps, 1)
	assert.Contains(t, gen.gotDeps, "design")
	assert.Contains(t, logs.String(), "missing dependencies: [reqs]")
	assert.Nil(t, res.Quality)
}

func TestExecute_GeneratorErrorIsPerDocument(t *testing.T) {
	boom := errors.New("backend down")
	exec := NewExecutor(chainCatalog(t), generator.Set{"reqs": &fakeGenerator{err: boom}}, nil, t.TempDir(), time.Minute, nil)

	_, err := exec.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "reqs"})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "reqs", genErr.DocumentID)
	assert.False(t, genErr.Timeout)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestExecute_Timeout(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		// a late generator must not write into the temp dir after the test ends
		gen := &fakeGenerator{err: errors.New("late"), delay: 500 * time.Millisecond, ignoreCtx: ignore}
		exec := NewExecutor(chainCatalog(t), generator.Set{"reqs": gen}, nil, t.TempDir(), 30*time.Millisecond, nil)

		start := time.Now()
		_, err := exec.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "reqs"})
		assert.Less(t, time.Since(start), 400*time.Millisecond, "ignoreCtx=%v", ignore)

		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.True(t, genErr.Timeout)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestExecute_UnknownDocumentOrGenerator(t *testing.T) {
	exec := NewExecutor(chainCatalog(t), generator.Set{}, nil, t.TempDir(), time.Minute, nil)

	_, err := exec.Execute(context.Background(), Task{DocumentID: "ghost"})
	assert.Error(t, err)
	_, err = exec.Execute(context.Background(), Task{DocumentID: "reqs"})
	assert.Error(t, err)
}

type stubChecker struct{ score model.QualityScore }

func (s stubChecker) Check(context.Context, string, string, string) (model.QualityScore, error) {
	return s.score, nil
}

type stubReviewer struct{ score float64 }

func (s stubReviewer) StructuredFeedback(context.Context, string, string, model.QualityScore) (model.StructuredFeedback, error) {
	return model.StructuredFeedback{Score: s.score}, nil
}

type stubImprover struct {
	out string
	err error
}

func (s stubImprover) Improve(context.Context, string, string, string, model.StructuredFeedback) (string, error) {
	return s.out, s.err
}

func newLoop(score float64, improver quality.Improver) *quality.Loop {
	cfg := model.DefaultConfig()
	return quality.NewLoop(cfg.Quality, quality.LoopDeps{
		Checker:  stubChecker{score: model.QualityScore{OverallScore: score * 10}},
		Reviewer: stubReviewer{score: score},
		Improver: improver,
		Merger:   merge.New(cfg.Merge, nil, nil),
	})
}

func TestExecute_ImprovedContentSaved(t *testing.T) {
	gen := &fakeGenerator{content: "# Section\ndraft"}
	loop := newLoop(4, stubImprover{out: "# Section\nmuch better draft"})
	exec := NewExecutor(chainCatalog(t), generator.Set{"reqs": gen}, loop, t.TempDir(), time.Minute, nil)

	res, err := exec.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "reqs"})
	require.NoError(t, err)
	assert.Equal(t, "# Section\nmuch better draft", res.Content)
	require.NotNil(t, res.Quality)
	assert.True(t, res.Quality.Improved)

	saved, err := os.ReadFile(res.OutputRef)
	require.NoError(t, err)
	assert.Equal(t, res.Content, string(saved))
}

// refGenerator reports an output path without writing it.
type refGenerator struct{ ref string }

func (g refGenerator) GenerateAndSave(context.Context, string, map[string]model.DocumentResult, string, string) (model.DocumentResult, error) {
	return model.DocumentResult{Content: "# Section\ndraft", OutputRef: g.ref, GeneratedAt: time.Now()}, nil
}

func improvedCount(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "docflow_documents_improved_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("improved counter not registered")
	return 0
}

func newInstrumentedLoop(t *testing.T, reg *prometheus.Registry) *quality.Loop {
	t.Helper()
	in, err := metrics.NewInstruments(reg)
	require.NoError(t, err)
	cfg := model.DefaultConfig()
	return quality.NewLoop(cfg.Quality, quality.LoopDeps{
		Checker:     stubChecker{score: model.QualityScore{OverallScore: 40}},
		Reviewer:    stubReviewer{score: 4},
		Improver:    stubImprover{out: "# Section\nmuch better draft"},
		Merger:      merge.New(cfg.Merge, nil, nil),
		Instruments: in,
	})
}

func TestExecute_ImprovedCounterOnlyCountsSavedContent(t *testing.T) {
	reg := prometheus.NewRegistry()
	loop := newInstrumentedLoop(t, reg)
	dir := t.TempDir()

	// a regular file where the output directory should be makes the save fail
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	var buf bytes.Buffer
	exec := NewExecutor(chainCatalog(t), generator.Set{"reqs": refGenerator{ref: filepath.Join(blocker, "reqs.md")}},
		loop, dir, time.Minute, logging.New(&buf, logging.LogLevelDebug, "test"))

	res, err := exec.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "reqs"})
	require.NoError(t, err)
	assert.Equal(t, "# Section\ndraft", res.Content)
	require.NotNil(t, res.Quality)
	assert.False(t, res.Quality.Improved)
	assert.Contains(t, buf.String(), "save improved content failed")
	assert.Equal(t, 0.0, improvedCount(t, reg))

	ok := NewExecutor(chainCatalog(t), generator.Set{"reqs": refGenerator{ref: filepath.Join(dir, "out", "reqs.md")}},
		loop, dir, time.Minute, nil)
	res, err = ok.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "reqs"})
	require.NoError(t, err)
	assert.True(t, res.Quality.Improved)
	assert.Equal(t, 1.0, improvedCount(t, reg))
}

func TestExecute_QualityFailureKeepsOriginal(t *testing.T) {
	gen := &fakeGenerator{content: "# Section\ndraft"}
	loop := newLoop(4, stubImprover{err: errors.New("improver down")})
	exec := NewExecutor(chainCatalog(t), generator.Set{"reqs": gen}, loop, t.TempDir(), time.Minute, nil)

	res, err := exec.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "reqs"})
	require.NoError(t, err)
	assert.Equal(t, "# Section\ndraft", res.Content)
	require.NotNil(t, res.Quality)
	assert.Contains(t, res.Quality.Error, "improver down")
}

func TestExecute_HighScoreUnchanged(t *testing.T) {
	gen := &fakeGenerator{content: "# Section\nfine"}
	loop := newLoop(9, stubImprover{err: errors.New("must not be called")})
	exec := NewExecutor(chainCatalog(t), generator.Set{"reqs": gen}, loop, t.TempDir(), time.Minute, nil)

	res, err := exec.Execute(context.Background(), Task{RunID: "run_1", DocumentID: "reqs"})
	require.NoError(t, err)
	assert.Equal(t, "# Section\nfine", res.Content)
	assert.False(t, res.Quality.Improved)
	assert.Empty(t, res.Quality.Error)
}

func TestGenerationError_Message(t *testing.T) {
	err := &GenerationError{DocumentID: "a", Err: context.DeadlineExceeded, Timeout: true}
	assert.Equal(t, "document a: document generation timed out: context deadline exceeded", err.Error())
	assert.Equal(t, "document b: boom", (&GenerationError{DocumentID: "b", Err: errors.New("boom")}).Error())
}
