package quality

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/docflow/internal/events"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/merge"
	"github.com/msageha/docflow/internal/model"
)

type fakeChecker struct {
	score model.QualityScore
	err   error
}

func (f *fakeChecker) Check(context.Context, string, string, string) (model.QualityScore, error) {
	return f.score, f.err
}

type fakeReviewer struct {
	calls atomic.Int32
	score float64
	err   error
	panic bool
}

func (f *fakeReviewer) StructuredFeedback(_ context.Context, _, _ string, automated model.QualityScore) (model.StructuredFeedback, error) {
	f.calls.Add(1)
	if f.panic {
		panic("reviewer exploded")
	}
	score := f.score
	if score == 0 {
		score = automated.OverallScore / 10
	}
	return model.StructuredFeedback{Score: score, Feedback: "review"}, f.err
}

type fakeImprover struct {
	calls    atomic.Int32
	improve  func(original string) string
	err      error
	feedback string
}

func (f *fakeImprover) Improve(_ context.Context, original, _, feedbackText string, _ model.StructuredFeedback) (string, error) {
	f.calls.Add(1)
	f.feedback = feedbackText
	if f.err != nil {
		return "", f.err
	}
	if f.improve != nil {
		return f.improve(original), nil
	}
	return original + "\nimproved", nil
}

type loopFixture struct {
	loop     *Loop
	checker  *fakeChecker
	reviewer *fakeReviewer
	improver *fakeImprover
	rec      *events.Recorder
	logs     *bytes.Buffer
}

func newLoopFixture(score model.QualityScore) *loopFixture {
	f := &loopFixture{
		checker:  &fakeChecker{score: score},
		reviewer: &fakeReviewer{},
		improver: &fakeImprover{},
		rec:      &events.Recorder{},
		logs:     &bytes.Buffer{},
	}
	logger := logging.New(f.logs, logging.LogLevelDebug, "test")
	f.loop = NewLoop(model.DefaultConfig().Quality, LoopDeps{
		Checker:  f.checker,
		Reviewer: f.reviewer,
		Improver: f.improver,
		Merger:   merge.New(model.DefaultConfig().Merge, nil, logger),
		Sink:     f.rec,
		Logger:   logger,
	})
	return f
}

const original = "# Overview\nSome text.\n## Details\nMore text."

func TestLoop_HighScoreSkipsImprover(t *testing.T) {
	f := newLoopFixture(model.QualityScore{OverallScore: 85})

	res := f.loop.Run(context.Background(), "run_1", "doc", "design", original)
	require.NoError(t, res.Err)
	assert.Equal(t, original, res.Unwrap(original))
	assert.Equal(t, int32(0), f.improver.calls.Load())
	assert.Equal(t, int32(1), f.reviewer.calls.Load())
	assert.False(t, res.Report.Improved)
	assert.Equal(t, 8.5, res.Report.ReviewScore)
	assert.Equal(t, []events.EventType{events.EventQualityReviewStarted, events.EventQualityReviewCompleted}, f.rec.Types())
}

func TestLoop_AutoFailForcesImprovement(t *testing.T) {
	f := newLoopFixture(model.QualityScore{OverallScore: 95, AutoFailViolations: []string{"no-todo"}})
	f.reviewer.score = 9

	res := f.loop.Run(context.Background(), "run_1", "doc", "design", original)
	require.NoError(t, res.Err)
	assert.Equal(t, int32(1), f.improver.calls.Load())
	assert.True(t, res.Report.AutoFail)
	assert.True(t, res.Report.Overridden)
	assert.Equal(t, 6.5, res.Report.ReviewScore)
	assert.Contains(t, f.improver.feedback, "Score: 6.5/10")
	assert.True(t, res.Report.Improved)
	assert.Equal(t, original+"\nimproved", res.Content)
}

func TestLoop_AutoFailWithLowScoreNotOverridden(t *testing.T) {
	f := newLoopFixture(model.QualityScore{OverallScore: 40, AutoFailViolations: []string{"rule"}})

	res := f.loop.Run(context.Background(), "run_1", "doc", "design", original)
	require.NoError(t, res.Err)
	assert.False(t, res.Report.Overridden)
	assert.Equal(t, 4.0, res.Report.ReviewScore)
	assert.Equal(t, int32(1), f.improver.calls.Load())
}

func TestLoop_LowScoreImprovedLongerContentAdopted(t *testing.T) {
	f := newLoopFixture(model.QualityScore{OverallScore: 50})
	improved := "# Overview\nSome text, expanded with detail.\n## Details\nMore text here."
	require.Greater(t, float64(len(improved)), 1.2*float64(len(original)))
	f.improver.improve = func(string) string { return improved }

	res := f.loop.Run(context.Background(), "run_1", "doc", "design", original)
	require.NoError(t, res.Err)
	assert.Equal(t, int32(1), f.improver.calls.Load())
	assert.Equal(t, improved, res.Unwrap(original))
	assert.True(t, res.Report.Validation.Passed)
	assert.Equal(t, []events.EventType{
		events.EventQualityReviewStarted,
		events.EventQualityReviewCompleted,
		events.EventImprovementStarted,
		events.EventImprovementCompleted,
	}, f.rec.Types())
}

func TestLoop_FailOpen(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*loopFixture)
	}{
		{"checker error", func(f *loopFixture) { f.checker.err = errors.New("checker down") }},
		{"reviewer error", func(f *loopFixture) { f.reviewer.err = errors.New("reviewer down") }},
		{"improver error", func(f *loopFixture) { f.improver.err = errors.New("improver down") }},
		{"reviewer panic", func(f *loopFixture) { f.reviewer.panic = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoopFixture(model.QualityScore{OverallScore: 30})
			tt.setup(f)

			var res Result
			require.NotPanics(t, func() {
				res = f.loop.Run(context.Background(), "run_1", "doc", "design", original)
			})
			require.Error(t, res.Err)
			assert.Equal(t, original, res.Unwrap(original))
			assert.NotEmpty(t, res.Report.Error)
			assert.Contains(t, f.logs.String(), "WARN quality: document=doc keeping original content")
		})
	}
}

func TestLoop_Disabled(t *testing.T) {
	cfg := model.DefaultConfig().Quality
	cfg.Enabled = false
	reviewer := &fakeReviewer{}
	loop := NewLoop(cfg, LoopDeps{Checker: &fakeChecker{}, Reviewer: reviewer, Improver: &fakeImprover{}})

	res := loop.Run(context.Background(), "run_1", "doc", "design", original)
	require.NoError(t, res.Err)
	assert.Equal(t, original, res.Content)
	assert.Equal(t, int32(0), reviewer.calls.Load())
}

func TestLoop_HeuristicCheckerEndToEnd(t *testing.T) {
	cfg := model.DefaultConfig().Quality
	cfg.AutoFail = []model.AutoFailRule{{ID: "no-todo", Type: "contains", Value: "TODO"}}
	checker, err := NewHeuristicChecker(cfg, nil)
	require.NoError(t, err)

	reviewer := &fakeReviewer{score: 9}
	improver := &fakeImprover{improve: func(o string) string { return strings.ReplaceAll(o, "TODO", "done") }}
	loop := NewLoop(cfg, LoopDeps{Checker: checker, Reviewer: reviewer, Improver: improver, Logger: logging.Discard()})

	res := loop.Run(context.Background(), "run_1", "doc", "design", "# Plan\nTODO fill in.")
	require.NoError(t, res.Err)
	assert.True(t, res.Report.AutoFail)
	assert.Equal(t, "# Plan\ndone fill in.", res.Content)
}
