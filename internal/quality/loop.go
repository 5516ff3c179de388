package quality

import (
	"context"
	"fmt"

	"github.com/msageha/docflow/internal/events"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/merge"
	"github.com/msageha/docflow/internal/metrics"
	"github.com/msageha/docflow/internal/model"
)

// Result is the outcome of one pass of the loop. When Err is set Content is
// empty and the caller keeps the original content.
type Result struct {
	Content string
	Report  model.QualityReport
	Err     error
}

// Unwrap returns the content to finalize. Quality improvement is best effort:
// any failure yields original unchanged.
func (r Result) Unwrap(original string) string {
	if r.Err != nil {
		return original
	}
	return r.Content
}

// LoopDeps are the capabilities the loop drives. Sink, Logger and Instruments may be nil.
type LoopDeps struct {
	Checker     Checker
	Reviewer    Reviewer
	Improver    Improver
	Merger      *merge.Merger
	Sink        events.Sink
	Logger      *logging.Logger
	Instruments *metrics.Instruments
}

// Loop scores, reviews and, when needed, improves one document.
type Loop struct {
	cfg model.QualityConfig
	LoopDeps
}

func NewLoop(cfg model.QualityConfig, deps LoopDeps) *Loop {
	deps.Sink = events.OrNop(deps.Sink)
	deps.Logger = deps.Logger.With("quality")
	if deps.Merger == nil {
		deps.Merger = merge.New(model.DefaultConfig().Merge, nil, deps.Logger)
	}
	return &Loop{cfg: cfg, LoopDeps: deps}
}

func (l *Loop) Enabled() bool { return l.cfg.Enabled }

// Run never panics and never fails the document.
func (l *Loop) Run(ctx context.Context, runID, documentID, docType, content string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Err: fmt.Errorf("quality loop panic: %v", p)}
		}
		if res.Err != nil {
			res.Report.Error = res.Err.Error()
			l.Logger.Warnf("document=%s keeping original content: %v", documentID, res.Err)
		}
	}()

	if !l.cfg.Enabled {
		return Result{Content: content}
	}

	score, err := l.Checker.Check(ctx, content, documentID, docType)
	if err != nil {
		return Result{Err: err}
	}
	autoFail := score.AutoFail()
	report := model.QualityReport{AutomatedScore: score.OverallScore, AutoFail: autoFail}

	l.Sink.Emit(events.NewEvent(events.EventQualityReviewStarted, runID, documentID, map[string]any{
		"automated_score": score.OverallScore,
		"auto_fail":       autoFail,
	}))
	fb, err := l.Reviewer.StructuredFeedback(ctx, content, docType, score)
	if err != nil {
		return Result{Report: report, Err: err}
	}
	if autoFail && fb.Score >= l.cfg.AcceptScore {
		l.Logger.Infof("document=%s review score %.1f overridden to %.1f: %v", documentID, fb.Score, l.cfg.OverrideScore, score.AutoFailViolations)
		fb.Score = l.cfg.OverrideScore
		report.Overridden = true
	}
	report.ReviewScore = fb.Score
	l.Sink.Emit(events.NewEvent(events.EventQualityReviewCompleted, runID, documentID, map[string]any{
		"score":      fb.Score,
		"overridden": report.Overridden,
	}))

	if fb.Score >= l.cfg.AcceptScore && !autoFail {
		report.Validation = l.Merger.Validate(documentID, docType, content)
		l.Instruments.ObserveReview(fb.Score)
		return Result{Content: content, Report: report}
	}

	l.Sink.Emit(events.NewEvent(events.EventImprovementStarted, runID, documentID, map[string]any{"score": fb.Score}))
	improved, err := l.Improver.Improve(ctx, content, docType, FeedbackText(fb), fb)
	if err != nil {
		return Result{Report: report, Err: err}
	}
	out := l.Merger.Merge(documentID, docType, content, improved)
	report.Improved = true
	report.Validation = out.Report
	l.Sink.Emit(events.NewEvent(events.EventImprovementCompleted, runID, documentID, map[string]any{
		"decision":     string(out.Decision),
		"length_ratio": out.LengthRatio,
	}))
	l.Instruments.ObserveReview(fb.Score)
	return Result{Content: out.Content, Report: report}
}

// ObserveSaved counts a document whose improved content reached its output file.
func (l *Loop) ObserveSaved() {
	l.Instruments.ObserveImproved()
}
