// Package workflow runs a requested set of documents in dependency waves.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/docflow/internal/generator"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/quality"
	dfyaml "github.com/msageha/docflow/internal/yaml"
)

const DefaultTimeout = 30 * time.Minute

var ErrTimeout = errors.New("document generation timed out")

// GenerationError is a failure confined to one document.
type GenerationError struct {
	DocumentID string
	Err        error
	Timeout    bool
}

func (e *GenerationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("document %s: %v: %v", e.DocumentID, ErrTimeout, e.Err)
	}
	return fmt.Sprintf("document %s: %v", e.DocumentID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// Definitions is the part of the catalog the executor reads.
type Definitions interface {
	Get(id string) (model.DocumentDefinition, bool)
	AllDependencies(id string) []string
}

// Task is one document of one run.
type Task struct {
	RunID       string
	DocumentID  string
	UserRequest string
	// Completed holds results of documents finished in earlier waves. Read only.
	Completed map[string]model.DocumentResult
}

// Executor generates one document, then passes it through the quality loop.
type Executor struct {
	defs       Definitions
	generators generator.Set
	loop       *quality.Loop
	outputDir  string
	timeout    time.Duration
	logger     *logging.Logger
}

// NewExecutor builds an executor. loop may be nil to skip quality review.
func NewExecutor(defs Definitions, generators generator.Set, loop *quality.Loop, outputDir string, timeout time.Duration, logger *logging.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		defs:       defs,
		generators: generators,
		loop:       loop,
		outputDir:  outputDir,
		timeout:    timeout,
		logger:     logger.With("executor"),
	}
}

// Execute returns the finalized result or a *GenerationError.
func (e *Executor) Execute(ctx context.Context, task Task) (model.DocumentResult, error) {
	id := task.DocumentID
	def, ok := e.defs.Get(id)
	if !ok {
		return model.DocumentResult{}, &GenerationError{DocumentID: id, Err: errors.New("not in catalog")}
	}
	gen, ok := e.generators[id]
	if !ok {
		return model.DocumentResult{}, &GenerationError{DocumentID: id, Err: errors.New("no generator bound")}
	}

	payload := e.dependencyPayload(id, task.Completed)
	outputRef := generator.OutputRef(e.outputDir, task.RunID, id)

	res, err := e.generate(ctx, gen, task, payload, outputRef)
	if err != nil {
		return model.DocumentResult{}, err
	}

	if e.loop == nil || !e.loop.Enabled() {
		return res, nil
	}

	qr := e.loop.Run(ctx, task.RunID, id, def.DocType(), res.Content)
	report := qr.Report
	res.Quality = &report
	final := qr.Unwrap(res.Content)
	if final == res.Content {
		return res, nil
	}
	if err := dfyaml.AtomicWriteText(res.OutputRef, final); err != nil {
		e.logger.Warnf("document=%s save improved content failed, keeping generated content: %v", id, err)
		report.Improved = false
		return res, nil
	}
	e.loop.ObserveSaved()
	res.Content = final
	return res, nil
}

type generated struct {
	res model.DocumentResult
	err error
}

// generate bounds the generator call by the executor timeout. A generator
// that ignores cancellation is abandoned when the deadline passes.
func (e *Executor) generate(ctx context.Context, gen generator.Generator, task Task, payload map[string]model.DocumentResult, outputRef string) (model.DocumentResult, error) {
	id := task.DocumentID
	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan generated, 1)
	go func() {
		res, err := gen.GenerateAndSave(genCtx, task.UserRequest, payload, outputRef, task.RunID)
		done <- generated{res: res, err: err}
	}()

	var out generated
	select {
	case out = <-done:
	case <-genCtx.Done():
		out.err = genCtx.Err()
	}
	timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if out.err == nil && timedOut {
		out.err = genCtx.Err()
	}
	if out.err != nil {
		return model.DocumentResult{}, &GenerationError{DocumentID: id, Err: out.err, Timeout: timedOut}
	}
	return out.res, nil
}

// dependencyPayload collects finished transitive dependencies. A dependency
// without a result is skipped with a warning.
func (e *Executor) dependencyPayload(id string, completed map[string]model.DocumentResult) map[string]model.DocumentResult {
	deps := e.defs.AllDependencies(id)
	payload := make(map[string]model.DocumentResult, len(deps))
	var missing []string
	for _, dep := range deps {
		r, ok := completed[dep]
		if !ok {
			missing = append(missing, dep)
			continue
		}
		payload[dep] = r
	}
	if len(missing) > 0 {
		e.logger.Warnf("document=%s generating with partial context, missing dependencies: %v", id, missing)
	}
	return payload
}
