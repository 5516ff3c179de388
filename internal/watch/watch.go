// Package watch runs a workflow for every request file dropped into a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/workflow"
	dfyaml "github.com/msageha/docflow/internal/yaml"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Runner executes one workflow request. *workflow.Coordinator implements it.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) (*model.WorkflowResult, error)
}

type requestFile struct {
	SchemaVersion    int    `yaml:"schema_version"`
	FileType         string `yaml:"file_type"`
	workflow.Request `yaml:",inline"`
}

// ParseRequest decodes a request file and checks its header.
func ParseRequest(data []byte) (workflow.Request, error) {
	if err := dfyaml.ValidateSchemaHeader(data, dfyaml.FileTypeRequest); err != nil {
		return workflow.Request{}, err
	}
	var rf requestFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return workflow.Request{}, fmt.Errorf("parse request: %w", err)
	}
	if len(rf.DocumentIDs) == 0 {
		return workflow.Request{}, errors.New("request lists no documents")
	}
	if rf.RunID != "" && !model.ValidateID(rf.RunID) {
		return workflow.Request{}, fmt.Errorf("invalid run_id %q", rf.RunID)
	}
	return rf.Request, nil
}

// resultFile is written next to a processed request.
type resultFile struct {
	SchemaVersion int                   `yaml:"schema_version"`
	FileType      string                `yaml:"file_type"`
	Request       string                `yaml:"request_file"`
	RunID         string                `yaml:"run_id,omitempty"`
	Summary       model.WorkflowSummary `yaml:"summary,omitempty"`
	Error         string                `yaml:"error,omitempty"`
}

// Watcher consumes *.yaml requests in dir one at a time.
type Watcher struct {
	dir      string
	debounce time.Duration
	runner   Runner
	logger   *logging.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	queue  chan string
	queued map[string]bool
	ready  chan struct{}
}

func New(cfg model.WatchConfig, runner Runner, logger *logging.Logger) *Watcher {
	debounce := time.Duration(cfg.DebounceSec * float64(time.Second))
	return &Watcher{
		dir:      cfg.Dir,
		debounce: debounce,
		runner:   runner,
		logger:   logger.With("watch"),
		timers:   make(map[string]*time.Timer),
		queue:    make(chan string, 64),
		queued:   make(map[string]bool),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the directory is watched and existing files are scheduled.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done. Files already present go through the same
// debounce as new ones, so a file still being written is not picked up early.
func (w *Watcher) Run(ctx context.Context) error {
	for _, d := range []string{w.dir, filepath.Join(w.dir, ProcessedDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", d, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Infof("watching dir=%s debounce=%s", w.dir, w.debounce)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx)
	}()

	w.scanExisting()
	close(w.ready)
	w.eventLoop(ctx, watcher)

	w.stopTimers()
	wg.Wait()
	return nil
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warnf("scan dir=%s: %v", w.dir, err)
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isRequestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		w.schedule(filepath.Join(w.dir, n))
	}
}

func (w *Watcher) eventLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isRequestFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
				w.schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

// schedule enqueues path once writes to it have been quiet for the debounce window.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.enqueue(path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	if w.queued[path] {
		w.mu.Unlock()
		return
	}
	w.queued[path] = true
	w.mu.Unlock()

	select {
	case w.queue <- path:
	default:
		w.logger.Warnf("queue full, dropping file=%s until next event", path)
		w.mu.Lock()
		delete(w.queued, path)
		w.mu.Unlock()
	}
}

func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			if err := w.Process(ctx, path); err != nil {
				w.logger.Errorf("file=%s: %v", path, err)
			}
			w.mu.Lock()
			delete(w.queued, path)
			w.mu.Unlock()
		}
	}
}

// Process runs one request file and moves it to processed/ or failed/.
func (w *Watcher) Process(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read request: %w", err)
	}
	name := filepath.Base(path)
	out := resultFile{SchemaVersion: dfyaml.CurrentSchemaVersion, FileType: dfyaml.FileTypeRequestResult, Request: name}

	req, err := ParseRequest(data)
	if err != nil {
		out.Error = err.Error()
		return w.finish(path, FailedDir, out, err)
	}

	w.logger.Infof("running request file=%s documents=%v", name, req.DocumentIDs)
	res, err := w.runner.Run(ctx, req)
	if res != nil {
		out.RunID = res.RunID
		out.Summary = res.Summary
	}
	if err != nil {
		out.Error = err.Error()
		if ctx.Err() != nil {
			// leave the file in place so it is picked up again on restart
			return err
		}
		return w.finish(path, FailedDir, out, err)
	}
	w.logger.Infof("request file=%s run_id=%s status=%s %s", name, res.RunID, res.Summary.Status, res.Summary.Message)
	return w.finish(path, ProcessedDir, out, nil)
}

func (w *Watcher) finish(path, sub string, out resultFile, cause error) error {
	name := filepath.Base(path)
	dest := filepath.Join(w.dir, sub, name)
	if err := os.Rename(path, dest); err != nil {
		return errors.Join(cause, fmt.Errorf("move %s to %s: %w", name, sub, err))
	}
	resultPath := filepath.Join(w.dir, sub, strings.TrimSuffix(name, filepath.Ext(name))+".result.yaml")
	if err := dfyaml.AtomicWrite(resultPath, out); err != nil {
		return errors.Join(cause, fmt.Errorf("write result: %w", err))
	}
	return cause
}

func isRequestFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
