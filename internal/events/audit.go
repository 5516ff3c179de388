package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/model"
)

// AuditSink appends every event as one JSON line. Rotation is delegated to lumberjack.
type AuditSink struct {
	mu     sync.Mutex
	w      io.WriteCloser
	enc    *json.Encoder
	logger *logging.Logger
	closed bool
}

// NewAuditSink opens a rotating JSONL audit log at cfg.Path using the logging rotation limits.
func NewAuditSink(cfg model.AuditConfig, rotation model.LoggingConfig, logger *logging.Logger) (*AuditSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit path must not be empty")
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   true,
	}
	return NewAuditSinkWriter(lj, logger), nil
}

// NewAuditSinkWriter writes audit lines to w.
func NewAuditSinkWriter(w io.WriteCloser, logger *logging.Logger) *AuditSink {
	return &AuditSink{
		w:      w,
		enc:    json.NewEncoder(w),
		logger: logger.With("audit"),
	}
}

// Emit writes e. Write failures are logged and never surfaced to the workflow.
func (a *AuditSink) Emit(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if err := a.enc.Encode(e); err != nil {
		a.logger.Warnf("write event type=%s run_id=%s: %v", e.Type, e.RunID, err)
	}
}

// Close flushes and closes the underlying writer. Safe to call more than once.
func (a *AuditSink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.w.Close()
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// For returns the recorded events for one document.
func (r *Recorder) For(documentID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out
}
