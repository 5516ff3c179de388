// Package events carries workflow progress events to optional sinks.
package events

import (
	"time"

	"github.com/msageha/docflow/internal/model"
)

// EventType represents the type of progress event.
type EventType string

const (
	EventPlanComputed           EventType = "plan_computed"
	EventWaveStarted            EventType = "wave_started"
	EventWaveCompleted          EventType = "wave_completed"
	EventDocumentStarted        EventType = "document_started"
	EventDocumentCompleted      EventType = "document_completed"
	EventDocumentErrored        EventType = "document_errored"
	EventQualityReviewStarted   EventType = "quality_review_started"
	EventQualityReviewCompleted EventType = "quality_review_completed"
	EventImprovementStarted     EventType = "improvement_started"
	EventImprovementCompleted   EventType = "improvement_completed"
	EventRunCompleted           EventType = "run_completed"
)

// AllEventTypes lists every type in emission order of a typical run.
var AllEventTypes = []EventType{
	EventPlanComputed,
	EventWaveStarted,
	EventDocumentStarted,
	EventQualityReviewStarted,
	EventQualityReviewCompleted,
	EventImprovementStarted,
	EventImprovementCompleted,
	EventDocumentCompleted,
	EventDocumentErrored,
	EventWaveCompleted,
	EventRunCompleted,
}

// Event is one progress notification.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	RunID      string         `json:"run_id"`
	DocumentID string         `json:"document_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an id and UTC timestamp.
func NewEvent(eventType EventType, runID, documentID string, data map[string]any) Event {
	id, _ := model.GenerateID(model.IDTypeEvent)
	return Event{
		ID:         id,
		Type:       eventType,
		RunID:      runID,
		DocumentID: documentID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}
}

// Sink receives progress events. Implementations must not block the caller for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// Nop returns a sink that drops every event.
func Nop() Sink { return nopSink{} }

// OrNop returns s, or a no-op sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop()
	}
	return s
}

type multiSink []Sink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return Nop()
	}
	return out
}
