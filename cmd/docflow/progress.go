package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/msageha/docflow/internal/events"
)

// progressSink prints wave and document transitions as they happen.
// Documents of a wave emit concurrently, so writes are serialized.
func progressSink(w io.Writer) events.Sink {
	var mu sync.Mutex
	return events.SinkFunc(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		ts := e.Timestamp.Format("15:04:05")
		switch e.Type {
		case events.EventWaveStarted:
			fmt.Fprintf(w, "[%s] wave %v started: %v\n", ts, e.Data["wave"], e.Data["documents"])
		case events.EventWaveCompleted:
			fmt.Fprintf(w, "[%s] wave %v completed\n", ts, e.Data["wave"])
		case events.EventDocumentCompleted:
			fmt.Fprintf(w, "[%s]   %s done\n", ts, e.DocumentID)
		case events.EventDocumentErrored:
			fmt.Fprintf(w, "[%s]   %s FAILED: %v\n", ts, e.DocumentID, e.Data["error"])
		case events.EventImprovementCompleted:
			fmt.Fprintf(w, "[%s]   %s improved\n", ts, e.DocumentID)
		}
	})
}
