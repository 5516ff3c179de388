package metrics

import (
	"sync"
	"time"

	"github.com/msageha/docflow/internal/model"
)

// Collector holds the timings of one run. It is created at run start,
// passed to the scheduler and executors, and disposed at run end.
type Collector struct {
	mu          sync.Mutex
	runID       string
	now         func() time.Time
	startedAt   time.Time
	docs        map[string]*model.DocumentTiming
	order       []string
	waves       []model.WaveRecord
	instruments *Instruments
	disposed    bool
}

// NewCollector starts a collector for runID. instruments may be nil.
func NewCollector(runID string, instruments *Instruments) *Collector {
	return newCollector(runID, instruments, time.Now)
}

func newCollector(runID string, instruments *Instruments, now func() time.Time) *Collector {
	return &Collector{
		runID:       runID,
		now:         now,
		startedAt:   now(),
		docs:        make(map[string]*model.DocumentTiming),
		instruments: instruments,
	}
}

func (c *Collector) RunID() string { return c.runID }

// DocumentStarted stamps the start time of a document. Safe for concurrent use.
func (c *Collector) DocumentStarted(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	t, ok := c.docs[documentID]
	if !ok {
		t = &model.DocumentTiming{DocumentID: documentID}
		c.docs[documentID] = t
		c.order = append(c.order, documentID)
	}
	t.StartedAt = c.now()
}

// DocumentEnded stamps the end time and outcome of a document.
func (c *Collector) DocumentEnded(documentID string, success bool) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	t, ok := c.docs[documentID]
	if !ok {
		t = &model.DocumentTiming{DocumentID: documentID}
		c.docs[documentID] = t
		c.order = append(c.order, documentID)
	}
	t.EndedAt = c.now()
	t.Success = success
	d := t.Duration()
	c.mu.Unlock()

	c.instruments.observeDocument(success, d.Seconds())
}

// Timing returns the recorded timing of a document.
func (c *Collector) Timing(documentID string) (model.DocumentTiming, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.docs[documentID]
	if !ok {
		return model.DocumentTiming{}, false
	}
	return *t, true
}

// RecordWave appends a WaveRecord for documentIDs that ran over wallClock.
func (c *Collector) RecordWave(number int, documentIDs []string, wallClock time.Duration) model.WaveRecord {
	c.mu.Lock()
	var sum time.Duration
	for _, id := range documentIDs {
		if t, ok := c.docs[id]; ok {
			sum += t.Duration()
		}
	}
	rec := model.WaveRecord{
		Number:             number,
		DocumentIDs:        append([]string(nil), documentIDs...),
		Duration:           wallClock,
		ParallelEfficiency: ParallelEfficiency(sum, wallClock),
	}
	if !c.disposed {
		c.waves = append(c.waves, rec)
	}
	c.mu.Unlock()

	c.instruments.observeWave(rec.ParallelEfficiency)
	return rec
}

// ParallelEfficiency returns summed document durations over wave wall-clock, times 100.
// A zero wall-clock yields 0.
func ParallelEfficiency(sum, wallClock time.Duration) float64 {
	if wallClock <= 0 {
		return 0
	}
	return float64(sum) / float64(wallClock) * 100
}

// Waves returns the recorded waves in order.
func (c *Collector) Waves() []model.WaveRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.WaveRecord(nil), c.waves...)
}

// Summary folds the run into a snapshot. total is the number of planned documents.
func (c *Collector) Summary(total int) model.MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.now()
	snap := model.MetricsSnapshot{
		StartedAt:     c.startedAt,
		EndedAt:       end,
		TotalDuration: end.Sub(c.startedAt),
		Total:         total,
		Documents:     make([]model.DocumentTiming, 0, len(c.order)),
		Waves:         append([]model.WaveRecord(nil), c.waves...),
	}
	for _, id := range c.order {
		t := *c.docs[id]
		snap.Documents = append(snap.Documents, t)
		if t.EndedAt.IsZero() {
			continue
		}
		if t.Success {
			snap.Completed++
		} else {
			snap.Failed++
		}
	}
	return snap
}

// Dispose drops all per-run state. Later calls record nothing.
func (c *Collector) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.docs = make(map[string]*model.DocumentTiming)
	c.order = nil
	c.waves = nil
}

func (c *Collector) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
