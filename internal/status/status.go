// Package status persists incremental run status.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msageha/docflow/internal/lock"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/model"
	dfyaml "github.com/msageha/docflow/internal/yaml"
)

var ErrNotFound = errors.New("run status not found")

// Store receives incremental run status. Updates for one run come from a
// single coordinator, so last writer wins.
type Store interface {
	Update(runID string, status model.RunStatus, completedIDs []string, results map[string]model.DocumentResult, errMsg string) error
	Get(runID string) (model.RunRecord, error)
}

// FileStore keeps one YAML file per run under dir.
type FileStore struct {
	dir    string
	locks  *lock.MutexMap
	logger *logging.Logger
	now    func() time.Time
}

func NewFileStore(dir string, logger *logging.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		locks:  lock.NewMutexMap(),
		logger: logger.With("status"),
		now:    time.Now,
	}
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".yaml")
}

func (s *FileStore) Update(runID string, status model.RunStatus, completedIDs []string, results map[string]model.DocumentResult, errMsg string) error {
	if !model.ValidateID(runID) {
		return fmt.Errorf("update status: invalid run id %q", runID)
	}
	rec := newRecord(runID, status, completedIDs, results, errMsg, s.now())
	return s.locks.Do(runID, func() error {
		if err := dfyaml.AtomicWrite(s.path(runID), rec); err != nil {
			return fmt.Errorf("write status %s: %w", runID, err)
		}
		s.logger.Debugf("status updated run_id=%s status=%s completed=%d", runID, status, len(completedIDs))
		return nil
	})
}

func (s *FileStore) Get(runID string) (model.RunRecord, error) {
	var rec model.RunRecord
	err := s.locks.Do(runID, func() error {
		r, err := s.read(runID)
		if err == nil || errors.Is(err, ErrNotFound) {
			rec = r
			return err
		}
		s.logger.Warnf("status file corrupt run_id=%s, restoring backup: %v", runID, err)
		if rerr := dfyaml.RestoreFromBackup(s.path(runID)); rerr != nil {
			return fmt.Errorf("read status %s: %w (restore: %v)", runID, err, rerr)
		}
		rec, err = s.read(runID)
		return err
	})
	return rec, err
}

func (s *FileStore) read(runID string) (model.RunRecord, error) {
	var rec model.RunRecord
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return rec, fmt.Errorf("%s: %w", runID, ErrNotFound)
		}
		return rec, fmt.Errorf("read status %s: %w", runID, err)
	}
	if err := dfyaml.ValidateSchemaHeader(data, dfyaml.FileTypeRunStatus); err != nil {
		return rec, fmt.Errorf("status %s: %w", runID, err)
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse status %s: %w", runID, err)
	}
	return rec, nil
}

// List returns the run ids with a status file, oldest first.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list status dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		id := strings.TrimSuffix(name, ".yaml")
		if !model.ValidateID(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, _ := model.ParseIDTimestamp(ids[i])
		tj, _ := model.ParseIDTimestamp(ids[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]model.RunRecord
	history map[string][]model.RunStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]model.RunRecord),
		history: make(map[string][]model.RunStatus),
	}
}

func (m *MemoryStore) Update(runID string, status model.RunStatus, completedIDs []string, results map[string]model.DocumentResult, errMsg string) error {
	rec := newRecord(runID, status, completedIDs, results, errMsg, time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[runID] = rec
	m.history[runID] = append(m.history[runID], status)
	return nil
}

func (m *MemoryStore) Get(runID string) (model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[runID]
	if !ok {
		return rec, fmt.Errorf("%s: %w", runID, ErrNotFound)
	}
	return rec, nil
}

// History returns every status written for runID, in order.
func (m *MemoryStore) History(runID string) []model.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RunStatus(nil), m.history[runID]...)
}

func newRecord(runID string, status model.RunStatus, completedIDs []string, results map[string]model.DocumentResult, errMsg string, now time.Time) model.RunRecord {
	res := make(map[string]model.DocumentResult, len(results))
	for k, v := range results {
		res[k] = v
	}
	return model.RunRecord{
		SchemaVersion: dfyaml.CurrentSchemaVersion,
		FileType:      dfyaml.FileTypeRunStatus,
		RunID:         runID,
		Status:        status,
		CompletedIDs:  append([]string{}, completedIDs...),
		Results:       res,
		Error:         errMsg,
		UpdatedAt:     now.UTC().Format(time.RFC3339),
	}
}

// Print writes rec as indented JSON or as a short text report.
func Print(w io.Writer, rec model.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Fprintf(w, "Run:     %s\n", rec.RunID)
	fmt.Fprintf(w, "Status:  %s\n", rec.Status)
	fmt.Fprintf(w, "Updated: %s\n", rec.UpdatedAt)
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", rec.Error)
	}
	if len(rec.CompletedIDs) == 0 {
		fmt.Fprintln(w, "\nCompleted: none")
		return nil
	}
	fmt.Fprintln(w, "\nCompleted:")
	fmt.Fprintf(w, "  %-24s  %s\n", "DOCUMENT", "OUTPUT")
	for _, id := range rec.CompletedIDs {
		fmt.Fprintf(w, "  %-24s  %s\n", id, rec.Results[id].OutputRef)
	}
	return nil
}
