// Package lock provides per-key mutexes for status records and a flock guard for output trees.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// MutexMap hands out one mutex per key (a run id). Keys are reference counted
// so finished runs do not leave mutexes behind.
type MutexMap struct {
	mu      sync.Mutex
	entries map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func NewMutexMap() *MutexMap {
	return &MutexMap{entries: make(map[string]*refMutex)}
}

// Do runs fn while holding the mutex for key.
func (m *MutexMap) Do(key string, fn func() error) error {
	e := m.acquire(key)
	e.Lock()
	defer func() {
		e.Unlock()
		m.release(key)
	}()
	return fn()
}

// Len reports how many keys currently have holders or waiters.
func (m *MutexMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MutexMap) acquire(key string) *refMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &refMutex{}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *MutexMap) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// FileLock is an exclusive, non-blocking flock on a path. The holder's pid is written into the file.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) Path() string {
	return fl.path
}

func (fl *FileLock) TryLock() error {
	if fl.file != nil {
		return fmt.Errorf("lock %s already held by this process", fl.path)
	}
	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (another docflow run may be writing %s): %w", filepath.Dir(fl.path), err)
	}

	fail := func(step string, err error) error {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("write PID to", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}

	fl.file = f
	return nil
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	os.Remove(fl.path)
	return nil
}
