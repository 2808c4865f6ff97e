package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

const (
	EventWorkingCopyCreated = "working_copy_created"
	EventSaved              = "saved"
	EventFinalized          = "finalized"
)

// EventRecorder receives an entry for every file the store writes.
type EventRecorder interface {
	RecordDatasetEvent(kind, path string, rows int) error
}

// Store owns the canonical dataset file and its working copy. Writes are
// whole-file and last-writer-wins; the mutex only keeps one process from
// interleaving its own writes.
type Store struct {
	fs            afero.Fs
	canonicalPath string
	workingPath   string
	events        EventRecorder

	mu sync.Mutex
}

func NewStore(fs afero.Fs, canonicalPath, workingPath string, events EventRecorder) *Store {
	return &Store{
		fs:            fs,
		canonicalPath: canonicalPath,
		workingPath:   workingPath,
		events:        events,
	}
}

func (s *Store) CanonicalPath() string {
	return s.canonicalPath
}

func (s *Store) WorkingPath() string {
	return s.workingPath
}

// EnsureWorkingCopy copies the canonical file to the working path if no
// working copy exists yet. It reports whether a copy was made.
func (s *Store) EnsureWorkingCopy() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureWorkingCopy()
}

func (s *Store) ensureWorkingCopy() (bool, error) {
	exists, err := afero.Exists(s.fs, s.workingPath)
	if err != nil {
		return false, fmt.Errorf("failed to stat working copy: %w", err)
	}
	if exists {
		return false, nil
	}

	data, err := afero.ReadFile(s.fs, s.canonicalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w: %s", ErrCanonicalMissing, s.canonicalPath)
		}
		return false, fmt.Errorf("failed to read canonical dataset: %w", err)
	}

	table, err := Parse(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("canonical dataset %s: %w", s.canonicalPath, err)
	}

	if err := writeAtomic(s.fs, s.workingPath, data); err != nil {
		return false, fmt.Errorf("failed to create working copy: %w", err)
	}

	logger.Info("Created working copy of the dataset",
		zap.String("canonical", s.canonicalPath),
		zap.String("working", s.workingPath),
		zap.Int("rows", table.Len()),
	)
	s.record(EventWorkingCopyCreated, s.workingPath, table.Len())

	return true, nil
}

func (s *Store) OpenWorkingCopy() (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ensureWorkingCopy(); err != nil {
		return nil, err
	}

	return s.read(s.workingPath)
}

func (s *Store) Save(table *Table) error {
	data, err := table.Bytes()
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.fs, s.workingPath, data); err != nil {
		return fmt.Errorf("failed to save working copy: %w", err)
	}

	metrics.DatasetWrites.WithLabelValues(EventSaved).Inc()
	logger.Info("Saved changes to working copy", zap.String("path", s.workingPath), zap.Int("rows", table.Len()))
	s.record(EventSaved, s.workingPath, table.Len())
	return nil
}

// Finalize overwrites the canonical file with the working copy as it is on
// disk. The previous canonical content is not kept.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.workingPath)
	if err != nil {
		return fmt.Errorf("failed to read working copy: %w", err)
	}

	table, err := Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("working copy %s: %w", s.workingPath, err)
	}

	if err := writeAtomic(s.fs, s.canonicalPath, data); err != nil {
		return fmt.Errorf("failed to finalize dataset: %w", err)
	}

	metrics.DatasetWrites.WithLabelValues(EventFinalized).Inc()
	logger.Info("Changes saved to canonical dataset", zap.String("path", s.canonicalPath), zap.Int("rows", table.Len()))
	s.record(EventFinalized, s.canonicalPath, table.Len())
	return nil
}

func (s *Store) read(path string) (*Table, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	table, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return table, nil
}

func (s *Store) record(kind, path string, rows int) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordDatasetEvent(kind, path, rows); err != nil {
		logger.Warn("Failed to record dataset event", zap.String("kind", kind), zap.Error(err))
	}
}

// writeAtomic writes data to a temp file next to path and renames it into
// place, so readers see either the old or the new content.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = fs.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fs.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
