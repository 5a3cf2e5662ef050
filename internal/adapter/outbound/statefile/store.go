// Package statefile implements the outbound.Persister port over a single
// JSON file on disk, the way the teacher's internal/adapter/outbound/state
// package backs AppState: atomic writes (write-tmp-then-rename), a ".bak"
// copy of the previous generation, cross-process locking via flock, and
// enforced 0600 permissions. Unlike the teacher, the persisted shape is an
// untyped document.Value tree rather than a fixed Go struct, so Load/Save
// marshal through document.Parse/MarshalIndent instead of encoding/json
// against a concrete type.
package statefile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/rhymu8354/alfred/internal/domain/document"
)

var tracer = otel.Tracer("github.com/rhymu8354/alfred/internal/adapter/outbound/statefile")

// Store manages reading and writing the backing store file named on the
// command line (spec §6, -s/--store).
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a Store for the given file path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads and parses the store file. If the file does not exist, it
// returns an empty document object rather than an error, so a fresh
// deployment can Mobilize against a store file that has never been
// written yet.
func (s *Store) Load() (document.Value, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("store file not found, starting from empty document", "path", s.path)
			return document.Value{Kind: document.KindObject, Object: map[string]document.Value{}}, nil
		}
		return document.Invalid, fmt.Errorf("read store file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("store file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	tree, err := document.Parse(data)
	if err != nil {
		return document.Invalid, fmt.Errorf("parse store file: %w", err)
	}
	return tree, nil
}

// Save writes tree to disk atomically:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Copy current file to path+".bak" (ignored if no current file)
//  4. Marshal tree as indented JSON
//  5. Write to path+".tmp" with 0600 permissions
//  6. Fsync the temp file
//  7. Rename path+".tmp" -> path
//  8. Release flock
//  9. Release mutex
func (s *Store) Save(tree document.Value) error {
	_, span := tracer.Start(context.Background(), "statefile.Store.Save")
	defer span.End()

	err := s.save(tree)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) save(tree document.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := tree.MarshalIndent()
	if err != nil {
		return fmt.Errorf("marshal store document: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on store file", "error", err)
	}

	s.logger.Debug("store saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (s *Store) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to store file: %w", err)
	}
	return nil
}

// Path returns the configured file path.
func (s *Store) Path() string {
	return s.path
}
