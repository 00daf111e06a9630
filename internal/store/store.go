// Package store persists terminal records and per-terminal session records
// under the ccplane data directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"github.com/agusx1211/ccplane/internal/debug"
)

// FileVersion is the current terminals.json layout version.
const FileVersion = 1

// Store reads and writes the registry file. Writes are atomic and guarded
// by a lock file so that other ccplane processes never observe a torn file.
type Store struct {
	root string
	mu   sync.RWMutex
	lock *flock.Flock
}

// New returns a store rooted at dataDir. The data directory is created by
// the first write. Reads of an existing directory take a shared lock and so
// create terminals.lock there; reads of a missing one create nothing.
func New(dataDir string) *Store {
	return &Store{
		root: dataDir,
		lock: flock.New(filepath.Join(dataDir, "terminals.lock")),
	}
}

// Root returns the data directory.
func (s *Store) Root() string {
	return s.root
}

// TerminalsPath is the registry file path.
func (s *Store) TerminalsPath() string {
	return filepath.Join(s.root, "terminals.json")
}

// SessionRecordPath is where the session id of terminal id is kept.
func (s *Store) SessionRecordPath(id string) string {
	return filepath.Join(s.root, "sessions", id+".json")
}

// LoadTerminals returns every persisted terminal ordered by creation time.
// A missing or unreadable file yields an empty list.
func (s *Store) LoadTerminals() []Terminal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(s.root); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			debug.LogKV("store", "data dir unreadable, starting empty", "path", s.root, "error", err)
		}
		return nil
	}
	if err := s.lock.RLock(); err == nil {
		defer s.lock.Unlock()
	} else {
		debug.LogKV("store", "shared lock failed, reading unlocked", "error", err)
	}

	var f terminalsFile
	if err := readJSON(s.TerminalsPath(), &f); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			debug.LogKV("store", "terminals file unreadable, starting empty", "path", s.TerminalsPath(), "error", err)
		}
		return nil
	}
	if f.Version > FileVersion {
		debug.LogKV("store", "terminals file from a newer version", "version", f.Version)
	}
	sort.SliceStable(f.Terminals, func(i, j int) bool {
		return f.Terminals[i].CreatedAt.Before(f.Terminals[j].CreatedAt)
	})
	return f.Terminals
}

// SaveTerminals replaces the registry file with terminals.
func (s *Store) SaveTerminals(terminals []Terminal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureRoot(); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("store: lock terminals: %w", err)
	}
	defer s.lock.Unlock()

	if terminals == nil {
		terminals = []Terminal{}
	}
	return writeJSON(s.TerminalsPath(), terminalsFile{Version: FileVersion, Terminals: terminals})
}

// WriteSessionRecord stores sessionID at path.
func WriteSessionRecord(path, sessionID string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("store: create session dir: %w", err)
	}
	return writeJSON(path, sessionRecord{SessionID: sessionID})
}

// ReadSessionRecord returns the session id stored at path, or "" if the
// record is missing or unreadable.
func ReadSessionRecord(path string) string {
	if path == "" {
		return ""
	}
	var rec sessionRecord
	if err := readJSON(path, &rec); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			debug.LogKV("store", "session record unreadable", "path", path, "error", err)
		}
		return ""
	}
	return rec.SessionID
}

// RemoveSessionRecord deletes the record at path. A missing file is not an
// error.
func RemoveSessionRecord(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: remove session record: %w", err)
	}
	return nil
}

func (s *Store) ensureRoot() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("store: create data dir %s: %w", s.root, err)
	}
	return nil
}

// writeJSON writes v next to path and renames it into place.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
