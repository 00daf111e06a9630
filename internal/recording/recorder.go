// Package recording keeps an append-only transcript of every terminal's
// session events, one JSON line per event, so clients that connect late
// can replay what they missed.
package recording

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/events"
	"github.com/agusx1211/ccplane/internal/hexid"
)

// Entry is one transcript line.
type Entry struct {
	Timestamp time.Time    `json:"ts"`
	Event     events.Event `json:"event"`
}

// Recorder appends events to <dir>/<terminalId>.jsonl. File handles stay
// open until Close.
type Recorder struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	files map[string]*os.File
}

// New returns a Recorder writing under dir.
func New(dir string) *Recorder {
	return &Recorder{
		dir:   dir,
		now:   time.Now,
		files: make(map[string]*os.File),
	}
}

// Path returns the transcript file for terminalID.
func (r *Recorder) Path(terminalID string) string {
	return filepath.Join(r.dir, terminalID+".jsonl")
}

// Run records every event from ch until ch is closed or ctx is done.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.TerminalEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Record(ev); err != nil {
				debug.LogKV("recording", "append failed", "terminal_id", ev.TerminalID, "error", err)
			}
		}
	}
}

// Record appends one event to its terminal's transcript.
func (r *Recorder) Record(ev events.TerminalEvent) error {
	if !hexid.Valid(ev.TerminalID) {
		return fmt.Errorf("recording: invalid terminal id %q", ev.TerminalID)
	}
	line, err := json.Marshal(Entry{Timestamp: r.now().UTC(), Event: ev.Event})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.fileLocked(ev.TerminalID)
	if err != nil {
		return err
	}
	_, err = f.Write(line)
	return err
}

func (r *Recorder) fileLocked(id string) (*os.File, error) {
	if f := r.files[id]; f != nil {
		return f, nil
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(r.Path(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	r.files[id] = f
	return f, nil
}

// Read returns up to limit of the most recent entries for terminalID,
// oldest first. limit <= 0 returns everything. A terminal with no
// transcript yields an empty slice. Torn or malformed lines are skipped.
func (r *Recorder) Read(terminalID string, limit int) ([]Entry, error) {
	if !hexid.Valid(terminalID) {
		return nil, fmt.Errorf("recording: invalid terminal id %q", terminalID)
	}
	f, err := os.Open(r.Path(terminalID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := []Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	return out, sc.Err()
}

// Remove closes and deletes terminalID's transcript.
func (r *Recorder) Remove(terminalID string) error {
	if !hexid.Valid(terminalID) {
		return fmt.Errorf("recording: invalid terminal id %q", terminalID)
	}
	r.mu.Lock()
	if f := r.files[terminalID]; f != nil {
		f.Close()
		delete(r.files, terminalID)
	}
	r.mu.Unlock()
	if err := os.Remove(r.Path(terminalID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close releases every open file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, f := range r.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.files, id)
	}
	return errors.Join(errs...)
}
