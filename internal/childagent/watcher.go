// Package childagent discovers background jobs started from inside agent
// sessions by polling the job runner's descriptor directory, and links each
// job to the terminal whose session spawned it.
package childagent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/events"
	"github.com/agusx1211/ccplane/internal/store"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 2 * time.Second

// Linker attaches children to terminals and fans out transitions. The
// terminal manager implements it.
type Linker interface {
	LinkChildAgent(child store.ChildAgent) (terminalID string, linked bool, err error)
	PublishChildAgent(ev events.ChildAgentEvent)
}

// Options configures a Watcher.
type Options struct {
	// Dir holds one descriptor file per job.
	Dir      string
	Interval time.Duration
	Linker   Linker
	// Extensions lists accepted descriptor file extensions. Defaults to .json.
	Extensions []string
}

// Child is the watcher's view of one job.
type Child struct {
	store.ChildAgent
	Linked     bool   `json:"linked"`
	TerminalID string `json:"terminalId,omitempty"`
}

// Watcher polls Dir. Polls never overlap: one that starts while another is
// running returns immediately.
type Watcher struct {
	opts    Options
	polling atomic.Bool

	mu       sync.RWMutex
	mtimes   map[string]time.Time
	children map[string]*Child
}

// New returns a Watcher.
func New(opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".json"}
	}
	return &Watcher{
		opts:     opts,
		mtimes:   make(map[string]time.Time),
		children: make(map[string]*Child),
	}
}

// Run polls once immediately and then every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	debug.LogKV("childagent", "watching", "dir", w.opts.Dir, "interval", w.opts.Interval)
	w.Poll()
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll scans the directory once and returns the transitions it emitted.
func (w *Watcher) Poll() []events.ChildAgentEvent {
	if !w.polling.CompareAndSwap(false, true) {
		debug.LogKV("childagent", "poll already in progress, skipping")
		return nil
	}
	defer w.polling.Store(false)

	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			debug.LogKV("childagent", "listing job dir failed", "dir", w.opts.Dir, "error", err)
		}
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	var out []events.ChildAgentEvent
	for _, e := range entries {
		if e.IsDir() || !w.accepts(e.Name()) {
			continue
		}
		path := filepath.Join(w.opts.Dir, e.Name())
		seen[path] = true

		info, err := e.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime()
		if prev, ok := w.mtimes[path]; ok && !mtime.After(prev) {
			continue
		}
		w.mtimes[path] = mtime

		if ev, ok := w.process(path, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))); ok {
			out = append(out, ev)
		}
	}
	for path := range w.mtimes {
		if !seen[path] {
			delete(w.mtimes, path)
		}
	}
	return out
}

// Children returns every job seen so far, ordered by id.
func (w *Watcher) Children() []Child {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Child, 0, len(w.children))
	for _, c := range w.children {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// process must be called with w.mu held.
func (w *Watcher) process(path, stem string) (events.ChildAgentEvent, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		debug.LogKV("childagent", "reading descriptor failed", "path", path, "error", err)
		return events.ChildAgentEvent{}, false
	}
	d, err := decodeDescriptor(data, stem)
	if err != nil {
		if errors.Is(err, errMissingField) {
			debug.LogKV("childagent", "skipping incomplete descriptor", "path", path, "reason", err)
		} else {
			debug.LogKV("childagent", "skipping malformed descriptor", "level", "warn", "path", path, "error", err)
		}
		return events.ChildAgentEvent{}, false
	}

	prev := w.children[d.ID]
	prevStatus := ""
	if prev != nil {
		prevStatus = prev.Status
	}
	status, recognized := store.NormalizeChildStatus(d.Status)
	if !recognized && prev != nil {
		status = prevStatus
	}
	transition := deriveTransition(prevStatus, status)

	child := store.ChildAgent{
		ID:              d.ID,
		ParentSessionID: d.ParentSessionID,
		TmuxSession:     d.TmuxSession,
		Status:          status,
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
	}
	c := &Child{ChildAgent: child}
	if w.opts.Linker != nil {
		tid, linked, err := w.opts.Linker.LinkChildAgent(child)
		if err != nil {
			debug.LogKV("childagent", "linking child failed", "child_id", child.ID, "error", err)
		}
		c.Linked, c.TerminalID = linked, tid
		if !linked {
			debug.LogKV("childagent", "no terminal owns parent session", "child_id", child.ID, "parent_session", child.ParentSessionID)
		}
	}
	w.children[d.ID] = c

	if transition == "" {
		return events.ChildAgentEvent{}, false
	}
	ev := events.ChildAgentEvent{
		ParentSessionID: child.ParentSessionID,
		TerminalID:      c.TerminalID,
		Transition:      transition,
		ChildAgent: events.ChildAgent{
			ID:              child.ID,
			ParentSessionID: child.ParentSessionID,
			TmuxSession:     child.TmuxSession,
			Status:          child.Status,
			StartedAt:       child.StartedAt,
			CompletedAt:     child.CompletedAt,
		},
	}
	debug.LogKV("childagent", "transition", "child_id", child.ID, "from", prevStatus, "to", status, "transition", transition)
	if w.opts.Linker != nil {
		w.opts.Linker.PublishChildAgent(ev)
	}
	return ev, true
}

func (w *Watcher) accepts(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range w.opts.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// deriveTransition maps a status change to the event it produces. prev is
// "" for a child seen for the first time.
func deriveTransition(prev, next string) events.Transition {
	if prev == next {
		return ""
	}
	switch next {
	case store.ChildStatusRunning:
		return events.TransitionStarted
	case store.ChildStatusComplete:
		if !store.IsFinalChildStatus(prev) {
			return events.TransitionCompleted
		}
	case store.ChildStatusFailed:
		if !store.IsFinalChildStatus(prev) {
			return events.TransitionFailed
		}
	}
	return ""
}
