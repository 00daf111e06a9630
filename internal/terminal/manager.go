// Package terminal supervises the set of terminals: one durable record per
// terminal, at most one live session per terminal, and the event fan-out
// that transports subscribe to.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agusx1211/ccplane/internal/agent"
	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/eventq"
	"github.com/agusx1211/ccplane/internal/events"
	"github.com/agusx1211/ccplane/internal/hexid"
	"github.com/agusx1211/ccplane/internal/session"
	"github.com/agusx1211/ccplane/internal/store"
	"github.com/agusx1211/ccplane/internal/stream"
)

// EnvTerminalID is set in every agent process environment.
const EnvTerminalID = "CCPLANE_TERMINAL_ID"

// ScopeResolver maps a project id to its working directory.
type ScopeResolver interface {
	ProjectDir(id string) (string, error)
}

// Options configures a Manager.
type Options struct {
	Store *store.Store
	// RootDir is the working directory of terminals without a project.
	RootDir string
	// Scopes resolves project ids. Nil means only the root scope exists.
	Scopes   ScopeResolver
	Launcher agent.Launcher
	// Env is added to every agent process environment.
	Env map[string]string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager is the single owner of terminal records and live sessions.
// Everything that reaches a session does so through the manager by terminal
// id, since close and resume replace the session behind an id.
type Manager struct {
	opts Options

	mu        sync.RWMutex
	terminals map[string]*store.Terminal
	sessions  map[string]*session.Session

	terminalEvents *eventq.Broker[events.TerminalEvent]
	childEvents    *eventq.Broker[events.ChildAgentEvent]
}

// NewManager returns a Manager. Call Initialize before use.
func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:           opts,
		terminals:      make(map[string]*store.Terminal),
		sessions:       make(map[string]*session.Session),
		terminalEvents: eventq.NewBroker[events.TerminalEvent]("terminal"),
		childEvents:    eventq.NewBroker[events.ChildAgentEvent]("childagent"),
	}
}

// Initialize loads persisted terminals. Records that were starting or
// running cannot have a live process after a restart, so they are demoted
// to closed and the demotion is written back immediately.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for _, t := range m.opts.Store.LoadTerminals() {
		if !t.Persistent {
			debug.LogKV("terminal", "dropping non-persistent record", "terminal_id", t.ID)
			changed = true
			continue
		}
		if store.IsLiveStatus(t.Status) {
			debug.LogKV("terminal", "demoting stale terminal", "terminal_id", t.ID, "status", t.Status)
			t.Status = store.StatusClosed
			changed = true
		}
		t := t
		m.terminals[t.ID] = &t
	}
	debug.LogKV("terminal", "initialized", "terminals", len(m.terminals), "changed", changed)
	if changed {
		return m.persistLocked()
	}
	return nil
}

// Spawn creates a terminal in projectID ("" for the root scope) and starts
// its session. It returns as soon as the agent is launched; the switch to
// running arrives on the event stream.
func (m *Manager) Spawn(ctx context.Context, projectID string) (string, error) {
	workDir, err := m.resolveScope(projectID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	id := hexid.New()
	for m.terminals[id] != nil {
		id = hexid.New()
	}
	t := &store.Terminal{
		ID:          id,
		Status:      store.StatusStarting,
		CreatedAt:   m.opts.Now().UTC(),
		Persistent:  true,
		ChildAgents: []store.ChildAgent{},
	}
	if projectID != "" {
		p := projectID
		t.ProjectID = &p
	}
	m.terminals[id] = t
	if err := m.persistLocked(); err != nil {
		delete(m.terminals, id)
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	debug.LogKV("terminal", "spawning", "terminal_id", id, "project", projectID, "workdir", workDir)
	if err := m.startSession(ctx, id, workDir, ""); err != nil {
		return id, err
	}
	return id, nil
}

// Send queues content for the terminal's live session.
func (m *Manager) Send(id string, content stream.Content) error {
	m.mu.RLock()
	_, ok := m.terminals[id]
	sess := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	if err := sess.SendMessage(content); err != nil {
		if errors.Is(err, session.ErrStopped) {
			return fmt.Errorf("%w: %s", ErrNotRunning, id)
		}
		return err
	}
	return nil
}

// Close stops the live session, if any, and marks the terminal closed. The
// record and its session id are kept for Resume.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	t, ok := m.terminals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess := m.sessions[id]
	delete(m.sessions, id)
	t.Status = store.StatusClosed
	err := m.persistLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
	debug.LogKV("terminal", "closed", "terminal_id", id, "had_session", sess != nil)
	return err
}

// Resume starts a new session for a terminal that has none, continuing its
// last known agent session.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.terminals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if store.IsLiveStatus(t.Status) || m.sessions[id] != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	workDir, err := m.resolveScope(t.Project())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	prev := t.Status
	t.Status = store.StatusStarting
	if err := m.persistLocked(); err != nil {
		t.Status = prev
		m.mu.Unlock()
		return err
	}
	resume := t.Session()
	m.mu.Unlock()

	debug.LogKV("terminal", "resuming", "terminal_id", id, "resume_session", resume)
	return m.startSession(ctx, id, workDir, resume)
}

// Kill force-terminates the live session and deletes every durable trace of
// the terminal.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	if _, ok := m.terminals[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess := m.sessions[id]
	delete(m.sessions, id)
	delete(m.terminals, id)
	err := m.persistLocked()
	m.mu.Unlock()

	if sess != nil {
		if kerr := sess.Kill(); kerr != nil {
			debug.LogKV("terminal", "kill failed", "terminal_id", id, "error", kerr)
		}
	}
	if rerr := store.RemoveSessionRecord(m.opts.Store.SessionRecordPath(id)); rerr != nil && err == nil {
		err = rerr
	}
	debug.LogKV("terminal", "killed", "terminal_id", id)
	return err
}

// Get returns a copy of one terminal.
func (m *Manager) Get(id string) (store.Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terminals[id]
	if !ok {
		return store.Terminal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// List returns copies of every terminal, oldest first.
func (m *Manager) List() []store.Terminal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Live reports whether id has a session attached.
func (m *Manager) Live(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id] != nil
}

// Subscribe attaches to the stream of session events of every terminal.
func (m *Manager) Subscribe(buffer int) (<-chan events.TerminalEvent, func()) {
	return m.terminalEvents.Subscribe(buffer)
}

// SubscribeChildAgents attaches to the stream of child-agent transitions.
func (m *Manager) SubscribeChildAgents(buffer int) (<-chan events.ChildAgentEvent, func()) {
	return m.childEvents.Subscribe(buffer)
}

// LinkChildAgent records child under the terminal whose current or last
// known session id is the child's parent. linked is false when no terminal
// matches; that is not an error.
func (m *Manager) LinkChildAgent(child store.ChildAgent) (terminalID string, linked bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.terminals {
		if !m.ownsSessionLocked(id, t, child.ParentSessionID) {
			continue
		}
		t.UpsertChildAgent(child)
		return id, true, m.persistLocked()
	}
	return "", false, nil
}

// PublishChildAgent fans a child-agent transition out to subscribers.
func (m *Manager) PublishChildAgent(ev events.ChildAgentEvent) {
	m.childEvents.Publish(ev)
}

// Shutdown stops every live session, marks those terminals closed and waits
// for the sessions to end or ctx to expire. Subscriber channels are closed
// afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*session.Session, 0, len(m.sessions))
	ids := make([]string, 0, len(m.sessions))
	for id, sess := range m.sessions {
		live = append(live, sess)
		ids = append(ids, id)
		if t := m.terminals[id]; t != nil {
			t.Status = store.StatusClosed
		}
		delete(m.sessions, id)
	}
	err := m.persistLocked()
	m.mu.Unlock()

	debug.LogKV("terminal", "shutting down", "live_sessions", len(live))
	for _, sess := range live {
		sess.Stop()
	}
	for _, sess := range live {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			for i, s := range live {
				if kerr := s.Kill(); kerr != nil {
					debug.LogKV("terminal", "kill on shutdown failed", "terminal_id", ids[i], "error", kerr)
				}
			}
			m.closeBrokers()
			return ctx.Err()
		}
	}
	m.closeBrokers()
	return err
}

func (m *Manager) closeBrokers() {
	m.terminalEvents.Close()
	m.childEvents.Close()
}

func (m *Manager) startSession(ctx context.Context, id, workDir, resume string) error {
	env := make(map[string]string, len(m.opts.Env)+1)
	for k, v := range m.opts.Env {
		env[k] = v
	}
	env[EnvTerminalID] = id

	var sess *session.Session
	sess = session.New(session.Config{
		Label:           id,
		WorkDir:         workDir,
		RecordPath:      m.opts.Store.SessionRecordPath(id),
		ResumeSessionID: resume,
		Launcher:        m.opts.Launcher,
		Env:             env,
		OnEvent: func(ev events.Event) {
			m.onSessionEvent(id, sess, ev)
		},
	})

	m.mu.Lock()
	if m.terminals[id] == nil {
		// Killed between the record update and the launch.
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		m.mu.Lock()
		if m.sessions[id] == sess {
			delete(m.sessions, id)
			if t := m.terminals[id]; t != nil {
				t.Status = store.StatusDead
				if perr := m.persistLocked(); perr != nil {
					debug.LogKV("terminal", "persist after launch failure", "terminal_id", id, "error", perr)
				}
			}
		}
		m.mu.Unlock()
		debug.LogKV("terminal", "session failed to start", "terminal_id", id, "error", err)
		return err
	}
	go m.watch(id, sess)
	return nil
}

func (m *Manager) onSessionEvent(id string, sess *session.Session, ev events.Event) {
	if ev.Type == events.KindInit {
		m.mu.Lock()
		t := m.terminals[id]
		// A session that was closed or replaced no longer drives status.
		if t != nil && m.sessions[id] == sess {
			t.Status = store.StatusRunning
			if ev.SessionID != "" {
				sid := ev.SessionID
				t.SessionID = &sid
			}
			if err := m.persistLocked(); err != nil {
				debug.LogKV("terminal", "persist after init failed", "terminal_id", id, "error", err)
			}
		}
		m.mu.Unlock()
	}
	m.terminalEvents.Publish(events.TerminalEvent{TerminalID: id, Event: ev})
}

// watch detaches a session whose loop ended on its own.
func (m *Manager) watch(id string, sess *session.Session) {
	<-sess.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] != sess {
		return
	}
	delete(m.sessions, id)
	t := m.terminals[id]
	if t == nil {
		return
	}
	if err := sess.Err(); err != nil {
		t.Status = store.StatusDead
	} else {
		t.Status = store.StatusIdle
	}
	debug.LogKV("terminal", "session ended", "terminal_id", id, "status", t.Status, "error", sess.Err())
	if err := m.persistLocked(); err != nil {
		debug.LogKV("terminal", "persist after session end failed", "terminal_id", id, "error", err)
	}
}

// ownsSessionLocked matches both the persisted id and the live session's
// id, which may be ahead of the record while init is being handled.
func (m *Manager) ownsSessionLocked(id string, t *store.Terminal, sessionID string) bool {
	if sessionID == "" {
		return false
	}
	if t.Session() == sessionID {
		return true
	}
	if sess := m.sessions[id]; sess != nil && sess.SessionID() == sessionID {
		return true
	}
	return false
}

func (m *Manager) resolveScope(projectID string) (string, error) {
	if projectID == "" {
		return m.opts.RootDir, nil
	}
	if m.opts.Scopes == nil {
		return "", fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	dir, err := m.opts.Scopes.ProjectDir(projectID)
	if err != nil {
		return "", fmt.Errorf("%w: project %s: %v", ErrNotFound, projectID, err)
	}
	return dir, nil
}

func (m *Manager) snapshotLocked() []store.Terminal {
	out := make([]store.Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// persistLocked must be called with m.mu held for writing.
func (m *Manager) persistLocked() error {
	if err := m.opts.Store.SaveTerminals(m.snapshotLocked()); err != nil {
		return fmt.Errorf("persisting terminals: %w", err)
	}
	return nil
}
