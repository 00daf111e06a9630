// Package session couples an input queue, a protocol adapter and one agent
// process into a restartable conversation with a durable session id.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agusx1211/ccplane/internal/adapter"
	"github.com/agusx1211/ccplane/internal/agent"
	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/events"
	"github.com/agusx1211/ccplane/internal/handoff"
	"github.com/agusx1211/ccplane/internal/store"
	"github.com/agusx1211/ccplane/internal/stream"
)

var (
	// ErrStopped is returned when sending to a stopped session.
	ErrStopped = errors.New("session: stopped")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session: already started")
)

// Config configures a Session.
type Config struct {
	// Label tags logs and the agent's debug process name.
	Label string
	// WorkDir is the agent's working directory.
	WorkDir string
	// RecordPath is where the session id is persisted on first init.
	RecordPath string
	// ResumeSessionID takes priority over the id in RecordPath.
	ResumeSessionID string
	Launcher        agent.Launcher
	Env             map[string]string
	// OnEvent receives every event with the session id attached. It is
	// called from the session's loop goroutine.
	OnEvent func(events.Event)
}

// Session owns one agent process for its whole life. A stopped Session is
// not restarted; callers build a new one seeded with SessionID.
type Session struct {
	cfg     Config
	queue   *handoff.Queue[stream.Content]
	adapter *adapter.Adapter

	mu        sync.Mutex
	started   bool
	proc      agent.Process
	sessionID string
	resumeID  string

	stopped atomic.Bool
	killed  atomic.Bool

	done chan struct{}
	err  error
}

// New returns an unstarted Session.
func New(cfg Config) *Session {
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(events.Event) {}
	}
	s := &Session{
		cfg:   cfg,
		queue: handoff.New[stream.Content](),
		done:  make(chan struct{}),
	}
	s.adapter = adapter.New(adapter.Options{
		Emit:        s.emit,
		OnSessionID: s.captureSessionID,
		Label:       cfg.Label,
	})
	return s
}

// Start resolves the resume id, launches the agent and starts the input pump
// and protocol loop in the background. A launch failure is returned and
// also ends the session (Done is closed, Err reports it).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true

	resume := s.cfg.ResumeSessionID
	if resume == "" {
		resume = store.ReadSessionRecord(s.cfg.RecordPath)
	}
	s.resumeID = resume
	s.mu.Unlock()

	debug.LogKV("session", "starting", "label", s.cfg.Label, "workdir", s.cfg.WorkDir, "resume_session", resume)
	proc, err := s.cfg.Launcher.Launch(ctx, agent.LaunchSpec{
		WorkDir:         s.cfg.WorkDir,
		ResumeSessionID: resume,
		Env:             s.cfg.Env,
		Label:           s.cfg.Label,
	})
	if err != nil {
		s.queue.Close()
		s.finish(fmt.Errorf("launching agent: %w", err))
		return s.err
	}

	s.mu.Lock()
	if s.killed.Load() {
		s.mu.Unlock()
		s.reapKilled(proc)
		return nil
	}
	s.proc = proc
	s.mu.Unlock()

	pumpCtx, stopPump := context.WithCancel(context.Background())
	go s.pump(pumpCtx, proc)
	go s.run(proc, stopPump)
	return nil
}

// Stop closes the input side. The agent sees end of input and exits on its
// own; Stop does not wait for that.
func (s *Session) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		debug.LogKV("session", "stopping", "label", s.cfg.Label)
	}
	s.queue.Close()
}

// Kill stops the session and force-terminates the agent process group.
// A Kill that lands while the launch is in flight is honoured by Start once
// the process exists.
func (s *Session) Kill() error {
	s.mu.Lock()
	s.killed.Store(true)
	proc := s.proc
	s.mu.Unlock()
	s.Stop()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

// SendMessage queues content for the agent. It may be called before the
// agent reports init; content waits in the queue.
func (s *Session) SendMessage(content stream.Content) error {
	if err := content.Validate(); err != nil {
		return err
	}
	if !s.queue.Push(content) {
		return ErrStopped
	}
	return nil
}

// SessionID returns the agent's session id: the one reported by init, else
// the id being resumed, else "".
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		return s.sessionID
	}
	return s.resumeID
}

// ResumeID returns the id the session was started with, if any.
func (s *Session) ResumeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeID
}

// Done is closed once the protocol loop has ended and the process is reaped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the loop's terminal error after Done is closed. It is nil for
// a normal end, including Stop and Kill.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stopped reports whether Stop or Kill was called.
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

func (s *Session) pump(ctx context.Context, proc agent.Process) {
	stdin := proc.Stdin()
	defer func() {
		if err := stdin.Close(); err != nil {
			debug.LogKV("session", "closing stdin", "label", s.cfg.Label, "error", err)
		}
	}()
	for {
		content, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		line, err := stream.EncodeUserMessage(content)
		if err != nil {
			debug.LogKV("session", "dropping unencodable message", "label", s.cfg.Label, "error", err)
			continue
		}
		if _, err := stdin.Write(line); err != nil {
			debug.LogKV("session", "writing to agent failed", "label", s.cfg.Label, "error", err)
			return
		}
		debug.LogKV("session", "message delivered", "label", s.cfg.Label, "bytes", len(line))
	}
}

func (s *Session) run(proc agent.Process, stopPump context.CancelFunc) {
	defer stopPump()

	loopErr := s.adapter.Run(context.Background(), stream.Parse(context.Background(), proc.Stdout()))
	if loopErr != nil {
		// The feed is gone; make sure the process sees end of input too.
		s.queue.Close()
	}
	waitErr := proc.Wait()

	var err error
	switch {
	case s.killed.Load():
	case loopErr != nil:
		err = loopErr
	case waitErr != nil:
		err = waitErr
	}
	if err != nil {
		s.emit(events.Error(err.Error()))
	}
	debug.LogKV("session", "loop ended", "label", s.cfg.Label, "error", err, "stopped", s.stopped.Load(), "killed", s.killed.Load())
	s.finish(err)
}

// reapKilled terminates a process whose session was killed before it
// launched. No pump or loop ever runs for it.
func (s *Session) reapKilled(proc agent.Process) {
	debug.LogKV("session", "killed during launch", "label", s.cfg.Label, "pid", proc.Pid())
	if err := proc.Kill(); err != nil {
		debug.LogKV("session", "kill after launch failed", "label", s.cfg.Label, "error", err)
	}
	if err := proc.Stdin().Close(); err != nil {
		debug.LogKV("session", "closing stdin", "label", s.cfg.Label, "error", err)
	}
	go func() {
		_ = proc.Wait()
		s.finish(nil)
	}()
}

func (s *Session) finish(err error) {
	s.err = err
	close(s.done)
}

// captureSessionID holds mu across the write so that Kill, which takes mu,
// returns only after any in-flight record write has landed.
func (s *Session) captureSessionID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
	if s.cfg.RecordPath == "" || s.killed.Load() {
		return nil
	}
	return store.WriteSessionRecord(s.cfg.RecordPath, id)
}

func (s *Session) emit(ev events.Event) {
	if ev.SessionID == "" {
		ev.SessionID = s.SessionID()
	}
	s.cfg.OnEvent(ev)
}
