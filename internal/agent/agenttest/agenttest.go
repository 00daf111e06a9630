// Package agenttest provides an in-memory agent.Launcher for tests. Each
// launched FakeProcess exposes the messages the session wrote to it and lets
// the test script the agent's NDJSON output.
package agenttest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/agusx1211/ccplane/internal/agent"
)

// ErrKilled is what Wait returns after Kill.
var ErrKilled = errors.New("agenttest: killed")

// Launcher records launches and hands out FakeProcesses.
type Launcher struct {
	// FailWith makes every Launch fail with this error when set.
	FailWith error
	// Linger keeps processes alive after end of input, until Kill or Exit.
	Linger bool

	mu       sync.Mutex
	specs    []agent.LaunchSpec
	procs    []*FakeProcess
	launched chan *FakeProcess
	entered  chan struct{}
	gate     chan struct{}
}

// NewLauncher returns a launcher that can buffer up to 16 unobserved
// launches.
func NewLauncher() *Launcher {
	return &Launcher{launched: make(chan *FakeProcess, 16)}
}

// Launch implements agent.Launcher.
func (l *Launcher) Launch(ctx context.Context, spec agent.LaunchSpec) (agent.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	entered, gate := l.entered, l.gate
	l.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWith != nil {
		return nil, l.FailWith
	}
	p := newFakeProcess(spec, l.Linger)
	l.specs = append(l.specs, spec)
	l.procs = append(l.procs, p)
	l.launched <- p
	return p, nil
}

// Hold makes later launches block inside Launch until release is called.
// entered receives once per launch that reaches the gate.
func (l *Launcher) Hold() (entered <-chan struct{}, release func()) {
	ch := make(chan struct{}, 1)
	gate := make(chan struct{})
	l.mu.Lock()
	l.entered, l.gate = ch, gate
	l.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			l.entered, l.gate = nil, nil
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Next waits for the next launched process.
func (l *Launcher) Next(timeout time.Duration) (*FakeProcess, error) {
	select {
	case p := <-l.launched:
		return p, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("agenttest: no launch within %s", timeout)
	}
}

// Specs returns every launch spec seen so far.
func (l *Launcher) Specs() []agent.LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]agent.LaunchSpec(nil), l.specs...)
}

// FakeProcess is a scripted agent process.
type FakeProcess struct {
	Spec agent.LaunchSpec

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	input       chan string
	stdinClosed chan struct{}

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error

	killed chan struct{}
	kill   sync.Once

	linger bool
}

func newFakeProcess(spec agent.LaunchSpec, linger bool) *FakeProcess {
	p := &FakeProcess{
		Spec:        spec,
		linger:      linger,
		input:       make(chan string, 64),
		stdinClosed: make(chan struct{}),
		exited:      make(chan struct{}),
		killed:      make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	go p.readStdin()
	return p
}

// readStdin mimics the claude CLI: every stdin line is a message, and end
// of input makes the process exit cleanly.
func (p *FakeProcess) readStdin() {
	sc := bufio.NewScanner(p.stdinR)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		p.input <- sc.Text()
	}
	close(p.stdinClosed)
	if !p.linger {
		p.Exit(nil)
	}
}

func (p *FakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *FakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *FakeProcess) Pid() int              { return 0 }

// Wait blocks until Exit or Kill.
func (p *FakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

// Kill ends the process with ErrKilled.
func (p *FakeProcess) Kill() error {
	p.kill.Do(func() { close(p.killed) })
	p.Exit(ErrKilled)
	return nil
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

// Exit closes stdout and makes Wait return err. Only the first call counts.
func (p *FakeProcess) Exit(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		p.stdoutW.Close()
		p.stdinR.Close()
		close(p.exited)
	})
}

// FailStdout makes the session's next stdout read fail with err.
func (p *FakeProcess) FailStdout(err error) {
	p.stdoutW.CloseWithError(err)
}

// Emit writes one NDJSON line to stdout. It blocks until the session reads
// it.
func (p *FakeProcess) Emit(line string) error {
	_, err := io.WriteString(p.stdoutW, line+"\n")
	return err
}

// EmitInit writes a system/init event for sessionID.
func (p *FakeProcess) EmitInit(sessionID string) error {
	return p.Emit(fmt.Sprintf(`{"type":"system","subtype":"init","session_id":%q,"model":"claude-test","tools":["Bash"]}`, sessionID))
}

// NextInput waits for the next line the session wrote to stdin.
func (p *FakeProcess) NextInput(timeout time.Duration) (string, error) {
	select {
	case line := <-p.input:
		return line, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("agenttest: no input within %s", timeout)
	}
}

// StdinClosed is closed once the session closes stdin.
func (p *FakeProcess) StdinClosed() <-chan struct{} {
	return p.stdinClosed
}

// Exited is closed once the process has exited.
func (p *FakeProcess) Exited() <-chan struct{} {
	return p.exited
}
