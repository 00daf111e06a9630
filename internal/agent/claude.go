package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"

	"github.com/agusx1211/ccplane/internal/debug"
)

// DefaultCommand is used when no agent command is configured.
const DefaultCommand = "claude"

// ClaudeLauncher runs the claude CLI in bidirectional stream-json mode.
type ClaudeLauncher struct {
	// Command is a shell-style command line, e.g. "claude --model opus".
	// Stream flags are appended to it.
	Command string
	// Env is overlaid on every launch before the per-launch env.
	Env map[string]string
}

// NewClaudeLauncher returns a launcher for command.
func NewClaudeLauncher(command string, env map[string]string) *ClaudeLauncher {
	return &ClaudeLauncher{Command: command, Env: env}
}

// Args returns the argv for spec, program name first.
//
// --print with stream-json on both sides keeps the process alive reading
// user messages from stdin until it is closed. --verbose is required by the
// CLI for stream-json output and --include-partial-messages enables the
// content_block_* stream events.
func (c *ClaudeLauncher) Args(spec LaunchSpec) ([]string, error) {
	command := strings.TrimSpace(c.Command)
	if command == "" {
		command = DefaultCommand
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("agent: parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("agent: empty command")
	}
	argv = append(argv,
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	)
	if spec.ResumeSessionID != "" {
		argv = append(argv, "--resume", spec.ResumeSessionID)
	}
	return argv, nil
}

// Launch starts the process. ctx only bounds the launch itself; the process
// outlives it and is ended through Stdin or Kill.
func (c *ClaudeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	argv, err := c.Args(spec)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(procCtx, argv[0], argv[1:]...)
	cmd.Dir = spec.WorkDir
	setupProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second
	setupEnv(cmd, c.Env, spec.Env)
	cmd.Env = debug.PropagatedEnv(cmd.Env, "agent:"+spec.Label)

	stderr := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}

	debug.LogKV("agent", "starting process",
		"label", spec.Label,
		"args", strings.Join(argv, " "),
		"workdir", spec.WorkDir,
		"resume_session", spec.ResumeSessionID,
	)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent: start %s: %w", argv[0], err)
	}
	debug.LogKV("agent", "process started", "label", spec.Label, "pid", cmd.Process.Pid)

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, cancel: cancel, label: spec.Label}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *tailBuffer
	cancel context.CancelFunc
	label  string

	waitOnce sync.Once
	waitErr  error
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }

func (p *execProcess) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.cancel()
		code, other := extractExitCode(err)
		debug.LogKV("agent", "process exited", "label", p.label, "exit_code", code, "error", err)
		switch {
		case err == nil:
		case other != nil:
			p.waitErr = fmt.Errorf("agent: wait: %w", other)
		default:
			p.waitErr = &ExitError{Code: code, Stderr: p.stderr.Text(), Err: err}
		}
	})
	return p.waitErr
}

// Kill cancels the process context, which signals the whole group.
func (p *execProcess) Kill() error {
	debug.LogKV("agent", "killing process group", "label", p.label, "pid", p.cmd.Process.Pid)
	p.cancel()
	return nil
}
