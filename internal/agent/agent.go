// Package agent launches the external agent process that backs a session.
package agent

import (
	"context"
	"fmt"
	"io"
)

// LaunchSpec describes one agent process launch.
type LaunchSpec struct {
	// WorkDir is the working directory of the process.
	WorkDir string
	// ResumeSessionID continues an earlier conversation when set.
	ResumeSessionID string
	// Env is overlaid on the inherited environment.
	Env map[string]string
	// Label tags log lines and the child's debug process name.
	Label string
}

// Process is a running agent process speaking NDJSON over its pipes.
type Process interface {
	// Stdin receives encoded user messages. Closing it ends the conversation.
	Stdin() io.WriteCloser
	// Stdout yields the agent's event feed.
	Stdout() io.Reader
	// Wait blocks until the process exits. Call it only after Stdout has
	// been drained.
	Wait() error
	// Kill force-terminates the process and everything it spawned.
	Kill() error
	// Pid returns the OS process id, or 0 when not applicable.
	Pid() int
}

// Launcher starts agent processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExitError is returned by Process.Wait when the agent exits unsuccessfully.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("agent exited with code %d", e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }
