package terminal

import "errors"

var (
	// ErrNotFound means the terminal or project id is unknown.
	ErrNotFound = errors.New("terminal: not found")
	// ErrNotRunning means the terminal exists but has no live session;
	// resume it first.
	ErrNotRunning = errors.New("terminal: not running, resume it first")
	// ErrAlreadyRunning means the terminal already has a live session.
	ErrAlreadyRunning = errors.New("terminal: already running")
)
