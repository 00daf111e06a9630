// Package debug is the ccplane diagnostic logger.
//
// When enabled (--debug or CCPLANE_DEBUG_ENABLED), every component writes
// timestamped key/value lines to a single log file so that the life of a
// terminal, its session and its child agents can be reconstructed later.
// When disabled every call is a no-op.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/ccplane/internal/hexid"
)

var (
	logger   *Logger
	loggerMu sync.RWMutex
)

const (
	// EnvEnabled toggles the logger in child processes.
	EnvEnabled = "CCPLANE_DEBUG_ENABLED"
	// EnvLogPath makes a process append to an existing log file.
	EnvLogPath = "CCPLANE_DEBUG_LOG_PATH"
	// EnvProcess labels the current process in every line.
	EnvProcess = "CCPLANE_DEBUG_PROCESS"
)

// Logger writes debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
	pid       int
	process   string
}

// Init opens the global log. dir is where a fresh log file is created; when
// empty, ~/.ccplane/debug is used. An inherited EnvLogPath takes precedence
// over dir. Returns the log path.
func Init(dir string) (string, error) {
	if p := Path(); p != "" {
		return p, nil
	}

	path, inherited, err := resolveLogPath(dir)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	l := &Logger{
		file:      f,
		path:      path,
		startedAt: time.Now(),
		pid:       os.Getpid(),
		process:   processLabel(),
	}
	banner := "CCPLANE DEBUG LOG"
	if inherited {
		banner = "CCPLANE DEBUG PROCESS ATTACHED"
	}
	fmt.Fprintf(f, "=== %s ===\nStarted: %s\nPID: %d\nProcess: %s\nFile: %s\n===\n\n",
		banner, l.startedAt.Format(time.RFC3339Nano), l.pid, l.process, path)

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		_ = f.Close()
		return logger.path, nil
	}
	logger = l
	return path, nil
}

// Close closes the log. Safe to call when not initialized.
func Close() {
	loggerMu.Lock()
	l := logger
	logger = nil
	loggerMu.Unlock()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "\n=== DEBUG LOG CLOSED === (pid=%d process=%s duration=%s)\n",
		l.pid, l.process, time.Since(l.startedAt).Truncate(time.Millisecond))
	l.file.Close()
}

// Enabled reports whether the logger is active.
func Enabled() bool {
	return current() != nil
}

// Path returns the log file path, or "" when disabled.
func Path() string {
	if l := current(); l != nil {
		return l.path
	}
	return ""
}

// ShouldEnableFromEnv reports whether inherited environment asks for logging.
func ShouldEnableFromEnv() bool {
	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvEnabled))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return path != ""
	}
}

// PropagatedEnv overlays the logging variables onto baseEnv so a child
// process appends to the same file. baseEnv is returned as is when logging
// is off.
func PropagatedEnv(baseEnv []string, process string) []string {
	logPath := Path()
	if logPath == "" {
		return baseEnv
	}
	env := append([]string(nil), baseEnv...)
	env = SetEnv(env, EnvEnabled, "1")
	env = SetEnv(env, EnvLogPath, logPath)
	if strings.TrimSpace(process) != "" {
		env = SetEnv(env, EnvProcess, process)
	}
	return env
}

// Log writes a single line.
func Log(component, msg string) {
	if l := current(); l != nil {
		l.write(component, msg)
	}
}

// Logf writes a formatted line.
func Logf(component, format string, args ...any) {
	if l := current(); l != nil {
		l.write(component, fmt.Sprintf(format, args...))
	}
}

// LogKV writes msg followed by key=value pairs.
//
//	debug.LogKV("terminal", "spawned", "terminal_id", id, "project", projectID)
func LogKV(component, msg string, kvs ...any) {
	l := current()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	if len(kvs)%2 == 1 {
		fmt.Fprintf(&b, " %v=<missing>", kvs[len(kvs)-1])
	}
	l.write(component, b.String())
}

// SetEnv replaces or appends key=value in env.
func SetEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i := range env {
		if strings.HasPrefix(env[i], prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

func current() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// write is always called two frames below the public entry point.
func (l *Logger) write(component, msg string) {
	now := time.Now()
	caller := "??:0"
	if _, file, line, ok := runtime.Caller(2); ok {
		if idx := strings.LastIndex(file, "/internal/"); idx >= 0 {
			file = file[idx+1:]
		} else {
			file = filepath.Base(file)
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	// TIMESTAMP +ELAPSED [PID] [PROCESS] [COMPONENT] CALLER | MESSAGE
	out := fmt.Sprintf("%s +%12s [P%-6d] [%-16s] [%-11s] %-36s | %s\n",
		now.Format("15:04:05.000000"),
		now.Sub(l.startedAt).Truncate(time.Microsecond),
		l.pid,
		l.process,
		component,
		caller,
		msg,
	)

	l.mu.Lock()
	l.file.WriteString(out)
	l.mu.Unlock()
}

func resolveLogPath(dir string) (string, bool, error) {
	if inherited := strings.TrimSpace(os.Getenv(EnvLogPath)); inherited != "" {
		if err := os.MkdirAll(filepath.Dir(inherited), 0755); err != nil {
			return "", true, fmt.Errorf("debug: create dir: %w", err)
		}
		return inherited, true, nil
	}

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false, fmt.Errorf("debug: user home dir: %w", err)
		}
		dir = filepath.Join(home, ".ccplane", "debug")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("debug: create dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("20060102T150405"), hexid.New())
	return filepath.Join(dir, name), false, nil
}

func processLabel() string {
	if p := strings.TrimSpace(os.Getenv(EnvProcess)); p != "" {
		return p
	}
	base := filepath.Base(os.Args[0])
	for _, arg := range os.Args[1:] {
		if arg = strings.TrimSpace(arg); arg != "" && !strings.HasPrefix(arg, "-") {
			return base + ":" + arg
		}
	}
	return base
}
