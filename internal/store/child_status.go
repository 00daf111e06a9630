package store

import "strings"

const (
	ChildStatusRunning  = "running"
	ChildStatusComplete = "complete"
	ChildStatusFailed   = "failed"
)

// NormalizeChildStatus maps a job runner status onto running, complete or
// failed. ok is false when raw is not a recognized spelling, in which case
// ChildStatusRunning is returned.
func NormalizeChildStatus(raw string) (status string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "started", "active", "in_progress", "in-progress", "pending", "queued":
		return ChildStatusRunning, true
	case "complete", "completed", "done", "success", "succeeded", "finished":
		return ChildStatusComplete, true
	case "failed", "failure", "error", "errored", "cancelled", "canceled", "killed", "timeout", "timed_out":
		return ChildStatusFailed, true
	default:
		return ChildStatusRunning, false
	}
}

// IsFinalChildStatus reports whether status ends a child's lifecycle.
func IsFinalChildStatus(status string) bool {
	return status == ChildStatusComplete || status == ChildStatusFailed
}
