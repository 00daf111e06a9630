package childagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// errMissingField marks a descriptor that lacks a required field. Such
// descriptors are skipped, not reported.
var errMissingField = errors.New("missing required field")

// Candidate keys in priority order. Each key is looked up at the top level
// first and then inside the nested containers.
var (
	idKeys        = []string{"id", "jobId", "job_id", "childId", "child_id"}
	parentKeys    = []string{"parentSessionId", "parent_session_id", "parentSession", "sessionId", "session_id", "claudeSessionId", "claude_session_id"}
	handleKeys    = []string{"tmuxSession", "tmux_session", "tmuxSessionName", "tmux", "pane", "paneId", "pane_id"}
	startedKeys   = []string{"startedAt", "started_at", "createdAt", "created_at", "startTime", "start_time"}
	completedKeys = []string{"completedAt", "completed_at", "finishedAt", "finished_at", "endedAt", "ended_at", "endTime"}
	statusKeys    = []string{"status", "state"}

	containers = []string{"metadata", "meta", "job"}
)

// descriptor is a decoded job file.
type descriptor struct {
	ID              string
	ParentSessionID string
	TmuxSession     string
	StartedAt       string
	CompletedAt     string
	Status          string
}

// decodeDescriptor parses a loosely shaped job descriptor. fallbackID is
// used when the content carries no id. A JSON error is returned as is; a
// missing required field wraps errMissingField.
func decodeDescriptor(data []byte, fallbackID string) (descriptor, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return descriptor{}, err
	}
	if root == nil {
		return descriptor{}, fmt.Errorf("%w: empty descriptor", errMissingField)
	}

	d := descriptor{
		ID:              lookup(root, idKeys),
		ParentSessionID: lookup(root, parentKeys),
		TmuxSession:     lookup(root, handleKeys),
		StartedAt:       lookup(root, startedKeys),
		CompletedAt:     lookup(root, completedKeys),
		Status:          lookup(root, statusKeys),
	}
	if d.ID == "" {
		d.ID = fallbackID
	}
	switch {
	case d.ID == "":
		return d, fmt.Errorf("%w: id", errMissingField)
	case d.ParentSessionID == "":
		return d, fmt.Errorf("%w: parent session", errMissingField)
	case d.TmuxSession == "":
		return d, fmt.Errorf("%w: tmux session", errMissingField)
	case d.StartedAt == "":
		return d, fmt.Errorf("%w: started at", errMissingField)
	}
	return d, nil
}

// lookup returns the first non-empty value for keys, trying every key at
// the top level before any nested container.
func lookup(root map[string]any, keys []string) string {
	if v := firstString(root, keys); v != "" {
		return v
	}
	for _, c := range containers {
		if nested, ok := root[c].(map[string]any); ok {
			if v := firstString(nested, keys); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v := scalar(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
