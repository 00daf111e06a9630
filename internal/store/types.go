package store

import "time"

// Terminal statuses.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusIdle     = "idle"
	StatusClosed   = "closed"
	StatusDead     = "dead"
)

// IsLiveStatus reports whether a terminal in status has a process attached.
func IsLiveStatus(status string) bool {
	return status == StatusStarting || status == StatusRunning
}

// Terminal is the durable record of one supervised session slot.
type Terminal struct {
	ID string `json:"id"`
	// ProjectID is nil for the default root scope.
	ProjectID *string `json:"projectId"`
	// SessionID is the last known resumable agent session id.
	SessionID   *string      `json:"sessionId"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	Persistent  bool         `json:"persistent"`
	ChildAgents []ChildAgent `json:"childAgents"`
}

// Clone returns a deep copy.
func (t Terminal) Clone() Terminal {
	out := t
	if t.ProjectID != nil {
		v := *t.ProjectID
		out.ProjectID = &v
	}
	if t.SessionID != nil {
		v := *t.SessionID
		out.SessionID = &v
	}
	out.ChildAgents = append([]ChildAgent(nil), t.ChildAgents...)
	return out
}

// Project returns the project id, or "" for the root scope.
func (t Terminal) Project() string {
	if t.ProjectID == nil {
		return ""
	}
	return *t.ProjectID
}

// Session returns the session id, or "" when unknown.
func (t Terminal) Session() string {
	if t.SessionID == nil {
		return ""
	}
	return *t.SessionID
}

// UpsertChildAgent replaces the child with the same id in place, or appends
// it. Order of first appearance is kept.
func (t *Terminal) UpsertChildAgent(c ChildAgent) {
	for i := range t.ChildAgents {
		if t.ChildAgents[i].ID == c.ID {
			t.ChildAgents[i] = c
			return
		}
	}
	t.ChildAgents = append(t.ChildAgents, c)
}

// ChildAgent is a background job spawned from within a terminal's session.
type ChildAgent struct {
	ID              string `json:"id"`
	ParentSessionID string `json:"parentSessionId"`
	// TmuxSession is the job runner's correlation handle.
	TmuxSession string `json:"tmuxSession"`
	Status      string `json:"status"`
	StartedAt   string `json:"startedAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// terminalsFile is the on-disk layout of terminals.json.
type terminalsFile struct {
	Version   int        `json:"version"`
	Terminals []Terminal `json:"terminals"`
}

// sessionRecord is the on-disk layout of a per-terminal session file.
type sessionRecord struct {
	SessionID string `json:"sessionId"`
}
