// Package events defines the structured events a session emits and the
// envelopes the registry fans out to subscribers.
package events

import "encoding/json"

// Kind tags an Event.
type Kind string

const (
	KindInit             Kind = "init"
	KindTextDelta        Kind = "text_delta"
	KindTextComplete     Kind = "text_complete"
	KindToolStart        Kind = "tool_start"
	KindToolResult       Kind = "tool_result"
	KindThinkingStart    Kind = "thinking_start"
	KindThinkingDelta    Kind = "thinking_delta"
	KindThinkingComplete Kind = "thinking_complete"
	KindTurnComplete     Kind = "turn_complete"
	KindCompactComplete  Kind = "compact_complete"
	KindError            Kind = "error"
)

// Event is one structured session event. Only the fields relevant to Type
// are set.
type Event struct {
	Type Kind `json:"type"`

	SessionID string   `json:"sessionId,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`

	MessageID  string `json:"messageId,omitempty"`
	Text       string `json:"text,omitempty"`
	ThinkingID string `json:"thinkingId,omitempty"`

	ToolID    string          `json:"toolId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"isError,omitempty"`

	Usage     *TurnUsage `json:"usage,omitempty"`
	PreTokens int        `json:"preTokens,omitempty"`

	Message string `json:"message,omitempty"`
}

// TurnUsage summarizes a completed turn.
type TurnUsage struct {
	TotalTokens   int     `json:"totalTokens"`
	ContextTokens int     `json:"contextTokens"`
	InputTokens   int     `json:"inputTokens"`
	OutputTokens  int     `json:"outputTokens"`
	CacheRead     int     `json:"cacheReadTokens"`
	CacheCreation int     `json:"cacheCreationTokens"`
	CostUSD       float64 `json:"costUsd"`
	DurationMS    float64 `json:"durationMs"`
	NumTurns      int     `json:"numTurns"`
}

// Error returns an error event.
func Error(msg string) Event {
	return Event{Type: KindError, Message: msg}
}

// TerminalEvent is a session event tagged with the terminal it came from.
type TerminalEvent struct {
	TerminalID string `json:"terminalId"`
	Event      Event  `json:"event"`
}

// Transition is a child-agent lifecycle change.
type Transition string

const (
	TransitionStarted   Transition = "started"
	TransitionCompleted Transition = "completed"
	TransitionFailed    Transition = "failed"
)

// ChildAgent is the published view of a background job.
type ChildAgent struct {
	ID              string `json:"id"`
	ParentSessionID string `json:"parentSessionId"`
	TmuxSession     string `json:"tmuxSession"`
	Status          string `json:"status"`
	StartedAt       string `json:"startedAt"`
	CompletedAt     string `json:"completedAt,omitempty"`
}

// ChildAgentEvent reports a child-agent transition. TerminalID is empty
// when no terminal owns the parent session.
type ChildAgentEvent struct {
	ParentSessionID string     `json:"parentSessionId"`
	TerminalID      string     `json:"terminalId,omitempty"`
	ChildAgent      ChildAgent `json:"childAgent"`
	Transition      Transition `json:"transition"`
}
