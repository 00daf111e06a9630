package stream

import "encoding/json"

// RawEvent holds both the raw NDJSON line and the parsed event.
type RawEvent struct {
	Raw    []byte
	Parsed ClaudeEvent
	Err    error
}

// Fatal reports whether the event carries a read error rather than a line
// that failed to decode. Read errors end the stream.
func (r RawEvent) Fatal() bool {
	return r.Err != nil && r.Raw == nil
}

// ClaudeEvent is the top-level structure for a Claude stream-json event.
type ClaudeEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// system/init
	SessionID string   `json:"session_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`

	// system/compact_boundary
	CompactMetadata *CompactMetadata `json:"compact_metadata,omitempty"`

	// assistant and user events: the full message payload
	Message *Message `json:"message,omitempty"`

	// stream_event: a partial-message event from the model API
	Event *StreamEvent `json:"event,omitempty"`

	// result
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	DurationMS   float64 `json:"duration_ms,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	ResultText   string  `json:"result,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
}

// CompactMetadata is attached to system/compact_boundary events.
type CompactMetadata struct {
	Trigger   string `json:"trigger,omitempty"`
	PreTokens int    `json:"pre_tokens,omitempty"`
}

// Message is the payload of "assistant" and "user" events.
type Message struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// UnmarshalJSON accepts user messages whose content is a bare string.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var aux struct {
		plain
		Content json.RawMessage `json:"content,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Message(aux.plain)
	m.Content = nil
	if len(aux.Content) == 0 || string(aux.Content) == "null" {
		return nil
	}
	if aux.Content[0] == '"' {
		var s string
		if err := json.Unmarshal(aux.Content, &s); err != nil {
			return err
		}
		m.Content = []ContentBlock{{Type: "text", Text: s}}
		return nil
	}
	return json.Unmarshal(aux.Content, &m.Content)
}

// StreamEvent wraps the raw API streaming events (message_start,
// content_block_start/delta/stop, message_delta, message_stop).
type StreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
}

// ContentBlock represents a content block within a message.
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	ID       string          `json:"id,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`

	// tool_result blocks inside user messages
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Delta represents incremental updates within a content block.
type Delta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Usage holds token usage information.
type Usage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// Total is the sum of all token counters.
func (u *Usage) Total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}
