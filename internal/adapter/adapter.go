// Package adapter turns the raw Claude stream-json feed of one agent process
// into structured session events.
//
// The feed interleaves partial API stream events with consolidated messages
// that repeat what was already streamed. The adapter keeps the small amount
// of per-turn state needed to emit every piece of content exactly once and
// to account for usage when the turn completes.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/events"
	"github.com/agusx1211/ccplane/internal/stream"
)

// Options configures an Adapter.
type Options struct {
	// Emit receives every structured event in feed order. Required.
	Emit func(events.Event)
	// OnSessionID is called once, when the first init reports a session id.
	OnSessionID func(id string) error
	// NewID mints thinking-block ids. Defaults to uuid.NewString.
	NewID func() string
	// Label tags log lines (usually the terminal id).
	Label string
}

// Adapter is the per-session protocol state machine. It is not safe for
// concurrent use; one goroutine drives it via Run or Handle.
type Adapter struct {
	opts Options

	sessionID string
	turn      turnState
	toolNames map[string]string
	// lastUsage is the usage of the most recent assistant message. It
	// approximates what currently occupies the context window and is kept
	// across turns.
	lastUsage stream.Usage
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockOther
)

type turnState struct {
	messageID     string
	blockIndex    int
	streamed      bool
	openBlock     blockKind
	text          strings.Builder
	thinkingID    string
	thinkingIndex int
}

// New returns an Adapter.
func New(opts Options) *Adapter {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Emit == nil {
		opts.Emit = func(events.Event) {}
	}
	a := &Adapter{opts: opts, toolNames: make(map[string]string)}
	a.resetTurn()
	return a
}

// SessionID returns the captured session id, or "" before init.
func (a *Adapter) SessionID() string {
	return a.sessionID
}

// Run drives the adapter from a parsed feed until the feed ends or ctx is
// done. Undecodable lines are logged and skipped. A read error ends the run
// and is returned; a clean end of feed returns nil.
func (a *Adapter) Run(ctx context.Context, feed <-chan stream.RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			if ev.Fatal() {
				return fmt.Errorf("reading agent output: %w", ev.Err)
			}
			if ev.Err != nil {
				debug.LogKV("adapter", "skipping malformed line", "label", a.opts.Label, "error", ev.Err, "bytes", len(ev.Raw))
				continue
			}
			a.Handle(ev.Parsed)
		}
	}
}

// Handle applies one feed event.
func (a *Adapter) Handle(ev stream.ClaudeEvent) {
	switch ev.Type {
	case "system":
		a.handleSystem(ev)
	case "assistant":
		a.handleAssistant(ev.Message)
	case "stream_event":
		a.handlePartial(ev.Event)
	case "user":
		a.handleUser(ev.Message)
	case "result":
		a.handleResult(ev)
	default:
		debug.LogKV("adapter", "ignoring event", "label", a.opts.Label, "type", ev.Type, "subtype", ev.Subtype)
	}
}

func (a *Adapter) handleSystem(ev stream.ClaudeEvent) {
	switch ev.Subtype {
	case "init":
		if a.sessionID == "" && ev.SessionID != "" {
			a.sessionID = ev.SessionID
			debug.LogKV("adapter", "session id captured", "label", a.opts.Label, "session_id", ev.SessionID)
			if a.opts.OnSessionID != nil {
				if err := a.opts.OnSessionID(ev.SessionID); err != nil {
					debug.LogKV("adapter", "persisting session id failed", "label", a.opts.Label, "error", err)
				}
			}
		}
		a.opts.Emit(events.Event{
			Type:      events.KindInit,
			SessionID: ev.SessionID,
			Model:     ev.Model,
			Tools:     ev.Tools,
		})
	case "compact_boundary":
		out := events.Event{Type: events.KindCompactComplete}
		if ev.CompactMetadata != nil {
			out.PreTokens = ev.CompactMetadata.PreTokens
		}
		a.opts.Emit(out)
	default:
		debug.LogKV("adapter", "ignoring system event", "label", a.opts.Label, "subtype", ev.Subtype)
	}
}

func (a *Adapter) handleAssistant(msg *stream.Message) {
	if msg == nil {
		return
	}
	if msg.ID != "" {
		a.turn.messageID = msg.ID
	}
	if msg.Usage != nil {
		a.lastUsage = *msg.Usage
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			// Any streamed text this turn means the consolidated message is
			// a repeat.
			if a.turn.streamed || block.Text == "" {
				continue
			}
			a.opts.Emit(events.Event{Type: events.KindTextDelta, MessageID: a.turn.messageID, Text: block.Text})
			a.opts.Emit(events.Event{Type: events.KindTextComplete, MessageID: a.turn.messageID, Text: block.Text})
		case "tool_use":
			a.toolNames[block.ID] = block.Name
			a.opts.Emit(events.Event{
				Type:      events.KindToolStart,
				MessageID: a.turn.messageID,
				ToolID:    block.ID,
				ToolName:  block.Name,
				ToolInput: block.Input,
			})
		}
	}
}

func (a *Adapter) handlePartial(ev *stream.StreamEvent) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			if ev.Message.ID != "" {
				a.turn.messageID = ev.Message.ID
			}
			if ev.Message.Usage != nil {
				a.lastUsage = *ev.Message.Usage
			}
		}
	case "message_delta":
		if ev.Usage != nil && ev.Usage.OutputTokens > 0 {
			a.lastUsage.OutputTokens = ev.Usage.OutputTokens
		}
	case "content_block_start":
		a.turn.blockIndex = ev.Index
		a.turn.text.Reset()
		kind := ""
		if ev.ContentBlock != nil {
			kind = ev.ContentBlock.Type
		}
		switch kind {
		case "thinking":
			a.turn.openBlock = blockThinking
			a.turn.thinkingID = a.opts.NewID()
			a.turn.thinkingIndex = ev.Index
			a.opts.Emit(events.Event{Type: events.KindThinkingStart, MessageID: a.turn.messageID, ThinkingID: a.turn.thinkingID})
		case "text":
			a.turn.openBlock = blockText
		default:
			a.turn.openBlock = blockOther
		}
	case "content_block_delta":
		if ev.Delta == nil {
			return
		}
		switch ev.Delta.Type {
		case "text_delta":
			a.turn.streamed = true
			a.turn.text.WriteString(ev.Delta.Text)
			a.opts.Emit(events.Event{Type: events.KindTextDelta, MessageID: a.turn.messageID, Text: ev.Delta.Text})
		case "thinking_delta":
			a.opts.Emit(events.Event{Type: events.KindThinkingDelta, MessageID: a.turn.messageID, ThinkingID: a.turn.thinkingID, Text: ev.Delta.Thinking})
		}
	case "content_block_stop":
		// A minted thinking id stays set until its own block stops, so it
		// must be checked before the text branch.
		switch {
		case a.turn.thinkingID != "" && ev.Index == a.turn.thinkingIndex:
			a.opts.Emit(events.Event{Type: events.KindThinkingComplete, MessageID: a.turn.messageID, ThinkingID: a.turn.thinkingID})
			a.turn.thinkingID = ""
		case a.turn.openBlock == blockText:
			a.opts.Emit(events.Event{Type: events.KindTextComplete, MessageID: a.turn.messageID, Text: a.turn.text.String()})
		}
		a.turn.openBlock = blockNone
		a.turn.text.Reset()
	}
}

func (a *Adapter) handleUser(msg *stream.Message) {
	if msg == nil {
		return
	}
	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			continue
		}
		name, ok := a.toolNames[block.ToolUseID]
		if ok {
			delete(a.toolNames, block.ToolUseID)
		} else {
			debug.LogKV("adapter", "tool result for unknown invocation", "label", a.opts.Label, "tool_id", block.ToolUseID)
		}
		a.opts.Emit(events.Event{
			Type:     events.KindToolResult,
			ToolID:   block.ToolUseID,
			ToolName: name,
			Result:   normalizeToolResult(block.Content),
			IsError:  block.IsError,
		})
	}
}

func (a *Adapter) handleResult(ev stream.ClaudeEvent) {
	usage := &events.TurnUsage{
		TotalTokens:   ev.Usage.Total(),
		ContextTokens: a.lastUsage.Total(),
		CostUSD:       ev.TotalCostUSD,
		DurationMS:    ev.DurationMS,
		NumTurns:      ev.NumTurns,
	}
	if ev.Usage != nil {
		usage.InputTokens = ev.Usage.InputTokens
		usage.OutputTokens = ev.Usage.OutputTokens
		usage.CacheRead = ev.Usage.CacheReadInputTokens
		usage.CacheCreation = ev.Usage.CacheCreationInputTokens
	}
	out := events.Event{
		Type:      events.KindTurnComplete,
		MessageID: a.turn.messageID,
		Usage:     usage,
		IsError:   ev.IsError,
	}
	if ev.IsError {
		out.Message = ev.ResultText
	}
	a.opts.Emit(out)
	a.resetTurn()
}

func (a *Adapter) resetTurn() {
	a.turn.messageID = ""
	a.turn.blockIndex = -1
	a.turn.streamed = false
	a.turn.openBlock = blockNone
	a.turn.text.Reset()
	a.turn.thinkingID = ""
	a.turn.thinkingIndex = -1
}

// normalizeToolResult renders tool_result content as text. Strings are kept,
// lists of text blocks are joined, anything else is returned as JSON.
func normalizeToolResult(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		allText := true
		for _, b := range blocks {
			if b.Type != "text" {
				allText = false
				break
			}
			parts = append(parts, b.Text)
		}
		if allText {
			return strings.Join(parts, "\n")
		}
	}
	return string(raw)
}
