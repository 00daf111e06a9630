package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/agusx1211/ccplane/internal/events"
	"github.com/agusx1211/ccplane/internal/stream"
)

type recorder struct {
	events []events.Event
}

func (r *recorder) emit(ev events.Event) { r.events = append(r.events, ev) }

func (r *recorder) kinds() []events.Kind {
	out := make([]events.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) count(k events.Kind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == k {
			n++
		}
	}
	return n
}

func newTestAdapter(r *recorder) *Adapter {
	n := 0
	return New(Options{
		Emit: r.emit,
		NewID: func() string {
			n++
			return fmt.Sprintf("think-%d", n)
		},
	})
}

// feed runs ndjson through the real parser into a.
func feed(t *testing.T, a *Adapter, ndjson string) {
	t.Helper()
	if err := a.Run(context.Background(), stream.Parse(context.Background(), strings.NewReader(ndjson))); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func equalKinds(got, want []events.Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

const streamedTurn = `{"type":"stream_event","event":{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":5,"cache_read_input_tokens":100}}}}
{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}}
{"type":"stream_event","event":{"type":"content_block_stop","index":0}}
{"type":"stream_event","event":{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hel"}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}}
{"type":"stream_event","event":{"type":"content_block_stop","index":1}}
{"type":"assistant","message":{"id":"msg_1","content":[{"type":"text","text":"Hello"}],"usage":{"input_tokens":5,"output_tokens":7,"cache_read_input_tokens":100}}}
{"type":"result","subtype":"success","total_cost_usd":0.01,"duration_ms":900,"num_turns":1,"usage":{"input_tokens":50,"output_tokens":20,"cache_read_input_tokens":300,"cache_creation_input_tokens":30}}
`

func TestStreamedTurn(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	feed(t, a, streamedTurn)

	want := []events.Kind{
		events.KindThinkingStart,
		events.KindThinkingDelta,
		events.KindThinkingComplete,
		events.KindTextDelta,
		events.KindTextDelta,
		events.KindTextComplete,
		events.KindTurnComplete,
	}
	if got := r.kinds(); !equalKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}

	if r.events[0].ThinkingID != "think-1" || r.events[2].ThinkingID != "think-1" {
		t.Fatalf("thinking ids = %q/%q", r.events[0].ThinkingID, r.events[2].ThinkingID)
	}
	if r.events[1].Text != "hmm" {
		t.Fatalf("thinking delta = %q", r.events[1].Text)
	}
	if c := r.events[5]; c.Text != "Hello" || c.MessageID != "msg_1" {
		t.Fatalf("text_complete = %+v", c)
	}

	u := r.events[6].Usage
	if u == nil {
		t.Fatal("turn_complete without usage")
	}
	if u.TotalTokens != 400 {
		t.Fatalf("TotalTokens = %d, want 400", u.TotalTokens)
	}
	if u.ContextTokens != 112 {
		t.Fatalf("ContextTokens = %d, want 112", u.ContextTokens)
	}
	if u.CostUSD != 0.01 || u.DurationMS != 900 || u.NumTurns != 1 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestTurnStateResetsAfterResult(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	feed(t, a, streamedTurn)

	// A result with nothing before it carries no message id from the
	// previous turn.
	feed(t, a, `{"type":"result","usage":{"input_tokens":1}}`+"\n")
	if last := r.events[len(r.events)-1]; last.Type != events.KindTurnComplete || last.MessageID != "" {
		t.Fatalf("empty turn = %+v, want turn_complete without message id", last)
	}

	// The next turn is non-streamed, so its consolidated text must not be
	// suppressed by the earlier turn's streamed text.
	feed(t, a, `{"type":"assistant","message":{"id":"msg_2","content":[{"type":"text","text":"Again"}]}}
{"type":"result","usage":{"input_tokens":1}}
`)
	tail := r.events[len(r.events)-3:]
	if tail[0].Type != events.KindTextDelta || tail[0].Text != "Again" || tail[1].Type != events.KindTextComplete {
		t.Fatalf("second turn events = %+v", tail)
	}
	if tail[2].Type != events.KindTurnComplete || tail[2].MessageID != "msg_2" {
		t.Fatalf("second turn_complete = %+v", tail[2])
	}
	if n := r.count(events.KindTurnComplete); n != 3 {
		t.Fatalf("turn_complete = %d, want 3", n)
	}
}

func TestCompleteEventsBalanceStarts(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	var b strings.Builder
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, `{"type":"stream_event","event":{"type":"content_block_start","index":%d,"content_block":{"type":"thinking"}}}`+"\n", 2*i)
		fmt.Fprintf(&b, `{"type":"stream_event","event":{"type":"content_block_delta","index":%d,"delta":{"type":"thinking_delta","thinking":"x"}}}`+"\n", 2*i)
		fmt.Fprintf(&b, `{"type":"stream_event","event":{"type":"content_block_stop","index":%d}}`+"\n", 2*i)
		fmt.Fprintf(&b, `{"type":"stream_event","event":{"type":"content_block_start","index":%d,"content_block":{"type":"text"}}}`+"\n", 2*i+1)
		fmt.Fprintf(&b, `{"type":"stream_event","event":{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":"y"}}}`+"\n", 2*i+1)
		fmt.Fprintf(&b, `{"type":"stream_event","event":{"type":"content_block_stop","index":%d}}`+"\n", 2*i+1)
	}
	b.WriteString(`{"type":"result"}` + "\n")
	feed(t, a, b.String())

	if s, c := r.count(events.KindThinkingStart), r.count(events.KindThinkingComplete); s != 3 || c != 3 {
		t.Fatalf("thinking start/complete = %d/%d, want 3/3", s, c)
	}
	if c := r.count(events.KindTextComplete); c != 3 {
		t.Fatalf("text_complete = %d, want 3", c)
	}
	if n := r.count(events.KindTurnComplete); n != 1 {
		t.Fatalf("turn_complete = %d, want 1", n)
	}
}

func TestNonStreamedTextEmitted(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	feed(t, a, `{"type":"assistant","message":{"id":"msg_9","content":[{"type":"text","text":"one"},{"type":"text","text":"two"}]}}`+"\n")

	want := []events.Kind{events.KindTextDelta, events.KindTextComplete, events.KindTextDelta, events.KindTextComplete}
	if got := r.kinds(); !equalKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if r.events[3].Text != "two" || r.events[3].MessageID != "msg_9" {
		t.Fatalf("last event = %+v", r.events[3])
	}
}

func TestStreamedFlagSuppressesWholeMessage(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	// Only the first block streamed, but the coarse flag suppresses both.
	feed(t, a, `{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"text"}}}
{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"first"}}}
{"type":"stream_event","event":{"type":"content_block_stop","index":0}}
{"type":"assistant","message":{"content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}}
`)
	if n := r.count(events.KindTextComplete); n != 1 {
		t.Fatalf("text_complete = %d, want 1", n)
	}
	for _, ev := range r.events {
		if ev.Text == "second" {
			t.Fatalf("unexpected emission of suppressed text: %+v", ev)
		}
	}
}

func TestToolStartAndResult(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	feed(t, a, `{"type":"assistant","message":{"id":"m","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}},{"type":"tool_use","id":"toolu_2","name":"Read","input":{}}]}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"a.go"}]}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_2","content":[{"type":"text","text":"line1"},{"type":"text","text":"line2"}],"is_error":true}]}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":{"ok":true}}]}}
`)
	want := []events.Kind{events.KindToolStart, events.KindToolStart, events.KindToolResult, events.KindToolResult, events.KindToolResult}
	if got := r.kinds(); !equalKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if s := r.events[0]; s.ToolID != "toolu_1" || s.ToolName != "Bash" || string(s.ToolInput) != `{"command":"ls"}` {
		t.Fatalf("tool_start = %+v", s)
	}
	if res := r.events[2]; res.ToolName != "Bash" || res.Result != "a.go" || res.IsError {
		t.Fatalf("first result = %+v", res)
	}
	if res := r.events[3]; res.ToolName != "Read" || res.Result != "line1\nline2" || !res.IsError {
		t.Fatalf("second result = %+v", res)
	}
	// Results are delivered at most once per invocation id.
	if res := r.events[4]; res.ToolName != "" || res.Result != `{"ok":true}` {
		t.Fatalf("repeat result = %+v", res)
	}
	if len(a.toolNames) != 0 {
		t.Fatalf("tool map not drained: %v", a.toolNames)
	}
}

func TestInitCapturesFirstSessionIDOnly(t *testing.T) {
	r := &recorder{}
	var persisted []string
	a := New(Options{
		Emit: r.emit,
		OnSessionID: func(id string) error {
			persisted = append(persisted, id)
			return errors.New("disk full")
		},
	})
	feed(t, a, `{"type":"system","subtype":"init","session_id":"abc123","tools":["Bash"],"model":"claude"}
{"type":"system","subtype":"init","session_id":"other"}
`)
	if a.SessionID() != "abc123" {
		t.Fatalf("SessionID() = %q, want abc123", a.SessionID())
	}
	if len(persisted) != 1 || persisted[0] != "abc123" {
		t.Fatalf("persisted = %v", persisted)
	}
	if n := r.count(events.KindInit); n != 2 {
		t.Fatalf("init events = %d, want 2", n)
	}
	if ev := r.events[0]; ev.SessionID != "abc123" || len(ev.Tools) != 1 || ev.Model != "claude" {
		t.Fatalf("init = %+v", ev)
	}
}

func TestCompactBoundary(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	feed(t, a, `{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"manual","pre_tokens":91000}}
{"type":"system","subtype":"compact_boundary"}
`)
	if len(r.events) != 2 || r.events[0].PreTokens != 91000 || r.events[1].PreTokens != 0 {
		t.Fatalf("events = %+v", r.events)
	}
}

func TestRunSkipsMalformedAndStopsOnReadError(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	boom := errors.New("broken pipe")
	src := io.MultiReader(strings.NewReader("garbage\n"+`{"type":"result"}`+"\n"), errReader{boom})

	err := a.Run(context.Background(), stream.Parse(context.Background(), src))
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if r.count(events.KindTurnComplete) != 1 {
		t.Fatalf("events = %v", r.kinds())
	}
}

func TestResultErrorCarriesMessage(t *testing.T) {
	r := &recorder{}
	a := newTestAdapter(r)
	feed(t, a, `{"type":"result","subtype":"error_during_execution","is_error":true,"result":"overloaded"}`+"\n")
	if ev := r.events[0]; !ev.IsError || ev.Message != "overloaded" {
		t.Fatalf("turn_complete = %+v", ev)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
