package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
)

const maxLineSize = 4 * 1024 * 1024

// Parse reads NDJSON lines from r and sends parsed events on the returned
// channel. A line that fails to decode is delivered with Err set and Raw
// populated; a read error is delivered with Raw nil and ends the stream.
// The channel is closed at EOF or when ctx is cancelled.
func Parse(ctx context.Context, r io.Reader) <-chan RawEvent {
	ch := make(chan RawEvent, 64)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			raw := make([]byte, len(line))
			copy(raw, line)

			ev := RawEvent{Raw: raw}
			if err := json.Unmarshal(raw, &ev.Parsed); err != nil {
				ev.Err = err
			}
			if !send(ctx, ch, ev) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(ctx, ch, RawEvent{Err: err})
		}
	}()
	return ch
}

func send(ctx context.Context, ch chan<- RawEvent, ev RawEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
