package childagent

import (
	"errors"
	"testing"
)

func TestDecodeDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    descriptor
		wantErr bool
		missing bool
	}{
		{
			name: "canonical",
			json: `{"id":"job1","parentSessionId":"abc123","tmuxSession":"ccp-1","status":"running","startedAt":"t0"}`,
			want: descriptor{ID: "job1", ParentSessionID: "abc123", TmuxSession: "ccp-1", StartedAt: "t0", Status: "running"},
		},
		{
			name: "snake case and fallback id",
			json: `{"session_id":"abc","tmux_session":"p1","started_at":1700000000,"state":"done","completed_at":"t9"}`,
			want: descriptor{ID: "file-stem", ParentSessionID: "abc", TmuxSession: "p1", StartedAt: "1700000000", CompletedAt: "t9", Status: "done"},
		},
		{
			name: "nested metadata",
			json: `{"jobId":"j2","metadata":{"parentSessionId":"abc","pane":"%3"},"meta":{"startTime":"t1"}}`,
			want: descriptor{ID: "j2", ParentSessionID: "abc", TmuxSession: "%3", StartedAt: "t1"},
		},
		{
			name: "top level wins over nested",
			json: `{"id":"j3","parentSessionId":"top","metadata":{"parentSessionId":"nested"},"tmuxSession":"x","startedAt":"t"}`,
			want: descriptor{ID: "j3", ParentSessionID: "top", TmuxSession: "x", StartedAt: "t"},
		},
		{
			name: "empty string falls through to next key",
			json: `{"id":"j4","parentSessionId":"","sessionId":"s","tmuxSession":"x","startedAt":"t"}`,
			want: descriptor{ID: "j4", ParentSessionID: "s", TmuxSession: "x", StartedAt: "t"},
		},
		{name: "missing parent", json: `{"id":"j","tmuxSession":"x","startedAt":"t"}`, wantErr: true, missing: true},
		{name: "missing handle", json: `{"id":"j","parentSessionId":"p","startedAt":"t"}`, wantErr: true, missing: true},
		{name: "missing start", json: `{"id":"j","parentSessionId":"p","tmuxSession":"x"}`, wantErr: true, missing: true},
		{name: "malformed", json: `{"id":`, wantErr: true},
		{name: "not an object", json: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeDescriptor([]byte(tt.json), "file-stem")
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeDescriptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if errors.Is(err, errMissingField) != tt.missing {
					t.Fatalf("errMissingField = %v, want %v (err %v)", errors.Is(err, errMissingField), tt.missing, err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("decodeDescriptor() = %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestDeriveTransition(t *testing.T) {
	tests := []struct {
		prev, next string
		want       string
	}{
		{"", "running", "started"},
		{"running", "running", ""},
		{"running", "complete", "completed"},
		{"running", "failed", "failed"},
		{"", "complete", "completed"},
		{"complete", "complete", ""},
		{"complete", "failed", ""},
		{"failed", "running", "started"},
	}
	for _, tt := range tests {
		if got := string(deriveTransition(tt.prev, tt.next)); got != tt.want {
			t.Errorf("deriveTransition(%q, %q) = %q, want %q", tt.prev, tt.next, got, tt.want)
		}
	}
}
