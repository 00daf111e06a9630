package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agusx1211/ccplane/internal/buildinfo"
	"github.com/agusx1211/ccplane/internal/config"
	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/store"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(debug.EnvEnabled, "0")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("data_dir: "+dataDir+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func strPtr(s string) *string { return &s }

func TestRootHasCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "ls", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (err %v)", name, err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "ccplane ") {
		t.Fatalf("output = %q", out)
	}

	out, err = runCLI(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var info buildinfo.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info.Version == "" || info.GoVersion == "" {
		t.Fatalf("info = %+v", info)
	}
}

func TestLsEmpty(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	out, err := runCLI(t, "ls", "--config", cfg)
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if strings.TrimSpace(out) != "No terminals." {
		t.Fatalf("output = %q", out)
	}
}

func TestLsListsPersistedTerminals(t *testing.T) {
	dataDir := t.TempDir()
	s := store.New(dataDir)
	created := time.Now().Add(-2 * time.Hour)
	terminals := []store.Terminal{
		{ID: "aaaa1111", Status: store.StatusClosed, SessionID: strPtr("sess-1"), CreatedAt: created, Persistent: true,
			ChildAgents: []store.ChildAgent{{ID: "job1", Status: store.ChildStatusComplete, TmuxSession: "ccp-1"}}},
		{ID: "bbbb2222", Status: store.StatusDead, ProjectID: strPtr("web"), CreatedAt: created.Add(time.Minute), Persistent: true},
	}
	if err := s.SaveTerminals(terminals); err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, dataDir)

	out, err := runCLI(t, "ls", "--config", cfg, "--children")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %q", lines)
	}
	for _, want := range []string{"ID", "aaaa1111", "job1", "bbbb2222"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(lines[1], "sess-1") || !strings.Contains(lines[1], "2h") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.Contains(lines[3], "web") || !strings.Contains(lines[3], "dead") {
		t.Errorf("second row = %q", lines[3])
	}

	out, err = runCLI(t, "ls", "--config", cfg, "--json")
	if err != nil {
		t.Fatalf("ls --json: %v", err)
	}
	var got []store.Terminal
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "aaaa1111" {
		t.Fatalf("json terminals = %+v", got)
	}
}

func TestLsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "ls", "--config", path); err == nil {
		t.Fatal("expected config error")
	}
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--port", "9999", "--mdns", "--auth-token", "tok"}); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 7433}}
	applyServeFlags(cmd, cfg)

	if cfg.Server.Port != 9999 || !cfg.Server.MDNS || cfg.Server.AuthToken != "tok" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("unset --host changed host to %q", cfg.Server.Host)
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := formatAge(tt.d); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPrintQRCode(t *testing.T) {
	var buf bytes.Buffer
	if err := printQRCode(&buf, "http://127.0.0.1:7433"); err != nil {
		t.Fatalf("printQRCode: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("empty QR output")
	}
}
