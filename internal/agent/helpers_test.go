package agent

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestExtractExitCode(t *testing.T) {
	if code, err := extractExitCode(nil); code != 0 || err != nil {
		t.Fatalf("extractExitCode(nil) = %d, %v", code, err)
	}

	other := errors.New("boom")
	if code, err := extractExitCode(other); code != 0 || !errors.Is(err, other) {
		t.Fatalf("extractExitCode(other) = %d, %v", code, err)
	}

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	runErr := exec.Command("sh", "-c", "exit 3").Run()
	if code, err := extractExitCode(runErr); code != 3 || err != nil {
		t.Fatalf("extractExitCode(exit 3) = %d, %v", code, err)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := newTailBuffer(8)
	tb.Write([]byte("0123456789"))
	tb.Write([]byte("ab"))
	if got := tb.Text(); got != "456789ab" {
		t.Fatalf("Text() = %q, want %q", got, "456789ab")
	}
}

func TestTailBufferStripsANSI(t *testing.T) {
	tb := newTailBuffer(stderrTailSize)
	tb.Write([]byte("\x1b[31mError:\x1b[0m invalid api key\n"))
	if got := tb.Text(); got != "Error: invalid api key" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestExitErrorMessage(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &ExitError{Code: 1, Stderr: "invalid api key", Err: inner}
	if !strings.Contains(err.Error(), "code 1") || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Fatal("ExitError should unwrap to the wait error")
	}
}
