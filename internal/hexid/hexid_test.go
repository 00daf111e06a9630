package hexid

import (
	"regexp"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("expected 8 lowercase hex chars, got %q", id)
	}
	if !Valid(id) {
		t.Fatalf("Valid(%q) = false", id)
	}
}

func TestNewUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate ID after %d iterations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestValid(t *testing.T) {
	tests := map[string]bool{
		"ab12cd34":  true,
		"AB12CD34":  false,
		"ab12cd3":   false,
		"ab12cd345": false,
		"ab12cd3g":  false,
		"":          false,
		"../etc/pw": false,
	}
	for in, want := range tests {
		if got := Valid(in); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}
