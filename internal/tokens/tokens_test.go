package tokens

import (
	"errors"
	"testing"

	"github.com/pkoukk/tiktoken-go"
)

func TestHeuristic_Count(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"func Invoice() {}", 5},
	}
	for _, tt := range tests {
		if got := (Heuristic{}).Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestNew_Heuristic(t *testing.T) {
	for _, name := range []string{"", "heuristic", " heuristic "} {
		if got := New(name, nil).Name(); got != HeuristicEncoding {
			t.Errorf("New(%q).Name() = %q, want heuristic", name, got)
		}
	}
}

func TestNew_FallsBackWhenEncodingUnavailable(t *testing.T) {
	orig := loadEncoding
	defer func() { loadEncoding = orig }()
	loadEncoding = func(string) (*tiktoken.Tiktoken, error) {
		return nil, errors.New("offline")
	}

	est := New("o200k_base", nil)
	if _, ok := est.(Heuristic); !ok {
		t.Fatalf("New returned %T, want Heuristic fallback", est)
	}
}
