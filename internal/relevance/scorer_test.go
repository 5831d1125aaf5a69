package relevance

import (
	"reflect"
	"testing"
)

func TestTerms(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"createInvoice", []string{"createinvoice", "create", "invoice"}},
		{"create_invoice(total)", []string{"createinvoice", "create", "invoice", "total"}},
		{"parseHTTPRequest", []string{"parsehttprequest", "parse", "http", "request"}},
		{"How is the invoice built?", []string{"invoice", "built"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := Terms(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Terms(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCoverage_MonotonicInOverlap(t *testing.T) {
	query := "invoice total refund"
	texts := []string{
		"unrelated content",
		"func createInvoice()",
		"func createInvoice() { total := 0 }",
		"func createInvoice() { total := refund() }",
	}
	prev := -1.0
	for _, text := range texts {
		got := Coverage(query, text)
		if got < prev {
			t.Errorf("Coverage decreased to %v for %q", got, text)
		}
		prev = got
	}
	if prev != 1 {
		t.Errorf("full coverage = %v, want 1", prev)
	}
	if Coverage("", "anything") != 0 {
		t.Error("empty query should score 0")
	}
}

func TestScorer_CachesByHash(t *testing.T) {
	s := NewScorer(DefaultOptions())

	a := s.Score("invoice", "type Invoice struct{}")
	b := s.Score("invoice", "type Invoice struct{}")
	if a != b || a != 1 {
		t.Errorf("scores = %v, %v, want 1", a, b)
	}
	st := s.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("Stats = %+v, want 1 hit, 1 miss, 1 entry", st)
	}
}

func TestScorer_CacheBounded(t *testing.T) {
	s := NewScorer(Options{CacheEntries: 2})
	for _, text := range []string{"a1", "b2", "c3"} {
		s.Score("q", text)
	}
	if got := s.Stats().Entries; got != 2 {
		t.Errorf("Entries = %d, want 2", got)
	}
}

func TestScoreWindow_StructuralBoost(t *testing.T) {
	s := NewScorer(DefaultOptions())
	texts := []string{
		"func createInvoice() { computeTax() }", // scores highly
		"func computeTax() float64",             // dependency of item 0
		"func unrelated()",                      // not a dependency
	}
	deps := func(dep, of int) bool { return of == 0 && dep == 1 }

	scores := s.ScoreWindow("create invoice", texts, deps)
	if scores[0] != 1 {
		t.Errorf("scores[0] = %v, want 1", scores[0])
	}
	if scores[1] != DefaultStructuralBoost {
		t.Errorf("scores[1] = %v, want boost %v", scores[1], DefaultStructuralBoost)
	}
	if scores[2] != 0 {
		t.Errorf("scores[2] = %v, want 0", scores[2])
	}

	// The boost is additive and clamped.
	clamped := s.ScoreWindow("create invoice", []string{texts[0], texts[0]}, func(dep, of int) bool { return true })
	if clamped[0] != 1 || clamped[1] != 1 {
		t.Errorf("clamped = %v, want [1 1]", clamped)
	}
}

func TestScoreWindow_NoBoostBelowThreshold(t *testing.T) {
	s := NewScorer(Options{HighScoreThreshold: 0.9, StructuralBoost: 0.2})
	texts := []string{"invoice", "tax"}
	scores := s.ScoreWindow("invoice refund", texts, func(dep, of int) bool { return dep == 1 && of == 0 })
	if scores[1] != 0 {
		t.Errorf("dependency of a low scoring item got %v, want 0", scores[1])
	}
}
