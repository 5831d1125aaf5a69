package contextwin

import (
	"fmt"
	"slices"
	"strings"
)

// Entry is one item of the unified context payload.
type Entry struct {
	Repo      string  `json:"repo"`
	Path      string  `json:"path"`
	Content   string  `json:"content,omitempty"`
	Summary   string  `json:"summary,omitempty"`
	TokenCost int     `json:"tokenCost"`
	Relevance float64 `json:"relevance"`
	Auxiliary bool    `json:"auxiliary,omitempty"`
}

// UnifiedContext is the payload handed to the language model.
type UnifiedContext struct {
	Entries       []Entry           `json:"entries"`
	SourceMapping map[string]Origin `json:"sourceMapping"`
	UsedTokens    int               `json:"usedTokens"`
	TokenBudget   int               `json:"tokenBudget"`
	State         string            `json:"state"`
}

// UnifiedContext returns the retained items ordered by (repo, path) with the
// source mapping. It runs under the read lock.
func (w *Window) UnifiedContext() UnifiedContext {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ordered := slices.Clone(w.items)
	slices.SortFunc(ordered, func(a, b *Item) int {
		switch {
		case a.ID.less(b.ID):
			return -1
		case b.ID.less(a.ID):
			return 1
		}
		return 0
	})

	uc := UnifiedContext{
		Entries:       make([]Entry, 0, len(ordered)),
		SourceMapping: make(map[string]Origin, len(w.mapping)),
		UsedTokens:    w.used,
		TokenBudget:   w.opts.TokenBudget,
		State:         w.state.String(),
	}
	for _, it := range ordered {
		e := Entry{
			Repo:      it.ID.Repo,
			Path:      it.ID.Path,
			TokenCost: it.TokenCost,
			Relevance: it.RelevanceScore,
			Auxiliary: it.Auxiliary,
		}
		if it.Content != "" {
			e.Content = it.Content
		} else {
			e.Summary = it.Summary
		}
		uc.Entries = append(uc.Entries, e)
	}
	for id, origin := range w.mapping {
		uc.SourceMapping[id.String()] = origin
	}
	return uc
}

// Render formats the payload as text, one section per entry.
func (uc UnifiedContext) Render() string {
	var b strings.Builder
	for _, e := range uc.Entries {
		fmt.Fprintf(&b, "### %s/%s\n", e.Repo, e.Path)
		text := e.Content
		if text == "" {
			text = e.Summary
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}
