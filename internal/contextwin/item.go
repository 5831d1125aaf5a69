// Package contextwin assembles a token-bounded window of context items.
package contextwin

import (
	"math"

	"xrepo/internal/graph"
)

// ItemID identifies a context item by repository and repo-relative path.
type ItemID struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
}

func (id ItemID) String() string {
	return id.Repo + "/" + id.Path
}

func (id ItemID) less(o ItemID) bool {
	if id.Repo != o.Repo {
		return id.Repo < o.Repo
	}
	return id.Path < o.Path
}

// Item is a unit of content eligible for the window.
type Item struct {
	ID             ItemID
	Content        string
	Summary        string
	TokenCost      int
	Priority       int
	RelevanceScore float64
	// Auxiliary items are pulled in by dependency closure and evicted first.
	Auxiliary bool
	AddedSeq  uint64
	// Symbols are the graph nodes the item covers.
	Symbols []graph.NodeID
	// Origin is where the content came from.
	Origin Origin
}

// Text returns the content, or the summary when no content is held.
func (it *Item) Text() string {
	if it.Content != "" {
		return it.Content
	}
	return it.Summary
}

// Origin locates the source of an item.
type Origin struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
	// Via names the item whose dependency closure added this one.
	Via string `json:"via,omitempty"`
}

// State is the window lifecycle state.
type State int

const (
	StateEmpty State = iota
	StatePopulating
	StateOptimized
	// StateExhausted means the last candidate did not fit the remaining budget.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePopulating:
		return "populating"
	case StateOptimized:
		return "optimized"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// BudgetShares splits a token budget between the active repository, the other
// repositories and cross-repository integration notes.
type BudgetShares struct {
	Primary    float64 `json:"primary"`
	Secondary  float64 `json:"secondary"`
	CrossLinks float64 `json:"crossLinks"`
}

// DefaultBudgetShares returns the 60/30/10 split.
func DefaultBudgetShares() BudgetShares {
	return BudgetShares{Primary: 0.6, Secondary: 0.3, CrossLinks: 0.1}
}

// Split divides total by the shares. Rounding remainders go to the primary share
// so the parts always sum to total.
func (b BudgetShares) Split(total int) (primary, secondary, crossLinks int) {
	sum := b.Primary + b.Secondary + b.CrossLinks
	if sum <= 0 || total <= 0 {
		return max(total, 0), 0, 0
	}
	secondary = int(math.Round(float64(total) * b.Secondary / sum))
	crossLinks = int(math.Round(float64(total) * b.CrossLinks / sum))
	primary = total - secondary - crossLinks
	return primary, secondary, crossLinks
}
