package contextwin

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/slogutil"
	"xrepo/internal/tokens"
)

// Scorer rescores the window's items for a query.
type Scorer interface {
	ScoreWindow(query string, texts []string, isDependency func(dep, of int) bool) []float64
}

// DependencySource answers graph dependency queries. *graph.Graph satisfies it.
type DependencySource interface {
	Dependencies(id graph.NodeID, hops int) []graph.NodeID
	Node(id graph.NodeID) (graph.Node, bool)
}

// Options configures a Window.
type Options struct {
	TokenBudget int
	// DependencyHops bounds dependency closure; 0 disables it.
	DependencyHops int
	// AuxiliaryPriority is the synthetic priority of closure items.
	AuxiliaryPriority int
}

// DefaultOptions returns the default window options.
func DefaultOptions() Options {
	return Options{TokenBudget: 8000, DependencyHops: 1, AuxiliaryPriority: 0}
}

// Window is the context window manager. Add and Optimize take the write lock;
// UnifiedContext and the accessors share the read lock.
type Window struct {
	mu      sync.RWMutex
	opts    Options
	used    int
	items   []*Item
	index   map[ItemID]int
	mapping map[ItemID]Origin
	seq     uint64
	state   State

	lastQuery string

	scorer    Scorer
	deps      DependencySource
	estimator tokens.Estimator
	logger    *slog.Logger
}

// New creates a window. deps may be nil, which disables dependency closure and
// the structural boost.
func New(opts Options, scorer Scorer, deps DependencySource, estimator tokens.Estimator, logger *slog.Logger) (*Window, error) {
	if opts.TokenBudget <= 0 {
		return nil, errors.Newf(errors.ConfigurationError, "token budget must be positive, got %d", opts.TokenBudget)
	}
	if opts.DependencyHops < 0 {
		return nil, errors.Newf(errors.ConfigurationError, "dependency hop limit cannot be negative, got %d", opts.DependencyHops)
	}
	if estimator == nil {
		estimator = tokens.Heuristic{}
	}
	return &Window{
		opts:      opts,
		index:     make(map[ItemID]int),
		mapping:   make(map[ItemID]Origin),
		scorer:    scorer,
		deps:      deps,
		estimator: estimator,
		logger:    slogutil.OrDiscard(logger),
	}, nil
}

// Add appends an item at the given priority. It returns false without touching
// the window when the item's cost exceeds the remaining budget. An item with an
// ID already in the window replaces it, charging only the cost difference.
func (w *Window) Add(item Item, priority int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if item.TokenCost < 0 {
		return false
	}
	prev, exists := w.index[item.ID]
	delta := item.TokenCost
	if exists {
		delta -= w.items[prev].TokenCost
	}
	if delta > w.opts.TokenBudget-w.used {
		return false
	}

	w.seq++
	it := item
	it.Priority = priority
	it.AddedSeq = w.seq
	it.Symbols = slices.Clone(item.Symbols)
	if it.Origin == (Origin{}) {
		it.Origin = Origin{Repo: it.ID.Repo, Path: it.ID.Path}
	}

	if exists {
		w.items[prev] = &it
	} else {
		w.index[it.ID] = len(w.items)
		w.items = append(w.items, &it)
	}
	w.used += delta
	w.mapping[it.ID] = it.Origin
	w.state = StatePopulating
	if w.used == w.opts.TokenBudget {
		w.state = StateExhausted
	}
	return true
}

// Remove deletes an item. It reports whether the item was present.
func (w *Window) Remove(id ItemID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	i, ok := w.index[id]
	if !ok {
		return false
	}
	w.used -= w.items[i].TokenCost
	w.items = slices.Delete(w.items, i, i+1)
	delete(w.mapping, id)
	w.reindex()
	w.state = StatePopulating
	if len(w.items) == 0 {
		w.state = StateEmpty
	}
	return true
}

// Clear drops every item.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = nil
	w.used = 0
	w.index = make(map[ItemID]int)
	w.mapping = make(map[ItemID]Origin)
	w.state = StateEmpty
}

// SetBudget changes the token budget and re-runs Optimize with the last query,
// so the budget invariant holds on return.
func (w *Window) SetBudget(budget int) error {
	if budget <= 0 {
		return errors.Newf(errors.ConfigurationError, "token budget must be positive, got %d", budget)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.opts.TokenBudget = budget
	w.optimize(w.lastQuery)
	return nil
}

// Optimize rescores every item for query, orders the window by priority then
// relevance, evicts from the tail until the budget holds and finally pulls in
// the dependencies of retained items as auxiliary items while budget remains.
// Calling it twice with the same query and no change in between retains the
// same items.
func (w *Window) Optimize(query string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.optimize(query)
}

func (w *Window) optimize(query string) {
	w.lastQuery = query
	w.rescore(query)
	w.sortItems()

	evicted := 0
	for w.used > w.opts.TokenBudget && len(w.items) > 0 {
		last := w.items[len(w.items)-1]
		w.items = w.items[:len(w.items)-1]
		w.used -= last.TokenCost
		delete(w.mapping, last.ID)
		evicted++
	}
	w.dropOrphans()
	w.reindex()

	exhausted := w.closeDependencies(query)

	switch {
	case len(w.items) == 0:
		w.state = StateEmpty
	case exhausted || w.used == w.opts.TokenBudget:
		w.state = StateExhausted
	default:
		w.state = StateOptimized
	}

	w.logger.Debug("Context window optimized",
		"items", len(w.items),
		"usedTokens", w.used,
		"tokenBudget", w.opts.TokenBudget,
		"evicted", evicted,
		"state", w.state.String(),
	)
}

func (w *Window) rescore(query string) {
	if w.scorer == nil || len(w.items) == 0 {
		return
	}
	texts := make([]string, len(w.items))
	for i, it := range w.items {
		texts[i] = it.ID.Path + "\n" + it.Text()
	}
	scores := w.scorer.ScoreWindow(query, texts, w.isDependency)
	for i, it := range w.items {
		it.RelevanceScore = scores[i]
	}
}

// isDependency reports whether item dep covers a direct dependency of item of.
func (w *Window) isDependency(dep, of int) bool {
	if w.deps == nil {
		return false
	}
	targets := make(map[graph.NodeID]struct{})
	for _, sym := range w.items[of].Symbols {
		for _, d := range w.deps.Dependencies(sym, 1) {
			targets[d] = struct{}{}
		}
	}
	for _, sym := range w.items[dep].Symbols {
		if _, ok := targets[sym]; ok {
			return true
		}
	}
	return false
}

// sortItems orders non-auxiliary before auxiliary items, then by priority and
// relevance descending, then oldest first so the most recent tie sits at the tail.
func (w *Window) sortItems() {
	slices.SortStableFunc(w.items, func(a, b *Item) int {
		if a.Auxiliary != b.Auxiliary {
			if b.Auxiliary {
				return -1
			}
			return 1
		}
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if a.RelevanceScore != b.RelevanceScore {
			if a.RelevanceScore > b.RelevanceScore {
				return -1
			}
			return 1
		}
		switch {
		case a.AddedSeq < b.AddedSeq:
			return -1
		case a.AddedSeq > b.AddedSeq:
			return 1
		}
		return 0
	})
}

// dropOrphans removes auxiliary items whose pulling item is gone.
func (w *Window) dropOrphans() {
	present := make(map[string]struct{}, len(w.items))
	for _, it := range w.items {
		if !it.Auxiliary {
			present[it.ID.String()] = struct{}{}
		}
	}
	kept := w.items[:0]
	for _, it := range w.items {
		if it.Auxiliary {
			if _, ok := present[it.Origin.Via]; !ok {
				w.used -= it.TokenCost
				delete(w.mapping, it.ID)
				continue
			}
		}
		kept = append(kept, it)
	}
	clear(w.items[len(kept):])
	w.items = kept
}

// closeDependencies adds the graph dependencies of retained non-auxiliary items
// as auxiliary items, one per defining file. It reports whether a candidate did
// not fit the remaining budget.
func (w *Window) closeDependencies(query string) bool {
	if w.deps == nil || w.opts.DependencyHops == 0 {
		return false
	}

	covered := make(map[graph.NodeID]struct{})
	for _, it := range w.items {
		for _, s := range it.Symbols {
			covered[s] = struct{}{}
		}
	}

	exhausted := false
	primaries := slices.Clone(w.items)
	for _, parent := range primaries {
		if parent.Auxiliary {
			continue
		}

		// Group the parent's uncovered dependencies by defining file.
		byFile := make(map[ItemID][]graph.Node)
		var order []ItemID
		for _, sym := range parent.Symbols {
			for _, dep := range w.deps.Dependencies(sym, w.opts.DependencyHops) {
				if _, ok := covered[dep]; ok {
					continue
				}
				n, ok := w.deps.Node(dep)
				if !ok || n.Kind == graph.KindOther {
					continue
				}
				covered[dep] = struct{}{}
				id := ItemID{Repo: n.RepoID, Path: n.Location.Path}
				if id.Path == "" {
					id.Path = n.QualifiedName
				}
				if _, ok := byFile[id]; !ok {
					order = append(order, id)
				}
				byFile[id] = append(byFile[id], n)
			}
		}

		slices.SortFunc(order, func(a, b ItemID) int { return strings.Compare(a.String(), b.String()) })
		for _, id := range order {
			if _, exists := w.index[id]; exists {
				continue
			}
			aux := w.auxiliaryItem(id, byFile[id], parent, query)
			if aux.TokenCost > w.opts.TokenBudget-w.used {
				exhausted = true
				continue
			}
			w.seq++
			aux.AddedSeq = w.seq
			w.index[id] = len(w.items)
			w.items = append(w.items, aux)
			w.used += aux.TokenCost
			w.mapping[id] = aux.Origin
		}
	}
	return exhausted
}

func (w *Window) auxiliaryItem(id ItemID, nodes []graph.Node, parent *Item, query string) *Item {
	slices.SortFunc(nodes, func(a, b graph.Node) int { return strings.Compare(a.QualifiedName, b.QualifiedName) })

	var b strings.Builder
	symbols := make([]graph.NodeID, 0, len(nodes))
	line := 0
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s %s", n.Kind, n.QualifiedName)
		if n.Location.Line > 0 {
			fmt.Fprintf(&b, " (line %d)", n.Location.Line)
			if line == 0 || n.Location.Line < line {
				line = n.Location.Line
			}
		}
		b.WriteByte('\n')
		symbols = append(symbols, n.ID())
	}
	summary := b.String()

	aux := &Item{
		ID:        id,
		Summary:   summary,
		TokenCost: w.estimator.Count(summary),
		Priority:  w.opts.AuxiliaryPriority,
		Auxiliary: true,
		Symbols:   symbols,
		Origin:    Origin{Repo: id.Repo, Path: id.Path, Line: line, Via: parent.ID.String()},
	}
	if w.scorer != nil {
		aux.RelevanceScore = w.scorer.ScoreWindow(query, []string{id.Path + "\n" + summary}, nil)[0]
	}
	return aux
}

func (w *Window) reindex() {
	clear(w.index)
	for i, it := range w.items {
		w.index[it.ID] = i
	}
}

// State returns the lifecycle state.
func (w *Window) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// UsedTokens returns the summed cost of retained items.
func (w *Window) UsedTokens() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.used
}

// Budget returns the token budget.
func (w *Window) Budget() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opts.TokenBudget
}

// Remaining returns the unused budget.
func (w *Window) Remaining() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opts.TokenBudget - w.used
}

// Items returns copies of the retained items in window order.
func (w *Window) Items() []Item {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Item, len(w.items))
	for i, it := range w.items {
		out[i] = *it
		out[i].Symbols = slices.Clone(it.Symbols)
	}
	return out
}

// Has reports whether an item is retained.
func (w *Window) Has(id ItemID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.index[id]
	return ok
}
