// Package integration detects likely integration points between repositories of
// a cross-repository graph.
package integration

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/output"
	"xrepo/internal/slogutil"
)

// RepoPair is an unordered repository pair stored in lexicographic order.
type RepoPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// NewRepoPair orders the two IDs.
func NewRepoPair(a, b string) RepoPair {
	if b < a {
		a, b = b, a
	}
	return RepoPair{Left: a, Right: b}
}

func (p RepoPair) String() string {
	return p.Left + "<->" + p.Right
}

// SharedSymbol is a definition name present in both repositories.
type SharedSymbol struct {
	Name  string `json:"name"`
	Left  string `json:"left"`
	Right string `json:"right"`
	// Exact is false for matches that only agree after normalization.
	Exact bool `json:"exact"`
}

// APIConnection is an outgoing calls/imports edge in one repository whose target
// name matches an exported definition in the other.
type APIConnection struct {
	Edge       graph.Edge   `json:"edge"`
	Target     graph.NodeID `json:"target"`
	Confidence float64      `json:"confidence"`
}

// IntegrationPoint is the relationship found for one repository pair.
type IntegrationPoint struct {
	Pair           RepoPair        `json:"pair"`
	SharedSymbols  []SharedSymbol  `json:"sharedSymbols"`
	APIConnections []APIConnection `json:"apiConnections"`
}

// PartialResultWarning flags a scan that did not cover every pair.
type PartialResultWarning struct {
	Reason         string `json:"reason"`
	PairsCompleted int    `json:"pairsCompleted"`
	PairsTotal     int    `json:"pairsTotal"`
}

// Error returns the warning as a PARTIAL_RESULT coded error.
func (w *PartialResultWarning) Error() error {
	return errors.Newf(errors.PartialResult, "integration scan incomplete (%s): %d of %d pairs",
		w.Reason, w.PairsCompleted, w.PairsTotal)
}

// Result is the outcome of one detection pass.
type Result struct {
	Points  []IntegrationPoint    `json:"points"`
	Partial *PartialResultWarning `json:"partial,omitempty"`
	Stats   ScanStats             `json:"stats"`
}

// ScanStats describes the work a scan performed.
type ScanStats struct {
	Repos        int   `json:"repos"`
	PairsScanned int   `json:"pairsScanned"`
	Probes       int   `json:"probes"`
	EdgesScanned int   `json:"edgesScanned"`
	DurationMs   int64 `json:"durationMs"`
}

// Options configures the detector.
type Options struct {
	// MinConfidence drops API connections scoring below it.
	MinConfidence float64
	// MaxPairs caps the number of pairs evaluated; 0 means unlimited.
	MaxPairs int
}

// Detector finds integration points on a graph.
type Detector struct {
	graph  *graph.Graph
	opts   Options
	logger *slog.Logger
}

// NewDetector creates a detector over g.
func NewDetector(g *graph.Graph, opts Options, logger *slog.Logger) *Detector {
	return &Detector{graph: g, opts: opts, logger: slogutil.OrDiscard(logger)}
}

// FindIntegrationPoints evaluates every unordered repository pair under one read
// scope. Cancellation is checked between pairs; a cancelled or truncated scan
// returns the pairs completed so far with a PartialResultWarning.
func (d *Detector) FindIntegrationPoints(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{Points: []IntegrationPoint{}}

	err := d.graph.View(func(v *graph.View) error {
		repos := v.Repos()
		res.Stats.Repos = len(repos)

		var pairs []RepoPair
		for i := range repos {
			for j := i + 1; j < len(repos); j++ {
				pairs = append(pairs, RepoPair{Left: repos[i], Right: repos[j]})
			}
		}

		limit := len(pairs)
		if d.opts.MaxPairs > 0 && d.opts.MaxPairs < limit {
			limit = d.opts.MaxPairs
			res.Partial = &PartialResultWarning{Reason: "max pairs reached", PairsTotal: len(pairs)}
		}

		idx := buildIndex(v, repos)
		for _, pair := range pairs[:limit] {
			if err := ctx.Err(); err != nil {
				res.Partial = &PartialResultWarning{Reason: err.Error(), PairsTotal: len(pairs)}
				break
			}
			if pt, ok := d.evaluatePair(v, idx, pair, &res.Stats); ok {
				res.Points = append(res.Points, pt)
			}
			res.Stats.PairsScanned++
		}
		if res.Partial != nil {
			res.Partial.PairsCompleted = res.Stats.PairsScanned
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Stats.DurationMs = time.Since(start).Milliseconds()
	d.logger.Debug("Integration scan finished",
		"repos", res.Stats.Repos,
		"pairs", res.Stats.PairsScanned,
		"points", len(res.Points),
		"partial", res.Partial != nil,
	)
	return res, nil
}

func (d *Detector) evaluatePair(v *graph.View, idx map[string]*repoIndex, pair RepoPair, st *ScanStats) (IntegrationPoint, bool) {
	pt := IntegrationPoint{
		Pair:           pair,
		SharedSymbols:  sharedSymbols(v, idx, pair, st),
		APIConnections: []APIConnection{},
	}
	pt.APIConnections = append(pt.APIConnections, d.connections(v, idx, pair.Left, pair.Right, st)...)
	pt.APIConnections = append(pt.APIConnections, d.connections(v, idx, pair.Right, pair.Left, st)...)
	slices.SortFunc(pt.APIConnections, compareConnections)

	if len(pt.SharedSymbols) == 0 && len(pt.APIConnections) == 0 {
		return IntegrationPoint{}, false
	}
	if pt.SharedSymbols == nil {
		pt.SharedSymbols = []SharedSymbol{}
	}
	return pt, true
}

// repoIndex is the per-repository lookup state built once per scan.
type repoIndex struct {
	// keys are the repository's normalized definition names, sorted.
	keys []string
	// calls holds local calls/imports edges keyed by the normalized short name
	// of their target.
	calls map[string][]graph.Edge
	// cross holds explicit calls/imports edges into other repositories, keyed
	// by target repository.
	cross map[string][]graph.Edge
}

func buildIndex(v *graph.View, repos []string) map[string]*repoIndex {
	idx := make(map[string]*repoIndex, len(repos))
	for _, repo := range repos {
		ri := &repoIndex{
			keys:  v.NormalizedKeys(repo),
			calls: make(map[string][]graph.Edge),
			cross: make(map[string][]graph.Edge),
		}
		for _, e := range v.RepoEdges(repo) {
			if e.Kind != graph.EdgeCalls && e.Kind != graph.EdgeImports {
				continue
			}
			if target := e.To.Repo(); target != repo {
				ri.cross[target] = append(ri.cross[target], e)
				continue
			}
			n, _ := v.Node(e.To)
			key := graph.NormalizeName(n.ShortName())
			ri.calls[key] = append(ri.calls[key], e)
		}
		idx[repo] = ri
	}
	return idx
}

// sharedSymbols probes the smaller repository's name index against the larger one.
// Within one normalized key, exact matches suppress normalized-only matches.
func sharedSymbols(v *graph.View, idx map[string]*repoIndex, pair RepoPair, st *ScanStats) []SharedSymbol {
	small, large := pair.Left, pair.Right
	if v.NormalizedKeyCount(large) < v.NormalizedKeyCount(small) {
		small, large = large, small
	}

	var out []SharedSymbol
	for _, key := range idx[small].keys {
		st.Probes++
		if !v.HasNormalized(large, key) {
			continue
		}
		smallNames := shortNames(v.NormalizedDefinitions(small, key))
		largeNames := shortNames(v.NormalizedDefinitions(large, key))

		var exact []string
		for _, name := range smallNames {
			if _, found := slices.BinarySearch(largeNames, name); found {
				exact = append(exact, name)
			}
		}
		if len(exact) > 0 {
			for _, name := range exact {
				out = append(out, SharedSymbol{Name: name, Left: name, Right: name, Exact: true})
			}
			continue
		}

		names := map[string]string{small: smallNames[0], large: largeNames[0]}
		out = append(out, SharedSymbol{
			Name:  names[pair.Left],
			Left:  names[pair.Left],
			Right: names[pair.Right],
		})
	}

	slices.SortFunc(out, func(a, b SharedSymbol) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Right, b.Right)
	})
	return out
}

// shortNames returns the distinct sorted short names of ids.
func shortNames(ids []graph.NodeID) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, graph.ShortName(id.Name()))
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// connections matches from's outgoing calls/imports edges against to's exported
// definitions, walking whichever of the two name sets is smaller.
func (d *Detector) connections(v *graph.View, idx map[string]*repoIndex, from, to string, st *ScanStats) []APIConnection {
	fi := idx[from]
	var out []APIConnection

	// An explicit cross-repository edge is a certain connection.
	for _, e := range fi.cross[to] {
		st.EdgesScanned++
		out = append(out, APIConnection{Edge: e, Target: e.To, Confidence: 1})
	}

	match := func(key string, edges []graph.Edge) {
		for _, e := range edges {
			st.EdgesScanned++
			if c, ok := d.bestCandidate(v, e, key, to); ok {
				out = append(out, c)
			}
		}
	}
	if len(fi.calls) <= v.NormalizedKeyCount(to) {
		for key, edges := range fi.calls {
			st.Probes++
			if v.HasNormalized(to, key) {
				match(key, edges)
			}
		}
	} else {
		for _, key := range idx[to].keys {
			st.Probes++
			if edges, ok := fi.calls[key]; ok {
				match(key, edges)
			}
		}
	}
	return out
}

// bestCandidate picks the exported definition in repo to that best matches the
// target of e. Exact short-name matches are preferred over normalized ones.
func (d *Detector) bestCandidate(v *graph.View, e graph.Edge, key, to string) (APIConnection, bool) {
	target, _ := v.Node(e.To)
	candidates := v.Definitions(to, target.ShortName())
	if len(candidates) == 0 {
		candidates = v.NormalizedDefinitions(to, key)
	}

	best := APIConnection{}
	for _, cid := range candidates {
		cand, _ := v.Node(cid)
		if !cand.Exported {
			continue
		}
		if conf := confidence(target, cand); conf > best.Confidence {
			best = APIConnection{Edge: e, Target: cid, Confidence: conf}
		}
	}
	return best, best.Confidence > 0 && best.Confidence >= d.opts.MinConfidence
}

// confidence combines name similarity (0.7 weight) with arity agreement (0.3 weight).
// Unknown arity on either side contributes half.
func confidence(target, candidate graph.Node) float64 {
	a, b := target.ShortName(), candidate.ShortName()
	var sim float64
	switch {
	case a == b:
		sim = 1.0
	case strings.EqualFold(a, b):
		sim = 0.9
	case graph.NormalizeName(a) == graph.NormalizeName(b):
		sim = 0.75
	default:
		return 0
	}

	arity := 0.5
	if target.Arity >= 0 && candidate.Arity >= 0 {
		if target.Arity == candidate.Arity {
			arity = 1
		} else {
			arity = 0
		}
	}
	return output.RoundFloat(0.7*sim + 0.3*arity)
}

func compareConnections(a, b APIConnection) int {
	if c := strings.Compare(string(a.Edge.From), string(b.Edge.From)); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Edge.To), string(b.Edge.To)); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Edge.Kind), string(b.Edge.Kind)); c != 0 {
		return c
	}
	return strings.Compare(string(a.Target), string(b.Target))
}
