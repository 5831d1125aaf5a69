package graph

import (
	"context"
	"slices"
	"strings"
	"time"

	"xrepo/internal/errors"
)

// EdgeWeights defines how strongly each edge kind propagates rank.
type EdgeWeights struct {
	Calls      float64
	Imports    float64
	Inherits   float64
	References float64
	Other      float64
}

// DefaultEdgeWeights returns sensible defaults for edge weights.
func DefaultEdgeWeights() EdgeWeights {
	return EdgeWeights{
		Calls:      1.0,
		Imports:    0.5,
		Inherits:   0.7,
		References: 0.8,
		Other:      0.3,
	}
}

func (w EdgeWeights) of(kind EdgeKind) float64 {
	switch kind {
	case EdgeCalls:
		return w.Calls
	case EdgeImports:
		return w.Imports
	case EdgeInherits:
		return w.Inherits
	case EdgeReferences:
		return w.References
	default:
		return w.Other
	}
}

// RankOptions configures Personalized PageRank over the merged graph.
type RankOptions struct {
	// Damping is the probability of following an edge vs teleporting (default: 0.85)
	Damping float64

	// MaxIterations is the maximum number of power iterations (default: 20)
	MaxIterations int

	// Tolerance for convergence detection (default: 1e-6)
	Tolerance float64

	// TopK is the number of top results to return (default: 20)
	TopK int

	// ExcludeSeeds drops the seed nodes from the results.
	ExcludeSeeds bool

	Weights EdgeWeights
}

// DefaultRankOptions returns sensible defaults for ranking.
func DefaultRankOptions() RankOptions {
	return RankOptions{
		Damping:       0.85,
		MaxIterations: 20,
		Tolerance:     1e-6,
		TopK:          20,
		Weights:       DefaultEdgeWeights(),
	}
}

// Ranked is one node ranked by Rank.
type Ranked struct {
	NodeID NodeID  `json:"nodeId"`
	Score  float64 `json:"score"`
}

// RankOutput contains the full ranking result.
type RankOutput struct {
	Results       []Ranked `json:"results"`
	Iterations    int      `json:"iterations"`
	Converged     bool     `json:"converged"`
	Seeds         []NodeID `json:"seeds"`
	TotalNodes    int      `json:"totalNodes"`
	ComputationMs int64    `json:"computationMs"`
}

type weightedEdge struct {
	target int
	weight float64
}

// Rank computes Personalized PageRank seeded at the given nodes, following both
// intra- and cross-repository edges. Unknown seeds are ignored. The context is
// checked between iterations.
func (g *Graph) Rank(ctx context.Context, seeds []NodeID, opts RankOptions) (*RankOutput, error) {
	if len(seeds) == 0 {
		return nil, errors.New(errors.ValidationError, "no seed nodes provided", nil)
	}
	if opts.Damping <= 0 || opts.Damping >= 1 {
		opts.Damping = 0.85
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-6
	}
	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	if opts.Weights == (EdgeWeights{}) {
		opts.Weights = DefaultEdgeWeights()
	}

	start := time.Now()

	// Snapshot the adjacency under the read lock; iteration runs without it.
	var (
		nodes   []NodeID
		nodeIdx map[NodeID]int
		out     [][]weightedEdge
	)
	_ = g.View(func(v *View) error {
		nodeIdx = make(map[NodeID]int)
		for _, repo := range v.Repos() {
			for _, n := range v.RepoNodes(repo) {
				nodeIdx[n.ID()] = len(nodes)
				nodes = append(nodes, n.ID())
			}
		}
		out = make([][]weightedEdge, len(nodes))
		for i, id := range nodes {
			for _, e := range v.OutEdges(id) {
				w := opts.Weights.of(e.Kind)
				if w <= 0 {
					continue
				}
				out[i] = append(out[i], weightedEdge{target: nodeIdx[e.To], weight: w})
			}
		}
		return nil
	})

	result := &RankOutput{Results: []Ranked{}, TotalNodes: len(nodes)}

	seedSet := make(map[int]bool)
	for _, s := range seeds {
		if idx, ok := nodeIdx[s]; ok && !seedSet[idx] {
			seedSet[idx] = true
			result.Seeds = append(result.Seeds, s)
		}
	}
	if len(seedSet) == 0 {
		return result, nil
	}

	n := len(nodes)
	teleport := make([]float64, n)
	for idx := range seedSet {
		teleport[idx] = 1.0 / float64(len(seedSet))
	}
	scores := slices.Clone(teleport)

	outDegree := make([]float64, n)
	for i, edges := range out {
		for _, e := range edges {
			outDegree[i] += e.weight
		}
	}

	newScores := make([]float64, n)
	for iter := range opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations = iter + 1

		clear(newScores)
		for i, edges := range out {
			if outDegree[i] == 0 {
				continue
			}
			contrib := scores[i] / outDegree[i]
			for _, e := range edges {
				newScores[e.target] += contrib * e.weight
			}
		}

		maxDiff := 0.0
		for i := range newScores {
			newScores[i] = opts.Damping*newScores[i] + (1-opts.Damping)*teleport[i]
			if d := abs(newScores[i] - scores[i]); d > maxDiff {
				maxDiff = d
			}
		}
		scores, newScores = newScores, scores

		if maxDiff < opts.Tolerance {
			result.Converged = true
			break
		}
	}

	for i, s := range scores {
		if s <= 0 || (opts.ExcludeSeeds && seedSet[i]) {
			continue
		}
		result.Results = append(result.Results, Ranked{NodeID: nodes[i], Score: s})
	}
	slices.SortFunc(result.Results, func(a, b Ranked) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(string(a.NodeID), string(b.NodeID))
	})
	if len(result.Results) > opts.TopK {
		result.Results = result.Results[:opts.TopK]
	}
	result.ComputationMs = time.Since(start).Milliseconds()
	return result, nil
}

// FilterByRepo returns the results owned by a repository.
func FilterByRepo(results []Ranked, repoID string) []Ranked {
	filtered := make([]Ranked, 0, len(results))
	for _, r := range results {
		if r.NodeID.Repo() == repoID {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
