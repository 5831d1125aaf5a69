package graph

import (
	"context"
	"testing"
)

func rankFixture(t *testing.T) *Graph {
	t.Helper()
	g := New(nil)
	api := RepoGraph{
		Nodes: []Node{{QualifiedName: "main"}, {QualifiedName: "engine"}, {QualifiedName: "cache"}, {QualifiedName: "lonely"}},
		Edges: []EdgeSpec{
			{From: "main", To: "engine", Kind: EdgeCalls},
			{From: "engine", To: "cache", Kind: EdgeCalls},
		},
	}
	if err := g.AddRepo("api", api); err != nil {
		t.Fatal(err)
	}
	web := RepoGraph{
		Nodes: []Node{{QualifiedName: "handler"}},
		Edges: []EdgeSpec{{From: "handler", To: "api|main", Kind: EdgeCalls}},
	}
	if err := g.AddRepo("web", web); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestRank_FollowsCrossRepoEdges(t *testing.T) {
	g := rankFixture(t)

	out, err := g.Rank(context.Background(), []NodeID{"web|handler"}, DefaultRankOptions())
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if out.TotalNodes != 5 {
		t.Errorf("TotalNodes = %d, want 5", out.TotalNodes)
	}

	scores := map[NodeID]float64{}
	for _, r := range out.Results {
		scores[r.NodeID] = r.Score
	}
	if scores["api|main"] <= 0 {
		t.Error("expected api|main to be reached across repositories")
	}
	if scores["api|main"] <= scores["api|cache"] {
		t.Errorf("closer node should rank higher: main=%v cache=%v", scores["api|main"], scores["api|cache"])
	}
	if _, ok := scores["api|lonely"]; ok {
		t.Error("unreachable node should not be ranked")
	}
}

func TestRank_ExcludeSeedsAndTopK(t *testing.T) {
	g := rankFixture(t)
	opts := DefaultRankOptions()
	opts.ExcludeSeeds = true
	opts.TopK = 2

	out, err := g.Rank(context.Background(), []NodeID{"web|handler"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("Results = %d, want 2", len(out.Results))
	}
	for _, r := range out.Results {
		if r.NodeID == "web|handler" {
			t.Error("seed should be excluded")
		}
	}
	if got := FilterByRepo(out.Results, "api"); len(got) != 2 {
		t.Errorf("FilterByRepo(api) = %d results, want 2", len(got))
	}
}

func TestRank_Seeds(t *testing.T) {
	g := rankFixture(t)

	if _, err := g.Rank(context.Background(), nil, DefaultRankOptions()); err == nil {
		t.Error("expected error with no seeds")
	}

	out, err := g.Rank(context.Background(), []NodeID{"nope|x"}, DefaultRankOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 0 || len(out.Seeds) != 0 {
		t.Errorf("unknown seeds should yield no results, got %+v", out)
	}
}

func TestRank_Cancelled(t *testing.T) {
	g := rankFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Rank(ctx, []NodeID{"web|handler"}, DefaultRankOptions()); err == nil {
		t.Error("expected cancellation error")
	}
}
