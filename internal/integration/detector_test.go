package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
)

func billing() graph.RepoGraph {
	return graph.RepoGraph{
		Nodes: []graph.Node{
			{QualifiedName: "billing.Invoice", Kind: graph.KindClass, Exported: true, Arity: -1},
			{QualifiedName: "billing.create_invoice", Kind: graph.KindFunction, Exported: true, Arity: 2},
			{QualifiedName: "billing.helper", Kind: graph.KindFunction, Arity: 0},
		},
		Edges: []graph.EdgeSpec{
			{From: "billing.create_invoice", To: "billing.Invoice", Kind: graph.EdgeReferences},
		},
	}
}

func orders() graph.RepoGraph {
	return graph.RepoGraph{
		Nodes: []graph.Node{
			{QualifiedName: "orders.checkout", Kind: graph.KindFunction, Exported: true, Arity: 1},
			// Unresolved reference to a symbol defined elsewhere.
			{QualifiedName: "Invoice", Kind: graph.KindOther, Arity: -1},
		},
		Edges: []graph.EdgeSpec{
			{From: "orders.checkout", To: "Invoice", Kind: graph.EdgeCalls},
		},
	}
}

func newGraph(t *testing.T, repos map[string]graph.RepoGraph, order []string) *graph.Graph {
	t.Helper()
	g := graph.New(nil)
	for _, id := range order {
		if err := g.AddRepo(id, repos[id]); err != nil {
			t.Fatalf("AddRepo(%s) failed: %v", id, err)
		}
	}
	return g
}

func scan(t *testing.T, g *graph.Graph, opts Options) *Result {
	t.Helper()
	res, err := NewDetector(g, opts, nil).FindIntegrationPoints(context.Background())
	if err != nil {
		t.Fatalf("FindIntegrationPoints failed: %v", err)
	}
	return res
}

func TestFindIntegrationPoints_BillingOrders(t *testing.T) {
	g := newGraph(t, map[string]graph.RepoGraph{"billing": billing(), "orders": orders()}, []string{"billing", "orders"})
	res := scan(t, g, Options{})

	if res.Partial != nil {
		t.Fatalf("unexpected partial result: %+v", res.Partial)
	}
	if len(res.Points) != 1 {
		t.Fatalf("Points = %d, want 1", len(res.Points))
	}
	pt := res.Points[0]
	if pt.Pair != (RepoPair{Left: "billing", Right: "orders"}) {
		t.Errorf("Pair = %+v", pt.Pair)
	}
	if len(pt.SharedSymbols) != 0 {
		t.Errorf("SharedSymbols = %+v, want none (Invoice is not defined in orders)", pt.SharedSymbols)
	}
	if len(pt.APIConnections) != 1 {
		t.Fatalf("APIConnections = %+v, want 1", pt.APIConnections)
	}
	conn := pt.APIConnections[0]
	if conn.Target != graph.MakeID("billing", "billing.Invoice") {
		t.Errorf("Target = %s", conn.Target)
	}
	if conn.Edge.From != graph.MakeID("orders", "orders.checkout") {
		t.Errorf("Edge.From = %s", conn.Edge.From)
	}
	// Exact name, unknown arity.
	if conn.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", conn.Confidence)
	}
}

func TestFindIntegrationPoints_SharedWhenDefinedInBoth(t *testing.T) {
	o := orders()
	o.Nodes[1].Kind = graph.KindClass
	g := newGraph(t, map[string]graph.RepoGraph{"billing": billing(), "orders": o}, []string{"billing", "orders"})
	res := scan(t, g, Options{})

	if len(res.Points) != 1 {
		t.Fatalf("Points = %d, want 1", len(res.Points))
	}
	found := false
	for _, s := range res.Points[0].SharedSymbols {
		if s.Name == "Invoice" && s.Exact {
			found = true
		}
	}
	if !found {
		t.Errorf("Invoice missing from SharedSymbols: %+v", res.Points[0].SharedSymbols)
	}
}

func TestFindIntegrationPoints_ExactBeatsNormalized(t *testing.T) {
	a := graph.RepoGraph{Nodes: []graph.Node{
		{QualifiedName: "getUser", Kind: graph.KindFunction},
		{QualifiedName: "get_user", Kind: graph.KindFunction},
		{QualifiedName: "load_order", Kind: graph.KindFunction},
	}}
	b := graph.RepoGraph{Nodes: []graph.Node{
		{QualifiedName: "getUser", Kind: graph.KindFunction},
		{QualifiedName: "GetUser", Kind: graph.KindFunction},
		{QualifiedName: "LoadOrder", Kind: graph.KindFunction},
	}}
	g := newGraph(t, map[string]graph.RepoGraph{"a": a, "b": b}, []string{"a", "b"})
	res := scan(t, g, Options{})

	want := []SharedSymbol{
		{Name: "getUser", Left: "getUser", Right: "getUser", Exact: true},
		{Name: "load_order", Left: "load_order", Right: "LoadOrder", Exact: false},
	}
	if len(res.Points) != 1 || !reflect.DeepEqual(res.Points[0].SharedSymbols, want) {
		t.Errorf("SharedSymbols = %+v, want %+v", res.Points, want)
	}
}

func TestFindIntegrationPoints_NoSignalOmitted(t *testing.T) {
	a := graph.RepoGraph{Nodes: []graph.Node{{QualifiedName: "alpha", Kind: graph.KindFunction}}}
	b := graph.RepoGraph{Nodes: []graph.Node{{QualifiedName: "beta", Kind: graph.KindFunction}}}
	g := newGraph(t, map[string]graph.RepoGraph{"a": a, "b": b}, []string{"a", "b"})
	res := scan(t, g, Options{})
	if len(res.Points) != 0 {
		t.Errorf("Points = %+v, want none", res.Points)
	}
	if res.Stats.PairsScanned != 1 {
		t.Errorf("PairsScanned = %d, want 1", res.Stats.PairsScanned)
	}
}

func TestFindIntegrationPoints_SymmetricAndDeterministic(t *testing.T) {
	repos := map[string]graph.RepoGraph{"billing": billing(), "orders": orders()}

	encode := func(res *Result) []byte {
		data, err := json.Marshal(res.Points)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	ab := encode(scan(t, newGraph(t, repos, []string{"billing", "orders"}), Options{}))
	ba := encode(scan(t, newGraph(t, repos, []string{"orders", "billing"}), Options{}))
	if !bytes.Equal(ab, ba) {
		t.Errorf("insertion order changed the result:\n%s\n%s", ab, ba)
	}

	g := newGraph(t, repos, []string{"billing", "orders"})
	first := encode(scan(t, g, Options{}))
	for i := 0; i < 5; i++ {
		if again := encode(scan(t, g, Options{})); !bytes.Equal(first, again) {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, again)
		}
	}
}

func TestFindIntegrationPoints_ArityAndThreshold(t *testing.T) {
	callee := graph.RepoGraph{Nodes: []graph.Node{{QualifiedName: "lib.send", Kind: graph.KindFunction, Exported: true, Arity: 2}}}
	caller := func(arity int) graph.RepoGraph {
		return graph.RepoGraph{
			Nodes: []graph.Node{{QualifiedName: "main", Kind: graph.KindFunction}, {QualifiedName: "Send", Arity: arity}},
			Edges: []graph.EdgeSpec{{From: "main", To: "Send", Kind: graph.EdgeCalls}},
		}
	}

	tests := []struct {
		name    string
		arity   int
		minConf float64
		want    float64 // 0 means no connection
	}{
		{"case-insensitive with matching arity", 2, 0, 0.93},
		{"case-insensitive with arity mismatch", 3, 0, 0.63},
		{"filtered by threshold", 3, 0.7, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGraph(t, map[string]graph.RepoGraph{"lib": callee, "app": caller(tt.arity)}, []string{"lib", "app"})
			res := scan(t, g, Options{MinConfidence: tt.minConf})
			var got float64
			for _, p := range res.Points {
				for _, c := range p.APIConnections {
					got = c.Confidence
				}
			}
			if got != tt.want {
				t.Errorf("confidence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindIntegrationPoints_UnexportedNotMatched(t *testing.T) {
	o := orders()
	o.Nodes[1].QualifiedName = "helper"
	o.Edges[0].To = "helper"
	g := newGraph(t, map[string]graph.RepoGraph{"billing": billing(), "orders": o}, []string{"billing", "orders"})
	res := scan(t, g, Options{})
	if len(res.Points) != 0 {
		t.Errorf("unexported billing.helper should not be a connection target: %+v", res.Points)
	}
}

func TestFindIntegrationPoints_Cancelled(t *testing.T) {
	repos := map[string]graph.RepoGraph{"billing": billing(), "orders": orders(), "shipping": orders()}
	g := newGraph(t, repos, []string{"billing", "orders", "shipping"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewDetector(g, Options{}, nil).FindIntegrationPoints(ctx)
	if err != nil {
		t.Fatalf("cancelled scan should not fail: %v", err)
	}
	if res.Partial == nil {
		t.Fatal("cancelled scan must be flagged partial")
	}
	if res.Partial.PairsTotal != 3 || res.Partial.PairsCompleted != 0 {
		t.Errorf("Partial = %+v", res.Partial)
	}
	if !errors.Is(res.Partial.Error(), errors.PartialResult) {
		t.Error("warning should convert to a PARTIAL_RESULT error")
	}
}

func TestFindIntegrationPoints_MaxPairs(t *testing.T) {
	repos := map[string]graph.RepoGraph{"billing": billing(), "orders": orders(), "shipping": orders()}
	g := newGraph(t, repos, []string{"billing", "orders", "shipping"})

	res := scan(t, g, Options{MaxPairs: 1})
	if res.Partial == nil || res.Partial.PairsCompleted != 1 {
		t.Fatalf("Partial = %+v, want 1 completed pair", res.Partial)
	}
	if len(res.Points) != 1 || res.Points[0].Pair.Right != "orders" {
		t.Errorf("Points = %+v", res.Points)
	}
}

func TestFindIntegrationPoints_IncrementalEquivalence(t *testing.T) {
	change := graph.ChangeSet{
		UpsertNodes: []graph.Node{
			{QualifiedName: "orders.refund", Kind: graph.KindFunction, Exported: true, Arity: 1},
			{QualifiedName: "create_invoice", Arity: 2},
		},
		UpsertEdges: []graph.EdgeSpec{{From: "orders.refund", To: "create_invoice", Kind: graph.EdgeCalls}},
		RemoveNodes: []string{"Invoice"},
	}

	incremental := newGraph(t, map[string]graph.RepoGraph{"billing": billing(), "orders": orders()}, []string{"billing", "orders"})
	if err := incremental.UpdateRepo("orders", change); err != nil {
		t.Fatal(err)
	}

	full := orders()
	full.Nodes = []graph.Node{full.Nodes[0], change.UpsertNodes[0], change.UpsertNodes[1]}
	full.Edges = change.UpsertEdges
	replaced := newGraph(t, map[string]graph.RepoGraph{"billing": billing(), "orders": orders()}, []string{"billing", "orders"})
	if err := replaced.RemoveRepo("orders"); err != nil {
		t.Fatal(err)
	}
	if err := replaced.AddRepo("orders", full); err != nil {
		t.Fatal(err)
	}

	a := scan(t, incremental, Options{})
	b := scan(t, replaced, Options{})
	if !reflect.DeepEqual(a.Points, b.Points) {
		t.Errorf("incremental result differs:\n%+v\n%+v", a.Points, b.Points)
	}
	if len(a.Points) != 1 || len(a.Points[0].APIConnections) != 1 || a.Points[0].APIConnections[0].Confidence != 1 {
		t.Errorf("expected one exact arity-matched connection, got %+v", a.Points)
	}
}

// chain builds a repository of n exported functions fn0..fn(n-1), each calling
// the next.
func chain(prefix string, n int) graph.RepoGraph {
	var rg graph.RepoGraph
	for i := range n {
		rg.Nodes = append(rg.Nodes, graph.Node{
			QualifiedName: fmt.Sprintf("%s.fn%d", prefix, i), Kind: graph.KindFunction, Exported: true, Arity: -1,
		})
		if i > 0 {
			rg.Edges = append(rg.Edges, graph.EdgeSpec{
				From: fmt.Sprintf("%s.fn%d", prefix, i-1), To: fmt.Sprintf("%s.fn%d", prefix, i), Kind: graph.EdgeCalls,
			})
		}
	}
	return rg
}

func TestFindIntegrationPoints_WorkBoundedBySmallerRepo(t *testing.T) {
	tiny := graph.RepoGraph{
		Nodes: []graph.Node{
			{QualifiedName: "tiny.Lookup", Kind: graph.KindFunction, Exported: true, Arity: -1},
			{QualifiedName: "fn7", Kind: graph.KindOther, Arity: -1},
		},
		Edges: []graph.EdgeSpec{{From: "tiny.Lookup", To: "fn7", Kind: graph.EdgeCalls}},
	}

	for _, n := range []int{50, 2000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			g := newGraph(t, map[string]graph.RepoGraph{"big": chain("big", n), "tiny": tiny}, []string{"big", "tiny"})
			res := scan(t, g, Options{})

			// One shared-symbol probe plus one connection probe per direction.
			if res.Stats.Probes != 3 {
				t.Errorf("Probes = %d, want 3", res.Stats.Probes)
			}
			if res.Stats.EdgesScanned != 1 {
				t.Errorf("EdgesScanned = %d, want 1", res.Stats.EdgesScanned)
			}
			if len(res.Points) != 1 || len(res.Points[0].APIConnections) != 1 {
				t.Fatalf("Points = %+v, want one connection", res.Points)
			}
			if got := res.Points[0].APIConnections[0].Target; got != graph.MakeID("big", "big.fn7") {
				t.Errorf("Target = %s, want big|big.fn7", got)
			}
		})
	}
}
