package adapt

import (
	"context"
	stderrors "errors"
	"reflect"
	"strings"
	"testing"

	"xrepo/internal/graph"
	"xrepo/internal/integration"
)

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(nil)
	billing := graph.RepoGraph{Nodes: []graph.Node{
		{QualifiedName: "billing.api.Charge", Kind: graph.KindFunction, Arity: 2, Exported: true},
		{QualifiedName: "billing.models.Invoice", Kind: graph.KindClass, Arity: -1, Exported: true},
		{QualifiedName: "billing.util.formatAmount", Kind: graph.KindFunction, Arity: 1, Exported: true},
	}}
	orders := graph.RepoGraph{
		Nodes: []graph.Node{
			{QualifiedName: "orders.checkout.Checkout", Kind: graph.KindFunction, Arity: 1, Exported: true},
			{QualifiedName: "orders.util.format_amount", Kind: graph.KindFunction, Arity: 1},
			{QualifiedName: "calls:Charge", Kind: graph.KindOther, Arity: 2},
			{QualifiedName: "calls:Invoice", Kind: graph.KindOther, Arity: -1},
		},
		Edges: []graph.EdgeSpec{
			{From: "orders.checkout.Checkout", To: "calls:Charge", Kind: graph.EdgeCalls},
			{From: "orders.checkout.Checkout", To: "calls:Invoice", Kind: graph.EdgeCalls},
		},
	}
	if err := g.AddRepo("billing", billing); err != nil {
		t.Fatal(err)
	}
	if err := g.AddRepo("orders", orders); err != nil {
		t.Fatal(err)
	}
	return g
}

func points(t *testing.T, g *graph.Graph) []integration.IntegrationPoint {
	t.Helper()
	res, err := integration.NewDetector(g, integration.Options{}, nil).FindIntegrationPoints(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return res.Points
}

func TestNamespaceMapFor(t *testing.T) {
	g := testGraph(t)
	pts := points(t, g)

	got := NamespaceMapFor(pts, "orders", "billing")
	want := map[string]string{
		"Charge":        "billing.api.Charge",
		"Invoice":       "billing.models.Invoice",
		"format_amount": "formatAmount",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("orders->billing = %v, want %v", got, want)
	}

	got = NamespaceMapFor(pts, "billing", "orders")
	want = map[string]string{"formatAmount": "format_amount"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("billing->orders = %v, want %v", got, want)
	}

	if got := NamespaceMapFor(pts, "orders", "unknown"); len(got) != 0 {
		t.Errorf("unrelated pair produced %v", got)
	}
}

func TestNamespaceMapFor_ConflictKeepsHighestConfidence(t *testing.T) {
	pair := integration.NewRepoPair("a", "b")
	pts := []integration.IntegrationPoint{{
		Pair: pair,
		APIConnections: []integration.APIConnection{
			{Edge: graph.Edge{From: "a|x", To: "a|calls:Run"}, Target: "b|b.low.Run", Confidence: 0.6},
			{Edge: graph.Edge{From: "a|y", To: "a|calls:Run"}, Target: "b|b.high.Run", Confidence: 0.9},
			{Edge: graph.Edge{From: "a|z", To: "a|calls:Stop"}, Target: "b|b.z.Stop", Confidence: 0.5},
			{Edge: graph.Edge{From: "a|z", To: "a|calls:Stop"}, Target: "b|b.a.Stop", Confidence: 0.5},
		},
	}}
	got := NamespaceMapFor(pts, "a", "b")
	want := map[string]string{"Run": "b.high.Run", "Stop": "b.a.Stop"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if keys := Keys(got); !reflect.DeepEqual(keys, []string{"Run", "Stop"}) {
		t.Errorf("Keys = %v", keys)
	}
}

func TestTypeMapFor(t *testing.T) {
	g := testGraph(t)
	ns := NamespaceMapFor(points(t, g), "orders", "billing")
	got := TypeMapFor(g, ns, "billing")
	want := map[string]string{"Invoice": "billing.models.Invoice"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TypeMapFor = %v, want %v", got, want)
	}
}

type wordTree struct{ words []string }

func (wordTree) Language() string { return "words" }

type wordEngine struct{ failParse, failTransform bool }

func (e wordEngine) Parse(code []byte) (Tree, error) {
	if e.failParse {
		return nil, stderrors.New("unexpected token")
	}
	return wordTree{words: strings.Fields(string(code))}, nil
}

func (e wordEngine) Transform(tree Tree, ns, types map[string]string) (Tree, error) {
	if e.failTransform {
		return nil, stderrors.New("cannot rewrite")
	}
	wt := tree.(wordTree)
	out := make([]string, len(wt.words))
	for i, w := range wt.words {
		if r, ok := types[w]; ok {
			w = r
		} else if r, ok := ns[w]; ok {
			w = r
		}
		out[i] = w
	}
	return wordTree{words: out}, nil
}

func (e wordEngine) Unparse(tree Tree) ([]byte, error) {
	return []byte(strings.Join(tree.(wordTree).words, " ")), nil
}

func TestPipeline_Adapt(t *testing.T) {
	ns := map[string]string{"Charge": "billing.api.Charge"}
	types := map[string]string{"Invoice": "billing.models.Invoice"}

	e := wordEngine{}
	p := Pipeline{Parser: e, Transformer: e, Unparser: e}
	out, err := p.Adapt([]byte("Charge Invoice total"), ns, types)
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if string(out) != "billing.api.Charge billing.models.Invoice total" {
		t.Errorf("Adapt = %q", out)
	}

	e = wordEngine{failParse: true}
	p = Pipeline{Parser: e, Transformer: e, Unparser: e}
	code := []byte("Charge(")
	out, err = p.Adapt(code, ns, types)
	var fb *FallbackSignal
	if !stderrors.As(err, &fb) || fb.Stage != "parse" {
		t.Fatalf("expected parse FallbackSignal, got %v", err)
	}
	if string(out) != string(code) {
		t.Errorf("fallback should return the original code, got %q", out)
	}

	e = wordEngine{failTransform: true}
	p = Pipeline{Parser: e, Transformer: e, Unparser: e}
	_, err = p.Adapt([]byte("x"), ns, types)
	if err == nil || stderrors.As(err, &fb) {
		t.Errorf("transform failure should be a plain error, got %v", err)
	}
}
