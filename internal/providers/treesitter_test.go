//go:build cgo

package providers

import (
	"context"
	"testing"

	"xrepo/internal/graph"
	"xrepo/internal/repos"
)

func index(rg *graph.RepoGraph) (map[string]graph.Node, map[graph.EdgeSpec]bool) {
	nodes := make(map[string]graph.Node)
	for _, n := range rg.Nodes {
		nodes[n.QualifiedName] = n
	}
	edges := make(map[graph.EdgeSpec]bool)
	for _, e := range rg.Edges {
		edges[e] = true
	}
	return nodes, edges
}

func TestExtractSource_Go(t *testing.T) {
	src := `package api

import "example.com/orders/client"

type Server struct{}

func (s *Server) Charge(amount int, currency string) error {
	validate(amount)
	return client.Submit(amount, currency)
}

func validate(x int) {}
`
	rg, err := ExtractSource(context.Background(), "billing", "api/charge.go", []byte(src), LangGo)
	if err != nil {
		t.Fatalf("ExtractSource: %v", err)
	}
	nodes, edges := index(rg)

	tests := []struct {
		name     string
		kind     graph.NodeKind
		arity    int
		exported bool
	}{
		{"api/charge", graph.KindModule, -1, true},
		{"api/charge.Server", graph.KindClass, -1, true},
		{"api/charge.Server.Charge", graph.KindFunction, 2, true},
		{"api/charge.validate", graph.KindFunction, 1, false},
		{"calls:Submit", graph.KindOther, 2, false},
	}
	for _, tt := range tests {
		n, ok := nodes[tt.name]
		if !ok {
			t.Errorf("missing node %q; have %v", tt.name, rg.Nodes)
			continue
		}
		if n.Kind != tt.kind || n.Arity != tt.arity || n.Exported != tt.exported {
			t.Errorf("%s = %+v", tt.name, n)
		}
	}
	if nodes["api/charge.Server.Charge"].Location.Line != 7 {
		t.Errorf("Charge line = %d", nodes["api/charge.Server.Charge"].Location.Line)
	}

	for _, e := range []graph.EdgeSpec{
		{From: "api/charge", To: "import:example.com/orders/client", Kind: graph.EdgeImports},
		{From: "api/charge.Server.Charge", To: "api/charge.validate", Kind: graph.EdgeCalls},
		{From: "api/charge.Server.Charge", To: "calls:Submit", Kind: graph.EdgeCalls},
	} {
		if !edges[e] {
			t.Errorf("missing edge %+v; have %v", e, rg.Edges)
		}
	}
}

func TestExtractSource_Python(t *testing.T) {
	src := `from billing.models import Invoice
import orders.client

class Cart(Base):
    def add(self, item, qty=1):
        return helper(item)

def helper(x):
    orders.client.submit(x)
`
	rg, err := ExtractSource(context.Background(), "shop", "shop/cart.py", []byte(src), LangPython)
	if err != nil {
		t.Fatalf("ExtractSource: %v", err)
	}
	nodes, edges := index(rg)

	if n := nodes["shop/cart.Cart.add"]; n.Kind != graph.KindFunction || n.Arity != 2 {
		t.Errorf("add = %+v", n)
	}
	if n := nodes["shop/cart.Cart"]; n.Kind != graph.KindClass || !n.Exported {
		t.Errorf("Cart = %+v", n)
	}
	for _, e := range []graph.EdgeSpec{
		{From: "shop/cart", To: "import:billing.models", Kind: graph.EdgeImports},
		{From: "shop/cart", To: "import:orders.client", Kind: graph.EdgeImports},
		{From: "shop/cart.Cart", To: "inherits:Base", Kind: graph.EdgeInherits},
		{From: "shop/cart.Cart.add", To: "shop/cart.helper", Kind: graph.EdgeCalls},
		{From: "shop/cart.helper", To: "calls:submit", Kind: graph.EdgeCalls},
	} {
		if !edges[e] {
			t.Errorf("missing edge %+v; have %v", e, rg.Edges)
		}
	}
}

func TestTreeSitterProvider_Extract(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "web/util.js", "export function format(a, b) { return a + b }\n")
	writeFile(t, root, "web/app.js", `import { format } from './util'
export const render = (x) => format(x, 1)
class View extends Base {
  show() { render(1) }
}
`)
	writeFile(t, root, "web/app.test.js", "render(2)\n")

	p, err := NewTreeSitter(Options{Exclude: []string{"**/*.test.js"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rg, err := p.Extract(context.Background(), repos.Repository{ID: "web", RootPath: root})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	nodes, edges := index(rg)

	if n := nodes["web/util.format"]; n.Arity != 2 || !n.Exported {
		t.Errorf("format = %+v", n)
	}
	if n := nodes["web/app.render"]; n.Kind != graph.KindFunction || !n.Exported || n.Arity != 1 {
		t.Errorf("render = %+v", n)
	}
	if n := nodes["web/app.View.show"]; n.Kind != graph.KindFunction || n.Exported {
		t.Errorf("show = %+v", n)
	}
	if _, ok := nodes["web/app.test"]; ok {
		t.Error("excluded file was parsed")
	}
	for _, e := range []graph.EdgeSpec{
		{From: "web/app", To: "web/util", Kind: graph.EdgeImports},
		{From: "web/app.render", To: "web/util.format", Kind: graph.EdgeCalls},
		{From: "web/app.View.show", To: "web/app.render", Kind: graph.EdgeCalls},
		{From: "web/app.View", To: "inherits:Base", Kind: graph.EdgeInherits},
	} {
		if !edges[e] {
			t.Errorf("missing edge %+v; have %v", e, rg.Edges)
		}
	}

	g := graph.New(nil)
	if err := g.AddRepo("web", *rg); err != nil {
		t.Fatalf("parsed graph should be admissible: %v", err)
	}
}
