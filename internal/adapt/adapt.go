// Package adapt defines the contract between integration points and an external
// code adaptation engine that rewrites code from one repository for another.
// No rewriting engine lives here.
package adapt

import (
	"fmt"
	"maps"
	"slices"

	"xrepo/internal/graph"
	"xrepo/internal/integration"
)

// Tree is a parsed syntax tree owned by the adaptation engine.
type Tree interface {
	Language() string
}

// Parser turns source code into a tree.
type Parser interface {
	Parse(code []byte) (Tree, error)
}

// Transformer rewrites names in a tree. namespaceMap and typeMap map source
// names to target names.
type Transformer interface {
	Transform(tree Tree, namespaceMap, typeMap map[string]string) (Tree, error)
}

// Unparser renders a tree back to source code.
type Unparser interface {
	Unparse(tree Tree) ([]byte, error)
}

// FallbackSignal tells the caller that code could not be adapted structurally
// and must be handled another way, for example by inserting it unchanged.
type FallbackSignal struct {
	Stage string
	Cause error
}

func (f *FallbackSignal) Error() string {
	return fmt.Sprintf("adaptation fell back at %s: %v", f.Stage, f.Cause)
}

func (f *FallbackSignal) Unwrap() error {
	return f.Cause
}

// Pipeline chains the three engine stages.
type Pipeline struct {
	Parser      Parser
	Transformer Transformer
	Unparser    Unparser
}

// Adapt parses, transforms and unparses code. A parse failure returns the
// original code together with a *FallbackSignal; later failures are returned
// as ordinary errors.
func (p Pipeline) Adapt(code []byte, namespaceMap, typeMap map[string]string) ([]byte, error) {
	tree, err := p.Parser.Parse(code)
	if err != nil {
		return code, &FallbackSignal{Stage: "parse", Cause: err}
	}
	lang := tree.Language()
	tree, err = p.Transformer.Transform(tree, namespaceMap, typeMap)
	if err != nil {
		return nil, fmt.Errorf("transform %s tree: %w", lang, err)
	}
	out, err := p.Unparser.Unparse(tree)
	if err != nil {
		return nil, fmt.Errorf("unparse %s tree: %w", lang, err)
	}
	return out, nil
}

type mapping struct {
	target     string
	confidence float64
}

// NamespaceMapFor derives the names code from source must be rewritten to when
// moved into target. API connections from source to target map the referenced
// short name to the target's qualified name; shared symbols that only match
// after normalization map the source spelling to the target spelling. Conflicts
// keep the highest confidence, then the lexicographically smallest target.
func NamespaceMapFor(points []integration.IntegrationPoint, source, target string) map[string]string {
	best := make(map[string]mapping)
	put := func(from, to string, conf float64) {
		if from == "" || from == to {
			return
		}
		cur, ok := best[from]
		if !ok || conf > cur.confidence || (conf == cur.confidence && to < cur.target) {
			best[from] = mapping{target: to, confidence: conf}
		}
	}

	pair := integration.NewRepoPair(source, target)
	for _, pt := range points {
		if pt.Pair != pair {
			continue
		}
		for _, c := range pt.APIConnections {
			if c.Edge.From.Repo() != source || c.Target.Repo() != target {
				continue
			}
			put(graph.ShortName(c.Edge.To.Name()), c.Target.Name(), c.Confidence)
		}
		for _, s := range pt.SharedSymbols {
			if s.Exact {
				continue
			}
			from, to := s.Left, s.Right
			if pair.Left != source {
				from, to = to, from
			}
			put(from, to, 0)
		}
	}

	out := make(map[string]string, len(best))
	for k, m := range best {
		out[k] = m.target
	}
	return out
}

// TypeMapFor narrows a namespace map to entries whose target is a class in g.
// Targets are looked up as qualified names first, then by short name.
func TypeMapFor(g *graph.Graph, namespaceMap map[string]string, target string) map[string]string {
	out := make(map[string]string)
	_ = g.View(func(v *graph.View) error {
		for from, to := range namespaceMap {
			if n, ok := v.Node(graph.MakeID(target, to)); ok {
				if n.Kind == graph.KindClass {
					out[from] = to
				}
				continue
			}
			for _, id := range v.Definitions(target, graph.ShortName(to)) {
				if n, _ := v.Node(id); n.Kind == graph.KindClass {
					out[from] = to
					break
				}
			}
		}
		return nil
	})
	return out
}

// Keys returns the map's keys sorted, for stable rendering.
func Keys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
