//go:build cgo

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"xrepo/internal/graph"
	"xrepo/internal/repos"
	"xrepo/internal/repostate"
	"xrepo/internal/slogutil"
)

// TreeSitterProvider extracts symbols and call edges by parsing source files.
type TreeSitterProvider struct {
	opts   Options
	logger *slog.Logger
}

// NewTreeSitter creates a tree-sitter provider.
func NewTreeSitter(opts Options, logger *slog.Logger) (*TreeSitterProvider, error) {
	return &TreeSitterProvider{opts: opts, logger: slogutil.OrDiscard(logger)}, nil
}

// TreeSitterAvailable reports whether the tree-sitter provider can run.
func TreeSitterAvailable() bool { return true }

// Name implements Provider.
func (p *TreeSitterProvider) Name() string { return NameTreeSitter }

// Extract implements Provider.
func (p *TreeSitterProvider) Extract(ctx context.Context, repo repos.Repository) (*graph.RepoGraph, error) {
	b := newBuilder()
	var refs []pendingRef
	parser := sitter.NewParser()
	defer parser.Close()

	filter := newFileFilter(repo.RootPath, p.opts)
	files := 0
	err := filter.walk(ctx, repo.RootPath, func(rel string) bool {
		_, ok := LanguageFromPath(rel)
		return ok
	}, func(rel, abs string) error {
		lang, _ := LanguageFromPath(rel)
		source, err := os.ReadFile(abs)
		if err != nil {
			p.logger.Warn("skipping unreadable file", "repo", repo.ID, "path", rel, "error", err)
			return nil
		}
		fileRefs, err := extractSource(ctx, parser, b, rel, source, lang)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("skipping unparsable file", "repo", repo.ID, "path", rel, "error", err)
			return nil
		}
		refs = append(refs, fileRefs...)
		files++
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolveRefs(b, refs)
	b.revision = repostate.RevisionOf(repo.RootPath, "")

	rg := b.graph(repo.ID)
	p.logger.Debug("parsed repository",
		"repo", repo.ID,
		"files", files,
		"nodes", len(rg.Nodes),
		"edges", len(rg.Edges),
	)
	return rg, nil
}

// ExtractSource parses one file and returns its graph fragment. Calls are
// resolved only against definitions in the same file.
func ExtractSource(ctx context.Context, repoID, rel string, source []byte, lang Language) (*graph.RepoGraph, error) {
	b := newBuilder()
	parser := sitter.NewParser()
	defer parser.Close()

	refs, err := extractSource(ctx, parser, b, rel, source, lang)
	if err != nil {
		return nil, err
	}
	resolveRefs(b, refs)
	return b.graph(repoID), nil
}

func sitterLanguage(lang Language) (*sitter.Language, error) {
	switch lang {
	case LangGo:
		return golang.GetLanguage(), nil
	case LangPython:
		return python.GetLanguage(), nil
	case LangJavaScript:
		return javascript.GetLanguage(), nil
	case LangTypeScript:
		return typescript.GetLanguage(), nil
	case LangTSX:
		return tsx.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
}

// pendingRef is a call, import or base-class reference awaiting resolution
// once every file of the repository has been parsed.
type pendingRef struct {
	from  string
	name  string
	kind  graph.EdgeKind
	arity int
	path  string
}

// fileWalker carries per-file extraction state.
type fileWalker struct {
	b      *builder
	lang   Language
	rel    string
	module string
	source []byte
	refs   []pendingRef
}

func extractSource(ctx context.Context, parser *sitter.Parser, b *builder, rel string, source []byte, lang Language) ([]pendingRef, error) {
	tsLang, err := sitterLanguage(lang)
	if err != nil {
		return nil, err
	}
	parser.SetLanguage(tsLang)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	defer tree.Close()

	w := &fileWalker{b: b, lang: lang, rel: rel, module: moduleName(rel), source: source}
	b.addNode(graph.Node{
		QualifiedName: w.module,
		Kind:          graph.KindModule,
		Location:      graph.Location{Path: rel, Line: 1},
		Arity:         -1,
		Exported:      true,
	})
	w.walk(tree.RootNode(), w.module, "", false)
	return w.refs, nil
}

func (w *fileWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.source)
}

func (w *fileWalker) define(qn string, kind graph.NodeKind, n *sitter.Node, arity int, exported bool) {
	w.b.addNode(graph.Node{
		QualifiedName: qn,
		Kind:          kind,
		Location:      graph.Location{Path: w.rel, Line: int(n.StartPoint().Row) + 1},
		Arity:         arity,
		Exported:      exported,
	})
}

func (w *fileWalker) ref(from, name string, kind graph.EdgeKind, arity int) {
	if name == "" {
		return
	}
	w.refs = append(w.refs, pendingRef{from: from, name: name, kind: kind, arity: arity, path: w.rel})
}

// walk visits n. scope is the qualified name that owns references found here,
// container the enclosing class, exported whether the enclosing declaration is
// exported (JavaScript export statements).
func (w *fileWalker) walk(n *sitter.Node, scope, container string, exported bool) {
	if n == nil {
		return
	}

	switch w.lang {
	case LangGo:
		if next, handled := w.goNode(n, scope); handled {
			scope = next
		}
	case LangPython:
		if next, cont, handled := w.pyNode(n, scope, container); handled {
			scope, container = next, cont
		}
	default:
		if n.Type() == "export_statement" {
			exported = true
		}
		if next, cont, handled := w.jsNode(n, scope, container, exported); handled {
			scope, container = next, cont
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), scope, container, exported)
	}
}

func (w *fileWalker) goNode(n *sitter.Node, scope string) (string, bool) {
	switch n.Type() {
	case "function_declaration":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return scope, false
		}
		qn := w.module + "." + name
		w.define(qn, graph.KindFunction, n, countParams(w.lang, n.ChildByFieldName("parameters"), w.source), goExported(name))
		return qn, true

	case "method_declaration":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return scope, false
		}
		qn := w.module + "." + name
		if recv := goReceiverType(n.ChildByFieldName("receiver"), w.source); recv != "" {
			qn = w.module + "." + recv + "." + name
		}
		w.define(qn, graph.KindFunction, n, countParams(w.lang, n.ChildByFieldName("parameters"), w.source), goExported(name))
		return qn, true

	case "type_spec":
		name := w.text(n.ChildByFieldName("name"))
		if name != "" {
			w.define(w.module+"."+name, graph.KindClass, n, -1, goExported(name))
		}

	case "import_spec":
		w.ref(w.module, strings.Trim(w.text(n.ChildByFieldName("path")), "\"`"), graph.EdgeImports, -1)

	case "call_expression":
		w.ref(scope, goCallee(n.ChildByFieldName("function"), w.source), graph.EdgeCalls, argCount(n.ChildByFieldName("arguments")))
	}
	return scope, false
}

func (w *fileWalker) pyNode(n *sitter.Node, scope, container string) (string, string, bool) {
	switch n.Type() {
	case "function_definition":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return scope, container, false
		}
		qn := w.module + "." + name
		if container != "" {
			qn = container + "." + name
		}
		w.define(qn, graph.KindFunction, n, countParams(w.lang, n.ChildByFieldName("parameters"), w.source), !strings.HasPrefix(name, "_"))
		return qn, "", true

	case "class_definition":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return scope, container, false
		}
		qn := w.module + "." + name
		if container != "" {
			qn = container + "." + name
		}
		w.define(qn, graph.KindClass, n, -1, !strings.HasPrefix(name, "_"))
		if bases := n.ChildByFieldName("superclasses"); bases != nil {
			for i := 0; i < int(bases.NamedChildCount()); i++ {
				base := bases.NamedChild(i)
				if base.Type() == "identifier" || base.Type() == "attribute" {
					w.ref(qn, graph.ShortName(w.text(base)), graph.EdgeInherits, -1)
				}
			}
		}
		return qn, qn, true

	case "import_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "aliased_import" {
				c = c.ChildByFieldName("name")
			}
			if c != nil && c.Type() == "dotted_name" {
				w.ref(w.module, w.text(c), graph.EdgeImports, -1)
			}
		}

	case "import_from_statement":
		w.ref(w.module, strings.TrimLeft(w.text(n.ChildByFieldName("module_name")), "."), graph.EdgeImports, -1)

	case "call":
		fn := n.ChildByFieldName("function")
		name := ""
		switch {
		case fn == nil:
		case fn.Type() == "identifier":
			name = w.text(fn)
		case fn.Type() == "attribute":
			name = w.text(fn.ChildByFieldName("attribute"))
		}
		w.ref(scope, name, graph.EdgeCalls, argCount(n.ChildByFieldName("arguments")))
	}
	return scope, container, false
}

func (w *fileWalker) jsNode(n *sitter.Node, scope, container string, exported bool) (string, string, bool) {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return scope, container, false
		}
		qn := w.module + "." + name
		w.define(qn, graph.KindFunction, n, countParams(w.lang, n.ChildByFieldName("parameters"), w.source), exported)
		return qn, container, true

	case "variable_declarator":
		value := n.ChildByFieldName("value")
		if value == nil || (value.Type() != "arrow_function" && value.Type() != "function_expression" && value.Type() != "function") {
			return scope, container, false
		}
		name := w.text(n.ChildByFieldName("name"))
		if name == "" || container != "" {
			return scope, container, false
		}
		qn := w.module + "." + name
		w.define(qn, graph.KindFunction, n, countParams(w.lang, value.ChildByFieldName("parameters"), w.source), exported)
		return qn, container, true

	case "class_declaration", "abstract_class_declaration", "interface_declaration":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" {
			return scope, container, false
		}
		qn := w.module + "." + name
		w.define(qn, graph.KindClass, n, -1, exported)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "class_heritage" || c.Type() == "extends_type_clause" {
				for _, base := range heritageNames(c, w.source) {
					w.ref(qn, base, graph.EdgeInherits, -1)
				}
			}
		}
		return qn, qn, true

	case "method_definition", "method_signature":
		name := w.text(n.ChildByFieldName("name"))
		if name == "" || container == "" {
			return scope, container, false
		}
		qn := container + "." + name
		w.define(qn, graph.KindFunction, n, countParams(w.lang, n.ChildByFieldName("parameters"), w.source),
			exported && !strings.HasPrefix(name, "#"))
		return qn, container, true

	case "import_statement":
		w.ref(w.module, strings.Trim(w.text(n.ChildByFieldName("source")), "'\"`"), graph.EdgeImports, -1)

	case "call_expression":
		fn := n.ChildByFieldName("function")
		name := ""
		switch {
		case fn == nil:
		case fn.Type() == "identifier":
			name = w.text(fn)
		case fn.Type() == "member_expression":
			name = w.text(fn.ChildByFieldName("property"))
		}
		w.ref(scope, name, graph.EdgeCalls, argCount(n.ChildByFieldName("arguments")))
	}
	return scope, container, false
}

// heritageNames collects identifiers from an extends/implements clause.
func heritageNames(n *sitter.Node, source []byte) []string {
	var out []string
	var visit func(*sitter.Node)
	visit = func(c *sitter.Node) {
		switch c.Type() {
		case "identifier", "type_identifier":
			out = append(out, c.Content(source))
			return
		case "member_expression":
			if prop := c.ChildByFieldName("property"); prop != nil {
				out = append(out, prop.Content(source))
			}
			return
		case "type_arguments", "arguments":
			return
		}
		for i := 0; i < int(c.NamedChildCount()); i++ {
			visit(c.NamedChild(i))
		}
	}
	visit(n)
	return out
}

func goExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// goReceiverType returns the bare receiver type: "(s *Server[T])" yields "Server".
func goReceiverType(recv *sitter.Node, source []byte) string {
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		param := recv.NamedChild(i)
		t := param.ChildByFieldName("type")
		for t != nil {
			switch t.Type() {
			case "pointer_type":
				t = t.NamedChild(0)
				continue
			case "generic_type":
				t = t.ChildByFieldName("type")
				continue
			}
			return t.Content(source)
		}
	}
	return ""
}

func goCallee(fn *sitter.Node, source []byte) string {
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(source)
	case "selector_expression":
		if field := fn.ChildByFieldName("field"); field != nil {
			return field.Content(source)
		}
	}
	return ""
}

// countParams counts declared parameters. Python self and cls are not counted.
func countParams(lang Language, params *sitter.Node, source []byte) int {
	if params == nil {
		return -1
	}
	count := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch lang {
		case LangGo:
			names := 0
			for j := 0; j < int(p.NamedChildCount()); j++ {
				if p.NamedChild(j).Type() == "identifier" {
					names++
				}
			}
			count += max(names, 1)
		case LangPython:
			if p.Type() == "comment" {
				continue
			}
			if name := p.Content(source); name == "self" || name == "cls" {
				continue
			}
			count++
		default:
			if p.Type() == "comment" {
				continue
			}
			count++
		}
	}
	return count
}

func argCount(args *sitter.Node) int {
	if args == nil {
		return -1
	}
	count := 0
	for i := 0; i < int(args.NamedChildCount()); i++ {
		if args.NamedChild(i).Type() != "comment" {
			count++
		}
	}
	return count
}

// resolveRefs turns pending references into edges: to a definition of the
// repository when one matches, to an imported module of the repository, or to
// a placeholder node otherwise.
func resolveRefs(b *builder, refs []pendingRef) {
	for _, r := range refs {
		if _, ok := b.nodes[r.from]; !ok {
			continue
		}
		switch r.kind {
		case graph.EdgeImports:
			if target, ok := resolveImport(b, r.path, r.name); ok {
				b.addEdge(r.from, target, graph.EdgeImports)
				continue
			}
			b.addEdge(r.from, b.placeholder("import", r.name, -1), graph.EdgeImports)
		default:
			if target, ok := b.resolve(r.name, r.path); ok {
				b.addEdge(r.from, target, r.kind)
				continue
			}
			b.addEdge(r.from, b.placeholder(string(r.kind), r.name, r.arity), r.kind)
		}
	}
}

// resolveImport maps an import string onto a module node of the repository:
// relative JavaScript paths against the importing file, Python dotted names
// as paths from the repository root.
func resolveImport(b *builder, fromPath, spec string) (string, bool) {
	var candidates []string
	switch {
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		p := path.Join(path.Dir(fromPath), spec)
		candidates = append(candidates, moduleName(p), p, path.Join(p, "index"))
	default:
		candidates = append(candidates, spec, strings.ReplaceAll(spec, ".", "/"))
	}
	for _, c := range candidates {
		if n, ok := b.nodes[c]; ok && n.Kind == graph.KindModule {
			return c, true
		}
	}
	return "", false
}
