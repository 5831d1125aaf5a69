package providers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/repos"
	"xrepo/internal/repostate"
	"xrepo/internal/slogutil"
)

// DefaultSCIPIndex is the index path probed when none is configured.
const DefaultSCIPIndex = "index.scip"

// defaultMaxFunctionLines bounds a definition whose end cannot be inferred.
const defaultMaxFunctionLines = 200

// SCIPProvider builds a symbol graph from a SCIP index.
type SCIPProvider struct {
	opts   Options
	logger *slog.Logger
}

// NewSCIP creates a SCIP provider.
func NewSCIP(opts Options, logger *slog.Logger) *SCIPProvider {
	return &SCIPProvider{opts: opts, logger: slogutil.OrDiscard(logger)}
}

// Name implements Provider.
func (p *SCIPProvider) Name() string { return NameSCIP }

// Extract implements Provider.
func (p *SCIPProvider) Extract(ctx context.Context, repo repos.Repository) (*graph.RepoGraph, error) {
	path := p.opts.IndexPath
	if path == "" {
		path = DefaultSCIPIndex
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(repo.RootPath, path)
	}

	index, err := LoadSCIPIndex(path)
	if err != nil {
		return nil, err
	}

	filter := newFileFilter(repo.RootPath, p.opts)
	rg, err := graphFromSCIP(ctx, repo.ID, index, filter.match)
	if err != nil {
		return nil, err
	}
	rg.Revision = repostate.RevisionOf(repo.RootPath, "")
	p.logger.Debug("converted scip index",
		"repo", repo.ID,
		"documents", len(index.Documents),
		"nodes", len(rg.Nodes),
		"edges", len(rg.Edges),
	)
	return rg, nil
}

// LoadSCIPIndex reads and decodes a SCIP protobuf index.
func LoadSCIPIndex(path string) (*scippb.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ProviderUnavailable, "SCIP index not found at %s", path)
		}
		return nil, errors.New(errors.ProviderUnavailable, "failed to read SCIP index", err)
	}

	var index scippb.Index
	if err := proto.Unmarshal(data, &index); err != nil {
		return nil, errors.New(errors.ValidationError, "failed to parse SCIP index", err).
			WithDetails(map[string]interface{}{"path": path})
	}
	return &index, nil
}

type scipDef struct {
	symbol    string
	name      string
	kind      graph.NodeKind
	startLine int
	endLine   int
}

func graphFromSCIP(ctx context.Context, repoID string, index *scippb.Index, accept func(string) bool) (*graph.RepoGraph, error) {
	b := newBuilder()

	// symbol -> qualified name for everything defined in this index
	defined := make(map[string]string)
	docDefs := make(map[string][]scipDef)

	for _, doc := range index.Documents {
		rel := filepath.ToSlash(doc.RelativePath)
		if accept != nil && !accept(rel) {
			continue
		}
		b.addNode(graph.Node{
			QualifiedName: moduleName(rel),
			Kind:          graph.KindModule,
			Location:      graph.Location{Path: rel, Line: 1},
			Arity:         -1,
			Exported:      true,
		})

		var defs []scipDef
		for _, occ := range doc.Occurrences {
			if occ.SymbolRoles&int32(scippb.SymbolRole_Definition) == 0 || isLocalSymbol(occ.Symbol) || len(occ.Range) == 0 {
				continue
			}
			name, kind, ok := scipName(occ.Symbol)
			if !ok {
				continue
			}
			d := scipDef{symbol: occ.Symbol, name: name, kind: kind, startLine: int(occ.Range[0])}
			d.endLine = enclosingEndLine(occ.EnclosingRange)
			defs = append(defs, d)

			defined[occ.Symbol] = name
			b.addNode(graph.Node{
				QualifiedName: name,
				Kind:          kind,
				Location:      graph.Location{Path: rel, Line: d.startLine + 1},
				Arity:         -1,
				Exported:      isExportedName(graph.ShortName(name), occ.Symbol),
			})
		}
		inferEndLines(defs)
		docDefs[rel] = defs
	}

	for _, doc := range index.Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := filepath.ToSlash(doc.RelativePath)
		defs, ok := docDefs[rel]
		if !ok {
			continue
		}
		module := moduleName(rel)

		for _, occ := range doc.Occurrences {
			if occ.SymbolRoles&int32(scippb.SymbolRole_Definition) != 0 || isLocalSymbol(occ.Symbol) || len(occ.Range) == 0 {
				continue
			}
			targetName, kind, ok := scipName(occ.Symbol)
			if !ok {
				continue
			}
			target, known := defined[occ.Symbol]
			if !known {
				target = b.placeholder("extern", targetName, -1)
			}

			line := int(occ.Range[0])
			from := enclosingDef(defs, line)
			switch {
			case from == "" && kind == graph.KindModule:
				b.addEdge(module, target, graph.EdgeImports)
			case from == "":
				b.addEdge(module, target, graph.EdgeReferences)
			case kind == graph.KindFunction:
				b.addEdge(from, target, graph.EdgeCalls)
			default:
				b.addEdge(from, target, graph.EdgeReferences)
			}
		}
	}

	return b.graph(repoID), nil
}

// inferEndLines assigns each definition without an enclosing range the line
// before the next definition.
func inferEndLines(defs []scipDef) {
	slices.SortStableFunc(defs, func(a, b scipDef) int { return a.startLine - b.startLine })
	for i := range defs {
		if defs[i].endLine >= defs[i].startLine {
			continue
		}
		defs[i].endLine = defs[i].startLine + defaultMaxFunctionLines
		if i+1 < len(defs) {
			defs[i].endLine = max(defs[i+1].startLine-1, defs[i].startLine)
		}
	}
}

// enclosingDef returns the innermost function or class containing line.
func enclosingDef(defs []scipDef, line int) string {
	best := ""
	bestSpan := -1
	for _, d := range defs {
		if d.kind != graph.KindFunction && d.kind != graph.KindClass {
			continue
		}
		if line < d.startLine || line > d.endLine {
			continue
		}
		if span := d.endLine - d.startLine; bestSpan < 0 || span < bestSpan {
			best, bestSpan = d.name, span
		}
	}
	return best
}

// enclosingEndLine returns the end line of a SCIP range: [startLine, startChar,
// endLine, endChar], or three elements when start and end share a line. -1
// when the range is absent.
func enclosingEndLine(r []int32) int {
	switch len(r) {
	case 4:
		return int(r[2])
	case 3:
		return int(r[0])
	default:
		return -1
	}
}

// stripParens drops method disambiguators such as "(+1)" and "()".
func stripParens(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isLocalSymbol(symbol string) bool {
	return symbol == "" || strings.HasPrefix(symbol, "local ")
}

// scipName turns a SCIP symbol ("scheme manager package version descriptor")
// into a qualified name and kind. Descriptor suffixes select the kind:
// "()." functions, "#" types, "/" namespaces.
func scipName(symbol string) (string, graph.NodeKind, bool) {
	parts := strings.SplitN(symbol, " ", 5)
	if len(parts) < 4 {
		return "", "", false
	}
	descriptor := parts[len(parts)-1]
	if descriptor == "" {
		return "", "", false
	}

	var kind graph.NodeKind
	switch {
	case strings.Contains(descriptor, "("):
		kind = graph.KindFunction
	case strings.HasSuffix(descriptor, "#"):
		kind = graph.KindClass
	case strings.HasSuffix(descriptor, "/"):
		kind = graph.KindModule
	default:
		kind = graph.KindVariable
	}

	name := stripParens(strings.ReplaceAll(descriptor, "`", ""))
	name = strings.TrimRight(name, ".#/")
	if name == "" {
		return "", "", false
	}
	return name, kind, true
}

// isExportedName applies the Go capitalization rule to scip-go symbols and the
// leading-underscore convention elsewhere.
func isExportedName(short, symbol string) bool {
	if short == "" || strings.HasPrefix(short, "_") {
		return false
	}
	if strings.HasPrefix(symbol, "scip-go ") {
		r, _ := utf8.DecodeRuneInString(short)
		return unicode.IsUpper(r)
	}
	return true
}

// moduleName is the qualified name of a file's module node: its path without
// extension.
func moduleName(rel string) string {
	return strings.TrimSuffix(rel, filepath.Ext(rel))
}
