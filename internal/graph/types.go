// Package graph merges per-repository symbol graphs into one namespaced multigraph.
package graph

import (
	"strings"
)

// NodeKind classifies a symbol.
type NodeKind string

const (
	KindFunction NodeKind = "function"
	KindClass    NodeKind = "class"
	KindModule   NodeKind = "module"
	KindVariable NodeKind = "variable"
	KindOther    NodeKind = "other"
)

// ParseNodeKind maps provider kind strings onto the closed set. Unknown kinds become KindOther.
func ParseNodeKind(s string) NodeKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "function", "func", "method":
		return KindFunction
	case "class", "type", "struct", "interface":
		return KindClass
	case "module", "package", "file":
		return KindModule
	case "variable", "var", "const", "constant", "field":
		return KindVariable
	default:
		return KindOther
	}
}

// EdgeKind classifies a dependency edge.
type EdgeKind string

const (
	EdgeCalls      EdgeKind = "calls"
	EdgeImports    EdgeKind = "imports"
	EdgeInherits   EdgeKind = "inherits"
	EdgeReferences EdgeKind = "references"
	EdgeOther      EdgeKind = "other"
)

// ParseEdgeKind maps provider edge kinds onto the closed set. Unknown kinds become EdgeOther.
func ParseEdgeKind(s string) EdgeKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calls", "call":
		return EdgeCalls
	case "imports", "import":
		return EdgeImports
	case "inherits", "extends", "implements":
		return EdgeInherits
	case "references", "reference", "ref":
		return EdgeReferences
	default:
		return EdgeOther
	}
}

// idSep separates the repository ID from the qualified name in a NodeID.
const idSep = "|"

// NodeID is the namespaced identity of a symbol: "repoID|qualifiedName".
type NodeID string

// MakeID builds the namespaced ID for a symbol.
func MakeID(repoID, qualifiedName string) NodeID {
	return NodeID(repoID + idSep + qualifiedName)
}

// Split returns the repository ID and qualified name. ok is false when the ID is not namespaced.
func (id NodeID) Split() (repoID, qualifiedName string, ok bool) {
	repoID, qualifiedName, ok = strings.Cut(string(id), idSep)
	return
}

// Repo returns the owning repository ID.
func (id NodeID) Repo() string {
	r, _, _ := id.Split()
	return r
}

// Name returns the qualified name part.
func (id NodeID) Name() string {
	_, n, ok := id.Split()
	if !ok {
		return string(id)
	}
	return n
}

// Location is where a symbol is defined, relative to its repository root.
type Location struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Line int    `json:"line,omitempty" yaml:"line,omitempty"`
}

// Node is a symbol in a repository.
type Node struct {
	QualifiedName string   `json:"name"`
	RepoID        string   `json:"repo"`
	Kind          NodeKind `json:"kind"`
	Location      Location `json:"location"`
	// Arity is the parameter count of a callable, -1 when unknown.
	Arity    int  `json:"arity"`
	Exported bool `json:"exported"`
}

// ID returns the namespaced node ID.
func (n Node) ID() NodeID {
	return MakeID(n.RepoID, n.QualifiedName)
}

// ShortName returns the last segment of the qualified name.
func (n Node) ShortName() string {
	return ShortName(n.QualifiedName)
}

// ShortName strips package, module and receiver qualifiers from a name:
// "billing.models.Invoice" and "pkg::Invoice" both yield "Invoice".
func ShortName(qualified string) string {
	s := qualified
	if i := strings.LastIndexAny(s, ".:/#"); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, "()")
}

// Edge is a directed dependency between two namespaced nodes.
// An edge is identified by the (From, To, Kind) triple.
type Edge struct {
	From NodeID   `json:"from"`
	To   NodeID   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Owner returns the repository that owns the edge, the repository of its source.
func (e Edge) Owner() string {
	return e.From.Repo()
}

// EdgeSpec is an edge as submitted by a provider. Endpoints are qualified names
// inside the submitting repository, or namespaced IDs ("repo|name") that refer to
// nodes already admitted for another repository.
type EdgeSpec struct {
	From string   `json:"from" yaml:"from"`
	To   string   `json:"to" yaml:"to"`
	Kind EdgeKind `json:"kind" yaml:"kind"`
}

// RepoGraph is one repository's symbol graph as produced by a provider.
type RepoGraph struct {
	RepoID   string
	Revision string
	Nodes    []Node
	Edges    []EdgeSpec
}

// ChangeSet describes an incremental update of one repository.
// Removing a node also removes every edge of the repository that touches it.
type ChangeSet struct {
	Revision    string
	UpsertNodes []Node
	RemoveNodes []string
	UpsertEdges []EdgeSpec
	RemoveEdges []EdgeSpec
}

// Empty reports whether the change set carries no changes.
func (c ChangeSet) Empty() bool {
	return len(c.UpsertNodes) == 0 && len(c.RemoveNodes) == 0 &&
		len(c.UpsertEdges) == 0 && len(c.RemoveEdges) == 0
}

func compareEdges(a, b Edge) int {
	if c := strings.Compare(string(a.From), string(b.From)); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.To), string(b.To)); c != 0 {
		return c
	}
	return strings.Compare(string(a.Kind), string(b.Kind))
}
