package graph

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"xrepo/internal/errors"
	"xrepo/internal/slogutil"
)

// subgraph holds one repository's admitted nodes and the edges it owns.
type subgraph struct {
	revision string
	nodes    map[NodeID]Node
	edges    map[Edge]struct{}
	out      map[NodeID]map[Edge]struct{}
	in       map[NodeID]map[Edge]struct{} // edges owned by this repo, keyed by target

	// Definition indexes keyed by short name and by normalized short name.
	byName map[string]map[NodeID]struct{}
	byNorm map[string]map[NodeID]struct{}
}

func newSubgraph(revision string) *subgraph {
	return &subgraph{
		revision: revision,
		nodes:    make(map[NodeID]Node),
		edges:    make(map[Edge]struct{}),
		out:      make(map[NodeID]map[Edge]struct{}),
		in:       make(map[NodeID]map[Edge]struct{}),
		byName:   make(map[string]map[NodeID]struct{}),
		byNorm:   make(map[string]map[NodeID]struct{}),
	}
}

func addToSet[K comparable, V comparable](m map[K]map[V]struct{}, k K, v V) {
	s, ok := m[k]
	if !ok {
		s = make(map[V]struct{})
		m[k] = s
	}
	s[v] = struct{}{}
}

func removeFromSet[K comparable, V comparable](m map[K]map[V]struct{}, k K, v V) {
	s, ok := m[k]
	if !ok {
		return
	}
	delete(s, v)
	if len(s) == 0 {
		delete(m, k)
	}
}

func (s *subgraph) putNode(n Node) {
	id := n.ID()
	if old, ok := s.nodes[id]; ok {
		s.unindex(old)
	}
	s.nodes[id] = n
	if n.Kind != KindOther {
		short := n.ShortName()
		addToSet(s.byName, short, id)
		addToSet(s.byNorm, NormalizeName(short), id)
	}
}

func (s *subgraph) unindex(n Node) {
	short := n.ShortName()
	removeFromSet(s.byName, short, n.ID())
	removeFromSet(s.byNorm, NormalizeName(short), n.ID())
}

// dropNode removes a node and every owned edge touching it.
func (s *subgraph) dropNode(id NodeID) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	for e := range s.out[id] {
		s.dropEdge(e)
	}
	for e := range s.in[id] {
		s.dropEdge(e)
	}
	s.unindex(n)
	delete(s.nodes, id)
}

func (s *subgraph) putEdge(e Edge) {
	s.edges[e] = struct{}{}
	addToSet(s.out, e.From, e)
	addToSet(s.in, e.To, e)
}

func (s *subgraph) dropEdge(e Edge) {
	delete(s.edges, e)
	removeFromSet(s.out, e.From, e)
	removeFromSet(s.in, e.To, e)
}

// Graph is the cross-repository multigraph. Mutations take the write lock for
// their whole duration and are validated before anything is written, so readers
// never observe a partially merged repository.
type Graph struct {
	mu         sync.RWMutex
	repos      map[string]*subgraph
	generation uint64
	logger     *slog.Logger
}

// New creates an empty graph. A nil logger discards output.
func New(logger *slog.Logger) *Graph {
	return &Graph{
		repos:  make(map[string]*subgraph),
		logger: slogutil.OrDiscard(logger),
	}
}

// AddRepo admits a repository's graph, atomically replacing any prior subgraph
// with the same ID. If any edge endpoint cannot be resolved the whole submission
// is refused with a ValidationError and the graph is left untouched.
func (g *Graph) AddRepo(repoID string, rg RepoGraph) error {
	if err := validateRepoID(repoID); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	sg, err := g.buildSubgraph(repoID, rg, g.foreignLookup(repoID))
	if err != nil {
		return err
	}

	_, replaced := g.repos[repoID]
	g.repos[repoID] = sg
	g.generation++

	g.logger.Debug("Repository admitted",
		"repo", repoID,
		"nodes", len(sg.nodes),
		"edges", len(sg.edges),
		"replaced", replaced,
	)
	return nil
}

// UpdateRepo applies a change set to an admitted repository. Only the changed
// nodes, the edges touching them and their name index entries are touched.
// The result equals RemoveRepo followed by AddRepo with the fully updated graph.
func (g *Graph) UpdateRepo(repoID string, cs ChangeSet) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sg, ok := g.repos[repoID]
	if !ok {
		return errors.Newf(errors.NotFound, "repository %q is not in the graph", repoID)
	}

	removed := make(map[NodeID]struct{}, len(cs.RemoveNodes))
	for _, name := range cs.RemoveNodes {
		removed[localID(repoID, name)] = struct{}{}
	}
	upserts := make([]Node, 0, len(cs.UpsertNodes))
	upserted := make(map[NodeID]struct{}, len(cs.UpsertNodes))
	for _, n := range cs.UpsertNodes {
		nn, err := normalizeNode(repoID, n)
		if err != nil {
			return err
		}
		upserts = append(upserts, nn)
		upserted[nn.ID()] = struct{}{}
	}

	// Validate against the post-change view before writing anything.
	local := func(id NodeID) bool {
		if _, ok := upserted[id]; ok {
			return true
		}
		if _, gone := removed[id]; gone {
			return false
		}
		_, ok := sg.nodes[id]
		return ok
	}
	foreign := g.foreignLookup(repoID)

	addEdges := make([]Edge, 0, len(cs.UpsertEdges))
	for _, spec := range cs.UpsertEdges {
		e, err := resolveEdge(repoID, spec, local, foreign)
		if err != nil {
			return err
		}
		addEdges = append(addEdges, e)
	}
	dropEdges := make([]Edge, 0, len(cs.RemoveEdges))
	for _, spec := range cs.RemoveEdges {
		// Removing an edge that does not exist is a no-op.
		e := Edge{From: endpointID(repoID, spec.From), To: endpointID(repoID, spec.To), Kind: ParseEdgeKind(string(spec.Kind))}
		dropEdges = append(dropEdges, e)
	}

	for _, e := range dropEdges {
		sg.dropEdge(e)
	}
	for id := range removed {
		sg.dropNode(id)
	}
	for _, n := range upserts {
		sg.putNode(n)
	}
	for _, e := range addEdges {
		sg.putEdge(e)
	}
	if cs.Revision != "" {
		sg.revision = cs.Revision
	}
	g.generation++

	g.logger.Debug("Repository updated",
		"repo", repoID,
		"upsertedNodes", len(upserts),
		"removedNodes", len(removed),
		"upsertedEdges", len(addEdges),
		"removedEdges", len(dropEdges),
	)
	return nil
}

// RemoveRepo deletes every node and edge owned by the repository. Edges other
// repositories hold into it stay stored but are not visible until it is re-added.
func (g *Graph) RemoveRepo(repoID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.repos[repoID]; !ok {
		return errors.Newf(errors.NotFound, "repository %q is not in the graph", repoID)
	}
	delete(g.repos, repoID)
	g.generation++

	g.logger.Debug("Repository removed", "repo", repoID)
	return nil
}

// Rebuild replaces the whole graph with the given repository graphs. Edges may
// cross between the submitted repositories. An edge into a repository that is
// not submitted is stored but not visible, the same state RemoveRepo leaves,
// so a graph rebuilt from Export holds exactly the exported edges. On any
// validation failure the previous graph is kept.
func (g *Graph) Rebuild(graphs []RepoGraph) error {
	pending := make(map[string]RepoGraph, len(graphs))
	for _, rg := range graphs {
		if err := validateRepoID(rg.RepoID); err != nil {
			return err
		}
		if _, dup := pending[rg.RepoID]; dup {
			return errors.Newf(errors.ConfigurationError, "repository %q submitted twice to rebuild", rg.RepoID)
		}
		pending[rg.RepoID] = rg
	}

	// Nodes of every submitted repo are visible to the others' edges.
	declared := make(map[NodeID]struct{})
	for id, rg := range pending {
		for _, n := range rg.Nodes {
			declared[MakeID(id, n.QualifiedName)] = struct{}{}
		}
	}

	next := make(map[string]*subgraph, len(pending))
	for _, id := range slices.Sorted(maps.Keys(pending)) {
		foreign := func(nid NodeID) bool {
			repo := nid.Repo()
			if repo == id {
				return false
			}
			if _, submitted := pending[repo]; !submitted {
				return true
			}
			_, ok := declared[nid]
			return ok
		}
		sg, err := g.buildSubgraph(id, pending[id], foreign)
		if err != nil {
			return err
		}
		next[id] = sg
	}

	g.mu.Lock()
	g.repos = next
	g.generation++
	g.mu.Unlock()

	g.logger.Info("Graph rebuilt", "repos", len(next))
	return nil
}

// buildSubgraph validates and indexes a full repository submission.
func (g *Graph) buildSubgraph(repoID string, rg RepoGraph, foreign func(NodeID) bool) (*subgraph, error) {
	sg := newSubgraph(rg.Revision)
	for _, n := range rg.Nodes {
		nn, err := normalizeNode(repoID, n)
		if err != nil {
			return nil, err
		}
		sg.putNode(nn)
	}

	local := func(id NodeID) bool {
		_, ok := sg.nodes[id]
		return ok
	}
	for _, spec := range rg.Edges {
		e, err := resolveEdge(repoID, spec, local, foreign)
		if err != nil {
			return nil, err
		}
		sg.putEdge(e)
	}
	return sg, nil
}

// foreignLookup reports whether a node exists in an admitted repository other than self.
// Callers must hold the lock.
func (g *Graph) foreignLookup(self string) func(NodeID) bool {
	return func(id NodeID) bool {
		repo := id.Repo()
		if repo == self {
			return false
		}
		sg, ok := g.repos[repo]
		if !ok {
			return false
		}
		_, ok = sg.nodes[id]
		return ok
	}
}

func validateRepoID(repoID string) error {
	if repoID == "" {
		return errors.New(errors.ValidationError, "repository ID is empty", nil)
	}
	if strings.Contains(repoID, idSep) {
		return errors.Newf(errors.ValidationError, "repository ID %q must not contain %q", repoID, idSep)
	}
	return nil
}

func normalizeNode(repoID string, n Node) (Node, error) {
	if strings.TrimSpace(n.QualifiedName) == "" {
		return Node{}, errors.Newf(errors.ValidationError, "repository %q submitted a node without a name", repoID)
	}
	if strings.Contains(n.QualifiedName, idSep) {
		return Node{}, errors.Newf(errors.ValidationError,
			"repository %q: node name %q must not contain %q", repoID, n.QualifiedName, idSep)
	}
	n.RepoID = repoID
	n.Kind = ParseNodeKind(string(n.Kind))
	return n, nil
}

// localID namespaces a name submitted by repoID, accepting already namespaced names.
func localID(repoID, name string) NodeID {
	if r, _, ok := NodeID(name).Split(); ok && r == repoID {
		return NodeID(name)
	}
	return MakeID(repoID, name)
}

func endpointID(repoID, name string) NodeID {
	if _, _, ok := NodeID(name).Split(); ok {
		return NodeID(name)
	}
	return MakeID(repoID, name)
}

// resolveEdge namespaces an edge spec. The source must be a node of repoID; the
// target may be local or an admitted node of another repository.
func resolveEdge(repoID string, spec EdgeSpec, local, foreign func(NodeID) bool) (Edge, error) {
	e := Edge{
		From: endpointID(repoID, spec.From),
		To:   endpointID(repoID, spec.To),
		Kind: ParseEdgeKind(string(spec.Kind)),
	}
	if e.From.Repo() != repoID || !local(e.From) {
		return Edge{}, danglingEdge(repoID, spec, spec.From)
	}
	if e.To.Repo() == repoID {
		if !local(e.To) {
			return Edge{}, danglingEdge(repoID, spec, spec.To)
		}
	} else if !foreign(e.To) {
		return Edge{}, danglingEdge(repoID, spec, spec.To)
	}
	return e, nil
}

func danglingEdge(repoID string, spec EdgeSpec, endpoint string) error {
	return errors.Newf(errors.ValidationError,
		"repository %q: edge %s -[%s]-> %s has dangling endpoint %q",
		repoID, spec.From, spec.Kind, spec.To, endpoint,
	).WithDetails(map[string]interface{}{
		"repo":     repoID,
		"from":     spec.From,
		"to":       spec.To,
		"kind":     string(spec.Kind),
		"endpoint": endpoint,
	})
}

// NormalizeName folds case and drops separators so "get_user", "getUser" and
// "GET-USER" compare equal.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch r {
		case '_', '-', '.', ' ', ':', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Generation increases on every successful mutation.
func (g *Graph) Generation() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.generation
}

// View runs fn under the shared read lock. The view must not escape fn.
func (g *Graph) View(fn func(v *View) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(&View{g: g})
}

// Repos returns the admitted repository IDs in sorted order.
func (g *Graph) Repos() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return (&View{g: g}).Repos()
}

// HasRepo reports whether the repository is admitted.
func (g *Graph) HasRepo(repoID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.repos[repoID]
	return ok
}

// Node looks up a node by ID.
func (g *Graph) Node(id NodeID) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return (&View{g: g}).Node(id)
}

// RepoNodes returns a repository's nodes sorted by ID.
func (g *Graph) RepoNodes(repoID string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return (&View{g: g}).RepoNodes(repoID)
}

// OutEdges returns the visible outgoing edges of a node, sorted.
func (g *Graph) OutEdges(id NodeID) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return (&View{g: g}).OutEdges(id)
}

// Dependencies returns the nodes reachable from id within hops outgoing edges,
// excluding id itself, sorted.
func (g *Graph) Dependencies(id NodeID, hops int) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return (&View{g: g}).Dependencies(id, hops)
}

// NodesAt returns the nodes of a repository defined in the given file, sorted.
func (g *Graph) NodesAt(repoID, path string) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return (&View{g: g}).NodesAt(repoID, path)
}

// View is a read-only handle valid inside Graph.View.
type View struct {
	g *Graph
}

// Repos returns the admitted repository IDs in sorted order.
func (v *View) Repos() []string {
	return slices.Sorted(maps.Keys(v.g.repos))
}

// Revision returns the provenance revision recorded for a repository.
func (v *View) Revision(repoID string) string {
	if sg, ok := v.g.repos[repoID]; ok {
		return sg.revision
	}
	return ""
}

// Node looks up a node by ID.
func (v *View) Node(id NodeID) (Node, bool) {
	sg, ok := v.g.repos[id.Repo()]
	if !ok {
		return Node{}, false
	}
	n, ok := sg.nodes[id]
	return n, ok
}

func (v *View) exists(id NodeID) bool {
	_, ok := v.Node(id)
	return ok
}

// NodeCount returns the number of nodes in a repository.
func (v *View) NodeCount(repoID string) int {
	if sg, ok := v.g.repos[repoID]; ok {
		return len(sg.nodes)
	}
	return 0
}

// RepoNodes returns a repository's nodes sorted by ID.
func (v *View) RepoNodes(repoID string) []Node {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return nil
	}
	nodes := slices.Collect(maps.Values(sg.nodes))
	slices.SortFunc(nodes, func(a, b Node) int {
		return strings.Compare(string(a.ID()), string(b.ID()))
	})
	return nodes
}

// RepoEdges returns the visible edges owned by a repository, sorted.
func (v *View) RepoEdges(repoID string) []Edge {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return nil
	}
	edges := make([]Edge, 0, len(sg.edges))
	for e := range sg.edges {
		if v.exists(e.To) {
			edges = append(edges, e)
		}
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

// OutEdges returns the visible outgoing edges of a node, sorted.
func (v *View) OutEdges(id NodeID) []Edge {
	sg, ok := v.g.repos[id.Repo()]
	if !ok {
		return nil
	}
	edges := make([]Edge, 0, len(sg.out[id]))
	for e := range sg.out[id] {
		if v.exists(e.To) {
			edges = append(edges, e)
		}
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

// Definitions returns the definition nodes of a repository whose short name is name.
func (v *View) Definitions(repoID, name string) []NodeID {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(sg.byName[name]))
}

// DefinitionNames returns the distinct short names of a repository's definitions.
func (v *View) DefinitionNames(repoID string) []string {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(sg.byName))
}

// NormalizedDefinitions returns the definitions whose normalized short name is key.
func (v *View) NormalizedDefinitions(repoID, key string) []NodeID {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(sg.byNorm[key]))
}

// NormalizedKeys returns the distinct normalized short names of a repository's definitions.
func (v *View) NormalizedKeys(repoID string) []string {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(sg.byNorm))
}

// NormalizedKeyCount returns the number of distinct normalized definition names
// of a repository.
func (v *View) NormalizedKeyCount(repoID string) int {
	if sg, ok := v.g.repos[repoID]; ok {
		return len(sg.byNorm)
	}
	return 0
}

// HasNormalized reports whether a repository defines a symbol whose normalized
// short name is key.
func (v *View) HasNormalized(repoID, key string) bool {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return false
	}
	_, ok = sg.byNorm[key]
	return ok
}

// Dependencies returns the nodes reachable from id within hops outgoing edges,
// excluding id itself, sorted.
func (v *View) Dependencies(id NodeID, hops int) []NodeID {
	if hops <= 0 || !v.exists(id) {
		return nil
	}
	seen := map[NodeID]struct{}{id: {}}
	frontier := []NodeID{id}
	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []NodeID
		for _, cur := range frontier {
			for _, e := range v.OutEdges(cur) {
				if _, ok := seen[e.To]; ok {
					continue
				}
				seen[e.To] = struct{}{}
				next = append(next, e.To)
			}
		}
		frontier = next
	}
	delete(seen, id)
	return slices.Sorted(maps.Keys(seen))
}

// NodesAt returns the nodes of a repository defined in the given file, sorted.
func (v *View) NodesAt(repoID, path string) []NodeID {
	sg, ok := v.g.repos[repoID]
	if !ok {
		return nil
	}
	var ids []NodeID
	for id, n := range sg.nodes {
		if n.Location.Path == path {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Stats summarizes the graph.
type Stats struct {
	Repos       int              `json:"repos"`
	Nodes       int              `json:"nodes"`
	Edges       int              `json:"edges"`
	NodesByKind map[NodeKind]int `json:"nodesByKind"`
	EdgesByKind map[EdgeKind]int `json:"edgesByKind"`
	CrossEdges  int              `json:"crossEdges"`
}

// Stats counts nodes and visible edges.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v := &View{g: g}
	st := Stats{
		Repos:       len(g.repos),
		NodesByKind: make(map[NodeKind]int),
		EdgesByKind: make(map[EdgeKind]int),
	}
	for _, sg := range g.repos {
		st.Nodes += len(sg.nodes)
		for _, n := range sg.nodes {
			st.NodesByKind[n.Kind]++
		}
		for e := range sg.edges {
			if !v.exists(e.To) {
				continue
			}
			st.Edges++
			st.EdgesByKind[e.Kind]++
			if e.To.Repo() != e.From.Repo() {
				st.CrossEdges++
			}
		}
	}
	return st
}

// RepoExport is the serializable form of one repository's subgraph.
type RepoExport struct {
	RepoID   string `json:"repoId"`
	Revision string `json:"revision"`
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`
}

// Export returns every repository's nodes and owned edges in sorted order,
// including edges whose target repository is currently absent.
func (g *Graph) Export() []RepoExport {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v := &View{g: g}
	out := make([]RepoExport, 0, len(g.repos))
	for _, id := range v.Repos() {
		sg := g.repos[id]
		edges := slices.Collect(maps.Keys(sg.edges))
		slices.SortFunc(edges, compareEdges)
		out = append(out, RepoExport{
			RepoID:   id,
			Revision: sg.revision,
			Nodes:    v.RepoNodes(id),
			Edges:    edges,
		})
	}
	return out
}

// ToRepoGraph converts an export back into a provider submission.
func (r RepoExport) ToRepoGraph() RepoGraph {
	rg := RepoGraph{
		RepoID:   r.RepoID,
		Revision: r.Revision,
		Nodes:    r.Nodes,
		Edges:    make([]EdgeSpec, len(r.Edges)),
	}
	for i, e := range r.Edges {
		rg.Edges[i] = EdgeSpec{From: string(e.From), To: string(e.To), Kind: e.Kind}
	}
	return rg
}

// String implements fmt.Stringer for log output.
func (e Edge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", e.From, e.Kind, e.To)
}
