package extractor

import "github.com/denghuinow/kg-api-server/internal/kgtypes"

// accumulator folds entities/relations parsed from each chunk's model
// response into a single KnowledgeGraph, seeded from an optional base
// graph so incremental builds start from prior knowledge instead of an
// empty graph. Later mentions of the same node name overwrite the
// earlier property bag, matching GraphStore.UpsertNodes's own merge
// semantics.
type accumulator struct {
	nodeOrder []string
	nodes     map[string]kgtypes.Node
	edgeOrder []string
	edges     map[string]kgtypes.Edge
}

func newAccumulator(base *kgtypes.KnowledgeGraph) *accumulator {
	a := &accumulator{
		nodes: make(map[string]kgtypes.Node),
		edges: make(map[string]kgtypes.Edge),
	}
	if base == nil {
		return a
	}
	for _, n := range base.Nodes {
		a.putNode(n)
	}
	for _, e := range base.Edges {
		a.putEdge(e)
	}
	return a
}

func (a *accumulator) putNode(n kgtypes.Node) {
	if _, exists := a.nodes[n.Name]; !exists {
		a.nodeOrder = append(a.nodeOrder, n.Name)
	}
	a.nodes[n.Name] = n
}

func (a *accumulator) putEdge(e kgtypes.Edge) {
	key := e.Source + "|" + e.Target + "|" + e.Predicate
	if _, exists := a.edges[key]; !exists {
		a.edgeOrder = append(a.edgeOrder, key)
	}
	a.edges[key] = e
}

func (a *accumulator) addEntities(entities []extractedEntity) {
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		a.putNode(kgtypes.Node{
			EntityLabel: e.Type,
			Name:        e.Name,
			Properties:  e.Properties,
		})
	}
}

func (a *accumulator) addRelations(relations []extractedRelation) {
	for _, r := range relations {
		if r.Source == "" || r.Target == "" || r.Predicate == "" {
			continue
		}
		a.putEdge(kgtypes.Edge{
			Source:     r.Source,
			Target:     r.Target,
			Predicate:  r.Predicate,
			Properties: r.Properties,
		})
	}
}

func (a *accumulator) nodeNames() []string {
	names := make([]string, len(a.nodeOrder))
	copy(names, a.nodeOrder)
	return names
}

func (a *accumulator) setEmbedding(name string, vector []float32) {
	n, ok := a.nodes[name]
	if !ok {
		return
	}
	if n.Properties == nil {
		n.Properties = make(map[string]any)
	}
	n.Properties[kgtypes.PropEmbeddings] = vector
	a.nodes[name] = n
}

func (a *accumulator) graph() *kgtypes.KnowledgeGraph {
	nodes := make([]kgtypes.Node, 0, len(a.nodeOrder))
	for _, name := range a.nodeOrder {
		nodes = append(nodes, a.nodes[name])
	}
	edges := make([]kgtypes.Edge, 0, len(a.edgeOrder))
	for _, key := range a.edgeOrder {
		edges = append(edges, a.edges[key])
	}
	return &kgtypes.KnowledgeGraph{Nodes: nodes, Edges: edges}
}
