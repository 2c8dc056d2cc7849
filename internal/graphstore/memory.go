package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by orchestrator and retention
// unit tests. It enforces the same version-filtering discipline as
// Neo4jStore: every read is scoped to exactly one kg_version.
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[string]map[string]Node // version -> name -> node
	edges map[string][]Edge          // version -> edges
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]Node),
		edges: make(map[string][]Edge),
	}
}

func (s *MemoryStore) UpsertNodes(ctx context.Context, version string, nodes []Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.nodes[version]
	if !ok {
		bucket = make(map[string]Node)
		s.nodes[version] = bucket
	}
	for _, n := range nodes {
		n.KGVersion = version
		bucket[n.Name] = n
	}
	return nil
}

func (s *MemoryStore) UpsertEdges(ctx context.Context, version string, edges []Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		e.KGVersion = version
		replaced := false
		for i, existing := range s.edges[version] {
			if existing.Source == e.Source && existing.Target == e.Target && existing.Predicate == e.Predicate {
				s.edges[version][i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			s.edges[version] = append(s.edges[version], e)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteVersion(ctx context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, version)
	delete(s.edges, version)
	return nil
}

func (s *MemoryStore) EntityTypes(ctx context.Context, version string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, n := range s.nodes[version] {
		if !seen[n.EntityLabel] {
			seen[n.EntityLabel] = true
			out = append(out, n.EntityLabel)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) RelationTypes(ctx context.Context, version string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.edges[version] {
		if !seen[e.Predicate] {
			seen[e.Predicate] = true
			out = append(out, e.Predicate)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, version string) (*Stats, error) {
	types, _ := s.EntityTypes(ctx, version)
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Stats{
		EntityCount:   len(s.nodes[version]),
		RelationCount: len(s.edges[version]),
		NodeTypeCount: len(types),
	}, nil
}

func (s *MemoryStore) FullGraph(ctx context.Context, version string, limitNodes, limitEdges int) (*SubgraphResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.nodes[version]))
	for name := range s.nodes[version] {
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if limitNodes > 0 && len(names) > limitNodes {
		names = names[:limitNodes]
		truncated = true
	}
	nodes := make([]Node, 0, len(names))
	for _, n := range names {
		nodes = append(nodes, s.nodes[version][n])
	}

	edges := append([]Edge(nil), s.edges[version]...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	if limitEdges > 0 && len(edges) > limitEdges {
		edges = edges[:limitEdges]
		truncated = true
	}

	return &SubgraphResult{Nodes: nodes, Edges: edges, Truncated: truncated}, nil
}

func (s *MemoryStore) Subgraph(ctx context.Context, version, query string, depth, limitNodes, limitEdges int) (*SubgraphResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frontier := make(map[string]bool)
	for name := range s.nodes[version] {
		if strings.Contains(name, query) {
			frontier[name] = true
		}
	}
	if len(frontier) == 0 {
		return &SubgraphResult{Truncated: false}, nil
	}

	visitedNodes := make(map[string]Node)
	visitedEdges := make(map[string]Edge)
	for name := range frontier {
		if n, ok := s.nodes[version][name]; ok {
			visitedNodes[name] = n
		}
	}

	overBudget := func() bool {
		return (limitNodes > 0 && len(visitedNodes) >= limitNodes) || (limitEdges > 0 && len(visitedEdges) >= limitEdges)
	}

	truncated := false
	for hop := 0; hop < depth && len(frontier) > 0 && !overBudget(); hop++ {
		next := make(map[string]bool)
		for _, e := range s.edges[version] {
			if overBudget() {
				truncated = true
				break
			}
			var other string
			switch {
			case frontier[e.Source]:
				other = e.Target
			case frontier[e.Target]:
				other = e.Source
			default:
				continue
			}
			key := e.Source + "|" + e.Target + "|" + e.Predicate
			visitedEdges[key] = e
			if n, ok := s.nodes[version][other]; ok {
				visitedNodes[other] = n
			}
			if !frontier[other] {
				next[other] = true
			}
		}
		frontier = next
	}

	nodes := make([]Node, 0, len(visitedNodes))
	for _, n := range visitedNodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	edges := make([]Edge, 0, len(visitedEdges))
	for _, e := range visitedEdges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})

	if limitNodes > 0 && len(nodes) > limitNodes {
		nodes = nodes[:limitNodes]
		truncated = true
	}
	if limitEdges > 0 && len(edges) > limitEdges {
		edges = edges[:limitEdges]
		truncated = true
	}

	return &SubgraphResult{Nodes: nodes, Edges: edges, Truncated: truncated}, nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }
