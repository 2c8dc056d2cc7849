package graphstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// reserved node/edge properties are never part of the caller-supplied
// property bag; they're the identity and version tag columns.
var reservedNodeProps = map[string]bool{"kg_version": true, "entity_label": true, "name": true}
var reservedEdgeProps = map[string]bool{"kg_version": true, "predicate": true, "source": true, "target": true}

// Neo4jStore persists every version's nodes under a single :Entity label
// and every version's edges under a single :RELATED relationship type,
// each carrying entity_label/predicate plus kg_version as discriminator
// properties, rather than modeling each entity/relation kind as its own
// label or relationship type.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore opens a driver against uri and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphstore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("graphstore: connect: %w", err)
	}
	return &Neo4jStore{driver: driver, database: database}, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func cleanProps(props map[string]any, reserved map[string]bool) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if reserved[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Neo4jStore) UpsertNodes(ctx context.Context, version string, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, n := range nodes {
			query := `
				MERGE (e:Entity {kg_version: $version, entity_label: $label, name: $name})
				SET e += $props
			`
			params := map[string]any{
				"version": version,
				"label":   n.EntityLabel,
				"name":    n.Name,
				"props":   cleanProps(n.Properties, reservedNodeProps),
			}
			if _, err := tx.Run(ctx, query, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return wrapf("UpsertNodes", err)
}

func (s *Neo4jStore) UpsertEdges(ctx context.Context, version string, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range edges {
			query := `
				MERGE (s:Entity {kg_version: $version, name: $source})
				MERGE (t:Entity {kg_version: $version, name: $target})
				MERGE (s)-[r:RELATED {kg_version: $version, predicate: $predicate, source: $source, target: $target}]->(t)
				SET r += $props
			`
			params := map[string]any{
				"version":   version,
				"source":    e.Source,
				"target":    e.Target,
				"predicate": e.Predicate,
				"props":     cleanProps(e.Properties, reservedEdgeProps),
			}
			if _, err := tx.Run(ctx, query, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return wrapf("UpsertEdges", err)
}

func (s *Neo4jStore) DeleteVersion(ctx context.Context, version string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (e:Entity {kg_version: $version})
			DETACH DELETE e
		`
		_, err := tx.Run(ctx, query, map[string]any{"version": version})
		return nil, err
	})
	return wrapf("DeleteVersion", err)
}

func (s *Neo4jStore) EntityTypes(ctx context.Context, version string) ([]string, error) {
	return s.distinct(ctx, `
		MATCH (e:Entity {kg_version: $version})
		RETURN DISTINCT e.entity_label AS v
	`, version)
}

func (s *Neo4jStore) RelationTypes(ctx context.Context, version string) ([]string, error) {
	return s.distinct(ctx, `
		MATCH ()-[r:RELATED {kg_version: $version}]->()
		RETURN DISTINCT r.predicate AS v
	`, version)
}

func (s *Neo4jStore) distinct(ctx context.Context, query, version string) ([]string, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"version": version})
		if err != nil {
			return nil, err
		}
		var out []string
		for res.Next(ctx) {
			if v, ok := res.Record().Get("v"); ok && v != nil {
				out = append(out, v.(string))
			}
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, wrapf("distinct", err)
	}
	return result.([]string), nil
}

func (s *Neo4jStore) Stats(ctx context.Context, version string) (*Stats, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (e:Entity {kg_version: $version})
			WITH count(e) AS entityCount, count(DISTINCT e.entity_label) AS typeCount
			OPTIONAL MATCH ()-[r:RELATED {kg_version: $version}]->()
			RETURN entityCount, typeCount, count(r) AS relationCount
		`
		res, err := tx.Run(ctx, query, map[string]any{"version": version})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return &Stats{}, res.Err()
		}
		rec := res.Record()
		entityCount, _ := rec.Get("entityCount")
		typeCount, _ := rec.Get("typeCount")
		relationCount, _ := rec.Get("relationCount")
		return &Stats{
			EntityCount:   int(entityCount.(int64)),
			NodeTypeCount: int(typeCount.(int64)),
			RelationCount: int(relationCount.(int64)),
		}, res.Err()
	})
	if err != nil {
		return nil, wrapf("Stats", err)
	}
	return result.(*Stats), nil
}

func (s *Neo4jStore) FullGraph(ctx context.Context, version string, limitNodes, limitEdges int) (*SubgraphResult, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		nodes, truncNodes, err := s.readNodes(ctx, tx, version, limitNodes)
		if err != nil {
			return nil, err
		}
		edges, truncEdges, err := s.readEdges(ctx, tx, version, limitEdges)
		if err != nil {
			return nil, err
		}
		return &SubgraphResult{Nodes: nodes, Edges: edges, Truncated: truncNodes || truncEdges}, nil
	})
	if err != nil {
		return nil, wrapf("FullGraph", err)
	}
	return result.(*SubgraphResult), nil
}

func (s *Neo4jStore) readNodes(ctx context.Context, tx neo4j.ManagedTransaction, version string, limit int) ([]Node, bool, error) {
	query := `
		MATCH (e:Entity {kg_version: $version})
		RETURN e.entity_label AS label, e.name AS name, properties(e) AS props
		ORDER BY e.name
	`
	params := map[string]any{"version": version}
	if limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = int64(limit + 1)
	}
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, false, err
	}
	var nodes []Node
	for res.Next(ctx) {
		rec := res.Record()
		label, _ := rec.Get("label")
		name, _ := rec.Get("name")
		props, _ := rec.Get("props")
		nodes = append(nodes, Node{
			KGVersion:   version,
			EntityLabel: toString(label),
			Name:        toString(name),
			Properties:  cleanProps(toPropsMap(props), reservedNodeProps),
		})
	}
	if err := res.Err(); err != nil {
		return nil, false, err
	}
	truncated := limit > 0 && len(nodes) > limit
	if truncated {
		nodes = nodes[:limit]
	}
	return nodes, truncated, nil
}

func (s *Neo4jStore) readEdges(ctx context.Context, tx neo4j.ManagedTransaction, version string, limit int) ([]Edge, bool, error) {
	query := `
		MATCH ()-[r:RELATED {kg_version: $version}]->()
		RETURN r.source AS source, r.target AS target, r.predicate AS predicate, properties(r) AS props
		ORDER BY r.source, r.target, r.predicate
	`
	params := map[string]any{"version": version}
	if limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = int64(limit + 1)
	}
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, false, err
	}
	var edges []Edge
	for res.Next(ctx) {
		rec := res.Record()
		source, _ := rec.Get("source")
		target, _ := rec.Get("target")
		predicate, _ := rec.Get("predicate")
		props, _ := rec.Get("props")
		edges = append(edges, Edge{
			KGVersion:  version,
			Source:     toString(source),
			Target:     toString(target),
			Predicate:  toString(predicate),
			Properties: cleanProps(toPropsMap(props), reservedEdgeProps),
		})
	}
	if err := res.Err(); err != nil {
		return nil, false, err
	}
	truncated := limit > 0 && len(edges) > limit
	if truncated {
		edges = edges[:limit]
	}
	return edges, truncated, nil
}

// Subgraph finds the starting set by substring match on name, then expands
// outward over RELATED edges tagged with version hop by hop (see bfs), one
// Cypher query per hop. depth, limitNodes, limitEdges are all enforced on
// the Go side as each hop's records are read, since a single variable-
// length path query can't stop mid-traversal on an element-count budget.
func (s *Neo4jStore) Subgraph(ctx context.Context, version, query string, depth, limitNodes, limitEdges int) (*SubgraphResult, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		startQuery := `
			MATCH (e:Entity {kg_version: $version})
			WHERE e.name CONTAINS $query
			RETURN e.name AS name
		`
		res, err := tx.Run(ctx, startQuery, map[string]any{"version": version, "query": query})
		if err != nil {
			return nil, err
		}
		var starts []string
		for res.Next(ctx) {
			if v, ok := res.Record().Get("name"); ok {
				starts = append(starts, toString(v))
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		if len(starts) == 0 {
			return &SubgraphResult{Truncated: false}, nil
		}

		return s.bfs(ctx, tx, version, starts, depth, limitNodes, limitEdges)
	})
	if err != nil {
		return nil, wrapf("Subgraph", err)
	}
	return result.(*SubgraphResult), nil
}

// bfs walks outward from starts one hop at a time, each hop a single
// Cypher query over RELATED edges at the given version, stopping as soon
// as either element budget is exhausted or depth is exceeded.
func (s *Neo4jStore) bfs(ctx context.Context, tx neo4j.ManagedTransaction, version string, starts []string, depth, limitNodes, limitEdges int) (*SubgraphResult, error) {
	visitedNodes := make(map[string]Node)
	visitedEdges := make(map[string]Edge)
	frontier := make(map[string]bool)

	for _, n := range starts {
		frontier[n] = true
	}
	truncated := false

	overBudget := func() bool {
		return (limitNodes > 0 && len(visitedNodes) >= limitNodes) || (limitEdges > 0 && len(visitedEdges) >= limitEdges)
	}

	for hop := 0; hop < depth && len(frontier) > 0 && !overBudget(); hop++ {
		names := make([]any, 0, len(frontier))
		for n := range frontier {
			names = append(names, n)
		}

		query := `
			MATCH (s:Entity {kg_version: $version})-[r:RELATED {kg_version: $version}]-(t:Entity {kg_version: $version})
			WHERE s.name IN $names
			RETURN s.name AS sname, properties(s) AS sprops, s.entity_label AS slabel,
			       t.name AS tname, properties(t) AS tprops, t.entity_label AS tlabel,
			       r.source AS rsource, r.target AS rtarget, r.predicate AS rpredicate, properties(r) AS rprops
		`
		res, err := tx.Run(ctx, query, map[string]any{"version": version, "names": names})
		if err != nil {
			return nil, err
		}

		nextFrontier := make(map[string]bool)
		for res.Next(ctx) {
			if overBudget() {
				truncated = true
				break
			}
			rec := res.Record()

			sname, _ := rec.Get("sname")
			slabel, _ := rec.Get("slabel")
			sprops, _ := rec.Get("sprops")
			addNode(visitedNodes, toString(sname), toString(slabel), toPropsMap(sprops), version)

			tname, _ := rec.Get("tname")
			tlabel, _ := rec.Get("tlabel")
			tprops, _ := rec.Get("tprops")
			addNode(visitedNodes, toString(tname), toString(tlabel), toPropsMap(tprops), version)

			rsource, _ := rec.Get("rsource")
			rtarget, _ := rec.Get("rtarget")
			rpredicate, _ := rec.Get("rpredicate")
			rprops, _ := rec.Get("rprops")
			key := toString(rsource) + "|" + toString(rtarget) + "|" + toString(rpredicate)
			if _, ok := visitedEdges[key]; !ok {
				visitedEdges[key] = Edge{
					KGVersion:  version,
					Source:     toString(rsource),
					Target:     toString(rtarget),
					Predicate:  toString(rpredicate),
					Properties: cleanProps(toPropsMap(rprops), reservedEdgeProps),
				}
			}

			if !frontier[toString(tname)] {
				nextFrontier[toString(tname)] = true
			}
			if !frontier[toString(sname)] {
				nextFrontier[toString(sname)] = true
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		frontier = nextFrontier
	}

	nodes := make([]Node, 0, len(visitedNodes))
	for _, n := range visitedNodes {
		nodes = append(nodes, n)
	}
	edges := make([]Edge, 0, len(visitedEdges))
	for _, e := range visitedEdges {
		edges = append(edges, e)
	}

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

func addNode(into map[string]Node, name, label string, props map[string]any, version string) {
	if _, ok := into[name]; ok {
		return
	}
	into[name] = Node{
		KGVersion:   version,
		EntityLabel: label,
		Name:        name,
		Properties:  cleanProps(props, reservedNodeProps),
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func toPropsMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func wrapf(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("graphstore: %s: %w", op, err)
}
