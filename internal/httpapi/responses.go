package httpapi

import (
	"github.com/denghuinow/kg-api-server/internal/kgtypes"
)

// nodeResponse is the {id, types, name, properties} shape a node is
// rendered as. A Node's natural key is its Name (GraphStore has no
// surrogate id column), so id and name coincide.
type nodeResponse struct {
	ID         string         `json:"id"`
	Types      []string       `json:"types"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// edgeResponse is the {id, type, source, target, properties} shape.
// Edges have no natural single-field key, so id is the composite of the
// three columns that uniquely identify one within a version.
type edgeResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties,omitempty"`
}

func toNodeResponse(n kgtypes.Node, includeProperties bool) nodeResponse {
	r := nodeResponse{ID: n.Name, Types: []string{n.EntityLabel}, Name: n.Name}
	if includeProperties {
		r.Properties = n.Properties
	}
	return r
}

func toEdgeResponse(e kgtypes.Edge, includeProperties bool) edgeResponse {
	r := edgeResponse{
		ID:     e.Source + "|" + e.Predicate + "|" + e.Target,
		Type:   e.Predicate,
		Source: e.Source,
		Target: e.Target,
	}
	if includeProperties {
		r.Properties = e.Properties
	}
	return r
}

func toNodeResponses(nodes []kgtypes.Node, includeProperties bool) []nodeResponse {
	out := make([]nodeResponse, len(nodes))
	for i, n := range nodes {
		out[i] = toNodeResponse(n, includeProperties)
	}
	return out
}

func toEdgeResponses(edges []kgtypes.Edge, includeProperties bool) []edgeResponse {
	out := make([]edgeResponse, len(edges))
	for i, e := range edges {
		out[i] = toEdgeResponse(e, includeProperties)
	}
	return out
}
