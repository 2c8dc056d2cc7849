// Package graphstore implements versioned storage and retrieval of graph
// entities and relations. Every node and edge carries a kg_version tag;
// readers always filter by version and writers always tag by version,
// which is the sole isolation mechanism between concurrent builds.
//
// Uses the same session/transaction idiom as internal/metadatastore: one
// Entity label and RELATED relationship type, distinguished by an
// entity_label/predicate property rather than per-kind node labels.
package graphstore

import (
	"context"
	"errors"

	"github.com/denghuinow/kg-api-server/internal/kgtypes"
)

// ErrNoNodes names the empty-starting-set case. Neither MemoryStore nor
// Neo4jStore returns it: their Subgraph reports an empty starting set as a
// zero-result, not-truncated SubgraphResult with a nil error.
var ErrNoNodes = errors.New("graphstore: empty starting set")

type (
	Node           = kgtypes.Node
	Edge           = kgtypes.Edge
	Stats          = kgtypes.Stats
	SubgraphResult = kgtypes.SubgraphResult
)

// Store is the versioned read/write capability over graph entities and
// relations.
type Store interface {
	// UpsertNodes merges each node by (kg_version, entity_label, name);
	// the property bag overwrites on conflict.
	UpsertNodes(ctx context.Context, version string, nodes []Node) error

	// UpsertEdges merges each edge by (kg_version, source name, target
	// name, predicate).
	UpsertEdges(ctx context.Context, version string, edges []Edge) error

	// DeleteVersion detach-deletes every node tagged with version; its
	// edges vanish with their endpoints in the same operation.
	DeleteVersion(ctx context.Context, version string) error

	// EntityTypes returns the distinct entity_label values for version.
	EntityTypes(ctx context.Context, version string) ([]string, error)

	// RelationTypes returns the distinct predicate values for version.
	RelationTypes(ctx context.Context, version string) ([]string, error)

	// Stats summarizes one version of the graph.
	Stats(ctx context.Context, version string) (*Stats, error)

	// FullGraph returns up to limitNodes nodes and limitEdges edges for
	// version. Pass a non-positive limit for "unbounded" (used to load a
	// base graph for an incremental build).
	FullGraph(ctx context.Context, version string, limitNodes, limitEdges int) (*SubgraphResult, error)

	// Subgraph starts from nodes whose name contains query (case-sensitive
	// substring) and expands outward over edges tagged with version for up
	// to depth hops, stopping as soon as either limit is reached.
	Subgraph(ctx context.Context, version, query string, depth, limitNodes, limitEdges int) (*SubgraphResult, error)

	Close(ctx context.Context) error
}
