// Package queryservice implements a thin read surface: every call
// resolves latest_ready_version from MetadataStore first, then dispatches
// to GraphStore with that version. No endpoint here ever observes a
// BUILDING/UPDATING write in progress, since a version only becomes
// readable once MetadataStore has published it.
package queryservice

import (
	"context"
	"errors"

	"github.com/denghuinow/kg-api-server/internal/apierr"
	"github.com/denghuinow/kg-api-server/internal/graphstore"
	"github.com/denghuinow/kg-api-server/internal/kgtypes"
	"github.com/denghuinow/kg-api-server/internal/metadatastore"
)

// ErrNoReadyVersion is returned whenever latest_ready_version is null;
// handlers map this to 404 NOT_FOUND.
var ErrNoReadyVersion = apierr.New(apierr.CodeNotFound, "no version has completed a build yet")

// Defaults holds the query.default_* configuration values used when a
// caller doesn't specify limit_nodes/limit_edges/depth explicitly.
type Defaults struct {
	LimitNodes int
	LimitEdges int
	Depth      int
}

// Service is the QueryService capability.
type Service struct {
	meta     metadatastore.Store
	graph    graphstore.Store
	defaults Defaults
}

// New builds a Service.
func New(meta metadatastore.Store, graph graphstore.Store, defaults Defaults) *Service {
	return &Service{meta: meta, graph: graph, defaults: defaults}
}

// Status is what GET /kg/status is built from: the full KGState plus a
// bounded slice of recent task history. The handler uses the history only
// to describe the current task; the history itself is not in the response.
type Status struct {
	State       *kgtypes.KGState
	RecentTasks []*kgtypes.KGTask
}

// recentTasksWindow bounds how much task history Status reads.
const recentTasksWindow = 20

// Status reads the current KGState and a bounded task history.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	state, err := s.meta.Read(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.meta.ListRecentTasks(ctx, recentTasksWindow)
	if err != nil {
		return nil, err
	}
	return &Status{State: state, RecentTasks: tasks}, nil
}

// currentVersion resolves latest_ready_version, or ErrNoReadyVersion if
// none has ever been published.
func (s *Service) currentVersion(ctx context.Context) (string, error) {
	state, err := s.meta.Read(ctx)
	if err != nil {
		return "", err
	}
	if state.LatestReadyVersion == nil {
		return "", ErrNoReadyVersion
	}
	return *state.LatestReadyVersion, nil
}

// EntityTypes returns the distinct entity_label values present in the
// current ready version.
func (s *Service) EntityTypes(ctx context.Context) (version string, types []string, err error) {
	version, err = s.currentVersion(ctx)
	if err != nil {
		return "", nil, err
	}
	types, err = s.graph.EntityTypes(ctx, version)
	return version, types, err
}

// RelationTypes returns the distinct predicate values present in the
// current ready version.
func (s *Service) RelationTypes(ctx context.Context) (version string, types []string, err error) {
	version, err = s.currentVersion(ctx)
	if err != nil {
		return "", nil, err
	}
	types, err = s.graph.RelationTypes(ctx, version)
	return version, types, err
}

// Stats returns aggregate counts for the current ready version.
func (s *Service) Stats(ctx context.Context) (version string, stats *kgtypes.Stats, err error) {
	version, err = s.currentVersion(ctx)
	if err != nil {
		return "", nil, err
	}
	stats, err = s.graph.Stats(ctx, version)
	return version, stats, err
}

// QueryParams carries the optional query-string parameters of GET
// /kg/query. Zero-valued limits and depth are filled from the Service's
// Defaults by Query.
type QueryParams struct {
	Q          string
	LimitNodes int
	LimitEdges int
	Depth      int
}

// resolved fills in any zero field from s.defaults.
func (s *Service) resolved(p QueryParams) QueryParams {
	if p.LimitNodes <= 0 {
		p.LimitNodes = s.defaults.LimitNodes
	}
	if p.LimitEdges <= 0 {
		p.LimitEdges = s.defaults.LimitEdges
	}
	if p.Depth <= 0 {
		p.Depth = s.defaults.Depth
	}
	return p
}

// Query dispatches GET /kg/query: a full-graph dump when q is empty,
// otherwise a bounded subgraph expansion from the matching starting set.
func (s *Service) Query(ctx context.Context, p QueryParams) (version string, result *kgtypes.SubgraphResult, err error) {
	version, err = s.currentVersion(ctx)
	if err != nil {
		return "", nil, err
	}
	p = s.resolved(p)

	if p.Q == "" {
		result, err = s.graph.FullGraph(ctx, version, p.LimitNodes, p.LimitEdges)
	} else {
		result, err = s.graph.Subgraph(ctx, version, p.Q, p.Depth, p.LimitNodes, p.LimitEdges)
	}
	if err != nil {
		return "", nil, err
	}
	return version, result, nil
}

// IsNoReadyVersion reports whether err is (or wraps) ErrNoReadyVersion,
// letting handlers distinguish it from a GraphStore failure.
func IsNoReadyVersion(err error) bool {
	return errors.Is(err, ErrNoReadyVersion)
}
