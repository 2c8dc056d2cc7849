package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/denghuinow/kg-api-server/internal/kgtypes"
	"github.com/denghuinow/kg-api-server/internal/queryservice"
)

// Triggerer is the subset of *orchestrator.Orchestrator the handlers
// depend on, kept narrow so tests can supply a fake without wiring a
// real MetadataStore/GraphStore/Extractor stack.
type Triggerer interface {
	TriggerFull(ctx context.Context) (*kgtypes.KGTask, error)
	TriggerIncremental(ctx context.Context) (*kgtypes.KGTask, error)
}

// Handlers binds the Orchestrator and QueryService to the HTTP surface.
type Handlers struct {
	triggerer Triggerer
	query     *queryservice.Service
}

// New builds Handlers.
func New(triggerer Triggerer, query *queryservice.Service) *Handlers {
	return &Handlers{triggerer: triggerer, query: query}
}

// RegisterRoutes adds every build/status/query endpoint to g.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.POST("/kg/build/full", h.handleBuildFull)
	g.POST("/kg/update/incremental", h.handleUpdateIncremental)
	g.GET("/kg/status", h.handleStatus)
	g.GET("/kg/types/entities", h.handleEntityTypes)
	g.GET("/kg/types/relations", h.handleRelationTypes)
	g.GET("/kg/query", h.handleQuery)
	g.GET("/kg/stats", h.handleStats)
}

func (h *Handlers) handleBuildFull(c echo.Context) error {
	task, err := h.triggerer.TriggerFull(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]any{
		"task_id": task.TaskID,
		"status":  string(kgtypes.StatusBuilding),
		"version": task.Version,
	})
}

func (h *Handlers) handleUpdateIncremental(c echo.Context) error {
	task, err := h.triggerer.TriggerIncremental(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	resp := map[string]any{
		"task_id": task.TaskID,
		"status":  string(kgtypes.StatusUpdating),
		"version": task.Version,
	}
	if task.BaseVersion != nil {
		resp["base_version"] = *task.BaseVersion
	}
	return ok(c, http.StatusOK, resp)
}

func (h *Handlers) handleStatus(c echo.Context) error {
	status, err := h.query.Status(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	resp := map[string]any{
		"status":               string(status.State.Status),
		"latest_ready_version": status.State.LatestReadyVersion,
		"current_task":         currentTaskSummary(status.State, status.RecentTasks),
	}
	return ok(c, http.StatusOK, resp)
}

// currentTaskSummary finds the task named by KGState.current_task_id in
// the recent-task history, or nil while idle.
func currentTaskSummary(state *kgtypes.KGState, recent []*kgtypes.KGTask) map[string]any {
	if state.CurrentTaskID == nil {
		return nil
	}
	for _, t := range recent {
		if t.TaskID == *state.CurrentTaskID {
			return map[string]any{
				"task_id": t.TaskID,
				"type":    string(t.Type),
				"version": t.Version,
			}
		}
	}
	return map[string]any{"task_id": *state.CurrentTaskID}
}

func (h *Handlers) handleEntityTypes(c echo.Context) error {
	version, types, err := h.query.EntityTypes(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]any{"version": version, "entity_types": types})
}

func (h *Handlers) handleRelationTypes(c echo.Context) error {
	version, types, err := h.query.RelationTypes(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]any{"version": version, "relation_types": types})
}

func (h *Handlers) handleStats(c echo.Context) error {
	version, stats, err := h.query.Stats(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]any{
		"version":         version,
		"entity_count":    stats.EntityCount,
		"relation_count":  stats.RelationCount,
		"node_type_count": stats.NodeTypeCount,
	})
}

func (h *Handlers) handleQuery(c echo.Context) error {
	includeProperties := c.QueryParam("include_properties") != "false"
	params := queryservice.QueryParams{
		Q:          c.QueryParam("q"),
		LimitNodes: atoiOrZero(c.QueryParam("limit_nodes")),
		LimitEdges: atoiOrZero(c.QueryParam("limit_edges")),
		Depth:      atoiOrZero(c.QueryParam("depth")),
	}

	version, result, err := h.query.Query(c.Request().Context(), params)
	if err != nil {
		return fail(c, err)
	}

	return ok(c, http.StatusOK, map[string]any{
		"version":   version,
		"nodes":     toNodeResponses(result.Nodes, includeProperties),
		"edges":     toEdgeResponses(result.Edges, includeProperties),
		"truncated": result.Truncated,
	})
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
