package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denghuinow/kg-api-server/internal/apierr"
	"github.com/denghuinow/kg-api-server/internal/graphstore"
	"github.com/denghuinow/kg-api-server/internal/kgtypes"
	"github.com/denghuinow/kg-api-server/internal/metadatastore"
	"github.com/denghuinow/kg-api-server/internal/queryservice"
)

type fakeTriggerer struct {
	fullTask *kgtypes.KGTask
	fullErr  error
	incrTask *kgtypes.KGTask
	incrErr  error
}

func (f *fakeTriggerer) TriggerFull(ctx context.Context) (*kgtypes.KGTask, error) {
	return f.fullTask, f.fullErr
}
func (f *fakeTriggerer) TriggerIncremental(ctx context.Context) (*kgtypes.KGTask, error) {
	return f.incrTask, f.incrErr
}

func newTestHandlers(t *testing.T, triggerer Triggerer) (*Handlers, *queryservice.Service, metadatastore.Store, graphstore.Store) {
	t.Helper()
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	svc := queryservice.New(meta, graph, queryservice.Defaults{LimitNodes: 10, LimitEdges: 10, Depth: 1})
	return New(triggerer, svc), svc, meta, graph
}

func doRequest(h *Handlers, method, path string) *httptest.ResponseRecorder {
	e := echo.New()
	h.RegisterRoutes(e.Group(""))
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBuildFull_Success(t *testing.T) {
	version := "1700000000001"
	h, _, _, _ := newTestHandlers(t, &fakeTriggerer{fullTask: &kgtypes.KGTask{TaskID: version, Version: version}})

	rec := doRequest(h, http.MethodPost, "/kg/build/full")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
}

func TestBuildFull_ConflictMapsTo409(t *testing.T) {
	h, _, _, _ := newTestHandlers(t, &fakeTriggerer{fullErr: apierr.New(apierr.CodeTaskRunning, "already running")})

	rec := doRequest(h, http.MethodPost, "/kg/build/full")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "TASK_RUNNING", body.Error.Code)
}

func TestUpdateIncremental_NoBaseVersionMapsTo400(t *testing.T) {
	h, _, _, _ := newTestHandlers(t, &fakeTriggerer{incrErr: apierr.New(apierr.CodeNoBaseVersion, "no base")})

	rec := doRequest(h, http.MethodPost, "/kg/update/incremental")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_NoReadyVersionMapsTo404(t *testing.T) {
	h, _, _, _ := newTestHandlers(t, &fakeTriggerer{})

	rec := doRequest(h, http.MethodGet, "/kg/query")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuery_ReturnsGraphAndOmitsPropertiesWhenRequested(t *testing.T) {
	h, _, meta, graph := newTestHandlers(t, &fakeTriggerer{})
	ctx := context.Background()
	version := "1700000000001"
	_, task, err := meta.TryAcquire(ctx, kgtypes.StatusBuilding, version, kgtypes.TaskFullBuild, version, nil)
	require.NoError(t, err)
	require.NoError(t, graph.UpsertNodes(ctx, version, []kgtypes.Node{
		{EntityLabel: "Person", Name: "Alice", Properties: map[string]any{"age": 30}},
	}))
	require.NoError(t, meta.CommitSuccess(ctx, task.TaskID, version))

	rec := doRequest(h, http.MethodGet, "/kg/query?include_properties=false")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Version string `json:"version"`
			Nodes   []struct {
				Name       string         `json:"name"`
				Properties map[string]any `json:"properties"`
			} `json:"nodes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, version, body.Data.Version)
	require.Len(t, body.Data.Nodes, 1)
	assert.Equal(t, "Alice", body.Data.Nodes[0].Name)
	assert.Nil(t, body.Data.Nodes[0].Properties, "properties must be omitted when include_properties=false")
}

func TestStatus_ReturnsIdleWhenNeverBuilt(t *testing.T) {
	h, _, _, _ := newTestHandlers(t, &fakeTriggerer{})

	rec := doRequest(h, http.MethodGet, "/kg/status")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(kgtypes.StatusIdle), body.Data.Status)
}
