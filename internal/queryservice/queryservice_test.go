package queryservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denghuinow/kg-api-server/internal/graphstore"
	"github.com/denghuinow/kg-api-server/internal/kgtypes"
	"github.com/denghuinow/kg-api-server/internal/metadatastore"
)

func seedReadyVersion(t *testing.T, meta metadatastore.Store, graph graphstore.Store, version string) {
	t.Helper()
	ctx := context.Background()
	_, task, err := meta.TryAcquire(ctx, kgtypes.StatusBuilding, version, kgtypes.TaskFullBuild, version, nil)
	require.NoError(t, err)
	require.NoError(t, graph.UpsertNodes(ctx, version, []kgtypes.Node{
		{EntityLabel: "Person", Name: "Alice"},
		{EntityLabel: "Person", Name: "Bob"},
	}))
	require.NoError(t, graph.UpsertEdges(ctx, version, []kgtypes.Edge{
		{Source: "Alice", Target: "Bob", Predicate: "knows"},
	}))
	require.NoError(t, meta.CommitSuccess(ctx, task.TaskID, version))
}

func TestQuery_NoReadyVersionReturnsNotFound(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	svc := New(meta, graph, Defaults{LimitNodes: 10, LimitEdges: 10, Depth: 1})

	_, _, err := svc.Query(context.Background(), QueryParams{})
	require.Error(t, err)
	assert.True(t, IsNoReadyVersion(err))

	_, _, err = svc.EntityTypes(context.Background())
	assert.True(t, IsNoReadyVersion(err))

	_, _, err = svc.Stats(context.Background())
	assert.True(t, IsNoReadyVersion(err))
}

func TestQuery_FullGraphUsesResolvedVersionAndDefaults(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	seedReadyVersion(t, meta, graph, "1700000000001")
	svc := New(meta, graph, Defaults{LimitNodes: 10, LimitEdges: 10, Depth: 1})

	version, result, err := svc.Query(context.Background(), QueryParams{})
	require.NoError(t, err)
	assert.Equal(t, "1700000000001", version)
	assert.Len(t, result.Nodes, 2)
	assert.Len(t, result.Edges, 1)
}

func TestQuery_SubgraphDispatchesOnNonEmptyQ(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	seedReadyVersion(t, meta, graph, "1700000000001")
	svc := New(meta, graph, Defaults{LimitNodes: 10, LimitEdges: 10, Depth: 1})

	version, result, err := svc.Query(context.Background(), QueryParams{Q: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "1700000000001", version)

	names := map[string]bool{}
	for _, n := range result.Nodes {
		names[n.Name] = true
	}
	assert.True(t, names["Alice"])
	assert.True(t, names["Bob"], "BFS should expand to Alice's neighbor")
}

func TestStatsAndTypes(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	seedReadyVersion(t, meta, graph, "1700000000001")
	svc := New(meta, graph, Defaults{LimitNodes: 10, LimitEdges: 10, Depth: 1})

	version, types, err := svc.EntityTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1700000000001", version)
	assert.Equal(t, []string{"Person"}, types)

	_, stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntityCount)
	assert.Equal(t, 1, stats.RelationCount)
}

func TestStatus_ReturnsStateAndRecentTasks(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	seedReadyVersion(t, meta, graph, "1700000000001")
	svc := New(meta, graph, Defaults{})

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kgtypes.StatusReady, status.State.Status)
	require.Len(t, status.RecentTasks, 1)
	assert.Equal(t, "1700000000001", status.RecentTasks[0].Version)
}
