package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTwoVersions(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.UpsertNodes(ctx, "v1", []Node{
		{EntityLabel: "Person", Name: "Alice"},
		{EntityLabel: "Person", Name: "Bob"},
	}))
	require.NoError(t, s.UpsertEdges(ctx, "v1", []Edge{
		{Source: "Alice", Target: "Bob", Predicate: "knows"},
	}))

	require.NoError(t, s.UpsertNodes(ctx, "v2", []Node{
		{EntityLabel: "Person", Name: "Alice"},
		{EntityLabel: "Person", Name: "Carol"},
	}))
	require.NoError(t, s.UpsertEdges(ctx, "v2", []Edge{
		{Source: "Alice", Target: "Carol", Predicate: "knows"},
	}))
}

func TestFullGraph_ReadIsolation(t *testing.T) {
	s := NewMemoryStore()
	seedTwoVersions(t, s)
	ctx := context.Background()

	v1, err := s.FullGraph(ctx, "v1", 0, 0)
	require.NoError(t, err)
	names := namesOf(v1.Nodes)
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, names, "P3: v1 must not see v2's Carol")

	v2, err := s.FullGraph(ctx, "v2", 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alice", "Carol"}, namesOf(v2.Nodes), "P3: v2 must not see v1's Bob")

	for _, n := range v1.Nodes {
		assert.Equal(t, "v1", n.KGVersion)
	}
	for _, e := range v1.Edges {
		assert.Equal(t, "v1", e.KGVersion)
	}
}

func TestDeleteVersion_RetentionSafety(t *testing.T) {
	s := NewMemoryStore()
	seedTwoVersions(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteVersion(ctx, "v1"))

	afterV1, err := s.FullGraph(ctx, "v1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, afterV1.Nodes, "P5: deleted version's nodes must be gone")
	assert.Empty(t, afterV1.Edges, "P5: deleted version's edges must be gone")

	v2, err := s.FullGraph(ctx, "v2", 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alice", "Carol"}, namesOf(v2.Nodes), "P5: other version untouched by DeleteVersion")
}

func TestFullGraph_Truncation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertNodes(ctx, "v1", []Node{
		{EntityLabel: "Person", Name: "A"},
		{EntityLabel: "Person", Name: "B"},
		{EntityLabel: "Person", Name: "C"},
	}))

	result, err := s.FullGraph(ctx, "v1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, result.Nodes, 2)
	assert.True(t, result.Truncated)
}

func TestSubgraph_EmptyStartingSet(t *testing.T) {
	s := NewMemoryStore()
	seedTwoVersions(t, s)
	ctx := context.Background()

	result, err := s.Subgraph(ctx, "v1", "Zzz", 2, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)
	assert.False(t, result.Truncated)
}

func TestSubgraph_ExpandsByDepth(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertNodes(ctx, "v1", []Node{
		{EntityLabel: "Person", Name: "Alice"},
		{EntityLabel: "Person", Name: "Bob"},
		{EntityLabel: "Person", Name: "Carol"},
	}))
	require.NoError(t, s.UpsertEdges(ctx, "v1", []Edge{
		{Source: "Alice", Target: "Bob", Predicate: "knows"},
		{Source: "Bob", Target: "Carol", Predicate: "knows"},
	}))

	oneHop, err := s.Subgraph(ctx, "v1", "Alice", 1, 10, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, namesOf(oneHop.Nodes))

	twoHop, err := s.Subgraph(ctx, "v1", "Alice", 2, 10, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alice", "Bob", "Carol"}, namesOf(twoHop.Nodes))
}

func TestEntityTypesAndStats(t *testing.T) {
	s := NewMemoryStore()
	seedTwoVersions(t, s)
	ctx := context.Background()

	types, err := s.EntityTypes(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, types)

	stats, err := s.Stats(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntityCount)
	assert.Equal(t, 1, stats.RelationCount)
	assert.Equal(t, 1, stats.NodeTypeCount)
}

func namesOf(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}
