package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore(nil)
	ctx := context.Background()

	for _, n := range []*Node{
		{ID: "user:alice", Type: NodeUser},
		{ID: "tpl-1", Type: NodeTemplate, Label: "weekly report"},
		{ID: "ins-1", Type: NodeInstance},
		{ID: "ins-2", Type: NodeInstance},
		{ID: "ent:crm", Type: NodeEntity},
	} {
		require.NoError(t, s.UpsertNode(ctx, n))
	}
	for _, e := range []*Edge{
		{FromID: "user:alice", ToID: "tpl-1", Type: EdgePerforms},
		{FromID: "tpl-1", ToID: "ins-1", Type: EdgeInstanceOf},
		{FromID: "tpl-1", ToID: "ins-2", Type: EdgeInstanceOf},
		{FromID: "ins-1", ToID: "ent:crm", Type: EdgeTouches},
	} {
		require.NoError(t, s.UpsertEdge(ctx, e))
	}
	return s
}

func TestQueryRelated_Depths(t *testing.T) {
	s := buildGraph(t)
	ctx := context.Background()

	one, err := s.QueryRelated(ctx, "user:alice", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "tpl-1", one[0].Node.ID)
	assert.Equal(t, 1, one[0].Depth)

	two, err := s.QueryRelated(ctx, "user:alice", 2)
	require.NoError(t, err)
	ids := make(map[string]int)
	for _, r := range two {
		ids[r.Node.ID] = r.Depth
	}
	assert.Equal(t, map[string]int{"tpl-1": 1, "ins-1": 2, "ins-2": 2}, ids)
}

func TestQueryRelated_TraversesBothDirections(t *testing.T) {
	s := buildGraph(t)

	// From an instance, the template is reachable via its incoming edge.
	related, err := s.QueryRelated(context.Background(), "ins-1", 1)
	require.NoError(t, err)
	ids := make([]string, 0, len(related))
	for _, r := range related {
		ids = append(ids, r.Node.ID)
	}
	assert.ElementsMatch(t, []string{"tpl-1", "ent:crm"}, ids)
}

func TestQueryRelated_UnknownNode(t *testing.T) {
	s := NewInMemoryStore(nil)
	_, err := s.QueryRelated(context.Background(), "missing", 2)
	assert.Error(t, err)
}

func TestUpsertNode_Validation(t *testing.T) {
	s := NewInMemoryStore(nil)
	ctx := context.Background()

	assert.Error(t, s.UpsertNode(ctx, nil))
	assert.Error(t, s.UpsertNode(ctx, &Node{Type: NodeUser}))
	assert.Error(t, s.UpsertEdge(ctx, &Edge{FromID: "a"}))
}

func TestUpsertNode_ReplacesByID(t *testing.T) {
	s := NewInMemoryStore(nil)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, &Node{ID: "tpl-1", Type: NodeTemplate, Label: "v1"}))
	require.NoError(t, s.UpsertNode(ctx, &Node{ID: "tpl-1", Type: NodeTemplate, Label: "v2"}))
	require.NoError(t, s.UpsertNode(ctx, &Node{ID: "other", Type: NodeTemplate}))
	require.NoError(t, s.UpsertEdge(ctx, &Edge{FromID: "other", ToID: "tpl-1", Type: EdgeConnectsTo}))

	related, err := s.QueryRelated(ctx, "other", 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "v2", related[0].Node.Label)
}
