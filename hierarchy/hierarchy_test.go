package hierarchy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
	inflowtest "github.com/inflow-io/inflow/internal/testing"
)

func TestNodeStore_Roundtrip(t *testing.T) {
	database := inflowtest.CreateTestDB(t)
	store := NewNodeStore(database, zap.NewNop().Sugar())
	ctx := context.Background()

	root := &importer.Node{
		ID:       uuid.NewString(),
		Type:     importer.ContainerProject,
		Title:    "Board",
		Metadata: map[string]string{"external_id": "1"},
	}
	require.NoError(t, store.CreateNode(ctx, root))

	child := &importer.Node{
		ID:       uuid.NewString(),
		Type:     importer.ContainerStage,
		Title:    "Backlog",
		ParentID: root.ID,
	}
	require.NoError(t, store.CreateNode(ctx, child))

	loaded, err := store.GetNode(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, importer.ContainerProject, loaded.Type)
	assert.Equal(t, "1", loaded.Metadata["external_id"])
	assert.Empty(t, loaded.ParentID)

	children, err := store.ListChildren(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Backlog", children[0].Title)

	_, err = store.GetNode(ctx, "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestActionStore_Roundtrip(t *testing.T) {
	database := inflowtest.CreateTestDB(t)
	store := NewActionStore(database, zap.NewNop().Sugar())
	ctx := context.Background()

	parent := &importer.Action{
		ID:          uuid.NewString(),
		ContextID:   "ctx-1",
		ContextType: "project",
		Type:        "task",
		Title:       "Prepare kit",
		FieldBindings: []importer.FieldBinding{
			{Name: "title", Value: "Prepare kit"},
			{Name: "due", Value: "2026-09-15"},
		},
	}
	require.NoError(t, store.CreateAction(ctx, parent))

	child := &importer.Action{
		ID:             uuid.NewString(),
		ContextID:      "ctx-1",
		ContextType:    "project",
		Type:           "subtask",
		Title:          "Count parts",
		ParentActionID: parent.ID,
	}
	require.NoError(t, store.CreateAction(ctx, child))

	actions, err := store.ListActions(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "Prepare kit", actions[0].Title)
	assert.Len(t, actions[0].FieldBindings, 2)
	assert.Equal(t, parent.ID, actions[1].ParentActionID)
}

func TestActionStore_EmptySentinelContext(t *testing.T) {
	database := inflowtest.CreateTestDB(t)
	store := NewActionStore(database, zap.NewNop().Sugar())
	ctx := context.Background()

	tpl := &importer.Action{
		ID:          uuid.NewString(),
		ContextID:   "",
		ContextType: "project",
		Type:        "template",
		Title:       "Onboarding",
	}
	require.NoError(t, store.CreateAction(ctx, tpl), "context-free templates store the empty sentinel, not NULL")

	var contextID string
	require.NoError(t, database.QueryRow(`SELECT context_id FROM actions WHERE id = ?`, tpl.ID).Scan(&contextID))
	assert.Equal(t, "", contextID)

	actions, err := store.ListActions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}
