package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/importer"
	inflowtest "github.com/inflow-io/inflow/internal/testing"
)

func TestWriter_EmitAndCount(t *testing.T) {
	database := inflowtest.CreateTestDB(t)
	writer := NewWriter(database, zap.NewNop().Sugar())
	ctx := context.Background()

	err := writer.Emit(ctx, importer.Event{
		ContextID:   "ctx-1",
		ContextType: "project",
		ActionID:    "act-1",
		Type:        importer.EventActionDeclared,
		Payload:     map[string]interface{}{"title": "Pour foundation"},
		ActorID:     "import@test",
	})
	require.NoError(t, err)

	// Context-free template events use the empty sentinel
	err = writer.Emit(ctx, importer.Event{
		ContextID:   "",
		ContextType: "project",
		Type:        importer.EventActionDeclared,
		ActorID:     "import@test",
	})
	require.NoError(t, err)

	count, err := writer.EventCount(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = writer.EventCount(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWriter_NilPayloadStoredAsEmptyObject(t *testing.T) {
	database := inflowtest.CreateTestDB(t)
	writer := NewWriter(database, zap.NewNop().Sugar())

	err := writer.Emit(context.Background(), importer.Event{
		ContextID:   "ctx-1",
		ContextType: "project",
		Type:        importer.EventWorkStarted,
		ActorID:     "import@test",
	})
	require.NoError(t, err)

	var payload string
	require.NoError(t, database.QueryRow(`SELECT payload FROM events`).Scan(&payload))
	assert.JSONEq(t, "{}", payload)
}

func TestWriter_RefreshProjection(t *testing.T) {
	database := inflowtest.CreateTestDB(t)
	writer := NewWriter(database, zap.NewNop().Sugar())
	ctx := context.Background()

	for _, eventType := range []string{importer.EventActionDeclared, importer.EventFactRecorded} {
		require.NoError(t, writer.Emit(ctx, importer.Event{
			ContextID:   "ctx-1",
			ContextType: "project",
			Type:        eventType,
			ActorID:     "import@test",
		}))
	}

	require.NoError(t, writer.RefreshProjection(ctx, "ctx-1"))

	var count int
	var lastType string
	err := database.QueryRow(
		`SELECT event_count, last_event_type FROM context_projections WHERE context_id = ?`, "ctx-1",
	).Scan(&count, &lastType)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, importer.EventFactRecorded, lastType)

	// Refresh is idempotent and tracks new events
	require.NoError(t, writer.Emit(ctx, importer.Event{
		ContextID: "ctx-1", ContextType: "project", Type: importer.EventWorkFinished, ActorID: "import@test",
	}))
	require.NoError(t, writer.RefreshProjection(ctx, "ctx-1"))

	err = database.QueryRow(
		`SELECT event_count, last_event_type FROM context_projections WHERE context_id = ?`, "ctx-1",
	).Scan(&count, &lastType)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, importer.EventWorkFinished, lastType)
}

func TestFactKindStore_FirstDefinitionWins(t *testing.T) {
	database := inflowtest.CreateTestDB(t)
	store := NewFactKindStore(database, zap.NewNop().Sugar())
	ctx := context.Background()

	err := store.EnsureDefinition(ctx, importer.FactKindDefinition{
		FactKind:       "item_delivered",
		Source:         "csv",
		Confidence:     importer.ConfidenceHigh,
		ExamplePayload: map[string]string{"qty": "3"},
	})
	require.NoError(t, err)

	// A later fact of the same kind must not overwrite the registration
	err = store.EnsureDefinition(ctx, importer.FactKindDefinition{
		FactKind:   "item_delivered",
		Source:     "monday",
		Confidence: importer.ConfidenceLow,
	})
	require.NoError(t, err)

	var source, confidence string
	err = database.QueryRow(
		`SELECT source, confidence FROM fact_kinds WHERE kind = ?`, "item_delivered",
	).Scan(&source, &confidence)
	require.NoError(t, err)
	assert.Equal(t, "csv", source)
	assert.Equal(t, string(importer.ConfidenceHigh), confidence)
}
