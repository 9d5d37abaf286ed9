package eventlog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/importer"
)

// Failure paths use sqlmock: sqlite will not produce write errors on demand.

func TestWriter_EmitPropagatesWriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO events").
		WillReturnError(assert.AnError)

	writer := NewWriter(db, zap.NewNop().Sugar())
	err = writer.Emit(context.Background(), importer.Event{
		ContextID:   "ctx-1",
		ContextType: "project",
		Type:        importer.EventActionDeclared,
		ActorID:     "import@test",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append ACTION_DECLARED event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriter_RefreshProjectionSummaryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(assert.AnError)

	writer := NewWriter(db, zap.NewNop().Sugar())
	err = writer.RefreshProjection(context.Background(), "ctx-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to summarize events for context ctx-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriter_RefreshProjectionUpsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count", "event_type", "recorded_at"}).
			AddRow(3, "FACT_RECORDED", nil))
	mock.ExpectExec("INSERT INTO context_projections").
		WillReturnError(assert.AnError)

	writer := NewWriter(db, zap.NewNop().Sugar())
	err = writer.RefreshProjection(context.Background(), "ctx-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to refresh projection for context ctx-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactKindStore_RegistrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO fact_kinds").
		WillReturnError(assert.AnError)

	store := NewFactKindStore(db, zap.NewNop().Sugar())
	err = store.EnsureDefinition(context.Background(), importer.FactKindDefinition{
		FactKind:   "item_delivered",
		Source:     "csv",
		Confidence: importer.ConfidenceHigh,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register fact kind item_delivered")
	assert.NoError(t, mock.ExpectationsWereMet())
}
