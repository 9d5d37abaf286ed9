package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
	inflowtest "github.com/inflow-io/inflow/internal/testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(inflowtest.CreateTestDB(t), zap.NewNop().Sugar())
}

func TestDefinitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	def, err := store.CreateDefinition(ctx, "contact", []string{"email", "phone"})
	require.NoError(t, err)
	assert.NotEmpty(t, def.ID)

	_, err = store.CreateDefinition(ctx, "invoice", []string{"amount"})
	require.NoError(t, err)

	definitions, err := store.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, definitions, 2)
	assert.Equal(t, "contact", definitions[0].Name, "ordered by name")
	assert.Equal(t, []string{"email", "phone"}, definitions[0].Fields)
}

func TestCreateDefinition_DuplicateNameFails(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CreateDefinition(ctx, "contact", []string{"email"})
	require.NoError(t, err)

	_, err = store.CreateDefinition(ctx, "contact", []string{"email"})
	assert.True(t, errors.IsConflictError(err), "duplicate names surface as a conflict, not a raw driver error")
}

func TestBulkUpsert_CreateThenUpdate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	def, err := store.CreateDefinition(ctx, "contact", []string{"email"})
	require.NoError(t, err)

	first, err := store.BulkUpsert(ctx, def.ID, []importer.RecordUpsert{
		{UniqueName: "r1", Data: map[string]string{"email": "a@x.io"}},
		{UniqueName: "r2", Data: map[string]string{"email": "b@x.io"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Zero(t, first.Updated)
	require.Len(t, first.Records, 2)
	assert.True(t, first.Records[0].Created)

	second, err := store.BulkUpsert(ctx, def.ID, []importer.RecordUpsert{
		{UniqueName: "r1", Data: map[string]string{"email": "new@x.io"}},
	})
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, first.Records[0].ID, second.Records[0].ID, "updates keep the record id")
}

func TestBulkUpsert_PerRowErrorIsolation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	def, err := store.CreateDefinition(ctx, "contact", []string{"email"})
	require.NoError(t, err)

	result, err := store.BulkUpsert(ctx, def.ID, []importer.RecordUpsert{
		{UniqueName: "", Data: map[string]string{"email": "x"}},
		{UniqueName: "ok", Data: map[string]string{"email": "y"}},
	})
	require.NoError(t, err, "a bad row never fails the batch")

	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Empty(t, result.Errors[0].UniqueName)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "ok", result.Records[0].UniqueName)
}

func TestBulkUpsert_UnknownDefinition(t *testing.T) {
	store := newStore(t)

	_, err := store.BulkUpsert(context.Background(), "nope", []importer.RecordUpsert{
		{UniqueName: "r1", Data: map[string]string{}},
	})
	assert.True(t, errors.IsNotFoundError(err))
}
