package syncmap

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

func TestUpsertAndLookup(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	mapping := importer.SyncMapping{
		Provider:        "monday",
		ExternalID:      "12345",
		ExternalType:    "item",
		LocalEntityType: "action",
		LocalEntityID:   "act-1",
	}
	require.NoError(t, store.Upsert(ctx, mapping))

	loaded, err := store.Lookup(ctx, "monday", "12345")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "act-1", loaded.LocalEntityID)

	missing, err := store.Lookup(ctx, "monday", "99999")
	require.NoError(t, err, "absence is a normal answer")
	assert.Nil(t, missing)
}

func TestUpsert_RebindsExistingKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := importer.SyncMapping{
		Provider: "monday", ExternalID: "tpl-9", ExternalType: "template",
		LocalEntityType: "template", LocalEntityID: "old-id",
	}
	require.NoError(t, store.Upsert(ctx, first))

	first.LocalEntityID = "new-id"
	require.NoError(t, store.Upsert(ctx, first))

	loaded, err := store.Lookup(ctx, "monday", "tpl-9")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "new-id", loaded.LocalEntityID)

	mappings, err := store.ListByProvider(ctx, "monday")
	require.NoError(t, err)
	assert.Len(t, mappings, 1, "same key never duplicates")
}

func TestUpsert_RequiresKey(t *testing.T) {
	store := newStore(t)

	err := store.Upsert(context.Background(), importer.SyncMapping{Provider: "monday"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	err = store.Upsert(context.Background(), importer.SyncMapping{ExternalID: "1"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestProvidersAreIsolated(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, importer.SyncMapping{
		Provider: "monday", ExternalID: "1", ExternalType: "item",
		LocalEntityType: "action", LocalEntityID: "a",
	}))
	require.NoError(t, store.Upsert(ctx, importer.SyncMapping{
		Provider: "csv", ExternalID: "1", ExternalType: "row",
		LocalEntityType: "action", LocalEntityID: "b",
	}))

	monday, err := store.Lookup(ctx, "monday", "1")
	require.NoError(t, err)
	csv, err := store.Lookup(ctx, "csv", "1")
	require.NoError(t, err)
	assert.Equal(t, "a", monday.LocalEntityID)
	assert.Equal(t, "b", csv.LocalEntityID)
}
