package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRecordStore serves definitions; BulkUpsert is unused by the compiler.
type fakeRecordStore struct {
	definitions []RecordDefinition
}

func (f *fakeRecordStore) ListDefinitions(ctx context.Context) ([]RecordDefinition, error) {
	return f.definitions, nil
}

func (f *fakeRecordStore) BulkUpsert(ctx context.Context, definitionID string, rows []RecordUpsert) (*BulkUpsertResult, error) {
	return &BulkUpsertResult{}, nil
}

func newTestCompiler(t *testing.T) (*Compiler, *Store) {
	t.Helper()
	store := newTestStore(t)
	classifier := newTestClassifier(&fakeInterpreter{}, &fakeMatcher{})
	return NewCompiler(store, classifier, &fakeRecordStore{}, zap.NewNop().Sugar()), store
}

func TestCompilePlan_PersistsPlanAndStatus(t *testing.T) {
	compiler, store := newTestCompiler(t)
	ctx := context.Background()

	session := NewImportSession(SourceCSV, "payload", nil, "", "")
	require.NoError(t, store.CreateSession(ctx, session))

	batch := &SourceBatch{
		Items: []PlanItem{
			{TempID: "i1", EntityType: EntityTask, Title: "mystery"},
		},
	}

	plan, err := compiler.CompilePlan(ctx, session, batch)
	require.NoError(t, err)

	// "mystery" matches no rule: unclassified, so the session needs review
	assert.Equal(t, SessionNeedsReview, session.Status)

	loaded, err := store.GetLatestPlan(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, loaded.ID)
	assert.Equal(t, OutcomeUnclassified, loaded.Classifications["i1"].Outcome)
}

func TestNormalize_PromotesStructuralItemsToContainers(t *testing.T) {
	compiler, _ := newTestCompiler(t)

	batch := &SourceBatch{
		Connector: true,
		Items: []PlanItem{
			{TempID: "board-1", EntityType: EntityProject, Title: "Board", Metadata: map[string]string{MetaExternalID: "1"}},
			{TempID: "group-1-g1", EntityType: EntityStage, Title: "Backlog", ParentTempID: "board-1", Metadata: map[string]string{MetaExternalID: "1/g1"}},
			{TempID: "item-10", EntityType: EntityTask, Title: "Row", Metadata: map[string]string{MetaGroupExternalID: "1/g1"}},
		},
	}

	compiler.normalize(batch)

	require.Len(t, batch.Containers, 2)
	assert.Equal(t, ContainerProject, batch.Containers[0].Type)
	assert.Equal(t, ContainerStage, batch.Containers[1].Type)
	assert.Equal(t, "board-1", batch.Containers[1].ParentTempID)

	require.Len(t, batch.Items, 1)
	assert.Equal(t, "group-1-g1", batch.Items[0].ParentTempID, "group membership resolves the item's parent")
}

func TestNormalize_DeduplicatesStructuralAgainstExistingContainers(t *testing.T) {
	compiler, _ := newTestCompiler(t)

	batch := &SourceBatch{
		Connector: true,
		Containers: []PlanContainer{
			{TempID: "c1", Type: ContainerProject, Title: "Board", Metadata: map[string]string{MetaExternalID: "1"}},
		},
		Items: []PlanItem{
			{TempID: "board-1", EntityType: EntityProject, Title: "Board", Metadata: map[string]string{MetaExternalID: "1"}},
		},
	}

	compiler.normalize(batch)

	assert.Len(t, batch.Containers, 1, "structural node already represented as container is dropped")
	assert.Empty(t, batch.Items)
}

func TestNormalize_TemplateSingletonWithinBatch(t *testing.T) {
	compiler, _ := newTestCompiler(t)

	batch := &SourceBatch{
		Connector: true,
		Items: []PlanItem{
			{TempID: "t1", EntityType: EntityTemplate, Title: "Onboarding", Metadata: map[string]string{MetaExternalID: "tpl-9"}},
			{TempID: "t2", EntityType: EntityTemplate, Title: "Onboarding", Metadata: map[string]string{MetaExternalID: "tpl-9"}},
			{TempID: "t3", EntityType: EntityTemplate, Title: "Other", Metadata: map[string]string{MetaExternalID: "tpl-10"}},
		},
	}

	compiler.normalize(batch)

	require.Len(t, batch.Items, 2, "duplicate template collapses to the first occurrence")
	assert.Equal(t, "t1", batch.Items[0].TempID)
	assert.Equal(t, "t3", batch.Items[1].TempID)
}

func TestNormalize_UnknownParentFallsBackToTarget(t *testing.T) {
	compiler, _ := newTestCompiler(t)

	batch := &SourceBatch{
		Connector: true,
		Items: []PlanItem{
			{TempID: "i1", EntityType: EntityTask, Title: "Row", ParentTempID: "vanished"},
		},
	}

	compiler.normalize(batch)

	assert.Empty(t, batch.Items[0].ParentTempID, "unresolvable parents clear to the target-container fallback")
}
