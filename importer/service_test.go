package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
)

// fakeAdapter serves a canned batch for one source kind.
type fakeAdapter struct {
	kind  SourceKind
	batch *SourceBatch
	err   error
}

func (f *fakeAdapter) Kind() SourceKind { return f.kind }

func (f *fakeAdapter) Fetch(ctx context.Context, session *ImportSession) (*SourceBatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func newTestService(t *testing.T, adapters ...SourceAdapter) (*Service, *composerHarness) {
	t.Helper()
	h := newComposerHarness(t)
	classifier := newTestClassifier(&fakeInterpreter{}, &fakeMatcher{})
	compiler := NewCompiler(h.store, classifier, h.records, zap.NewNop().Sugar())
	return NewService(h.store, compiler, h.composer, zap.NewNop().Sugar(), adapters...), h
}

func TestService_CreateSessionRejectsUnknownKind(t *testing.T) {
	svc, _ := newTestService(t, &fakeAdapter{kind: SourceCSV})

	_, err := svc.CreateSession(context.Background(), SourceKind("jira"), "", nil, "", "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestService_PlanResolveExecuteFlow(t *testing.T) {
	adapter := &fakeAdapter{
		kind: SourceCSV,
		batch: &SourceBatch{
			Items: []PlanItem{
				{TempID: "i1", EntityType: EntityTask, Title: "mystery row"},
			},
		},
	}
	svc, h := newTestService(t, adapter)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, SourceCSV, "payload", nil, "target-1", "tester")
	require.NoError(t, err)

	plan, err := svc.GeneratePlan(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, plan.Executable(), "unclassifiable row blocks the plan")

	// Executing now must come back blocked
	blocked, err := svc.ExecuteImport(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, blocked.Blocked)

	_, err = svc.SaveResolutions(ctx, session.ID, []ResolutionInput{{
		ItemTempID: "i1",
		Resolution: Resolution{ResolvedOutcome: OutcomeInternalWork},
	}})
	require.NoError(t, err)

	result, err := svc.ExecuteImport(ctx, session.ID)
	require.NoError(t, err)
	require.False(t, result.Blocked)
	assert.Equal(t, 1, result.Results.ActionsCreated)
	assert.NotNil(t, h.actions.byTitle("mystery row"))

	executions, err := svc.ListExecutions(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestService_RePlanSupersedes(t *testing.T) {
	adapter := &fakeAdapter{
		kind: SourceCSV,
		batch: &SourceBatch{
			Items: []PlanItem{{TempID: "i1", EntityType: EntityTask, Title: "mystery"}},
		},
	}
	svc, _ := newTestService(t, adapter)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, SourceCSV, "payload", nil, "", "")
	require.NoError(t, err)

	first, err := svc.GeneratePlan(ctx, session.ID)
	require.NoError(t, err)

	adapter.batch = &SourceBatch{
		Items: []PlanItem{{TempID: "i1", EntityType: EntityTask, Title: "another mystery"}},
	}
	second, err := svc.GeneratePlan(ctx, session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	latest, err := svc.GetLatestPlan(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "another mystery", latest.Items[0].Title)
}

func TestService_FetchFailureWrapped(t *testing.T) {
	adapter := &fakeAdapter{kind: SourceCSV, err: errors.New("network down")}
	svc, _ := newTestService(t, adapter)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, SourceCSV, "payload", nil, "", "")
	require.NoError(t, err)

	_, err = svc.GeneratePlan(ctx, session.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
}
