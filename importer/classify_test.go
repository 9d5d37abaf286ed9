package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeInterpreter returns canned interpretation plans keyed by title.
type fakeInterpreter struct {
	plans         map[string]*InterpretationPlan
	internalWork  map[string]bool
	err           error
}

func (f *fakeInterpreter) Interpret(text, status, targetDate, stageName string) (*InterpretationPlan, error) {
	if f.err != nil {
		return nil, f.err
	}
	if plan, ok := f.plans[text]; ok {
		return plan, nil
	}
	return &InterpretationPlan{Raw: text}, nil
}

func (f *fakeInterpreter) InternalWork(title string) bool {
	return f.internalWork[title]
}

// fakeMatcher returns a fixed match for every item.
type fakeMatcher struct {
	match SchemaMatch
	err   error
}

func (f *fakeMatcher) Match(recordings []FieldRecording, definitions []RecordDefinition) (SchemaMatch, error) {
	if f.err != nil {
		return SchemaMatch{}, f.err
	}
	return f.match, nil
}

func newTestClassifier(interp Interpreter, matcher SchemaMatcher) *Classifier {
	return NewClassifier(interp, matcher, zap.NewNop().Sugar())
}

func factPlan(kind, confidence string) *InterpretationPlan {
	return &InterpretationPlan{
		Outputs: []InterpretationOutput{{
			Kind: OutputFactCandidate,
			Fact: &FactCandidate{FactKind: kind, Confidence: confidence},
		}},
	}
}

func TestGenerateClassifications_Totality(t *testing.T) {
	classifier := newTestClassifier(&fakeInterpreter{}, &fakeMatcher{})

	items := []PlanItem{
		{TempID: "i1", Title: "Delivered the goods"},
		{TempID: "i2", Title: "whatever"},
		{TempID: "i3", EntityType: EntityRecord},
	}

	classifications := classifier.GenerateClassifications(items, nil, false)
	require.Len(t, classifications, len(items), "every item gets exactly one classification")

	for i, cls := range classifications {
		assert.Equal(t, items[i].TempID, cls.ItemTempID)
		assert.NotEmpty(t, cls.Outcome)
		assert.NotEmpty(t, cls.Confidence)
		assert.NotEmpty(t, cls.Rationale)
		assert.NotEmpty(t, cls.SchemaMatch.Rationale, "schema match is always present, possibly empty-shaped")
	}
}

func TestClassify_ParentUnresolvedWinsOverEverything(t *testing.T) {
	interp := &fakeInterpreter{internalWork: map[string]bool{"TODO: fix": true}}
	classifier := newTestClassifier(interp, &fakeMatcher{})

	items := []PlanItem{{
		TempID:   "i1",
		Title:    "TODO: fix",
		Metadata: map[string]string{MetaParentUnresolved: "true"},
	}}

	cls := classifier.GenerateClassifications(items, nil, false)[0]

	assert.Equal(t, OutcomeAmbiguous, cls.Outcome)
	assert.Equal(t, ConfidenceLow, cls.Confidence)
	assert.Equal(t, []string{CandidateAssignParent, CandidatePromoteToItem, CandidateSkip}, cls.CandidateResolutions)
}

func TestClassify_InternalWorkPattern(t *testing.T) {
	interp := &fakeInterpreter{internalWork: map[string]bool{"todo: call supplier": true}}
	classifier := newTestClassifier(interp, &fakeMatcher{})

	cls := classifier.GenerateClassifications([]PlanItem{{TempID: "i1", Title: "todo: call supplier"}}, nil, false)[0]

	assert.Equal(t, OutcomeInternalWork, cls.Outcome)
	assert.Equal(t, ConfidenceHigh, cls.Confidence)
}

func TestClassify_FactCandidatesWin(t *testing.T) {
	plan := factPlan("item_delivered", "high")
	plan.Outputs = append(plan.Outputs, InterpretationOutput{
		Kind: OutputActionHint,
		Hint: &ActionHint{Verb: "call"},
	})
	interp := &fakeInterpreter{plans: map[string]*InterpretationPlan{"Delivered, call back": plan}}
	classifier := newTestClassifier(interp, &fakeMatcher{})

	cls := classifier.GenerateClassifications([]PlanItem{{TempID: "i1", Title: "Delivered, call back"}}, nil, false)[0]

	assert.Equal(t, OutcomeFactEmitted, cls.Outcome)
	assert.Equal(t, ConfidenceHigh, cls.Confidence)
	require.NotNil(t, cls.Interpretation, "interpretation plan is stored for replay")
	assert.Len(t, cls.FactPreview(), 1)
}

func TestClassify_StatusEventIsDerivedState(t *testing.T) {
	plan := &InterpretationPlan{StatusEvent: &StatusEvent{EventType: EventWorkFinished, Status: "Done"}}
	interp := &fakeInterpreter{plans: map[string]*InterpretationPlan{"finish paperwork": plan}}
	classifier := newTestClassifier(interp, &fakeMatcher{})

	cls := classifier.GenerateClassifications([]PlanItem{{TempID: "i1", Title: "finish paperwork"}}, nil, false)[0]

	assert.Equal(t, OutcomeDerivedState, cls.Outcome)
	assert.Contains(t, cls.Rationale, "Done")
	assert.Contains(t, cls.Rationale, EventWorkFinished)
}

func TestClassify_NothingMatchedIsUnclassified(t *testing.T) {
	classifier := newTestClassifier(&fakeInterpreter{}, &fakeMatcher{})

	cls := classifier.GenerateClassifications([]PlanItem{{TempID: "i1", Title: "misc"}}, nil, false)[0]

	assert.Equal(t, OutcomeUnclassified, cls.Outcome)
	assert.Equal(t, ConfidenceLow, cls.Confidence)
	assert.True(t, cls.Unresolved())
}

func TestClassify_InterpreterErrorIsUnclassifiedNotFatal(t *testing.T) {
	interp := &fakeInterpreter{err: assert.AnError}
	classifier := newTestClassifier(interp, &fakeMatcher{})

	cls := classifier.GenerateClassifications([]PlanItem{{TempID: "i1", Title: "anything"}}, nil, false)[0]

	assert.Equal(t, OutcomeUnclassified, cls.Outcome)
	assert.Contains(t, cls.Rationale, "interpretation failed")
}

func TestClassify_ConnectorRecordWithoutFieldsIsAmbiguous(t *testing.T) {
	classifier := newTestClassifier(&fakeInterpreter{}, &fakeMatcher{})

	items := []PlanItem{
		{TempID: "r1", EntityType: EntityRecord},
		{TempID: "r2", EntityType: EntityRecord, FieldRecordings: []FieldRecording{{Name: "email", Value: "a@b.c"}}},
	}

	classifications := classifier.GenerateClassifications(items, nil, true)

	assert.Equal(t, OutcomeAmbiguous, classifications[0].Outcome)
	assert.Equal(t, OutcomeDerivedState, classifications[1].Outcome)
}

func TestClassify_ConnectorEntityTypes(t *testing.T) {
	classifier := newTestClassifier(&fakeInterpreter{}, &fakeMatcher{})

	cases := []struct {
		entityType EntityType
		outcome    Outcome
	}{
		{EntityTemplate, OutcomeDerivedState},
		{EntityTask, OutcomeInternalWork},
		{EntitySubtask, OutcomeInternalWork},
		{EntityStage, OutcomeInternalWork},
		{EntityType("mystery"), OutcomeUnclassified},
	}
	for _, tc := range cases {
		cls := classifier.GenerateClassifications([]PlanItem{{TempID: "i", EntityType: tc.entityType}}, nil, true)[0]
		assert.Equal(t, tc.outcome, cls.Outcome, "entity type %s", tc.entityType)
	}
}

func TestClassify_MatcherErrorAttachesEmptyMatch(t *testing.T) {
	matcher := &fakeMatcher{err: assert.AnError}
	classifier := newTestClassifier(&fakeInterpreter{}, matcher)

	items := []PlanItem{{
		TempID:          "i1",
		Title:           "row",
		FieldRecordings: []FieldRecording{{Name: "email", Value: "x"}},
	}}
	definitions := []RecordDefinition{{ID: "d1", Name: "contact", Fields: []string{"email"}}}

	cls := classifier.GenerateClassifications(items, definitions, false)[0]

	assert.Empty(t, cls.SchemaMatch.DefinitionID)
	assert.Contains(t, cls.SchemaMatch.Rationale, "schema matching failed")
}

func TestClassify_SchemaMatchAttached(t *testing.T) {
	matcher := &fakeMatcher{match: SchemaMatch{DefinitionID: "d1", DefinitionName: "contact", MatchScore: 0.8, Rationale: "good overlap"}}
	classifier := newTestClassifier(&fakeInterpreter{}, matcher)

	items := []PlanItem{{
		TempID:          "r1",
		EntityType:      EntityRecord,
		FieldRecordings: []FieldRecording{{Name: "email", Value: "x"}},
	}}
	definitions := []RecordDefinition{{ID: "d1", Name: "contact", Fields: []string{"email"}}}

	cls := classifier.GenerateClassifications(items, definitions, true)[0]

	assert.Equal(t, "d1", cls.SchemaMatch.DefinitionID)
	assert.InDelta(t, 0.8, cls.SchemaMatch.MatchScore, 1e-9)
}
