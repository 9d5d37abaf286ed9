package schemamatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/importer"
)

func newMatcher(threshold float64) *Matcher {
	return New(threshold, zap.NewNop().Sugar())
}

func recordings(names ...string) []importer.FieldRecording {
	out := make([]importer.FieldRecording, 0, len(names))
	for _, name := range names {
		out = append(out, importer.FieldRecording{Name: name, Value: "v"})
	}
	return out
}

func TestMatch_ExactOverlapBinds(t *testing.T) {
	m := newMatcher(0)
	definitions := []importer.RecordDefinition{
		{ID: "d1", Name: "contact", Fields: []string{"email", "phone"}},
		{ID: "d2", Name: "invoice", Fields: []string{"amount", "due_date"}},
	}

	match, err := m.Match(recordings("email", "phone"), definitions)
	require.NoError(t, err)

	assert.Equal(t, "d1", match.DefinitionID)
	assert.Equal(t, "contact", match.DefinitionName)
	assert.InDelta(t, 1.0, match.MatchScore, 1e-9)
	assert.Nil(t, match.ProposedDefinition)
	assert.NotEmpty(t, match.Rationale)
}

func TestMatch_BestOfSeveral(t *testing.T) {
	m := newMatcher(0)
	definitions := []importer.RecordDefinition{
		{ID: "d1", Name: "contact", Fields: []string{"email", "phone", "address"}},
		{ID: "d2", Name: "lead", Fields: []string{"email", "source"}},
	}

	match, err := m.Match(recordings("email", "source"), definitions)
	require.NoError(t, err)
	assert.Equal(t, "d2", match.DefinitionID)
}

func TestMatch_BelowThresholdProposes(t *testing.T) {
	m := newMatcher(0.5)
	definitions := []importer.RecordDefinition{
		{ID: "d1", Name: "contact", Fields: []string{"email", "phone", "address", "company"}},
	}

	match, err := m.Match(recordings("weight", "color", "sku"), definitions)
	require.NoError(t, err)

	assert.Empty(t, match.DefinitionID)
	require.NotNil(t, match.ProposedDefinition)
	assert.Equal(t, []string{"color", "sku", "weight"}, match.ProposedDefinition.Fields, "proposal fields are sorted for stability")
	assert.Contains(t, match.Rationale, "below threshold")
}

func TestMatch_NoDefinitionsProposes(t *testing.T) {
	m := newMatcher(0.5)

	match, err := m.Match(recordings("email"), nil)
	require.NoError(t, err)

	assert.Empty(t, match.DefinitionID)
	require.NotNil(t, match.ProposedDefinition)
	assert.Equal(t, "email_record", match.ProposedDefinition.Name)
}

func TestMatch_NoRecordingsIsEmptyShaped(t *testing.T) {
	m := newMatcher(0.5)

	match, err := m.Match(nil, []importer.RecordDefinition{{ID: "d1", Fields: []string{"email"}}})
	require.NoError(t, err)

	assert.Empty(t, match.DefinitionID)
	assert.Nil(t, match.ProposedDefinition)
	assert.NotEmpty(t, match.Rationale)
}

func TestMatch_NameNormalization(t *testing.T) {
	m := newMatcher(0.5)
	definitions := []importer.RecordDefinition{
		{ID: "d1", Name: "contact", Fields: []string{"Email", "PHONE"}},
	}

	match, err := m.Match(recordings(" email ", "phone"), definitions)
	require.NoError(t, err)
	assert.Equal(t, "d1", match.DefinitionID)
}

func TestNew_DefaultThreshold(t *testing.T) {
	m := New(0, zap.NewNop().Sugar())
	assert.InDelta(t, DefaultThreshold, m.threshold, 1e-9)

	m = New(-1, zap.NewNop().Sugar())
	assert.InDelta(t, DefaultThreshold, m.threshold, 1e-9)
}
