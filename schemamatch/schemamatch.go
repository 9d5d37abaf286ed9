// Package schemamatch scores imported field recordings against the known
// record definitions by field-name overlap, proposing a new definition when
// nothing existing matches well enough.
package schemamatch

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/importer"
)

// DefaultThreshold is the minimum overlap score for an existing definition
// to be considered a match.
const DefaultThreshold = 0.5

// Matcher implements importer.SchemaMatcher with Dice-coefficient scoring
// over normalized field names.
type Matcher struct {
	threshold float64
	logger    *zap.SugaredLogger
}

// New creates a matcher. A non-positive threshold falls back to the default.
func New(threshold float64, logger *zap.SugaredLogger) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold, logger: logger}
}

// Match scores the recordings against every definition and returns the best
// one above the threshold, or a proposed definition synthesized from the
// recordings. The returned match always carries a rationale.
func (m *Matcher) Match(recordings []importer.FieldRecording, definitions []importer.RecordDefinition) (importer.SchemaMatch, error) {
	names := normalizedNames(recordings)
	if len(names) == 0 {
		return importer.EmptySchemaMatch("item has no field recordings to match"), nil
	}

	var (
		best      *importer.RecordDefinition
		bestScore float64
	)
	for i := range definitions {
		score := diceScore(names, definitions[i].Fields)
		if score > bestScore {
			best = &definitions[i]
			bestScore = score
		}
	}

	if best != nil && bestScore >= m.threshold {
		return importer.SchemaMatch{
			DefinitionID:   best.ID,
			DefinitionName: best.Name,
			MatchScore:     bestScore,
			Rationale: fmt.Sprintf("%d of %d field(s) overlap with definition %q (score %.2f)",
				overlapCount(names, best.Fields), len(names), best.Name, bestScore),
		}, nil
	}

	proposed := proposeDefinition(names)
	rationale := "no record definitions exist; proposing one from the item's fields"
	if best != nil {
		rationale = fmt.Sprintf("best candidate %q scored %.2f, below threshold %.2f; proposing a new definition",
			best.Name, bestScore, m.threshold)
	}

	return importer.SchemaMatch{
		MatchScore:         bestScore,
		ProposedDefinition: proposed,
		Rationale:          rationale,
	}, nil
}

// diceScore is 2*|intersection| / (|a| + |b|) over normalized field names.
func diceScore(names map[string]bool, fields []string) float64 {
	if len(names) == 0 || len(fields) == 0 {
		return 0
	}
	overlap := overlapCount(names, fields)
	return 2 * float64(overlap) / float64(len(names)+len(fields))
}

func overlapCount(names map[string]bool, fields []string) int {
	count := 0
	for _, f := range fields {
		if names[normalize(f)] {
			count++
		}
	}
	return count
}

func normalizedNames(recordings []importer.FieldRecording) map[string]bool {
	names := make(map[string]bool, len(recordings))
	for _, rec := range recordings {
		if n := normalize(rec.Name); n != "" {
			names[n] = true
		}
	}
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// proposeDefinition synthesizes a definition from the item's own fields,
// sorted for a stable proposal across plan regenerations.
func proposeDefinition(names map[string]bool) *importer.ProposedDefinition {
	fields := make([]string, 0, len(names))
	for name := range names {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	name := "imported_record"
	if len(fields) > 0 {
		name = fields[0] + "_record"
	}
	return &importer.ProposedDefinition{Name: name, Fields: fields}
}
