package importer

import (
	"time"

	"github.com/inflow-io/inflow/logger"
)

// ContainerType is the type of a structural hierarchy node.
type ContainerType string

const (
	ContainerProject    ContainerType = "project"
	ContainerProcess    ContainerType = "process"
	ContainerStage      ContainerType = "stage"
	ContainerSubprocess ContainerType = "subprocess"
)

// EntityType is the kind of leaf work unit an item represents.
type EntityType string

const (
	EntityRecord     EntityType = "record"
	EntityTemplate   EntityType = "template"
	EntityAction     EntityType = "action"
	EntityTask       EntityType = "task"
	EntitySubtask    EntityType = "subtask"
	EntityProject    EntityType = "project"
	EntityStage      EntityType = "stage"
	EntityProcess    EntityType = "process"
	EntitySubprocess EntityType = "subprocess"
)

// IsStructural reports whether the entity type marks hierarchy structure
// rather than real work.
func (t EntityType) IsStructural() bool {
	switch t {
	case EntityProject, EntityStage, EntityProcess, EntitySubprocess:
		return true
	default:
		return false
	}
}

// Well-known item metadata keys populated by source adapters.
const (
	MetaExternalID         = "external_id"
	MetaExternalType       = "external_type"
	MetaProvider           = "provider"
	MetaStatus             = "status"
	MetaTargetDate         = "target_date"
	MetaStageName          = "stage_name"
	MetaGroupExternalID    = "group_external_id"
	MetaParentUnresolved   = "parent_unresolved" // set to "true" on parent resolution failure
	MetaSourceRow          = "source_row"
)

// PlanContainer is a structural node in an import plan.
type PlanContainer struct {
	TempID       string            `json:"tempId"`
	Type         ContainerType     `json:"type"`
	Title        string            `json:"title"`
	ParentTempID string            `json:"parentTempId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FieldRecording is a name/value pair extracted from the source.
type FieldRecording struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PlanItem is a leaf unit of import work.
type PlanItem struct {
	TempID          string            `json:"tempId"`
	EntityType      EntityType        `json:"entityType"`
	Title           string            `json:"title"`
	ParentTempID    string            `json:"parentTempId,omitempty"`
	FieldRecordings []FieldRecording  `json:"fieldRecordings,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Meta returns a metadata value, or empty string if absent.
func (i *PlanItem) Meta(key string) string {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata[key]
}

// IssueSeverity tags validation issues from the source adapter.
type IssueSeverity string

const (
	SeverityInfo    IssueSeverity = "info"
	SeverityWarning IssueSeverity = "warning"
	SeverityError   IssueSeverity = "error"
)

// ValidationIssue is a severity-tagged message from the source adapter.
type ValidationIssue struct {
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// Outcome classifies what an item should become on execution.
type Outcome string

const (
	OutcomeFactEmitted  Outcome = "fact_emitted"
	OutcomeInternalWork Outcome = "internal_work"
	OutcomeDerivedState Outcome = "derived_state"
	OutcomeAmbiguous    Outcome = "ambiguous"
	OutcomeUnclassified Outcome = "unclassified"

	// Resolution-only outcomes (superset of the classification enum)
	OutcomeDeferred     Outcome = "deferred"
	OutcomeExternalWork Outcome = "external_work"
)

// NeedsResolution reports whether the outcome requires a human resolution
// before the plan can execute.
func (o Outcome) NeedsResolution() bool {
	return o == OutcomeAmbiguous || o == OutcomeUnclassified
}

// Confidence is the closed confidence scale used across classifications
// and event payloads.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// NormalizeConfidence coerces an upstream confidence value into the closed
// {low, medium, high} set. Unrecognized values become medium and are logged
// as a data-quality signal, never rejected: the event log is append-only
// and an invalid value embedded there is unfixable after the fact.
func NormalizeConfidence(raw string) Confidence {
	switch Confidence(normalizeToken(raw)) {
	case ConfidenceLow, "l":
		return ConfidenceLow
	case ConfidenceMedium, "m":
		return ConfidenceMedium
	case ConfidenceHigh, "h":
		return ConfidenceHigh
	default:
		logger.Warnw("Unrecognized confidence value coerced to medium",
			"raw", raw,
		)
		return ConfidenceMedium
	}
}

// SchemaMatch is the result of matching an item's field recordings against
// the known record definitions. It is always present on a classification,
// possibly empty-shaped with an explanatory rationale: downstream code and
// UI depend on shape consistency.
type SchemaMatch struct {
	DefinitionID       string              `json:"definitionId,omitempty"`
	DefinitionName     string              `json:"definitionName,omitempty"`
	MatchScore         float64             `json:"matchScore"`
	ProposedDefinition *ProposedDefinition `json:"proposedDefinition,omitempty"`
	Rationale          string              `json:"rationale"`
}

// ProposedDefinition is a definition synthesized from an item's field
// recordings when nothing existing matched well enough.
type ProposedDefinition struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// EmptySchemaMatch builds the empty-shaped match with an explicit rationale.
func EmptySchemaMatch(rationale string) SchemaMatch {
	return SchemaMatch{MatchScore: 0, Rationale: rationale}
}

// Resolution is a human override of a classification's outcome.
type Resolution struct {
	ResolvedOutcome  Outcome           `json:"resolvedOutcome"`
	ResolvedFactKind string            `json:"resolvedFactKind,omitempty"`
	ResolvedPayload  map[string]string `json:"resolvedPayload,omitempty"`
}

// Candidate resolutions offered for parent-resolution failures.
const (
	CandidateAssignParent  = "assign_parent"
	CandidatePromoteToItem = "promote_to_item"
	CandidateSkip          = "skip"
)

// ItemClassification is the engine's determination of what one item should
// become on execution, plus the optional human resolution.
type ItemClassification struct {
	ItemTempID           string              `json:"itemTempId"`
	Outcome              Outcome             `json:"outcome"`
	Confidence           Confidence          `json:"confidence"`
	Rationale            string              `json:"rationale"`
	Interpretation       *InterpretationPlan `json:"interpretationPlan,omitempty"`
	SchemaMatch          SchemaMatch         `json:"schemaMatch"`
	Resolution           *Resolution         `json:"resolution,omitempty"`
	CandidateResolutions []string            `json:"candidateResolutions,omitempty"`
}

// EffectiveOutcome returns the resolution's outcome when present, else the
// engine's outcome.
func (c *ItemClassification) EffectiveOutcome() Outcome {
	if c.Resolution != nil && c.Resolution.ResolvedOutcome != "" {
		return c.Resolution.ResolvedOutcome
	}
	return c.Outcome
}

// Unresolved reports whether the classification still blocks execution.
func (c *ItemClassification) Unresolved() bool {
	return c.EffectiveOutcome().NeedsResolution()
}

// FactPreview lists the would-be FACT_RECORDED event descriptors carried by
// the stored interpretation plan, for UI preview.
func (c *ItemClassification) FactPreview() []FactCandidate {
	if c.Interpretation == nil {
		return nil
	}
	var facts []FactCandidate
	for _, out := range c.Interpretation.Outputs {
		if out.Kind == OutputFactCandidate && out.Fact != nil {
			facts = append(facts, *out.Fact)
		}
	}
	return facts
}

// ImportPlan is one versioned compilation of a session's source data.
// Plans are immutable except for per-classification resolution merges;
// re-planning creates a new version, and the latest by creation time is
// authoritative.
type ImportPlan struct {
	ID               string                         `json:"id"`
	SessionID        string                         `json:"session_id"`
	Containers       []PlanContainer                `json:"containers"`
	Items            []PlanItem                     `json:"items"`
	Classifications  map[string]*ItemClassification `json:"classifications"`
	ValidationIssues []ValidationIssue              `json:"validationIssues,omitempty"`
	CreatedAt        time.Time                      `json:"created_at"`
}

// ItemByTempID returns the plan item with the given temp id, or nil.
func (p *ImportPlan) ItemByTempID(tempID string) *PlanItem {
	for i := range p.Items {
		if p.Items[i].TempID == tempID {
			return &p.Items[i]
		}
	}
	return nil
}

func (p *ImportPlan) containerByTempID(tempID string) *PlanContainer {
	for i := range p.Containers {
		if p.Containers[i].TempID == tempID {
			return &p.Containers[i]
		}
	}
	return nil
}

// UnresolvedCounts returns how many classifications still block execution,
// split by outcome.
func (p *ImportPlan) UnresolvedCounts() (total, ambiguous, unclassified int) {
	for _, cls := range p.Classifications {
		if !cls.Unresolved() {
			continue
		}
		total++
		switch cls.Outcome {
		case OutcomeAmbiguous:
			ambiguous++
		case OutcomeUnclassified:
			unclassified++
		}
	}
	return total, ambiguous, unclassified
}

// Executable reports whether every classification is resolved or terminal.
func (p *ImportPlan) Executable() bool {
	total, _, _ := p.UnresolvedCounts()
	return total == 0
}

// DerivedSessionStatus is the session status implied by the plan's current
// classification state.
func (p *ImportPlan) DerivedSessionStatus() SessionStatus {
	if p.Executable() {
		return SessionPlanned
	}
	return SessionNeedsReview
}
