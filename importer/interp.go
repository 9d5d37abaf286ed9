package importer

import "strings"

// Domain event types emitted by the composer. These are wire constants in
// the append-only event log and must never change once emitted.
const (
	EventActionDeclared = "ACTION_DECLARED"
	EventFactRecorded   = "FACT_RECORDED"
	EventRecordImported = "RECORD_IMPORTED"
	EventWorkStarted    = "WORK_STARTED"
	EventWorkFinished   = "WORK_FINISHED"
	EventWorkBlocked    = "WORK_BLOCKED"
)

// IsWorkEventType reports whether t is one of the derived work event types.
func IsWorkEventType(t string) bool {
	switch t {
	case EventWorkStarted, EventWorkFinished, EventWorkBlocked:
		return true
	default:
		return false
	}
}

// OutputKind tags interpretation outputs. The composer switches on this tag
// exhaustively; there is no string-typed dispatch beyond it.
type OutputKind string

const (
	OutputFactCandidate OutputKind = "fact_candidate"
	OutputActionHint    OutputKind = "action_hint"
	OutputFieldValue    OutputKind = "field_value"
)

// FactCandidate is a would-be FACT_RECORDED event derived from free text.
type FactCandidate struct {
	FactKind   string            `json:"factKind"`
	Confidence string            `json:"confidence"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// ActionHint marks text that reads as internal work to be tracked.
type ActionHint struct {
	Verb   string `json:"verb"`
	Detail string `json:"detail,omitempty"`
}

// FieldValue is a structured value extracted from the item's text/metadata.
// It is counted at execution but not separately persisted: the binding
// already lives on the created action.
type FieldValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StatusEvent is the work event derived from a recognized status mapping.
type StatusEvent struct {
	EventType string `json:"eventType"` // WORK_STARTED / WORK_FINISHED / WORK_BLOCKED
	Status    string `json:"status"`    // the raw source status that mapped to it
}

// InterpretationOutput is one typed output of the interpreter. Exactly one
// of Fact/Hint/Field is set, selected by Kind.
type InterpretationOutput struct {
	Kind  OutputKind     `json:"kind"`
	Fact  *FactCandidate `json:"fact,omitempty"`
	Hint  *ActionHint    `json:"hint,omitempty"`
	Field *FieldValue    `json:"field,omitempty"`
}

// InterpretationPlan carries the interpreter's outputs from classification
// time through to execution, so execution replays the exact same decisions
// the user previewed.
type InterpretationPlan struct {
	Outputs     []InterpretationOutput `json:"outputs,omitempty"`
	StatusEvent *StatusEvent           `json:"statusEvent,omitempty"`
	Raw         string                 `json:"raw,omitempty"`
}

// HasFactCandidates reports whether any output is a fact candidate.
func (p *InterpretationPlan) HasFactCandidates() bool {
	for _, out := range p.Outputs {
		if out.Kind == OutputFactCandidate {
			return true
		}
	}
	return false
}

// HasActionHints reports whether any output is an action hint.
func (p *InterpretationPlan) HasActionHints() bool {
	for _, out := range p.Outputs {
		if out.Kind == OutputActionHint {
			return true
		}
	}
	return false
}

// HasFieldValues reports whether any output is a field value.
func (p *InterpretationPlan) HasFieldValues() bool {
	for _, out := range p.Outputs {
		if out.Kind == OutputFieldValue {
			return true
		}
	}
	return false
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
