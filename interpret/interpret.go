// Package interpret derives typed outputs from the free text and status
// metadata of imported rows: fact candidates from past-tense completion
// verbs, action hints from task-like phrasing, field values from structured
// metadata, and work events from recognized status strings.
//
// The rules are deliberately deterministic. The same text always produces
// the same interpretation plan, so the preview a user approves is exactly
// what execution replays.
package interpret

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/importer"
)

// factRule binds a completion verb to the fact kind it evidences.
type factRule struct {
	pattern  *regexp.Regexp
	factKind string
}

var factRules = []factRule{
	{regexp.MustCompile(`(?i)\bdelivered\b`), "item_delivered"},
	{regexp.MustCompile(`(?i)\bshipped\b`), "item_shipped"},
	{regexp.MustCompile(`(?i)\breceived\b`), "item_received"},
	{regexp.MustCompile(`(?i)\bsigned\b`), "document_signed"},
	{regexp.MustCompile(`(?i)\bpaid\b`), "payment_received"},
	{regexp.MustCompile(`(?i)\binvoiced\b`), "invoice_sent"},
}

var hintPattern = regexp.MustCompile(`(?i)\b(todo|to do|follow[ -]?up|call|email|schedule|review|check)\b`)

// internalPrefixes mark titles that are tracking work rather than evidence.
var internalPrefixes = []string{"todo", "to do", "task:", "internal:", "[internal]"}

// statusMap maps normalized source status strings to work event types.
// Monday-style statuses ("Working on it", "Done", "Stuck") are the primary
// vocabulary; common CSV spellings are included.
var statusMap = map[string]string{
	"done":          importer.EventWorkFinished,
	"complete":      importer.EventWorkFinished,
	"completed":     importer.EventWorkFinished,
	"finished":      importer.EventWorkFinished,
	"working on it": importer.EventWorkStarted,
	"in progress":   importer.EventWorkStarted,
	"started":       importer.EventWorkStarted,
	"doing":         importer.EventWorkStarted,
	"stuck":         importer.EventWorkBlocked,
	"blocked":       importer.EventWorkBlocked,
	"on hold":       importer.EventWorkBlocked,
}

// RuleInterpreter is the deterministic rule-based implementation of
// importer.Interpreter.
type RuleInterpreter struct {
	logger *zap.SugaredLogger
}

// New creates a rule interpreter.
func New(logger *zap.SugaredLogger) *RuleInterpreter {
	return &RuleInterpreter{logger: logger}
}

// Interpret derives an interpretation plan from one row's text and
// metadata. A nil error with an empty plan means "nothing recognized", not
// failure.
func (r *RuleInterpreter) Interpret(text, status, targetDate, stageName string) (*importer.InterpretationPlan, error) {
	plan := &importer.InterpretationPlan{Raw: text}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		r.extractFacts(plan, trimmed)
		r.extractHints(plan, trimmed)
	}

	if targetDate != "" {
		plan.Outputs = append(plan.Outputs, importer.InterpretationOutput{
			Kind:  importer.OutputFieldValue,
			Field: &importer.FieldValue{Name: "target_date", Value: targetDate},
		})
	}
	if stageName != "" {
		plan.Outputs = append(plan.Outputs, importer.InterpretationOutput{
			Kind:  importer.OutputFieldValue,
			Field: &importer.FieldValue{Name: "stage", Value: stageName},
		})
	}

	if event := mapStatus(status); event != "" {
		plan.StatusEvent = &importer.StatusEvent{EventType: event, Status: status}
	}

	return plan, nil
}

// InternalWork reports whether a title reads as tracked internal work.
func (r *RuleInterpreter) InternalWork(title string) bool {
	normalized := strings.ToLower(strings.TrimSpace(title))
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}

// extractFacts appends one fact candidate per matched completion verb.
// Confidence is high when the verb leads the text, medium when it appears
// mid-sentence.
func (r *RuleInterpreter) extractFacts(plan *importer.InterpretationPlan, text string) {
	for _, rule := range factRules {
		loc := rule.pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}

		confidence := string(importer.ConfidenceMedium)
		if loc[0] == 0 {
			confidence = string(importer.ConfidenceHigh)
		}

		payload := map[string]string{"source_text": text}
		plan.Outputs = append(plan.Outputs, importer.InterpretationOutput{
			Kind: importer.OutputFactCandidate,
			Fact: &importer.FactCandidate{
				FactKind:   rule.factKind,
				Confidence: confidence,
				Payload:    payload,
			},
		})
	}
}

// extractHints appends at most one action hint; multiple task verbs in one
// row still describe one unit of tracked work.
func (r *RuleInterpreter) extractHints(plan *importer.InterpretationPlan, text string) {
	match := hintPattern.FindString(text)
	if match == "" {
		return
	}
	plan.Outputs = append(plan.Outputs, importer.InterpretationOutput{
		Kind: importer.OutputActionHint,
		Hint: &importer.ActionHint{
			Verb:   strings.ToLower(match),
			Detail: text,
		},
	})
}

func mapStatus(status string) string {
	return statusMap[strings.ToLower(strings.TrimSpace(status))]
}
