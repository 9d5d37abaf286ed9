package importer

import (
	"fmt"

	"go.uber.org/zap"
)

// Classifier assigns each plan item an outcome and a schema match.
//
// Classification is total: every item gets exactly one classification, and
// every classification carries a schemaMatch (possibly empty-shaped).
// Failures in the external matcher or interpreter are downgraded to
// rationale-carrying defaults, never propagated.
type Classifier struct {
	interp  Interpreter
	matcher SchemaMatcher
	logger  *zap.SugaredLogger
}

// NewClassifier creates a classification engine.
func NewClassifier(interp Interpreter, matcher SchemaMatcher, logger *zap.SugaredLogger) *Classifier {
	return &Classifier{interp: interp, matcher: matcher, logger: logger}
}

// GenerateClassifications classifies items in order against the current
// record definitions. Connector-sourced items carry no free text and are
// classified purely by entity type.
func (c *Classifier) GenerateClassifications(items []PlanItem, definitions []RecordDefinition, connector bool) []*ItemClassification {
	classifications := make([]*ItemClassification, 0, len(items))
	for i := range items {
		classifications = append(classifications, c.classifyItem(&items[i], definitions, connector))
	}
	return classifications
}

func (c *Classifier) classifyItem(item *PlanItem, definitions []RecordDefinition, connector bool) *ItemClassification {
	cls := &ItemClassification{ItemTempID: item.TempID}

	switch {
	case item.Meta(MetaParentUnresolved) == "true":
		// The source adapter could not locate the referenced parent within
		// the batch. A human picks how to proceed.
		cls.Outcome = OutcomeAmbiguous
		cls.Confidence = ConfidenceLow
		cls.Rationale = "referenced parent could not be resolved within the import batch"
		cls.CandidateResolutions = []string{CandidateAssignParent, CandidatePromoteToItem, CandidateSkip}

	case c.interp.InternalWork(item.Title):
		cls.Outcome = OutcomeInternalWork
		cls.Confidence = ConfidenceHigh
		cls.Rationale = "title matches internal work pattern"

	case connector, item.EntityType == EntityRecord, item.EntityType == EntityTemplate:
		// Explicitly typed record/template rows classify by entity type
		// even outside connector flows; there is no text to interpret on
		// them that would say more than the declared type does.
		c.classifyByEntityType(item, cls)

	default:
		c.classifyByInterpretation(item, cls)
	}

	// Every path gets a schema match; downstream shape consistency depends
	// on the field always being present.
	cls.SchemaMatch = c.matchSchema(item, definitions)
	return cls
}

// classifyByInterpretation runs the text/status interpreter and classifies
// by output kind, priority order: fact candidates, then action hints, then
// a derived status event or field values, else unclassified.
func (c *Classifier) classifyByInterpretation(item *PlanItem, cls *ItemClassification) {
	plan, err := c.interp.Interpret(item.Title, item.Meta(MetaStatus), item.Meta(MetaTargetDate), item.Meta(MetaStageName))
	if err != nil {
		c.logger.Warnw("Interpreter failed; item left unclassified",
			"item", item.TempID,
			"error", err,
		)
		cls.Outcome = OutcomeUnclassified
		cls.Confidence = ConfidenceLow
		cls.Rationale = "interpretation failed: " + err.Error()
		return
	}

	cls.Interpretation = plan

	switch {
	case plan.HasFactCandidates():
		cls.Outcome = OutcomeFactEmitted
		cls.Confidence = firstFactConfidence(plan)
		cls.Rationale = fmt.Sprintf("%d fact candidate(s) derived from text; facts recorded on execution", len(cls.FactPreview()))

	case plan.HasActionHints():
		cls.Outcome = OutcomeInternalWork
		cls.Confidence = ConfidenceMedium
		cls.Rationale = "text reads as internal work to track"

	case plan.StatusEvent != nil:
		cls.Outcome = OutcomeDerivedState
		cls.Confidence = ConfidenceMedium
		cls.Rationale = fmt.Sprintf("status %q maps to %s", plan.StatusEvent.Status, plan.StatusEvent.EventType)

	case plan.HasFieldValues():
		cls.Outcome = OutcomeDerivedState
		cls.Confidence = ConfidenceMedium
		cls.Rationale = "structured field values extracted from source"

	default:
		cls.Outcome = OutcomeUnclassified
		cls.Confidence = ConfidenceLow
		cls.Rationale = "no interpretation rule matched"
	}
}

// classifyByEntityType classifies connector-sourced items, which carry no
// free text to interpret.
func (c *Classifier) classifyByEntityType(item *PlanItem, cls *ItemClassification) {
	switch {
	case item.EntityType == EntityRecord && len(item.FieldRecordings) == 0:
		// No field data at all: needs manual schema assignment.
		cls.Outcome = OutcomeAmbiguous
		cls.Confidence = ConfidenceLow
		cls.Rationale = "record item has no field data; assign a schema to proceed"

	case item.EntityType == EntityRecord:
		cls.Outcome = OutcomeDerivedState
		cls.Confidence = ConfidenceMedium
		cls.Rationale = "record item; structured state derived from field data"

	case item.EntityType == EntityTemplate:
		// Templates auto-commit and are cross-import singletons.
		cls.Outcome = OutcomeDerivedState
		cls.Confidence = ConfidenceHigh
		cls.Rationale = "template; auto-committed singleton"

	case item.EntityType == EntityAction, item.EntityType == EntityTask, item.EntityType == EntitySubtask:
		cls.Outcome = OutcomeInternalWork
		cls.Confidence = ConfidenceHigh
		cls.Rationale = "work entity from connector"

	case item.EntityType.IsStructural():
		cls.Outcome = OutcomeInternalWork
		cls.Confidence = ConfidenceMedium
		cls.Rationale = "structural marker"

	default:
		cls.Outcome = OutcomeUnclassified
		cls.Confidence = ConfidenceLow
		cls.Rationale = fmt.Sprintf("unrecognized entity type %q", item.EntityType)
	}
}

// matchSchema runs schema matching for every classification. Matcher
// failures are downgraded to an empty, rationale-carrying match:
// classification must never fail as a side effect of matching.
func (c *Classifier) matchSchema(item *PlanItem, definitions []RecordDefinition) SchemaMatch {
	if len(item.FieldRecordings) == 0 {
		return EmptySchemaMatch("no field recordings to match")
	}
	if len(definitions) == 0 {
		return EmptySchemaMatch("no record definitions exist")
	}

	match, err := c.matcher.Match(item.FieldRecordings, definitions)
	if err != nil {
		c.logger.Warnw("Schema matching failed; attaching empty match",
			"item", item.TempID,
			"error", err,
		)
		return EmptySchemaMatch("schema matching failed: " + err.Error())
	}
	return match
}

// firstFactConfidence normalizes the confidence of the first fact candidate
// in the plan, defaulting to medium when absent.
func firstFactConfidence(plan *InterpretationPlan) Confidence {
	for _, out := range plan.Outputs {
		if out.Kind == OutputFactCandidate && out.Fact != nil {
			return NormalizeConfidence(out.Fact.Confidence)
		}
	}
	return ConfidenceMedium
}
