package importer

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
)

// DefaultFactKind is embedded in FACT_RECORDED payloads when an upstream
// fact kind fails validation. The event log is append-only, so a bad value
// must never reach it.
const DefaultFactKind = "imported_fact"

var factKindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Composer walks a resolved plan and materializes it as hierarchy nodes,
// bulk-created records, actions, and an ordered stream of domain events.
//
// Execution is strictly sequential within one attempt; the dependency
// ordering and template singleton invariants depend on it. Mutations run in
// per-operation transactional scopes, not one giant transaction, so a
// failure leaves partial writes behind by design (errors are reported, not
// rolled back across the batch).
type Composer struct {
	store     *Store
	hierarchy HierarchyStore
	actions   ActionStore
	records   RecordStore
	events    EventWriter
	facts     FactKindRegistry
	mappings  SyncMappingStore
	interp    Interpreter
	logger    *zap.SugaredLogger
	actor     string
}

// NewComposer creates a composer execution engine.
func NewComposer(
	store *Store,
	hierarchy HierarchyStore,
	actions ActionStore,
	records RecordStore,
	events EventWriter,
	facts FactKindRegistry,
	mappings SyncMappingStore,
	interp Interpreter,
	logger *zap.SugaredLogger,
	actor string,
) *Composer {
	if actor == "" {
		actor = "import@system"
	}
	return &Composer{
		store:     store,
		hierarchy: hierarchy,
		actions:   actions,
		records:   records,
		events:    events,
		facts:     facts,
		mappings:  mappings,
		interp:    interp,
		logger:    logger,
		actor:     actor,
	}
}

// execState carries the mutable state of one execution attempt.
type execState struct {
	createdIDs     map[string]string        // temp id -> created entity id
	containerTypes map[string]ContainerType // created id -> container type
	result         *ExecutionResult
}

func (st *execState) addError(format string, args ...interface{}) {
	st.result.Errors = append(st.result.Errors, fmt.Sprintf(format, args...))
}

// ExecuteImport runs the latest plan for a session through the composer.
//
// Gate check: a plan with any unresolved AMBIGUOUS/UNCLASSIFIED
// classification aborts before an execution row is created — a structured
// blocked result, not an error. A fatal failure inside the phases marks
// the execution and session failed and is rethrown; the session can be
// replanned afterwards.
func (c *Composer) ExecuteImport(ctx context.Context, sessionID string) (*ExecuteResult, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	plan, err := c.store.GetLatestPlan(ctx, sessionID)
	if errors.IsNotFoundError(err) {
		return nil, errors.NewInvalidRequestError("session %s has no plan to execute", sessionID)
	}
	if err != nil {
		return nil, err
	}

	if total, ambiguous, unclassified := plan.UnresolvedCounts(); total > 0 {
		session.MarkNeedsReview()
		if err := c.store.UpdateSessionStatus(ctx, session); err != nil {
			return nil, err
		}
		return &ExecuteResult{
			Blocked:         true,
			UnresolvedCount: total,
			Ambiguous:       ambiguous,
			Unclassified:    unclassified,
			Message:         fmt.Sprintf("%d classification(s) need resolution before execution", total),
		}, nil
	}

	running, err := c.store.HasRunningExecution(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, errors.Wrapf(errors.ErrExecutionRunning, "plan %s", plan.ID)
	}

	exec := NewImportExecution(plan.ID, session.ID)
	if err := c.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	session.MarkExecuting()
	if err := c.store.UpdateSessionStatus(ctx, session); err != nil {
		return nil, err
	}

	result, err := c.executePlan(ctx, session, plan)
	if err != nil {
		exec.Fail(err)
		if updateErr := c.store.UpdateExecution(ctx, exec); updateErr != nil {
			c.logger.Errorw("Failed to record execution failure", "execution", exec.ID, "error", updateErr)
		}
		session.MarkFailed()
		if updateErr := c.store.UpdateSessionStatus(ctx, session); updateErr != nil {
			c.logger.Errorw("Failed to mark session failed", "session", session.ID, "error", updateErr)
		}
		return nil, err
	}

	exec.Complete(result)
	if err := c.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	session.MarkCompleted()
	if err := c.store.UpdateSessionStatus(ctx, session); err != nil {
		return nil, err
	}

	return &ExecuteResult{Status: "completed", Results: result}, nil
}

// executePlan proceeds through the five ordered phases.
func (c *Composer) executePlan(ctx context.Context, session *ImportSession, plan *ImportPlan) (*ExecutionResult, error) {
	st := &execState{
		createdIDs:     make(map[string]string),
		containerTypes: make(map[string]ContainerType),
		result: &ExecutionResult{
			CreatedIDs: nil, // assigned at finalization
			ItemCount:  len(plan.Items),
		},
	}

	if err := c.materializeContainers(ctx, session, plan, st); err != nil {
		return nil, err
	}
	c.materializeRecords(ctx, session, plan, st)
	c.createActions(ctx, session, plan, st)
	c.finalize(ctx, session, st)

	return st.result, nil
}

// materializeContainers is phase 1: containers are created in plan order;
// parent ids resolve through the incrementally built temp id map, falling
// back to the session's target container, then to a bare root when the
// declared parent was never created (a dependency-ordering bug upstream,
// logged, never fatal).
func (c *Composer) materializeContainers(ctx context.Context, session *ImportSession, plan *ImportPlan, st *execState) error {
	for i := range plan.Containers {
		container := &plan.Containers[i]

		parentID := session.TargetContainerID
		if container.ParentTempID != "" {
			if created, ok := st.createdIDs[container.ParentTempID]; ok {
				parentID = created
			} else {
				c.logger.Warnw("Container parent was never created; attaching to target container",
					"container", container.TempID,
					"parent_temp_id", container.ParentTempID,
				)
			}
		}

		node := &Node{
			ID:       uuid.NewString(),
			Type:     container.Type,
			Title:    container.Title,
			ParentID: parentID,
			Metadata: container.Metadata,
		}
		if err := c.hierarchy.CreateNode(ctx, node); err != nil {
			return errors.Wrapf(err, "create container %s", container.TempID)
		}

		st.createdIDs[container.TempID] = node.ID
		st.containerTypes[node.ID] = container.Type
		st.result.ContainerCount++
	}
	return nil
}

// materializeRecords is phase 2: record items with a resolved definition id
// are grouped by definition and upserted in one batch call per group, keyed
// by the item's collision-free temp id. Items without a resolvable
// definition are logged with the specific reason, never silently dropped.
func (c *Composer) materializeRecords(ctx context.Context, session *ImportSession, plan *ImportPlan, st *execState) {
	type recordGroup struct {
		definitionID string
		items        []*PlanItem
	}
	var groups []*recordGroup
	groupIndex := make(map[string]*recordGroup)

	for i := range plan.Items {
		item := &plan.Items[i]
		if item.EntityType != EntityRecord {
			continue
		}

		cls := plan.Classifications[item.TempID]
		if cls == nil {
			c.logger.Warnw("Skipping record: missing classification", "item", item.TempID)
			continue
		}
		if cls.EffectiveOutcome() == OutcomeDeferred {
			c.logger.Infow("Skipping record: deferred by resolution", "item", item.TempID)
			continue
		}

		definitionID := cls.SchemaMatch.DefinitionID
		if definitionID == "" && cls.Resolution != nil {
			definitionID = cls.Resolution.ResolvedPayload["definition_id"]
		}
		if definitionID == "" {
			c.logger.Warnw("Skipping record: no definition id resolved",
				"item", item.TempID,
				"match_rationale", cls.SchemaMatch.Rationale,
			)
			continue
		}

		group, ok := groupIndex[definitionID]
		if !ok {
			group = &recordGroup{definitionID: definitionID}
			groupIndex[definitionID] = group
			groups = append(groups, group)
		}
		group.items = append(group.items, item)
	}

	for _, group := range groups {
		itemsByUniqueName := make(map[string]*PlanItem, len(group.items))
		rows := make([]RecordUpsert, 0, len(group.items))
		for _, item := range group.items {
			data := make(map[string]string, len(item.FieldRecordings)+1)
			for _, rec := range item.FieldRecordings {
				data[rec.Name] = rec.Value
			}
			// Default the title from the item only when the source data
			// carries neither key; explicit data must not be clobbered.
			if _, hasTitle := data["title"]; !hasTitle {
				if _, hasName := data["name"]; !hasName {
					data["title"] = item.Title
				}
			}

			rows = append(rows, RecordUpsert{
				UniqueName:           item.TempID,
				Data:                 data,
				ClassificationNodeID: st.createdIDs[item.ParentTempID],
			})
			itemsByUniqueName[item.TempID] = item
		}

		res, err := c.records.BulkUpsert(ctx, group.definitionID, rows)
		if err != nil {
			st.addError("bulk upsert for definition %s: %v", group.definitionID, err)
			continue
		}

		for _, rowErr := range res.Errors {
			st.addError("record %s: %s", rowErr.UniqueName, rowErr.Message)
		}

		for _, rec := range res.Records {
			item := itemsByUniqueName[rec.UniqueName]
			if item == nil {
				continue
			}
			st.createdIDs[item.TempID] = rec.ID
			if !rec.Created {
				continue
			}
			st.result.RecordsCreated++

			contextID := session.TargetContainerID
			if contextID == "" {
				contextID = st.createdIDs[item.ParentTempID]
			}
			event := Event{
				ContextID:   contextID,
				ContextType: string(c.deriveContextType(session, st, contextID, false)),
				Type:        EventRecordImported,
				Payload: map[string]interface{}{
					"record_id":     rec.ID,
					"definition_id": group.definitionID,
					"title":         item.Title,
				},
				ActorID: c.actor,
			}
			if err := c.events.Emit(ctx, event); err != nil {
				st.addError("audit event for record %s: %v", item.TempID, err)
			}

			c.recordSyncMapping(ctx, session, st, item, "record", rec.ID)
		}
	}
}

// createActions covers phases 3 and 4: the remaining items are walked in
// dependency (depth) order, templates are deduplicated across imports by
// external id, contexts are resolved, actions created, and events emitted.
func (c *Composer) createActions(ctx context.Context, session *ImportSession, plan *ImportPlan, st *execState) {
	for _, idx := range dependencyOrder(plan.Items) {
		item := &plan.Items[idx]

		// Already materialized in phase 2 (or aliased earlier)
		if _, done := st.createdIDs[item.TempID]; done {
			continue
		}
		// Records without a definition were logged in phase 2
		if item.EntityType == EntityRecord {
			continue
		}

		cls := plan.Classifications[item.TempID]
		if cls == nil {
			c.logger.Warnw("Item has no classification; creating as plain action", "item", item.TempID)
			cls = &ItemClassification{ItemTempID: item.TempID, Outcome: OutcomeInternalWork, Confidence: ConfidenceLow}
		}
		if cls.EffectiveOutcome() == OutcomeDeferred {
			c.logger.Infow("Skipping item: deferred by resolution", "item", item.TempID)
			continue
		}

		// Template deduplication: templates are cross-import singletons.
		externalID := item.Meta(MetaExternalID)
		if item.EntityType == EntityTemplate && externalID != "" {
			mapping, err := c.mappings.Lookup(ctx, c.providerFor(session, item), externalID)
			if err != nil {
				st.addError("template mapping lookup for %s: %v", item.TempID, err)
			} else if mapping != nil {
				st.createdIDs[item.TempID] = mapping.LocalEntityID
				c.logger.Infow("Template already imported; aliasing to existing entity",
					"item", item.TempID,
					"external_id", externalID,
					"entity", mapping.LocalEntityID,
				)
				continue
			}
		}

		parentActionID, contextID := c.resolveContext(session, plan, st, item)
		if contextID == "" && item.EntityType != EntityTemplate {
			// Templates may be created context-free with the empty
			// sentinel; everything else is skipped and counted.
			c.logger.Warnw("Skipping item with no resolvable context", "item", item.TempID)
			st.result.SkippedNoContext++
			continue
		}

		contextType := c.deriveContextType(session, st, contextID, true)

		action := &Action{
			ID:             uuid.NewString(),
			ContextID:      contextID,
			ContextType:    string(contextType),
			Type:           actionTypeFor(item.EntityType),
			Title:          item.Title,
			ParentActionID: parentActionID,
			FieldBindings:  buildFieldBindings(item),
		}
		if err := c.actions.CreateAction(ctx, action); err != nil {
			st.addError("create action for %s: %v", item.TempID, err)
			continue
		}
		st.createdIDs[item.TempID] = action.ID
		st.result.ActionsCreated++

		declared := Event{
			ContextID:   contextID,
			ContextType: string(contextType),
			ActionID:    action.ID,
			Type:        EventActionDeclared,
			Payload: map[string]interface{}{
				"title":            item.Title,
				"metadata":         item.Metadata,
				"parent_action_id": parentActionID,
			},
			ActorID: c.actor,
		}
		if err := c.events.Emit(ctx, declared); err != nil {
			st.addError("action event for %s: %v", item.TempID, err)
		}

		if externalID != "" {
			localType := "action"
			if item.EntityType == EntityTemplate {
				localType = "template"
			}
			c.recordSyncMapping(ctx, session, st, item, localType, action.ID)
		}

		// Work resolved as external happened outside this system; the
		// action records it, but no facts or work events are derived.
		if cls.EffectiveOutcome() != OutcomeExternalWork {
			c.replayInterpretation(ctx, session, st, item, cls, action, string(contextType))
		}
	}
}

// resolveContext determines an item's parent action id and context id.
//
// Parent is another item: the action inherits parent_action_id from it and
// its context from the grandparent container, falling back to the target
// container. Parent is a container: the context is that container. No
// parent: the context is the target container.
func (c *Composer) resolveContext(session *ImportSession, plan *ImportPlan, st *execState, item *PlanItem) (parentActionID, contextID string) {
	parentTemp := item.ParentTempID
	if parentTemp == "" {
		return "", session.TargetContainerID
	}

	if parentItem := plan.ItemByTempID(parentTemp); parentItem != nil {
		parentActionID = st.createdIDs[parentTemp]
		if parentActionID == "" {
			c.logger.Warnw("Parent action still unresolved at creation time",
				"item", item.TempID,
				"parent_temp_id", parentTemp,
			)
		}
		if gp := parentItem.ParentTempID; gp != "" && plan.containerByTempID(gp) != nil {
			if created, ok := st.createdIDs[gp]; ok {
				return parentActionID, created
			}
		}
		return parentActionID, session.TargetContainerID
	}

	if plan.containerByTempID(parentTemp) != nil {
		if created, ok := st.createdIDs[parentTemp]; ok {
			return "", created
		}
		c.logger.Warnw("Parent container was never created; using target container",
			"item", item.TempID,
			"parent_temp_id", parentTemp,
		)
		return "", session.TargetContainerID
	}

	c.logger.Warnw("Parent temp id not found in plan; using target container",
		"item", item.TempID,
		"parent_temp_id", parentTemp,
	)
	return "", session.TargetContainerID
}

// deriveContextType derives the context type from what this execution
// created, never trusting the item: the created id map wins, the session's
// target container is a project, and anything else (e.g. a node from a
// prior import run) defaults to subprocess.
func (c *Composer) deriveContextType(session *ImportSession, st *execState, contextID string, warnUnknown bool) ContainerType {
	// The empty sentinel marks a context-free template. It is never an
	// unknown context, and it must not compare against an unset target
	// container.
	if contextID == "" {
		return ContainerProject
	}
	if t, ok := st.containerTypes[contextID]; ok {
		return t
	}
	if contextID == session.TargetContainerID {
		return ContainerProject
	}
	if warnUnknown {
		c.logger.Warnw("Context id not created by this execution; defaulting context type to subprocess",
			"context_id", contextID,
		)
	}
	return ContainerSubprocess
}

// replayInterpretation reuses the stored interpretation plan, or
// regenerates one on the fly from the item's metadata using the same
// interpreter as classification, so execution stays deterministic even when
// no plan was cached.
func (c *Composer) replayInterpretation(ctx context.Context, session *ImportSession, st *execState, item *PlanItem, cls *ItemClassification, action *Action, contextType string) {
	plan := cls.Interpretation
	if plan == nil {
		regenerated, err := c.interp.Interpret(item.Title, item.Meta(MetaStatus), item.Meta(MetaTargetDate), item.Meta(MetaStageName))
		if err != nil {
			c.logger.Warnw("Interpretation replay failed; no events derived",
				"item", item.TempID,
				"error", err,
			)
			return
		}
		plan = regenerated
	}
	if plan == nil {
		return
	}

	// Facts only commit when the effective outcome — original or human
	// resolved — is fact_emitted.
	shouldCommitFacts := cls.EffectiveOutcome() == OutcomeFactEmitted

	for _, out := range plan.Outputs {
		switch out.Kind {
		case OutputFactCandidate:
			if !shouldCommitFacts || out.Fact == nil {
				continue
			}
			c.commitFact(ctx, session, st, item, cls, action, contextType, out.Fact)

		case OutputFieldValue:
			// The binding already lives on the action; just counted.
			st.result.FieldValuesApplied++

		case OutputActionHint:
			// The created action itself is the materialization of the hint.

		default:
			c.logger.Warnw("Unknown interpretation output kind ignored",
				"item", item.TempID,
				"kind", out.Kind,
			)
		}
	}

	if plan.StatusEvent != nil {
		c.commitWorkEvent(ctx, st, item, action, contextType, plan.StatusEvent)
	}
}

// commitFact validates and emits one FACT_RECORDED event, ensuring the
// fact-kind definition exists first.
func (c *Composer) commitFact(ctx context.Context, session *ImportSession, st *execState, item *PlanItem, cls *ItemClassification, action *Action, contextType string, fact *FactCandidate) {
	kind := fact.FactKind
	if cls.Resolution != nil && cls.Resolution.ResolvedFactKind != "" {
		kind = cls.Resolution.ResolvedFactKind
	}
	kind = c.validateFactKind(item.TempID, kind)
	confidence := NormalizeConfidence(fact.Confidence)

	err := c.facts.EnsureDefinition(ctx, FactKindDefinition{
		FactKind:       kind,
		Source:         string(session.SourceKind),
		Confidence:     confidence,
		ExamplePayload: fact.Payload,
	})
	if err != nil {
		st.addError("ensure fact kind %s: %v", kind, err)
	}

	payload := map[string]interface{}{
		"fact_kind":  kind,
		"confidence": string(confidence),
		"title":      item.Title,
	}
	if len(fact.Payload) > 0 {
		payload["fields"] = fact.Payload
	}
	if cls.Resolution != nil && len(cls.Resolution.ResolvedPayload) > 0 {
		payload["resolved_fields"] = cls.Resolution.ResolvedPayload
	}

	event := Event{
		ContextID:   action.ContextID,
		ContextType: contextType,
		ActionID:    action.ID,
		Type:        EventFactRecorded,
		Payload:     payload,
		ActorID:     c.actor,
	}
	if err := c.events.Emit(ctx, event); err != nil {
		st.addError("fact event for %s: %v", item.TempID, err)
		return
	}
	st.result.FactEventsEmitted++
}

// commitWorkEvent auto-commits a derived work event. A stage context type
// is never valid for work events and is remapped to subprocess.
func (c *Composer) commitWorkEvent(ctx context.Context, st *execState, item *PlanItem, action *Action, contextType string, status *StatusEvent) {
	if !IsWorkEventType(status.EventType) {
		c.logger.Warnw("Invalid work event type; event not emitted",
			"item", item.TempID,
			"event_type", status.EventType,
		)
		return
	}

	if contextType == string(ContainerStage) {
		contextType = string(ContainerSubprocess)
	}

	event := Event{
		ContextID:   action.ContextID,
		ContextType: contextType,
		ActionID:    action.ID,
		Type:        status.EventType,
		Payload: map[string]interface{}{
			"status": status.Status,
			"title":  item.Title,
		},
		ActorID: c.actor,
	}
	if err := c.events.Emit(ctx, event); err != nil {
		st.addError("work event for %s: %v", item.TempID, err)
		return
	}
	st.result.WorkEventsEmitted++
}

// finalize is phase 5: aggregate the result and refresh the read-side
// projection for the target container. The write path has already
// succeeded; a refresh failure only means a stale cache and is logged.
func (c *Composer) finalize(ctx context.Context, session *ImportSession, st *execState) {
	st.result.CreatedIDs = st.createdIDs

	if session.TargetContainerID == "" {
		return
	}
	if err := c.events.RefreshProjection(ctx, session.TargetContainerID); err != nil {
		c.logger.Warnw("Projection refresh failed after successful execution",
			"context", session.TargetContainerID,
			"error", err,
		)
	}
}

func (c *Composer) recordSyncMapping(ctx context.Context, session *ImportSession, st *execState, item *PlanItem, localEntityType, localEntityID string) {
	externalID := item.Meta(MetaExternalID)
	if externalID == "" {
		return
	}

	externalType := item.Meta(MetaExternalType)
	if externalType == "" {
		externalType = string(item.EntityType)
	}

	err := c.mappings.Upsert(ctx, SyncMapping{
		Provider:        c.providerFor(session, item),
		ExternalID:      externalID,
		ExternalType:    externalType,
		LocalEntityType: localEntityType,
		LocalEntityID:   localEntityID,
	})
	if err != nil {
		st.addError("sync mapping for %s: %v", item.TempID, err)
	}
}

func (c *Composer) providerFor(session *ImportSession, item *PlanItem) string {
	if provider := item.Meta(MetaProvider); provider != "" {
		return provider
	}
	return string(session.SourceKind)
}

// validateFactKind validates a fact kind before it reaches the append-only
// event log; invalid kinds are logged and defaulted, never propagated.
func (c *Composer) validateFactKind(itemTempID, kind string) string {
	if factKindPattern.MatchString(kind) {
		return kind
	}
	c.logger.Warnw("Invalid fact kind defaulted",
		"item", itemTempID,
		"fact_kind", kind,
		"default", DefaultFactKind,
	)
	return DefaultFactKind
}

func actionTypeFor(t EntityType) string {
	switch t {
	case EntityTemplate:
		return "template"
	case EntitySubtask:
		return "subtask"
	case "":
		return "task"
	default:
		return string(t)
	}
}

func buildFieldBindings(item *PlanItem) []FieldBinding {
	bindings := make([]FieldBinding, 0, len(item.FieldRecordings)+1)
	bindings = append(bindings, FieldBinding{Name: "title", Value: item.Title})
	for _, rec := range item.FieldRecordings {
		bindings = append(bindings, FieldBinding{Name: rec.Name, Value: rec.Value})
	}
	return bindings
}
