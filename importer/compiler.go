package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
)

// Compiler assembles a session's source batch, classifications, and
// validation issues into one fresh plan version, persisted atomically with
// the session's derived status.
type Compiler struct {
	store      *Store
	classifier *Classifier
	records    RecordStore
	logger     *zap.SugaredLogger
}

// NewCompiler creates a plan compiler.
func NewCompiler(store *Store, classifier *Classifier, records RecordStore, logger *zap.SugaredLogger) *Compiler {
	return &Compiler{store: store, classifier: classifier, records: records, logger: logger}
}

// CompilePlan produces and persists a new plan version for the session.
// The session's status is updated in memory to match what was persisted.
func (c *Compiler) CompilePlan(ctx context.Context, session *ImportSession, batch *SourceBatch) (*ImportPlan, error) {
	if batch.Connector {
		c.normalize(batch)
	}

	definitions, err := c.records.ListDefinitions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list record definitions")
	}

	classifications := c.classifier.GenerateClassifications(batch.Items, definitions, batch.Connector)
	byTempID := make(map[string]*ItemClassification, len(classifications))
	for _, cls := range classifications {
		byTempID[cls.ItemTempID] = cls
	}

	plan := &ImportPlan{
		ID:               uuid.NewString(),
		SessionID:        session.ID,
		Containers:       batch.Containers,
		Items:            batch.Items,
		Classifications:  byTempID,
		ValidationIssues: batch.Issues,
		CreatedAt:        time.Now().UTC(),
	}

	status := plan.DerivedSessionStatus()
	if err := c.store.SavePlan(ctx, plan, status); err != nil {
		return nil, errors.Wrap(err, "persist plan")
	}

	session.Status = status
	session.UpdatedAt = time.Now().UTC()

	c.logger.Infow("Plan compiled",
		"session", session.ID,
		"plan", plan.ID,
		"containers", len(plan.Containers),
		"items", len(plan.Items),
		"status", status,
	)
	return plan, nil
}

// normalize separates structural nodes (boards, groups) out of the item
// list into containers, resolves item parents (explicit link first, then
// group membership, then the session's target container), and enforces
// template singleton semantics within the batch.
func (c *Compiler) normalize(batch *SourceBatch) {
	containerByExternal := make(map[string]string) // external id -> container temp id
	knownTempIDs := make(map[string]bool)

	for _, container := range batch.Containers {
		knownTempIDs[container.TempID] = true
		if ext := container.Metadata[MetaExternalID]; ext != "" {
			containerByExternal[ext] = container.TempID
		}
	}

	// Pass 1: promote structural items to containers, deduplicating
	// boards already represented as containers by external id.
	var items []PlanItem
	for _, item := range batch.Items {
		if !item.EntityType.IsStructural() {
			items = append(items, item)
			continue
		}

		ext := item.Meta(MetaExternalID)
		if ext != "" {
			if _, dup := containerByExternal[ext]; dup {
				c.logger.Debugw("Dropping structural node already represented as container",
					"temp_id", item.TempID,
					"external_id", ext,
				)
				continue
			}
		}

		container := PlanContainer{
			TempID:       item.TempID,
			Type:         containerTypeFor(item.EntityType),
			Title:        item.Title,
			ParentTempID: item.ParentTempID,
			Metadata:     item.Metadata,
		}
		batch.Containers = append(batch.Containers, container)
		knownTempIDs[container.TempID] = true
		if ext != "" {
			containerByExternal[ext] = container.TempID
		}
	}

	// Pass 2: template singletons. Templates sharing one external id across
	// multiple source boards collapse to the first occurrence.
	seenTemplates := make(map[string]string)
	deduped := items[:0]
	for _, item := range items {
		if item.EntityType == EntityTemplate {
			if ext := item.Meta(MetaExternalID); ext != "" {
				if first, ok := seenTemplates[ext]; ok {
					c.logger.Infow("Dropping duplicate template (singleton semantics)",
						"temp_id", item.TempID,
						"external_id", ext,
						"kept", first,
					)
					continue
				}
				seenTemplates[ext] = item.TempID
			}
		}
		deduped = append(deduped, item)
		knownTempIDs[item.TempID] = true
	}

	// Pass 3: parent resolution per item.
	for i := range deduped {
		item := &deduped[i]
		if item.ParentTempID != "" && knownTempIDs[item.ParentTempID] {
			continue
		}
		if group := item.Meta(MetaGroupExternalID); group != "" {
			if containerTempID, ok := containerByExternal[group]; ok {
				item.ParentTempID = containerTempID
				continue
			}
		}
		// Fall back to the session's target container
		item.ParentTempID = ""
	}

	batch.Items = deduped
}

// containerTypeFor maps a structural entity type to its container type.
func containerTypeFor(t EntityType) ContainerType {
	switch t {
	case EntityProject:
		return ContainerProject
	case EntityProcess:
		return ContainerProcess
	case EntityStage:
		return ContainerStage
	default:
		return ContainerSubprocess
	}
}
