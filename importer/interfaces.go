package importer

import (
	"context"
)

// SourceBatch is the raw output of a source adapter for one session.
// Connector batches still mix structural nodes into Items; the plan
// compiler's normalization pass separates them into containers.
type SourceBatch struct {
	Containers []PlanContainer
	Items      []PlanItem
	Issues     []ValidationIssue

	// Connector is true for connector-sourced batches (no free text to
	// interpret; classification goes by entity type).
	Connector bool
}

// SourceAdapter turns a session's source into a batch of containers and
// items. The set of adapters is closed and selected at session creation
// time; the session carries the kind, never a runtime string lookup per
// plan generation.
type SourceAdapter interface {
	Kind() SourceKind
	Fetch(ctx context.Context, session *ImportSession) (*SourceBatch, error)
}

// Interpreter turns a row's free text into typed candidate outputs.
type Interpreter interface {
	Interpret(text, status, targetDate, stageName string) (*InterpretationPlan, error)

	// InternalWork reports whether a title matches the internal-work text
	// pattern (classification rule 2).
	InternalWork(title string) bool
}

// RecordDefinition describes one record schema in the target system.
type RecordDefinition struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// SchemaMatcher scores an item's field recordings against the known record
// definitions.
type SchemaMatcher interface {
	Match(recordings []FieldRecording, definitions []RecordDefinition) (SchemaMatch, error)
}

// RecordUpsert is one row of a bulk record upsert, keyed by a collision-free
// unique name (always the item's temp id, never its possibly-duplicated
// title).
type RecordUpsert struct {
	UniqueName           string
	Data                 map[string]string
	ClassificationNodeID string
}

// UpsertedRecord reports one row's outcome from a bulk upsert.
type UpsertedRecord struct {
	ID         string
	UniqueName string
	Created    bool
}

// RowError is a per-row failure inside a bulk upsert; the rest of the batch
// proceeds.
type RowError struct {
	UniqueName string
	Message    string
}

// BulkUpsertResult summarizes one bulk record upsert call.
type BulkUpsertResult struct {
	Created int
	Updated int
	Errors  []RowError
	Records []UpsertedRecord
}

// RecordStore is the generic record CRUD store.
type RecordStore interface {
	ListDefinitions(ctx context.Context) ([]RecordDefinition, error)
	BulkUpsert(ctx context.Context, definitionID string, rows []RecordUpsert) (*BulkUpsertResult, error)
}

// Event is one entry bound for the append-only event log.
type Event struct {
	ContextID   string
	ContextType string
	ActionID    string
	Type        string
	Payload     map[string]interface{}
	ActorID     string
}

// EventWriter is the single choke point for every mutation that should be
// visible downstream. No direct event-table writes anywhere else.
type EventWriter interface {
	Emit(ctx context.Context, event Event) error

	// RefreshProjection rebuilds the read-side summary for a context.
	// Failures after a successful execution are logged, not fatal.
	RefreshProjection(ctx context.Context, contextID string) error
}

// FactKindDefinition registers a fact kind the first time a fact of that
// kind is committed.
type FactKindDefinition struct {
	FactKind       string
	Source         string
	Confidence     Confidence
	ExamplePayload map[string]string
}

// FactKindRegistry ensures fact-kind definitions exist before facts of that
// kind are recorded.
type FactKindRegistry interface {
	EnsureDefinition(ctx context.Context, def FactKindDefinition) error
}

// SyncMapping links a local entity to its external source, keyed uniquely
// on (provider, external id), for future bidirectional sync.
type SyncMapping struct {
	Provider        string
	ExternalID      string
	ExternalType    string
	LocalEntityType string
	LocalEntityID   string
}

// SyncMappingStore persists external-source mappings.
type SyncMappingStore interface {
	Upsert(ctx context.Context, mapping SyncMapping) error
	Lookup(ctx context.Context, provider, externalID string) (*SyncMapping, error)
}

// Node is a structural hierarchy node in the target system.
type Node struct {
	ID       string
	Type     ContainerType
	Title    string
	ParentID string
	Metadata map[string]string
}

// HierarchyStore persists hierarchy nodes.
type HierarchyStore interface {
	CreateNode(ctx context.Context, node *Node) error
}

// FieldBinding is one field bound to a created action.
type FieldBinding struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Action is a work action in the target system. ContextID may be the empty
// sentinel for context-free templates; it is never null.
type Action struct {
	ID             string
	ContextID      string
	ContextType    string
	Type           string
	Title          string
	ParentActionID string
	FieldBindings  []FieldBinding
}

// ActionStore persists actions.
type ActionStore interface {
	CreateAction(ctx context.Context, action *Action) error
}
