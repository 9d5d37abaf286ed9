// Package importer implements the import plan classification and composer
// execution engine: it compiles heterogeneous source rows into a typed plan,
// classifies each item's intended effect, lets a human resolve ambiguous
// cases, then deterministically materializes the plan as hierarchy nodes,
// records, and an ordered stream of domain events.
package importer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/inflow-io/inflow/errors"
)

// SourceKind identifies which source adapter feeds a session.
type SourceKind string

const (
	SourceCSV    SourceKind = "csv"
	SourceMonday SourceKind = "monday"
)

// SessionStatus represents the lifecycle state of an import session
type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionPlanned     SessionStatus = "planned"
	SessionNeedsReview SessionStatus = "needs_review"
	SessionExecuting   SessionStatus = "executing"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
)

// ImportSession is one ingestion attempt. Status transitions are driven
// solely by plan compilation and composer outcomes.
type ImportSession struct {
	ID                string          `json:"id"`
	SourceKind        SourceKind      `json:"source_kind"`
	SourceConfig      json.RawMessage `json:"source_config,omitempty"`
	RawPayload        string          `json:"raw_payload,omitempty"` // empty for connector sources
	Status            SessionStatus   `json:"status"`
	TargetContainerID string          `json:"target_container_id,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewImportSession creates a pending session for the given source.
func NewImportSession(kind SourceKind, rawPayload string, sourceConfig json.RawMessage, targetContainerID, createdBy string) *ImportSession {
	if createdBy == "" {
		createdBy = "system"
	}
	now := time.Now().UTC()
	return &ImportSession{
		ID:                uuid.NewString(),
		SourceKind:        kind,
		SourceConfig:      sourceConfig,
		RawPayload:        rawPayload,
		Status:            SessionPending,
		TargetContainerID: targetContainerID,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// MarkPlanned marks the session as planned (all classifications resolved or terminal)
func (s *ImportSession) MarkPlanned() {
	s.Status = SessionPlanned
	s.UpdatedAt = time.Now().UTC()
}

// MarkNeedsReview marks the session as waiting on human resolutions
func (s *ImportSession) MarkNeedsReview() {
	s.Status = SessionNeedsReview
	s.UpdatedAt = time.Now().UTC()
}

// MarkExecuting marks the session as executing
func (s *ImportSession) MarkExecuting() {
	s.Status = SessionExecuting
	s.UpdatedAt = time.Now().UTC()
}

// MarkCompleted marks the session as completed
func (s *ImportSession) MarkCompleted() {
	s.Status = SessionCompleted
	s.UpdatedAt = time.Now().UTC()
}

// MarkFailed marks the session as failed
func (s *ImportSession) MarkFailed() {
	s.Status = SessionFailed
	s.UpdatedAt = time.Now().UTC()
}

// ExecutionStatus represents the state of one execution attempt
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ImportExecution is one execution attempt against one plan, referenced by
// plan id. Attempts are append-only: retries create new rows, never
// overwrite previous attempts.
type ImportExecution struct {
	ID          string           `json:"id"`
	PlanID      string           `json:"plan_id"`
	SessionID   string           `json:"session_id"`
	Status      ExecutionStatus  `json:"status"`
	Result      *ExecutionResult `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// NewImportExecution creates a running execution row for a plan.
func NewImportExecution(planID, sessionID string) *ImportExecution {
	return &ImportExecution{
		ID:        uuid.NewString(),
		PlanID:    planID,
		SessionID: sessionID,
		Status:    ExecutionRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Complete marks the execution as completed with its result summary
func (e *ImportExecution) Complete(result *ExecutionResult) {
	now := time.Now().UTC()
	e.Status = ExecutionCompleted
	e.Result = result
	e.CompletedAt = &now
}

// Fail marks the execution as failed, storing the error message
func (e *ImportExecution) Fail(err error) {
	now := time.Now().UTC()
	e.Status = ExecutionFailed
	e.Error = err.Error()
	e.CompletedAt = &now
}

// ExecutionResult aggregates the counters of a completed execution.
type ExecutionResult struct {
	CreatedIDs         map[string]string `json:"createdIds"`
	ItemCount          int               `json:"itemCount"`
	ContainerCount     int               `json:"containerCount"`
	ActionsCreated     int               `json:"actionsCreated"`
	RecordsCreated     int               `json:"recordsCreated"`
	FactEventsEmitted  int               `json:"factEventsEmitted"`
	WorkEventsEmitted  int               `json:"workEventsEmitted"`
	FieldValuesApplied int               `json:"fieldValuesApplied"`
	SkippedNoContext   int               `json:"skippedNoContext"`
	Errors             []string          `json:"errors,omitempty"`
}

// ExecuteResult is the response shape of ExecuteImport: either a blocked
// report (gating failed, no execution row created) or a completed summary.
type ExecuteResult struct {
	Blocked         bool             `json:"blocked,omitempty"`
	UnresolvedCount int              `json:"unresolvedCount,omitempty"`
	Ambiguous       int              `json:"ambiguous,omitempty"`
	Unclassified    int              `json:"unclassified,omitempty"`
	Message         string           `json:"message,omitempty"`
	Status          string           `json:"status,omitempty"`
	Results         *ExecutionResult `json:"results,omitempty"`
}

// BlockedErr returns ErrPlanBlocked carrying the gate's message when the
// result is blocked, nil otherwise. Callers that need a hard failure (CLI
// exit codes, scripts) use this instead of inspecting Blocked.
func (r *ExecuteResult) BlockedErr() error {
	if r == nil || !r.Blocked {
		return nil
	}
	return errors.Wrap(errors.ErrPlanBlocked, r.Message)
}
