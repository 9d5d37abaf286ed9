// Package eventlog persists the append-only domain event stream, the
// fact-kind registry, and the read-side per-context projection.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
)

// Writer is the single write path into the event log. Nothing else inserts
// into the events table.
type Writer struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewWriter creates an event log writer.
func NewWriter(db *sql.DB, logger *zap.SugaredLogger) *Writer {
	return &Writer{db: db, logger: logger}
}

// Emit appends one event. Events are immutable once written; there is no
// update or delete path.
func (w *Writer) Emit(ctx context.Context, event importer.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal payload for %s event", event.Type)
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO events (context_id, context_type, action_id, event_type, payload, actor_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ContextID,
		event.ContextType,
		nullString(event.ActionID),
		event.Type,
		string(payloadJSON),
		event.ActorID,
		time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append %s event", event.Type)
	}
	return nil
}

// RefreshProjection rebuilds the per-context summary row from the event
// stream.
func (w *Writer) RefreshProjection(ctx context.Context, contextID string) error {
	var (
		count        int
		lastType     sql.NullString
		lastRecorded sql.NullTime
	)
	err := w.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       (SELECT event_type FROM events WHERE context_id = ? ORDER BY id DESC LIMIT 1),
		       (SELECT recorded_at FROM events WHERE context_id = ? ORDER BY id DESC LIMIT 1)
		FROM events WHERE context_id = ?`,
		contextID, contextID, contextID,
	).Scan(&count, &lastType, &lastRecorded)
	if err != nil {
		return errors.Wrapf(err, "failed to summarize events for context %s", contextID)
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO context_projections (context_id, event_count, last_event_type, last_event_at, refreshed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			event_count = excluded.event_count,
			last_event_type = excluded.last_event_type,
			last_event_at = excluded.last_event_at,
			refreshed_at = excluded.refreshed_at`,
		contextID, count, lastType, lastRecorded, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to refresh projection for context %s", contextID)
	}

	w.logger.Debugw("Projection refreshed", "context", contextID, "events", count)
	return nil
}

// EventCount returns how many events a context has accumulated.
func (w *Writer) EventCount(ctx context.Context, contextID string) (int, error) {
	var count int
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE context_id = ?`, contextID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count events")
	}
	return count, nil
}

// FactKindStore registers fact kinds on first use.
type FactKindStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewFactKindStore creates the fact-kind registry store.
func NewFactKindStore(db *sql.DB, logger *zap.SugaredLogger) *FactKindStore {
	return &FactKindStore{db: db, logger: logger}
}

// EnsureDefinition inserts the fact-kind definition if it does not already
// exist. The first committed fact of a kind wins; later facts of the same
// kind never overwrite the registered definition.
func (s *FactKindStore) EnsureDefinition(ctx context.Context, def importer.FactKindDefinition) error {
	var example sql.NullString
	if len(def.ExamplePayload) > 0 {
		exampleJSON, err := json.Marshal(def.ExamplePayload)
		if err != nil {
			return errors.Wrapf(err, "marshal example payload for fact kind %s", def.FactKind)
		}
		example = sql.NullString{String: string(exampleJSON), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fact_kinds (kind, source, confidence, example_payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind) DO NOTHING`,
		def.FactKind, def.Source, def.Confidence, example, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to register fact kind %s", def.FactKind)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
