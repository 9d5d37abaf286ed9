package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/inflow-io/inflow/errors"
)

// ResolutionInput names one item and the human's override for it.
type ResolutionInput struct {
	ItemTempID string     `json:"itemTempId"`
	Resolution Resolution `json:"resolution"`
}

// ResolutionResult reports the outcome of a SaveResolutions call. Unknown
// temp ids (stale client state) are a warning, not an error.
type ResolutionResult struct {
	Applied        int           `json:"applied"`
	UnknownTempIDs []string      `json:"unknownTempIds,omitempty"`
	SessionStatus  SessionStatus `json:"sessionStatus"`
}

// SaveResolutions merges human resolutions into the latest plan's
// classifications and recomputes the session status, all inside one
// write-locking transaction.
//
// The database is opened with _txlock=immediate, so the transaction takes
// the write lock before reading the plan. Two concurrent submissions
// serialize instead of silently overwriting each other; merges are per-row
// updates against the exact locked plan id, never "all plans for this
// session", so superseded plan versions stay untouched.
func (s *Store) SaveResolutions(ctx context.Context, sessionID string, resolutions []ResolutionInput) (*ResolutionResult, error) {
	if len(resolutions) == 0 {
		return nil, errors.NewInvalidRequestError("no resolutions provided")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin resolution tx")
	}
	defer tx.Rollback()

	var planID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM import_plans
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("session %s has no plan", sessionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock latest plan")
	}

	classifications, err := s.loadClassifications(ctx, tx, planID)
	if err != nil {
		return nil, err
	}

	result := &ResolutionResult{}
	for _, input := range resolutions {
		cls, ok := classifications[input.ItemTempID]
		if !ok {
			result.UnknownTempIDs = append(result.UnknownTempIDs, input.ItemTempID)
			continue
		}

		resolution := input.Resolution
		cls.Resolution = &resolution

		resolutionJSON, err := json.Marshal(&resolution)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal resolution for %s", input.ItemTempID)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE plan_classifications SET resolution = ?
			WHERE plan_id = ? AND item_temp_id = ?`,
			string(resolutionJSON), planID, input.ItemTempID,
		)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to save resolution for %s", input.ItemTempID)
		}
		result.Applied++
	}

	if len(result.UnknownTempIDs) > 0 {
		s.logger.Warnw("Resolutions referenced unknown items (stale client state?)",
			"session", sessionID,
			"plan", planID,
			"unknown_temp_ids", result.UnknownTempIDs,
		)
	}

	// Recompute session status from the merged state
	status := SessionPlanned
	for _, cls := range classifications {
		if cls.Unresolved() {
			status = SessionNeedsReview
			break
		}
	}
	result.SessionStatus = status

	_, err = tx.ExecContext(ctx, `
		UPDATE import_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update session status after resolutions")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit resolution tx")
	}
	return result, nil
}
