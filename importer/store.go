package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
)

// Store handles persistence of sessions, plan versions, normalized
// classifications, and execution attempts.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates an import store.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, session *ImportSession) error {
	sourceConfig := "{}"
	if len(session.SourceConfig) > 0 {
		sourceConfig = string(session.SourceConfig)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_sessions (
			id, source_kind, source_config, raw_payload, status,
			target_container_id, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.SourceKind,
		sourceConfig,
		session.RawPayload,
		session.Status,
		nullString(session.TargetContainerID),
		session.CreatedBy,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*ImportSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_kind, source_config, raw_payload, status,
		       target_container_id, created_by, created_at, updated_at
		FROM import_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*ImportSession, error) {
	var session ImportSession
	var sourceConfig string
	var targetContainerID sql.NullString

	err := row.Scan(
		&session.ID,
		&session.SourceKind,
		&sourceConfig,
		&session.RawPayload,
		&session.Status,
		&targetContainerID,
		&session.CreatedBy,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapNotFound(err, "session")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}

	session.SourceConfig = json.RawMessage(sourceConfig)
	session.TargetContainerID = targetContainerID.String
	return &session, nil
}

// UpdateSessionStatus persists a session's status and updated_at.
func (s *Store) UpdateSessionStatus(ctx context.Context, session *ImportSession) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		session.Status, session.UpdatedAt, session.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update session status")
	}
	return nil
}

// SavePlan persists a new plan version and the session's derived status in
// one transaction: a plan row plus one classification row per item.
func (s *Store) SavePlan(ctx context.Context, plan *ImportPlan, sessionStatus SessionStatus) error {
	containers, err := json.Marshal(plan.Containers)
	if err != nil {
		return errors.Wrap(err, "marshal containers")
	}
	items, err := json.Marshal(plan.Items)
	if err != nil {
		return errors.Wrap(err, "marshal items")
	}
	issues, err := json.Marshal(plan.ValidationIssues)
	if err != nil {
		return errors.Wrap(err, "marshal validation issues")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin plan tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_plans (id, session_id, containers, items, validation_issues, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.SessionID, string(containers), string(items), string(issues), plan.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert plan")
	}

	for _, item := range plan.Items {
		cls, ok := plan.Classifications[item.TempID]
		if !ok {
			return errors.AssertionFailedf("plan missing classification for item %s", item.TempID)
		}
		if err := insertClassification(ctx, tx, plan.ID, cls); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE import_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		sessionStatus, time.Now().UTC(), plan.SessionID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update session status with plan")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit plan tx")
	}
	return nil
}

func insertClassification(ctx context.Context, tx *sql.Tx, planID string, cls *ItemClassification) error {
	interpretation, err := marshalNullable(cls.Interpretation)
	if err != nil {
		return errors.Wrapf(err, "marshal interpretation for %s", cls.ItemTempID)
	}
	schemaMatch, err := json.Marshal(cls.SchemaMatch)
	if err != nil {
		return errors.Wrapf(err, "marshal schema match for %s", cls.ItemTempID)
	}
	candidates, err := marshalNullable(cls.CandidateResolutions)
	if err != nil {
		return errors.Wrapf(err, "marshal candidates for %s", cls.ItemTempID)
	}
	resolution, err := marshalNullable(cls.Resolution)
	if err != nil {
		return errors.Wrapf(err, "marshal resolution for %s", cls.ItemTempID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_classifications (
			plan_id, item_temp_id, outcome, confidence, rationale,
			interpretation, schema_match, candidates, resolution
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		planID, cls.ItemTempID, cls.Outcome, cls.Confidence, cls.Rationale,
		interpretation, string(schemaMatch), candidates, resolution,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert classification for %s", cls.ItemTempID)
	}
	return nil
}

// GetLatestPlan retrieves the latest plan version for a session, with its
// classifications. Returns ErrNotFound when the session has no plan yet.
func (s *Store) GetLatestPlan(ctx context.Context, sessionID string) (*ImportPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, containers, items, validation_issues, created_at
		FROM import_plans
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID)

	plan, err := scanPlan(row)
	if err != nil {
		return nil, err
	}

	plan.Classifications, err = s.loadClassifications(ctx, s.db, plan.ID)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func scanPlan(row *sql.Row) (*ImportPlan, error) {
	var plan ImportPlan
	var containers, items, issues string

	err := row.Scan(&plan.ID, &plan.SessionID, &containers, &items, &issues, &plan.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapNotFound(err, "plan")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get plan")
	}

	if err := json.Unmarshal([]byte(containers), &plan.Containers); err != nil {
		return nil, errors.Wrap(err, "unmarshal containers")
	}
	if err := json.Unmarshal([]byte(items), &plan.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal items")
	}
	if err := json.Unmarshal([]byte(issues), &plan.ValidationIssues); err != nil {
		return nil, errors.Wrap(err, "unmarshal validation issues")
	}
	return &plan, nil
}

// queryer abstracts *sql.DB and *sql.Tx so classification loads work inside
// the resolution store's locking transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) loadClassifications(ctx context.Context, q queryer, planID string) (map[string]*ItemClassification, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_temp_id, outcome, confidence, rationale,
		       interpretation, schema_match, candidates, resolution
		FROM plan_classifications WHERE plan_id = ?`, planID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load classifications")
	}
	defer rows.Close()

	classifications := make(map[string]*ItemClassification)
	for rows.Next() {
		var cls ItemClassification
		var interpretation, candidates, resolution sql.NullString
		var schemaMatch string

		err := rows.Scan(
			&cls.ItemTempID, &cls.Outcome, &cls.Confidence, &cls.Rationale,
			&interpretation, &schemaMatch, &candidates, &resolution,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan classification")
		}

		if err := json.Unmarshal([]byte(schemaMatch), &cls.SchemaMatch); err != nil {
			return nil, errors.Wrapf(err, "unmarshal schema match for %s", cls.ItemTempID)
		}
		if err := unmarshalNullable(interpretation, &cls.Interpretation); err != nil {
			return nil, errors.Wrapf(err, "unmarshal interpretation for %s", cls.ItemTempID)
		}
		if err := unmarshalNullable(candidates, &cls.CandidateResolutions); err != nil {
			return nil, errors.Wrapf(err, "unmarshal candidates for %s", cls.ItemTempID)
		}
		if err := unmarshalNullable(resolution, &cls.Resolution); err != nil {
			return nil, errors.Wrapf(err, "unmarshal resolution for %s", cls.ItemTempID)
		}

		classifications[cls.ItemTempID] = &cls
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating classifications")
	}
	return classifications, nil
}

// CreateExecution inserts a new execution attempt row.
func (s *Store) CreateExecution(ctx context.Context, exec *ImportExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_executions (id, plan_id, session_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.PlanID, exec.SessionID, exec.Status, exec.StartedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// UpdateExecution persists an execution's terminal state. Execution rows
// are append-only across attempts; only the row's own status/result change.
func (s *Store) UpdateExecution(ctx context.Context, exec *ImportExecution) error {
	result, err := marshalNullable(exec.Result)
	if err != nil {
		return errors.Wrap(err, "marshal execution result")
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE import_executions
		SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		exec.Status, result, nullString(exec.Error), exec.CompletedAt, exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}
	return nil
}

// HasRunningExecution reports whether a non-blocked execution is already
// running against the plan. At most one may run per plan.
func (s *Store) HasRunningExecution(ctx context.Context, planID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM import_executions WHERE plan_id = ? AND status = ?`,
		planID, ExecutionRunning,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to check running executions")
	}
	return count > 0, nil
}

// ListExecutions returns all execution attempts across a session's plan
// versions, oldest first.
func (s *Store) ListExecutions(ctx context.Context, sessionID string) ([]*ImportExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, session_id, status, result, error, started_at, completed_at
		FROM import_executions WHERE session_id = ? ORDER BY started_at ASC`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*ImportExecution
	for rows.Next() {
		var exec ImportExecution
		var result, execErr sql.NullString
		var completedAt sql.NullTime

		err := rows.Scan(&exec.ID, &exec.PlanID, &exec.SessionID, &exec.Status,
			&result, &execErr, &exec.StartedAt, &completedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		if err := unmarshalNullable(result, &exec.Result); err != nil {
			return nil, errors.Wrapf(err, "unmarshal result for execution %s", exec.ID)
		}
		exec.Error = execErr.String
		if completedAt.Valid {
			t := completedAt.Time
			exec.CompletedAt = &t
		}
		executions = append(executions, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}
	return executions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// marshalNullable marshals v to a nullable JSON string; nil pointers and
// nil slices become SQL NULL.
func marshalNullable(v interface{}) (sql.NullString, error) {
	switch val := v.(type) {
	case *InterpretationPlan:
		if val == nil {
			return sql.NullString{}, nil
		}
	case *Resolution:
		if val == nil {
			return sql.NullString{}, nil
		}
	case *ExecutionResult:
		if val == nil {
			return sql.NullString{}, nil
		}
	case []string:
		if val == nil {
			return sql.NullString{}, nil
		}
	case nil:
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(src sql.NullString, dst interface{}) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}
