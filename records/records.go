// Package records stores record definitions and their records, including
// the composer's bulk upsert path.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inflow-io/inflow/db"
	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
)

// Store implements importer.RecordStore on sqlite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a record store.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateDefinition registers a new record definition.
func (s *Store) CreateDefinition(ctx context.Context, name string, fields []string) (*importer.RecordDefinition, error) {
	if name == "" {
		return nil, errors.NewInvalidRequestError("definition name is required")
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "marshal definition fields")
	}

	def := &importer.RecordDefinition{
		ID:     uuid.NewString(),
		Name:   name,
		Fields: fields,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO record_definitions (id, name, fields, created_at)
		VALUES (?, ?, ?, ?)`,
		def.ID, def.Name, string(fieldsJSON), time.Now().UTC(),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.Wrapf(errors.ErrConflict, "definition %s already exists", name)
		}
		return nil, errors.Wrapf(err, "failed to create definition %s", name)
	}
	return def, nil
}

// ListDefinitions returns all record definitions ordered by name.
func (s *Store) ListDefinitions(ctx context.Context) ([]importer.RecordDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, fields FROM record_definitions ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list record definitions")
	}
	defer rows.Close()

	var definitions []importer.RecordDefinition
	for rows.Next() {
		var (
			def        importer.RecordDefinition
			fieldsJSON string
		)
		if err := rows.Scan(&def.ID, &def.Name, &fieldsJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan record definition")
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &def.Fields); err != nil {
			return nil, errors.Wrapf(err, "unmarshal fields for definition %s", def.ID)
		}
		definitions = append(definitions, def)
	}
	return definitions, rows.Err()
}

// BulkUpsert inserts or updates records for one definition, keyed by unique
// name. Failures are isolated per row: one bad row lands in the result's
// Errors and the rest of the batch proceeds.
func (s *Store) BulkUpsert(ctx context.Context, definitionID string, upserts []importer.RecordUpsert) (*importer.BulkUpsertResult, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM record_definitions WHERE id = ?`, definitionID,
	).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check record definition")
	}
	if exists == 0 {
		return nil, errors.NewNotFoundError("record definition %s", definitionID)
	}

	result := &importer.BulkUpsertResult{}
	for _, row := range upserts {
		rec, created, err := s.upsertOne(ctx, definitionID, row)
		if err != nil {
			s.logger.Warnw("Record upsert failed; continuing batch",
				"definition", definitionID,
				"unique_name", row.UniqueName,
				"error", err,
			)
			result.Errors = append(result.Errors, importer.RowError{
				UniqueName: row.UniqueName,
				Message:    err.Error(),
			})
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		result.Records = append(result.Records, *rec)
	}
	return result, nil
}

func (s *Store) upsertOne(ctx context.Context, definitionID string, row importer.RecordUpsert) (*importer.UpsertedRecord, bool, error) {
	if row.UniqueName == "" {
		return nil, false, errors.NewInvalidRequestError("record unique name is required")
	}

	dataJSON, err := json.Marshal(row.Data)
	if err != nil {
		return nil, false, errors.Wrap(err, "marshal record data")
	}
	now := time.Now().UTC()

	var existingID string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM records WHERE definition_id = ? AND unique_name = ?`,
		definitionID, row.UniqueName,
	).Scan(&existingID)

	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE records SET data = ?, classification_node_id = ?, updated_at = ?
			WHERE id = ?`,
			string(dataJSON), nullString(row.ClassificationNodeID), now, existingID,
		)
		if err != nil {
			return nil, false, errors.Wrap(err, "update record")
		}
		return &importer.UpsertedRecord{ID: existingID, UniqueName: row.UniqueName}, false, nil

	case errors.Is(err, sql.ErrNoRows):
		id := uuid.NewString()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO records (id, definition_id, unique_name, data, classification_node_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, definitionID, row.UniqueName, string(dataJSON), nullString(row.ClassificationNodeID), now, now,
		)
		if err != nil {
			return nil, false, errors.Wrap(err, "insert record")
		}
		return &importer.UpsertedRecord{ID: id, UniqueName: row.UniqueName, Created: true}, true, nil

	default:
		return nil, false, errors.Wrap(err, "lookup record")
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
