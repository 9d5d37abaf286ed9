// Package syncmap persists mappings between imported entities and their
// external source identities, keyed on (provider, external id). The table
// is the dedup backbone for cross-import template singletons and the anchor
// for future bidirectional sync.
package syncmap

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
)

// Store implements importer.SyncMappingStore on sqlite.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a sync mapping store.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger}
}

// Upsert writes the mapping, replacing any previous mapping for the same
// (provider, external id): re-importing an entity rebinds it to the newest
// local entity.
func (s *Store) Upsert(ctx context.Context, mapping importer.SyncMapping) error {
	if mapping.Provider == "" || mapping.ExternalID == "" {
		return errors.NewInvalidRequestError("sync mapping requires provider and external id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_mappings (provider, external_id, external_type, local_entity_type, local_entity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, external_id) DO UPDATE SET
			external_type = excluded.external_type,
			local_entity_type = excluded.local_entity_type,
			local_entity_id = excluded.local_entity_id`,
		mapping.Provider, mapping.ExternalID, mapping.ExternalType,
		mapping.LocalEntityType, mapping.LocalEntityID, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert sync mapping %s/%s", mapping.Provider, mapping.ExternalID)
	}
	return nil
}

// Lookup returns the mapping for (provider, external id), or nil when none
// exists. Absence is a normal answer here, not an error.
func (s *Store) Lookup(ctx context.Context, provider, externalID string) (*importer.SyncMapping, error) {
	var mapping importer.SyncMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT provider, external_id, external_type, local_entity_type, local_entity_id
		FROM sync_mappings WHERE provider = ? AND external_id = ?`,
		provider, externalID,
	).Scan(&mapping.Provider, &mapping.ExternalID, &mapping.ExternalType,
		&mapping.LocalEntityType, &mapping.LocalEntityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up sync mapping %s/%s", provider, externalID)
	}
	return &mapping, nil
}

// ListByProvider returns all mappings for one provider.
func (s *Store) ListByProvider(ctx context.Context, provider string) ([]*importer.SyncMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, external_id, external_type, local_entity_type, local_entity_id
		FROM sync_mappings WHERE provider = ? ORDER BY external_id`,
		provider,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sync mappings")
	}
	defer rows.Close()

	var mappings []*importer.SyncMapping
	for rows.Next() {
		var mapping importer.SyncMapping
		err := rows.Scan(&mapping.Provider, &mapping.ExternalID, &mapping.ExternalType,
			&mapping.LocalEntityType, &mapping.LocalEntityID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan sync mapping")
		}
		mappings = append(mappings, &mapping)
	}
	return mappings, rows.Err()
}
