// Package hierarchy stores the structural node tree and the actions the
// composer declares inside it.
package hierarchy

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
)

// NodeStore implements importer.HierarchyStore on sqlite.
type NodeStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewNodeStore creates a hierarchy node store.
func NewNodeStore(db *sql.DB, logger *zap.SugaredLogger) *NodeStore {
	return &NodeStore{db: db, logger: logger}
}

// CreateNode persists one hierarchy node.
func (s *NodeStore) CreateNode(ctx context.Context, node *importer.Node) error {
	metadata := node.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return errors.Wrapf(err, "marshal metadata for node %s", node.ID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, node_type, title, parent_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		node.ID, node.Type, node.Title, nullString(node.ParentID), string(metadataJSON), time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create node %s", node.ID)
	}
	return nil
}

// GetNode returns one node by id.
func (s *NodeStore) GetNode(ctx context.Context, id string) (*importer.Node, error) {
	var (
		node         importer.Node
		parentID     sql.NullString
		metadataJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, node_type, title, parent_id, metadata FROM nodes WHERE id = ?`, id,
	).Scan(&node.ID, &node.Type, &node.Title, &parentID, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("node %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get node %s", id)
	}

	node.ParentID = parentID.String
	if err := json.Unmarshal([]byte(metadataJSON), &node.Metadata); err != nil {
		return nil, errors.Wrapf(err, "unmarshal metadata for node %s", id)
	}
	return &node, nil
}

// ListChildren returns the direct children of a node, in creation order.
func (s *NodeStore) ListChildren(ctx context.Context, parentID string) ([]*importer.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_type, title, parent_id, metadata FROM nodes WHERE parent_id = ? ORDER BY created_at, id`,
		parentID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list child nodes")
	}
	defer rows.Close()

	var nodes []*importer.Node
	for rows.Next() {
		var (
			node         importer.Node
			parent       sql.NullString
			metadataJSON string
		)
		if err := rows.Scan(&node.ID, &node.Type, &node.Title, &parent, &metadataJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan node")
		}
		node.ParentID = parent.String
		if err := json.Unmarshal([]byte(metadataJSON), &node.Metadata); err != nil {
			return nil, errors.Wrapf(err, "unmarshal metadata for node %s", node.ID)
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// ActionStore implements importer.ActionStore on sqlite.
type ActionStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewActionStore creates an action store.
func NewActionStore(db *sql.DB, logger *zap.SugaredLogger) *ActionStore {
	return &ActionStore{db: db, logger: logger}
}

// CreateAction persists one action. ContextID may be the empty sentinel for
// context-free templates; the column is NOT NULL and the sentinel is stored
// as-is.
func (s *ActionStore) CreateAction(ctx context.Context, action *importer.Action) error {
	bindings := action.FieldBindings
	if bindings == nil {
		bindings = []importer.FieldBinding{}
	}
	bindingsJSON, err := json.Marshal(bindings)
	if err != nil {
		return errors.Wrapf(err, "marshal field bindings for action %s", action.ID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, context_id, context_type, action_type, title, parent_action_id, field_bindings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID,
		action.ContextID,
		action.ContextType,
		action.Type,
		action.Title,
		nullString(action.ParentActionID),
		string(bindingsJSON),
		time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create action %s", action.ID)
	}
	return nil
}

// ListActions returns the actions in a context, in creation order.
func (s *ActionStore) ListActions(ctx context.Context, contextID string) ([]*importer.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, context_type, action_type, title, parent_action_id, field_bindings
		FROM actions WHERE context_id = ? ORDER BY created_at, id`,
		contextID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list actions")
	}
	defer rows.Close()

	var actions []*importer.Action
	for rows.Next() {
		var (
			action       importer.Action
			parent       sql.NullString
			bindingsJSON string
		)
		err := rows.Scan(&action.ID, &action.ContextID, &action.ContextType,
			&action.Type, &action.Title, &parent, &bindingsJSON)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan action")
		}
		action.ParentActionID = parent.String
		if err := json.Unmarshal([]byte(bindingsJSON), &action.FieldBindings); err != nil {
			return nil, errors.Wrapf(err, "unmarshal bindings for action %s", action.ID)
		}
		actions = append(actions, &action)
	}
	return actions, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
