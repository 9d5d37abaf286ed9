// Package monday adapts monday.com boards into import source batches via
// the monday GraphQL API.
//
// Boards and groups come through as structural entries that the plan
// compiler promotes to containers; items and subitems become work items
// linked by group membership and explicit parent edges.
package monday

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
)

// sourceConfig is the session's source_config shape for monday sessions.
type sourceConfig struct {
	BoardIDs []string `json:"boardIds"`
}

// boardFetcher is what the adapter needs from the API client.
type boardFetcher interface {
	FetchBoards(ctx context.Context, boardIDs []string) ([]Board, error)
}

// Adapter implements importer.SourceAdapter for monday.com boards.
type Adapter struct {
	client boardFetcher
	logger *zap.SugaredLogger
}

// New creates a monday source adapter.
func New(client *Client, logger *zap.SugaredLogger) *Adapter {
	return &Adapter{client: client, logger: logger}
}

// Kind returns the source kind this adapter serves.
func (a *Adapter) Kind() importer.SourceKind {
	return importer.SourceMonday
}

// Fetch traverses the configured boards into a connector batch: boards and
// groups as structural items, rows and subitems as work items.
func (a *Adapter) Fetch(ctx context.Context, session *importer.ImportSession) (*importer.SourceBatch, error) {
	var cfg sourceConfig
	if len(session.SourceConfig) > 0 {
		if err := json.Unmarshal(session.SourceConfig, &cfg); err != nil {
			return nil, errors.Wrap(err, "decode monday source config")
		}
	}
	if len(cfg.BoardIDs) == 0 {
		return nil, errors.NewInvalidRequestError("monday session %s names no board ids", session.ID)
	}

	boards, err := a.client.FetchBoards(ctx, cfg.BoardIDs)
	if err != nil {
		return nil, errors.Wrap(err, "fetch monday boards")
	}
	if len(boards) == 0 {
		return nil, errors.NewNotFoundError("none of the configured boards exist: %v", cfg.BoardIDs)
	}

	batch := &importer.SourceBatch{Connector: true}
	for i := range boards {
		a.traverseBoard(batch, &boards[i])
	}

	a.logger.Infow("Monday boards traversed",
		"session", session.ID,
		"boards", len(boards),
		"items", len(batch.Items),
	)
	return batch, nil
}

// traverseBoard appends one board's structure and rows to the batch.
func (a *Adapter) traverseBoard(batch *importer.SourceBatch, board *Board) {
	boardTempID := "board-" + board.ID
	batch.Items = append(batch.Items, importer.PlanItem{
		TempID:     boardTempID,
		EntityType: importer.EntityProject,
		Title:      board.Name,
		Metadata: map[string]string{
			importer.MetaProvider:     string(importer.SourceMonday),
			importer.MetaExternalID:   board.ID,
			importer.MetaExternalType: "board",
		},
	})

	for _, group := range board.Groups {
		batch.Items = append(batch.Items, importer.PlanItem{
			TempID:       fmt.Sprintf("group-%s-%s", board.ID, group.ID),
			EntityType:   importer.EntityStage,
			Title:        group.Title,
			ParentTempID: boardTempID,
			Metadata: map[string]string{
				importer.MetaProvider:     string(importer.SourceMonday),
				importer.MetaExternalID:   groupExternalID(board.ID, group.ID),
				importer.MetaExternalType: "group",
			},
		})
	}

	for i := range board.Items {
		a.traverseItem(batch, board, &board.Items[i])
	}
}

func (a *Adapter) traverseItem(batch *importer.SourceBatch, board *Board, item *Item) {
	planItem := importer.PlanItem{
		TempID:     "item-" + item.ID,
		EntityType: importer.EntityTask,
		Title:      item.Name,
		Metadata: map[string]string{
			importer.MetaProvider:     string(importer.SourceMonday),
			importer.MetaExternalID:   item.ID,
			importer.MetaExternalType: "item",
		},
	}
	if item.Group != nil {
		planItem.Metadata[importer.MetaGroupExternalID] = groupExternalID(board.ID, item.Group.ID)
		planItem.Metadata[importer.MetaStageName] = item.Group.Title
	}
	applyColumnValues(&planItem, item.ColumnValues)

	batch.Items = append(batch.Items, planItem)

	for _, sub := range item.Subitems {
		subItem := importer.PlanItem{
			TempID:       "item-" + sub.ID,
			EntityType:   importer.EntitySubtask,
			Title:        sub.Name,
			ParentTempID: planItem.TempID,
			Metadata: map[string]string{
				importer.MetaProvider:     string(importer.SourceMonday),
				importer.MetaExternalID:   sub.ID,
				importer.MetaExternalType: "subitem",
			},
		}
		applyColumnValues(&subItem, sub.ColumnValues)
		batch.Items = append(batch.Items, subItem)
	}
}

// applyColumnValues maps monday columns onto the item: status and date
// columns feed classification metadata, a "type" column can retype the
// item (record/template rows), and everything else becomes a field
// recording.
func applyColumnValues(item *importer.PlanItem, values []ColumnValue) {
	for _, cv := range values {
		text := strings.TrimSpace(cv.Text)
		if text == "" {
			continue
		}

		switch {
		case cv.Type == "status":
			item.Metadata[importer.MetaStatus] = text
		case cv.Type == "date":
			item.Metadata[importer.MetaTargetDate] = text
		case strings.EqualFold(cv.ID, "type") || strings.EqualFold(cv.ID, "entity_type"):
			switch strings.ToLower(text) {
			case "record":
				item.EntityType = importer.EntityRecord
			case "template":
				item.EntityType = importer.EntityTemplate
			}
		default:
			item.FieldRecordings = append(item.FieldRecordings, importer.FieldRecording{
				Name:  cv.ID,
				Value: text,
			})
		}
	}
}

func groupExternalID(boardID, groupID string) string {
	return boardID + "/" + groupID
}
