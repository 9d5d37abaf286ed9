// Package csvsource adapts pasted CSV payloads into import source batches.
//
// Known header columns (id, title, type, parent, status, target date,
// stage, external id) map to item fields and metadata; every other column
// becomes a field recording. Parent references that do not resolve to
// another row in the same payload are flagged for human resolution rather
// than dropped.
package csvsource

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
	"github.com/inflow-io/inflow/importer"
)

// Adapter implements importer.SourceAdapter for CSV payloads.
type Adapter struct {
	logger *zap.SugaredLogger
}

// New creates a CSV source adapter.
func New(logger *zap.SugaredLogger) *Adapter {
	return &Adapter{logger: logger}
}

// Kind returns the source kind this adapter serves.
func (a *Adapter) Kind() importer.SourceKind {
	return importer.SourceCSV
}

// columnRole classifies a header cell.
type columnRole int

const (
	colField columnRole = iota // unrecognized header: a field recording
	colID
	colTitle
	colType
	colParent
	colStatus
	colTargetDate
	colStage
	colExternalID
)

func roleFor(header string) columnRole {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "id", "row_id":
		return colID
	case "title", "name", "item":
		return colTitle
	case "type", "entity_type":
		return colType
	case "parent", "parent_id":
		return colParent
	case "status":
		return colStatus
	case "target_date", "target date", "due", "due_date":
		return colTargetDate
	case "stage", "stage_name":
		return colStage
	case "external_id":
		return colExternalID
	default:
		return colField
	}
}

// Fetch parses the session's raw payload into a source batch. CSV batches
// are not connector batches: items carry free text for interpretation and
// no structural normalization applies.
func (a *Adapter) Fetch(ctx context.Context, session *importer.ImportSession) (*importer.SourceBatch, error) {
	if strings.TrimSpace(session.RawPayload) == "" {
		return nil, errors.NewInvalidRequestError("csv session %s has an empty payload", session.ID)
	}

	reader := csv.NewReader(strings.NewReader(session.RawPayload))
	reader.FieldsPerRecord = -1 // ragged rows are a validation issue, not a parse abort
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse csv payload")
	}
	if len(rows) < 2 {
		return nil, errors.NewInvalidRequestError("csv payload has no data rows")
	}

	header := rows[0]
	roles := make([]columnRole, len(header))
	for i, cell := range header {
		roles[i] = roleFor(cell)
	}

	batch := &importer.SourceBatch{}
	tempIDByRef := make(map[string]string) // row id and title -> temp id
	usedTempIDs := make(map[string]bool)
	type pendingParent struct {
		itemIndex int
		ref       string
	}
	var pending []pendingParent

	for rowNum, row := range rows[1:] {
		item := importer.PlanItem{
			EntityType: importer.EntityTask,
			Metadata: map[string]string{
				importer.MetaProvider:  string(importer.SourceCSV),
				importer.MetaSourceRow: fmt.Sprintf("%d", rowNum+2), // 1-based, counting the header
			},
		}

		var rowID, parentRef string
		for i, cell := range row {
			if i >= len(roles) {
				batch.Issues = append(batch.Issues, importer.ValidationIssue{
					Severity: importer.SeverityWarning,
					Message:  fmt.Sprintf("row %d has more cells than the header; extras ignored", rowNum+2),
				})
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}

			switch roles[i] {
			case colID:
				rowID = cell
			case colTitle:
				item.Title = cell
			case colType:
				item.EntityType = entityTypeFor(cell)
			case colParent:
				parentRef = cell
			case colStatus:
				item.Metadata[importer.MetaStatus] = cell
			case colTargetDate:
				item.Metadata[importer.MetaTargetDate] = cell
			case colStage:
				item.Metadata[importer.MetaStageName] = cell
			case colExternalID:
				item.Metadata[importer.MetaExternalID] = cell
			case colField:
				item.FieldRecordings = append(item.FieldRecordings, importer.FieldRecording{
					Name:  strings.TrimSpace(header[i]),
					Value: cell,
				})
			}
		}

		if item.Title == "" {
			batch.Issues = append(batch.Issues, importer.ValidationIssue{
				Severity: importer.SeverityError,
				Message:  fmt.Sprintf("row %d has no title; skipped", rowNum+2),
			})
			continue
		}

		// Temp ids key downstream record upserts across imports, so a row
		// with a source id keeps that identity from one payload to the
		// next; only id-less rows fall back to their position.
		tempID := ""
		if rowID != "" {
			if _, dup := tempIDByRef[rowID]; dup {
				batch.Issues = append(batch.Issues, importer.ValidationIssue{
					Severity: importer.SeverityWarning,
					Message:  fmt.Sprintf("duplicate row id %q at row %d; parent references resolve to the first occurrence", rowID, rowNum+2),
				})
			} else {
				tempID = "csv-" + rowID
			}
		}
		if tempID == "" || usedTempIDs[tempID] {
			tempID = fmt.Sprintf("csv-row-%d", rowNum+2)
		}
		usedTempIDs[tempID] = true
		item.TempID = tempID

		idx := len(batch.Items)
		batch.Items = append(batch.Items, item)

		if rowID != "" {
			if _, taken := tempIDByRef[rowID]; !taken {
				tempIDByRef[rowID] = tempID
			}
		}
		if _, taken := tempIDByRef[item.Title]; !taken {
			tempIDByRef[item.Title] = tempID
		}
		if parentRef != "" {
			pending = append(pending, pendingParent{itemIndex: idx, ref: parentRef})
		}
	}

	// Parent resolution against the full row set. Unresolvable references
	// are flagged for the classifier, which offers candidate resolutions.
	for _, p := range pending {
		item := &batch.Items[p.itemIndex]
		if parentTempID, ok := tempIDByRef[p.ref]; ok && parentTempID != item.TempID {
			item.ParentTempID = parentTempID
			continue
		}
		item.Metadata[importer.MetaParentUnresolved] = "true"
		batch.Issues = append(batch.Issues, importer.ValidationIssue{
			Severity: importer.SeverityWarning,
			Message:  fmt.Sprintf("item %q references unknown parent %q", item.Title, p.ref),
		})
	}

	a.logger.Infow("CSV payload parsed",
		"session", session.ID,
		"items", len(batch.Items),
		"issues", len(batch.Issues),
	)
	return batch, nil
}

func entityTypeFor(raw string) importer.EntityType {
	switch importer.EntityType(strings.ToLower(strings.TrimSpace(raw))) {
	case importer.EntityRecord:
		return importer.EntityRecord
	case importer.EntityTemplate:
		return importer.EntityTemplate
	case importer.EntityAction:
		return importer.EntityAction
	case importer.EntitySubtask:
		return importer.EntitySubtask
	case importer.EntityProject:
		return importer.EntityProject
	case importer.EntityStage:
		return importer.EntityStage
	case importer.EntityProcess:
		return importer.EntityProcess
	case importer.EntitySubprocess:
		return importer.EntitySubprocess
	default:
		return importer.EntityTask
	}
}
