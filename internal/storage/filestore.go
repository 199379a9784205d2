package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/maruel/checkform/internal/jsonldb"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// FileStore keeps field definitions and responses in two JSONL tables under a
// root directory.
type FileStore struct {
	fields    *jsonldb.Table[*models.FieldDefinition]
	responses *jsonldb.Table[*models.ResponseRecord]
	now       func() time.Time
}

// NewFileStore opens (or creates) the tables under rootDir.
func NewFileStore(rootDir string) (*FileStore, error) {
	fields, err := jsonldb.NewTable[*models.FieldDefinition](filepath.Join(rootDir, "fields.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open fields table: %w", err)
	}
	responses, err := jsonldb.NewTable[*models.ResponseRecord](filepath.Join(rootDir, "responses.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open responses table: %w", err)
	}
	return &FileStore{fields: fields, responses: responses, now: time.Now}, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

// ListFields implements FieldStore.
func (s *FileStore) ListFields(ctx context.Context, taskID ksid.ID) ([]models.FieldDefinition, error) {
	if taskID.IsZero() {
		return nil, models.MissingField("task_id")
	}
	var out []models.FieldDefinition
	for f := range s.fields.All() {
		if f.TaskID == taskID {
			out = append(out, *f)
		}
	}
	models.SortFields(out)
	return out, nil
}

// CreateField implements FieldStore.
func (s *FileStore) CreateField(ctx context.Context, def *models.FieldDefinition) (*models.FieldDefinition, error) {
	f, err := prepareField(def, def.TaskID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.fields.Append(f); err != nil {
		return nil, fmt.Errorf("failed to create field: %w", err)
	}
	slog.DebugContext(ctx, "Created field", "id", f.ID, "task", f.TaskID, "type", f.FieldType)
	return f, nil
}

// BulkCreateFields implements FieldStore. All rows are written in one append.
func (s *FileStore) BulkCreateFields(ctx context.Context, taskID ksid.ID, defs []models.FieldDefinition) ([]models.FieldDefinition, error) {
	now := s.now()
	rows := make([]*models.FieldDefinition, 0, len(defs))
	for i := range defs {
		f, err := prepareField(&defs[i], taskID, now)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		rows = append(rows, f)
	}
	if err := s.fields.Append(rows...); err != nil {
		return nil, fmt.Errorf("failed to create fields: %w", err)
	}
	out := make([]models.FieldDefinition, len(rows))
	for i, f := range rows {
		out[i] = *f
	}
	slog.DebugContext(ctx, "Created fields", "task", taskID, "count", len(out))
	return out, nil
}

// UpdateField implements FieldStore.
func (s *FileStore) UpdateField(ctx context.Context, id ksid.ID, patch *models.FieldPatch) (*models.FieldDefinition, error) {
	if patch.FieldType != nil && !patch.FieldType.Valid() {
		return nil, models.BadRequest(fmt.Sprintf("unknown field type %q", *patch.FieldType))
	}
	var updated *models.FieldDefinition
	err := s.fields.Modify(func(rows []*models.FieldDefinition) ([]*models.FieldDefinition, error) {
		i := slices.IndexFunc(rows, func(f *models.FieldDefinition) bool { return f.ID == id })
		if i < 0 {
			return nil, models.NotFound("field")
		}
		patch.Apply(rows[i])
		rows[i].Modified = s.now()
		updated = rows[i].Clone()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteField implements FieldStore.
func (s *FileStore) DeleteField(ctx context.Context, id ksid.ID) error {
	return s.fields.Modify(func(rows []*models.FieldDefinition) ([]*models.FieldDefinition, error) {
		n := len(rows)
		rows = slices.DeleteFunc(rows, func(f *models.FieldDefinition) bool { return f.ID == id })
		if len(rows) == n {
			return nil, models.NotFound("field")
		}
		return rows, nil
	})
}

// SubmitResponses implements ResponseStore.
func (s *FileStore) SubmitResponses(ctx context.Context, checklistItemID ksid.ID, records []models.ResponseRecord) ([]models.ResponseRecord, error) {
	now := s.now()
	incoming, err := prepareResponses(checklistItemID, records)
	if err != nil {
		return nil, err
	}
	types := map[ksid.ID]models.FieldType{}
	for f := range s.fields.All() {
		types[f.ID] = f.FieldType
	}
	err = checkSlots(incoming, func(id ksid.ID) (models.FieldType, bool, error) {
		t, ok := types[id]
		return t, ok, nil
	})
	if err != nil {
		return nil, err
	}
	var out []models.ResponseRecord
	err = s.responses.Modify(func(rows []*models.ResponseRecord) ([]*models.ResponseRecord, error) {
		out = out[:0]
		for _, r := range incoming {
			created := now
			rows = slices.DeleteFunc(rows, func(old *models.ResponseRecord) bool {
				if old.ChecklistItemID == r.ChecklistItemID && old.TaskFieldID == r.TaskFieldID {
					created = old.Created
					return true
				}
				return false
			})
			r.ID = ksid.NewID()
			r.Created = created
			r.Modified = now
			rows = append(rows, r)
			out = append(out, *r.Clone())
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "Stored responses", "item", checklistItemID, "count", len(out))
	return out, nil
}

// ListResponses implements ResponseStore.
func (s *FileStore) ListResponses(ctx context.Context, filter models.ResponseFilter) ([]models.ResponseRecord, error) {
	var out []models.ResponseRecord
	for r := range s.responses.All() {
		if filter.Match(r) {
			out = append(out, *r)
		}
	}
	return out, nil
}

// prepareField validates def and returns a copy ready to be stored.
func prepareField(def *models.FieldDefinition, taskID ksid.ID, now time.Time) (*models.FieldDefinition, error) {
	if taskID.IsZero() {
		return nil, models.MissingField("task_id")
	}
	if !def.FieldType.Valid() {
		return nil, models.BadRequest(fmt.Sprintf("unknown field type %q", def.FieldType))
	}
	f := def.Clone()
	f.ID = ksid.NewID()
	f.TaskID = taskID
	f.Created = now
	f.Modified = now
	return f, nil
}

// prepareResponses checks records target checklistItemID and that no field is
// answered twice in the same submission. Empty groups are normalized to nil.
func prepareResponses(checklistItemID ksid.ID, records []models.ResponseRecord) ([]*models.ResponseRecord, error) {
	if checklistItemID.IsZero() {
		return nil, models.MissingField("checklist_item_id")
	}
	seen := make(map[ksid.ID]struct{}, len(records))
	out := make([]*models.ResponseRecord, 0, len(records))
	for i := range records {
		r := records[i].Clone()
		if r.ChecklistItemID.IsZero() {
			r.ChecklistItemID = checklistItemID
		}
		if r.ChecklistItemID != checklistItemID {
			return nil, models.BadRequest(fmt.Sprintf("response %d targets checklist item %s, want %s", i, r.ChecklistItemID, checklistItemID))
		}
		if r.TaskFieldID.IsZero() {
			return nil, models.MissingField("task_field_id")
		}
		// A group with no instances is stored as no json_value so it reads
		// back the same from every backend and over JSON.
		if r.JSONValue != nil && len(r.JSONValue) == 0 {
			r.JSONValue = nil
		}
		if len(r.Populated()) > 1 {
			return nil, models.BadRequest(fmt.Sprintf("response %d populates more than one value slot", i))
		}
		if _, dup := seen[r.TaskFieldID]; dup {
			return nil, models.BadRequest(fmt.Sprintf("field %s answered twice", r.TaskFieldID))
		}
		seen[r.TaskFieldID] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// checkSlots rejects records whose populated slot does not match the stored
// type of the field they answer. Records of fields lookup does not know pass
// through.
func checkSlots(incoming []*models.ResponseRecord, lookup func(ksid.ID) (models.FieldType, bool, error)) error {
	var failures []models.SlotFailure
	for _, r := range incoming {
		t, ok, err := lookup(r.TaskFieldID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.Validate(t); err != nil {
			failures = append(failures, models.SlotFailure{FieldID: r.TaskFieldID, Reason: err.Error()})
		}
	}
	if len(failures) != 0 {
		return &models.ValidationFailedError{Failures: failures}
	}
	return nil
}
