package dto

import (
	"fmt"
	"strings"

	"github.com/maruel/checkform/internal/forms"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// HealthRequest is a request to check server health.
type HealthRequest struct{}

// Validate is a no-op.
func (r *HealthRequest) Validate() error {
	return nil
}

// SchemaRequest is a request for the JSON Schema of the API records.
type SchemaRequest struct{}

// Validate is a no-op.
func (r *SchemaRequest) Validate() error {
	return nil
}

// --- Fields ---

// ListFieldsRequest lists the field definitions of a task.
type ListFieldsRequest struct {
	TaskID ksid.ID `path:"taskID" json:"-"`
}

// Validate validates the request.
func (r *ListFieldsRequest) Validate() error {
	if r.TaskID.IsZero() {
		return models.MissingField("taskID")
	}
	return nil
}

// CreateFieldRequest creates one field definition.
type CreateFieldRequest struct {
	TaskID ksid.ID                `path:"taskID" json:"-"`
	Field  models.FieldDefinition `json:"field"`
}

// Validate validates the request.
func (r *CreateFieldRequest) Validate() error {
	if r.TaskID.IsZero() {
		return models.MissingField("taskID")
	}
	if !r.Field.TaskID.IsZero() && r.Field.TaskID != r.TaskID {
		return models.BadRequest("field.task_id does not match the path")
	}
	r.Field.TaskID = r.TaskID
	return nil
}

// BulkCreateFieldsRequest creates several field definitions at once.
type BulkCreateFieldsRequest struct {
	TaskID ksid.ID                  `path:"taskID" json:"-"`
	Fields []models.FieldDefinition `json:"fields"`
}

// Validate validates the request.
func (r *BulkCreateFieldsRequest) Validate() error {
	if r.TaskID.IsZero() {
		return models.MissingField("taskID")
	}
	if len(r.Fields) == 0 {
		return models.MissingField("fields")
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		if !f.TaskID.IsZero() && f.TaskID != r.TaskID {
			return models.BadRequest(fmt.Sprintf("fields[%d].task_id does not match the path", i))
		}
		f.TaskID = r.TaskID
	}
	return nil
}

// UpdateFieldRequest patches one field definition.
type UpdateFieldRequest struct {
	ID ksid.ID `path:"id" json:"-"`
	models.FieldPatch
}

// Validate validates the request.
func (r *UpdateFieldRequest) Validate() error {
	if r.ID.IsZero() {
		return models.MissingField("id")
	}
	if r.IsZero() {
		return models.BadRequest("patch changes nothing")
	}
	if r.ShowIf != nil && r.ClearShowIf {
		return models.BadRequest("show_if and clear_show_if are exclusive")
	}
	if r.FieldType != nil && !r.FieldType.Valid() {
		return models.BadRequest(fmt.Sprintf("unknown field type %q", *r.FieldType))
	}
	if r.FieldLabel != nil && strings.TrimSpace(*r.FieldLabel) == "" {
		return models.BadRequest("field_label must not be blank")
	}
	if r.FieldOrder != nil && *r.FieldOrder < 0 {
		return models.BadRequest("field_order must not be negative")
	}
	return nil
}

// DeleteFieldRequest deletes one field definition.
type DeleteFieldRequest struct {
	ID ksid.ID `path:"id" json:"-"`
}

// Validate validates the request.
func (r *DeleteFieldRequest) Validate() error {
	if r.ID.IsZero() {
		return models.MissingField("id")
	}
	return nil
}

// --- Responses ---

// SubmitResponsesRequest stores already mapped response records.
type SubmitResponsesRequest struct {
	ChecklistItemID ksid.ID                 `path:"itemID" json:"-"`
	Records         []models.ResponseRecord `json:"records"`
}

// Validate validates the request.
func (r *SubmitResponsesRequest) Validate() error {
	if r.ChecklistItemID.IsZero() {
		return models.MissingField("itemID")
	}
	for i := range r.Records {
		rec := &r.Records[i]
		if rec.ChecklistItemID.IsZero() {
			rec.ChecklistItemID = r.ChecklistItemID
		} else if rec.ChecklistItemID != r.ChecklistItemID {
			return models.BadRequest(fmt.Sprintf("records[%d].checklist_item_id does not match the path", i))
		}
		if rec.TaskFieldID.IsZero() {
			return models.MissingField(fmt.Sprintf("records[%d].task_field_id", i))
		}
		if n := len(rec.Populated()); n > 1 {
			return models.BadRequest(fmt.Sprintf("records[%d] populates %d value slots", i, n))
		}
	}
	return nil
}

// ListResponsesRequest lists response records. Both filters are optional.
type ListResponsesRequest struct {
	ChecklistItemID ksid.ID `query:"checklist_item_id" json:"-"`
	TaskFieldID     ksid.ID `query:"task_field_id" json:"-"`
}

// Validate is a no-op.
func (r *ListResponsesRequest) Validate() error {
	return nil
}

// Filter returns the store filter of the request.
func (r *ListResponsesRequest) Filter() models.ResponseFilter {
	return models.ResponseFilter{ChecklistItemID: r.ChecklistItemID, TaskFieldID: r.TaskFieldID}
}

// --- Submit ---

// SubmitFormRequest carries raw answers for a task's form. The server runs
// them through the same interpreter as clients: visibility, validation and
// mapping happen before anything is stored.
//
// Values is keyed by field ID. Groups is keyed by repeating group field ID and
// holds one object per instance, keyed by sub-field type.
type SubmitFormRequest struct {
	TaskID          ksid.ID                                   `path:"taskID" json:"-"`
	ChecklistItemID ksid.ID                                   `path:"itemID" json:"-"`
	Values          map[string]any                            `json:"values"`
	Groups          map[string][]map[models.SubFieldType]any `json:"groups,omitempty"`
}

// Validate validates the request.
func (r *SubmitFormRequest) Validate() error {
	if r.TaskID.IsZero() {
		return models.MissingField("taskID")
	}
	if r.ChecklistItemID.IsZero() {
		return models.MissingField("itemID")
	}
	_, err := r.SlotValues()
	return err
}

// SlotValues converts the answers into interpreter slot values.
func (r *SubmitFormRequest) SlotValues() (forms.SlotValues, error) {
	out := make(forms.SlotValues, len(r.Values))
	for k, v := range r.Values {
		id, err := ksid.Parse(k)
		if err != nil {
			return nil, models.BadRequest(fmt.Sprintf("values: invalid field id %q", k))
		}
		out[forms.FieldKey(id)] = v
	}
	for k, instances := range r.Groups {
		id, err := ksid.Parse(k)
		if err != nil {
			return nil, models.BadRequest(fmt.Sprintf("groups: invalid field id %q", k))
		}
		for n, inst := range instances {
			for sub, v := range inst {
				if !sub.Valid() {
					return nil, models.BadRequest(fmt.Sprintf("groups[%s][%d]: unknown sub-field %q", k, n, sub))
				}
				out[forms.SubKey(id, n, sub)] = v
			}
		}
	}
	return out, nil
}
