package models

import (
	"fmt"
	"maps"
	"time"

	"github.com/maruel/ksid"
)

// GroupInstance holds the values of one repeating group instance keyed by
// sub-field type. Numeric sub-fields hold float64 or nil, the others string or
// nil.
type GroupInstance map[SubFieldType]any

// ResponseRecord is one submitted value for one field against one task
// performance.
type ResponseRecord struct {
	ID              ksid.ID         `json:"id,omitempty"`
	ChecklistItemID ksid.ID         `json:"checklist_item_id"`
	TaskFieldID     ksid.ID         `json:"task_field_id"`
	NumberValue     *float64        `json:"number_value,omitempty"`
	BooleanValue    *bool           `json:"boolean_value,omitempty"`
	TextValue       *string         `json:"text_value,omitempty"`
	FileURL         *string         `json:"file_url,omitempty"`
	JSONValue       []GroupInstance `json:"json_value,omitempty"`
	Created         time.Time       `json:"created,omitzero"`
	Modified        time.Time       `json:"modified,omitzero"`
}

// ValueSlot names one of the typed value slots of a response record.
type ValueSlot string

const (
	SlotNumber  ValueSlot = "number_value"
	SlotBoolean ValueSlot = "boolean_value"
	SlotText    ValueSlot = "text_value"
	SlotFile    ValueSlot = "file_url"
	SlotJSON    ValueSlot = "json_value"
)

// SlotFor returns the value slot a field type answers into.
func SlotFor(t FieldType) (ValueSlot, error) {
	switch t {
	case FieldTypeNumber, FieldTypeTemperature:
		return SlotNumber, nil
	case FieldTypeYesNo:
		return SlotBoolean, nil
	case FieldTypeText, FieldTypeDropdown:
		return SlotText, nil
	case FieldTypePhoto:
		return SlotFile, nil
	case FieldTypeRepeatingGroup:
		return SlotJSON, nil
	default:
		return "", fmt.Errorf("unknown field type %q", t)
	}
}

// Populated returns the populated value slots in declaration order.
func (r *ResponseRecord) Populated() []ValueSlot {
	var out []ValueSlot
	if r.NumberValue != nil {
		out = append(out, SlotNumber)
	}
	if r.BooleanValue != nil {
		out = append(out, SlotBoolean)
	}
	if r.TextValue != nil {
		out = append(out, SlotText)
	}
	if r.FileURL != nil {
		out = append(out, SlotFile)
	}
	if r.JSONValue != nil {
		out = append(out, SlotJSON)
	}
	return out
}

// Validate checks the record identifies its target and that at most one value
// slot is populated, the one matching t.
func (r *ResponseRecord) Validate(t FieldType) error {
	if r.ChecklistItemID.IsZero() {
		return fmt.Errorf("checklist_item_id is required")
	}
	if r.TaskFieldID.IsZero() {
		return fmt.Errorf("task_field_id is required")
	}
	want, err := SlotFor(t)
	if err != nil {
		return err
	}
	p := r.Populated()
	switch {
	case len(p) > 1:
		return fmt.Errorf("response for field %s populates %d value slots", r.TaskFieldID, len(p))
	case len(p) == 1 && p[0] != want:
		return fmt.Errorf("response for %s field %s populates %s, want %s", t, r.TaskFieldID, p[0], want)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *ResponseRecord) Clone() *ResponseRecord {
	c := *r
	if r.NumberValue != nil {
		v := *r.NumberValue
		c.NumberValue = &v
	}
	if r.BooleanValue != nil {
		v := *r.BooleanValue
		c.BooleanValue = &v
	}
	if r.TextValue != nil {
		v := *r.TextValue
		c.TextValue = &v
	}
	if r.FileURL != nil {
		v := *r.FileURL
		c.FileURL = &v
	}
	if r.JSONValue != nil {
		c.JSONValue = make([]GroupInstance, len(r.JSONValue))
		for i, inst := range r.JSONValue {
			c.JSONValue[i] = maps.Clone(inst)
		}
	}
	return &c
}

// GetID returns the record ID.
func (r *ResponseRecord) GetID() ksid.ID {
	return r.ID
}

// ResponseFilter selects response records. Zero members match everything.
type ResponseFilter struct {
	ChecklistItemID ksid.ID
	TaskFieldID     ksid.ID
}

// Match reports whether r passes the filter.
func (f ResponseFilter) Match(r *ResponseRecord) bool {
	if !f.ChecklistItemID.IsZero() && r.ChecklistItemID != f.ChecklistItemID {
		return false
	}
	if !f.TaskFieldID.IsZero() && r.TaskFieldID != f.TaskFieldID {
		return false
	}
	return true
}
