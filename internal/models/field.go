package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/maruel/ksid"
)

// FieldType is the discriminant of a field definition.
type FieldType string

const (
	// FieldTypeNumber stores a numeric value, optionally bounded by min/max.
	FieldTypeNumber FieldType = "NUMBER"
	// FieldTypeText stores free text.
	FieldTypeText FieldType = "TEXT"
	// FieldTypeTemperature stores a temperature reading, optionally bounded by min/max.
	FieldTypeTemperature FieldType = "TEMPERATURE"
	// FieldTypeYesNo stores a boolean.
	FieldTypeYesNo FieldType = "YES_NO"
	// FieldTypeDropdown stores one of the declared options.
	FieldTypeDropdown FieldType = "DROPDOWN"
	// FieldTypePhoto stores the URL of an uploaded photo.
	FieldTypePhoto FieldType = "PHOTO"
	// FieldTypeRepeatingGroup expands into N instances of a sub-field template.
	FieldTypeRepeatingGroup FieldType = "REPEATING_GROUP"
)

// FieldTypes lists every field type in declaration order.
var FieldTypes = []FieldType{
	FieldTypeNumber,
	FieldTypeText,
	FieldTypeTemperature,
	FieldTypeYesNo,
	FieldTypeDropdown,
	FieldTypePhoto,
	FieldTypeRepeatingGroup,
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	return slices.Contains(FieldTypes, t)
}

// IsNumeric reports whether values of this type are numbers.
func (t FieldType) IsNumeric() bool {
	return t == FieldTypeNumber || t == FieldTypeTemperature
}

// SubFieldType is the type of one entry of a repeating group template.
type SubFieldType string

const (
	SubFieldTemperature SubFieldType = "temperature"
	SubFieldNumber      SubFieldType = "number"
	SubFieldText        SubFieldType = "text"
	SubFieldPhoto       SubFieldType = "photo"
)

// Valid reports whether t is a known sub-field type.
func (t SubFieldType) Valid() bool {
	switch t {
	case SubFieldTemperature, SubFieldNumber, SubFieldText, SubFieldPhoto:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether sub-field values are numbers.
func (t SubFieldType) IsNumeric() bool {
	return t == SubFieldTemperature || t == SubFieldNumber
}

// SubField describes one sub-field of a repeating group template.
type SubField struct {
	Type SubFieldType `json:"type" yaml:"type" jsonschema:"enum=temperature,enum=number,enum=text,enum=photo"`
}

// ShowIf makes a field conditionally visible.
//
// The field is visible unless the field named by FieldID currently holds a
// value different from Equals.
type ShowIf struct {
	FieldID ksid.ID `json:"field_id" yaml:"field_id"`
	Equals  any     `json:"equals" yaml:"equals"`
}

// ValidationRules is the open-ended rule record of a field definition.
//
// Recognized keys are decoded into typed fields. Unknown keys are kept in Extra
// and written back unchanged.
type ValidationRules struct {
	Min                *float64   `json:"min,omitempty" yaml:"min,omitempty"`
	Max                *float64   `json:"max,omitempty" yaml:"max,omitempty"`
	RepeatCountFieldID ksid.ID    `json:"repeat_count_field_id,omitempty" yaml:"repeat_count_field_id,omitempty"`
	RepeatLabel        string     `json:"repeat_label,omitempty" yaml:"repeat_label,omitempty"`
	RepeatTemplate     []SubField `json:"repeat_template,omitempty" yaml:"repeat_template,omitempty"`

	Extra map[string]json.RawMessage `json:"-" yaml:"-"`
}

var knownRuleKeys = []string{"min", "max", "repeat_count_field_id", "repeat_label", "repeat_template"}

// MarshalJSON implements json.Marshaler.
func (r ValidationRules) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		out[k] = v
	}
	if r.Min != nil {
		out["min"] = *r.Min
	}
	if r.Max != nil {
		out["max"] = *r.Max
	}
	if !r.RepeatCountFieldID.IsZero() {
		out["repeat_count_field_id"] = r.RepeatCountFieldID
	}
	if r.RepeatLabel != "" {
		out["repeat_label"] = r.RepeatLabel
	}
	if len(r.RepeatTemplate) != 0 {
		out["repeat_template"] = r.RepeatTemplate
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ValidationRules) UnmarshalJSON(data []byte) error {
	*r = ValidationRules{}
	if string(data) == "null" {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decode := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("validation_rules.%s: %w", key, err)
		}
		return nil
	}
	if err := decode("min", &r.Min); err != nil {
		return err
	}
	if err := decode("max", &r.Max); err != nil {
		return err
	}
	if err := decode("repeat_count_field_id", &r.RepeatCountFieldID); err != nil {
		return err
	}
	if err := decode("repeat_label", &r.RepeatLabel); err != nil {
		return err
	}
	if err := decode("repeat_template", &r.RepeatTemplate); err != nil {
		return err
	}
	for _, k := range knownRuleKeys {
		delete(raw, k)
	}
	if len(raw) != 0 {
		r.Extra = raw
	}
	return nil
}

// Clone returns a deep copy.
func (r ValidationRules) Clone() ValidationRules {
	c := r
	if r.Min != nil {
		v := *r.Min
		c.Min = &v
	}
	if r.Max != nil {
		v := *r.Max
		c.Max = &v
	}
	c.RepeatTemplate = slices.Clone(r.RepeatTemplate)
	c.Extra = maps.Clone(r.Extra)
	return c
}

// FieldDefinition is one authored input slot within a task's form.
type FieldDefinition struct {
	ID              ksid.ID         `json:"id,omitempty" yaml:"id,omitempty"`
	TaskID          ksid.ID         `json:"task_id" yaml:"task_id,omitempty"`
	FieldType       FieldType       `json:"field_type" yaml:"field_type" validate:"field_type"`
	FieldLabel      string          `json:"field_label" yaml:"field_label" validate:"notblank"`
	FieldOrder      int             `json:"field_order" yaml:"field_order" validate:"gte=0"`
	IsRequired      bool            `json:"is_required" yaml:"is_required"`
	ValidationRules ValidationRules `json:"validation_rules" yaml:"validation_rules,omitempty"`
	Options         []string        `json:"options,omitempty" yaml:"options,omitempty"`
	ShowIf          *ShowIf         `json:"show_if,omitempty" yaml:"show_if,omitempty"`
	Created         time.Time       `json:"created,omitzero" yaml:"-"`
	Modified        time.Time       `json:"modified,omitzero" yaml:"-"`
}

// Clone returns a deep copy of the field definition.
func (f *FieldDefinition) Clone() *FieldDefinition {
	c := *f
	c.ValidationRules = f.ValidationRules.Clone()
	c.Options = slices.Clone(f.Options)
	if f.ShowIf != nil {
		s := *f.ShowIf
		c.ShowIf = &s
	}
	return &c
}

// GetID returns the field ID.
func (f *FieldDefinition) GetID() ksid.ID {
	return f.ID
}

// FieldPatch is a partial update of a field definition. Nil members are left
// unchanged.
type FieldPatch struct {
	FieldType       *FieldType       `json:"field_type,omitempty"`
	FieldLabel      *string          `json:"field_label,omitempty"`
	FieldOrder      *int             `json:"field_order,omitempty"`
	IsRequired      *bool            `json:"is_required,omitempty"`
	ValidationRules *ValidationRules `json:"validation_rules,omitempty"`
	Options         *[]string        `json:"options,omitempty"`
	ShowIf          *ShowIf          `json:"show_if,omitempty"`
	ClearShowIf     bool             `json:"clear_show_if,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p *FieldPatch) IsZero() bool {
	return p.FieldType == nil && p.FieldLabel == nil && p.FieldOrder == nil && p.IsRequired == nil &&
		p.ValidationRules == nil && p.Options == nil && p.ShowIf == nil && !p.ClearShowIf
}

// Apply writes the patch onto f.
func (p *FieldPatch) Apply(f *FieldDefinition) {
	if p.FieldType != nil {
		f.FieldType = *p.FieldType
	}
	if p.FieldLabel != nil {
		f.FieldLabel = *p.FieldLabel
	}
	if p.FieldOrder != nil {
		f.FieldOrder = *p.FieldOrder
	}
	if p.IsRequired != nil {
		f.IsRequired = *p.IsRequired
	}
	if p.ValidationRules != nil {
		f.ValidationRules = p.ValidationRules.Clone()
	}
	if p.Options != nil {
		f.Options = slices.Clone(*p.Options)
	}
	if p.ClearShowIf {
		f.ShowIf = nil
	}
	if p.ShowIf != nil {
		s := *p.ShowIf
		f.ShowIf = &s
	}
}

// SortFields sorts definitions by ascending field_order, keeping the relative
// order of equal entries.
func SortFields(fields []FieldDefinition) {
	slices.SortStableFunc(fields, func(a, b FieldDefinition) int {
		return a.FieldOrder - b.FieldOrder
	})
}
