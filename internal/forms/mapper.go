package forms

import (
	"fmt"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// MapResponses converts slot values into one response record per field, in
// the order of defs. It performs no I/O.
//
// A simple field's record populates the slot matching its type, or none when
// the value is absent. A repeating group's record carries one object per
// instance present in values, each keyed by the template's sub-field types:
// numeric sub-fields become a number or nil, the others a string or nil.
func MapResponses(checklistItemID ksid.ID, defs []models.FieldDefinition, values SlotValues) ([]models.ResponseRecord, error) {
	out := make([]models.ResponseRecord, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		v, err := def.Variant()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", def.ID, err)
		}
		r := models.ResponseRecord{ChecklistItemID: checklistItemID, TaskFieldID: def.ID}
		raw := values[FieldKey(def.ID)]
		switch v := v.(type) {
		case models.Number, models.Temperature:
			if n, ok := ParseNumber(raw); ok {
				r.NumberValue = &n
			}
		case models.YesNo:
			if b, ok := ParseBool(raw); ok {
				r.BooleanValue = &b
			}
		case models.Text:
			if s, ok := textOf(raw); ok && !isEmpty(s) {
				r.TextValue = &s
			}
		case models.Dropdown:
			if s, ok := raw.(string); ok && !isEmpty(s) {
				r.TextValue = &s
			}
		case models.Photo:
			if s, ok := raw.(string); ok && !isEmpty(s) {
				r.FileURL = &s
			}
		case models.RepeatingGroup:
			r.JSONValue = mapGroup(def.ID, v, values)
		default:
			return nil, fmt.Errorf("field %s: unhandled variant %T", def.ID, v)
		}
		out = append(out, r)
	}
	return out, nil
}

func mapGroup(id ksid.ID, g models.RepeatingGroup, values SlotValues) []models.GroupInstance {
	n := 0
	for k := range values {
		if k.Field == id && k.IsSub() && k.Instance+1 > n {
			n = k.Instance + 1
		}
	}
	out := make([]models.GroupInstance, n)
	for i := range n {
		inst := make(models.GroupInstance, len(g.Template))
		for _, t := range g.Template {
			raw := values[SubKey(id, i, t)]
			if t.IsNumeric() {
				if f, ok := ParseNumber(raw); ok {
					inst[t] = f
				} else {
					inst[t] = nil
				}
				continue
			}
			if s, ok := raw.(string); ok && !isEmpty(s) {
				inst[t] = s
			} else {
				inst[t] = nil
			}
		}
		out[i] = inst
	}
	return out
}

// DecodeResponses is the inverse of MapResponses: it turns stored records back
// into slot values. Records for fields absent from defs are ignored. Records
// whose populated slot does not match their field's type are left out and
// returned as skipped. Repeating groups are decoded into sub-slot values for
// every stored instance.
func DecodeResponses(defs []models.FieldDefinition, records []models.ResponseRecord) (SlotValues, []models.SlotFailure) {
	byID := make(map[ksid.ID]*models.FieldDefinition, len(defs))
	for i := range defs {
		byID[defs[i].ID] = &defs[i]
	}
	out := SlotValues{}
	var skipped []models.SlotFailure
	for i := range records {
		r := &records[i]
		def, ok := byID[r.TaskFieldID]
		if !ok {
			continue
		}
		if err := r.Validate(def.FieldType); err != nil {
			skipped = append(skipped, models.SlotFailure{FieldID: def.ID, Label: def.FieldLabel, Reason: err.Error()})
			continue
		}
		k := FieldKey(def.ID)
		switch def.FieldType {
		case models.FieldTypeNumber, models.FieldTypeTemperature:
			if r.NumberValue != nil {
				out[k] = *r.NumberValue
			}
		case models.FieldTypeYesNo:
			if r.BooleanValue != nil {
				out[k] = *r.BooleanValue
			}
		case models.FieldTypeText, models.FieldTypeDropdown:
			if r.TextValue != nil {
				out[k] = *r.TextValue
			}
		case models.FieldTypePhoto:
			if r.FileURL != nil {
				out[k] = *r.FileURL
			}
		case models.FieldTypeRepeatingGroup:
			for idx, inst := range r.JSONValue {
				for _, sf := range def.ValidationRules.RepeatTemplate {
					v := inst[sf.Type]
					if sf.Type.IsNumeric() {
						if f, ok := ParseNumber(v); ok {
							v = f
						} else {
							v = nil
						}
					}
					out[SubKey(def.ID, idx, sf.Type)] = v
				}
			}
		}
	}
	return out, skipped
}
