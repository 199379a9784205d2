package forms

import (
	"github.com/maruel/checkform/internal/models"
)

// Visible reports whether def is shown given the current values. A field is
// visible unless show_if is set and the referenced field's value does not
// equal show_if.equals.
func Visible(def *models.FieldDefinition, values SlotValues) bool {
	if def.ShowIf == nil || def.ShowIf.FieldID.IsZero() {
		return true
	}
	return valuesEqual(values[FieldKey(def.ShowIf.FieldID)], def.ShowIf.Equals)
}

// visibleFields filters defs down to the visible ones, preserving order.
func visibleFields(defs []models.FieldDefinition, values SlotValues) []models.FieldDefinition {
	out := make([]models.FieldDefinition, 0, len(defs))
	for i := range defs {
		if Visible(&defs[i], values) {
			out = append(out, defs[i])
		}
	}
	return out
}

