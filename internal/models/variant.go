package models

import (
	"fmt"
	"slices"

	"github.com/maruel/ksid"
)

// Variant is the typed payload of a field definition, one concrete type per
// FieldType. The set is closed: only this package implements it.
type Variant interface {
	Type() FieldType
	variant()
}

// Bounded is implemented by numeric variants.
type Bounded interface {
	Variant
	Bounds() (lo, hi *float64)
}

// Number is the payload of a NUMBER field.
type Number struct {
	Min, Max *float64
}

// Temperature is the payload of a TEMPERATURE field.
type Temperature struct {
	Min, Max *float64
}

// Text is the payload of a TEXT field.
type Text struct{}

// YesNo is the payload of a YES_NO field.
type YesNo struct{}

// Dropdown is the payload of a DROPDOWN field.
type Dropdown struct {
	Options []string
}

// Photo is the payload of a PHOTO field.
type Photo struct{}

// RepeatingGroup is the payload of a REPEATING_GROUP field.
type RepeatingGroup struct {
	CountFieldID ksid.ID
	Label        string
	Template     []SubFieldType
}

func (Number) Type() FieldType         { return FieldTypeNumber }
func (Temperature) Type() FieldType    { return FieldTypeTemperature }
func (Text) Type() FieldType           { return FieldTypeText }
func (YesNo) Type() FieldType          { return FieldTypeYesNo }
func (Dropdown) Type() FieldType       { return FieldTypeDropdown }
func (Photo) Type() FieldType          { return FieldTypePhoto }
func (RepeatingGroup) Type() FieldType { return FieldTypeRepeatingGroup }

func (Number) variant()         {}
func (Temperature) variant()    {}
func (Text) variant()           {}
func (YesNo) variant()          {}
func (Dropdown) variant()       {}
func (Photo) variant()          {}
func (RepeatingGroup) variant() {}

// Bounds returns the numeric bounds, nil when unset.
func (n Number) Bounds() (lo, hi *float64) { return n.Min, n.Max }

// Bounds returns the numeric bounds, nil when unset.
func (t Temperature) Bounds() (lo, hi *float64) { return t.Min, t.Max }

// HasOption reports whether v is one of the declared options.
func (d Dropdown) HasOption(v string) bool {
	return slices.Contains(d.Options, v)
}

// Variant decodes the definition into its typed payload.
func (f *FieldDefinition) Variant() (Variant, error) {
	r := &f.ValidationRules
	switch f.FieldType {
	case FieldTypeNumber:
		return Number{Min: r.Min, Max: r.Max}, nil
	case FieldTypeTemperature:
		return Temperature{Min: r.Min, Max: r.Max}, nil
	case FieldTypeText:
		return Text{}, nil
	case FieldTypeYesNo:
		return YesNo{}, nil
	case FieldTypeDropdown:
		return Dropdown{Options: f.Options}, nil
	case FieldTypePhoto:
		return Photo{}, nil
	case FieldTypeRepeatingGroup:
		g := RepeatingGroup{CountFieldID: r.RepeatCountFieldID, Label: r.RepeatLabel}
		for _, s := range r.RepeatTemplate {
			g.Template = append(g.Template, s.Type)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", f.FieldType)
	}
}
