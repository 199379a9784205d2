package forms

import (
	"slices"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// Control describes how to render one visible field.
type Control struct {
	FieldID   ksid.ID            `json:"field_id"`
	Type      models.FieldType   `json:"type"`
	Label     string             `json:"label"`
	Required  bool               `json:"required"`
	Options   []string           `json:"options,omitempty"`
	Min       *float64           `json:"min,omitempty"`
	Max       *float64           `json:"max,omitempty"`
	Value     any                `json:"value,omitempty"`
	Verdict   Verdict            `json:"verdict"`
	Instances []InstanceControls `json:"instances,omitempty"`
}

// InstanceControls is one rendered row of a repeating group.
type InstanceControls struct {
	Instance
	Fields []SubControl `json:"fields"`
}

// SubControl describes one sub-slot of a repeating group instance.
type SubControl struct {
	Type     models.SubFieldType `json:"type"`
	Required bool                `json:"required"`
	Value    any                 `json:"value,omitempty"`
	Verdict  Verdict             `json:"verdict"`
}

// Controls returns one control per visible field in field_order.
func (i *Interpreter) Controls() []Control {
	i.mu.Lock()
	defer i.mu.Unlock()
	values := i.arena.Values()
	var out []Control
	for k := range i.defs {
		d := &i.defs[k]
		if !Visible(d, values) {
			continue
		}
		c := Control{FieldID: d.ID, Type: d.FieldType, Label: d.FieldLabel, Verdict: pass}
		v, err := d.Variant()
		if err != nil {
			continue
		}
		switch v := v.(type) {
		case models.Bounded:
			lo, hi := v.Bounds()
			c.Min, c.Max = clonePtr(lo), clonePtr(hi)
			c.Required = d.IsRequired
		case models.Dropdown:
			c.Options = slices.Clone(v.Options)
			c.Required = d.IsRequired
		case models.Photo:
		case models.RepeatingGroup:
			for _, inst := range i.exp.Instances(d.ID) {
				row := InstanceControls{Instance: inst}
				for _, t := range i.exp.Template(d.ID) {
					sc := SubControl{Type: t, Required: t.IsNumeric(), Verdict: pass}
					if s, ok := i.arena.Get(SubKey(d.ID, inst.Index, t)); ok {
						sc.Value, sc.Verdict = s.Value, s.Verdict()
					}
					row.Fields = append(row.Fields, sc)
				}
				c.Instances = append(c.Instances, row)
			}
		default:
			c.Required = d.IsRequired
		}
		if s, ok := i.arena.Get(FieldKey(d.ID)); ok {
			c.Value, c.Verdict = s.Value, s.Verdict()
		}
		out = append(out, c)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
