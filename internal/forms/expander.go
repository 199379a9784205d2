package forms

import (
	"fmt"
	"math"
	"slices"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// MaxRepeatInstances caps the number of instances of one repeating group.
const MaxRepeatInstances = 100

// RecountPolicy decides what happens to entered sub-slot values when a group's
// instance count is recomputed.
type RecountPolicy int

const (
	// RecountDiscard drops every entered value of the group. Recreated slots
	// start empty.
	RecountDiscard RecountPolicy = iota
	// RecountPreserve carries values over by (instance index, sub-field type)
	// for instances that still exist.
	RecountPreserve
)

func (p RecountPolicy) String() string {
	switch p {
	case RecountDiscard:
		return "discard"
	case RecountPreserve:
		return "preserve"
	default:
		return fmt.Sprintf("RecountPolicy(%d)", int(p))
	}
}

// ParseRecountPolicy parses the String form of a policy. The empty string is
// RecountDiscard.
func ParseRecountPolicy(s string) (RecountPolicy, error) {
	switch s {
	case "", "discard":
		return RecountDiscard, nil
	case "preserve":
		return RecountPreserve, nil
	default:
		return 0, fmt.Errorf("unknown recount policy %q", s)
	}
}

// Instance describes one generated instance of a repeating group.
type Instance struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// InstanceCount converts the raw value of a count field into an instance
// count: truncated toward zero, 0 when unset, non-numeric or negative, and at
// most MaxRepeatInstances.
func InstanceCount(raw any) int {
	f, ok := ParseNumber(raw)
	if !ok || f <= 0 {
		return 0
	}
	f = math.Trunc(f)
	if f > MaxRepeatInstances {
		return MaxRepeatInstances
	}
	return int(f)
}

type expansion struct {
	countID   ksid.ID
	label     string
	template  []models.SubFieldType
	instances []Instance
}

// Expander materializes repeating group instances into an Arena.
type Expander struct {
	policy RecountPolicy
	order  []ksid.ID
	groups map[ksid.ID]*expansion
}

// NewExpander returns an expander applying policy on recount.
func NewExpander(policy RecountPolicy) *Expander {
	return &Expander{policy: policy, groups: map[ksid.ID]*expansion{}}
}

// Track registers a repeating group. Duplicate sub-field types in the template
// are collapsed to their first occurrence.
func (e *Expander) Track(id ksid.ID, g models.RepeatingGroup) {
	x := &expansion{countID: g.CountFieldID, label: g.Label}
	for _, t := range g.Template {
		if !slices.Contains(x.template, t) {
			x.template = append(x.template, t)
		}
	}
	if _, ok := e.groups[id]; !ok {
		e.order = append(e.order, id)
	}
	e.groups[id] = x
}

// Groups returns the tracked group IDs in registration order.
func (e *Expander) Groups() []ksid.ID {
	return slices.Clone(e.order)
}

// Dependents returns the groups whose count is driven by countID.
func (e *Expander) Dependents(countID ksid.ID) []ksid.ID {
	if countID.IsZero() {
		return nil
	}
	var out []ksid.ID
	for _, id := range e.order {
		if e.groups[id].countID == countID {
			out = append(out, id)
		}
	}
	return out
}

// CountField returns the count field of group, zero when unset.
func (e *Expander) CountField(group ksid.ID) ksid.ID {
	if x, ok := e.groups[group]; ok {
		return x.countID
	}
	return 0
}

// Template returns the sub-field template of group.
func (e *Expander) Template(group ksid.ID) []models.SubFieldType {
	if x, ok := e.groups[group]; ok {
		return slices.Clone(x.template)
	}
	return nil
}

// Count returns the current number of instances of group.
func (e *Expander) Count(group ksid.ID) int {
	if x, ok := e.groups[group]; ok {
		return len(x.instances)
	}
	return 0
}

// Instances returns the current instance descriptors of group.
func (e *Expander) Instances(group ksid.ID) []Instance {
	if x, ok := e.groups[group]; ok {
		return slices.Clone(x.instances)
	}
	return nil
}

// Expand recomputes group from the raw value of its count field. All sub-slots
// of the group are removed from a and recreated in one step, so a reader never
// observes a partially rebuilt group.
func (e *Expander) Expand(a *Arena, group ksid.ID, countValue any) error {
	x, ok := e.groups[group]
	if !ok {
		return fmt.Errorf("unknown repeating group %s", group)
	}
	n := InstanceCount(countValue)
	old := a.RemoveGroup(group)
	label := x.label
	if label == "" {
		label = "Instance"
	}
	x.instances = make([]Instance, n)
	for i := range n {
		x.instances[i] = Instance{Index: i, Label: fmt.Sprintf("%s %d", label, i+1)}
		for _, t := range x.template {
			s := subSlot(group, i, t)
			if e.policy == RecountPreserve {
				if prev, ok := old[s.Key]; ok {
					s.Value = prev.Value
				}
			}
			a.Put(s)
		}
	}
	return nil
}
