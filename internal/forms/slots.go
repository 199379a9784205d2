package forms

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// SlotKey addresses one slot. Simple fields use the zero Instance and an empty
// Sub; repeating group sub-slots use (group id, instance index, sub-field type).
type SlotKey struct {
	Field    ksid.ID
	Instance int
	Sub      models.SubFieldType
}

// FieldKey returns the key of a simple field's slot.
func FieldKey(id ksid.ID) SlotKey {
	return SlotKey{Field: id}
}

// SubKey returns the key of one sub-slot of a repeating group instance.
func SubKey(group ksid.ID, instance int, sub models.SubFieldType) SlotKey {
	return SlotKey{Field: group, Instance: instance, Sub: sub}
}

// IsSub reports whether k addresses a repeating group sub-slot.
func (k SlotKey) IsSub() bool {
	return k.Sub != ""
}

func (k SlotKey) String() string {
	if k.IsSub() {
		return fmt.Sprintf("%s[%d].%s", k.Field, k.Instance, k.Sub)
	}
	return k.Field.String()
}

func compareKeys(a, b SlotKey) int {
	if c := cmp.Compare(a.Field, b.Field); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Instance, b.Instance); c != 0 {
		return c
	}
	return cmp.Compare(a.Sub, b.Sub)
}

// Slot is one addressable, validatable piece of input state.
type Slot struct {
	Key   SlotKey
	Value any
	check func(any) Verdict
}

// Verdict evaluates the current value.
func (s *Slot) Verdict() Verdict {
	if s.check == nil {
		return pass
	}
	return s.check(s.Value)
}

func fieldSlot(def *models.FieldDefinition) *Slot {
	d := def.Clone()
	return &Slot{Key: FieldKey(def.ID), check: func(v any) Verdict { return Evaluate(d, v) }}
}

func subSlot(group ksid.ID, instance int, sub models.SubFieldType) *Slot {
	return &Slot{Key: SubKey(group, instance, sub), check: func(v any) Verdict { return EvaluateSub(sub, v) }}
}

// SlotValues is a snapshot of slot values. Every live slot has an entry, nil
// when empty.
type SlotValues map[SlotKey]any

// Arena owns every slot of one form, indexed by key.
type Arena struct {
	slots map[SlotKey]*Slot
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{slots: map[SlotKey]*Slot{}}
}

// Len returns the number of slots.
func (a *Arena) Len() int {
	return len(a.slots)
}

// Get returns the slot at k.
func (a *Arena) Get(k SlotKey) (*Slot, bool) {
	s, ok := a.slots[k]
	return s, ok
}

// Put inserts or replaces a slot.
func (a *Arena) Put(s *Slot) {
	a.slots[s.Key] = s
}

// Keys returns every key in a deterministic order.
func (a *Arena) Keys() []SlotKey {
	return slices.SortedFunc(maps.Keys(a.slots), compareKeys)
}

// GroupKeys returns the sub-slot keys of group in a deterministic order.
func (a *Arena) GroupKeys(group ksid.ID) []SlotKey {
	var out []SlotKey
	for k := range a.slots {
		if k.Field == group && k.IsSub() {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, compareKeys)
	return out
}

// RemoveGroup removes every sub-slot of group and returns them.
func (a *Arena) RemoveGroup(group ksid.ID) map[SlotKey]*Slot {
	removed := map[SlotKey]*Slot{}
	for k, s := range a.slots {
		if k.Field == group && k.IsSub() {
			removed[k] = s
			delete(a.slots, k)
		}
	}
	return removed
}

// Values returns a snapshot of every slot value.
func (a *Arena) Values() SlotValues {
	out := make(SlotValues, len(a.slots))
	for k, s := range a.slots {
		out[k] = s.Value
	}
	return out
}

// Reset removes every slot.
func (a *Arena) Reset() {
	clear(a.slots)
}
