package forms

import (
	"testing"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceCount(t *testing.T) {
	tests := []struct {
		raw  any
		want int
	}{
		{nil, 0},
		{"", 0},
		{"abc", 0},
		{-3, 0},
		{0, 0},
		{3, 3},
		{"3", 3},
		{2.9, 2},
		{1e9, MaxRepeatInstances},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InstanceCount(tt.raw), "%#v", tt.raw)
	}
}

func TestExpanderSlotCount(t *testing.T) {
	templates := [][]models.SubFieldType{
		{models.SubFieldTemperature},
		{models.SubFieldTemperature, models.SubFieldText},
		{models.SubFieldNumber, models.SubFieldText, models.SubFieldPhoto},
		{models.SubFieldTemperature, models.SubFieldNumber, models.SubFieldText, models.SubFieldPhoto},
	}
	for _, tmpl := range templates {
		for n := range 6 {
			group := ksid.NewID()
			e := NewExpander(RecountDiscard)
			e.Track(group, models.RepeatingGroup{Template: tmpl})
			a := NewArena()
			require.NoError(t, e.Expand(a, group, n))

			keys := a.GroupKeys(group)
			assert.Len(t, keys, n*len(tmpl))
			seen := map[SlotKey]bool{}
			for _, k := range keys {
				assert.False(t, seen[k], "duplicate key %s", k)
				seen[k] = true
				assert.Equal(t, group, k.Field)
				assert.True(t, k.Instance >= 0 && k.Instance < n)
				assert.Contains(t, tmpl, k.Sub)
			}
		}
	}
}

func TestExpanderIdempotent(t *testing.T) {
	group := ksid.NewID()
	tmpl := []models.SubFieldType{models.SubFieldTemperature, models.SubFieldText}
	e := NewExpander(RecountDiscard)
	e.Track(group, models.RepeatingGroup{Template: tmpl})
	a := NewArena()
	require.NoError(t, e.Expand(a, group, 4))
	first := a.GroupKeys(group)
	require.NoError(t, e.Expand(a, group, 4))
	assert.Equal(t, first, a.GroupKeys(group))
}

func TestExpanderLeavesOtherSlots(t *testing.T) {
	g1, g2 := ksid.NewID(), ksid.NewID()
	tmpl := []models.SubFieldType{models.SubFieldNumber}
	e := NewExpander(RecountDiscard)
	e.Track(g1, models.RepeatingGroup{Template: tmpl})
	e.Track(g2, models.RepeatingGroup{Template: tmpl})
	a := NewArena()
	a.Put(&Slot{Key: FieldKey(g1)})
	require.NoError(t, e.Expand(a, g1, 2))
	require.NoError(t, e.Expand(a, g2, 3))
	require.NoError(t, e.Expand(a, g1, 1))
	assert.Len(t, a.GroupKeys(g1), 1)
	assert.Len(t, a.GroupKeys(g2), 3)
	_, ok := a.Get(FieldKey(g1))
	assert.True(t, ok)
	assert.Error(t, e.Expand(a, ksid.NewID(), 1))
}

func TestExpanderDuplicateTemplateTypes(t *testing.T) {
	group := ksid.NewID()
	e := NewExpander(RecountDiscard)
	e.Track(group, models.RepeatingGroup{Template: []models.SubFieldType{models.SubFieldText, models.SubFieldText}})
	a := NewArena()
	require.NoError(t, e.Expand(a, group, 2))
	assert.Len(t, a.GroupKeys(group), 2)
}

func TestExpanderLabels(t *testing.T) {
	group := ksid.NewID()
	e := NewExpander(RecountDiscard)
	e.Track(group, models.RepeatingGroup{Template: []models.SubFieldType{models.SubFieldText}})
	require.NoError(t, e.Expand(NewArena(), group, 2))
	assert.Equal(t, []Instance{{0, "Instance 1"}, {1, "Instance 2"}}, e.Instances(group))
}

func TestRepeatingGroupScenario(t *testing.T) {
	defs := sampleForm()
	countID, groupID := defs[0].ID, defs[1].ID

	t.Run("count drives instances", func(t *testing.T) {
		i, _ := loaded(t, defs)
		assert.Empty(t, i.Instances(groupID))
		require.NoError(t, i.Set(FieldKey(countID), 3))

		assert.Equal(t, []Instance{{0, "Sample 1"}, {1, "Sample 2"}, {2, "Sample 3"}}, i.Instances(groupID))
		for n := range 3 {
			k := SubKey(groupID, n, models.SubFieldTemperature)
			v, err := i.Check(k)
			require.NoError(t, err)
			assert.Equal(t, Verdict{Reason: ReasonRequired}, v, "empty temperature sub-slot must be required")
		}
		assert.Len(t, i.Keys(), 1+3)
	})

	t.Run("recount discards entered values", func(t *testing.T) {
		i, _ := loaded(t, defs)
		require.NoError(t, i.Set(FieldKey(countID), 3))
		require.NoError(t, i.Set(SubKey(groupID, 1, models.SubFieldTemperature), 95))
		require.NoError(t, i.Set(FieldKey(countID), 2))

		assert.Len(t, i.Instances(groupID), 2)
		for n := range 2 {
			v, ok := i.Value(SubKey(groupID, n, models.SubFieldTemperature))
			assert.True(t, ok)
			assert.Nil(t, v, "instance %d must be fresh", n)
		}
		_, ok := i.Value(SubKey(groupID, 2, models.SubFieldTemperature))
		assert.False(t, ok)

		// Shrinking then growing back does not resurrect the value.
		require.NoError(t, i.Set(FieldKey(countID), 3))
		v, _ := i.Value(SubKey(groupID, 1, models.SubFieldTemperature))
		assert.Nil(t, v)
	})

	t.Run("same count keeps values", func(t *testing.T) {
		i, _ := loaded(t, defs)
		require.NoError(t, i.Set(FieldKey(countID), 3))
		require.NoError(t, i.Set(SubKey(groupID, 0, models.SubFieldTemperature), 4.5))
		require.NoError(t, i.Set(FieldKey(countID), "3.0"))
		v, _ := i.Value(SubKey(groupID, 0, models.SubFieldTemperature))
		assert.Equal(t, 4.5, v)
	})

	t.Run("preserve policy", func(t *testing.T) {
		i, _ := loaded(t, defs, WithRecountPolicy(RecountPreserve))
		require.NoError(t, i.Set(FieldKey(countID), 3))
		require.NoError(t, i.Set(SubKey(groupID, 0, models.SubFieldTemperature), 95))
		require.NoError(t, i.Set(SubKey(groupID, 2, models.SubFieldTemperature), 96))
		require.NoError(t, i.Set(FieldKey(countID), 2))
		v, _ := i.Value(SubKey(groupID, 0, models.SubFieldTemperature))
		assert.Equal(t, 95, v)
		require.NoError(t, i.Set(FieldKey(countID), 3))
		v, _ = i.Value(SubKey(groupID, 2, models.SubFieldTemperature))
		assert.Nil(t, v, "dropped instance comes back empty")
	})
}

func TestParseRecountPolicy(t *testing.T) {
	for _, p := range []RecountPolicy{RecountDiscard, RecountPreserve} {
		got, err := ParseRecountPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseRecountPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RecountDiscard, got)
	_, err = ParseRecountPolicy("keep")
	assert.Error(t, err)
}
