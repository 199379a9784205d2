package storage

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

func ptr[T any](v T) *T { return &v }

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sq, err := NewSQLiteStore(t.Context(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	reg, err := NewRegistry(t.TempDir(), BackendJSONL, 8)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cached, err := reg.Get(t.Context(), "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	t.Cleanup(func() {
		_ = sq.Close()
		_ = reg.Close()
	})
	return map[string]Store{"jsonl": fs, "sqlite": sq, "cached": cached}
}

func sampleFields() []models.FieldDefinition {
	return []models.FieldDefinition{
		{FieldType: models.FieldTypeText, FieldLabel: "Notes", FieldOrder: 2},
		{FieldType: models.FieldTypeNumber, FieldLabel: "Count", FieldOrder: 0, ValidationRules: models.ValidationRules{Min: ptr(0.0), Max: ptr(5.0)}},
		{FieldType: models.FieldTypeDropdown, FieldLabel: "Grade", FieldOrder: 1, Options: []string{"A", "B"}, IsRequired: true},
	}
}

func TestStoreFields(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := ksid.NewID()
			created, err := s.BulkCreateFields(ctx, task, sampleFields())
			if err != nil {
				t.Fatalf("BulkCreateFields: %v", err)
			}
			if len(created) != 3 {
				t.Fatalf("got %d fields, want 3", len(created))
			}
			for _, f := range created {
				if f.ID.IsZero() || f.TaskID != task || f.Created.IsZero() {
					t.Errorf("field not initialized: %+v", f)
				}
			}

			got, err := s.ListFields(ctx, task)
			if err != nil {
				t.Fatalf("ListFields: %v", err)
			}
			var labels []string
			for _, f := range got {
				labels = append(labels, f.FieldLabel)
			}
			if want := []string{"Count", "Grade", "Notes"}; !slices.Equal(labels, want) {
				t.Errorf("labels = %v, want %v", labels, want)
			}
			if got[0].ValidationRules.Max == nil || *got[0].ValidationRules.Max != 5 {
				t.Errorf("rules not persisted: %+v", got[0].ValidationRules)
			}
			if !slices.Equal(got[1].Options, []string{"A", "B"}) || !got[1].IsRequired {
				t.Errorf("dropdown not persisted: %+v", got[1])
			}

			other, err := s.ListFields(ctx, ksid.NewID())
			if err != nil || len(other) != 0 {
				t.Errorf("other task = %v, %v", other, err)
			}

			updated, err := s.UpdateField(ctx, got[2].ID, &models.FieldPatch{FieldLabel: ptr("Remarks"), FieldOrder: ptr(-1)})
			if err != nil {
				t.Fatalf("UpdateField: %v", err)
			}
			if updated.FieldLabel != "Remarks" || updated.ID != got[2].ID {
				t.Errorf("UpdateField = %+v", updated)
			}
			got, err = s.ListFields(ctx, task)
			if err != nil {
				t.Fatalf("ListFields: %v", err)
			}
			if got[0].FieldLabel != "Remarks" {
				t.Errorf("update not visible: first = %q", got[0].FieldLabel)
			}

			if err := s.DeleteField(ctx, got[0].ID); err != nil {
				t.Fatalf("DeleteField: %v", err)
			}
			got, err = s.ListFields(ctx, task)
			if err != nil || len(got) != 2 {
				t.Errorf("after delete = %d fields, %v", len(got), err)
			}
		})
	}
}

func TestStoreFieldErrors(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var apiErr *models.APIError
			var zero ksid.ID
			if _, err := s.ListFields(ctx, zero); !errors.As(err, &apiErr) || apiErr.StatusCode() != 400 {
				t.Errorf("ListFields(zero) = %v", err)
			}
			if _, err := s.CreateField(ctx, &models.FieldDefinition{TaskID: ksid.NewID(), FieldType: "SLIDER", FieldLabel: "x"}); err == nil {
				t.Error("CreateField accepted an unknown type")
			}
			if err := s.DeleteField(ctx, ksid.NewID()); !errors.As(err, &apiErr) || apiErr.StatusCode() != 404 {
				t.Errorf("DeleteField(missing) = %v", err)
			}
			if _, err := s.UpdateField(ctx, ksid.NewID(), &models.FieldPatch{FieldLabel: ptr("x")}); !errors.As(err, &apiErr) || apiErr.StatusCode() != 404 {
				t.Errorf("UpdateField(missing) = %v", err)
			}
		})
	}
}

func TestStoreResponses(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item := ksid.NewID()
			temp, notes, group := ksid.NewID(), ksid.NewID(), ksid.NewID()
			first := []models.ResponseRecord{
				{TaskFieldID: temp, NumberValue: ptr(3.5)},
				{TaskFieldID: notes, TextValue: ptr("ok")},
				{TaskFieldID: group, JSONValue: []models.GroupInstance{{models.SubFieldTemperature: 4.0, models.SubFieldText: nil}}},
			}
			stored, err := s.SubmitResponses(ctx, item, first)
			if err != nil {
				t.Fatalf("SubmitResponses: %v", err)
			}
			if len(stored) != 3 || stored[0].ChecklistItemID != item || stored[0].ID.IsZero() {
				t.Fatalf("stored = %+v", stored)
			}

			// Resubmitting replaces the earlier record for the same field.
			if _, err := s.SubmitResponses(ctx, item, []models.ResponseRecord{{TaskFieldID: temp, NumberValue: ptr(4.0)}}); err != nil {
				t.Fatalf("SubmitResponses: %v", err)
			}
			got, err := s.ListResponses(ctx, models.ResponseFilter{ChecklistItemID: item})
			if err != nil {
				t.Fatalf("ListResponses: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("got %d records, want 3", len(got))
			}
			byField := map[ksid.ID]models.ResponseRecord{}
			for _, r := range got {
				byField[r.TaskFieldID] = r
			}
			if v := byField[temp].NumberValue; v == nil || *v != 4 {
				t.Errorf("temperature = %v, want 4", v)
			}
			if v := byField[notes].TextValue; v == nil || *v != "ok" {
				t.Errorf("notes = %v", v)
			}
			g := byField[group].JSONValue
			if len(g) != 1 || g[0][models.SubFieldTemperature] != 4.0 {
				t.Errorf("group = %v", g)
			}
			if v, ok := g[0][models.SubFieldText]; !ok || v != nil {
				t.Errorf("group text = %v, %v; want explicit nil", v, ok)
			}

			one, err := s.ListResponses(ctx, models.ResponseFilter{TaskFieldID: notes})
			if err != nil || len(one) != 1 {
				t.Errorf("filter by field = %d records, %v", len(one), err)
			}
			none, err := s.ListResponses(ctx, models.ResponseFilter{ChecklistItemID: ksid.NewID()})
			if err != nil || len(none) != 0 {
				t.Errorf("filter by other item = %d records, %v", len(none), err)
			}
		})
	}
}

func TestStoreResponseErrors(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item, field := ksid.NewID(), ksid.NewID()
			tests := []struct {
				name    string
				records []models.ResponseRecord
			}{
				{"two slots", []models.ResponseRecord{{TaskFieldID: field, NumberValue: ptr(1.0), TextValue: ptr("x")}}},
				{"duplicate", []models.ResponseRecord{{TaskFieldID: field}, {TaskFieldID: field}}},
				{"missing field", []models.ResponseRecord{{TextValue: ptr("x")}}},
				{"other item", []models.ResponseRecord{{ChecklistItemID: ksid.NewID(), TaskFieldID: field}}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if _, err := s.SubmitResponses(ctx, item, tt.records); err == nil {
						t.Error("expected error")
					}
				})
			}
			got, err := s.ListResponses(ctx, models.ResponseFilter{ChecklistItemID: item})
			if err != nil || len(got) != 0 {
				t.Errorf("rejected submissions left %d records, %v", len(got), err)
			}
		})
	}
}

func TestStoreResponseSlotType(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task, item := ksid.NewID(), ksid.NewID()
			defs := append(sampleFields(), models.FieldDefinition{FieldType: models.FieldTypeRepeatingGroup, FieldLabel: "Readings", FieldOrder: 3})
			created, err := s.BulkCreateFields(ctx, task, defs)
			if err != nil {
				t.Fatal(err)
			}
			byLabel := map[string]ksid.ID{}
			for _, f := range created {
				byLabel[f.FieldLabel] = f.ID
			}

			_, err = s.SubmitResponses(ctx, item, []models.ResponseRecord{
				{TaskFieldID: byLabel["Notes"], TextValue: ptr("fine")},
				{TaskFieldID: byLabel["Count"], TextValue: ptr("seven")},
			})
			var vf *models.ValidationFailedError
			if !errors.As(err, &vf) {
				t.Fatalf("text answer to a NUMBER field: got %v, want ValidationFailedError", err)
			}
			if len(vf.Failures) != 1 || vf.Failures[0].FieldID != byLabel["Count"] {
				t.Errorf("failures = %+v", vf.Failures)
			}
			if got, err := s.ListResponses(ctx, models.ResponseFilter{ChecklistItemID: item}); err != nil || len(got) != 0 {
				t.Errorf("rejected submission left %d records, %v", len(got), err)
			}

			if _, err := s.SubmitResponses(ctx, item, []models.ResponseRecord{
				{TaskFieldID: byLabel["Count"], NumberValue: ptr(3.0)},
				{TaskFieldID: byLabel["Readings"], JSONValue: []models.GroupInstance{}},
			}); err != nil {
				t.Fatal(err)
			}
			got, err := s.ListResponses(ctx, models.ResponseFilter{ChecklistItemID: item, TaskFieldID: byLabel["Readings"]})
			if err != nil || len(got) != 1 {
				t.Fatalf("group records = %d, %v", len(got), err)
			}
			if got[0].JSONValue != nil {
				t.Errorf("empty group read back as %#v, want nil", got[0].JSONValue)
			}
			got, err = s.ListResponses(ctx, models.ResponseFilter{ChecklistItemID: item, TaskFieldID: byLabel["Count"]})
			if err != nil || len(got) != 1 {
				t.Fatalf("count records = %d, %v", len(got), err)
			}
			if got[0].JSONValue != nil {
				t.Errorf("NUMBER record grew a json_value: %#v", got[0].JSONValue)
			}
		})
	}
}

func TestFileStoreReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	task := ksid.NewID()
	if _, err := s.BulkCreateFields(t.Context(), task, sampleFields()); err != nil {
		t.Fatal(err)
	}
	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s2.ListFields(t.Context(), task)
	if err != nil || len(got) != 3 {
		t.Errorf("reloaded %d fields, %v", len(got), err)
	}
}

func TestCachedFieldStore(t *testing.T) {
	inner, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCachedFieldStore(inner, 4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	task := ksid.NewID()
	if _, err := c.BulkCreateFields(ctx, task, sampleFields()); err != nil {
		t.Fatal(err)
	}
	got, err := c.ListFields(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	// Mutating a returned list must not leak into the cache.
	got[0].FieldLabel = "mutated"
	again, err := c.ListFields(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	if again[0].FieldLabel != "Count" {
		t.Errorf("cache leaked caller mutation: %q", again[0].FieldLabel)
	}
	// Deleting through the cache invalidates the task list.
	if err := c.DeleteField(ctx, again[0].ID); err != nil {
		t.Fatal(err)
	}
	again, err = c.ListFields(ctx, task)
	if err != nil || len(again) != 2 {
		t.Errorf("after delete = %d fields, %v", len(again), err)
	}
}

// slowListStore runs during once after reading the list, so a write can land
// between the read and the caller seeing its result.
type slowListStore struct {
	FieldStore
	during func()
}

func (s *slowListStore) ListFields(ctx context.Context, taskID ksid.ID) ([]models.FieldDefinition, error) {
	l, err := s.FieldStore.ListFields(ctx, taskID)
	if f := s.during; f != nil {
		s.during = nil
		f()
	}
	return l, err
}

func TestCachedFieldStoreWriteDuringMiss(t *testing.T) {
	inner, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	slow := &slowListStore{FieldStore: inner}
	c, err := NewCachedFieldStore(slow, 4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	task := ksid.NewID()
	slow.during = func() {
		if _, err := c.CreateField(ctx, &models.FieldDefinition{TaskID: task, FieldType: models.FieldTypeText, FieldLabel: "Late"}); err != nil {
			t.Error(err)
		}
	}
	stale, err := c.ListFields(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("first read = %d fields, want the pre-write snapshot", len(stale))
	}
	got, err := c.ListFields(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FieldLabel != "Late" {
		t.Errorf("after a write during the miss = %+v, want the new field", got)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), BackendSQLite, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Close() }()
	a, err := reg.Get(t.Context(), "a")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := reg.Get(t.Context(), "a")
	if err != nil || a != a2 {
		t.Errorf("Get returned a different store: %v", err)
	}
	b, err := reg.Get(t.Context(), "b")
	if err != nil {
		t.Fatal(err)
	}
	task := ksid.NewID()
	if _, err := a.BulkCreateFields(t.Context(), task, sampleFields()); err != nil {
		t.Fatal(err)
	}
	if got, err := b.ListFields(t.Context(), task); err != nil || len(got) != 0 {
		t.Errorf("org b sees %d fields of org a, %v", len(got), err)
	}
	for _, bad := range []string{"", "../etc", "a/b", "x y"} {
		if _, err := reg.Get(t.Context(), bad); err == nil {
			t.Errorf("Get(%q) succeeded", bad)
		}
	}
	if _, err := NewRegistry(t.TempDir(), "mongo", 0); err == nil {
		t.Error("NewRegistry accepted an unknown backend")
	}
}
