package forms

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitions struct {
	mu  sync.Mutex
	got []State
}

func (r *transitions) hook(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, to)
}

func (r *transitions) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.got...)
}

func waitEntered(t *testing.T, s *fakeStore, op string) {
	t.Helper()
	select {
	case got := <-s.entered:
		require.Equal(t, op, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not reach the store", op)
	}
}

func TestInterpreterLoad(t *testing.T) {
	ctx := t.Context()
	s := newFakeStore(t)
	task := ksid.NewID()
	created, err := s.FileStore.BulkCreateFields(ctx, task, allTypesForm())
	require.NoError(t, err)

	var tr transitions
	i := NewInterpreter(s, s, ksid.NewID(), WithTransitionHook(tr.hook))
	assert.Equal(t, StateUnloaded, i.State())
	assert.ErrorIs(t, i.Set(FieldKey(created[0].ID), 1), ErrNotLoaded)

	require.NoError(t, i.Load(ctx, task))
	assert.Equal(t, []State{StateLoading, StateReady}, tr.states())
	assert.Len(t, i.Fields(), len(created))
	// One slot per simple field; the group has no direct slot and no instances
	// since it has no count field.
	assert.Len(t, i.Keys(), len(created)-1)
	_, ok := i.Value(FieldKey(created[6].ID))
	assert.False(t, ok)
}

func TestInterpreterLoadFailure(t *testing.T) {
	s := newFakeStore(t)
	s.failOn("list", errTransport)
	i := NewInterpreter(s, s, ksid.NewID())
	var su *models.StoreUnavailableError
	require.ErrorAs(t, i.Load(t.Context(), ksid.NewID()), &su)
	assert.Equal(t, StateUnloaded, i.State())
}

func TestInterpreterLoadFieldsRejects(t *testing.T) {
	i := NewInterpreter(nil, nil, ksid.NewID())
	assert.Error(t, i.LoadFields([]models.FieldDefinition{{FieldType: models.FieldTypeText}}), "missing id")
	id := ksid.NewID()
	assert.Error(t, i.LoadFields([]models.FieldDefinition{{ID: id, FieldType: models.FieldTypeText}, {ID: id, FieldType: models.FieldTypeText}}))
	assert.Error(t, i.LoadFields([]models.FieldDefinition{{ID: id, FieldType: "SLIDER"}}))
	assert.Equal(t, StateUnloaded, i.State())
}

func TestInterpreterOrder(t *testing.T) {
	defs := allTypesForm()
	defs[0].FieldOrder, defs[6].FieldOrder = 6, 0
	i, _ := loaded(t, defs)
	got := i.Fields()
	assert.Equal(t, defs[6].ID, got[0].ID)
	assert.Equal(t, defs[0].ID, got[6].ID)
}

func TestInterpreterSubmitOutOfRange(t *testing.T) {
	id := ksid.NewID()
	defs := []models.FieldDefinition{{
		ID:              id,
		FieldType:       models.FieldTypeNumber,
		FieldLabel:      "Weight",
		IsRequired:      true,
		ValidationRules: models.ValidationRules{Min: ptr(2.0), Max: ptr(8.0)},
	}}
	i, s := loaded(t, defs)
	require.NoError(t, i.Set(FieldKey(id), 10))

	v, err := i.Check(FieldKey(id))
	require.NoError(t, err)
	assert.True(t, v.OutOfRange(), "flagged for display")
	assert.True(t, v.Valid, "not blocked")
	assert.NoError(t, i.Validate())
	c := i.Controls()
	require.Len(t, c, 1)
	assert.Equal(t, ReasonOutOfRange, c[0].Verdict.Reason)
	assert.Equal(t, 8.0, *c[0].Max)

	stored, err := i.Submit(t.Context())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].NumberValue)
	assert.Equal(t, 10.0, *stored[0].NumberValue)
	assert.Equal(t, []string{"submit"}, s.Calls())
	assert.Equal(t, StateSubmitted, i.State())
}

func TestInterpreterSubmitValidationFailed(t *testing.T) {
	defs := sampleForm()
	countID, groupID := defs[0].ID, defs[1].ID
	i, s := loaded(t, defs)

	_, err := i.Submit(t.Context())
	var vf *models.ValidationFailedError
	require.ErrorAs(t, err, &vf)
	require.Len(t, vf.Failures, 1)
	assert.Equal(t, countID, vf.Failures[0].FieldID)
	assert.Equal(t, "required", vf.Failures[0].Reason)

	require.NoError(t, i.Set(FieldKey(countID), 2))
	require.NoError(t, i.Set(SubKey(groupID, 0, models.SubFieldTemperature), 3))
	_, err = i.Submit(t.Context())
	require.ErrorAs(t, err, &vf)
	require.Len(t, vf.Failures, 1)
	assert.Equal(t, models.SlotFailure{
		FieldID:  groupID,
		Label:    "Sample 2",
		Instance: 1,
		SubField: models.SubFieldTemperature,
		Reason:   "required",
	}, vf.Failures[0])
	assert.Empty(t, s.Calls(), "blocked before any store call")
	assert.Equal(t, StateReady, i.State())

	require.NoError(t, i.Set(SubKey(groupID, 1, models.SubFieldTemperature), "4.5"))
	stored, err := i.Submit(t.Context())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, []models.GroupInstance{
		{models.SubFieldTemperature: 3.0},
		{models.SubFieldTemperature: 4.5},
	}, stored[1].JSONValue)
}

func TestInterpreterSubmissionFailed(t *testing.T) {
	id := ksid.NewID()
	defs := []models.FieldDefinition{{ID: id, FieldType: models.FieldTypeText, FieldLabel: "Notes", IsRequired: true}}
	var tr transitions
	i, s := loaded(t, defs, WithTransitionHook(tr.hook))
	require.NoError(t, i.Set(FieldKey(id), "hello"))
	s.failOn("submit", errTransport)

	_, err := i.Submit(t.Context())
	var su *models.StoreUnavailableError
	require.ErrorAs(t, err, &su)
	assert.ErrorIs(t, err, errTransport)
	assert.Equal(t, []State{StateReady, StateSubmitting, StateSubmissionFailed, StateReady}, tr.states())
	assert.Equal(t, err, i.LastError())
	v, _ := i.Value(FieldKey(id))
	assert.Equal(t, "hello", v, "input preserved for retry")

	s.reset()
	_, err = i.Submit(t.Context())
	require.NoError(t, err)
	assert.NoError(t, i.LastError())
	assert.Equal(t, StateSubmitted, i.State())

	// Editing after submission returns to Ready.
	require.NoError(t, i.Set(FieldKey(id), "again"))
	assert.Equal(t, StateReady, i.State())
}

func TestInterpreterSubmitInProgress(t *testing.T) {
	id := ksid.NewID()
	defs := []models.FieldDefinition{{ID: id, FieldType: models.FieldTypeText, FieldLabel: "Notes"}}
	i, s := loaded(t, defs)
	release := s.hold("submit")
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := i.Submit(context.Background())
		done <- err
	}()
	waitEntered(t, s, "submit")
	assert.Equal(t, StateSubmitting, i.State())
	_, err := i.Submit(t.Context())
	assert.ErrorIs(t, err, models.ErrSubmitInProgress)
	assert.ErrorIs(t, i.Set(FieldKey(id), "x"), models.ErrSubmitInProgress)
	release()
	require.NoError(t, <-done)
	assert.Equal(t, StateSubmitted, i.State())
}

func TestInterpreterCloseDiscardsLateResult(t *testing.T) {
	id := ksid.NewID()
	defs := []models.FieldDefinition{{ID: id, FieldType: models.FieldTypeText, FieldLabel: "Notes"}}
	var tr transitions
	i, s := loaded(t, defs, WithTransitionHook(tr.hook))
	release := s.hold("submit")

	done := make(chan error, 1)
	go func() {
		_, err := i.Submit(context.Background())
		done <- err
	}()
	waitEntered(t, s, "submit")
	i.Close()
	release()
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, []State{StateReady, StateSubmitting}, tr.states(), "no transition after close")
	assert.ErrorIs(t, i.LoadFields(defs), ErrClosed)
}

func TestInterpreterShowIf(t *testing.T) {
	gate, detail := ksid.NewID(), ksid.NewID()
	defs := []models.FieldDefinition{
		{ID: gate, FieldType: models.FieldTypeYesNo, FieldLabel: "Issue found", FieldOrder: 0},
		{
			ID:         detail,
			FieldType:  models.FieldTypeText,
			FieldLabel: "Describe",
			FieldOrder: 1,
			IsRequired: true,
			ShowIf:     &models.ShowIf{FieldID: gate, Equals: true},
		},
	}
	i, _ := loaded(t, defs)
	require.NoError(t, i.Set(FieldKey(gate), "no"))
	assert.Len(t, i.Controls(), 1)
	stored, err := i.Submit(t.Context())
	require.NoError(t, err, "hidden required field is not validated")
	require.Len(t, stored, 1, "hidden field is not submitted")
	assert.Equal(t, gate, stored[0].TaskFieldID)

	require.NoError(t, i.Set(FieldKey(gate), "yes"))
	assert.Len(t, i.Controls(), 2)
	var vf *models.ValidationFailedError
	_, err = i.Submit(t.Context())
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, detail, vf.Failures[0].FieldID)
}

func TestInterpreterResume(t *testing.T) {
	ctx := t.Context()
	defs := sampleForm()
	countID, groupID := defs[0].ID, defs[1].ID
	i, s := loaded(t, defs)
	require.NoError(t, i.Set(FieldKey(countID), 2.0))
	require.NoError(t, i.Set(SubKey(groupID, 0, models.SubFieldTemperature), 1.5))
	require.NoError(t, i.Set(SubKey(groupID, 1, models.SubFieldTemperature), 2.5))
	_, err := i.Submit(ctx)
	require.NoError(t, err)

	j := NewInterpreter(s, s, i.ChecklistItemID())
	require.NoError(t, j.LoadFields(defs))
	require.NoError(t, j.Resume(ctx))
	assert.Equal(t, i.Values(), j.Values())
	assert.Len(t, j.Instances(groupID), 2)
}

func TestInterpreterResumeSkipsWrongSlot(t *testing.T) {
	ctx := t.Context()
	cleanID := ksid.NewID()
	defs := append(sampleForm(), models.FieldDefinition{ID: cleanID, FieldType: models.FieldTypeYesNo, FieldLabel: "Clean", FieldOrder: 2})
	countID, groupID := defs[0].ID, defs[1].ID
	i, s := loaded(t, defs)
	require.NoError(t, i.Set(FieldKey(countID), 1.0))
	require.NoError(t, i.Set(SubKey(groupID, 0, models.SubFieldTemperature), 3.5))
	_, err := i.Submit(ctx)
	require.NoError(t, err)
	// A row written before the field's type was enforced.
	_, err = s.SubmitResponses(ctx, i.ChecklistItemID(), []models.ResponseRecord{
		{TaskFieldID: cleanID, TextValue: ptr("yes")},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	j := NewInterpreter(s, s, i.ChecklistItemID(), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, j.LoadFields(defs))
	require.NoError(t, j.Resume(ctx))
	v, _ := j.Value(SubKey(groupID, 0, models.SubFieldTemperature))
	assert.Equal(t, 3.5, v)
	v, _ = j.Value(FieldKey(cleanID))
	assert.Nil(t, v)
	assert.Contains(t, buf.String(), "Skipped stored response")
}

func TestInterpreterSetValues(t *testing.T) {
	defs := sampleForm()
	countID, groupID := defs[0].ID, defs[1].ID
	i, _ := loaded(t, defs)
	require.NoError(t, i.SetValues(SlotValues{
		SubKey(groupID, 0, models.SubFieldTemperature): 7.0,
		FieldKey(countID): 1,
	}))
	v, _ := i.Value(SubKey(groupID, 0, models.SubFieldTemperature))
	assert.Equal(t, 7.0, v)

	var apiErr *models.APIError
	assert.ErrorAs(t, i.Set(SubKey(groupID, 5, models.SubFieldTemperature), 1), &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode())
}

func TestInterpreterControls(t *testing.T) {
	defs := sampleForm()
	countID, groupID := defs[0].ID, defs[1].ID
	i, _ := loaded(t, defs)
	require.NoError(t, i.Set(FieldKey(countID), 2))
	c := i.Controls()
	require.Len(t, c, 2)
	assert.Equal(t, models.FieldTypeNumber, c[0].Type)
	assert.True(t, c[0].Required)
	assert.Equal(t, countID, c[0].FieldID)
	assert.Equal(t, groupID, c[1].FieldID)
	require.Len(t, c[1].Instances, 2)
	assert.Equal(t, "Sample 2", c[1].Instances[1].Label)
	require.Len(t, c[1].Instances[1].Fields, 1)
	sub := c[1].Instances[1].Fields[0]
	assert.True(t, sub.Required)
	assert.Equal(t, ReasonRequired, sub.Verdict.Reason)
}
