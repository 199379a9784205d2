package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/storage"
	"github.com/maruel/ksid"
)

// State is the lifecycle state of an Interpreter.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateSubmitting
	StateSubmitted
	StateSubmissionFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	case StateSubmissionFailed:
		return "submission_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrClosed is returned by calls on a closed Interpreter and for store
	// results that arrive after Close.
	ErrClosed = errors.New("interpreter closed")
	// ErrNotLoaded is returned when the form has no definitions yet.
	ErrNotLoaded = models.NewAPIError(http.StatusConflict, models.ErrorCodeConflict, "form not loaded")
	// ErrBusy is returned when a load or submission is outstanding.
	ErrBusy = models.NewAPIError(http.StatusConflict, models.ErrorCodeConflict, "form busy")
)

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithRecountPolicy selects what happens to group values when a count changes.
// The default is RecountDiscard.
func WithRecountPolicy(p RecountPolicy) Option {
	return func(i *Interpreter) { i.policy = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.log = l }
}

// WithTransitionHook registers fn to be called on every state change, with the
// interpreter lock held. fn must not call back into the Interpreter.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(i *Interpreter) { i.hook = fn }
}

// Interpreter holds the live input state of one task performance: one slot per
// simple field and, through its Expander, one slot per sub-field of every
// repeating group instance.
//
// All methods are safe for concurrent use. Store calls are made without the
// lock held; a result arriving after Close or after a reload is discarded.
type Interpreter struct {
	fields    storage.FieldStore
	responses storage.ResponseStore
	itemID    ksid.ID
	policy    RecountPolicy
	log       *slog.Logger
	hook      func(from, to State)

	mu      sync.Mutex
	state   State
	gen     uint64
	closed  bool
	defs    []models.FieldDefinition
	byID    map[ksid.ID]*models.FieldDefinition
	arena   *Arena
	exp     *Expander
	lastErr error
}

// NewInterpreter returns an unloaded interpreter answering checklistItemID.
// Either store may be nil when the matching operations are not used.
func NewInterpreter(fields storage.FieldStore, responses storage.ResponseStore, checklistItemID ksid.ID, opts ...Option) *Interpreter {
	i := &Interpreter{
		fields:    fields,
		responses: responses,
		itemID:    checklistItemID,
		log:       slog.Default(),
		arena:     NewArena(),
	}
	for _, o := range opts {
		o(i)
	}
	i.exp = NewExpander(i.policy)
	return i
}

// ChecklistItemID returns the task performance being answered.
func (i *Interpreter) ChecklistItemID() ksid.ID {
	return i.itemID
}

// State returns the current state.
func (i *Interpreter) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// LastError returns the error of the last failed submission, nil after a
// successful one.
func (i *Interpreter) LastError() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

func (i *Interpreter) setStateLocked(s State) {
	if i.state == s {
		return
	}
	from := i.state
	i.state = s
	if i.hook != nil {
		i.hook(from, s)
	}
}

// Load fetches the task's definitions and builds the slots. On failure the
// interpreter returns to its previous state.
func (i *Interpreter) Load(ctx context.Context, taskID ksid.ID) error {
	i.mu.Lock()
	if err := i.idleLocked(); err != nil {
		i.mu.Unlock()
		return err
	}
	prev := i.state
	i.gen++
	gen := i.gen
	i.setStateLocked(StateLoading)
	i.mu.Unlock()

	defs, err := i.fields.ListFields(ctx, taskID)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed || i.gen != gen {
		return ErrClosed
	}
	if err == nil {
		err = i.buildLocked(defs)
	} else {
		err = models.Unavailable("list fields", err)
	}
	if err != nil {
		i.setStateLocked(prev)
		return err
	}
	i.setStateLocked(StateReady)
	i.log.DebugContext(ctx, "Loaded form", "task", taskID, "item", i.itemID, "fields", len(defs), "slots", i.arena.Len())
	return nil
}

// LoadFields builds the slots from already fetched definitions.
func (i *Interpreter) LoadFields(defs []models.FieldDefinition) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.idleLocked(); err != nil {
		return err
	}
	i.gen++
	if err := i.buildLocked(defs); err != nil {
		return err
	}
	i.setStateLocked(StateReady)
	return nil
}

// idleLocked fails when the interpreter is closed or has a store call
// outstanding.
func (i *Interpreter) idleLocked() error {
	switch {
	case i.closed:
		return ErrClosed
	case i.state == StateSubmitting:
		return models.ErrSubmitInProgress
	case i.state == StateLoading:
		return ErrBusy
	}
	return nil
}

// buildLocked replaces the definitions and every slot. Existing state is kept
// when defs are rejected.
func (i *Interpreter) buildLocked(defs []models.FieldDefinition) error {
	sorted := make([]models.FieldDefinition, len(defs))
	for k := range defs {
		sorted[k] = *defs[k].Clone()
	}
	models.SortFields(sorted)
	byID := make(map[ksid.ID]*models.FieldDefinition, len(sorted))
	arena := NewArena()
	exp := NewExpander(i.policy)
	for k := range sorted {
		d := &sorted[k]
		if d.ID.IsZero() {
			return models.BadRequest(fmt.Sprintf("field %q has no id", d.FieldLabel))
		}
		if _, dup := byID[d.ID]; dup {
			return models.BadRequest(fmt.Sprintf("field %s listed twice", d.ID))
		}
		byID[d.ID] = d
		v, err := d.Variant()
		if err != nil {
			return models.BadRequest(err.Error())
		}
		if g, ok := v.(models.RepeatingGroup); ok {
			exp.Track(d.ID, g)
			continue
		}
		arena.Put(fieldSlot(d))
	}
	for _, g := range exp.Groups() {
		var count any
		if s, ok := arena.Get(FieldKey(exp.CountField(g))); ok {
			count = s.Value
		}
		if err := exp.Expand(arena, g, count); err != nil {
			return err
		}
	}
	i.defs, i.byID, i.arena, i.exp = sorted, byID, arena, exp
	i.lastErr = nil
	return nil
}

// readyLocked fails unless slots exist and no store call is outstanding.
func (i *Interpreter) readyLocked() error {
	if err := i.idleLocked(); err != nil {
		return err
	}
	if i.state == StateUnloaded {
		return ErrNotLoaded
	}
	return nil
}

// Fields returns the loaded definitions in field_order.
func (i *Interpreter) Fields() []models.FieldDefinition {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]models.FieldDefinition, len(i.defs))
	for k := range i.defs {
		out[k] = *i.defs[k].Clone()
	}
	return out
}

// Set stores value in the slot at k. Setting a count field recomputes every
// group it drives whose instance count changes.
func (i *Interpreter) Set(k SlotKey, value any) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.readyLocked(); err != nil {
		return err
	}
	return i.setLocked(k, value)
}

// SetValues stores several values. Simple fields are applied first so that
// group instances exist before their sub-slots are written.
func (i *Interpreter) SetValues(values SlotValues) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.readyLocked(); err != nil {
		return err
	}
	for _, subs := range []bool{false, true} {
		for k, v := range values {
			if k.IsSub() != subs {
				continue
			}
			if err := i.setLocked(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (i *Interpreter) setLocked(k SlotKey, value any) error {
	s, ok := i.arena.Get(k)
	if !ok {
		return models.NotFound("slot " + k.String())
	}
	s.Value = value
	if !k.IsSub() {
		for _, g := range i.exp.Dependents(k.Field) {
			if InstanceCount(value) == i.exp.Count(g) {
				continue
			}
			if err := i.exp.Expand(i.arena, g, value); err != nil {
				return err
			}
		}
	}
	if i.state == StateSubmitted {
		i.setStateLocked(StateReady)
	}
	return nil
}

// Value returns the value of the slot at k.
func (i *Interpreter) Value(k SlotKey) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.arena.Get(k)
	if !ok {
		return nil, false
	}
	return s.Value, true
}

// Values returns a snapshot of every slot value.
func (i *Interpreter) Values() SlotValues {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.arena.Values()
}

// Keys returns every slot key in a deterministic order.
func (i *Interpreter) Keys() []SlotKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.arena.Keys()
}

// Check evaluates the slot at k.
func (i *Interpreter) Check(k SlotKey) (Verdict, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.arena.Get(k)
	if !ok {
		return Verdict{}, models.NotFound("slot " + k.String())
	}
	return s.Verdict(), nil
}

// Instances returns the current instances of a repeating group.
func (i *Interpreter) Instances(group ksid.ID) []Instance {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exp.Instances(group)
}

// Validate returns a *models.ValidationFailedError listing every blocking
// failure of the visible fields in order, or nil.
func (i *Interpreter) Validate() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.validateLocked()
}

func (i *Interpreter) validateLocked() error {
	values := i.arena.Values()
	var failures []models.SlotFailure
	for k := range i.defs {
		d := &i.defs[k]
		if !Visible(d, values) {
			continue
		}
		if d.FieldType != models.FieldTypeRepeatingGroup {
			if s, ok := i.arena.Get(FieldKey(d.ID)); ok {
				if v := s.Verdict(); !v.Valid {
					failures = append(failures, models.SlotFailure{FieldID: d.ID, Label: d.FieldLabel, Reason: string(v.Reason)})
				}
			}
			continue
		}
		for _, inst := range i.exp.Instances(d.ID) {
			for _, t := range i.exp.Template(d.ID) {
				s, ok := i.arena.Get(SubKey(d.ID, inst.Index, t))
				if !ok {
					continue
				}
				if v := s.Verdict(); !v.Valid {
					failures = append(failures, models.SlotFailure{
						FieldID:  d.ID,
						Label:    inst.Label,
						Instance: inst.Index,
						SubField: t,
						Reason:   string(v.Reason),
					})
				}
			}
		}
	}
	if len(failures) != 0 {
		return &models.ValidationFailedError{Failures: failures}
	}
	return nil
}

// Submit validates the visible fields, maps them to response records and
// stores them. Blocking failures return *models.ValidationFailedError before
// any store call. A store failure moves the interpreter through
// StateSubmissionFailed back to StateReady with every value kept, and returns
// *models.StoreUnavailableError. A Submit started while another is outstanding
// fails with models.ErrSubmitInProgress.
func (i *Interpreter) Submit(ctx context.Context) ([]models.ResponseRecord, error) {
	i.mu.Lock()
	if err := i.readyLocked(); err != nil {
		i.mu.Unlock()
		return nil, err
	}
	if err := i.validateLocked(); err != nil {
		i.mu.Unlock()
		return nil, err
	}
	values := i.arena.Values()
	records, err := MapResponses(i.itemID, visibleFields(i.defs, values), values)
	if err != nil {
		i.mu.Unlock()
		return nil, err
	}
	i.gen++
	gen := i.gen
	i.setStateLocked(StateSubmitting)
	i.mu.Unlock()

	stored, err := i.responses.SubmitResponses(ctx, i.itemID, records)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed || i.gen != gen {
		i.log.DebugContext(ctx, "Discarded late submission result", "item", i.itemID)
		return nil, ErrClosed
	}
	if err != nil {
		i.lastErr = models.Unavailable("submit responses", err)
		i.setStateLocked(StateSubmissionFailed)
		i.setStateLocked(StateReady)
		i.log.WarnContext(ctx, "Submission failed", "item", i.itemID, "err", err)
		return nil, i.lastErr
	}
	i.lastErr = nil
	i.setStateLocked(StateSubmitted)
	i.log.InfoContext(ctx, "Submitted responses", "item", i.itemID, "records", len(stored))
	return stored, nil
}

// Resume loads the responses already stored for the checklist item into the
// slots. Count fields are applied before group sub-slots.
func (i *Interpreter) Resume(ctx context.Context) error {
	i.mu.Lock()
	if err := i.readyLocked(); err != nil {
		i.mu.Unlock()
		return err
	}
	gen := i.gen
	i.mu.Unlock()

	records, err := i.responses.ListResponses(ctx, models.ResponseFilter{ChecklistItemID: i.itemID})
	if err != nil {
		return models.Unavailable("list responses", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed || i.gen != gen {
		return ErrClosed
	}
	values, skipped := DecodeResponses(i.defs, records)
	for _, f := range skipped {
		i.log.WarnContext(ctx, "Skipped stored response", "item", i.itemID, "field", f.FieldID, "err", f.Reason)
	}
	for _, subs := range []bool{false, true} {
		for k, v := range values {
			if k.IsSub() != subs {
				continue
			}
			if _, ok := i.arena.Get(k); !ok {
				continue
			}
			if err := i.setLocked(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close tears the interpreter down. Results of outstanding store calls are
// discarded when they arrive.
func (i *Interpreter) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	i.gen++
}
