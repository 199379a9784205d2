package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/storage"
	"github.com/maruel/ksid"
)

// entry is one field being edited. key is a handle stable across reorders;
// countKey is the key of the count field of a repeating group, 0 when unset.
type entry struct {
	key      int
	countKey int
	def      models.FieldDefinition
}

// Builder edits the ordered field definitions of one task and persists them
// with replace-all semantics.
type Builder struct {
	store  storage.FieldStore
	taskID ksid.ID
	log    *slog.Logger
	saving atomic.Bool

	mu      sync.Mutex
	entries []entry
	nextKey int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the logger. The default is slog.Default().
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.log = l }
}

// NewBuilder returns an empty builder for taskID.
func NewBuilder(store storage.FieldStore, taskID ksid.ID, opts ...BuilderOption) *Builder {
	b := &Builder{store: store, taskID: taskID, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// TaskID returns the task being edited.
func (b *Builder) TaskID() ksid.ID {
	return b.taskID
}

// Load replaces the in-memory list with the authoritative one from the store.
// On failure the in-memory list is left unchanged.
func (b *Builder) Load(ctx context.Context) error {
	defs, err := b.store.ListFields(ctx, b.taskID)
	if err != nil {
		return models.Unavailable("list fields", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(defs)
	return nil
}

// setLocked rebuilds entries from stored definitions, resolving group links by
// ID and renumbering field_order densely.
func (b *Builder) setLocked(defs []models.FieldDefinition) {
	defs = slices.Clone(defs)
	models.SortFields(defs)
	b.entries = make([]entry, len(defs))
	keys := make(map[ksid.ID]int, len(defs))
	for i := range defs {
		b.nextKey++
		b.entries[i] = entry{key: b.nextKey, def: *defs[i].Clone()}
		keys[defs[i].ID] = b.nextKey
	}
	for i := range b.entries {
		e := &b.entries[i]
		if id := e.def.ValidationRules.RepeatCountFieldID; e.def.FieldType == models.FieldTypeRepeatingGroup && !id.IsZero() {
			e.countKey = keys[id]
		}
	}
	b.renumberLocked()
}

func (b *Builder) renumberLocked() {
	for i := range b.entries {
		b.entries[i].def.FieldOrder = i
	}
}

func (b *Builder) indexOfKey(key int) int {
	return slices.IndexFunc(b.entries, func(e entry) bool { return e.key == key })
}

// resolvedLocked returns a copy of entry i with its count link written as the
// linked field's current ID.
func (b *Builder) resolvedLocked(i int) models.FieldDefinition {
	e := &b.entries[i]
	d := *e.def.Clone()
	if e.countKey != 0 {
		if j := b.indexOfKey(e.countKey); j >= 0 {
			d.ValidationRules.RepeatCountFieldID = b.entries[j].def.ID
		}
	}
	return d
}

// Len returns the number of fields.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Fields returns a copy of the current list in order.
func (b *Builder) Fields() []models.FieldDefinition {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.FieldDefinition, len(b.entries))
	for i := range b.entries {
		out[i] = b.resolvedLocked(i)
	}
	return out
}

// Field returns a copy of field i.
func (b *Builder) Field(i int) (models.FieldDefinition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkIndexLocked(i); err != nil {
		return models.FieldDefinition{}, err
	}
	return b.resolvedLocked(i), nil
}

func (b *Builder) checkIndexLocked(i int) error {
	if i < 0 || i >= len(b.entries) {
		return models.BadRequest(fmt.Sprintf("field index %d out of range [0, %d)", i, len(b.entries)))
	}
	return nil
}

// editableLocked checks index i and that no Save is outstanding. Save
// replaces the list when it completes, so an edit made meanwhile would be
// lost.
func (b *Builder) editableLocked(i int) error {
	if b.saving.Load() {
		return models.ErrSaveInProgress
	}
	return b.checkIndexLocked(i)
}

// AddField appends a new unsaved TEXT field marked required and returns its
// index.
func (b *Builder) AddField() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saving.Load() {
		return 0, models.ErrSaveInProgress
	}
	b.nextKey++
	b.entries = append(b.entries, entry{
		key: b.nextKey,
		def: models.FieldDefinition{
			TaskID:     b.taskID,
			FieldType:  models.FieldTypeText,
			FieldOrder: len(b.entries),
			IsRequired: true,
		},
	})
	return len(b.entries) - 1, nil
}

// Update edits field i in place. fn must not change the ID, the task or the
// order; those are restored afterward. Setting repeat_count_field_id to the ID
// of another field links the group to it.
func (b *Builder) Update(i int, fn func(def *models.FieldDefinition)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.editableLocked(i); err != nil {
		return err
	}
	e := &b.entries[i]
	before := b.resolvedLocked(i)
	fn(&e.def)
	e.def.ID, e.def.TaskID, e.def.FieldOrder = before.ID, before.TaskID, before.FieldOrder
	switch id := e.def.ValidationRules.RepeatCountFieldID; {
	case e.def.FieldType != models.FieldTypeRepeatingGroup:
		e.countKey = 0
	case id != before.ValidationRules.RepeatCountFieldID:
		e.countKey = 0
		if !id.IsZero() {
			if j := slices.IndexFunc(b.entries, func(o entry) bool { return o.def.ID == id }); j >= 0 {
				e.countKey = b.entries[j].key
			}
		}
	}
	return nil
}

// SetCountField links repeating group at index group to the count field at
// index count. A negative count removes the link. The link follows both
// entries across reorders and saves.
func (b *Builder) SetCountField(group, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.editableLocked(group); err != nil {
		return err
	}
	g := &b.entries[group]
	if g.def.FieldType != models.FieldTypeRepeatingGroup {
		return models.BadRequest(fmt.Sprintf("field %d is %s, not %s", group, g.def.FieldType, models.FieldTypeRepeatingGroup))
	}
	if count < 0 {
		g.countKey = 0
		g.def.ValidationRules.RepeatCountFieldID = 0
		return nil
	}
	if err := b.checkIndexLocked(count); err != nil {
		return err
	}
	g.countKey = b.entries[count].key
	g.def.ValidationRules.RepeatCountFieldID = b.entries[count].def.ID
	return nil
}

// RemoveField removes field i. A persisted field is deleted from the store
// first; if that fails the list is left unchanged. Deleting a field the store
// no longer has counts as success.
func (b *Builder) RemoveField(ctx context.Context, i int) error {
	b.mu.Lock()
	if err := b.editableLocked(i); err != nil {
		b.mu.Unlock()
		return err
	}
	key, id := b.entries[i].key, b.entries[i].def.ID
	b.mu.Unlock()

	if !id.IsZero() {
		if err := b.store.DeleteField(ctx, id); err != nil && !isNotFound(err) {
			return models.Unavailable("delete field", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saving.Load() {
		// The save snapshotted the entry and recreates it.
		return models.ErrSaveInProgress
	}
	j := b.indexOfKey(key)
	if j < 0 {
		return nil
	}
	b.entries = slices.Delete(b.entries, j, j+1)
	for k := range b.entries {
		if e := &b.entries[k]; e.countKey == key {
			e.countKey = 0
			e.def.ValidationRules.RepeatCountFieldID = 0
		}
	}
	b.renumberLocked()
	return nil
}

// Reorder moves the field at from to index to and renumbers field_order.
func (b *Builder) Reorder(from, to int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.editableLocked(from); err != nil {
		return err
	}
	if err := b.checkIndexLocked(to); err != nil {
		return err
	}
	e := b.entries[from]
	b.entries = slices.Delete(b.entries, from, from+1)
	b.entries = slices.Insert(b.entries, to, e)
	b.renumberLocked()
	return nil
}

// Validate runs the save-time checks without any I/O.
func (b *Builder) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defs, links := b.snapshotLocked()
	return validateSchema(defs, links)
}

// snapshotLocked returns the definitions and, per entry, the index of its
// count field.
func (b *Builder) snapshotLocked() ([]models.FieldDefinition, []int) {
	defs := make([]models.FieldDefinition, len(b.entries))
	links := make([]int, len(b.entries))
	for i := range b.entries {
		defs[i] = b.resolvedLocked(i)
		links[i] = noCountField
		if defs[i].FieldType != models.FieldTypeRepeatingGroup {
			continue
		}
		if k := b.entries[i].countKey; k != 0 {
			links[i] = b.indexOfKey(k)
		} else if !defs[i].ValidationRules.RepeatCountFieldID.IsZero() {
			links[i] = missingCountField
		}
	}
	return defs, links
}

// Save persists the list with replace-all semantics: every stored definition
// of the task is deleted, then the list is bulk-created in order, then group
// links are re-pointed at the newly assigned IDs.
//
// Static validation runs first and fails with *models.SchemaInvalidError
// before any store call. A failure while listing or deleting returns
// *models.StoreUnavailableError and skips the create phase. A failure after
// the delete phase returns *models.PartialSaveError and reloads the list from
// the store. A Save started while another is outstanding fails with
// models.ErrSaveInProgress, as does any edit made before Save returns.
func (b *Builder) Save(ctx context.Context) error {
	if !b.saving.CompareAndSwap(false, true) {
		return models.ErrSaveInProgress
	}
	defer b.saving.Store(false)

	b.mu.Lock()
	defs, links := b.snapshotLocked()
	keys := make([]int, len(b.entries))
	for i := range b.entries {
		keys[i] = b.entries[i].key
	}
	b.mu.Unlock()
	if err := validateSchema(defs, links); err != nil {
		return err
	}

	existing, err := b.store.ListFields(ctx, b.taskID)
	if err != nil {
		return models.Unavailable("list fields", err)
	}
	for i := range existing {
		if err := b.store.DeleteField(ctx, existing[i].ID); err != nil && !isNotFound(err) {
			return models.Unavailable("delete field", err)
		}
	}

	for i := range defs {
		defs[i].ID = 0
		defs[i].TaskID = b.taskID
		defs[i].FieldOrder = i
		if links[i] >= 0 {
			defs[i].ValidationRules.RepeatCountFieldID = 0
		}
	}
	var created []models.FieldDefinition
	if len(defs) != 0 {
		created, err = b.store.BulkCreateFields(ctx, b.taskID, defs)
		if err == nil && len(created) != len(defs) {
			err = fmt.Errorf("store created %d of %d fields", len(created), len(defs))
		}
		if err != nil {
			return b.partial(ctx, len(existing), len(created), models.Unavailable("bulk create fields", err))
		}
	}

	for i, j := range links {
		if j < 0 {
			continue
		}
		rules := created[i].ValidationRules.Clone()
		rules.RepeatCountFieldID = created[j].ID
		f, err := b.store.UpdateField(ctx, created[i].ID, &models.FieldPatch{ValidationRules: &rules})
		if err != nil {
			return b.partial(ctx, len(existing), len(created), models.Unavailable("link repeating group", err))
		}
		created[i] = *f
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make([]entry, len(created))
	for i := range created {
		b.entries[i] = entry{key: keys[i], def: created[i]}
		if j := links[i]; j >= 0 {
			b.entries[i].countKey = keys[j]
		}
	}
	b.renumberLocked()
	b.log.InfoContext(ctx, "Saved schema", "task", b.taskID, "deleted", len(existing), "created", len(created))
	return nil
}

// partial reports a failed create phase and reconciles with the store.
func (b *Builder) partial(ctx context.Context, deleted, created int, err error) error {
	perr := &models.PartialSaveError{Deleted: deleted, Created: created, Err: err}
	b.log.ErrorContext(ctx, "Partial schema save", "task", b.taskID, "err", perr)
	if lerr := b.Load(ctx); lerr != nil {
		b.log.WarnContext(ctx, "Failed to reload schema after partial save", "task", b.taskID, "err", lerr)
	}
	return perr
}

func isNotFound(err error) bool {
	var s models.ErrorWithStatus
	return errors.As(err, &s) && s.StatusCode() == http.StatusNotFound
}
