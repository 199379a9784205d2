package forms

import (
	"context"
	"sync"
	"testing"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/storage"
	"github.com/maruel/ksid"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// fakeStore records calls to a real FileStore and can fail or hold any of
// them.
type fakeStore struct {
	*storage.FileStore

	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	gates   map[string]chan struct{}
	entered chan string
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &fakeStore{
		FileStore: fs,
		fail:      map[string]error{},
		gates:     map[string]chan struct{}{},
		entered:   make(chan string, 16),
	}
}

func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// hold makes op block until the returned func is called.
func (f *fakeStore) hold(op string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[op] = ch
	return sync.OnceFunc(func() { close(ch) })
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	clear(f.fail)
}

func (f *fakeStore) enter(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	err := f.fail[op]
	gate := f.gates[op]
	f.mu.Unlock()
	if gate != nil {
		f.entered <- op
		<-gate
	}
	return err
}

func (f *fakeStore) ListFields(ctx context.Context, taskID ksid.ID) ([]models.FieldDefinition, error) {
	if err := f.enter("list"); err != nil {
		return nil, err
	}
	return f.FileStore.ListFields(ctx, taskID)
}

func (f *fakeStore) CreateField(ctx context.Context, def *models.FieldDefinition) (*models.FieldDefinition, error) {
	if err := f.enter("create"); err != nil {
		return nil, err
	}
	return f.FileStore.CreateField(ctx, def)
}

func (f *fakeStore) BulkCreateFields(ctx context.Context, taskID ksid.ID, defs []models.FieldDefinition) ([]models.FieldDefinition, error) {
	if err := f.enter("bulk"); err != nil {
		return nil, err
	}
	return f.FileStore.BulkCreateFields(ctx, taskID, defs)
}

func (f *fakeStore) UpdateField(ctx context.Context, id ksid.ID, patch *models.FieldPatch) (*models.FieldDefinition, error) {
	if err := f.enter("update"); err != nil {
		return nil, err
	}
	return f.FileStore.UpdateField(ctx, id, patch)
}

func (f *fakeStore) DeleteField(ctx context.Context, id ksid.ID) error {
	if err := f.enter("delete"); err != nil {
		return err
	}
	return f.FileStore.DeleteField(ctx, id)
}

func (f *fakeStore) SubmitResponses(ctx context.Context, itemID ksid.ID, records []models.ResponseRecord) ([]models.ResponseRecord, error) {
	if err := f.enter("submit"); err != nil {
		return nil, err
	}
	return f.FileStore.SubmitResponses(ctx, itemID, records)
}

func (f *fakeStore) ListResponses(ctx context.Context, filter models.ResponseFilter) ([]models.ResponseRecord, error) {
	if err := f.enter("responses"); err != nil {
		return nil, err
	}
	return f.FileStore.ListResponses(ctx, filter)
}

// sampleForm is a NUMBER count field driving a repeating group of
// temperatures labeled "Sample".
func sampleForm() []models.FieldDefinition {
	countID, groupID := ksid.NewID(), ksid.NewID()
	return []models.FieldDefinition{
		{
			ID:              countID,
			FieldType:       models.FieldTypeNumber,
			FieldLabel:      "Samples",
			FieldOrder:      0,
			IsRequired:      true,
			ValidationRules: models.ValidationRules{Min: ptr(0.0), Max: ptr(100.0)},
		},
		{
			ID:         groupID,
			FieldType:  models.FieldTypeRepeatingGroup,
			FieldLabel: "Readings",
			FieldOrder: 1,
			ValidationRules: models.ValidationRules{
				RepeatCountFieldID: countID,
				RepeatLabel:        "Sample",
				RepeatTemplate:     []models.SubField{{Type: models.SubFieldTemperature}},
			},
		},
	}
}

func loaded(t *testing.T, defs []models.FieldDefinition, opts ...Option) (*Interpreter, *fakeStore) {
	t.Helper()
	s := newFakeStore(t)
	i := NewInterpreter(s, s, ksid.NewID(), opts...)
	require.NoError(t, i.LoadFields(defs))
	return i, s
}
