package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// CachedFieldStore serves ListFields from an LRU keyed by task and forwards
// everything else to the wrapped FieldStore. Writes invalidate the affected
// task.
type CachedFieldStore struct {
	FieldStore
	lists  *lru.Cache[ksid.ID, []models.FieldDefinition]
	owners *lru.Cache[ksid.ID, ksid.ID]

	// gen is bumped by every invalidation. A miss only fills the cache when
	// gen did not move while it read the wrapped store.
	mu  sync.Mutex
	gen uint64
}

// NewCachedFieldStore wraps inner with a cache holding up to size task lists.
func NewCachedFieldStore(inner FieldStore, size int) (*CachedFieldStore, error) {
	lists, err := lru.New[ksid.ID, []models.FieldDefinition](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create field cache: %w", err)
	}
	owners, err := lru.New[ksid.ID, ksid.ID](size * 16)
	if err != nil {
		return nil, fmt.Errorf("failed to create field cache: %w", err)
	}
	return &CachedFieldStore{FieldStore: inner, lists: lists, owners: owners}, nil
}

// ListFields implements FieldStore.
func (c *CachedFieldStore) ListFields(ctx context.Context, taskID ksid.ID) ([]models.FieldDefinition, error) {
	if l, ok := c.lists.Get(taskID); ok {
		return cloneFields(l), nil
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	l, err := c.FieldStore.ListFields(ctx, taskID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return l, nil
	}
	c.lists.Add(taskID, cloneFields(l))
	for i := range l {
		c.owners.Add(l[i].ID, taskID)
	}
	return l, nil
}

// CreateField implements FieldStore.
func (c *CachedFieldStore) CreateField(ctx context.Context, def *models.FieldDefinition) (*models.FieldDefinition, error) {
	f, err := c.FieldStore.CreateField(ctx, def)
	c.invalidate(def.TaskID)
	return f, err
}

// BulkCreateFields implements FieldStore.
func (c *CachedFieldStore) BulkCreateFields(ctx context.Context, taskID ksid.ID, defs []models.FieldDefinition) ([]models.FieldDefinition, error) {
	l, err := c.FieldStore.BulkCreateFields(ctx, taskID, defs)
	c.invalidate(taskID)
	return l, err
}

// UpdateField implements FieldStore.
func (c *CachedFieldStore) UpdateField(ctx context.Context, id ksid.ID, patch *models.FieldPatch) (*models.FieldDefinition, error) {
	f, err := c.FieldStore.UpdateField(ctx, id, patch)
	if err == nil {
		c.invalidate(f.TaskID)
	} else {
		c.forget(id)
	}
	return f, err
}

// DeleteField implements FieldStore.
func (c *CachedFieldStore) DeleteField(ctx context.Context, id ksid.ID) error {
	err := c.FieldStore.DeleteField(ctx, id)
	c.forget(id)
	return err
}

func (c *CachedFieldStore) invalidate(taskID ksid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lists.Remove(taskID)
}

// forget drops the list owning field id, or every list when the owner is
// unknown.
func (c *CachedFieldStore) forget(id ksid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if taskID, ok := c.owners.Get(id); ok {
		c.lists.Remove(taskID)
		c.owners.Remove(id)
		return
	}
	c.lists.Purge()
}

func cloneFields(l []models.FieldDefinition) []models.FieldDefinition {
	out := slices.Clone(l)
	for i := range out {
		out[i] = *out[i].Clone()
	}
	return out
}
