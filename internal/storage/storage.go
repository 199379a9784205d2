// Package storage persists field definitions and response records.
//
// Two backends implement the same contract: FileStore keeps JSONL tables on
// disk, SQLiteStore keeps a single SQLite database. CachedFieldStore adds a
// read-through cache in front of any FieldStore.
package storage

import (
	"context"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// FieldStore persists the ordered field definitions of tasks.
type FieldStore interface {
	// ListFields returns the task's definitions sorted by field_order.
	ListFields(ctx context.Context, taskID ksid.ID) ([]models.FieldDefinition, error)
	// CreateField stores def and returns it with its assigned ID.
	CreateField(ctx context.Context, def *models.FieldDefinition) (*models.FieldDefinition, error)
	// BulkCreateFields stores defs for taskID in order, all or nothing.
	BulkCreateFields(ctx context.Context, taskID ksid.ID, defs []models.FieldDefinition) ([]models.FieldDefinition, error)
	// UpdateField applies patch to the definition id.
	UpdateField(ctx context.Context, id ksid.ID, patch *models.FieldPatch) (*models.FieldDefinition, error)
	// DeleteField removes the definition id.
	DeleteField(ctx context.Context, id ksid.ID) error
}

// ResponseStore persists response records.
type ResponseStore interface {
	// SubmitResponses stores records for checklistItemID. A record replaces any
	// earlier record for the same (checklist item, field) pair. A record
	// populating a slot other than the one its stored field type answers into
	// fails the whole call with *models.ValidationFailedError.
	SubmitResponses(ctx context.Context, checklistItemID ksid.ID, records []models.ResponseRecord) ([]models.ResponseRecord, error)
	// ListResponses returns the records matching filter.
	ListResponses(ctx context.Context, filter models.ResponseFilter) ([]models.ResponseRecord, error)
}

// Store is a backend serving both interfaces.
type Store interface {
	FieldStore
	ResponseStore
	Close() error
}
