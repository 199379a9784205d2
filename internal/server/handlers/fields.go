package handlers

import (
	"context"

	"github.com/maruel/checkform/internal/forms"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server/dto"
)

// FieldHandler serves field definitions.
type FieldHandler struct {
	stores Stores
}

// NewFieldHandler creates a new field handler.
func NewFieldHandler(stores Stores) *FieldHandler {
	return &FieldHandler{stores: stores}
}

// ListFields returns the task's definitions in field_order.
func (h *FieldHandler) ListFields(ctx context.Context, req *dto.ListFieldsRequest) (*dto.ListFieldsResponse, error) {
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	defs, err := s.ListFields(ctx, req.TaskID)
	if err != nil {
		return nil, storeError("list fields", err)
	}
	if defs == nil {
		defs = []models.FieldDefinition{}
	}
	return &dto.ListFieldsResponse{Fields: defs}, nil
}

// CreateField stores one definition.
func (h *FieldHandler) CreateField(ctx context.Context, req *dto.CreateFieldRequest) (*models.FieldDefinition, error) {
	if err := forms.CheckDefinitions([]models.FieldDefinition{req.Field}); err != nil {
		return nil, err
	}
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	def, err := s.CreateField(ctx, &req.Field)
	if err != nil {
		return nil, storeError("create field", err)
	}
	return def, nil
}

// BulkCreateFields stores several definitions, all or nothing.
//
// Only per-field rules are checked: a repeating group may link to a count
// field stored by an earlier request.
func (h *FieldHandler) BulkCreateFields(ctx context.Context, req *dto.BulkCreateFieldsRequest) (*dto.ListFieldsResponse, error) {
	if err := forms.CheckDefinitions(req.Fields); err != nil {
		return nil, err
	}
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	defs, err := s.BulkCreateFields(ctx, req.TaskID, req.Fields)
	if err != nil {
		return nil, storeError("bulk create fields", err)
	}
	return &dto.ListFieldsResponse{Fields: defs}, nil
}

// UpdateField applies a partial update.
func (h *FieldHandler) UpdateField(ctx context.Context, req *dto.UpdateFieldRequest) (*models.FieldDefinition, error) {
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	def, err := s.UpdateField(ctx, req.ID, &req.FieldPatch)
	if err != nil {
		return nil, storeError("update field", err)
	}
	return def, nil
}

// DeleteField removes one definition.
func (h *FieldHandler) DeleteField(ctx context.Context, req *dto.DeleteFieldRequest) (*dto.DeleteFieldResponse, error) {
	s, err := storeFor(ctx, h.stores)
	if err != nil {
		return nil, err
	}
	if err := s.DeleteField(ctx, req.ID); err != nil {
		return nil, storeError("delete field", err)
	}
	return &dto.DeleteFieldResponse{}, nil
}
