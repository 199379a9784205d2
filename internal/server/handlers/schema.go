package handlers

import (
	"context"
	"sync"

	"github.com/maruel/checkform/internal/server/dto"
)

var schemas = sync.OnceValue(dto.JSONSchemas)

// Schema returns the JSON Schema of the API records.
func Schema(ctx context.Context, req *dto.SchemaRequest) (*dto.SchemaResponse, error) {
	return &dto.SchemaResponse{Schemas: schemas()}, nil
}
