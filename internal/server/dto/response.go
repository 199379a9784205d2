package dto

import (
	"github.com/invopop/jsonschema"
	"github.com/maruel/checkform/internal/models"
)

// HealthResponse is the response to a health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ListFieldsResponse lists field definitions in field_order.
type ListFieldsResponse struct {
	Fields []models.FieldDefinition `json:"fields"`
}

// DeleteFieldResponse is the empty response to a deletion.
type DeleteFieldResponse struct{}

// ListResponsesResponse lists response records.
type ListResponsesResponse struct {
	Responses []models.ResponseRecord `json:"responses"`
}

// SubmitFormResponse is the outcome of a server side submission.
type SubmitFormResponse struct {
	State     string                  `json:"state"`
	Responses []models.ResponseRecord `json:"responses"`
}

// SchemaResponse holds the JSON Schema of each API record.
type SchemaResponse struct {
	Schemas map[string]*jsonschema.Schema `json:"schemas"`
}
