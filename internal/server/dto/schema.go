package dto

import (
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

// JSONSchemas returns the JSON Schema of every record the API exchanges,
// keyed by record name. Schemas are inlined without $ref.
func JSONSchemas() map[string]*jsonschema.Schema {
	r := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeFor[ksid.ID]() {
				return &jsonschema.Schema{Type: "string", Description: "k-sortable identifier"}
			}
			if t == reflect.TypeFor[models.FieldType]() {
				s := &jsonschema.Schema{Type: "string"}
				for _, ft := range models.FieldTypes {
					s.Enum = append(s.Enum, string(ft))
				}
				return s
			}
			return nil
		},
	}
	return map[string]*jsonschema.Schema{
		"FieldDefinition": r.Reflect(&models.FieldDefinition{}),
		"FieldPatch":      r.Reflect(&models.FieldPatch{}),
		"ResponseRecord":  r.Reflect(&models.ResponseRecord{}),
	}
}
