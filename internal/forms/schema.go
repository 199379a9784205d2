package forms

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/ksid"
)

var structValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	must(v.RegisterValidation("field_type", func(fl validator.FieldLevel) bool {
		return models.FieldType(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}))
	return v
})

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Link values for validateSchema.
const (
	noCountField      = -1
	missingCountField = -2
)

// CheckDefinitions runs the per-field static checks on defs: label, known type,
// dropdown options, numeric bounds and repeat template. It returns a
// *models.SchemaInvalidError listing every problem, or nil.
func CheckDefinitions(defs []models.FieldDefinition) error {
	links := make([]int, len(defs))
	for i := range links {
		links[i] = noCountField
	}
	return validateSchema(defs, links)
}

// ValidateSchema runs CheckDefinitions and also checks that every repeating
// group's repeat_count_field_id names an earlier NUMBER field of defs.
func ValidateSchema(defs []models.FieldDefinition) error {
	index := make(map[ksid.ID]int, len(defs))
	for i := range defs {
		if !defs[i].ID.IsZero() {
			index[defs[i].ID] = i
		}
	}
	links := make([]int, len(defs))
	for i := range defs {
		links[i] = noCountField
		if id := defs[i].ValidationRules.RepeatCountFieldID; defs[i].FieldType == models.FieldTypeRepeatingGroup && !id.IsZero() {
			if j, ok := index[id]; ok {
				links[i] = j
			} else {
				links[i] = missingCountField
			}
		}
	}
	return validateSchema(defs, links)
}

// validateSchema checks defs. links[i] is the index of the count field of
// group i, noCountField or missingCountField.
func validateSchema(defs []models.FieldDefinition, links []int) error {
	var problems []models.FieldProblem
	add := func(i int, format string, args ...any) {
		problems = append(problems, models.FieldProblem{Index: i, Label: defs[i].FieldLabel, Reason: fmt.Sprintf(format, args...)})
	}
	for i := range defs {
		d := &defs[i]
		if err := structValidator().Struct(d); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return err
			}
			for _, fe := range verrs {
				switch fe.Tag() {
				case "notblank":
					add(i, "label is required")
				case "field_type":
					add(i, "unknown field type %q", d.FieldType)
				case "gte":
					add(i, "field_order must not be negative")
				default:
					add(i, "%s failed %s", fe.Field(), fe.Tag())
				}
			}
		}
		r := &d.ValidationRules
		switch d.FieldType {
		case models.FieldTypeDropdown:
			if len(d.Options) == 0 {
				add(i, "dropdown requires at least one option")
			}
		case models.FieldTypeNumber, models.FieldTypeTemperature:
			if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
				add(i, "min %g is greater than max %g", *r.Min, *r.Max)
			}
		case models.FieldTypeRepeatingGroup:
			var seen []models.SubFieldType
			for _, sf := range r.RepeatTemplate {
				switch {
				case !sf.Type.Valid():
					add(i, "unknown repeat template type %q", sf.Type)
				case slices.Contains(seen, sf.Type):
					add(i, "repeat template lists %q twice", sf.Type)
				}
				seen = append(seen, sf.Type)
			}
			switch j := links[i]; {
			case j == noCountField:
			case j == missingCountField:
				add(i, "count field %s not found", r.RepeatCountFieldID)
			case j >= i:
				add(i, "count field %q must come before the group", defs[j].FieldLabel)
			case defs[j].FieldType != models.FieldTypeNumber:
				add(i, "count field %q must be a NUMBER field", defs[j].FieldLabel)
			}
		}
	}
	if len(problems) != 0 {
		return &models.SchemaInvalidError{Problems: problems}
	}
	return nil
}
