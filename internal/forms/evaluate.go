package forms

import (
	"github.com/maruel/checkform/internal/models"
)

// Reason qualifies a Verdict.
type Reason string

const (
	// ReasonNone means the value passed every rule.
	ReasonNone Reason = ""
	// ReasonRequired means a required value is absent or unparseable.
	ReasonRequired Reason = "required"
	// ReasonOutOfRange flags a numeric value outside [min, max]. It does not
	// block submission.
	ReasonOutOfRange Reason = "out_of_range"
	// ReasonInvalid means the value does not conform to the field type.
	ReasonInvalid Reason = "invalid"
)

// Verdict is the outcome of evaluating one value.
//
// Valid reflects hard validation only. An out of range value is Valid with
// Reason ReasonOutOfRange.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

// OutOfRange reports whether the value should be flagged for display.
func (v Verdict) OutOfRange() bool {
	return v.Reason == ReasonOutOfRange
}

var (
	pass      = Verdict{Valid: true}
	flagged   = Verdict{Valid: true, Reason: ReasonOutOfRange}
	missing   = Verdict{Reason: ReasonRequired}
	malformed = Verdict{Reason: ReasonInvalid}
)

// Evaluate checks raw against the rules of def. It is pure.
func Evaluate(def *models.FieldDefinition, raw any) Verdict {
	v, err := def.Variant()
	if err != nil {
		return malformed
	}
	return evaluateVariant(v, def.IsRequired, raw)
}

func evaluateVariant(v models.Variant, isRequired bool, raw any) Verdict {
	switch v := v.(type) {
	case models.Number:
		return evaluateNumber(v, isRequired, raw)
	case models.Temperature:
		return evaluateNumber(v, isRequired, raw)
	case models.Text:
		if isEmpty(raw) {
			return absent(isRequired)
		}
		if _, isText := textOf(raw); !isText {
			return malformed
		}
		return pass
	case models.YesNo:
		if isEmpty(raw) {
			return absent(isRequired)
		}
		if _, isBool := ParseBool(raw); !isBool {
			return malformed
		}
		return pass
	case models.Dropdown:
		if isEmpty(raw) {
			return absent(isRequired)
		}
		s, isString := raw.(string)
		if !isString || !v.HasOption(s) {
			return malformed
		}
		return pass
	case models.Photo:
		if isEmpty(raw) {
			return pass
		}
		if _, isString := raw.(string); !isString {
			return malformed
		}
		return pass
	case models.RepeatingGroup:
		// Groups hold no direct value; their sub-slots are checked by
		// EvaluateSub.
		return pass
	default:
		return malformed
	}
}

// evaluateNumber treats unparseable input as absent and only range-checks
// values that parsed.
func evaluateNumber(b models.Bounded, isRequired bool, raw any) Verdict {
	n, parsed := ParseNumber(raw)
	if !parsed {
		return absent(isRequired)
	}
	lo, hi := b.Bounds()
	if (lo != nil && n < *lo) || (hi != nil && n > *hi) {
		return flagged
	}
	return pass
}

func absent(isRequired bool) Verdict {
	if isRequired {
		return missing
	}
	return pass
}

// EvaluateSub checks raw for one sub-slot of a repeating group instance.
// Numeric sub-fields are always required. Other sub-fields are optional.
func EvaluateSub(t models.SubFieldType, raw any) Verdict {
	switch t {
	case models.SubFieldTemperature, models.SubFieldNumber:
		if _, parsed := ParseNumber(raw); !parsed {
			return missing
		}
		return pass
	case models.SubFieldText:
		if isEmpty(raw) {
			return pass
		}
		if _, isText := textOf(raw); !isText {
			return malformed
		}
		return pass
	case models.SubFieldPhoto:
		if isEmpty(raw) {
			return pass
		}
		if _, isString := raw.(string); !isString {
			return malformed
		}
		return pass
	default:
		return pass
	}
}
