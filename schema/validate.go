package schema

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"time"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/query"
	"gitlab.com/peerdb/kgstore/uid"
)

// ErrValidation is returned by ValidateValue for a single offending value;
// the changeset processor collects these into the batched
// changeset-input-process-failed error described in spec.md §4.3.
var ErrValidation = errors.Base("validation error")

// ValidateValue validates value against def, including the allowMultiple
// elementwise wrapping described in spec.md §4.2 ("allowMultiple wraps any
// validator: value must be an array; validator runs elementwise; error
// indexed by position").
func ValidateValue(def FieldDef, value any) errors.E {
	if def.AllowMultiple {
		list, ok := value.([]any)
		if !ok {
			return valueError("value must be a list")
		}
		for i, v := range list {
			errE := validateScalar(def, v)
			if errE != nil {
				errors.Details(errE)["index"] = i
				return errE
			}
		}
		return nil
	}
	return validateScalar(def, value)
}

func validateScalar(def FieldDef, value any) errors.E { //nolint:cyclop
	switch def.DataType {
	case DataTypeSeqID:
		return validateInteger(value, false)
	case DataTypeUID:
		return validateUID(value)
	case DataTypeRelation:
		return validateRelation(value)
	case DataTypeBoolean:
		return validateBoolean(value)
	case DataTypeInteger:
		return validateInteger(value, true)
	case DataTypeDecimal:
		return validateDecimal(value)
	case DataTypePlaintext, DataTypeRichtext:
		return validateText(value)
	case DataTypeDate:
		return validateTimeFormat(value, "2006-01-02")
	case DataTypeDatetime:
		return validateTimeFormat(value, time.RFC3339)
	case DataTypePeriod:
		return validatePeriod(value, def.Format)
	case DataTypeOption:
		return validateOption(value, def.Options)
	case DataTypeOptionSet:
		return validateOptionSet(value, def.Options)
	case DataTypeObject:
		return validateObject(value)
	case DataTypeJSON:
		return nil
	case DataTypeQuery:
		return validateQuery(value)
	case DataTypeFileHash:
		return validateFileHash(value)
	case DataTypeInterval:
		return validateInterval(value)
	case DataTypeDuration:
		return validateDuration(value)
	case DataTypeURI:
		return validateURI(value)
	case DataTypeImage:
		return validateURI(value)
	default:
		return errors.Errorf(`unknown dataType "%s"`, def.DataType)
	}
}

func valueError(message string) errors.E {
	errE := errors.WithStack(ErrValidation)
	errors.Details(errE)["message"] = message
	return errE
}

func validateBoolean(value any) errors.E {
	if _, ok := value.(bool); !ok {
		return valueError("value must be a boolean")
	}
	return nil
}

func validateInteger(value any, allowNegative bool) errors.E {
	f, ok := value.(float64)
	if !ok {
		return valueError("value must be an integer")
	}
	if f != math.Trunc(f) {
		return valueError("value must be an integer")
	}
	if !allowNegative && f < 0 {
		return valueError("value must be a non-negative integer")
	}
	return nil
}

func validateDecimal(value any) errors.E {
	f, ok := value.(float64)
	if !ok {
		return valueError("value must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return valueError("value must be a finite number")
	}
	return nil
}

func validateText(value any) errors.E {
	s, ok := value.(string)
	if !ok {
		return valueError("value must be a string")
	}
	if s == "" {
		// Empty string is always accepted (spec.md §4.2).
		return nil
	}
	return nil
}

func validateTimeFormat(value any, layout string) errors.E {
	s, ok := value.(string)
	if !ok {
		return valueError("value must be a string")
	}
	if s == "" {
		return nil
	}
	_, err := time.Parse(layout, s)
	if err != nil {
		return valueError(fmt.Sprintf("value is not a valid %s: %s", layout, err))
	}
	return nil
}

func validatePeriod(value any, format string) errors.E {
	s, ok := value.(string)
	if !ok {
		return valueError("value must be a string")
	}
	if s == "" {
		return nil
	}
	layout := "2006-01-02"
	if format == "month" {
		layout = "2006-01"
	} else if format != "" && format != "day" {
		return errors.Errorf(`period field: unknown format "%s"`, format)
	}
	_, err := time.Parse(layout, s)
	if err != nil {
		return valueError(fmt.Sprintf("value is not a valid period: %s", err))
	}
	return nil
}

func validateUID(value any) errors.E {
	s, ok := value.(string)
	if !ok || !uid.Valid(s) {
		return valueError("value is not a valid uid")
	}
	return nil
}

func validateRelation(value any) errors.E {
	switch v := value.(type) {
	case string:
		if v == "" {
			return valueError("relation value must not be empty")
		}
		return nil
	case []any:
		if len(v) != 2 { //nolint:gomnd
			return valueError("relation tuple must be [ref, attrs]")
		}
		ref, ok := v[0].(string)
		if !ok || ref == "" {
			return valueError("relation tuple's first element must be a non-empty ref")
		}
		if _, ok := v[1].(map[string]any); !ok {
			return valueError("relation tuple's second element must be an object")
		}
		return nil
	default:
		return valueError("relation value must be a ref string or a [ref, attrs] tuple")
	}
}

func validateOption(value any, options []OptionDef) errors.E {
	s, ok := value.(string)
	if !ok {
		return valueError("option value must be a string key")
	}
	for _, o := range options {
		if o.Key == s {
			return nil
		}
	}
	return valueError(fmt.Sprintf("value %q does not match any option key", s))
}

func validateOptionSet(value any, options []OptionDef) errors.E {
	list, ok := value.([]any)
	if !ok {
		return valueError("optionSet value must be a list of option keys")
	}
	for i, v := range list {
		errE := validateOption(v, options)
		if errE != nil {
			errors.Details(errE)["index"] = i
			return errE
		}
	}
	return nil
}

func validateObject(value any) errors.E {
	if _, ok := value.(map[string]any); !ok {
		return valueError("value must be an object")
	}
	return nil
}

func validateQuery(value any) errors.E {
	obj, ok := value.(map[string]any)
	if !ok {
		return valueError("query value must be an object")
	}
	_, errE := query.ParseParams(obj)
	if errE != nil {
		return errors.WrapWith(errE, ErrValidation)
	}
	return nil
}

var fileHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`) //nolint:gochecknoglobals

func validateFileHash(value any) errors.E {
	s, ok := value.(string)
	if !ok || !fileHashRegex.MatchString(s) {
		return valueError("value must be a lowercase hex-encoded SHA-256 hash")
	}
	return nil
}

func validateInterval(value any) errors.E {
	obj, ok := value.(map[string]any)
	if !ok {
		return valueError("interval value must be an object")
	}
	_, hasFrom := obj["from"]
	_, hasTo := obj["to"]
	if !hasFrom && !hasTo {
		return valueError(`interval value must have a "from" or a "to"`)
	}
	return nil
}

var durationRegex = regexp.MustCompile(`^P(?:\d+Y)?(?:\d+M)?(?:\d+D)?(?:T(?:\d+H)?(?:\d+M)?(?:\d+(?:\.\d+)?S)?)?$`) //nolint:gochecknoglobals

func validateDuration(value any) errors.E {
	s, ok := value.(string)
	if !ok {
		return valueError("value must be a string")
	}
	if s == "P" || !durationRegex.MatchString(s) {
		return valueError("value must be an ISO 8601 duration")
	}
	return nil
}

func validateURI(value any) errors.E {
	s, ok := value.(string)
	if !ok {
		return valueError("value must be a string")
	}
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return valueError("value must be an absolute URI")
	}
	return nil
}
