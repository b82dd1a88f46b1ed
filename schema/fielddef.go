package schema

import (
	"regexp"

	"gitlab.com/tozd/go/errors"
)

// fieldKeyRegex restricts a field's key to characters that are safe to use
// as a JSON object key embedded in a quoted SQL identifier or path
// expression, without further escaping.
var fieldKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`) //nolint:gochecknoglobals

// OptionDef is one allowed value of an option/optionSet field.
type OptionDef struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// FieldDef is the definition of one field key, shared by every type which
// references it (spec.md §3, FieldDef).
type FieldDef struct {
	Key           string      `json:"key"`
	DataType      DataType    `json:"dataType"`
	AllowMultiple bool        `json:"allowMultiple,omitempty"`
	Unique        bool        `json:"unique,omitempty"`
	Immutable     bool        `json:"immutable,omitempty"`
	Options       []OptionDef `json:"options,omitempty"`
	HasDefault    bool        `json:"-"`
	Default       any         `json:"default,omitempty"`
	InverseOf     string      `json:"inverseOf,omitempty"`
	When          *When       `json:"when,omitempty"`

	// Format carries per-dataType options that are otherwise free-form.
	// Only period fields read it ("day" or "month"); validation of every
	// other dataType ignores it.
	Format string `json:"format,omitempty"`
}

// Validate checks the field definition itself is well-formed, independent
// of any type that uses it (spec.md §4.3 step 6: "A field with both unique
// and allowMultiple is rejected at schema acceptance time").
func (f FieldDef) Validate() errors.E {
	if !f.DataType.Valid() {
		return errors.Errorf(`field "%s": unknown dataType "%s"`, f.Key, f.DataType)
	}
	if f.Unique && f.AllowMultiple {
		return errors.Errorf(`field "%s": unique and allowMultiple cannot both be set`, f.Key)
	}
	if f.Key == "" {
		return errors.New("field: key is required")
	}
	if !fieldKeyRegex.MatchString(f.Key) {
		return errors.Errorf(`field "%s": key must match %s`, f.Key, fieldKeyRegex.String())
	}
	return nil
}
