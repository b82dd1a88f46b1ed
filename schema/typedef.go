package schema

// FieldAttrs overrides a FieldDef's required/default/value/when for one
// type's use of that field (spec.md §3, TypeDef.FieldAttrs).
type FieldAttrs struct {
	Required      bool `json:"required,omitempty"`
	HasRequired   bool `json:"-"`
	HasDefault    bool `json:"-"`
	Default       any  `json:"default,omitempty"`
	HasValue      bool `json:"-"`
	Value         any  `json:"value,omitempty"`
	When          *When `json:"when,omitempty"`
}

// TypeFieldRef is one entry in TypeDef.Fields: either a bare field key, or
// a field key with overriding attrs (spec.md §3: "[(FieldKey, FieldAttrs?)
// | FieldKey]").
type TypeFieldRef struct {
	FieldKey string
	Attrs    *FieldAttrs
}

// TypeDef is the definition of one record or config type (spec.md §3).
type TypeDef struct {
	Key     string         `json:"key"`
	Name    string         `json:"name"`
	Extends string         `json:"extends,omitempty"`
	Fields  []TypeFieldRef `json:"fields"`
}

// HasExtends reports whether this type extends another.
func (t TypeDef) HasExtends() bool {
	return t.Extends != ""
}
