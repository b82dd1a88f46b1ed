package schema

import (
	mapset "github.com/deckarep/golang-set/v2"
	"gitlab.com/tozd/go/errors"
)

// Schema is a snapshot of field and type definitions (spec.md §3, "A
// schema is {fields, types}").
type Schema struct {
	Fields map[string]FieldDef
	Types  map[string]TypeDef
}

// New returns an empty schema pre-populated with the core identity fields
// every entity carries regardless of type (spec.md §3).
func New() Schema {
	s := Schema{
		Fields: map[string]FieldDef{},
		Types:  map[string]TypeDef{},
	}
	s.Fields["id"] = FieldDef{Key: "id", DataType: DataTypeSeqID, Immutable: true} //nolint:exhaustruct
	s.Fields["uid"] = FieldDef{Key: "uid", DataType: DataTypeUID, Immutable: true} //nolint:exhaustruct
	s.Fields["key"] = FieldDef{Key: "key", DataType: DataTypePlaintext}            //nolint:exhaustruct
	s.Fields["type"] = FieldDef{Key: "type", DataType: DataTypePlaintext, Immutable: true}
	s.Fields["txIds"] = FieldDef{Key: "txIds", DataType: DataTypeInteger, AllowMultiple: true, Immutable: true} //nolint:exhaustruct
	return s
}

// Clone returns a deep-enough copy of the schema for safe mutation
// (field and type maps copied; the FieldDef/TypeDef values themselves are
// treated as immutable once constructed).
func (s Schema) Clone() Schema {
	out := Schema{
		Fields: make(map[string]FieldDef, len(s.Fields)),
		Types:  make(map[string]TypeDef, len(s.Types)),
	}
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	for k, v := range s.Types {
		out.Types[k] = v
	}
	return out
}

// EffectiveField is a field's definition merged with whatever attrs the
// resolved type (or one of its ancestors) overrides for it.
type EffectiveField struct {
	FieldDef
	Attrs FieldAttrs
}

// ancestorChain walks typeKey's extends chain, ancestors first (root
// ancestor at index 0, typeKey's own def last), guarding against cycles
// with a visited set per spec.md §9 ("resolve by iteration with a visited
// set to guard cycles — do not recurse blindly").
func (s Schema) ancestorChain(typeKey string) ([]TypeDef, errors.E) {
	visited := mapset.NewThreadUnsafeSet[string]()
	var chain []TypeDef

	current := typeKey
	for current != "" {
		if visited.Contains(current) {
			return nil, errors.Errorf(`type "%s": cyclic extends chain`, typeKey)
		}
		visited.Add(current)

		def, ok := s.Types[current]
		if !ok {
			return nil, errors.Errorf(`type "%s": extends unknown type "%s"`, typeKey, current)
		}
		chain = append([]TypeDef{def}, chain...)
		current = def.Extends
	}
	return chain, nil
}

// ResolveFields returns the effective, merged field list for typeKey:
// every field the type or any ancestor references, with a descendant's
// attrs overriding its ancestor's for the same field key.
func (s Schema) ResolveFields(typeKey string) (map[string]EffectiveField, errors.E) {
	if _, ok := s.Types[typeKey]; !ok {
		return nil, errors.Errorf(`unknown type "%s"`, typeKey)
	}
	chain, errE := s.ancestorChain(typeKey)
	if errE != nil {
		return nil, errE
	}

	out := map[string]EffectiveField{}
	for _, def := range chain {
		for _, ref := range def.Fields {
			fieldDef, ok := s.Fields[ref.FieldKey]
			if !ok {
				return nil, errors.Errorf(`type "%s": references unknown field "%s"`, def.Key, ref.FieldKey)
			}
			eff := out[ref.FieldKey]
			eff.FieldDef = fieldDef
			if ref.Attrs != nil {
				eff.Attrs = *ref.Attrs
			}
			out[ref.FieldKey] = eff
		}
	}
	return out, nil
}

// MandatoryFields returns the field keys that must be present and
// non-null in a create input for typeKey: required on the type or any
// ancestor, minus fields with a fixed value constraint (spec.md §4.3
// step 3).
func (s Schema) MandatoryFields(typeKey string) ([]string, errors.E) {
	fields, errE := s.ResolveFields(typeKey)
	if errE != nil {
		return nil, errE
	}
	var mandatory []string
	for key, eff := range fields {
		if eff.Attrs.HasValue {
			continue
		}
		if eff.Attrs.HasRequired && eff.Attrs.Required {
			mandatory = append(mandatory, key)
		}
	}
	return mandatory, nil
}
