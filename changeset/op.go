// Package changeset implements the invertible change algebra described in
// spec.md §4.1: the set/seq change operators over a Fieldset, their
// inverses, and canonical JSON encoding so that apply ∘ inverse ∘ apply
// is the identity.
package changeset

import (
	"encoding/json"
	"fmt"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// Fieldset is a flat map from field key to the field's current value, for
// one entity. Lists are represented as []any, relation tuples as []any
// with two elements, everything else as the scalar Go value produced by
// JSON unmarshaling (string, float64, bool, map[string]any, nil).
type Fieldset map[string]any

// Clone returns a shallow copy of the fieldset, sufficient for Apply to
// mutate without affecting the caller's original map.
func (f Fieldset) Clone() Fieldset {
	c := make(Fieldset, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Op is a single field's change: either Set or Seq.
type Op interface {
	// Apply mutates fieldset[key] according to this op.
	Apply(fieldset Fieldset, key string) errors.E
	// Invert returns the op which undoes this op, given the same starting fieldset.
	Invert() Op
}

var (
	_ Op = SetOp{} //nolint:exhaustruct
	_ Op = SeqOp{} //nolint:exhaustruct
)

// SetOp replaces a field's whole value, optionally recording the value it
// replaces so that the change can be inverted (spec.md invariant 2).
//
// HasValue/HasPrevious distinguish "this field had no value" (creation,
// deletion) from "this field held JSON null" — both cases delete the key
// on Apply, but only the former also means there is nothing to invert back
// to on the opposite side.
type SetOp struct {
	HasValue    bool
	Value       any
	HasPrevious bool
	Previous    any
}

// Set returns a SetOp which replaces the field's value with value, the
// previous value being unknown or nonexistent (used for creation).
func Set(value any) SetOp {
	return SetOp{HasValue: true, Value: value, HasPrevious: false, Previous: nil}
}

// SetPrevious returns a SetOp which replaces the field's value with value,
// recording previous as the value it replaces.
func SetPrevious(value, previous any) SetOp {
	return SetOp{HasValue: true, Value: value, HasPrevious: true, Previous: previous}
}

// Delete returns a SetOp which deletes a field that previously held value.
func Delete(previous any) SetOp {
	return SetOp{HasValue: false, Value: nil, HasPrevious: true, Previous: previous}
}

// Apply implements Op.
func (s SetOp) Apply(fieldset Fieldset, key string) errors.E {
	if s.HasValue && s.Value != nil {
		fieldset[key] = s.Value
	} else {
		delete(fieldset, key)
	}
	return nil
}

// Invert implements Op.
//
// Swapping Value and Previous covers all three spec.md cases at once:
// creation (no previous) inverts to deletion (no value), deletion inverts
// to creation, and an ordinary update inverts to the reverse update.
func (s SetOp) Invert() Op { //nolint:ireturn
	return SetOp{
		HasValue:    s.HasPrevious,
		Value:       s.Previous,
		HasPrevious: s.HasValue,
		Previous:    s.Value,
	}
}

// SeqOp edits an allowMultiple field's list of values in place.
type SeqOp struct {
	Mutations []ListMutation
}

// Seq returns a SeqOp applying mutations in order.
func Seq(mutations ...ListMutation) SeqOp {
	return SeqOp{Mutations: mutations}
}

// Apply implements Op, folding each mutation over fieldset[key] in order.
func (s SeqOp) Apply(fieldset Fieldset, key string) errors.E {
	list, errE := asList(fieldset[key])
	if errE != nil {
		return errE
	}
	for i, m := range s.Mutations {
		var errE errors.E
		list, errE = applyMutation(list, m)
		if errE != nil {
			errors.Details(errE)["mutation"] = i
			return errE
		}
	}
	if len(list) == 0 {
		delete(fieldset, key)
	} else {
		fieldset[key] = list
	}
	return nil
}

// Invert implements Op: reverse(map(invert, mutations)).
func (s SeqOp) Invert() Op { //nolint:ireturn
	inverted := make([]ListMutation, len(s.Mutations))
	for i, m := range s.Mutations {
		inverted[len(s.Mutations)-1-i] = invertMutation(m)
	}
	return SeqOp{Mutations: inverted}
}

func invertMutation(m ListMutation) ListMutation {
	switch m.Kind {
	case MutationInsert:
		return ListMutation{Kind: MutationRemove, Value: m.Value, Index: m.Index}
	case MutationRemove:
		return ListMutation{Kind: MutationInsert, Value: m.Value, Index: m.Index}
	case MutationPatch:
		// PriorAttrs was captured by the processor when this forward mutation
		// was assembled (never on create, see spec.md §9 Open Questions), so
		// inversion here is pure and needs no storage access.
		return ListMutation{Kind: MutationPatch, PatchKey: m.PatchKey, Attrs: m.PriorAttrs, PriorAttrs: m.Attrs}
	default:
		return m
	}
}

func asList(v any) ([]any, errors.E) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.Errorf("seq op applied to non-list value of type %T", v)
	}
	return list, nil
}

func applyMutation(list []any, m ListMutation) ([]any, errors.E) {
	switch m.Kind {
	case MutationInsert:
		return insertInto(list, m.Value, m.Index), nil
	case MutationRemove:
		return removeFrom(list, m.Value, m.Index)
	case MutationPatch:
		return patchIn(list, m.PatchKey, m.Attrs)
	default:
		return nil, errors.Errorf("unknown list mutation kind %q", m.Kind)
	}
}

func insertInto(list []any, value any, index *int) []any {
	if index == nil || *index < 0 || *index > len(list) {
		return append(list, value)
	}
	out := make([]any, 0, len(list)+1)
	out = append(out, list[:*index]...)
	out = append(out, value)
	out = append(out, list[*index:]...)
	return out
}

func removeFrom(list []any, value any, index *int) ([]any, errors.E) {
	pos := -1
	for i, v := range list {
		if equalValues(v, value) {
			pos = i
			break
		}
	}
	if pos == -1 {
		return nil, errors.Errorf("value to remove not found in list: %v", value)
	}
	if index != nil && *index != pos {
		return nil, errors.Errorf("remove index %d disagrees with matched position %d", *index, pos)
	}
	out := make([]any, 0, len(list)-1)
	out = append(out, list[:pos]...)
	out = append(out, list[pos+1:]...)
	return out, nil
}

func patchIn(list []any, key any, attrs map[string]any) ([]any, errors.E) {
	for i, v := range list {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if equalValues(obj["key"], key) {
			merged := make(map[string]any, len(obj)+len(attrs))
			for k, v := range obj {
				merged[k] = v
			}
			for k, v := range attrs {
				merged[k] = v
			}
			out := make([]any, len(list))
			copy(out, list)
			out[i] = merged
			return out, nil
		}
	}
	return nil, errors.Errorf("patch target with key %v not found in list", key)
}

func equalValues(a, b any) bool {
	ab, errA := x.MarshalWithoutEscapeHTML(a)
	bb, errB := x.MarshalWithoutEscapeHTML(b)
	if errA != nil || errB != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return string(ab) == string(bb)
}

// EqualValues compares a and b the same way Apply matches list-mutation
// values and patch keys: by canonical JSON, falling back to fmt.Sprint
// for values that do not marshal. Used by the entity store's uniqueness
// probe to compare field values.
func EqualValues(a, b any) bool {
	return equalValues(a, b)
}

// opWire is the canonical on-the-wire discriminated-union shape for Op.
type opWire struct {
	Type       string         `json:"type"`
	Value      any            `json:"value,omitempty"`
	HasValue   bool           `json:"hasValue,omitempty"`
	Previous   any            `json:"previous,omitempty"`
	HasPrev    bool           `json:"hasPrevious,omitempty"`
	Mutations  []ListMutation `json:"mutations,omitempty"`
}

// MarshalJSON implements json.Marshaler for SetOp.
func (s SetOp) MarshalJSON() ([]byte, error) {
	return x.MarshalWithoutEscapeHTML(opWire{ //nolint:wrapcheck
		Type:     "set",
		Value:    s.Value,
		HasValue: s.HasValue,
		Previous: s.Previous,
		HasPrev:  s.HasPrevious,
	})
}

// MarshalJSON implements json.Marshaler for SeqOp.
func (s SeqOp) MarshalJSON() ([]byte, error) {
	return x.MarshalWithoutEscapeHTML(opWire{ //nolint:wrapcheck
		Type:      "seq",
		Mutations: s.Mutations,
	})
}

// UnmarshalOp unmarshals an Op from its canonical JSON encoding.
func UnmarshalOp(data []byte) (Op, errors.E) { //nolint:ireturn
	var w opWire
	errE := x.UnmarshalWithoutUnknownFields(data, &w)
	if errE != nil {
		return nil, errE
	}
	switch w.Type {
	case "set":
		return SetOp{HasValue: w.HasValue, Value: w.Value, HasPrevious: w.HasPrev, Previous: w.Previous}, nil
	case "seq":
		return SeqOp{Mutations: w.Mutations}, nil
	default:
		return nil, errors.Errorf(`op of type "%s" is not supported`, w.Type)
	}
}

// FieldChangeset is the set of per-field changes for one entity (spec.md §3).
type FieldChangeset map[string]Op

// EntitiesChangeset is the per-namespace changeset map keyed by entity uid
// (spec.md §3, `EntitiesChangeset<N> = {EntityRef -> FieldChangeset}`; this
// module always keys by uid, the one identifier shape every entity has as
// soon as it is created — see DESIGN.md).
type EntitiesChangeset = map[string]FieldChangeset

// MarshalJSON implements json.Marshaler.
func (f FieldChangeset) MarshalJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(f))
	for k, op := range f {
		data, errE := x.MarshalWithoutEscapeHTML(op)
		if errE != nil {
			return nil, errE
		}
		raw[k] = data
	}
	return x.MarshalWithoutEscapeHTML(raw) //nolint:wrapcheck
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FieldChangeset) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	errE := x.UnmarshalWithoutUnknownFields(data, &raw)
	if errE != nil {
		return errE
	}
	out := make(FieldChangeset, len(raw))
	for k, v := range raw {
		op, errE := UnmarshalOp(v)
		if errE != nil {
			return errE
		}
		out[k] = op
	}
	*f = out
	return nil
}

// Apply applies every op in the changeset to a clone of fieldset and
// returns the result, leaving fieldset itself untouched.
func Apply(fieldset Fieldset, changes FieldChangeset) (Fieldset, errors.E) {
	result := fieldset.Clone()
	if result == nil {
		result = Fieldset{}
	}
	for key, op := range changes {
		errE := op.Apply(result, key)
		if errE != nil {
			errors.Details(errE)["field"] = key
			return nil, errE
		}
	}
	return result, nil
}

// Invert returns the changeset which undoes changes, given the fieldset it
// was built against (spec.md §4.1).
func Invert(changes FieldChangeset) FieldChangeset {
	inverted := make(FieldChangeset, len(changes))
	for key, op := range changes {
		inverted[key] = op.Invert()
	}
	return inverted
}
