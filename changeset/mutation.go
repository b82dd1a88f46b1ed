package changeset

import (
	"encoding/json"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// MutationKind identifies the kind of edit a ListMutation performs on an
// allowMultiple field's list of values.
type MutationKind string

const (
	// MutationInsert inserts a value into the list, at an index if given, else appends.
	MutationInsert MutationKind = "insert"
	// MutationRemove removes the first occurrence of a value from the list.
	MutationRemove MutationKind = "remove"
	// MutationPatch shallow-merges attrs into the list element identified by key.
	MutationPatch MutationKind = "patch"
)

// ListMutation is one edit applied, in order, to an allowMultiple field's
// current list of values.
//
// For insert, Index is the position to insert at; when it is absent or
// out of range the value is appended. For remove, Index is advisory:
// the element is matched by value, and when an index is given it must
// agree with that match, otherwise applying the mutation fails (see the
// Open Question in spec.md §9, resolved here as match-by-value with an
// advisory, consistency-checked index).
//
// PriorAttrs is populated by the changeset processor, never by user input,
// when it assembles a patch mutation for an update: it is the sub-object's
// attrs immediately before this patch, which is everything Invert needs to
// build the inverse patch without touching storage again.
type ListMutation struct {
	Kind       MutationKind
	Value      any
	Index      *int
	PatchKey   any
	Attrs      map[string]any
	PriorAttrs map[string]any
}

// listMutationWire is the canonical on-the-wire shape for a processed,
// stored ListMutation (used inside transactions once they are assembled).
type listMutationWire struct {
	Type       MutationKind   `json:"type"`
	Value      any            `json:"value,omitempty"`
	Index      *int           `json:"index,omitempty"`
	Key        any            `json:"key,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	PriorAttrs map[string]any `json:"priorAttrs,omitempty"`
}

// MarshalJSON implements json.Marshaler, producing the canonical stored shape.
func (m ListMutation) MarshalJSON() ([]byte, error) {
	w := listMutationWire{
		Type:       m.Kind,
		Value:      m.Value,
		Index:      m.Index,
		Key:        m.PatchKey,
		Attrs:      m.Attrs,
		PriorAttrs: m.PriorAttrs,
	}
	return x.MarshalWithoutEscapeHTML(w) //nolint:wrapcheck
}

// UnmarshalJSON implements json.Unmarshaler for the canonical stored shape.
func (m *ListMutation) UnmarshalJSON(data []byte) error {
	var w listMutationWire
	errE := x.UnmarshalWithoutUnknownFields(data, &w)
	if errE != nil {
		return errE
	}
	*m = ListMutation{
		Kind:       w.Type,
		Value:      w.Value,
		Index:      w.Index,
		PatchKey:   w.Key,
		Attrs:      w.Attrs,
		PriorAttrs: w.PriorAttrs,
	}
	return nil
}

// ListMutationInput is the user-facing tuple shape from spec.md §3:
//
//	["insert", value, index?] | ["remove", value, index?] | ["patch", key, attrs]
//
// The changeset processor parses input in this shape and, after resolving
// relation keys and capturing prior attrs, assembles the canonical
// ListMutation stored in transactions.
type ListMutationInput struct {
	Kind  MutationKind
	Value any
	Index *int
	Key   any
	Attrs map[string]any
}

// UnmarshalJSON implements json.Unmarshaler for the tuple input shape.
func (m *ListMutationInput) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	errE := x.Unmarshal(data, &tuple)
	if errE != nil {
		return errE
	}
	if len(tuple) < 2 { //nolint:gomnd
		return errors.New("list mutation: expected at least [type, value]")
	}
	var kind MutationKind
	errE = x.Unmarshal(tuple[0], &kind)
	if errE != nil {
		return errE
	}
	switch kind {
	case MutationInsert, MutationRemove:
		var value any
		errE = x.Unmarshal(tuple[1], &value)
		if errE != nil {
			return errE
		}
		var index *int
		if len(tuple) >= 3 { //nolint:gomnd
			errE = x.Unmarshal(tuple[2], &index)
			if errE != nil {
				return errE
			}
		}
		*m = ListMutationInput{Kind: kind, Value: value, Index: index}
		return nil
	case MutationPatch:
		if len(tuple) != 3 { //nolint:gomnd
			return errors.New(`list mutation: "patch" expects [type, key, attrs]`)
		}
		var key any
		errE = x.Unmarshal(tuple[1], &key)
		if errE != nil {
			return errE
		}
		var attrs map[string]any
		errE = x.Unmarshal(tuple[2], &attrs)
		if errE != nil {
			return errE
		}
		*m = ListMutationInput{Kind: kind, Key: key, Attrs: attrs}
		return nil
	default:
		return errors.Errorf(`list mutation: unknown type "%s"`, kind)
	}
}

// MarshalJSON implements json.Marshaler, producing the user-facing tuple shape.
func (m ListMutationInput) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MutationInsert, MutationRemove:
		if m.Index != nil {
			return x.MarshalWithoutEscapeHTML([]any{m.Kind, m.Value, *m.Index}) //nolint:wrapcheck
		}
		return x.MarshalWithoutEscapeHTML([]any{m.Kind, m.Value}) //nolint:wrapcheck
	case MutationPatch:
		return x.MarshalWithoutEscapeHTML([]any{m.Kind, m.Key, m.Attrs}) //nolint:wrapcheck
	default:
		return nil, errors.Errorf(`list mutation: unknown type "%s"`, m.Kind)
	}
}
