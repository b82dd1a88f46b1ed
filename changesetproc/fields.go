package changesetproc

import (
	"fmt"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/schema"
	"gitlab.com/peerdb/kgstore/uid"
)

// normalizeAndValidate resolves relation refs and applies the
// single-scalar-to-list normalisation for allowMultiple fields (spec.md
// §4.3 step 2), then runs the field's data-type validator.
func (p *processor) normalizeAndValidate(index int, key string, fieldDef schema.FieldDef, value any, _ bool) (any, []InputError) {
	if fieldDef.DataType == schema.DataTypeRelation {
		if fieldDef.AllowMultiple {
			list, ok := value.([]any)
			if !ok {
				list = []any{value}
			}
			resolved := make([]any, len(list))
			for i, v := range list {
				r, errE := p.resolveRelation(v)
				if errE != nil {
					return nil, []InputError{p.fail(index, key, errE.Error())}
				}
				resolved[i] = r
			}
			value = resolved
		} else {
			r, errE := p.resolveRelation(value)
			if errE != nil {
				return nil, []InputError{p.fail(index, key, errE.Error())}
			}
			value = r
		}
	} else if fieldDef.AllowMultiple {
		if _, ok := value.([]any); !ok {
			value = []any{value}
		}
	}

	errE := schema.ValidateValue(fieldDef, value)
	if errE != nil {
		return nil, []InputError{p.fail(index, key, extractMessage(errE))}
	}
	return value, nil
}

// resolveRelation resolves a relation value given as a key (or passes
// through one already given as a uid), preferring an intra-batch create
// over a store lookup (spec.md §4.3 step 4).
func (p *processor) resolveRelation(value any) (any, errors.E) { //nolint:ireturn
	switch v := value.(type) {
	case string:
		return p.resolveRef(v)
	case []any:
		if len(v) != 2 { //nolint:gomnd
			return value, nil
		}
		ref, ok := v[0].(string)
		if !ok {
			return value, nil
		}
		resolved, errE := p.resolveRef(ref)
		if errE != nil {
			return nil, errE
		}
		return []any{resolved, v[1]}, nil
	default:
		return value, nil
	}
}

func (p *processor) resolveRef(ref string) (string, errors.E) {
	if uid.Valid(ref) {
		return ref, nil
	}
	if u, ok := p.batchKeys[ref]; ok {
		return u, nil
	}
	uids, errE := p.store.ResolveEntityRefs(p.ctx, p.ns, []entity.Ref{entity.RefByKey(ref)})
	if errE != nil {
		return "", errE
	}
	if len(uids) == 0 || uids[0] == "" {
		return "", errors.Errorf("no entity with key %q", ref)
	}
	return uids[0], nil
}

func extractMessage(errE errors.E) string {
	details := errors.Details(errE)
	msg, _ := details["message"].(string) //nolint:errcheck
	if msg == "" {
		return errE.Error()
	}
	if idx, ok := details["index"]; ok {
		return fmt.Sprintf("index %v: %s", idx, msg)
	}
	return msg
}

// translateInverseOnCreate converts an allowMultiple relation field with
// inverseOf set into child-side updates, and strips the field from the
// parent's own changeset (spec.md §4.3 step 5).
func (p *processor) translateInverseOnCreate(fc changeset.FieldChangeset, parentUID, key string, fieldDef schema.FieldDef, resolvedValue any) {
	if !fieldDef.AllowMultiple || fieldDef.InverseOf == "" {
		return
	}
	list, ok := resolvedValue.([]any)
	if !ok {
		return
	}
	for _, el := range list {
		childUID, _ := el.(string) //nolint:errcheck
		if childUID == "" {
			if tuple, ok := el.([]any); ok && len(tuple) > 0 {
				childUID, _ = tuple[0].(string) //nolint:errcheck
			}
		}
		if childUID == "" {
			continue
		}
		p.addInverseOp(childUID, fieldDef.InverseOf, parentUID, false)
	}
	delete(fc, key)
}

func (p *processor) addInverseOp(childUID, field, parentUID string, isRemove bool) {
	ops, ok := p.inverseOps[childUID]
	if !ok {
		ops = changeset.FieldChangeset{}
		p.inverseOps[childUID] = ops
	}
	if isRemove {
		ops[field] = changeset.Delete(parentUID)
		return
	}
	prior := p.currentFieldValue(childUID, field)
	ops[field] = changeset.SetPrevious(parentUID, prior)
}

func (p *processor) currentFieldValue(entityUID, field string) any {
	fs, errE := p.store.FetchEntityFieldset(p.ctx, p.ns, entity.RefByUID(entityUID), []string{field})
	if errE != nil {
		return nil
	}
	return fs[field]
}

// mutationTuple is one parsed ListMutationInput-shaped tuple, before
// relation resolution and prior-attrs capture.
type mutationTuple struct {
	kind     string
	value    any
	index    *int
	patchKey any
	attrs    map[string]any
}

func parseMutationTuples(rawValue any) ([]mutationTuple, string) {
	list, ok := rawValue.([]any)
	if !ok {
		return nil, "value must be a list of mutations"
	}
	if len(list) > 0 {
		if kind, ok := list[0].(string); ok && mutationKinds[kind] {
			list = []any{list}
		}
	}

	tuples := make([]mutationTuple, 0, len(list))
	for _, el := range list {
		tuple, ok := el.([]any)
		if !ok || len(tuple) == 0 {
			return nil, "malformed mutation tuple"
		}
		kind, ok := tuple[0].(string)
		if !ok || !mutationKinds[kind] {
			return nil, "malformed mutation tuple"
		}
		switch kind {
		case "insert", "remove":
			if len(tuple) < 2 { //nolint:gomnd
				return nil, "mutation tuple missing value"
			}
			mt := mutationTuple{kind: kind, value: tuple[1], index: nil, patchKey: nil, attrs: nil}
			if len(tuple) >= 3 { //nolint:gomnd
				if f, ok := tuple[2].(float64); ok {
					idx := int(f)
					mt.index = &idx
				}
			}
			tuples = append(tuples, mt)
		case "patch":
			if len(tuple) != 3 { //nolint:gomnd
				return nil, `"patch" mutation expects [type, key, attrs]`
			}
			attrs, ok := tuple[2].(map[string]any)
			if !ok {
				return nil, "patch attrs must be an object"
			}
			tuples = append(tuples, mutationTuple{kind: kind, value: nil, index: nil, patchKey: tuple[1], attrs: attrs})
		}
	}
	return tuples, ""
}

// buildSeqOp parses rawValue into a SeqOp for an allowMultiple field,
// resolving relation refs per mutation and capturing patch prior-attrs.
// For an inverseOf relation it returns a nil op: the mutations are
// translated onto the children's own fields instead, and nothing is kept
// on the parent's own changeset.
func (p *processor) buildSeqOp(index int, parentUID, key string, fieldDef schema.FieldDef, rawValue any) (changeset.Op, []InputError) { //nolint:ireturn
	tuples, parseErr := parseMutationTuples(rawValue)
	if parseErr != "" {
		return nil, []InputError{p.fail(index, key, parseErr)}
	}

	scalarDef := fieldDef
	scalarDef.AllowMultiple = false
	translated := fieldDef.InverseOf != ""

	mutations := make([]changeset.ListMutation, 0, len(tuples))
	for _, t := range tuples {
		switch t.kind {
		case "insert", "remove":
			value := t.value
			if fieldDef.DataType == schema.DataTypeRelation {
				r, errE := p.resolveRelation(value)
				if errE != nil {
					return nil, []InputError{p.fail(index, key, errE.Error())}
				}
				value = r
			}
			if errE := schema.ValidateValue(scalarDef, value); errE != nil {
				return nil, []InputError{p.fail(index, key, extractMessage(errE))}
			}
			kind := changeset.MutationInsert
			if t.kind == "remove" {
				kind = changeset.MutationRemove
			}
			mutations = append(mutations, changeset.ListMutation{Kind: kind, Value: value, Index: t.index, PatchKey: nil, Attrs: nil, PriorAttrs: nil})
			if translated {
				if childUID, ok := value.(string); ok && childUID != "" {
					p.addInverseOp(childUID, fieldDef.InverseOf, parentUID, t.kind == "remove")
				}
			}
		case "patch":
			priorAttrs := p.fetchPriorAttrs(parentUID, key, t.patchKey)
			mutations = append(mutations, changeset.ListMutation{Kind: changeset.MutationPatch, Value: nil, Index: nil, PatchKey: t.patchKey, Attrs: t.attrs, PriorAttrs: priorAttrs})
		}
	}

	if translated {
		return nil, nil
	}
	return changeset.Seq(mutations...), nil
}

func (p *processor) fetchPriorAttrs(parentUID, field string, patchKey any) map[string]any {
	fs, errE := p.store.FetchEntityFieldset(p.ctx, p.ns, entity.RefByUID(parentUID), []string{field})
	if errE != nil {
		return nil
	}
	list, ok := fs[field].([]any)
	if !ok {
		return nil
	}
	for _, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if changeset.EqualValues(obj["key"], patchKey) {
			attrs := make(map[string]any, len(obj))
			for k, v := range obj {
				attrs[k] = v
			}
			return attrs
		}
	}
	return nil
}
