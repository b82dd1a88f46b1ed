package changesetproc

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/schema"
	"gitlab.com/peerdb/kgstore/uid"
)

// ErrProcessFailed collects one or more per-input validation failures
// (spec.md §4.3, §7 "changeset-input-process-failed"). The flattened list
// of {index, namespace, field, message} is in errors.Details(errE)["errors"].
var ErrProcessFailed = errors.Base("changeset-input-process-failed")

// InputError is one field-level failure inside a processed batch.
type InputError struct {
	Index     int    `json:"index"`
	Namespace string `json:"namespace"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
}

const (
	identityID    = "id"
	identityUID   = "uid"
	identityKey   = "key"
	identityType  = "type"
	identityTxIDs = "txIds"
)

var systemFields = map[string]bool{identityID: true, identityTxIDs: true} //nolint:gochecknoglobals

// mutationKinds recognises the first element of a []any that looks like a
// ListMutation tuple, to distinguish a seq-mutation shorthand from a plain
// list-of-values on an allowMultiple field (spec.md §4.3 step 2).
var mutationKinds = map[string]bool{"insert": true, "remove": true, "patch": true} //nolint:gochecknoglobals

// Process validates and assembles inputs into a changeset.EntitiesChangeset
// for namespace ns, against snapshot. lastID is the namespace's last
// assigned entity id; it is advanced in place so that several creates in
// one call are assigned contiguous ids (spec.md §4.3: "threaded across
// inputs").
func Process(
	ctx context.Context, store entity.Store, ns entity.Namespace,
	snapshot schema.Schema, inputs []Input, lastID *int64,
) (changeset.EntitiesChangeset, errors.E) {
	p := &processor{
		ctx:        ctx,
		store:      store,
		ns:         ns,
		snapshot:   snapshot,
		lastID:     lastID,
		batchKeys:  map[string]string{},
		inverseOps: map[string]changeset.FieldChangeset{},
	}

	batchUIDs := make([]string, len(inputs))
	for i, in := range inputs {
		if in.isUpdate() {
			continue
		}
		u, _ := in[identityUID].(string) //nolint:errcheck
		if u == "" {
			u = uid.New()
		}
		batchUIDs[i] = u
		if key, ok := in[identityKey].(string); ok && key != "" {
			p.batchKeys[key] = u
		}
	}

	result := changeset.EntitiesChangeset{}
	var failures []InputError

	for i, in := range inputs {
		var fc changeset.FieldChangeset
		var entityUID string
		var errs []InputError
		if in.isUpdate() {
			fc, entityUID, errs = p.processUpdate(i, in)
		} else {
			fc, entityUID, errs = p.processCreate(i, in, batchUIDs[i])
		}
		failures = append(failures, errs...)
		if len(errs) == 0 && fc != nil {
			result[entityUID] = fc
		}
	}

	if len(failures) > 0 {
		errE := errors.WithStack(ErrProcessFailed)
		errors.Details(errE)["errors"] = failures
		return nil, errE
	}

	for childUID, ops := range p.inverseOps {
		if existing, ok := result[childUID]; ok {
			for k, v := range ops {
				existing[k] = v
			}
		} else {
			result[childUID] = ops
		}
	}

	return result, nil
}

type processor struct {
	ctx      context.Context //nolint:containedctx
	store    entity.Store
	ns       entity.Namespace
	snapshot schema.Schema
	lastID   *int64

	batchKeys  map[string]string
	inverseOps map[string]changeset.FieldChangeset
}

func (p *processor) fail(index int, field, message string) InputError {
	return InputError{Index: index, Namespace: string(p.ns), Field: field, Message: message}
}

func (p *processor) processCreate(index int, in Input, entityUID string) (changeset.FieldChangeset, string, []InputError) { //nolint:cyclop
	var errs []InputError
	for k := range in {
		if systemFields[k] {
			errs = append(errs, p.fail(index, k, "system field must not be set on input"))
		}
	}

	typeKey, _ := in[identityType].(string) //nolint:errcheck
	if typeKey == "" {
		errs = append(errs, p.fail(index, identityType, "type is required"))
		return nil, "", errs
	}
	if _, ok := p.snapshot.Types[typeKey]; !ok {
		errs = append(errs, p.fail(index, identityType, "unknown type"))
		return nil, "", errs
	}

	effective, errE := p.snapshot.ResolveFields(typeKey)
	if errE != nil {
		errs = append(errs, p.fail(index, identityType, errE.Error()))
		return nil, "", errs
	}

	fc := changeset.FieldChangeset{}

	for key, value := range in {
		if key == identityType || key == identityKey || key == identityUID || key == refKey {
			continue
		}
		eff, ok := effective[key]
		if !ok {
			errs = append(errs, p.fail(index, key, "unknown field"))
			continue
		}
		if eff.Attrs.HasValue {
			if !changeset.EqualValues(value, eff.Attrs.Value) {
				errs = append(errs, p.fail(index, key, "value is fixed by the type and cannot be overridden"))
			}
			continue
		}
		resolved, op, fieldErrs := p.buildCreateOp(index, key, eff, value)
		errs = append(errs, fieldErrs...)
		if len(fieldErrs) != 0 {
			continue
		}
		fc[key] = op
		p.translateInverseOnCreate(fc, entityUID, key, eff.FieldDef, resolved)
		if eff.FieldDef.Unique && resolved != nil {
			_, exists, errE := p.store.FindByFieldValue(p.ctx, p.ns, key, resolved, nil)
			if errE != nil {
				errs = append(errs, p.fail(index, key, errE.Error()))
			} else if exists {
				errs = append(errs, p.fail(index, key, "value must be unique, already exists on another entity"))
			}
		}
	}

	for key, eff := range effective {
		if _, present := in[key]; present {
			continue
		}
		if eff.Attrs.HasValue {
			fc[key] = changeset.Set(eff.Attrs.Value)
			continue
		}
		whenMatches := eff.Attrs.When == nil || eff.Attrs.When.Matches(in)
		if !whenMatches {
			continue
		}
		if eff.Attrs.HasRequired && eff.Attrs.Required {
			errs = append(errs, p.fail(index, key, "mandatory property is missing or null"))
			continue
		}
		switch {
		case eff.Attrs.HasDefault:
			fc[key] = changeset.Set(eff.Attrs.Default)
		case eff.FieldDef.HasDefault:
			fc[key] = changeset.Set(eff.FieldDef.Default)
		}
	}

	if len(errs) > 0 {
		return nil, "", errs
	}

	*p.lastID++
	fc[identityID] = changeset.Set(float64(*p.lastID))
	fc[identityUID] = changeset.Set(entityUID)
	fc[identityType] = changeset.Set(typeKey)
	if key, ok := in[identityKey].(string); ok && key != "" {
		fc[identityKey] = changeset.Set(key)
	}

	return fc, entityUID, nil
}

// buildCreateOp validates and resolves one field's create-time value,
// returning the op to store and the resolved value (for inverse-field
// translation, which needs the final child uid(s)).
func (p *processor) buildCreateOp(index int, key string, eff schema.EffectiveField, value any) (any, changeset.Op, []InputError) { //nolint:ireturn
	normalized, errs := p.normalizeAndValidate(index, key, eff.FieldDef, value, false)
	if len(errs) > 0 {
		return nil, nil, errs
	}
	return normalized, changeset.Set(normalized), nil
}

func (p *processor) processUpdate(index int, in Input) (changeset.FieldChangeset, string, []InputError) { //nolint:cyclop
	var errs []InputError

	ref, errE := in.ref()
	if errE != nil {
		errs = append(errs, p.fail(index, refKey, errE.Error()))
		return nil, "", errs
	}
	current, errE := p.store.FetchEntity(p.ctx, p.ns, ref)
	if errE != nil {
		errs = append(errs, p.fail(index, refKey, "entity not found"))
		return nil, "", errs
	}

	for k := range in {
		if systemFields[k] {
			errs = append(errs, p.fail(index, k, "system field must not be set on input"))
		}
	}

	fc := changeset.FieldChangeset{}

	for key, value := range in {
		if key == refKey || systemFields[key] {
			continue
		}
		fieldDef, ok := p.snapshot.Fields[key]
		if !ok {
			errs = append(errs, p.fail(index, key, "unknown field"))
			continue
		}
		if fieldDef.Immutable {
			errs = append(errs, p.fail(index, key, "field is immutable"))
			continue
		}

		if fieldDef.AllowMultiple && isMutationShape(value) {
			op, fieldErrs := p.buildSeqOp(index, current.UID, key, fieldDef, value)
			errs = append(errs, fieldErrs...)
			if len(fieldErrs) == 0 && op != nil {
				fc[key] = op
			}
			continue
		}

		normalized, fieldErrs := p.normalizeAndValidate(index, key, fieldDef, value, true)
		errs = append(errs, fieldErrs...)
		if len(fieldErrs) > 0 {
			continue
		}

		if fieldDef.Unique && normalized != nil {
			_, exists, errE := p.store.FindByFieldValue(p.ctx, p.ns, key, normalized, &ref)
			if errE != nil {
				errs = append(errs, p.fail(index, key, errE.Error()))
				continue
			}
			if exists {
				errs = append(errs, p.fail(index, key, "value must be unique, already exists on another entity"))
				continue
			}
		}

		fc[key] = changeset.SetPrevious(normalized, current.Fields[key])
		p.translateInverseOnCreate(fc, current.UID, key, fieldDef, normalized)
	}

	if len(errs) > 0 {
		return nil, "", errs
	}
	if len(fc) == 0 {
		return nil, current.UID, nil
	}
	return fc, current.UID, nil
}

// isMutationShape reports whether value looks like a seq-mutation input:
// either a bare tuple ["insert", value, index?] or a list of such tuples.
func isMutationShape(value any) bool {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return false
	}
	if kind, ok := list[0].(string); ok && mutationKinds[kind] {
		return true
	}
	for _, el := range list {
		tuple, ok := el.([]any)
		if !ok || len(tuple) == 0 {
			return false
		}
		kind, ok := tuple[0].(string)
		if !ok || !mutationKinds[kind] {
			return false
		}
	}
	return true
}
