// Package changesetproc turns a batch of user-facing entity changeset
// inputs into a schema-validated, invertible changeset.EntitiesChangeset
// for one namespace (spec.md §4.3).
package changesetproc

import (
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/uid"
)

// Input is one raw entity changeset input (spec.md §3): a create carries
// `type` and no `$ref`; an update carries `$ref` naming an existing entity.
type Input map[string]any

const refKey = "$ref"

func (in Input) isUpdate() bool {
	_, ok := in[refKey]
	return ok
}

// ref resolves the input's $ref value to an entity.Ref. A float64 (decoded
// JSON number) names an id, a valid-looking uid string names a uid,
// anything else is treated as a key.
func (in Input) ref() (entity.Ref, errors.E) {
	raw, ok := in[refKey]
	if !ok {
		return entity.Ref{}, errors.New("input has no $ref") //nolint:exhaustruct
	}
	switch v := raw.(type) {
	case float64:
		id := int64(v)
		return entity.RefByID(id), nil
	case string:
		if uid.Valid(v) {
			return entity.RefByUID(v), nil
		}
		return entity.RefByKey(v), nil
	default:
		return entity.Ref{}, errors.New("$ref must be a string or number") //nolint:exhaustruct
	}
}
