package txproc

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/entity"
)

// SchemaInvalidator is the subset of schemacache.Cache this package
// depends on: the ability to drop cached schema snapshots whenever a
// transaction writes to config, or is rolled back (spec.md §4.5).
type SchemaInvalidator interface {
	Invalidate()
}

// ApplyTransaction applies tx's config changesets, then its record
// changesets, dispatching each entity's FieldChangeset by the shape of
// its `id` op: create, delete, or merge-update (spec.md §4.4,
// "applyTransaction"). Every touched row is tagged with tx.ID via txIds.
func ApplyTransaction(ctx context.Context, store entity.Store, tx entity.TransactionRow) errors.E {
	return applyWithTxTracking(ctx, store, tx, changeset.MutationInsert)
}

// ApplyAndSaveTransaction applies tx to store then saves the row to the
// transaction log (spec.md §4.4, "applyAndSaveTransaction"). It does
// not invalidate the schema cache; callers that pass a cache do that
// themselves once they know the write committed (RunUpdate does).
func ApplyAndSaveTransaction(ctx context.Context, store entity.Store, tx entity.TransactionRow) errors.E {
	if errE := ApplyTransaction(ctx, store, tx); errE != nil {
		return errE
	}
	return store.SaveTransaction(ctx, tx)
}

// undoTransaction re-applies tx, whose changesets the caller has
// already inverted, removing tx.ID from touched rows' txIds instead of
// adding it. It is rollback's half of applyTransaction: the rows are
// being returned to how they were before tx ever ran, not moved forward
// by a new transaction.
func undoTransaction(ctx context.Context, store entity.Store, tx entity.TransactionRow) errors.E {
	return applyWithTxTracking(ctx, store, tx, changeset.MutationRemove)
}

func applyWithTxTracking(ctx context.Context, store entity.Store, tx entity.TransactionRow, txIDMutation changeset.MutationKind) errors.E {
	if errE := applyNamespace(ctx, store, entity.NamespaceConfig, tx.Configs, tx.ID, txIDMutation); errE != nil {
		return errE
	}
	if errE := applyNamespace(ctx, store, entity.NamespaceRecord, tx.Records, tx.ID, txIDMutation); errE != nil {
		return errE
	}
	return nil
}

func applyNamespace(
	ctx context.Context, store entity.Store, ns entity.Namespace,
	ec changeset.EntitiesChangeset, txID int64, txIDMutation changeset.MutationKind,
) errors.E {
	for uid, fc := range ec {
		if errE := applyEntityChangeset(ctx, store, ns, uid, fc, txID, txIDMutation); errE != nil {
			errors.Details(errE)["namespace"] = string(ns)
			errors.Details(errE)["uid"] = uid
			return errE
		}
	}
	return nil
}

// applyEntityChangeset dispatches on the shape of fc's `id` op (spec.md
// §3: "creation is encoded as set of id from undefined to a new id;
// deletion as set of id to undefined"). A plain update never carries an
// `id` op at all.
func applyEntityChangeset(
	ctx context.Context, store entity.Store, ns entity.Namespace,
	uid string, fc changeset.FieldChangeset, txID int64, txIDMutation changeset.MutationKind,
) errors.E {
	idOp, hasID := fc["id"].(changeset.SetOp)

	switch {
	case hasID && idOp.HasValue && !idOp.HasPrevious:
		return createWithTxID(ctx, store, ns, fc, txID)
	case hasID && !idOp.HasValue && idOp.HasPrevious:
		return store.DeleteEntity(ctx, ns, entity.RefByUID(uid))
	default:
		return updateWithTxID(ctx, store, ns, entity.RefByUID(uid), fc, txID, txIDMutation)
	}
}

func createWithTxID(ctx context.Context, store entity.Store, ns entity.Namespace, fc changeset.FieldChangeset, txID int64) errors.E {
	fieldset, errE := changeset.Apply(changeset.Fieldset{}, fc)
	if errE != nil {
		return errE
	}
	fieldset["txIds"] = []any{float64(txID)}
	return store.CreateEntity(ctx, ns, fieldset)
}

// updateWithTxID resolves fc to a literal patch (Store.UpdateEntity
// takes new values, not mutation instructions) and folds tx.ID into the
// row's txIds with txIDMutation (insert when applying forward, remove
// when undoing during rollback).
func updateWithTxID(
	ctx context.Context, store entity.Store, ns entity.Namespace, ref entity.Ref,
	fc changeset.FieldChangeset, txID int64, txIDMutation changeset.MutationKind,
) errors.E {
	current, errE := store.FetchEntityFieldset(ctx, ns, ref, nil)
	if errE != nil {
		return errE
	}

	patch := changeset.Fieldset{}
	for key, op := range fc {
		value, errE := resolveOpValue(current, key, op)
		if errE != nil {
			errors.Details(errE)["field"] = key
			return errE
		}
		patch[key] = value
	}

	txIDsOp := changeset.Seq(changeset.ListMutation{ //nolint:exhaustruct
		Kind:  txIDMutation,
		Value: float64(txID),
	})
	working := changeset.Fieldset{"txIds": current["txIds"]}
	if errE := txIDsOp.Apply(working, "txIds"); errE != nil {
		return errE
	}
	patch["txIds"] = working["txIds"]

	return store.UpdateEntity(ctx, ns, ref, patch)
}

// resolveOpValue computes the literal value op leaves at key, applying
// it against the field's current value in isolation.
func resolveOpValue(current changeset.Fieldset, key string, op changeset.Op) (any, errors.E) {
	working := changeset.Fieldset{key: current[key]}
	if errE := op.Apply(working, key); errE != nil {
		return nil, errE
	}
	return working[key], nil
}
