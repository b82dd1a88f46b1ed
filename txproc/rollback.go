package txproc

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/entity"
)

// ErrInvalidRollback is returned when count is not between 1 and the
// current tip id, inclusive (spec.md §7, "invalid-rollback").
var ErrInvalidRollback = errors.Base("invalid-rollback")

// ErrVersionMismatch is returned when expectedVersion does not match
// the store's current tip id, guarding a caller racing a concurrent
// writer (spec.md §7, "version-mismatch").
var ErrVersionMismatch = errors.Base("version-mismatch")

// RollbackTransaction undoes the last count transactions, newest first
// (spec.md §4.4, "rollbackTransaction"), returning the reverted rows in
// the same newest-first order. expectedVersion must equal the store's
// current tip id.
func RollbackTransaction(
	ctx context.Context, store entity.Store, cache SchemaInvalidator,
	count int, expectedVersion int64,
) ([]entity.TransactionRow, errors.E) {
	if count < 1 {
		return nil, errors.WithStack(ErrInvalidRollback)
	}

	version, errE := store.GetVersion(ctx)
	if errE != nil {
		return nil, errE
	}
	if version.ID != expectedVersion {
		errE := errors.WithStack(ErrVersionMismatch)
		errors.Details(errE)["tip"] = version.ID
		errors.Details(errE)["expected"] = expectedVersion
		return nil, errE
	}
	if int64(count) > version.ID {
		errE := errors.WithStack(ErrInvalidRollback)
		errors.Details(errE)["tip"] = version.ID
		errors.Details(errE)["count"] = count
		return nil, errE
	}

	fromID := version.ID - int64(count) + 1
	reverted, errE := store.DeleteTransactionsFrom(ctx, fromID)
	if errE != nil {
		return nil, errE
	}

	for _, row := range reverted {
		if errE := undoTransaction(ctx, store, invertTransaction(row)); errE != nil {
			errors.Details(errE)["transaction"] = row.ID
			return nil, errE
		}
	}
	if cache != nil {
		cache.Invalidate()
	}

	return reverted, nil
}

// invertTransaction inverts every field op in a transaction row,
// turning its recorded changesets into the changesets that undo it
// (spec.md §4.1, "Invert"). The row's identity (id, hash, previous,
// author, createdAt) is carried through unchanged; only Configs and
// Records are inverted.
func invertTransaction(row entity.TransactionRow) entity.TransactionRow {
	return entity.TransactionRow{
		ID:        row.ID,
		Hash:      row.Hash,
		Previous:  row.Previous,
		Configs:   invertEntitiesChangeset(row.Configs),
		Records:   invertEntitiesChangeset(row.Records),
		Author:    row.Author,
		Fields:    row.Fields,
		CreatedAt: row.CreatedAt,
	}
}

func invertEntitiesChangeset(ec changeset.EntitiesChangeset) changeset.EntitiesChangeset {
	out := make(changeset.EntitiesChangeset, len(ec))
	for uid, fc := range ec {
		out[uid] = changeset.Invert(fc)
	}
	return out
}
