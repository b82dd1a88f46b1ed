package txproc

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/schema"
)

// RollbackFunc is returned by Callbacks.BeforeTransaction; RunUpdate
// invokes it if anything after that point in the same update fails, before
// propagating the error (spec.md §4.4, "Callbacks").
type RollbackFunc func(ctx context.Context)

// Callbacks are the optional hooks run around one update (spec.md
// §4.4). Any hook left nil is skipped.
type Callbacks struct {
	// BeforeTransaction runs once tx has been assembled but before it
	// is applied to store. Returning a non-nil RollbackFunc registers
	// it to run if the update subsequently fails.
	BeforeTransaction func(ctx context.Context, tx entity.TransactionRow) (RollbackFunc, errors.E)
	// BeforeCommit runs after tx has been applied to store but before
	// it is saved to the transaction log. Returning an error aborts
	// the update and triggers any registered RollbackFunc.
	BeforeCommit func(ctx context.Context, tx entity.TransactionRow) errors.E
	// AfterCommit runs once tx has been applied and saved.
	AfterCommit func(ctx context.Context, tx entity.TransactionRow)
	// AfterRollback runs once a rollback of count transactions has
	// completed, with the reverted rows newest-first.
	AfterRollback func(ctx context.Context, reverted []entity.TransactionRow, count int)
}

// RunUpdate executes the full update pipeline spec.md §4.4 describes:
// process input into a transaction, run BeforeTransaction, apply and
// save the transaction, running BeforeCommit in between and
// AfterCommit on success. If applying the transaction, BeforeCommit or
// saving the transaction row fails, the RollbackFunc registered by
// BeforeTransaction (if any) runs before the error is returned. When
// BeforeCommit fails, the entity rows have already been written to
// store but the transaction row has not been saved.
func RunUpdate(
	ctx context.Context, store entity.Store, cache SchemaInvalidator,
	configSchema, nodeSchema schema.Schema, input TransactionInput, callbacks Callbacks,
) (entity.TransactionRow, errors.E) {
	tx, errE := ProcessTransactionInput(ctx, store, configSchema, nodeSchema, input)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	var rollback RollbackFunc
	if callbacks.BeforeTransaction != nil {
		rollback, errE = callbacks.BeforeTransaction(ctx, tx)
		if errE != nil {
			return entity.TransactionRow{}, errE //nolint:exhaustruct
		}
	}

	if errE := ApplyTransaction(ctx, store, tx); errE != nil {
		if rollback != nil {
			rollback(ctx)
		}
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	if callbacks.BeforeCommit != nil {
		if errE := callbacks.BeforeCommit(ctx, tx); errE != nil {
			if rollback != nil {
				rollback(ctx)
			}
			return entity.TransactionRow{}, errE //nolint:exhaustruct
		}
	}

	if errE := store.SaveTransaction(ctx, tx); errE != nil {
		if rollback != nil {
			rollback(ctx)
		}
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	if len(tx.Configs) > 0 && cache != nil {
		cache.Invalidate()
	}

	if callbacks.AfterCommit != nil {
		callbacks.AfterCommit(ctx, tx)
	}

	return tx, nil
}

// RunRollback wraps RollbackTransaction with Callbacks.AfterRollback.
func RunRollback(
	ctx context.Context, store entity.Store, cache SchemaInvalidator,
	count int, expectedVersion int64, callbacks Callbacks,
) ([]entity.TransactionRow, errors.E) {
	reverted, errE := RollbackTransaction(ctx, store, cache, count, expectedVersion)
	if errE != nil {
		return nil, errE
	}
	if callbacks.AfterRollback != nil {
		callbacks.AfterRollback(ctx, reverted, count)
	}
	return reverted, nil
}
