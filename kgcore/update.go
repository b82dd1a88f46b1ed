package kgcore

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/txproc"
)

// Update runs one transaction through the full pipeline spec.md §4.4
// describes: resolve the current record schema, process input into a
// transaction, apply it, and save it, running any registered callbacks
// along the way.
func (c *Core) Update(ctx context.Context, input txproc.TransactionInput) (entity.TransactionRow, errors.E) {
	nodeSchema, errE := c.GetNodeSchema(ctx)
	if errE != nil {
		c.logger.Error().Err(errE).Msg("update: failed to resolve record schema")
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	row, errE := txproc.RunUpdate(ctx, c.store, c.cache, c.configSchema, nodeSchema, input, c.callbacks)
	if errE != nil {
		c.logger.Error().Err(errE).Str("author", input.Author).Msg("update: transaction rejected")
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	c.logger.Debug().Int64("tx", row.ID).Str("author", row.Author).Msg("update: transaction committed")
	return row, nil
}

// Version returns the current transaction-log tip (spec.md §6,
// "version() -> {id, hash, updatedAt}").
func (c *Core) Version(ctx context.Context) (entity.Version, errors.E) {
	return c.store.GetVersion(ctx)
}

// Rollback reverts the last count transactions, failing with
// txproc.ErrVersionMismatch if the caller's expectedVersion no longer matches
// the current tip (spec.md §6, "rollback(count, expectedVersion?)").
func (c *Core) Rollback(ctx context.Context, count int, expectedVersion int64) ([]entity.TransactionRow, errors.E) {
	reverted, errE := txproc.RunRollback(ctx, c.store, c.cache, count, expectedVersion, c.callbacks)
	if errE != nil {
		c.logger.Error().Err(errE).Int("count", count).Int64("expectedVersion", expectedVersion).Msg("rollback: rejected")
		return nil, errE
	}

	c.logger.Debug().Int("reverted", len(reverted)).Msg("rollback: complete")
	return reverted, nil
}
