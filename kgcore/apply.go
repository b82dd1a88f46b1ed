package kgcore

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/txproc"
)

// ErrChainMismatch is returned by Apply when an externally authored
// transaction does not chain onto the current tip.
var ErrChainMismatch = errors.Base("chain-mismatch")

// ErrHashMismatch is returned by Apply when an externally authored
// transaction's Hash does not match the canonical hash of its own
// content.
var ErrHashMismatch = errors.Base("hash-mismatch")

// Apply accepts an externally authored transaction (spec.md §6: "apply
// (Transaction) -> Transaction, accept an externally authored
// transaction"), for replaying a log produced elsewhere rather than
// building one from caller input. tx must chain directly onto the
// current tip: tx.ID must be tip.ID+1 and tx.Previous must equal the
// tip's hash, otherwise ErrChainMismatch is returned and nothing is
// written. tx.Hash is also recomputed from {previous, author,
// createdAt, configs, records} and compared against the value the
// caller supplied (spec.md §8 Testable Property 2, "chain integrity"
// holds for every transaction in the log, not only ones built by
// Update); a mismatch returns ErrHashMismatch and nothing is written.
func (c *Core) Apply(ctx context.Context, tx entity.TransactionRow) (entity.TransactionRow, errors.E) {
	version, errE := c.store.GetVersion(ctx)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}
	if tx.ID != version.ID+1 || tx.Previous != version.Hash {
		errE := errors.WithStack(ErrChainMismatch)
		errors.Details(errE)["tip"] = version.ID
		errors.Details(errE)["tipHash"] = version.Hash
		errors.Details(errE)["txID"] = tx.ID
		errors.Details(errE)["txPrevious"] = tx.Previous
		c.logger.Error().Int64("tip", version.ID).Int64("txID", tx.ID).Msg("apply: chain mismatch")
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	wantHash, errE := txproc.CanonicalHash(tx.Previous, tx.Author, tx.CreatedAt, tx.Configs, tx.Records)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}
	if wantHash != tx.Hash {
		errE := errors.WithStack(ErrHashMismatch)
		errors.Details(errE)["txID"] = tx.ID
		errors.Details(errE)["txHash"] = tx.Hash
		errors.Details(errE)["wantHash"] = wantHash
		c.logger.Error().Int64("txID", tx.ID).Msg("apply: hash mismatch")
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	var rollback txproc.RollbackFunc
	if c.callbacks.BeforeTransaction != nil {
		rollback, errE = c.callbacks.BeforeTransaction(ctx, tx)
		if errE != nil {
			return entity.TransactionRow{}, errE //nolint:exhaustruct
		}
	}

	if errE := txproc.ApplyTransaction(ctx, c.store, tx); errE != nil {
		if rollback != nil {
			rollback(ctx)
		}
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	if c.callbacks.BeforeCommit != nil {
		if errE := c.callbacks.BeforeCommit(ctx, tx); errE != nil {
			if rollback != nil {
				rollback(ctx)
			}
			return entity.TransactionRow{}, errE //nolint:exhaustruct
		}
	}

	if errE := c.store.SaveTransaction(ctx, tx); errE != nil {
		if rollback != nil {
			rollback(ctx)
		}
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	if len(tx.Configs) > 0 {
		c.cache.Invalidate()
	}

	if c.callbacks.AfterCommit != nil {
		c.callbacks.AfterCommit(ctx, tx)
	}

	c.logger.Debug().Int64("tx", tx.ID).Msg("apply: transaction accepted")
	return tx, nil
}
