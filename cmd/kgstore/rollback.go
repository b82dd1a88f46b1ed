package main

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/internal/pg"
	"gitlab.com/peerdb/kgstore/kgcore"
	"gitlab.com/peerdb/kgstore/schema"
)

// RollbackCmd reverts the last Count transactions, guarding against a
// concurrent write with ExpectedVersion (spec.md §6,
// "rollback(count, expectedVersion?)").
type RollbackCmd struct {
	Count           int   `arg:"" help:"Number of transactions to roll back."`
	ExpectedVersion int64 `arg:"" help:"The transaction id the tip is expected to be at."`
}

func (cmd *RollbackCmd) Run(globals *Globals, logger zerolog.Logger) error {
	ctx := logger.WithContext(context.Background())

	dbpool, errE := pg.InitPool(ctx, globals.Database, logger)
	if errE != nil {
		return errE
	}

	var reverted []entity.TransactionRow
	errE = pg.RetryTransaction(ctx, dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		if errE := bringUpSchema(ctx, tx, globals.Schema); errE != nil {
			return errE
		}

		store := &entity.PgStore{Tx: tx}
		core, err := kgcore.New(kgcore.Config{ //nolint:exhaustruct
			Store:        store,
			ConfigSchema: kgcore.BootstrapConfigSchema(),
			BaseSchema:   schema.New(),
		})
		if err != nil {
			return errors.WithStack(err)
		}

		rows, errE := core.Rollback(ctx, cmd.Count, cmd.ExpectedVersion)
		if errE != nil {
			return errE
		}
		reverted = rows
		return nil
	}, nil)
	if errE != nil {
		return errE
	}

	return printJSON(reverted)
}
