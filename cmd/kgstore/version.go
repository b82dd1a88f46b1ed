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

// VersionCmd prints the current transaction-log tip (spec.md §6,
// "version() -> {id, hash, updatedAt}").
type VersionCmd struct{}

func (cmd *VersionCmd) Run(globals *Globals, logger zerolog.Logger) error {
	ctx := logger.WithContext(context.Background())

	dbpool, errE := pg.InitPool(ctx, globals.Database, logger)
	if errE != nil {
		return errE
	}

	var version entity.Version
	errE = pg.RetryTransaction(ctx, dbpool, pgx.ReadOnly, func(ctx context.Context, tx pgx.Tx) errors.E {
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

		v, errE := core.Version(ctx)
		if errE != nil {
			return errE
		}
		version = v
		return nil
	}, nil)
	if errE != nil {
		return errE
	}

	return printJSON(version)
}
