package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changesetproc"
	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/internal/pg"
	"gitlab.com/peerdb/kgstore/kgcore"
	"gitlab.com/peerdb/kgstore/schema"
	"gitlab.com/peerdb/kgstore/txproc"
)

// UpdateCmd submits one transaction read from a JSON input file shaped
// as {"configs": [...], "records": [...]}, each entry one
// changesetproc.Input (spec.md §4.3's input grammar).
type UpdateCmd struct {
	Input string `arg:"" help:"Path to the JSON transaction input file." type:"existingfile"`
}

type updateInputFile struct {
	Configs []changesetproc.Input `json:"configs"`
	Records []changesetproc.Input `json:"records"`
}

func (cmd *UpdateCmd) Run(globals *Globals, logger zerolog.Logger) error {
	ctx := logger.WithContext(context.Background())

	data, err := os.ReadFile(cmd.Input)
	if err != nil {
		return errors.WithStack(err)
	}
	var input updateInputFile
	if err := json.Unmarshal(data, &input); err != nil {
		return errors.WithStack(err)
	}

	dbpool, errE := pg.InitPool(ctx, globals.Database, logger)
	if errE != nil {
		return errE
	}

	var result entity.TransactionRow
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

		tx2, errE := core.Update(ctx, txproc.TransactionInput{ //nolint:exhaustruct
			Configs: input.Configs,
			Records: input.Records,
			Author:  globals.Author,
		})
		if errE != nil {
			return errE
		}
		result = tx2
		return nil
	}, nil)
	if errE != nil {
		return errE
	}

	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(v))
}
