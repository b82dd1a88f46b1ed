package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/internal/pg"
)

// bringUpSchema ensures schemaName exists, makes it the active
// search_path for tx, and ensures the records/configs/transactions
// tables exist inside it (spec.md §6, "Postgres DDL bring-up").
func bringUpSchema(ctx context.Context, tx pgx.Tx, schemaName string) errors.E {
	if errE := pg.EnsureSchema(ctx, tx, schemaName); errE != nil {
		return errE
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET search_path TO %q`, schemaName)); err != nil {
		return errors.WithStack(err)
	}
	return pg.EnsureTables(ctx, tx)
}
