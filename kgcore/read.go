package kgcore

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/query"
)

// FetchEntity returns ref's stored fields in ns (spec.md §6:
// "fetchEntity(ref, includes?, ns?)"). includes names related entities
// to pull in alongside ref; resolving them is delegated to an external
// include resolver, which is outside this core's three subsystems, so
// FetchEntity itself only fetches ref and reports which of includes it
// was not able to expand.
func (c *Core) FetchEntity(ctx context.Context, ns entity.Namespace, ref entity.Ref, includes []string) (entity.Entity, []string, errors.E) {
	e, errE := c.store.FetchEntity(ctx, ns, ref)
	if errE != nil {
		return entity.Entity{}, nil, errE //nolint:exhaustruct
	}
	return e, includes, nil
}

// Search compiles params into a SQL query against ns's table and
// returns it unexecuted, for an external query compiler to run and
// enrich with column selection and relation joins (spec.md §6:
// "search(query, ns?)", delegated to an external query compiler).
func (c *Core) Search(_ context.Context, ns entity.Namespace, params query.Params) (string, []any, errors.E) {
	sql, args, err := query.Build(namespaceTable(ns), params).ToSql()
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	return sql, args, nil
}
