package kgcore

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changesetproc"
	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/schema"
)

// GetNodeSchema returns the record schema as of the current tip (spec.md
// §4.5, §6: "materialised from config rows"), folding every config
// transaction from genesis onto baseSchema and caching the result by
// tip. entity.Store has no "list config entities" operation, so the
// fold walks the transaction log itself rather than the config
// namespace directly; this is O(tip) on a cache miss and O(1) once
// warm, which is the trade the cache exists to make.
func (c *Core) GetNodeSchema(ctx context.Context) (schema.Schema, errors.E) {
	version, errE := c.store.GetVersion(ctx)
	if errE != nil {
		return schema.Schema{}, errE //nolint:exhaustruct
	}

	return c.cache.Get(ctx, version.ID, func(ctx context.Context) (schema.Schema, errors.E) {
		return c.materializeNodeSchema(ctx, version.ID)
	})
}

// GetConfigSchema returns the fixed meta-schema that validates config
// entities themselves. Unlike the record schema it never changes at
// runtime, so it needs no cache entry.
func (c *Core) GetConfigSchema(_ context.Context) (schema.Schema, errors.E) {
	return c.configSchema, nil
}

// materializeNodeSchema folds every transaction's config changeset,
// from genesis up to and including tip, onto c.baseSchema in order.
func (c *Core) materializeNodeSchema(ctx context.Context, tip int64) (schema.Schema, errors.E) {
	out := c.baseSchema.Clone()
	for id := int64(1); id <= tip; id++ {
		row, errE := c.store.FetchTransaction(ctx, id)
		if errE != nil {
			return schema.Schema{}, errE //nolint:exhaustruct
		}
		if len(row.Configs) == 0 {
			continue
		}
		folded, errE := changesetproc.ApplyConfigChangesetToSchema(out, row.Configs)
		if errE != nil {
			errors.Details(errE)["transaction"] = id
			return schema.Schema{}, errE //nolint:exhaustruct
		}
		out = folded
	}
	return out, nil
}

// namespaceTable maps an entity namespace onto its storage table name,
// for the read-path delegation stubs (spec.md §6).
func namespaceTable(ns entity.Namespace) string {
	switch ns {
	case entity.NamespaceConfig:
		return "configs"
	case entity.NamespaceRecord:
		return "records"
	default:
		return string(ns)
	}
}
