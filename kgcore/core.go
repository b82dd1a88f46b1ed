// Package kgcore is the public facade spec.md §6 describes: Update,
// Apply, Rollback, Version, GetNodeSchema, GetConfigSchema, and the
// read-path delegation stubs FetchEntity/Search. It wires the entity
// store, the schema cache, and the transaction processor together
// behind the one surface an embedder calls.
package kgcore

import (
	"github.com/rs/zerolog"

	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/schema"
	"gitlab.com/peerdb/kgstore/schemacache"
	"gitlab.com/peerdb/kgstore/txproc"
)

// Core is one logical knowledge-graph store: an entity store, a record
// schema cache built from config rows, the fixed meta-schema that
// describes config rows themselves, and the callbacks an embedder
// hooked onto every update/rollback.
type Core struct {
	store        entity.Store
	cache        *schemacache.Cache
	configSchema schema.Schema
	baseSchema   schema.Schema
	callbacks    txproc.Callbacks
	logger       zerolog.Logger
}

// Config holds the fixed construction-time inputs to New.
type Config struct {
	// Store is the entity/transaction store this Core operates
	// against (spec.md §6, "entity.Store").
	Store entity.Store
	// ConfigSchema validates the config namespace's own Field/Type
	// entities (spec.md §4.3's config-changeset input side). It does
	// not change at runtime: config entities describe the record
	// schema, not themselves.
	ConfigSchema schema.Schema
	// BaseSchema is the floor the record schema cache folds config
	// entities onto: the built-in id/uid/key/type/txIds fields plus
	// whatever fixed types an embedder wants present before any
	// config entity is ever created. schema.New() is a reasonable
	// default for an embedder with no built-in types of its own.
	BaseSchema schema.Schema
	// Callbacks are the optional hooks run around every
	// Update/Rollback (spec.md §4.4, "Callbacks").
	Callbacks txproc.Callbacks
	// CacheSize bounds how many schema snapshots the cache keeps
	// resident at once; 0 defaults to 8.
	CacheSize int
	// Logger is used for structured diagnostics; the zero value
	// (zerolog.Nop()) disables logging.
	Logger zerolog.Logger
}

// New constructs a Core from cfg.
func New(cfg Config) (*Core, error) { //nolint:ireturn
	size := cfg.CacheSize
	if size <= 0 {
		size = 8
	}
	cache, errE := schemacache.New(size)
	if errE != nil {
		return nil, errE
	}

	return &Core{
		store:        cfg.Store,
		cache:        cache,
		configSchema: cfg.ConfigSchema,
		baseSchema:   cfg.BaseSchema,
		callbacks:    cfg.Callbacks,
		logger:       cfg.Logger,
	}, nil
}
