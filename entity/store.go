package entity

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
)

// ErrNotFound is returned when a ref does not resolve to any entity, or
// a requested transaction row does not exist.
var ErrNotFound = errors.Base("entity not found")

// Store is the entity store adapter the core depends on (spec.md §6,
// "Entity store (consumed by the core)"). All methods run against
// whatever storage transaction ctx carries; callers are responsible for
// wrapping a logical operation in one via a retry helper such as
// internal/pg.RetryTransaction.
type Store interface {
	// FetchEntityFieldset returns only the requested field keys for ref;
	// identity fields are included only when requested. keys == nil
	// fetches the whole fieldset.
	FetchEntityFieldset(ctx context.Context, ns Namespace, ref Ref, keys []string) (changeset.Fieldset, errors.E)

	// FetchEntity returns the full stored entity for ref.
	FetchEntity(ctx context.Context, ns Namespace, ref Ref) (Entity, errors.E)

	// CreateEntity inserts a new row. fieldset must already carry id and
	// uid (and key, for config entities).
	CreateEntity(ctx context.Context, ns Namespace, fieldset changeset.Fieldset) errors.E

	// UpdateEntity shallow-merges patch into ref's stored fieldset,
	// deleting keys whose patch value is nil.
	UpdateEntity(ctx context.Context, ns Namespace, ref Ref, patch changeset.Fieldset) errors.E

	// DeleteEntity removes ref's row entirely.
	DeleteEntity(ctx context.Context, ns Namespace, ref Ref) errors.E

	// EntityExists reports whether ref resolves to a stored entity.
	EntityExists(ctx context.Context, ns Namespace, ref Ref) (bool, errors.E)

	// ResolveEntityRefs resolves each ref to its uid, in order. A ref
	// that does not resolve yields an empty string at its position.
	ResolveEntityRefs(ctx context.Context, ns Namespace, refs []Ref) ([]string, errors.E)

	// GetLastEntityID returns the highest id assigned so far in ns, or 0
	// if ns has no entities.
	GetLastEntityID(ctx context.Context, ns Namespace) (int64, errors.E)

	// FindByFieldValue is the uniqueness probe (spec.md §4.3 step 6):
	// find another entity in ns with field == value, excluding exclude
	// (if given). ok is false when no such entity exists.
	FindByFieldValue(ctx context.Context, ns Namespace, field string, value any, exclude *Ref) (ref Ref, ok bool, errE errors.E)

	// GetVersion returns the current tip of the transaction chain.
	GetVersion(ctx context.Context) (Version, errors.E)

	// FetchTransaction returns the transaction row with the given id.
	FetchTransaction(ctx context.Context, id int64) (TransactionRow, errors.E)

	// SaveTransaction appends a new transaction row. row.ID must be the
	// current tip id + 1.
	SaveTransaction(ctx context.Context, row TransactionRow) errors.E

	// DeleteTransactionsFrom deletes every transaction row with
	// id >= fromID and returns the deleted rows in descending id order.
	DeleteTransactionsFrom(ctx context.Context, fromID int64) ([]TransactionRow, errors.E)
}
