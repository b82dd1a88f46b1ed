package txproc

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/identifier"

	"gitlab.com/peerdb/kgstore/changesetproc"
	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/schema"
)

// ProcessTransactionInput runs spec.md §4.4's processTransactionInput:
// it processes input.Configs against configSchema, folds the resulting
// changeset into nodeSchema (so a config entity created earlier in the
// same call is already visible to record validation), processes
// input.Records against the folded schema, and hashes the result onto
// the chain. The returned row is not yet applied to store or saved;
// call ApplyTransaction and store.SaveTransaction (or
// ApplyAndSaveTransaction) to commit it.
func ProcessTransactionInput(
	ctx context.Context, store entity.Store,
	configSchema, nodeSchema schema.Schema, input TransactionInput,
) (entity.TransactionRow, errors.E) {
	correlationID := identifier.New()
	log := zerolog.Ctx(ctx).With().Str("correlationId", correlationID.String()).Logger()

	version, errE := store.GetVersion(ctx)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	lastConfigID, errE := store.GetLastEntityID(ctx, entity.NamespaceConfig)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}
	configs, errE := changesetproc.Process(ctx, store, entity.NamespaceConfig, configSchema, input.Configs, &lastConfigID)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	foldedSchema, errE := changesetproc.ApplyConfigChangesetToSchema(nodeSchema, configs)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	lastRecordID, errE := store.GetLastEntityID(ctx, entity.NamespaceRecord)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}
	records, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, foldedSchema, input.Records, &lastRecordID)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	hash, errE := CanonicalHash(version.Hash, input.Author, createdAt, configs, records)
	if errE != nil {
		return entity.TransactionRow{}, errE //nolint:exhaustruct
	}

	log.Debug().Int64("tx", version.ID+1).Msg("transaction processed")

	return entity.TransactionRow{
		ID:        version.ID + 1,
		Hash:      hash,
		Previous:  version.Hash,
		Configs:   configs,
		Records:   records,
		Author:    input.Author,
		Fields:    nil,
		CreatedAt: createdAt,
	}, nil
}
