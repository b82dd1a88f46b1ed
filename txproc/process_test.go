package txproc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/changesetproc"
	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/schema"
	"gitlab.com/peerdb/kgstore/schemacache"
	"gitlab.com/peerdb/kgstore/txproc"
)

func widgetSchema() schema.Schema {
	s := schema.New()
	s.Fields["name"] = schema.FieldDef{Key: "name", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Types["Widget"] = schema.TypeDef{
		Key:    "Widget",
		Name:   "Widget",
		Fields: []schema.TypeFieldRef{{FieldKey: "name", Attrs: nil}},
	}
	return s
}

func fieldConfigSchema() schema.Schema {
	s := schema.New()
	s.Fields["dataType"] = schema.FieldDef{Key: "dataType", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Types["Field"] = schema.TypeDef{
		Key:  "Field",
		Name: "Field",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "key", Attrs: nil},
			{FieldKey: "dataType", Attrs: nil},
		},
	}
	return s
}

func projectTaskSchema() schema.Schema {
	s := schema.New()
	s.Fields["project"] = schema.FieldDef{Key: "project", DataType: schema.DataTypeRelation} //nolint:exhaustruct
	s.Fields["tasks"] = schema.FieldDef{Key: "tasks", DataType: schema.DataTypeRelation, AllowMultiple: true, InverseOf: "project"} //nolint:exhaustruct
	s.Types["Project"] = schema.TypeDef{
		Key:    "Project",
		Name:   "Project",
		Fields: []schema.TypeFieldRef{{FieldKey: "tasks", Attrs: nil}},
	}
	s.Types["Task"] = schema.TypeDef{
		Key:    "Task",
		Name:   "Task",
		Fields: []schema.TypeFieldRef{{FieldKey: "project", Attrs: nil}},
	}
	return s
}

// TestRunUpdateTranslatesInverseSeqMutationOnUpdate is scenario S5: an
// update inserting into a parent's allowMultiple inverseOf field must
// translate to an update on the child's own field, carrying no
// changeset entry for the parent itself.
func TestRunUpdateTranslatesInverseSeqMutationOnUpdate(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	const projectUID = "abcdefghpr"
	const taskUID = "nopqrstuvw"

	require.NoError(t, store.CreateEntity(ctx, entity.NamespaceRecord, changeset.Fieldset{
		"id": int64(1), "uid": projectUID, "key": "pr1", "type": "Project",
	}))
	require.NoError(t, store.CreateEntity(ctx, entity.NamespaceRecord, changeset.Fieldset{
		"id": int64(2), "uid": taskUID, "key": "t2", "type": "Task", "project": nil,
	}))

	tx, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), projectTaskSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"$ref": "pr1", "tasks": []any{[]any{"insert", "t2"}}}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	_, onParent := tx.Records[projectUID]
	assert.False(t, onParent, `records["pr1"] must be absent`)

	taskChangeset, ok := tx.Records[taskUID]
	require.True(t, ok, `records["t2"] must carry the translated update`)
	require.Len(t, taskChangeset, 1)
	projectOp, ok := taskChangeset["project"].(changeset.SetOp)
	require.True(t, ok)
	assert.Equal(t, projectUID, projectOp.Value)
	assert.True(t, projectOp.HasPrevious)
	assert.Nil(t, projectOp.Previous)

	fields, errE := store.FetchEntityFieldset(ctx, entity.NamespaceRecord, entity.RefByUID(taskUID), nil)
	require.NoError(t, errE)
	assert.Equal(t, projectUID, fields["project"])
}

func TestRunUpdateCreatesEntityAndAdvancesVersion(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	tx, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Thing"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	assert.Equal(t, int64(1), tx.ID)
	assert.Equal(t, entity.GenesisHash, tx.Previous)
	assert.Len(t, tx.Hash, 64) //nolint:gomnd
	assert.NotEqual(t, entity.GenesisHash, tx.Hash)

	version, errE := store.GetVersion(ctx)
	require.NoError(t, errE)
	assert.Equal(t, tx.ID, version.ID)
	assert.Equal(t, tx.Hash, version.Hash)

	var uid string
	for u := range tx.Records {
		uid = u
	}
	require.NotEmpty(t, uid)

	fields, errE := store.FetchEntityFieldset(ctx, entity.NamespaceRecord, entity.RefByUID(uid), nil)
	require.NoError(t, errE)
	assert.Equal(t, "Thing", fields["name"])
	assert.Equal(t, []any{float64(1)}, fields["txIds"])
}

func TestRunUpdateChainsHashToPriorTip(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	tx1, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "First"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	tx2, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Second"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	assert.Equal(t, int64(2), tx2.ID)
	assert.Equal(t, tx1.Hash, tx2.Previous)
	assert.NotEqual(t, tx1.Hash, tx2.Hash)
}

func TestRollbackOfCreateRestoresGenesis(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	tx, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Thing"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	var uid string
	for u := range tx.Records {
		uid = u
	}

	reverted, errE := txproc.RunRollback(ctx, store, nil, 1, 1, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)
	require.Len(t, reverted, 1)
	assert.Equal(t, tx.ID, reverted[0].ID)

	version, errE := store.GetVersion(ctx)
	require.NoError(t, errE)
	assert.Equal(t, int64(0), version.ID)
	assert.Equal(t, entity.GenesisHash, version.Hash)

	_, errE = store.FetchEntityFieldset(ctx, entity.NamespaceRecord, entity.RefByUID(uid), nil)
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, entity.ErrNotFound))
}

func TestRollbackOfUpdateRestoresPreviousValue(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	tx1, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Old"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	var uid string
	for u := range tx1.Records {
		uid = u
	}

	_, errE = txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"$ref": uid, "name": "New"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	fields, errE := store.FetchEntityFieldset(ctx, entity.NamespaceRecord, entity.RefByUID(uid), nil)
	require.NoError(t, errE)
	assert.Equal(t, "New", fields["name"])
	assert.Equal(t, []any{float64(1), float64(2)}, fields["txIds"])

	reverted, errE := txproc.RunRollback(ctx, store, nil, 1, 2, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)
	require.Len(t, reverted, 1)

	fields, errE = store.FetchEntityFieldset(ctx, entity.NamespaceRecord, entity.RefByUID(uid), nil)
	require.NoError(t, errE)
	assert.Equal(t, "Old", fields["name"])
	assert.Equal(t, []any{float64(1)}, fields["txIds"])

	version, errE := store.GetVersion(ctx)
	require.NoError(t, errE)
	assert.Equal(t, int64(1), version.ID)
	assert.Equal(t, tx1.Hash, version.Hash)
}

func TestRollbackRejectsVersionMismatch(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	_, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Thing"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	_, errE = txproc.RunRollback(ctx, store, nil, 1, 999, txproc.Callbacks{}) //nolint:exhaustruct
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, txproc.ErrVersionMismatch))
}

func TestRollbackRejectsCountBeyondTip(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	_, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Thing"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	_, errE = txproc.RunRollback(ctx, store, nil, 2, 1, txproc.Callbacks{}) //nolint:exhaustruct
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, txproc.ErrInvalidRollback))
}

func TestRollbackRejectsZeroCount(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	_, errE := txproc.RunRollback(ctx, store, nil, 0, 0, txproc.Callbacks{}) //nolint:exhaustruct
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, txproc.ErrInvalidRollback))
}

func TestRunUpdateInvalidatesSchemaCacheOnlyWhenConfigsWritten(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	cache, errE := schemacache.New(4)
	require.NoError(t, errE)

	_, updated := cache.Watch()

	_, errE = txproc.RunUpdate(ctx, store, cache, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Thing"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	select {
	case <-updated:
		t.Fatal("a record-only update must not invalidate the schema cache")
	default:
	}

	_, errE = txproc.RunUpdate(ctx, store, cache, fieldConfigSchema(), widgetSchema(), txproc.TransactionInput{
		Configs: []changesetproc.Input{{"type": "Field", "key": "nickname", "dataType": "plaintext"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, errE)

	select {
	case <-updated:
	default:
		t.Fatal("a config write must invalidate the schema cache")
	}
}

func TestRunUpdateRejectsRecordTypeMissingFromFoldedSchema(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	base := schema.New()
	tx, errE := txproc.RunUpdate(ctx, store, nil, fieldConfigSchema(), base, txproc.TransactionInput{
		Configs: []changesetproc.Input{{"type": "Field", "key": "nickname", "dataType": "plaintext"}},
		Records: []changesetproc.Input{{"type": "Person", "nickname": "Bud"}},
		Author:  "alice",
	}, txproc.Callbacks{}) //nolint:exhaustruct
	require.Error(t, errE, "the base node schema has no Person type yet; folding only adds fields/types, it does not wire a type not already referencing them")
	_ = tx
}

func TestRunUpdateCallbacksFireInOrder(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	var order []string
	callbacks := txproc.Callbacks{
		BeforeTransaction: func(_ context.Context, _ entity.TransactionRow) (txproc.RollbackFunc, errors.E) {
			order = append(order, "before-transaction")
			return nil, nil
		},
		BeforeCommit: func(_ context.Context, _ entity.TransactionRow) errors.E {
			order = append(order, "before-commit")
			return nil
		},
		AfterCommit: func(_ context.Context, _ entity.TransactionRow) {
			order = append(order, "after-commit")
		},
		AfterRollback: nil,
	}

	_, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Thing"}},
		Author:  "alice",
	}, callbacks)
	require.NoError(t, errE)

	assert.Equal(t, []string{"before-transaction", "before-commit", "after-commit"}, order)
}

func TestRunUpdateRunsRollbackFuncOnFailure(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()

	rolledBack := false
	callbacks := txproc.Callbacks{
		BeforeTransaction: func(_ context.Context, _ entity.TransactionRow) (txproc.RollbackFunc, errors.E) {
			return func(context.Context) { rolledBack = true }, nil
		},
		BeforeCommit: func(_ context.Context, _ entity.TransactionRow) errors.E {
			return errors.Base("synthetic failure")
		},
		AfterCommit:   nil,
		AfterRollback: nil,
	}

	_, errE := txproc.RunUpdate(ctx, store, nil, schema.New(), widgetSchema(), txproc.TransactionInput{
		Records: []changesetproc.Input{{"type": "Widget", "name": "Thing"}},
		Author:  "alice",
	}, callbacks)
	require.Error(t, errE)
	assert.True(t, rolledBack)

	version, errE := store.GetVersion(ctx)
	require.NoError(t, errE)
	assert.Equal(t, int64(0), version.ID, "a failed BeforeCommit must never save the transaction")
}
