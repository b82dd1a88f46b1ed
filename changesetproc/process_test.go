package changesetproc_test

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

func TestProcessCreateAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	var lastID int64

	fc, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, widgetSchema(),
		[]changesetproc.Input{{"type": "Widget", "name": "Thing"}}, &lastID)
	require.NoError(t, errE)
	require.Len(t, fc, 1)

	for _, set := range fc {
		idOp, ok := set["id"].(changeset.SetOp)
		require.True(t, ok)
		assert.Equal(t, float64(1), idOp.Value)
		assert.False(t, idOp.HasPrevious)

		typeOp, ok := set["type"].(changeset.SetOp)
		require.True(t, ok)
		assert.Equal(t, "Widget", typeOp.Value)

		nameOp, ok := set["name"].(changeset.SetOp)
		require.True(t, ok)
		assert.Equal(t, "Thing", nameOp.Value)

		_, ok = set["uid"].(changeset.SetOp)
		assert.True(t, ok)
	}
	assert.Equal(t, int64(1), lastID)
}

func TestProcessUpdateRecordsPrevious(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	require.NoError(t, store.CreateEntity(ctx, entity.NamespaceRecord, changeset.Fieldset{
		"id": int64(1), "uid": "abcdefghi1", "type": "Widget", "name": "Old",
	}))
	var lastID int64 = 1

	fc, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, widgetSchema(),
		[]changesetproc.Input{{"$ref": "abcdefghi1", "name": "New"}}, &lastID)
	require.NoError(t, errE)

	set, ok := fc["abcdefghi1"]
	require.True(t, ok)
	nameOp, ok := set["name"].(changeset.SetOp)
	require.True(t, ok)
	assert.Equal(t, "New", nameOp.Value)
	assert.True(t, nameOp.HasPrevious)
	assert.Equal(t, "Old", nameOp.Previous)
}

func TestProcessUpdateRejectsImmutableField(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	require.NoError(t, store.CreateEntity(ctx, entity.NamespaceRecord, changeset.Fieldset{
		"id": int64(1), "uid": "abcdefghi1", "type": "Widget", "name": "Old",
	}))
	var lastID int64 = 1

	_, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, widgetSchema(),
		[]changesetproc.Input{{"$ref": "abcdefghi1", "type": "Other"}}, &lastID)
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, changesetproc.ErrProcessFailed))
}

func TestProcessRejectsSystemFieldOnCreate(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	var lastID int64

	_, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, widgetSchema(),
		[]changesetproc.Input{{"type": "Widget", "name": "Thing", "id": float64(5)}}, &lastID)
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, changesetproc.ErrProcessFailed))
}

func TestProcessRejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	var lastID int64

	_, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, widgetSchema(),
		[]changesetproc.Input{{"type": "Widget", "nope": "x"}}, &lastID)
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, changesetproc.ErrProcessFailed))
}

func personSchema() schema.Schema {
	s := schema.New()
	s.Fields["kind"] = schema.FieldDef{Key: "kind", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["ssn"] = schema.FieldDef{Key: "ssn", DataType: schema.DataTypePlaintext}    //nolint:exhaustruct
	s.Types["Person"] = schema.TypeDef{
		Key:  "Person",
		Name: "Person",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "kind", Attrs: nil},
			{FieldKey: "ssn", Attrs: &schema.FieldAttrs{ //nolint:exhaustruct
				HasRequired: true,
				Required:    true,
				When:        &schema.When{Field: "kind", Op: schema.PredicateEquals, Value: "citizen"}, //nolint:exhaustruct
			}},
		},
	}
	return s
}

func TestProcessConditionalRequiredField(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	var lastID int64

	_, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, personSchema(),
		[]changesetproc.Input{{"type": "Person", "kind": "citizen"}}, &lastID)
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, changesetproc.ErrProcessFailed))

	fc, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, personSchema(),
		[]changesetproc.Input{{"type": "Person", "kind": "citizen", "ssn": "123-45-6789"}}, &lastID)
	require.NoError(t, errE)
	assert.Len(t, fc, 1)

	fc, errE = changesetproc.Process(ctx, store, entity.NamespaceRecord, personSchema(),
		[]changesetproc.Input{{"type": "Person", "kind": "visitor"}}, &lastID)
	require.NoError(t, errE)
	assert.Len(t, fc, 1)
}

func employeeSchema() schema.Schema {
	s := schema.New()
	s.Fields["name"] = schema.FieldDef{Key: "name", DataType: schema.DataTypePlaintext}        //nolint:exhaustruct
	s.Fields["manager"] = schema.FieldDef{Key: "manager", DataType: schema.DataTypeRelation}    //nolint:exhaustruct
	s.Types["Employee"] = schema.TypeDef{
		Key:  "Employee",
		Name: "Employee",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "name", Attrs: nil},
			{FieldKey: "manager", Attrs: nil},
		},
	}
	return s
}

func TestProcessResolvesIntraBatchKey(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	var lastID int64

	fc, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, employeeSchema(),
		[]changesetproc.Input{
			{"type": "Employee", "key": "boss", "name": "Boss"},
			{"type": "Employee", "name": "Report", "manager": "boss"},
		}, &lastID)
	require.NoError(t, errE)
	require.Len(t, fc, 2)

	var bossUID string
	for u, set := range fc {
		if nameOp, ok := set["name"].(changeset.SetOp); ok && nameOp.Value == "Boss" {
			bossUID = u
		}
	}
	require.NotEmpty(t, bossUID)

	for _, set := range fc {
		if nameOp, ok := set["name"].(changeset.SetOp); ok && nameOp.Value == "Report" {
			managerOp, ok := set["manager"].(changeset.SetOp)
			require.True(t, ok)
			assert.Equal(t, bossUID, managerOp.Value)
		}
	}
}

func nodeSchema() schema.Schema {
	s := schema.New()
	s.Fields["name"] = schema.FieldDef{Key: "name", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["parent"] = schema.FieldDef{Key: "parent", DataType: schema.DataTypeRelation}                                   //nolint:exhaustruct
	s.Fields["children"] = schema.FieldDef{Key: "children", DataType: schema.DataTypeRelation, AllowMultiple: true, InverseOf: "parent"} //nolint:exhaustruct
	s.Types["Node"] = schema.TypeDef{
		Key:  "Node",
		Name: "Node",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "name", Attrs: nil},
			{FieldKey: "children", Attrs: nil},
		},
	}
	return s
}

func TestProcessTranslatesInverseFieldOnCreate(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	require.NoError(t, store.CreateEntity(ctx, entity.NamespaceRecord, changeset.Fieldset{
		"id": int64(1), "uid": "abcdefghi1", "key": "child1", "type": "Node", "name": "Child",
	}))
	var lastID int64 = 1

	fc, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, nodeSchema(),
		[]changesetproc.Input{{"type": "Node", "name": "Parent", "children": []any{"child1"}}}, &lastID)
	require.NoError(t, errE)
	require.Len(t, fc, 2)

	var parentUID string
	for u, set := range fc {
		if nameOp, ok := set["name"].(changeset.SetOp); ok && nameOp.Value == "Parent" {
			parentUID = u
			_, hasChildren := set["children"]
			assert.False(t, hasChildren, "children must not remain on the parent's own changeset")
		}
	}
	require.NotEmpty(t, parentUID)

	childSet, ok := fc["abcdefghi1"]
	require.True(t, ok)
	parentOp, ok := childSet["parent"].(changeset.SetOp)
	require.True(t, ok)
	assert.Equal(t, parentUID, parentOp.Value)
	assert.True(t, parentOp.HasPrevious)
	assert.Nil(t, parentOp.Previous)
}

func contactSchema() schema.Schema {
	s := schema.New()
	s.Fields["email"] = schema.FieldDef{Key: "email", DataType: schema.DataTypePlaintext, Unique: true} //nolint:exhaustruct
	s.Types["Contact"] = schema.TypeDef{
		Key:    "Contact",
		Name:   "Contact",
		Fields: []schema.TypeFieldRef{{FieldKey: "email", Attrs: nil}},
	}
	return s
}

func TestProcessRejectsDuplicateUniqueValue(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	require.NoError(t, store.CreateEntity(ctx, entity.NamespaceRecord, changeset.Fieldset{
		"id": int64(1), "uid": "abcdefghi1", "type": "Contact", "email": "a@example.com",
	}))
	var lastID int64 = 1

	_, errE := changesetproc.Process(ctx, store, entity.NamespaceRecord, contactSchema(),
		[]changesetproc.Input{{"type": "Contact", "email": "a@example.com"}}, &lastID)
	require.Error(t, errE)
	assert.True(t, errors.Is(errE, changesetproc.ErrProcessFailed))
	assert.Equal(t, int64(1), lastID, "lastID must not advance on a failed input")
}

func TestApplyConfigChangesetToSchema(t *testing.T) {
	base := schema.New()

	fieldUID := "fielduid01"
	typeUID := "typeuid001"
	cs := changeset.EntitiesChangeset{
		fieldUID: changeset.FieldChangeset{
			"id":       changeset.Set(float64(100)),
			"uid":      changeset.Set(fieldUID),
			"type":     changeset.Set("Field"),
			"key":      changeset.Set("nickname"),
			"dataType": changeset.Set("plaintext"),
		},
		typeUID: changeset.FieldChangeset{
			"id":     changeset.Set(float64(101)),
			"uid":    changeset.Set(typeUID),
			"type":   changeset.Set("Type"),
			"key":    changeset.Set("Nicknamed"),
			"name":   changeset.Set("Nicknamed"),
			"fields": changeset.Set([]any{"nickname"}),
		},
	}

	out, errE := changesetproc.ApplyConfigChangesetToSchema(base, cs)
	require.NoError(t, errE)

	def, ok := out.Fields["nickname"]
	require.True(t, ok)
	assert.Equal(t, schema.DataTypePlaintext, def.DataType)

	typeDef, ok := out.Types["Nicknamed"]
	require.True(t, ok)
	require.Len(t, typeDef.Fields, 1)
	assert.Equal(t, "nickname", typeDef.Fields[0].FieldKey)

	_, ok = base.Fields["nickname"]
	assert.False(t, ok, "base schema must not be mutated")
}

func TestApplyConfigChangesetToSchemaSkipsUpdates(t *testing.T) {
	base := schema.New()
	cs := changeset.EntitiesChangeset{
		"fielduid01": changeset.FieldChangeset{
			"name": changeset.SetPrevious("new", "old"),
		},
	}
	out, errE := changesetproc.ApplyConfigChangesetToSchema(base, cs)
	require.NoError(t, errE)
	assert.Equal(t, base.Fields, out.Fields)
	assert.Equal(t, base.Types, out.Types)
}
