package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/schema"
)

func baseSchema() schema.Schema {
	s := schema.New()
	s.Fields["name"] = schema.FieldDef{Key: "name", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["age"] = schema.FieldDef{Key: "age", DataType: schema.DataTypeInteger}      //nolint:exhaustruct
	s.Types["thing"] = schema.TypeDef{ //nolint:exhaustruct
		Key: "thing",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "name", Attrs: &schema.FieldAttrs{Required: true, HasRequired: true}}, //nolint:exhaustruct
		},
	}
	s.Types["namedThing"] = schema.TypeDef{ //nolint:exhaustruct
		Key:     "namedThing",
		Extends: "thing",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "age", Attrs: &schema.FieldAttrs{Required: false, HasRequired: true}}, //nolint:exhaustruct
		},
	}
	return s
}

func TestResolveFieldsMergesAncestorChain(t *testing.T) {
	s := baseSchema()
	fields, errE := s.ResolveFields("namedThing")
	require.NoError(t, errE)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "age")
	assert.True(t, fields["name"].Attrs.Required)
}

func TestMandatoryFieldsExcludesFixedValue(t *testing.T) {
	s := baseSchema()
	s.Types["fixedThing"] = schema.TypeDef{ //nolint:exhaustruct
		Key: "fixedThing",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "name", Attrs: &schema.FieldAttrs{Required: true, HasRequired: true}},                    //nolint:exhaustruct
			{FieldKey: "age", Attrs: &schema.FieldAttrs{Required: true, HasRequired: true, HasValue: true, Value: 42}}, //nolint:exhaustruct
		},
	}
	mandatory, errE := s.MandatoryFields("fixedThing")
	require.NoError(t, errE)
	assert.Contains(t, mandatory, "name")
	assert.NotContains(t, mandatory, "age")
}

func TestAncestorChainDetectsCycle(t *testing.T) {
	s := schema.New()
	s.Types["a"] = schema.TypeDef{Key: "a", Extends: "b"} //nolint:exhaustruct
	s.Types["b"] = schema.TypeDef{Key: "b", Extends: "a"} //nolint:exhaustruct
	_, errE := s.ResolveFields("a")
	require.Error(t, errE)
	assert.Contains(t, errE.Error(), "cyclic")
}

func TestResolveFieldsUnknownType(t *testing.T) {
	s := schema.New()
	_, errE := s.ResolveFields("missing")
	require.Error(t, errE)
}

func TestWhenMatches(t *testing.T) {
	w := &schema.When{Field: "status", Op: schema.PredicateEquals, Value: "active"} //nolint:exhaustruct
	assert.True(t, w.Matches(map[string]any{"status": "active"}))
	assert.False(t, w.Matches(map[string]any{"status": "inactive"}))

	exists := &schema.When{Field: "tag", Op: schema.PredicateExists} //nolint:exhaustruct
	assert.True(t, exists.Matches(map[string]any{"tag": "x"}))
	assert.False(t, exists.Matches(map[string]any{}))

	oneOf := &schema.When{Field: "tag", Op: schema.PredicateOneOf, Values: []any{"a", "b"}} //nolint:exhaustruct
	assert.True(t, oneOf.Matches(map[string]any{"tag": "b"}))
	assert.False(t, oneOf.Matches(map[string]any{"tag": "c"}))
}

func TestFieldDefValidateRejectsUniqueAllowMultiple(t *testing.T) {
	f := schema.FieldDef{Key: "x", DataType: schema.DataTypePlaintext, Unique: true, AllowMultiple: true} //nolint:exhaustruct
	errE := f.Validate()
	require.Error(t, errE)
}

func TestValidateValueScalarTypes(t *testing.T) {
	require.NoError(t, schema.ValidateValue(schema.FieldDef{DataType: schema.DataTypeBoolean}, true))      //nolint:exhaustruct
	require.Error(t, schema.ValidateValue(schema.FieldDef{DataType: schema.DataTypeBoolean}, "nope"))      //nolint:exhaustruct
	require.NoError(t, schema.ValidateValue(schema.FieldDef{DataType: schema.DataTypeInteger}, float64(3))) //nolint:exhaustruct
	require.Error(t, schema.ValidateValue(schema.FieldDef{DataType: schema.DataTypeInteger}, 3.5))          //nolint:exhaustruct
}

func TestValidateValueAllowMultipleWrapsElementwise(t *testing.T) {
	def := schema.FieldDef{DataType: schema.DataTypeInteger, AllowMultiple: true} //nolint:exhaustruct
	require.NoError(t, schema.ValidateValue(def, []any{float64(1), float64(2)}))
	errE := schema.ValidateValue(def, []any{float64(1), "bad"})
	require.Error(t, errE)
	assert.Equal(t, 1, errors.Details(errE)["index"])
}

func TestValidateValueUID(t *testing.T) {
	def := schema.FieldDef{DataType: schema.DataTypeUID} //nolint:exhaustruct
	require.Error(t, schema.ValidateValue(def, "not-a-uid!"))
}

func TestValidateValueOption(t *testing.T) {
	def := schema.FieldDef{ //nolint:exhaustruct
		DataType: schema.DataTypeOption,
		Options:  []schema.OptionDef{{Key: "red"}, {Key: "blue"}},
	}
	require.NoError(t, schema.ValidateValue(def, "red"))
	require.Error(t, schema.ValidateValue(def, "green"))
}

func TestValidateValueRelationTuple(t *testing.T) {
	def := schema.FieldDef{DataType: schema.DataTypeRelation} //nolint:exhaustruct
	require.NoError(t, schema.ValidateValue(def, "someref"))
	require.NoError(t, schema.ValidateValue(def, []any{"someref", map[string]any{"amount": float64(1)}}))
	require.Error(t, schema.ValidateValue(def, []any{"someref"}))
}

func TestValidateValueQuery(t *testing.T) {
	def := schema.FieldDef{DataType: schema.DataTypeQuery} //nolint:exhaustruct
	require.NoError(t, schema.ValidateValue(def, map[string]any{
		"filters": []any{map[string]any{"field": "status", "op": "eq", "value": "x"}},
	}))
	require.Error(t, schema.ValidateValue(def, map[string]any{
		"filters": []any{map[string]any{"field": "status", "op": "bogus"}},
	}))
}
