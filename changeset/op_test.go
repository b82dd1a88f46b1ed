package changeset_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/peerdb/kgstore/changeset"
)

func TestSetOpInverseLaw(t *testing.T) {
	start := changeset.Fieldset{"title": "T1"}

	changes := changeset.FieldChangeset{
		"title": changeset.SetPrevious("T2", "T1"),
	}

	after, errE := changeset.Apply(start, changes)
	require.NoError(t, errE)
	assert.Equal(t, "T2", after["title"])

	inverse := changeset.Invert(changes)
	restored, errE := changeset.Apply(after, inverse)
	require.NoError(t, errE)
	assert.Equal(t, start, restored)
}

func TestSetOpCreateDeleteInverse(t *testing.T) {
	start := changeset.Fieldset{}
	create := changeset.FieldChangeset{"id": changeset.Set(float64(1))}

	after, errE := changeset.Apply(start, create)
	require.NoError(t, errE)
	assert.Equal(t, float64(1), after["id"])

	inverse := changeset.Invert(create)
	op, ok := inverse["id"].(changeset.SetOp)
	require.True(t, ok)
	assert.False(t, op.HasValue)
	assert.True(t, op.HasPrevious)
	assert.Equal(t, float64(1), op.Previous)

	restored, errE := changeset.Apply(after, inverse)
	require.NoError(t, errE)
	_, exists := restored["id"]
	assert.False(t, exists)
}

func TestSeqOpInsertRemoveInverse(t *testing.T) {
	start := changeset.Fieldset{"tags": []any{"a", "b"}}

	changes := changeset.FieldChangeset{
		"tags": changeset.Seq(
			changeset.ListMutation{Kind: changeset.MutationInsert, Value: "c"},
		),
	}

	after, errE := changeset.Apply(start, changes)
	require.NoError(t, errE)
	assert.Equal(t, []any{"a", "b", "c"}, after["tags"])

	inverse := changeset.Invert(changes)
	restored, errE := changeset.Apply(after, inverse)
	require.NoError(t, errE)
	assert.Equal(t, start["tags"], restored["tags"])
}

func TestSeqOpPatchInverse(t *testing.T) {
	start := changeset.Fieldset{
		"items": []any{
			map[string]any{"key": "x1", "amount": float64(1)},
		},
	}

	changes := changeset.FieldChangeset{
		"items": changeset.Seq(
			changeset.ListMutation{
				Kind:       changeset.MutationPatch,
				PatchKey:   "x1",
				Attrs:      map[string]any{"amount": float64(2)},
				PriorAttrs: map[string]any{"amount": float64(1)},
			},
		),
	}

	after, errE := changeset.Apply(start, changes)
	require.NoError(t, errE)
	list := after["items"].([]any)
	assert.Equal(t, float64(2), list[0].(map[string]any)["amount"])

	inverse := changeset.Invert(changes)
	restored, errE := changeset.Apply(after, inverse)
	require.NoError(t, errE)
	restoredList := restored["items"].([]any)
	assert.Equal(t, float64(1), restoredList[0].(map[string]any)["amount"])
}

func TestRemoveIndexMismatchFails(t *testing.T) {
	start := changeset.Fieldset{"tags": []any{"a", "b", "c"}}
	badIndex := 0
	changes := changeset.FieldChangeset{
		"tags": changeset.Seq(
			changeset.ListMutation{Kind: changeset.MutationRemove, Value: "c", Index: &badIndex},
		),
	}
	_, errE := changeset.Apply(start, changes)
	assert.Error(t, errE)
}

func TestListMutationInputUnmarshalJSON(t *testing.T) {
	raw := `["insert", "t2", null]`
	var m changeset.ListMutationInput
	err := json.Unmarshal([]byte(raw), &m)
	require.NoError(t, err)
	assert.Equal(t, changeset.MutationInsert, m.Kind)
	assert.Equal(t, "t2", m.Value)
}
