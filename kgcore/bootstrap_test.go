package kgcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/peerdb/kgstore/changesetproc"
	"gitlab.com/peerdb/kgstore/entity"
	"gitlab.com/peerdb/kgstore/kgcore"
	"gitlab.com/peerdb/kgstore/schema"
	"gitlab.com/peerdb/kgstore/txproc"
)

func TestBootstrapConfigSchemaAcceptsFieldAndTypeCreation(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	core, err := kgcore.New(kgcore.Config{ //nolint:exhaustruct
		Store:        store,
		ConfigSchema: kgcore.BootstrapConfigSchema(),
		BaseSchema:   schema.New(),
	})
	require.NoError(t, err)

	_, errE := core.Update(ctx, txproc.TransactionInput{ //nolint:exhaustruct
		Configs: []changesetproc.Input{
			{"type": "Field", "key": "nickname", "dataType": "plaintext"},
			{"type": "Type", "key": "Person", "name": "Person", "fields": []any{"nickname"}},
		},
		Author: "alice",
	})
	require.NoError(t, errE)

	nodeSchema, errE := core.GetNodeSchema(ctx)
	require.NoError(t, errE)
	_, ok := nodeSchema.Fields["nickname"]
	assert.True(t, ok)
	_, ok = nodeSchema.Types["Person"]
	assert.True(t, ok)

	_, errE = core.Update(ctx, txproc.TransactionInput{ //nolint:exhaustruct
		Records: []changesetproc.Input{{"type": "Person", "nickname": "Bud"}},
		Author:  "alice",
	})
	require.NoError(t, errE)
}

func TestBootstrapConfigSchemaRejectsFieldWithoutDataType(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemStore()
	core, err := kgcore.New(kgcore.Config{ //nolint:exhaustruct
		Store:        store,
		ConfigSchema: kgcore.BootstrapConfigSchema(),
		BaseSchema:   schema.New(),
	})
	require.NoError(t, err)

	_, errE := core.Update(ctx, txproc.TransactionInput{ //nolint:exhaustruct
		Configs: []changesetproc.Input{{"type": "Field", "key": "broken"}},
		Author:  "alice",
	})
	require.Error(t, errE)
}
