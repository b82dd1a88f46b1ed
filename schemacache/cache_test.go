package schemacache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/schema"
	"gitlab.com/peerdb/kgstore/schemacache"
)

func TestCacheLoadsOncePerTip(t *testing.T) {
	ctx := context.Background()
	cache, errE := schemacache.New(4)
	require.NoError(t, errE)

	loads := 0
	load := func(context.Context) (schema.Schema, errors.E) {
		loads++
		s := schema.New()
		s.Fields["loaded"] = schema.FieldDef{Key: "loaded", DataType: schema.DataTypeBoolean} //nolint:exhaustruct
		return s, nil
	}

	s1, errE := cache.Get(ctx, 1, load)
	require.NoError(t, errE)
	_, ok := s1.Fields["loaded"]
	assert.True(t, ok)
	assert.Equal(t, 1, loads)

	s2, errE := cache.Get(ctx, 1, load)
	require.NoError(t, errE)
	assert.Equal(t, s1, s2)
	assert.Equal(t, 1, loads, "second Get for the same tip must not reload")

	cache.Invalidate()

	_, errE = cache.Get(ctx, 1, load)
	require.NoError(t, errE)
	assert.Equal(t, 2, loads, "Get after Invalidate must reload even for a previously-cached tip")
}

func TestCacheMissCountResetsOnRead(t *testing.T) {
	ctx := context.Background()
	cache, errE := schemacache.New(4)
	require.NoError(t, errE)

	load := func(context.Context) (schema.Schema, errors.E) {
		return schema.New(), nil
	}

	_, errE = cache.Get(ctx, 1, load)
	require.NoError(t, errE)
	_, errE = cache.Get(ctx, 2, load)
	require.NoError(t, errE)

	assert.Equal(t, uint64(2), cache.MissCount())
	assert.Equal(t, uint64(0), cache.MissCount(), "MissCount must reset after being read")
}

func TestCacheWatchFiresOnInvalidate(t *testing.T) {
	cache, errE := schemacache.New(4)
	require.NoError(t, errE)

	version, updated := cache.Watch()
	assert.Equal(t, int64(0), version)

	cache.Invalidate()

	select {
	case <-updated:
	default:
		t.Fatal("expected Watch channel to fire after Invalidate")
	}

	next, _ := cache.Watch()
	assert.Equal(t, int64(1), next)
}
