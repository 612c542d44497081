// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package entries_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/collections/entries"
	"storj.io/collections/private/kvstore"
	"storj.io/collections/private/kvstore/teststore"
	"storj.io/common/testcontext"
)

func TestRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := entries.New(zaptest.NewLogger(t), teststore.New())

	_, err := db.Get(ctx, "docs", "readme")
	require.True(t, entries.ErrNotFound.Has(err))

	first := entries.Entry{Value: []byte("v1"), Tags: [][]byte{[]byte("alpha")}}
	require.NoError(t, db.Put(ctx, "docs", "readme", first))

	got, err := db.Get(ctx, "docs", "readme")
	require.NoError(t, err)
	require.Equal(t, first.Value, got.Value)
	require.Equal(t, first.Tags, got.Tags)

	// last write wins and replaces tags
	second := entries.Entry{Value: []byte("v2")}
	require.NoError(t, db.Put(ctx, "docs", "readme", second))
	got, err = db.Get(ctx, "docs", "readme")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got.Value)
	require.Empty(t, got.Tags)

	require.NoError(t, db.Delete(ctx, "docs", "readme"))
	require.NoError(t, db.Delete(ctx, "docs", "readme"))
	_, err = db.Get(ctx, "docs", "readme")
	require.True(t, entries.ErrNotFound.Has(err))
}

func TestCreate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := entries.New(zaptest.NewLogger(t), teststore.New())

	require.NoError(t, db.Create(ctx, "c", "k", entries.Entry{Value: []byte("first")}))
	err := db.Create(ctx, "c", "k", entries.Entry{Value: []byte("second")})
	require.True(t, entries.ErrExists.Has(err))

	got, err := db.Get(ctx, "c", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got.Value)
}

func TestCollectionsAreDisjoint(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := entries.New(zaptest.NewLogger(t), teststore.New())

	// "a" + "bc" and "ab" + "c" must not collide
	require.NoError(t, db.Put(ctx, "a", "bc", entries.Entry{Value: []byte("1")}))
	require.NoError(t, db.Put(ctx, "ab", "c", entries.Entry{Value: []byte("2")}))

	got, err := db.Get(ctx, "a", "bc")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got.Value)

	keys, err := db.Find(ctx, "a", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"bc"}, keys)
}

func TestFind(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := entries.New(zaptest.NewLogger(t), teststore.New())

	red, blue := []byte("red"), []byte("blue")
	require.NoError(t, db.Put(ctx, "things", "c", entries.Entry{Value: []byte("x"), Tags: [][]byte{red, blue}}))
	require.NoError(t, db.Put(ctx, "things", "a", entries.Entry{Value: []byte("x"), Tags: [][]byte{red}}))
	require.NoError(t, db.Put(ctx, "things", "b", entries.Entry{Value: []byte("x"), Tags: [][]byte{blue}}))
	require.NoError(t, db.Put(ctx, "other", "a", entries.Entry{Value: []byte("x"), Tags: [][]byte{red}}))

	keys, err := db.Find(ctx, "things", [][]byte{red})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, keys)

	keys, err = db.Find(ctx, "things", [][]byte{red, blue})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, keys)

	keys, err = db.Find(ctx, "things", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, keys)

	keys, err = db.Find(ctx, "empty", [][]byte{red})
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestInvalidNames(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := entries.New(zaptest.NewLogger(t), teststore.New())

	require.True(t, entries.ErrInvalid.Has(db.Put(ctx, "", "k", entries.Entry{})))
	require.True(t, entries.ErrInvalid.Has(db.Put(ctx, "c", "", entries.Entry{})))
	_, err := db.Find(ctx, "", nil)
	require.True(t, entries.ErrInvalid.Has(err))
}

func TestStoreFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	db := entries.New(zaptest.NewLogger(t), store)

	failure := errors.New("disk on fire")
	store.ForceError(failure)

	_, err := db.Get(ctx, "c", "k")
	require.ErrorIs(t, err, failure)
	require.True(t, entries.Error.Has(err))
	require.False(t, entries.ErrNotFound.Has(err))
}

func TestStoreKey(t *testing.T) {
	storeKey := entries.StoreKey("coll", "key/with/slashes")
	require.Equal(t, kvstore.Key("\x04collkey/with/slashes"), storeKey)

	collection, key, err := entries.SplitStoreKey(storeKey)
	require.NoError(t, err)
	require.Equal(t, "coll", collection)
	require.Equal(t, "key/with/slashes", key)

	_, _, err = entries.SplitStoreKey(kvstore.Key("\x09short"))
	require.True(t, entries.ErrInvalid.Has(err))
}
