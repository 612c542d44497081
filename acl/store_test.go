// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package acl_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/collections/acl"
	"storj.io/collections/entries"
	"storj.io/collections/private/kvstore/teststore"
	"storj.io/common/testcontext"
)

func newStore(t *testing.T) (*acl.Store, *entries.DB) {
	db := entries.New(zaptest.NewLogger(t), teststore.New())
	return acl.NewStore(db), db
}

func TestStore(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := newStore(t)

	_, exists, err := store.GetRecord(ctx, "secrets")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.CreateRecord(ctx, "secrets", acl.Record{1: acl.Both}))
	err = store.CreateRecord(ctx, "secrets", acl.Record{2: acl.Both})
	require.True(t, acl.ErrRecordExists.Has(err))

	record, exists, err := store.GetRecord(ctx, "secrets")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, acl.Record{1: acl.Both}, record)

	// records are ordinary tagged entries
	entry, err := db.Get(ctx, acl.Collection, "secrets")
	require.NoError(t, err)
	require.Equal(t, acl.Tags, entry.Tags)

	require.NoError(t, store.SetRecord(ctx, "secrets", acl.Record{1: acl.Both, 2: acl.Read}))
	record, _, err = store.GetRecord(ctx, "secrets")
	require.NoError(t, err)
	require.Equal(t, acl.Record{1: acl.Both, 2: acl.Read}, record)

	// an empty record still exists
	require.NoError(t, store.SetRecord(ctx, "locked", acl.Record{}))
	record, exists, err = store.GetRecord(ctx, "locked")
	require.NoError(t, err)
	require.True(t, exists)
	require.Empty(t, record)
}

func TestStoreInvalidRecord(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := newStore(t)

	require.NoError(t, db.Put(ctx, acl.Collection, "broken", entries.Entry{Value: []byte("not a record")}))
	_, _, err := store.GetRecord(ctx, "broken")
	require.True(t, acl.ErrInvalidFraming.Has(err))
}

func TestCreateRecordRace(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _ := newStore(t)

	const captors = 16
	var wins int64
	for i := 1; i <= captors; i++ {
		user := acl.UserID(i)
		ctx.Go(func() error {
			err := store.CreateRecord(ctx, "contested", acl.Record{user: acl.Both})
			if err == nil {
				atomic.AddInt64(&wins, 1)
				return nil
			}
			if acl.ErrRecordExists.Has(err) {
				return nil
			}
			return err
		})
	}
	ctx.Wait()

	require.EqualValues(t, 1, wins)
	record, exists, err := store.GetRecord(ctx, "contested")
	require.NoError(t, err)
	require.True(t, exists)
	require.Len(t, record, 1)
}

func TestWithTags(t *testing.T) {
	require.Equal(t, acl.Tags, acl.WithTags(nil))

	tags := [][]byte{[]byte("v2")}
	require.Equal(t, [][]byte{[]byte("v2"), []byte("storage-acls")}, acl.WithTags(tags))
	require.Len(t, tags, 1)

	already := [][]byte{[]byte("storage-acls"), []byte("v2")}
	require.Equal(t, already, acl.WithTags(already))
}
