// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package collections_test

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"

	"storj.io/collections/acl"
	"storj.io/collections/authorization"
	"storj.io/collections/collections"
	"storj.io/collections/entries"
	"storj.io/collections/private/kvstore/teststore"
	"storj.io/common/testcontext"
)

const (
	esafronov = "1001"
	random    = "2002"
)

type service struct {
	kv       *teststore.Client
	db       *entries.DB
	store    *acl.Store
	endpoint *collections.Endpoint
}

func newService(t *testing.T) *service {
	log := zaptest.NewLogger(t)
	kv := teststore.New()
	db := entries.New(log.Named("entries"), kv)
	store := acl.NewStore(db)
	tracker := acl.NewTracker(log.Named("acl"), store, acl.TrackerConfig{
		CacheExpiration: time.Minute,
		CacheCapacity:   100,
	})
	engine := authorization.NewEngine(log.Named("authorization"), tracker)
	return &service{
		kv:       kv,
		db:       db,
		store:    store,
		endpoint: collections.NewEndpoint(log, db, tracker, engine),
	}
}

func request(op authorization.Operation, collection, key string, value []byte, credential string) collections.Request {
	return collections.Request{Op: op, Collection: collection, Key: key, Value: value, Credential: credential}
}

func read(collection, key, credential string) collections.Request {
	return request(authorization.OpRead, collection, key, nil, credential)
}

func write(collection, key string, value []byte, credential string) collections.Request {
	return request(authorization.OpWrite, collection, key, value, credential)
}

func remove(collection, key, credential string) collections.Request {
	return request(authorization.OpRemove, collection, key, nil, credential)
}

func requireValues(t *testing.T, outcome collections.Outcome, values ...string) {
	t.Helper()
	require.Nil(t, outcome.Err)
	require.Len(t, outcome.Values, len(values))
	for i, value := range values {
		require.Equal(t, value, string(outcome.Values[i]))
	}
}

func requireStatus(t *testing.T, outcome collections.Outcome, status collections.Status) {
	t.Helper()
	require.NotNil(t, outcome.Err)
	require.Equal(t, status, *outcome.Err)
}

func permissions(t *testing.T, perm map[string]acl.Flags) []byte {
	data := map[uint64]uint8{}
	for user, flags := range perm {
		id, err := strconv.ParseUint(user, 10, 64)
		require.NoError(t, err)
		data[id] = uint8(flags)
	}
	packed, err := msgpack.Marshal(data)
	require.NoError(t, err)
	return packed
}

func TestUncapturedCollection(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireValues(t, s.endpoint.Handle(ctx, write("collection", "key", []byte("le value"), "")))
	requireValues(t, s.endpoint.Handle(ctx, read("collection", "key", "")), "le value")
	requireValues(t, s.endpoint.Handle(ctx, read("collection", "key", random)), "le value")
	requireValues(t, s.endpoint.Handle(ctx, remove("collection", "key", random)))
	requireValues(t, s.endpoint.Handle(ctx, read("collection", "key", "")))

	// anonymous writes never capture
	_, exists, err := s.store.GetRecord(ctx, "collection")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCaptureThenAnonymousRead(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireValues(t, s.endpoint.Handle(ctx, write("collection", "key", []byte("le value"), esafronov)))
	requireStatus(t, s.endpoint.Handle(ctx, read("collection", "key", "")), collections.StatusPermissionDenied)
	require.Equal(t, "[12, 13] Permission denied", s.endpoint.Handle(ctx, read("collection", "key", "")).Err.Error())

	requireValues(t, s.endpoint.Handle(ctx, read("collection", "key", esafronov)), "le value")

	// permission is checked before existence
	requireStatus(t, s.endpoint.Handle(ctx, read("collection", "missing", "")), collections.StatusPermissionDenied)
	requireValues(t, s.endpoint.Handle(ctx, read("collection", "missing", esafronov)))
}

func TestLastWriteWins(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireValues(t, s.endpoint.Handle(ctx, write("c", "k", []byte("one"), esafronov)))
	requireValues(t, s.endpoint.Handle(ctx, write("c", "k", []byte("two"), esafronov)))
	requireValues(t, s.endpoint.Handle(ctx, read("c", "k", esafronov)), "two")
}

func TestRemoveMissingTwice(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireValues(t, s.endpoint.Handle(ctx, remove("c", "never", "")))
	requireValues(t, s.endpoint.Handle(ctx, remove("c", "never", "")))
}

func TestSecretsScenario(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)
	const secret = "ks/Os51X2RTtixTQ43ZD3geXrlY="

	// esafronov captures secrets
	requireValues(t, s.endpoint.Handle(ctx, write("secrets", "key", []byte(secret), esafronov)))
	record, exists, err := s.store.GetRecord(ctx, "secrets")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, acl.Record{1001: acl.Both}, record)

	requireStatus(t, s.endpoint.Handle(ctx, read("secrets", "key", random)), collections.StatusPermissionDenied)

	// esafronov grants random read access, capturing the permission collection
	grant := permissions(t, map[string]acl.Flags{random: acl.Read, esafronov: acl.Both})
	requireValues(t, s.endpoint.Handle(ctx, write(acl.Collection, "secrets", grant, esafronov)))

	// random cannot grant itself rights
	grab := permissions(t, map[string]acl.Flags{random: acl.Both})
	requireStatus(t, s.endpoint.Handle(ctx, write(acl.Collection, "secrets", grab, random)), collections.StatusPermissionDenied)

	requireValues(t, s.endpoint.Handle(ctx, read("secrets", "key", random)), secret)
	requireStatus(t, s.endpoint.Handle(ctx, write("secrets", "key", []byte("00000000"), random)), collections.StatusPermissionDenied)
	requireStatus(t, s.endpoint.Handle(ctx, remove("secrets", "key", random)), collections.StatusPermissionDenied)

	// denials changed nothing
	requireValues(t, s.endpoint.Handle(ctx, read("secrets", "key", esafronov)), secret)
	record, _, err = s.store.GetRecord(ctx, "secrets")
	require.NoError(t, err)
	require.Equal(t, acl.Record{1001: acl.Both, 2002: acl.Read}, record)
}

func TestPermissionPropagation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)
	const (
		owner = "1"
		u1    = "11"
		u2    = "22"
	)

	requireValues(t, s.endpoint.Handle(ctx, write("shared", "doc", []byte("v1"), owner)))
	// warm the cache with denials
	requireStatus(t, s.endpoint.Handle(ctx, read("shared", "doc", u1)), collections.StatusPermissionDenied)
	requireStatus(t, s.endpoint.Handle(ctx, read("shared", "doc", u2)), collections.StatusPermissionDenied)

	// stringified identities are accepted as well
	grant, err := msgpack.Marshal(map[string]uint8{u1: 1, u2: 3})
	require.NoError(t, err)
	requireValues(t, s.endpoint.Handle(ctx, write(acl.Collection, "shared", grant, owner)))

	// the owner dropped themselves from the record
	requireStatus(t, s.endpoint.Handle(ctx, read("shared", "doc", owner)), collections.StatusPermissionDenied)

	requireValues(t, s.endpoint.Handle(ctx, read("shared", "doc", u1)), "v1")
	requireStatus(t, s.endpoint.Handle(ctx, write("shared", "doc", []byte("v2"), u1)), collections.StatusPermissionDenied)

	requireValues(t, s.endpoint.Handle(ctx, write("shared", "doc", []byte("v2"), u2)))
	requireValues(t, s.endpoint.Handle(ctx, read("shared", "doc", u1)), "v2")
	requireValues(t, s.endpoint.Handle(ctx, remove("shared", "doc", u2)))
}

func TestRemovingRecordReopensCollection(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireValues(t, s.endpoint.Handle(ctx, write("temp", "k", []byte("v"), esafronov)))
	requireStatus(t, s.endpoint.Handle(ctx, read("temp", "k", "")), collections.StatusPermissionDenied)

	requireValues(t, s.endpoint.Handle(ctx, remove(acl.Collection, "temp", esafronov)))
	requireValues(t, s.endpoint.Handle(ctx, read("temp", "k", "")), "v")
}

func TestInvalidPermissionPayload(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireStatus(t, s.endpoint.Handle(ctx, write(acl.Collection, "anything", []byte("not msgpack"), esafronov)), collections.StatusInvalidFraming)
	requireStatus(t,
		s.endpoint.Handle(ctx, write(acl.Collection, "anything", permissions(t, map[string]acl.Flags{esafronov: 7}), esafronov)),
		collections.StatusInvalidFraming)

	// a rejected payload neither captures nor writes
	_, exists, err := s.store.GetRecord(ctx, acl.Collection)
	require.NoError(t, err)
	require.False(t, exists)
	_, exists, err = s.store.GetRecord(ctx, "anything")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCorruptStoredRecord(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)
	require.NoError(t, s.db.Put(ctx, acl.Collection, "broken", entries.Entry{Value: []byte{0xc1}}))

	requireStatus(t, s.endpoint.Handle(ctx, read("broken", "k", esafronov)), collections.StatusInvalidFraming)
}

func TestMalformedIdentity(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireStatus(t, s.endpoint.Handle(ctx, write("c", "k", []byte("v"), "esafronov")), collections.StatusMalformedIdentity)

	// nothing was written and nothing captured
	requireValues(t, s.endpoint.Handle(ctx, read("c", "k", "")))
	_, exists, err := s.store.GetRecord(ctx, "c")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestInvalidArguments(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	requireStatus(t, s.endpoint.Handle(ctx, read("", "k", "")), collections.StatusInvalidArgument)
	requireStatus(t, s.endpoint.Handle(ctx, write("c", "", []byte("v"), "")), collections.StatusInvalidArgument)
	requireStatus(t, s.endpoint.Handle(ctx, remove("", "", "")), collections.StatusInvalidArgument)
	requireStatus(t, s.endpoint.Handle(ctx, collections.Request{Op: authorization.OpFind}), collections.StatusInvalidArgument)
	requireStatus(t, s.endpoint.Handle(ctx, collections.Request{Op: authorization.Operation(42), Collection: "c", Key: "k"}), collections.StatusInvalidArgument)
}

func TestFind(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)
	tag := []byte("v1")

	for _, key := range []string{"b", "a", "c"} {
		outcome := s.endpoint.Handle(ctx, collections.Request{
			Op:         authorization.OpWrite,
			Collection: "indexed",
			Key:        key,
			Value:      []byte(key),
			Tags:       [][]byte{tag},
			Credential: esafronov,
		})
		requireValues(t, outcome)
	}
	requireValues(t, s.endpoint.Handle(ctx, write("indexed", "untagged", []byte("x"), esafronov)))

	find := collections.Request{Op: authorization.OpFind, Collection: "indexed", Tags: [][]byte{tag}}

	find.Credential = esafronov
	requireValues(t, s.endpoint.Handle(ctx, find), "a", "b", "c")

	find.Credential = random
	requireStatus(t, s.endpoint.Handle(ctx, find), collections.StatusPermissionDenied)

	// permission records are found by their tag
	requireValues(t, s.endpoint.Handle(ctx, collections.Request{
		Op:         authorization.OpFind,
		Collection: acl.Collection,
		Tags:       acl.Tags,
	}), "indexed")
}

func TestStoreUnavailable(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)
	s.kv.ForceError(errors.New("disk on fire"))

	requireStatus(t, s.endpoint.Handle(ctx, read("c", "k", "")), collections.StatusStoreUnavailable)
	requireStatus(t, s.endpoint.Handle(ctx, write("c", "k", []byte("v"), "")), collections.StatusStoreUnavailable)
	requireStatus(t, s.endpoint.Handle(ctx, remove("c", "k", "")), collections.StatusStoreUnavailable)
}

func TestDisabledAuthorization(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	db := entries.New(log, teststore.New())
	tracker := acl.NewTracker(log, acl.NewStore(db), acl.TrackerConfig{})
	endpoint := collections.NewEndpoint(log, db, tracker, authorization.Disabled{})

	requireValues(t, endpoint.Handle(ctx, write("c", "k", []byte("v"), esafronov)))
	requireValues(t, endpoint.Handle(ctx, read("c", "k", "")), "v")
	_, exists, err := acl.NewStore(db).GetRecord(ctx, "c")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestToStatus(t *testing.T) {
	require.Nil(t, collections.ToStatus(nil))
	require.Equal(t, collections.StatusNotFound, *collections.ToStatus(entries.ErrNotFound.New("x")))
	require.Equal(t, collections.StatusStoreUnavailable, *collections.ToStatus(errors.New("unknown")))
	require.Equal(t, collections.StatusPermissionDenied, *collections.ToStatus(authorization.ErrPermissionDenied.New("x")))
}

func TestPermissionCollectionWriter(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)
	const (
		admin  = "1"
		captor = "2"
		viewer = "3"
	)

	// the admin owns the permission collection
	bootstrap := permissions(t, map[string]acl.Flags{admin: acl.Both})
	requireValues(t, s.endpoint.Handle(ctx, write(acl.Collection, acl.Collection, bootstrap, admin)))

	requireValues(t, s.endpoint.Handle(ctx, write("c", "k", []byte("v"), captor)))
	requireStatus(t, s.endpoint.Handle(ctx, read("c", "k", admin)), collections.StatusPermissionDenied)

	// the admin has no rights on c but may still change its record
	grant := permissions(t, map[string]acl.Flags{captor: acl.Both, viewer: acl.Read})
	requireValues(t, s.endpoint.Handle(ctx, write(acl.Collection, "c", grant, admin)))

	requireValues(t, s.endpoint.Handle(ctx, read("c", "k", viewer)), "v")
	requireStatus(t, s.endpoint.Handle(ctx, write("c", "k", []byte("w"), viewer)), collections.StatusPermissionDenied)
	requireStatus(t, s.endpoint.Handle(ctx, read("c", "k", admin)), collections.StatusPermissionDenied)

	// the captor of c cannot change its record
	takeover := permissions(t, map[string]acl.Flags{captor: acl.Both})
	requireStatus(t, s.endpoint.Handle(ctx, write(acl.Collection, "c", takeover, captor)), collections.StatusPermissionDenied)
	record, _, err := s.store.GetRecord(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, acl.Record{2: acl.Both, 3: acl.Read}, record)
}

func TestPermissionWritesAreTagged(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newService(t)

	grant := permissions(t, map[string]acl.Flags{esafronov: acl.Both})
	outcome := s.endpoint.Write(ctx, authorization.User(1001), acl.Collection, "docs", grant, [][]byte{[]byte("v1")})
	require.Nil(t, outcome.Err)

	entry, err := s.db.Get(ctx, acl.Collection, "docs")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("v1"), []byte("storage-acls")}, entry.Tags)

	keys, err := s.db.Find(ctx, acl.Collection, acl.Tags)
	require.NoError(t, err)
	require.Equal(t, []string{"docs"}, keys)
}
