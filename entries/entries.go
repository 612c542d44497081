// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package entries stores values and tags for (collection, key) pairs on top
// of a kvstore.Store. It knows nothing about authorization.
package entries

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/collections/private/kvstore"
)

var mon = monkit.Package()

var (
	// Error is the default entries errs class.
	Error = errs.Class("entries")

	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errs.Class("entry not found")

	// ErrExists is returned by Create when an entry is already present.
	ErrExists = errs.Class("entry exists")

	// ErrInvalid is returned for malformed collection names, keys or stored bytes.
	ErrInvalid = errs.Class("invalid entry")
)

// Entry is a stored value together with the tags supplied when it was written.
type Entry struct {
	_msgpack struct{} `msgpack:",as_array"` //nolint:unused,structcheck

	Value []byte
	Tags  [][]byte
}

// HasTags returns whether every tag in query is one of the entry tags.
func (entry Entry) HasTags(query [][]byte) bool {
	for _, want := range query {
		found := false
		for _, tag := range entry.Tags {
			if bytes.Equal(tag, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Encode serializes entry as a msgpack array of value and tags.
func Encode(entry Entry) ([]byte, error) {
	data, err := msgpack.Marshal(&entry)
	return data, Error.Wrap(err)
}

// Decode parses data written by Encode.
func Decode(data []byte) (Entry, error) {
	var entry Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return Entry{}, ErrInvalid.Wrap(err)
	}
	return entry, nil
}

// Prefix returns the backend key prefix shared by every entry in collection.
func Prefix(collection string) kvstore.Key {
	prefix := binary.AppendUvarint(nil, uint64(len(collection)))
	return append(prefix, collection...)
}

// StoreKey returns the backend key for (collection, key).
//
// The collection is length prefixed so that distinct pairs never map to the
// same backend key and a collection occupies a contiguous key range.
func StoreKey(collection, key string) kvstore.Key {
	return append(Prefix(collection), key...)
}

// SplitStoreKey is the inverse of StoreKey.
func SplitStoreKey(storeKey kvstore.Key) (collection, key string, err error) {
	length, n := binary.Uvarint(storeKey)
	if n <= 0 || uint64(len(storeKey)-n) < length {
		return "", "", ErrInvalid.New("malformed store key %q", []byte(storeKey))
	}
	rest := storeKey[n:]
	return string(rest[:length]), string(rest[length:]), nil
}

// DB is the value store.
type DB struct {
	log   *zap.Logger
	store kvstore.Store
}

// New creates a value store on top of store.
func New(log *zap.Logger, store kvstore.Store) *DB {
	return &DB{log: log, store: store}
}

func validate(collection, key string) error {
	if collection == "" {
		return ErrInvalid.New("empty collection name")
	}
	if key == "" {
		return ErrInvalid.New("empty key in collection %q", collection)
	}
	return nil
}

// Get returns the entry stored at (collection, key).
func (db *DB) Get(ctx context.Context, collection, key string) (_ Entry, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := validate(collection, key); err != nil {
		return Entry{}, err
	}

	data, err := db.store.Get(ctx, StoreKey(collection, key))
	if kvstore.ErrKeyNotFound.Has(err) {
		return Entry{}, ErrNotFound.New("%s/%s", collection, key)
	}
	if err != nil {
		return Entry{}, Error.Wrap(err)
	}

	return Decode(data)
}

// Put replaces the entry at (collection, key).
func (db *DB) Put(ctx context.Context, collection, key string, entry Entry) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := validate(collection, key); err != nil {
		return err
	}

	data, err := Encode(entry)
	if err != nil {
		return err
	}
	return Error.Wrap(db.store.Put(ctx, StoreKey(collection, key), data))
}

// Create stores entry only when nothing is stored at (collection, key) yet.
// It returns ErrExists when another entry is already present.
func (db *DB) Create(ctx context.Context, collection, key string, entry Entry) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := validate(collection, key); err != nil {
		return err
	}

	data, err := Encode(entry)
	if err != nil {
		return err
	}

	err = db.store.CompareAndSwap(ctx, StoreKey(collection, key), nil, data)
	if kvstore.ErrValueChanged.Has(err) {
		return ErrExists.New("%s/%s", collection, key)
	}
	return Error.Wrap(err)
}

// Delete removes the entry at (collection, key). Removing a missing entry succeeds.
func (db *DB) Delete(ctx context.Context, collection, key string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := validate(collection, key); err != nil {
		return err
	}
	return Error.Wrap(db.store.Delete(ctx, StoreKey(collection, key)))
}

// Find returns, in ascending order, the keys of collection whose entry carries
// every tag in tags. An empty tag list matches every key.
func (db *DB) Find(ctx context.Context, collection string, tags [][]byte) (keys []string, err error) {
	defer mon.Task()(&ctx)(&err)
	if collection == "" {
		return nil, ErrInvalid.New("empty collection name")
	}

	prefix := Prefix(collection)
	err = kvstore.RangePrefix(ctx, db.store, prefix, func(ctx context.Context, storeKey kvstore.Key, data kvstore.Value) error {
		entry, err := Decode(data)
		if err != nil {
			db.log.Warn("skipping undecodable entry",
				zap.String("collection", collection),
				zap.ByteString("key", storeKey[len(prefix):]),
				zap.Error(err))
			return nil
		}
		if entry.HasTags(tags) {
			keys = append(keys, string(storeKey[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	sort.Strings(keys)
	return keys, nil
}
