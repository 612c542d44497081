// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package leveldb implements kvstore.Store on top of goleveldb.
package leveldb

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/zeebo/errs"

	"storj.io/collections/private/kvstore"
)

var mon = monkit.Package()

// Error is the default leveldb errs class.
var Error = errs.Class("leveldb")

var syncWrites = &opt.WriteOptions{Sync: true}

// Client is the entrypoint into a leveldb data store.
type Client struct {
	db   *leveldb.DB
	Path string

	// writeMu serializes writes so CompareAndSwap can read and write
	// without another writer in between.
	writeMu sync.Mutex
}

// New opens or creates a leveldb database at path.
func New(path string) (*Client, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{db: db, Path: path}, nil
}

// NewStorage opens a leveldb database on top of the given storage.
func NewStorage(stor storage.Storage) (*Client, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{db: db}, nil
}

func get(db *leveldb.DB, key kvstore.Key) (kvstore.Value, error) {
	data, err := db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return append(kvstore.Value{}, data...), nil
}

// Put adds a value to the provided key.
func (client *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	return Error.Wrap(client.db.Put(key, value, syncWrites))
}

// Get looks up the provided key.
func (client *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}
	return get(client.db, key)
}

// Delete deletes a key/value pair.
func (client *Client) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	return Error.Wrap(client.db.Delete(key, syncWrites))
}

// Range iterates over all items in key order.
func (client *Client) Range(ctx context.Context, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.RangePrefix(ctx, nil, fn)
}

// RangePrefix iterates over items with the given key prefix in key order.
func (client *Client) RangePrefix(ctx context.Context, prefix kvstore.Key, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	var slice *util.Range
	if len(prefix) > 0 {
		slice = util.BytesPrefix(prefix)
	}

	iter := client.db.NewIterator(slice, nil)
	defer iter.Release()

	for iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := fn(ctx, kvstore.Key(iter.Key()), kvstore.Value(iter.Value())); err != nil {
			return err
		}
	}
	return Error.Wrap(iter.Error())
}

// CompareAndSwap atomically compares and swaps oldValue with newValue.
func (client *Client) CompareAndSwap(ctx context.Context, key kvstore.Key, oldValue, newValue kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	current, err := get(client.db, key)
	found := err == nil
	if err != nil && !kvstore.ErrKeyNotFound.Has(err) {
		return err
	}

	switch {
	case !found && oldValue != nil:
		return kvstore.ErrKeyNotFound.New("%q", key)
	case !found && newValue == nil:
		return nil
	case found && (oldValue == nil || !bytes.Equal(current, oldValue)):
		return kvstore.ErrValueChanged.New("%q", key)
	}

	if newValue == nil {
		return Error.Wrap(client.db.Delete(key, syncWrites))
	}
	return Error.Wrap(client.db.Put(key, newValue, syncWrites))
}

// Close closes the database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
