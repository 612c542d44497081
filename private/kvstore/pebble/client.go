// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pebble implements kvstore.Store on top of a local pebble database.
package pebble

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/collections/private/kvstore"
)

var mon = monkit.Package()

// Error is the default pebble errs class.
var Error = errs.Class("pebble")

var syncWrites = &pebble.WriteOptions{Sync: true}

// Client is the entrypoint into a pebble data store.
//
// The database directory must be owned by a single process. Writes are
// serialized within that process so CompareAndSwap observes a stable value.
type Client struct {
	db   *pebble.DB
	Path string

	writeMu sync.Mutex
}

// New opens or creates a pebble database in dir.
func New(dir string) (*Client, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{db: db, Path: dir}, nil
}

// NewWithOptions opens a pebble database using custom options, e.g. an in-memory vfs.
func NewWithOptions(dir string, options *pebble.Options) (*Client, error) {
	db, err := pebble.Open(dir, options)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{db: db, Path: dir}, nil
}

func (client *Client) get(key kvstore.Key) (kvstore.Value, error) {
	data, closer, err := client.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	value := append(kvstore.Value{}, data...)
	return value, Error.Wrap(closer.Close())
}

// Put adds a value to the provided key.
func (client *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	return Error.Wrap(client.db.Set(key, value, syncWrites))
}

// Get looks up the provided key.
func (client *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}
	return client.get(key)
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

	options := &pebble.IterOptions{}
	if len(prefix) > 0 {
		options.LowerBound = prefix
		options.UpperBound = kvstore.AfterPrefix(prefix)
	}

	iter, err := client.db.NewIter(options)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(iter.Close())) }()

	for valid := iter.First(); valid; valid = iter.Next() {
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

	current, err := client.get(key)
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
	return Error.Wrap(client.db.Set(key, newValue, syncWrites))
}

// Close closes the database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
