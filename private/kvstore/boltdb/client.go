// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package boltdb

import (
	"bytes"
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/collections/private/kvstore"
)

var mon = monkit.Package()

// Error is the default boltdb errs class.
var Error = errs.Class("boltdb")

const (
	// fileMode sets permissions so owner can read and write.
	fileMode       = 0600
	defaultTimeout = 1 * time.Second
)

// Client is the entrypoint into a bolt data store.
type Client struct {
	db     *bolt.DB
	Path   string
	Bucket []byte
}

// New instantiates a new BoltDB client given db file path and a bucket name.
func New(path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), Error.Wrap(db.Close()))
	}

	return &Client{
		db:     db,
		Path:   path,
		Bucket: []byte(bucket),
	}, nil
}

func (client *Client) update(fn func(*bolt.Bucket) error) error {
	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(client.Bucket))
	}))
}

func (client *Client) view(fn func(*bolt.Bucket) error) error {
	return Error.Wrap(client.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(client.Bucket))
	}))
}

// lookup returns the value of key and whether it exists.
// The returned value is only valid for the life of the transaction.
func lookup(bucket *bolt.Bucket, key kvstore.Key) ([]byte, bool) {
	k, v := bucket.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

// Put adds a key/value to boltDB in a batch, where boltDB commits the batch to disk every
// 1000 operations or 10ms, whichever is first. The MaxBatchDelay are using default settings.
func (client *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	return Error.Wrap(client.db.Batch(func(tx *bolt.Tx) error {
		return tx.Bucket(client.Bucket).Put(key, append([]byte{}, value...))
	}))
}

// Get looks up the provided key from boltdb returning either an error or the result.
func (client *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	var value kvstore.Value
	err = client.view(func(bucket *bolt.Bucket) error {
		data, ok := lookup(bucket, key)
		if !ok {
			return kvstore.ErrKeyNotFound.New("%q", key)
		}
		value = append(kvstore.Value{}, data...)
		return nil
	})
	if kvstore.ErrKeyNotFound.Has(err) {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return value, err
}

// Delete deletes a key/value pair from boltdb, for a given the key.
func (client *Client) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	return client.update(func(bucket *bolt.Bucket) error {
		return bucket.Delete(key)
	})
}

// Range iterates over all items in key order.
func (client *Client) Range(ctx context.Context, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.RangePrefix(ctx, nil, fn)
}

// RangePrefix iterates over items with the given key prefix in key order.
//
// The Key and Value are only valid for the duration of the callback, which
// runs inside a read transaction and must not write to the same store.
func (client *Client) RangePrefix(ctx context.Context, prefix kvstore.Key, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	var callbackErr error
	err = client.view(func(bucket *bolt.Bucket) error {
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if callbackErr = fn(ctx, kvstore.Key(k), kvstore.Value(v)); callbackErr != nil {
				return callbackErr
			}
		}
		return nil
	})
	if callbackErr != nil {
		return callbackErr
	}
	return err
}

// CompareAndSwap atomically compares and swaps oldValue with newValue.
func (client *Client) CompareAndSwap(ctx context.Context, key kvstore.Key, oldValue, newValue kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	var conflict error
	err = client.update(func(bucket *bolt.Bucket) error {
		current, found := lookup(bucket, key)
		switch {
		case !found && oldValue != nil:
			conflict = kvstore.ErrKeyNotFound.New("%q", key)
			return conflict
		case !found && newValue == nil:
			return nil
		case found && (oldValue == nil || !bytes.Equal(current, oldValue)):
			conflict = kvstore.ErrValueChanged.New("%q", key)
			return conflict
		}

		if newValue == nil {
			return bucket.Delete(key)
		}
		return bucket.Put(key, append([]byte{}, newValue...))
	})
	if conflict != nil {
		return conflict
	}
	return err
}

// Close closes a BoltDB client.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
