// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package kvstore

import (
	"bytes"
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

var (
	// ErrKeyNotFound used when something doesn't exist.
	ErrKeyNotFound = errs.Class("key not found")

	// ErrEmptyKey is returned when an empty key is used in Put or in CompareAndSwap.
	ErrEmptyKey = errs.Class("empty key")

	// ErrValueChanged is returned when the current value of the key does not match the old value in CompareAndSwap.
	ErrValueChanged = errs.Class("value changed")
)

// Key is the type for the keys in a `Store`.
type Key []byte

// Value is the type for the values in a `Store`.
type Value []byte

// Store describes key/value stores like redis, boltdb, pebble and leveldb.
//
// All methods must be safe for concurrent use. A single Put, Delete or
// CompareAndSwap is applied atomically.
type Store interface {
	// Put adds a value to store.
	Put(context.Context, Key, Value) error
	// Get gets a value to store. Missing keys return ErrKeyNotFound.
	Get(context.Context, Key) (Value, error)
	// Delete deletes key and the value. Deleting a missing key is not an error.
	Delete(context.Context, Key) error
	// Range iterates over all items in unspecified order.
	// The Key and Value are valid only for the duration of callback.
	Range(ctx context.Context, fn func(context.Context, Key, Value) error) error
	// CompareAndSwap atomically compares and swaps oldValue with newValue.
	//
	// A nil oldValue requires the key to be absent, a nil newValue deletes the key.
	CompareAndSwap(ctx context.Context, key Key, oldValue, newValue Value) error
	// Close closes the store.
	Close() error
}

// PrefixRanger is implemented by stores that can iterate a key prefix
// without visiting the whole keyspace.
type PrefixRanger interface {
	RangePrefix(ctx context.Context, prefix Key, fn func(context.Context, Key, Value) error) error
}

// RangePrefix iterates over all items whose key starts with prefix. Stores
// implementing PrefixRanger are used directly, others are filtered through Range.
func RangePrefix(ctx context.Context, store Store, prefix Key, fn func(context.Context, Key, Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	if ranger, ok := store.(PrefixRanger); ok {
		return ranger.RangePrefix(ctx, prefix, fn)
	}

	return store.Range(ctx, func(ctx context.Context, key Key, value Value) error {
		if !bytes.HasPrefix(key, prefix) {
			return nil
		}
		return fn(ctx, key, value)
	})
}

// IsZero returns true if the value struct is a zero value.
func (value Value) IsZero() bool {
	return len(value) == 0
}

// IsZero returns true if the key struct is a zero value.
func (key Key) IsZero() bool {
	return len(key) == 0
}

// String implements the Stringer interface.
func (key Key) String() string { return string(key) }

// Less returns whether key should be sorted before b.
func (key Key) Less(b Key) bool { return bytes.Compare([]byte(key), []byte(b)) < 0 }

// Equal returns whether key and b are equal.
func (key Key) Equal(b Key) bool { return bytes.Equal([]byte(key), []byte(b)) }

// CloneKey creates a copy of key.
func CloneKey(key Key) Key { return append(key[:0:0], key...) }

// CloneValue creates a copy of value.
func CloneValue(value Value) Value {
	if value == nil {
		return nil
	}
	return append(value[:0:0], value...)
}

// AfterPrefix returns the first key that sorts after every key with the given prefix.
// It returns nil when no such key exists, i.e. the prefix is all 0xff.
func AfterPrefix(prefix Key) Key {
	after := CloneKey(prefix)
	for i := len(after) - 1; i >= 0; i-- {
		if after[i] != 0xff {
			after[i]++
			return after[:i+1]
		}
	}
	return nil
}
