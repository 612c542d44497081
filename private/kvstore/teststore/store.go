// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"

	"storj.io/collections/private/kvstore"
)

var mon = monkit.Package()

// Client implements in-memory key value store.
type Client struct {
	mu        sync.Mutex
	items     map[string]kvstore.Value
	forcedErr error

	CallCount struct {
		Get            int
		Put            int
		Delete         int
		Close          int
		Range          int
		CompareAndSwap int
	}
}

// New creates a new in-memory key-value store.
func New() *Client { return &Client{items: map[string]kvstore.Value{}} }

// ForceError makes every following call return err. A nil err makes the
// store healthy again.
func (store *Client) ForceError(err error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.forcedErr = err
}

// Put adds a value to store.
func (store *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Put++
	if store.forcedErr != nil {
		return store.forcedErr
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	store.items[string(key)] = cloneNonNil(value)
	return nil
}

// Get gets a value to store.
func (store *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Get++
	if store.forcedErr != nil {
		return nil, store.forcedErr
	}
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	value, ok := store.items[string(key)]
	if !ok {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return cloneNonNil(value), nil
}

// Delete deletes key and the value.
func (store *Client) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Delete++
	if store.forcedErr != nil {
		return store.forcedErr
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	delete(store.items, string(key))
	return nil
}

// Range iterates over all items in key order.
func (store *Client) Range(ctx context.Context, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return store.RangePrefix(ctx, nil, fn)
}

// RangePrefix iterates over items with the given key prefix in key order.
//
// The iteration works on a snapshot, so fn may modify the store.
func (store *Client) RangePrefix(ctx context.Context, prefix kvstore.Key, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	store.mu.Lock()
	store.CallCount.Range++
	if store.forcedErr != nil {
		store.mu.Unlock()
		return store.forcedErr
	}

	type item struct {
		key   kvstore.Key
		value kvstore.Value
	}
	var snapshot []item
	for key, value := range store.items {
		if !bytes.HasPrefix([]byte(key), prefix) {
			continue
		}
		snapshot = append(snapshot, item{kvstore.Key(key), cloneNonNil(value)})
	}
	store.mu.Unlock()

	sort.Slice(snapshot, func(i, k int) bool { return snapshot[i].key.Less(snapshot[k].key) })

	for _, item := range snapshot {
		if err := fn(ctx, item.key, item.value); err != nil {
			return err
		}
	}
	return nil
}

// CompareAndSwap atomically compares and swaps oldValue with newValue.
func (store *Client) CompareAndSwap(ctx context.Context, key kvstore.Key, oldValue, newValue kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.CompareAndSwap++
	if store.forcedErr != nil {
		return store.forcedErr
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	current, found := store.items[string(key)]
	switch {
	case !found && oldValue != nil:
		return kvstore.ErrKeyNotFound.New("%q", key)
	case found && oldValue == nil:
		return kvstore.ErrValueChanged.New("%q", key)
	case found && !bytes.Equal(current, oldValue):
		return kvstore.ErrValueChanged.New("%q", key)
	}

	if newValue == nil {
		delete(store.items, string(key))
		return nil
	}
	store.items[string(key)] = cloneNonNil(newValue)
	return nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}

// cloneNonNil copies value and keeps empty values distinguishable from nil.
func cloneNonNil(value kvstore.Value) kvstore.Value {
	return append(kvstore.Value{}, value...)
}
