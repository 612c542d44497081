// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storelogger logs every call made to a kvstore.Store.
package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/collections/private/kvstore"
)

var mon = monkit.Package()

var id int64

// KeyFields describes a backend key as log fields.
type KeyFields func(key kvstore.Key) []zap.Field

// RawKey logs the key bytes as they are.
func RawKey(key kvstore.Key) []zap.Field {
	return []zap.Field{zap.ByteString("key", key)}
}

// Logger wraps a kvstore.Store and logs every call at debug level.
type Logger struct {
	log    *zap.Logger
	store  kvstore.Store
	fields KeyFields
}

// New creates a Logger that logs keys with RawKey.
func New(log *zap.Logger, store kvstore.Store) *Logger {
	return NewWithKeyFields(log, store, RawKey)
}

// NewWithKeyFields creates a Logger that describes keys with fields.
func NewWithKeyFields(log *zap.Logger, store kvstore.Store, fields KeyFields) *Logger {
	name := strconv.FormatInt(atomic.AddInt64(&id, 1), 10)
	return &Logger{
		log:    log.Named(name),
		store:  store,
		fields: fields,
	}
}

func (store *Logger) debug(msg string, key kvstore.Key, extra ...zap.Field) {
	if ce := store.log.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(append(store.fields(key), extra...)...)
	}
}

func (store *Logger) result(msg string, key kvstore.Key, err error) {
	if err != nil {
		store.debug(msg+" failed", key, zap.Error(err))
	}
}

// Put adds a value to store.
func (store *Logger) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.debug("Put", key, zap.Int("value length", len(value)), zap.Binary("truncated value", truncate(value)))
	err = store.store.Put(ctx, key, value)
	store.result("Put", key, err)
	return err
}

// Get gets a value from store.
func (store *Logger) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	store.debug("Get", key)
	value, err := store.store.Get(ctx, key)
	if !kvstore.ErrKeyNotFound.Has(err) {
		store.result("Get", key, err)
	}
	return value, err
}

// Delete deletes key and the value.
func (store *Logger) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.debug("Delete", key)
	err = store.store.Delete(ctx, key)
	store.result("Delete", key, err)
	return err
}

// Range iterates over all items in the order of the wrapped store.
func (store *Logger) Range(ctx context.Context, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Range")
	return store.store.Range(ctx, store.visit(fn))
}

// RangePrefix iterates over items with the given key prefix, using the
// wrapped store's native prefix iteration when it has one.
func (store *Logger) RangePrefix(ctx context.Context, prefix kvstore.Key, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("RangePrefix", zap.ByteString("prefix", prefix))
	return kvstore.RangePrefix(ctx, store.store, prefix, store.visit(fn))
}

func (store *Logger) visit(fn func(context.Context, kvstore.Key, kvstore.Value) error) func(context.Context, kvstore.Key, kvstore.Value) error {
	return func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		store.debug("  ", key, zap.Int("value length", len(value)))
		return fn(ctx, key, value)
	}
}

// CompareAndSwap atomically compares and swaps oldValue with newValue.
func (store *Logger) CompareAndSwap(ctx context.Context, key kvstore.Key, oldValue, newValue kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.debug("CompareAndSwap", key,
		zap.Bool("create", oldValue == nil),
		zap.Bool("delete", newValue == nil),
		zap.Binary("truncated old value", truncate(oldValue)),
		zap.Binary("truncated new value", truncate(newValue)))
	err = store.store.CompareAndSwap(ctx, key, oldValue, newValue)
	if err != nil && !kvstore.ErrValueChanged.Has(err) && !kvstore.ErrKeyNotFound.Has(err) {
		store.result("CompareAndSwap", key, err)
	}
	return err
}

// Close closes the wrapped store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}

// truncate returns at most the first ten bytes of v.
func truncate(v kvstore.Value) []byte {
	if len(v) <= 10 {
		return v
	}
	return v[:10]
}
