// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package collectionsdb opens the key-value backend named by a database url.
package collectionsdb

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/collections/entries"
	"storj.io/collections/private/kvstore"
	"storj.io/collections/private/kvstore/boltdb"
	"storj.io/collections/private/kvstore/leveldb"
	"storj.io/collections/private/kvstore/pebble"
	"storj.io/collections/private/kvstore/redis"
	"storj.io/collections/private/kvstore/storelogger"
	"storj.io/collections/private/kvstore/teststore"
)

// Error is the default collectionsdb errs class.
var Error = errs.Class("collectionsdb")

// Bucket is the bolt bucket holding every entry.
const Bucket = "collections"

// Options configures Open.
type Options struct {
	// DebugLog wraps the backend so every call is logged at debug level.
	DebugLog bool
}

// Open opens the backend for databaseURL. Supported schemes are memory://,
// bolt://path, pebble://path, leveldb://path and redis://host:port?db=N.
func Open(ctx context.Context, log *zap.Logger, databaseURL string, opts Options) (_ kvstore.Store, err error) {
	scheme, location, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return nil, Error.New("invalid database url %q", databaseURL)
	}

	var store kvstore.Store
	switch scheme {
	case "memory":
		store = teststore.New()
	case "bolt":
		if err := ensureDir(filepath.Dir(location)); err != nil {
			return nil, err
		}
		store, err = boltdb.New(location, Bucket)
	case "pebble":
		if err := ensureDir(location); err != nil {
			return nil, err
		}
		store, err = pebble.New(location)
	case "leveldb":
		if err := ensureDir(location); err != nil {
			return nil, err
		}
		store, err = leveldb.New(location)
	case "redis":
		store, err = redis.OpenClientFrom(ctx, databaseURL)
	default:
		return nil, Error.New("unsupported database scheme %q", scheme)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	log.Info("opened database", zap.String("scheme", scheme))

	if opts.DebugLog {
		store = storelogger.NewWithKeyFields(log.Named("store"), store, entryKey)
	}
	return store, nil
}

// entryKey logs backend keys as the collection and key they encode.
func entryKey(key kvstore.Key) []zap.Field {
	collection, name, err := entries.SplitStoreKey(key)
	if err != nil {
		return storelogger.RawKey(key)
	}
	return []zap.Field{zap.String("collection", collection), zap.String("key", name)}
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return Error.Wrap(os.MkdirAll(dir, 0700))
}
