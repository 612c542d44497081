// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package acl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/collections/shared/lrucache"
)

// TrackerConfig configures the record cache.
type TrackerConfig struct {
	CacheExpiration time.Duration `help:"how long a permission record is cached" default:"1m"`
	CacheCapacity   int           `help:"how many permission records are cached, 0 disables caching" default:"1000"`
}

// lookup is a cached GetRecord result, including misses.
type lookup struct {
	record Record
	exists bool
}

// Tracker answers whether collections are captured and by whom.
//
// Capture state is not stored separately, it is derived from the existence
// of a record. Results are cached, writes made through Remember and
// Invalidate are visible to the next lookup.
type Tracker struct {
	log   *zap.Logger
	store *Store
	cache *lrucache.ExpiringLRUOf[lookup]
}

// NewTracker creates a tracker over store.
func NewTracker(log *zap.Logger, store *Store, config TrackerConfig) *Tracker {
	return &Tracker{
		log:   log,
		store: store,
		cache: lrucache.NewOf[lookup](lrucache.Options{
			Expiration: config.CacheExpiration,
			Capacity:   config.CacheCapacity,
			Name:       "acl-records",
		}),
	}
}

// Store returns the underlying record store.
func (tracker *Tracker) Store() *Store { return tracker.store }

// IsCaptured returns whether collection has a permission record.
func (tracker *Tracker) IsCaptured(ctx context.Context, collection string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	_, exists, err := tracker.Lookup(ctx, collection)
	return exists, err
}

// Lookup returns the record governing collection, possibly from cache.
func (tracker *Tracker) Lookup(ctx context.Context, collection string) (_ Record, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := tracker.cache.Get(ctx, collection, func() (lookup, error) {
		tracker.log.Debug("reading permission record", zap.String("collection", collection))
		return tracker.load(ctx, collection)
	})
	if err != nil {
		return nil, false, err
	}
	return result.record, result.exists, nil
}

// LookupFresh reads the record governing collection bypassing the cache.
// The cached entry is dropped, so a record remembered while the read was in
// flight is never replaced by an older one.
func (tracker *Tracker) LookupFresh(ctx context.Context, collection string) (_ Record, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := tracker.load(ctx, collection)
	tracker.cache.Delete(ctx, collection)
	if err != nil {
		return nil, false, err
	}
	return result.record, result.exists, nil
}

func (tracker *Tracker) load(ctx context.Context, collection string) (lookup, error) {
	record, exists, err := tracker.store.GetRecord(ctx, collection)
	if err != nil {
		tracker.log.Error("failed to read permission record", zap.String("collection", collection), zap.Error(err))
		return lookup{}, err
	}
	return lookup{record: record, exists: exists}, nil
}

// Remember caches record as the current record of collection.
func (tracker *Tracker) Remember(ctx context.Context, collection string, record Record) {
	tracker.cache.Add(ctx, collection, lookup{record: record.Clone(), exists: true})
}

// Invalidate drops any cached record of collection.
func (tracker *Tracker) Invalidate(ctx context.Context, collection string) {
	tracker.cache.Delete(ctx, collection)
}
