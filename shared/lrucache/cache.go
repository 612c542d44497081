// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lrucache implements an expiring LRU cache with deduplicated loads.
package lrucache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

// Options controls the details of the expiration policy.
type Options struct {
	// Expiration is how long an entry will be valid. It is not
	// affected by LRU or anything: after this duration, the object
	// is invalidated. A non-positive value means no expiration.
	Expiration time.Duration

	// Capacity is how many objects to keep in memory. A non-positive
	// value disables caching.
	Capacity int

	// Name is used to differentiate cache in monkit stat.
	Name string

	// Now returns the current time, time.Now when nil.
	Now func() time.Time
}

// cacheState contains all of the state for a cached entry.
type cacheState[T any] struct {
	once   sync.Once
	when   time.Time
	order  *list.Element
	value  T
	loaded bool
}

// ExpiringLRUOf caches values for string keys with a time based expiration and
// an LRU based eviction policy.
type ExpiringLRUOf[T any] struct {
	mu    sync.Mutex
	opts  Options
	data  map[string]*cacheState[T]
	order *list.List
}

// NewOf constructs an ExpiringLRUOf with the given options.
func NewOf[T any](opts Options) *ExpiringLRUOf[T] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	capacity := opts.Capacity
	if capacity < 0 {
		capacity = 0
	}
	return &ExpiringLRUOf[T]{
		opts:  opts,
		data:  make(map[string]*cacheState[T], capacity),
		order: list.New(),
	}
}

// Get returns the value for some key if it exists and is valid. If not
// it will call the provided function. Concurrent calls will dedupe as
// best as they are able. If the function returns an error, it is not
// cached and further calls will try again.
func (e *ExpiringLRUOf[T]) Get(ctx context.Context, key string, fn func() (T, error)) (value T, err error) {
	if e.opts.Capacity <= 0 {
		e.monitorCache(false)
		return fn()
	}

	for {
		e.mu.Lock()

		state, ok := e.data[key]
		switch {
		case !ok:
			e.evict()
			state = &cacheState[T]{
				when:  e.opts.Now(),
				order: e.order.PushFront(key),
			}
			e.data[key] = state

		case e.expired(state):
			e.remove(key, state)
			e.mu.Unlock()
			continue

		default:
			e.order.MoveToFront(state.order)
		}

		e.mu.Unlock()

		called := false
		state.once.Do(func() {
			called = true
			value, err = fn()

			if err == nil {
				// only assign on success to avoid a `(*T)(nil) != nil` situation.
				state.value = value
				state.loaded = true
				return
			}

			// the once has been used. delete it so that any other waiters
			// will retry.
			e.mu.Lock()
			if e.data[key] == state {
				e.remove(key, state)
			}
			e.mu.Unlock()
		})

		if called || state.loaded {
			e.monitorCache(!called)
			return state.value, err
		}

		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
	}
}

func (e *ExpiringLRUOf[T]) monitorCache(valueFromCache bool) {
	if e.opts.Name == "" {
		return
	}

	nameTag := monkit.NewSeriesTag("name", e.opts.Name)
	if valueFromCache {
		mon.Event("cache_hit", nameTag)
	} else {
		mon.Event("cache_miss", nameTag)
	}
}

// Delete explicitly removes a key from the cache if it exists.
func (e *ExpiringLRUOf[T]) Delete(ctx context.Context, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.data[key]
	if !ok {
		return
	}
	e.remove(key, state)
}

// Add adds a value to the cache.
//
// replaced is true if the key already existed in the cache and was valid, hence
// the value is replaced.
func (e *ExpiringLRUOf[T]) Add(ctx context.Context, key string, value T) (replaced bool) {
	if e.opts.Capacity <= 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state, _ := e.peek(key)
	if state != nil {
		e.remove(key, state)
		replaced = true
	} else {
		e.evict()
	}

	added := &cacheState[T]{
		when:   e.opts.Now(),
		order:  e.order.PushFront(key),
		value:  value,
		loaded: true,
	}
	// mark as loaded so Get never calls the loader for it.
	added.once.Do(func() {})
	e.data[key] = added

	return replaced
}

// GetCached returns the value associated with key and true if it exists and
// hasn't expired, otherwise the zero value and false.
func (e *ExpiringLRUOf[T]) GetCached(ctx context.Context, key string) (value T, cached bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, _ := e.peek(key)
	if state == nil || !state.loaded {
		var zero T
		return zero, false
	}

	e.order.MoveToFront(state.order)
	return state.value, true
}

// Len returns the number of entries, including ones that are still loading.
func (e *ExpiringLRUOf[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.data)
}

// peek returns the state associated to the key if exists and it's valid,
// otherwise nil. evicted is true when the key existed but the state has
// expired.
//
// peek doesn't update the key as being recently used.
//
// NOTE the caller must hold the mutex.
func (e *ExpiringLRUOf[T]) peek(key string) (state *cacheState[T], evicted bool) {
	state, ok := e.data[key]
	if !ok {
		return nil, false
	}

	if e.expired(state) {
		e.remove(key, state)
		return nil, true
	}

	return state, false
}

func (e *ExpiringLRUOf[T]) expired(state *cacheState[T]) bool {
	return e.opts.Expiration > 0 && e.opts.Now().Sub(state.when) > e.opts.Expiration
}

// evict drops least recently used entries until there is room for one more.
// The caller must hold the mutex.
func (e *ExpiringLRUOf[T]) evict() {
	for len(e.data) >= e.opts.Capacity {
		back := e.order.Back()
		if back == nil {
			return
		}
		delete(e.data, back.Value.(string))
		e.order.Remove(back)
	}
}

// remove must be called with the mutex held.
func (e *ExpiringLRUOf[T]) remove(key string, state *cacheState[T]) {
	delete(e.data, key)
	e.order.Remove(state.order)
}
