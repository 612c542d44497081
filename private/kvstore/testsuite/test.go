// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package testsuite

import (
	"bytes"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"storj.io/collections/private/kvstore"
	"storj.io/common/testcontext"
)

// RunTests runs common kvstore.Store tests.
func RunTests(t *testing.T, store kvstore.Store) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("Constraints", func(t *testing.T) { testConstraints(t, store) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, store) })
	t.Run("Prefix", func(t *testing.T) { testPrefix(t, store) })
	t.Run("Parallel", func(t *testing.T) { testParallel(t, store) })
	t.Run("ParallelCreate", func(t *testing.T) { testParallelCreate(t, store) })
}

// RunBenchmarks runs common kvstore.Store benchmarks.
func RunBenchmarks(b *testing.B, store kvstore.Store) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	value := kvstore.Value(bytes.Repeat([]byte("x"), 128))
	keys := make([]kvstore.Key, 100)
	for i := range keys {
		keys[i] = kvstore.Key("bench/" + strconv.Itoa(i))
	}
	defer func() {
		for _, key := range keys {
			_ = store.Delete(ctx, key)
		}
	}()

	b.Run("Put", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if err := store.Put(ctx, keys[i%len(keys)], value); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Get", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := store.Get(ctx, keys[i%len(keys)]); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func testCRUD(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	items := []item{
		newItem("a", "1"),
		newItem("b/1", "2"),
		newItem("b/2", "3"),
		newItem("c", ""),
		newItem("öö", "üü"),
	}
	rand.Shuffle(len(items), func(i, k int) { items[i], items[k] = items[k], items[i] })
	defer cleanupItems(t, ctx, store, items)

	for _, item := range items {
		if err := store.Put(ctx, item.Key, item.Value); err != nil {
			t.Fatalf("failed to put %q = %q: %v", item.Key, item.Value, err)
		}
	}

	for _, item := range items {
		value, err := store.Get(ctx, item.Key)
		if err != nil {
			t.Fatalf("failed to get %q: %v", item.Key, err)
		}
		if !bytes.Equal(value, item.Value) {
			t.Fatalf("invalid value for %q = %q: got %q", item.Key, item.Value, value)
		}
	}

	for _, item := range items {
		next := kvstore.Value(string(item.Value) + "X")
		if err := store.Put(ctx, item.Key, next); err != nil {
			t.Fatalf("failed to update %q = %q: %v", item.Key, next, err)
		}
		value, err := store.Get(ctx, item.Key)
		if err != nil {
			t.Fatalf("failed to get %q: %v", item.Key, err)
		}
		if !bytes.Equal(value, next) {
			t.Fatalf("invalid updated value for %q = %q: got %q", item.Key, next, value)
		}
	}

	for _, item := range items {
		if err := store.Delete(ctx, item.Key); err != nil {
			t.Fatalf("failed to delete %q: %v", item.Key, err)
		}
		if _, err := store.Get(ctx, item.Key); !kvstore.ErrKeyNotFound.Has(err) {
			t.Fatalf("expected key not found for %q, got %v", item.Key, err)
		}
		// deleting twice is fine
		if err := store.Delete(ctx, item.Key); err != nil {
			t.Fatalf("failed to delete missing %q: %v", item.Key, err)
		}
	}
}

func testConstraints(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	t.Run("Put Empty", func(t *testing.T) {
		if err := store.Put(ctx, nil, kvstore.Value("xyz")); !kvstore.ErrEmptyKey.Has(err) {
			t.Fatalf("putting empty key should fail with empty key, got %v", err)
		}
	})

	t.Run("CompareAndSwap Empty", func(t *testing.T) {
		if err := store.CompareAndSwap(ctx, nil, nil, kvstore.Value("xyz")); !kvstore.ErrEmptyKey.Has(err) {
			t.Fatalf("swapping empty key should fail with empty key, got %v", err)
		}
	})

	t.Run("Get Missing", func(t *testing.T) {
		if _, err := store.Get(ctx, kvstore.Key("missing")); !kvstore.ErrKeyNotFound.Has(err) {
			t.Fatalf("expected key not found, got %v", err)
		}
	})
}

func testCompareAndSwap(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	key := kvstore.Key("cas")
	defer func() { _ = store.Delete(ctx, key) }()

	// create if absent
	if err := store.CompareAndSwap(ctx, key, nil, kvstore.Value("v1")); err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	// second create must lose
	if err := store.CompareAndSwap(ctx, key, nil, kvstore.Value("v2")); !kvstore.ErrValueChanged.Has(err) {
		t.Fatalf("expected value changed on duplicate create, got %v", err)
	}

	// swap with wrong old value
	if err := store.CompareAndSwap(ctx, key, kvstore.Value("wrong"), kvstore.Value("v2")); !kvstore.ErrValueChanged.Has(err) {
		t.Fatalf("expected value changed on mismatch, got %v", err)
	}

	// swap with right old value
	if err := store.CompareAndSwap(ctx, key, kvstore.Value("v1"), kvstore.Value("v2")); err != nil {
		t.Fatalf("failed to swap: %v", err)
	}
	value, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if string(value) != "v2" {
		t.Fatalf("expected v2, got %q", value)
	}

	// delete through swap
	if err := store.CompareAndSwap(ctx, key, kvstore.Value("v2"), nil); err != nil {
		t.Fatalf("failed to delete through swap: %v", err)
	}
	if _, err := store.Get(ctx, key); !kvstore.ErrKeyNotFound.Has(err) {
		t.Fatalf("expected key not found after swap delete, got %v", err)
	}

	// missing key expected to be present
	if err := store.CompareAndSwap(ctx, key, kvstore.Value("v2"), kvstore.Value("v3")); !kvstore.ErrKeyNotFound.Has(err) {
		t.Fatalf("expected key not found, got %v", err)
	}

	// absent and staying absent
	if err := store.CompareAndSwap(ctx, key, nil, nil); err != nil {
		t.Fatalf("expected no-op swap to succeed, got %v", err)
	}
}

func testPrefix(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	items := []item{
		newItem("prefix/a", "1"),
		newItem("prefix/b", "2"),
		newItem("prefix/b/c", "3"),
		newItem("prefiy", "4"),
		newItem("other", "5"),
	}
	defer cleanupItems(t, ctx, store, items)

	for _, item := range items {
		if err := store.Put(ctx, item.Key, item.Value); err != nil {
			t.Fatalf("failed to put %q: %v", item.Key, err)
		}
	}

	found := collect(t, ctx, store, kvstore.Key("prefix/"))
	expected := map[string]string{"prefix/a": "1", "prefix/b": "2", "prefix/b/c": "3"}
	if len(found) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, found)
	}
	for key, value := range expected {
		if found[key] != value {
			t.Fatalf("expected %q = %q, got %v", key, value, found)
		}
	}

	all := collect(t, ctx, store, nil)
	for _, item := range items {
		if all[string(item.Key)] != string(item.Value) {
			t.Fatalf("missing %q in full range: %v", item.Key, all)
		}
	}
}

func testParallel(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	items := []item{
		newItem("parallel/a", "1"),
		newItem("parallel/b", "2"),
		newItem("parallel/c", "3"),
	}
	defer cleanupItems(t, ctx, store, items)

	var wg sync.WaitGroup
	errs := make(chan error, len(items))
	for _, it := range items {
		wg.Add(1)
		go func(it item) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				value := kvstore.Value(string(it.Value) + strconv.Itoa(i))
				if err := store.Put(ctx, it.Key, value); err != nil {
					errs <- err
					return
				}
				got, err := store.Get(ctx, it.Key)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(got, value) {
					errs <- kvstore.ErrValueChanged.New("%q: expected %q got %q", it.Key, value, got)
					return
				}
			}
		}(it)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
}

func testParallelCreate(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	key := kvstore.Key("parallel-create")
	defer func() { _ = store.Delete(ctx, key) }()

	const writers = 8

	var wins int64
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failure error
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.CompareAndSwap(ctx, key, nil, kvstore.Value(strconv.Itoa(i)))
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case kvstore.ErrValueChanged.Has(err):
			default:
				mu.Lock()
				failure = err
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if failure != nil {
		t.Fatalf("unexpected create failure: %v", failure)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
