// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package testsuite

import (
	"context"
	"testing"

	"storj.io/collections/private/kvstore"
)

type item struct {
	Key   kvstore.Key
	Value kvstore.Value
}

func newItem(key, value string) item {
	return item{
		Key:   kvstore.Key(key),
		Value: kvstore.Value(value),
	}
}

func cleanupItems(t testing.TB, ctx context.Context, store kvstore.Store, items []item) {
	for _, item := range items {
		_ = store.Delete(ctx, item.Key)
	}
}

func collect(t testing.TB, ctx context.Context, store kvstore.Store, prefix kvstore.Key) map[string]string {
	t.Helper()

	found := map[string]string{}
	err := kvstore.RangePrefix(ctx, store, prefix, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		found[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to range %q: %v", prefix, err)
	}
	return found
}
