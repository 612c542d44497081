// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"

	"storj.io/collections/acl"
	"storj.io/collections/authorization"
	"storj.io/collections/collections/collectionshttp"
	"storj.io/common/testcontext"
	"storj.io/collections/server"
)

func testConfig(database string) server.Config {
	return server.Config{
		Database: database,
		Server: collectionshttp.Config{
			Address:         "127.0.0.1:0",
			ShutdownTimeout: time.Second,
		},
		Authorization: authorization.Config{Enabled: true},
		ACL: acl.TrackerConfig{
			CacheExpiration: time.Minute,
			CacheCapacity:   100,
		},
	}
}

func do(t *testing.T, ctx context.Context, method, url, credential string, body interface{}) int {
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &payload)
	require.NoError(t, err)
	if credential != "" {
		req.Header.Set(collectionshttp.CredentialHeader, credential)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp.StatusCode
}

func TestPeer(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	peer, err := server.New(ctx, zaptest.NewLogger(t), testConfig("bolt://"+ctx.File("collections.db")))
	require.NoError(t, err)
	defer ctx.Check(peer.Close)

	runCtx, cancel := context.WithCancel(ctx)
	ctx.Go(func() error { return peer.Run(runCtx) })
	defer cancel()

	base := "http://" + peer.Addr() + "/v1/collections/"

	require.Equal(t, http.StatusOK, do(t, ctx, http.MethodPut, base+"secrets/keys/key", "1001", collectionshttp.WriteRequest{Value: []byte("X1")}))
	require.Equal(t, http.StatusForbidden, do(t, ctx, http.MethodGet, base+"secrets/keys/key", "", nil))
	require.Equal(t, http.StatusOK, do(t, ctx, http.MethodGet, base+"secrets/keys/key", "1001", nil))

	record, exists, err := peer.ACL.Store.GetRecord(ctx, "secrets")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, acl.Both, record.Flags(1001))

	grant, err := msgpack.Marshal(map[uint64]uint8{1001: 3, 2002: 1})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(t, ctx, http.MethodPut, base+acl.Collection+"/keys/secrets", "1001", collectionshttp.WriteRequest{Value: grant}))
	require.Equal(t, http.StatusOK, do(t, ctx, http.MethodGet, base+"secrets/keys/key", "2002", nil))

	cancel()
	ctx.Wait()
}

func TestPeerDisabledAuthorization(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := testConfig("memory://")
	config.Authorization.Enabled = false

	peer, err := server.New(ctx, zaptest.NewLogger(t), config)
	require.NoError(t, err)
	defer ctx.Check(peer.Close)

	require.Equal(t, authorization.Disabled{}, peer.Verifier)
}

func TestPeerInvalidDatabase(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := server.New(ctx, zaptest.NewLogger(t), testConfig("cassandra://somewhere"))
	require.Error(t, err)
}
