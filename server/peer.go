// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package server assembles a collections service from its configuration.
package server

import (
	"context"
	"net"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/collections/acl"
	"storj.io/collections/authorization"
	"storj.io/collections/collections"
	"storj.io/collections/collections/collectionsdb"
	"storj.io/collections/collections/collectionshttp"
	"storj.io/collections/entries"
	"storj.io/collections/private/kvstore"
	"storj.io/collections/private/lifecycle"
)

// Error is the default server errs class.
var Error = errs.Class("server")

// Config is all the configuration parameters for a collections server.
type Config struct {
	Database         string `user:"true" help:"database url: memory://, bolt://path, pebble://dir, leveldb://dir or redis://host:port?db=n" default:"bolt://$CONFDIR/collections.db"`
	DatabaseDebugLog bool   `help:"log every key value store operation" default:"false"`

	Server        collectionshttp.Config
	Authorization authorization.Config
	ACL           acl.TrackerConfig
}

// Peer is a running collections service.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger

	Store   kvstore.Store
	Entries *entries.DB

	ACL struct {
		Store   *acl.Store
		Tracker *acl.Tracker
	}

	Verifier authorization.Verifier
	Endpoint *collections.Endpoint

	Server struct {
		Listener net.Listener
		HTTP     *collectionshttp.Server
	}

	Servers *lifecycle.Group
}

// New creates a peer from config. The peer owns the store it opens.
func New(ctx context.Context, log *zap.Logger, config Config) (_ *Peer, err error) {
	store, err := collectionsdb.Open(ctx, log.Named("db"), config.Database, collectionsdb.Options{
		DebugLog: config.DatabaseDebugLog,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	peer, err := NewWithStore(log, store, config)
	if err != nil {
		return nil, errs.Combine(err, store.Close())
	}
	return peer, nil
}

// NewWithStore creates a peer on top of store. Closing the peer closes store.
func NewWithStore(log *zap.Logger, store kvstore.Store, config Config) (_ *Peer, err error) {
	peer := &Peer{
		Log:     log,
		Store:   store,
		Servers: lifecycle.NewGroup(log.Named("servers")),
	}

	peer.Entries = entries.New(log.Named("entries"), store)

	{ // setup permissions
		peer.ACL.Store = acl.NewStore(peer.Entries)
		peer.ACL.Tracker = acl.NewTracker(log.Named("acl"), peer.ACL.Store, config.ACL)

		if config.Authorization.Enabled {
			peer.Verifier = authorization.NewEngine(log.Named("authorization"), peer.ACL.Tracker)
		} else {
			log.Warn("collection permissions are not enforced")
			peer.Verifier = authorization.Disabled{}
		}
	}

	peer.Endpoint = collections.NewEndpoint(log.Named("endpoint"), peer.Entries, peer.ACL.Tracker, peer.Verifier)

	{ // setup transport
		peer.Server.Listener, err = net.Listen("tcp", config.Server.Address)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		peer.Server.HTTP = collectionshttp.New(log.Named("http"), peer.Endpoint, peer.Server.Listener, config.Server)

		peer.Servers.Add(lifecycle.Item{
			Name:  "http",
			Run:   peer.Server.HTTP.Run,
			Close: peer.Server.HTTP.Close,
		})
	}

	return peer, nil
}

// Addr returns the address requests are served on.
func (peer *Peer) Addr() string { return peer.Server.Listener.Addr().String() }

// Run runs the peer until ctx is canceled or a server fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	group, ctx := errgroup.WithContext(ctx)

	peer.Servers.Run(ctx, group)

	return group.Wait()
}

// Close closes all the resources.
func (peer *Peer) Close() error {
	return errs.Combine(
		peer.Servers.Close(),
		peer.Store.Close(),
	)
}
