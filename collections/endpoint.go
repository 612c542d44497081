// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package collections serves read, write, remove and find requests on
// collections, authorizing each one before touching stored values.
package collections

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/collections/acl"
	"storj.io/collections/authorization"
	"storj.io/collections/entries"
)

var mon = monkit.Package()

var (
	// Error is the default collections errs class.
	Error = errs.Class("collections")

	// ErrInvalidArgument is returned for requests missing a collection or key.
	ErrInvalidArgument = errs.Class("invalid argument")
)

// Request is a single operation on a collection.
type Request struct {
	Op         authorization.Operation
	Collection string
	Key        string
	// Value and Tags are used by writes; Tags also by finds.
	Value []byte
	Tags  [][]byte
	// Credential is the raw caller credential, empty for anonymous callers.
	Credential string
}

// Outcome is the result of a request. Exactly one of Values and Err is
// meaningful: a nil Err means success with zero or more values.
type Outcome struct {
	Values [][]byte
	Err    *Status
}

// OK returns whether the request succeeded.
func (outcome Outcome) OK() bool { return outcome.Err == nil }

// Endpoint dispatches requests.
type Endpoint struct {
	log      *zap.Logger
	db       *entries.DB
	tracker  *acl.Tracker
	verifier authorization.Verifier
}

// NewEndpoint creates an endpoint storing values in db. tracker is kept
// coherent with writes to the permission collection.
func NewEndpoint(log *zap.Logger, db *entries.DB, tracker *acl.Tracker, verifier authorization.Verifier) *Endpoint {
	return &Endpoint{
		log:      log,
		db:       db,
		tracker:  tracker,
		verifier: verifier,
	}
}

// Handle parses the request credential and dispatches on the operation.
func (endpoint *Endpoint) Handle(ctx context.Context, request Request) Outcome {
	identity, err := authorization.ParseIdentity(request.Credential)
	if err != nil {
		return endpoint.failure(request.Op, request.Collection, request.Key, err)
	}

	switch request.Op {
	case authorization.OpRead:
		return endpoint.Read(ctx, identity, request.Collection, request.Key)
	case authorization.OpWrite:
		return endpoint.Write(ctx, identity, request.Collection, request.Key, request.Value, request.Tags)
	case authorization.OpRemove:
		return endpoint.Remove(ctx, identity, request.Collection, request.Key)
	case authorization.OpFind:
		return endpoint.Find(ctx, identity, request.Collection, request.Tags)
	default:
		return endpoint.failure(request.Op, request.Collection, request.Key, ErrInvalidArgument.New("unknown operation %d", request.Op))
	}
}

// Read returns the value at (collection, key). A missing value is a
// success without values.
func (endpoint *Endpoint) Read(ctx context.Context, identity authorization.Identity, collection, key string) (outcome Outcome) {
	var err error
	defer mon.Task()(&ctx)(&err)

	if err = validate(collection, key); err != nil {
		return endpoint.failure(authorization.OpRead, collection, key, err)
	}
	if err = endpoint.verifier.Verify(ctx, authorization.OpRead, collection, key, identity); err != nil {
		return endpoint.failure(authorization.OpRead, collection, key, err)
	}

	entry, err := endpoint.db.Get(ctx, collection, key)
	if entries.ErrNotFound.Has(err) {
		err = nil
		return Outcome{Values: [][]byte{}}
	}
	if err != nil {
		return endpoint.failure(authorization.OpRead, collection, key, err)
	}
	return Outcome{Values: [][]byte{entry.Value}}
}

// Write replaces the value and tags at (collection, key). Values written to
// the permission collection must be valid permission records.
func (endpoint *Endpoint) Write(ctx context.Context, identity authorization.Identity, collection, key string, value []byte, tags [][]byte) (outcome Outcome) {
	var err error
	defer mon.Task()(&ctx)(&err)

	if err = validate(collection, key); err != nil {
		return endpoint.failure(authorization.OpWrite, collection, key, err)
	}

	// decoded before verification so a rejected payload cannot capture anything.
	var record acl.Record
	if collection == acl.Collection {
		if record, err = acl.Decode(value); err != nil {
			return endpoint.failure(authorization.OpWrite, collection, key, err)
		}
		tags = acl.WithTags(tags)
	}

	if err = endpoint.verifier.Verify(ctx, authorization.OpWrite, collection, key, identity); err != nil {
		return endpoint.failure(authorization.OpWrite, collection, key, err)
	}

	if err = endpoint.db.Put(ctx, collection, key, entries.Entry{Value: value, Tags: tags}); err != nil {
		if collection == acl.Collection {
			endpoint.tracker.Invalidate(ctx, key)
		}
		return endpoint.failure(authorization.OpWrite, collection, key, err)
	}

	if collection == acl.Collection {
		endpoint.log.Info("permissions changed",
			zap.String("collection", key),
			zap.Stringer("by", identity),
			zap.Stringer("record", record))
		endpoint.tracker.Remember(ctx, key, record)
	}
	return Outcome{Values: [][]byte{}}
}

// Remove deletes the value at (collection, key). Removing a missing value succeeds.
func (endpoint *Endpoint) Remove(ctx context.Context, identity authorization.Identity, collection, key string) (outcome Outcome) {
	var err error
	defer mon.Task()(&ctx)(&err)

	if err = validate(collection, key); err != nil {
		return endpoint.failure(authorization.OpRemove, collection, key, err)
	}
	if err = endpoint.verifier.Verify(ctx, authorization.OpRemove, collection, key, identity); err != nil {
		return endpoint.failure(authorization.OpRemove, collection, key, err)
	}

	err = endpoint.db.Delete(ctx, collection, key)
	if collection == acl.Collection {
		endpoint.tracker.Invalidate(ctx, key)
	}
	if err != nil {
		return endpoint.failure(authorization.OpRemove, collection, key, err)
	}
	return Outcome{Values: [][]byte{}}
}

// Find returns the keys of collection carrying every tag in tags, in ascending order.
func (endpoint *Endpoint) Find(ctx context.Context, identity authorization.Identity, collection string, tags [][]byte) (outcome Outcome) {
	var err error
	defer mon.Task()(&ctx)(&err)

	if collection == "" {
		err = ErrInvalidArgument.New("empty collection name")
		return endpoint.failure(authorization.OpFind, collection, "", err)
	}
	if err = endpoint.verifier.Verify(ctx, authorization.OpFind, collection, "", identity); err != nil {
		return endpoint.failure(authorization.OpFind, collection, "", err)
	}

	keys, err := endpoint.db.Find(ctx, collection, tags)
	if err != nil {
		return endpoint.failure(authorization.OpFind, collection, "", err)
	}

	values := make([][]byte, 0, len(keys))
	for _, key := range keys {
		values = append(values, []byte(key))
	}
	return Outcome{Values: values}
}

func (endpoint *Endpoint) failure(op authorization.Operation, collection, key string, err error) Outcome {
	status := ToStatus(err)
	fields := []zap.Field{
		zap.Stringer("operation", op),
		zap.String("collection", collection),
		zap.String("key", key),
		zap.Error(err),
	}
	if *status == StatusStoreUnavailable {
		endpoint.log.Error("request failed", fields...)
	} else {
		endpoint.log.Debug("request rejected", fields...)
	}
	return Outcome{Err: status}
}

func validate(collection, key string) error {
	if collection == "" {
		return ErrInvalidArgument.New("empty collection name")
	}
	if key == "" {
		return ErrInvalidArgument.New("empty key")
	}
	return nil
}
