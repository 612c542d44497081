// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package authorization decides whether a caller may perform an operation on
// a collection, capturing uncaptured collections on their first
// authenticated write.
package authorization

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/collections/acl"
)

var mon = monkit.Package()

var (
	// Error is the default authorization errs class.
	Error = errs.Class("authorization")

	// ErrPermissionDenied is returned when the caller lacks the required flags.
	ErrPermissionDenied = errs.Class("permission denied")

	// ErrMalformedIdentity is returned for credentials that are not a user id.
	ErrMalformedIdentity = errs.Class("malformed identity")
)

// Operation is a request kind.
type Operation int

const (
	// OpRead reads a value.
	OpRead Operation = iota
	// OpWrite writes a value.
	OpWrite
	// OpRemove removes a value.
	OpRemove
	// OpFind lists keys by tags.
	OpFind
)

// String implements fmt.Stringer.
func (op Operation) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpFind:
		return "find"
	default:
		return "unknown"
	}
}

// Required returns the flags needed for op on a captured collection.
func (op Operation) Required() acl.Flags {
	switch op {
	case OpRead, OpFind:
		return acl.Read
	default:
		return acl.Write
	}
}

// Config configures authorization.
type Config struct {
	Enabled bool `help:"enforce collection permission records" default:"true"`
}

// Verifier authorizes requests.
type Verifier interface {
	Verify(ctx context.Context, op Operation, collection, key string, identity Identity) error
}

// Disabled allows every request.
type Disabled struct{}

// Verify implements Verifier.
func (Disabled) Verify(ctx context.Context, op Operation, collection, key string, identity Identity) error {
	return nil
}

// Engine enforces permission records.
type Engine struct {
	log     *zap.Logger
	tracker *acl.Tracker
}

// NewEngine creates an engine using tracker for record lookups.
func NewEngine(log *zap.Logger, tracker *acl.Tracker) *Engine {
	return &Engine{log: log, tracker: tracker}
}

// Verify returns nil when identity may perform op on (collection, key).
//
// Requests on acl.Collection are governed by the record of acl.Collection
// itself, like any other collection. The key does not matter.
func (engine *Engine) Verify(ctx context.Context, op Operation, collection, key string, identity Identity) (err error) {
	defer mon.Task()(&ctx)(&err)

	record, captured, err := engine.tracker.Lookup(ctx, collection)
	if err != nil {
		return err
	}

	if !captured {
		user, authenticated := identity.UserID()
		if op != OpWrite || !authenticated {
			return nil
		}

		record, captured, err = engine.capture(ctx, collection, user)
		if err != nil {
			return err
		}
		if !captured {
			// the winner went away again, the collection is open.
			return nil
		}
	}

	return engine.evaluate(op, collection, record, identity)
}

// capture creates a record owned by user. When another captor wins, the
// winning record is returned instead.
func (engine *Engine) capture(ctx context.Context, target string, user acl.UserID) (_ acl.Record, captured bool, err error) {
	defer mon.Task()(&ctx)(&err)

	record := acl.Record{user: acl.Both}
	err = engine.tracker.Store().CreateRecord(ctx, target, record)
	switch {
	case err == nil:
		engine.log.Info("captured collection", zap.String("collection", target), zap.Stringer("owner", user))
		engine.tracker.Remember(ctx, target, record)
		return record, true, nil

	case acl.ErrRecordExists.Has(err):
		engine.log.Debug("lost capture race", zap.String("collection", target), zap.Stringer("user", user))
		return engine.tracker.LookupFresh(ctx, target)

	default:
		return nil, false, err
	}
}

func (engine *Engine) evaluate(op Operation, target string, record acl.Record, identity Identity) error {
	flags := acl.None
	if user, ok := identity.UserID(); ok {
		flags = record.Flags(user)
	}

	if !flags.Has(op.Required()) {
		engine.log.Debug("permission denied",
			zap.String("collection", target),
			zap.Stringer("operation", op),
			zap.Stringer("identity", identity),
			zap.Stringer("flags", flags))
		return ErrPermissionDenied.New("%s on %q", op, target)
	}
	return nil
}
