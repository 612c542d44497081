// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package acl keeps permission records for collections as ordinary entries
// in a reserved collection.
package acl

import (
	"bytes"
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/collections/entries"
)

var mon = monkit.Package()

var (
	// Error is the default acl errs class.
	Error = errs.Class("acl")

	// ErrInvalidFraming is returned when a stored or submitted record cannot be decoded.
	ErrInvalidFraming = errs.Class("invalid ACL framing")

	// ErrRecordExists is returned when creating a record that is already present.
	ErrRecordExists = errs.Class("record exists")
)

// Collection is the reserved collection holding the permission records of
// every collection, including itself.
const Collection = ".collection-acls"

// Tags are attached to records created by this package.
var Tags = [][]byte{[]byte("storage-acls")}

// WithTags returns tags followed by any of Tags it is missing.
func WithTags(tags [][]byte) [][]byte {
	result := append([][]byte(nil), tags...)
next:
	for _, required := range Tags {
		for _, tag := range tags {
			if bytes.Equal(tag, required) {
				continue next
			}
		}
		result = append(result, required)
	}
	return result
}

// Store reads and writes permission records.
type Store struct {
	db *entries.DB
}

// NewStore returns a Store keeping records in db.
func NewStore(db *entries.DB) *Store {
	return &Store{db: db}
}

// GetRecord returns the record governing collection and whether one exists.
func (store *Store) GetRecord(ctx context.Context, collection string) (_ Record, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	entry, err := store.db.Get(ctx, Collection, collection)
	if entries.ErrNotFound.Has(err) {
		return nil, false, nil
	}
	if entries.ErrInvalid.Has(err) {
		return nil, false, ErrInvalidFraming.Wrap(err)
	}
	if err != nil {
		return nil, false, Error.Wrap(err)
	}

	record, err := Decode(entry.Value)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// SetRecord replaces the record governing collection.
func (store *Store) SetRecord(ctx context.Context, collection string, record Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := Encode(record)
	if err != nil {
		return err
	}
	return Error.Wrap(store.db.Put(ctx, Collection, collection, entries.Entry{Value: data, Tags: Tags}))
}

// CreateRecord stores record only if collection has no record yet, otherwise
// it returns ErrRecordExists and leaves the present record untouched.
func (store *Store) CreateRecord(ctx context.Context, collection string, record Record) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := Encode(record)
	if err != nil {
		return err
	}

	err = store.db.Create(ctx, Collection, collection, entries.Entry{Value: data, Tags: Tags})
	if entries.ErrExists.Has(err) {
		return ErrRecordExists.New("%q", collection)
	}
	return Error.Wrap(err)
}
