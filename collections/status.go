// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package collections

import (
	"fmt"

	"storj.io/collections/acl"
	"storj.io/collections/authorization"
	"storj.io/collections/entries"
)

// Error categories.
const (
	CategoryDispatch = 7
	CategorySecurity = 9
	CategoryStorage  = 12
)

// Status is the error half of an Outcome, a category and code pair with a
// message meant for the caller.
type Status struct {
	Category int
	Code     int
	Message  string
}

// Error implements error.
func (status *Status) Error() string {
	return fmt.Sprintf("[%d, %d] %s", status.Category, status.Code, status.Message)
}

var (
	// StatusPermissionDenied is returned when the caller lacks the required rights.
	StatusPermissionDenied = Status{Category: CategoryStorage, Code: 13, Message: "Permission denied"}
	// StatusNotFound is returned for missing entries where absence is an error.
	StatusNotFound = Status{Category: CategoryStorage, Code: 2, Message: "No such file or directory"}
	// StatusStoreUnavailable is returned when the backing store fails.
	StatusStoreUnavailable = Status{Category: CategoryStorage, Code: 5, Message: "Input/output error"}
	// StatusMalformedIdentity is returned for credentials that are not a user id.
	StatusMalformedIdentity = Status{Category: CategorySecurity, Code: 2, Message: "unauthorized"}
	// StatusInvalidFraming is returned for permission records that do not decode.
	StatusInvalidFraming = Status{Category: CategorySecurity, Code: 5, Message: "invalid ACL framing"}
	// StatusInvalidArgument is returned for empty collection names or keys.
	StatusInvalidArgument = Status{Category: CategoryDispatch, Code: 2, Message: "invalid argument"}
)

// ToStatus maps an error to the status reported to callers. It returns nil
// for a nil error and StatusStoreUnavailable for errors it does not know.
func ToStatus(err error) *Status {
	var status Status
	switch {
	case err == nil:
		return nil
	case authorization.ErrPermissionDenied.Has(err):
		status = StatusPermissionDenied
	case authorization.ErrMalformedIdentity.Has(err):
		status = StatusMalformedIdentity
	case acl.ErrInvalidFraming.Has(err):
		status = StatusInvalidFraming
	case ErrInvalidArgument.Has(err):
		status = StatusInvalidArgument
	case entries.ErrNotFound.Has(err):
		status = StatusNotFound
	default:
		status = StatusStoreUnavailable
	}
	return &status
}
