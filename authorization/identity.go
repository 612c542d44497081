// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package authorization

import (
	"strconv"
	"strings"

	"storj.io/collections/acl"
)

// Identity is the caller of a request, either anonymous or a user.
type Identity struct {
	user          acl.UserID
	authenticated bool
}

// Anonymous returns the identity of callers without credentials.
func Anonymous() Identity { return Identity{} }

// User returns the identity of an authenticated user.
func User(id acl.UserID) Identity { return Identity{user: id, authenticated: true} }

// UserID returns the user and whether the identity is authenticated.
func (identity Identity) UserID() (acl.UserID, bool) {
	return identity.user, identity.authenticated
}

// IsAnonymous returns whether the caller presented no credentials.
func (identity Identity) IsAnonymous() bool { return !identity.authenticated }

// String implements fmt.Stringer.
func (identity Identity) String() string {
	if !identity.authenticated {
		return "anonymous"
	}
	return "uid:" + identity.user.String()
}

// ParseIdentity parses a credential. An empty credential is anonymous, a
// decimal number is a user id and anything else is ErrMalformedIdentity.
func ParseIdentity(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Anonymous(), nil
	}

	id, err := strconv.ParseUint(credential, 10, 64)
	if err != nil {
		return Identity{}, ErrMalformedIdentity.New("%q", credential)
	}
	return User(acl.UserID(id)), nil
}
