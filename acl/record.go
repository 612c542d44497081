// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package acl

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// UserID identifies an authenticated caller.
type UserID uint64

// String implements fmt.Stringer.
func (id UserID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Flags is a permission bitmask.
type Flags uint8

const (
	// None grants nothing.
	None Flags = 0x00
	// Read grants reading and finding.
	Read Flags = 0x01
	// Write grants writing and removing.
	Write Flags = 0x02
	// Both is what an owner gets.
	Both = Read | Write
)

// Has returns whether every bit of required is set.
func (flags Flags) Has(required Flags) bool { return flags&required == required }

// Valid returns whether flags only uses known bits.
func (flags Flags) Valid() bool { return flags&^Both == 0 }

// String implements fmt.Stringer.
func (flags Flags) String() string {
	switch flags {
	case None:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case Both:
		return "read|write"
	default:
		return "Flags(" + strconv.Itoa(int(flags)) + ")"
	}
}

// Record maps users to their permissions on one collection.
type Record map[UserID]Flags

// Flags returns the permissions of user, None when absent.
func (record Record) Flags(user UserID) Flags { return record[user] }

// Users returns the users listed in the record in ascending order.
func (record Record) Users() []UserID {
	users := make([]UserID, 0, len(record))
	for user := range record {
		users = append(users, user)
	}
	sort.Slice(users, func(i, k int) bool { return users[i] < users[k] })
	return users
}

// Clone returns a copy of record.
func (record Record) Clone() Record {
	clone := make(Record, len(record))
	for user, flags := range record {
		clone[user] = flags
	}
	return clone
}

// String implements fmt.Stringer.
func (record Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, user := range record.Users() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(user.String())
		b.WriteString(": ")
		b.WriteString(record[user].String())
	}
	b.WriteByte('}')
	return b.String()
}

// Encode serializes record as a msgpack map from user id to flags, with
// keys in ascending order.
func Encode(record Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeMapLen(len(record)); err != nil {
		return nil, Error.Wrap(err)
	}
	for _, user := range record.Users() {
		flags := record[user]
		if !flags.Valid() {
			return nil, ErrInvalidFraming.New("user %d has unknown flags %d", user, flags)
		}
		if err := enc.EncodeUint(uint64(user)); err != nil {
			return nil, Error.Wrap(err)
		}
		if err := enc.EncodeUint(uint64(flags)); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a permission record.
//
// It accepts a map keyed by numeric user ids or by their decimal string form,
// and the two element form [client permissions, user permissions] where only
// the user permissions are kept. Anything else is ErrInvalidFraming.
func Decode(data []byte) (Record, error) {
	reader := bytes.NewReader(data)
	dec := msgpack.NewDecoder(reader)

	code, err := dec.PeekCode()
	if err != nil {
		return nil, ErrInvalidFraming.Wrap(err)
	}

	var record Record
	if isArray(code) {
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, ErrInvalidFraming.Wrap(err)
		}
		if n != 2 {
			return nil, ErrInvalidFraming.New("expected 2 permission maps, got %d", n)
		}
		if _, err := decodeMap(dec); err != nil {
			return nil, err
		}
		if record, err = decodeMap(dec); err != nil {
			return nil, err
		}
	} else if record, err = decodeMap(dec); err != nil {
		return nil, err
	}

	if reader.Len() != 0 {
		return nil, ErrInvalidFraming.New("%d trailing bytes", reader.Len())
	}
	return record, nil
}

func isArray(code byte) bool {
	return msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32
}

func decodeMap(dec *msgpack.Decoder) (Record, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, ErrInvalidFraming.Wrap(err)
	}
	if n < 0 {
		return nil, ErrInvalidFraming.New("nil permission map")
	}

	record := make(Record, n)
	for i := 0; i < n; i++ {
		rawUser, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, ErrInvalidFraming.Wrap(err)
		}
		user, err := parseUser(rawUser)
		if err != nil {
			return nil, err
		}

		rawFlags, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, ErrInvalidFraming.Wrap(err)
		}
		flags, err := parseFlags(rawFlags)
		if err != nil {
			return nil, err
		}

		record[user] = flags
	}
	return record, nil
}

func parseUser(raw interface{}) (UserID, error) {
	switch v := raw.(type) {
	case uint64:
		return UserID(v), nil
	case int64:
		if v < 0 {
			return 0, ErrInvalidFraming.New("negative user id %d", v)
		}
		return UserID(v), nil
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, ErrInvalidFraming.New("user id %q is not numeric", v)
		}
		return UserID(id), nil
	case []byte:
		return parseUser(string(v))
	default:
		return 0, ErrInvalidFraming.New("unexpected user id type %T", raw)
	}
}

func parseFlags(raw interface{}) (Flags, error) {
	var value uint64
	switch v := raw.(type) {
	case uint64:
		value = v
	case int64:
		if v < 0 {
			return 0, ErrInvalidFraming.New("negative flags %d", v)
		}
		value = uint64(v)
	default:
		return 0, ErrInvalidFraming.New("unexpected flags type %T", raw)
	}

	if value > uint64(Both) {
		return 0, ErrInvalidFraming.New("unknown flags %d", value)
	}
	return Flags(value), nil
}
