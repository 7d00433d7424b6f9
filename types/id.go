package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// IDKind tells a client-only identifier apart from a backend-assigned one.
type IDKind int

const (
	// Pending identifies a row that exists only on the client and has never
	// been saved by the backend.
	Pending IDKind = iota
	// Persisted identifies a row the backend has stored under a stable id.
	Persisted
)

// String returns the string representation of the id kind.
func (k IDKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Persisted:
		return "persisted"
	default:
		return fmt.Sprintf("IDKind(%d)", int(k))
	}
}

// ID is the identity of a marker or a trip. It is either Pending, with a
// local key used to address the row while it is edited, or Persisted with
// the identifier assigned by the backend.
//
// On the wire a Pending id is encoded as JSON null so the backend assigns a
// new one on save.
type ID struct {
	kind  IDKind
	local uuid.UUID
	value string
}

// NewPendingID returns a fresh client-only identifier.
func NewPendingID() ID {
	return ID{kind: Pending, local: uuid.New()}
}

// PersistedID returns the identifier of a row stored by the backend.
// An empty value yields a new pending id.
func PersistedID(value string) ID {
	if value == "" {
		return NewPendingID()
	}
	return ID{kind: Persisted, value: value}
}

// Kind returns whether the id is pending or persisted.
func (id ID) Kind() IDKind {
	return id.kind
}

// IsPending reports whether the id has never been assigned by the backend.
// The zero ID is pending.
func (id ID) IsPending() bool {
	return id.kind == Pending
}

// Value returns the backend identifier and true for persisted ids, or an
// empty string and false for pending ones.
func (id ID) Value() (string, bool) {
	if id.kind != Persisted {
		return "", false
	}
	return id.value, true
}

// Key returns a string that uniquely addresses the row on the client,
// whatever its kind. Pending and persisted keys never collide.
func (id ID) Key() string {
	if id.kind == Persisted {
		return "p:" + id.value
	}
	return "l:" + id.local.String()
}

// String implements fmt.Stringer.
func (id ID) String() string {
	if id.kind == Persisted {
		return id.value
	}
	return "pending(" + id.local.String() + ")"
}

// MarshalJSON encodes persisted ids as a string and pending ids as null.
func (id ID) MarshalJSON() ([]byte, error) {
	if v, ok := id.Value(); ok {
		return json.Marshal(v)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a string id as persisted. A null or empty id
// becomes a new pending id. Numeric ids are accepted and kept as strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = NewPendingID()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if errNum := json.Unmarshal(data, &n); errNum != nil {
			return fmt.Errorf("invalid id %s: %w", data, err)
		}
		s = n.String()
	}
	*id = PersistedID(s)
	return nil
}

// Equal reports whether both ids identify the same row.
func (id ID) Equal(other ID) bool {
	return id == other
}
