// Package id implements actor identity normalization and key encoding.
//
// An actor identity is a pair of a normalized type name and an ordered
// string vector. IDs are never concatenated naively: length and element
// boundaries are significant, so the encoding must preserve them exactly.
package id

import (
	"fmt"
	"strings"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// Identity uniquely names an actor instance.
type Identity struct {
	Type string
	ID   []string
}

// Normalize strips underscores and lowercases an actor type name so that
// e.g. "My_Actor" and "myactor" refer to the same registered type.
func Normalize(actorType string) string {
	return strings.ToLower(strings.ReplaceAll(actorType, "_", ""))
}

// New builds an Identity with its Type already normalized.
func New(actorType string, parts ...string) Identity {
	return Identity{Type: Normalize(actorType), ID: append([]string(nil), parts...)}
}

// Key packs the identity into an opaque byte string suitable for use as a
// map/store key. It preserves the number and content of ID parts, so
// ParseKey(Key(id)) == id for any []string, including empty strings and
// strings containing NUL/SOH bytes.
func Key(id Identity) []byte {
	t := make(tuple.Tuple, 0, len(id.ID)+1)
	t = append(t, id.Type)
	for _, p := range id.ID {
		t = append(t, p)
	}
	return t.Pack()
}

// ParseKey is the inverse of Key.
func ParseKey(b []byte) (Identity, error) {
	t, err := tuple.Unpack(b)
	if err != nil {
		return Identity{}, fmt.Errorf("id: ParseKey: %w", err)
	}
	if len(t) == 0 {
		return Identity{}, fmt.Errorf("id: ParseKey: empty tuple")
	}
	actorType, ok := t[0].(string)
	if !ok {
		return Identity{}, fmt.Errorf("id: ParseKey: first element is not a string")
	}
	parts := make([]string, 0, len(t)-1)
	for _, el := range t[1:] {
		s, ok := el.(string)
		if !ok {
			return Identity{}, fmt.Errorf("id: ParseKey: non-string id part")
		}
		parts = append(parts, s)
	}
	return Identity{Type: actorType, ID: parts}, nil
}

// Text renders the identity as a human-readable string for logging only;
// it is not used for key equality.
func (i Identity) Text() string {
	return fmt.Sprintf("%s/%s", i.Type, strings.Join(i.ID, "/"))
}

// Equal reports whether two identities name the same actor instance.
func (i Identity) Equal(o Identity) bool {
	if i.Type != o.Type || len(i.ID) != len(o.ID) {
		return false
	}
	for idx := range i.ID {
		if i.ID[idx] != o.ID[idx] {
			return false
		}
	}
	return true
}
