// Package identity extracts canonical task keys from client identifiers.
//
// A canonical key is a textual UUID: five '-'-delimited hex segments of
// lengths 8-4-4-4-12. Older clients append descriptors after the key
// ("<uuid>-stage-2"), so a longer value whose first five segments form a key
// yields that key as a derived identifier.
package identity

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	// KeyLength is the length of a canonical key.
	KeyLength = 36
	// Segments is the number of delimited segments in a canonical key.
	Segments  = 5
	delimiter = "-"
)

// ErrNotAnIdentifier is returned when no canonical key can be found.
var ErrNotAnIdentifier = errors.New("not an identifier")

// Kind tags how a normalized identifier was obtained.
type Kind int

const (
	Exact Kind = iota + 1
	Derived
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Derived:
		return "derived"
	default:
		return "none"
	}
}

// NormalizedID is a canonical key plus the raw value it came from.
type NormalizedID struct {
	Value string
	Kind  Kind
	Raw   string
}

// Derived reports whether Value differs from the raw input.
func (n NormalizedID) Derived() bool {
	return n.Kind == Derived
}

// Normalize returns the canonical key contained in raw.
func Normalize(raw string) (NormalizedID, error) {
	if len(raw) < KeyLength {
		return NormalizedID{}, ErrNotAnIdentifier
	}
	if len(raw) == KeyLength {
		if !IsCanonical(raw) {
			return NormalizedID{}, ErrNotAnIdentifier
		}
		return NormalizedID{Value: raw, Kind: Exact, Raw: raw}, nil
	}
	parts := strings.SplitN(raw, delimiter, Segments+1)
	if len(parts) <= Segments {
		return NormalizedID{}, ErrNotAnIdentifier
	}
	key := strings.Join(parts[:Segments], delimiter)
	if !IsCanonical(key) {
		return NormalizedID{}, ErrNotAnIdentifier
	}
	return NormalizedID{Value: key, Kind: Derived, Raw: raw}, nil
}

// IsCanonical reports whether s has exactly the canonical key shape.
func IsCanonical(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	return uuid.Validate(s) == nil
}
