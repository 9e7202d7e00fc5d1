package helpers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GUID is a 16-byte identifier in on-disk (mixed-endian) order: the first three
// groups are little-endian, the last two big-endian.
type GUID [16]byte

// swapGUID converts between on-disk GUID order and RFC 4122 order. The
// transform is its own inverse.
func swapGUID(b [16]byte) [16]byte {
	out := b
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	return out
}

// String returns the canonical upper-case form.
func (g GUID) String() string {
	return strings.ToUpper(uuid.UUID(swapGUID(g)).String())
}

// UUID returns the RFC 4122 representation.
func (g GUID) UUID() uuid.UUID {
	return uuid.UUID(swapGUID(g))
}

// IsZero reports whether every byte is zero.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// ParseGUID parses a canonical GUID string into on-disk order.
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return GUID(swapGUID(u)), nil
}

// GUIDFromUUID converts an RFC 4122 UUID into on-disk order.
func GUIDFromUUID(u uuid.UUID) GUID {
	return GUID(swapGUID(u))
}

// MustParseGUID is ParseGUID for constants; it panics on malformed input.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}
