package helpers

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/deploymenttheory/go-qdl/internal/types"
)

// DecodeUTF16Name decodes a UTF-16LE byte slice, stopping at the first NUL code unit.
func DecodeUTF16Name(b []byte) string {
	u16s := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		val := binary.LittleEndian.Uint16(b[i : i+2])
		if val == 0 {
			break
		}
		u16s = append(u16s, val)
	}
	return string(utf16.Decode(u16s))
}

// EncodeUTF16Name encodes a partition name into the fixed 72-byte field,
// NUL padded.
func EncodeUTF16Name(s string) ([72]byte, error) {
	var out [72]byte
	units := utf16.Encode([]rune(s))
	if len(units) > types.GPTPartitionNameUnits {
		return out, fmt.Errorf("partition name %q is %d UTF-16 units, limit is %d", s, len(units), types.GPTPartitionNameUnits)
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out, nil
}
