// Package gpt decodes, rebuilds and transforms GUID partition tables as they are
// read from and written to a device one sector buffer at a time.
package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/deploymenttheory/go-qdl/internal/helpers"
	"github.com/deploymenttheory/go-qdl/internal/types"
)

// Header is a decoded GPT header.
type Header struct {
	Signature           string
	Revision            uint32
	HeaderSize          uint32
	HeaderCRC32         uint32
	Reserved            uint32
	CurrentLBA          uint64
	AlternateLBA        uint64
	FirstUsableLBA      uint64
	LastUsableLBA       uint64
	DiskGUID            helpers.GUID
	PartEntriesStartLBA uint64
	NumPartEntries      uint32
	PartEntrySize       uint32
	PartEntriesCRC32    uint32

	// bytes between the 92-byte structure and HeaderSize, covered by the CRC
	tail        []byte
	computedCRC uint32
}

// ChecksumValid reports whether the stored header CRC matched the header bytes at parse time.
func (h Header) ChecksumValid() bool {
	return h.computedCRC == h.HeaderCRC32
}

// EntriesBytes is the size of the partition entry array.
func (h Header) EntriesBytes() uint64 {
	return uint64(h.NumPartEntries) * uint64(h.PartEntrySize)
}

// EntriesSectors is the number of sectors needed to hold the partition entry array.
func (h Header) EntriesSectors(sectorSize int) uint64 {
	if sectorSize <= 0 {
		return 0
	}
	ss := uint64(sectorSize)
	return (h.EntriesBytes() + ss - 1) / ss
}

// PartitionEntry is one decoded record of the partition entry array.
type PartitionEntry struct {
	TypeGUID    helpers.GUID
	UniqueGUID  helpers.GUID
	StartingLBA uint64
	EndingLBA   uint64
	Attributes  uint64
	Name        string

	rawName [72]byte
	extra   []byte
}

// SectorCount is the inclusive length of the partition in sectors.
func (e PartitionEntry) SectorCount() uint64 {
	if e.EndingLBA < e.StartingLBA {
		return 0
	}
	return e.EndingLBA - e.StartingLBA + 1
}

// IsUnused reports whether the record is an empty slot in the array.
func (e PartitionEntry) IsUnused() bool {
	return e.TypeGUID.IsZero()
}

// SlotSuffix returns "a" or "b" for A/B partitions, "" otherwise.
func (e PartitionEntry) SlotSuffix() string {
	name := e.trimmedName()
	if len(name) < 2 || name[len(name)-2] != '_' {
		return ""
	}
	switch s := name[len(name)-1:]; s {
	case "a", "b":
		return s
	}
	return ""
}

// BaseName returns the name without its slot suffix.
func (e PartitionEntry) BaseName() string {
	name := e.trimmedName()
	if e.SlotSuffix() == "" {
		return name
	}
	return name[:len(name)-2]
}

func (e PartitionEntry) trimmedName() string {
	return strings.TrimSpace(e.Name)
}

func (e PartitionEntry) nameBytes() [72]byte {
	if helpers.DecodeUTF16Name(e.rawName[:]) == e.Name {
		return e.rawName
	}
	raw, err := helpers.EncodeUTF16Name(e.Name)
	if err != nil {
		units := []rune(e.Name)
		for len(units) > 0 && err != nil {
			units = units[:len(units)-1]
			raw, err = helpers.EncodeUTF16Name(string(units))
		}
	}
	return raw
}

// GPT is one partition table of one logical unit, primary or backup.
//
// A GPT is treated as a value: transforms such as WithActiveSlot and Mirror
// return a new table and never modify the receiver.
type GPT struct {
	SectorSize int
	Header     Header
	Entries    []PartitionEntry

	HeaderCRCMismatch  bool
	EntriesCRCMismatch bool
}

// ParseHeader decodes a header sector. CurrentLBA is set to lba.
func ParseHeader(buf []byte, lba uint64) (Header, error) {
	if len(buf) < types.GPTHeaderSize {
		return Header{}, &FormatError{LBA: lba, Err: fmt.Errorf("%w: header needs %d bytes, got %d", ErrShortBuffer, types.GPTHeaderSize, len(buf))}
	}

	var raw types.GPTHeaderT
	if err := binary.Read(bytes.NewReader(buf[:types.GPTHeaderSize]), binary.LittleEndian, &raw); err != nil {
		return Header{}, &FormatError{LBA: lba, Err: fmt.Errorf("failed to decode header: %w", err)}
	}

	if string(raw.Signature[:]) != types.GPTSignature {
		return Header{}, &FormatError{LBA: lba, Err: fmt.Errorf("%w: %q", ErrInvalidSignature, raw.Signature[:])}
	}
	if raw.HeaderSize < types.GPTHeaderSize || int(raw.HeaderSize) > len(buf) {
		return Header{}, &FormatError{LBA: lba, Err: fmt.Errorf("%w: %d", ErrInvalidHeaderSize, raw.HeaderSize)}
	}
	if raw.SizeOfPartitionEntry < types.GPTPartitionEntrySize {
		return Header{}, &FormatError{LBA: lba, Err: fmt.Errorf("%w: %d", ErrInvalidEntrySize, raw.SizeOfPartitionEntry)}
	}

	h := Header{
		Signature:           string(raw.Signature[:]),
		Revision:            raw.Revision,
		HeaderSize:          raw.HeaderSize,
		HeaderCRC32:         raw.HeaderCRC32,
		Reserved:            raw.Reserved,
		CurrentLBA:          lba,
		AlternateLBA:        raw.AlternateLBA,
		FirstUsableLBA:      raw.FirstUsableLBA,
		LastUsableLBA:       raw.LastUsableLBA,
		DiskGUID:            helpers.GUID(raw.DiskGUID),
		PartEntriesStartLBA: raw.PartitionEntryLBA,
		NumPartEntries:      raw.NumberOfPartitionEntries,
		PartEntrySize:       raw.SizeOfPartitionEntry,
		PartEntriesCRC32:    raw.PartitionEntryArrayCRC32,
		computedCRC:         headerChecksum(buf[:raw.HeaderSize]),
	}
	if raw.HeaderSize > types.GPTHeaderSize {
		h.tail = append([]byte(nil), buf[types.GPTHeaderSize:raw.HeaderSize]...)
	}
	return h, nil
}

// ParsePartEntries decodes the partition entry array described by h. The
// returned bool is true when the array CRC does not match the header.
func ParsePartEntries(h Header, buf []byte) ([]PartitionEntry, bool, error) {
	size := h.EntriesBytes()
	if uint64(len(buf)) < size {
		return nil, false, &FormatError{LBA: h.PartEntriesStartLBA, Err: fmt.Errorf("%w: entries need %d bytes, got %d", ErrShortBuffer, size, len(buf))}
	}
	table := buf[:size]
	mismatch := crc32.ChecksumIEEE(table) != h.PartEntriesCRC32

	entrySize := int(h.PartEntrySize)
	entries := make([]PartitionEntry, 0, h.NumPartEntries)
	for i := 0; i < int(h.NumPartEntries); i++ {
		rec := table[i*entrySize : (i+1)*entrySize]

		var raw types.GPTPartitionEntryT
		if err := binary.Read(bytes.NewReader(rec[:types.GPTPartitionEntrySize]), binary.LittleEndian, &raw); err != nil {
			return nil, false, &FormatError{LBA: h.PartEntriesStartLBA, Err: fmt.Errorf("failed to decode partition entry %d: %w", i, err)}
		}

		entry := PartitionEntry{
			TypeGUID:    helpers.GUID(raw.PartitionTypeGUID),
			UniqueGUID:  helpers.GUID(raw.UniquePartitionGUID),
			StartingLBA: raw.StartingLBA,
			EndingLBA:   raw.EndingLBA,
			Attributes:  raw.Attributes,
			Name:        helpers.DecodeUTF16Name(raw.PartitionName[:]),
			rawName:     raw.PartitionName,
		}
		if entrySize > types.GPTPartitionEntrySize {
			entry.extra = append([]byte(nil), rec[types.GPTPartitionEntrySize:]...)
		}
		entries = append(entries, entry)
	}
	return entries, mismatch, nil
}

// Parse builds a GPT from a header sector read at lba and the sectors holding its entry array.
func Parse(sectorSize int, headerBuf []byte, lba uint64, entriesBuf []byte) (*GPT, error) {
	h, err := ParseHeader(headerBuf, lba)
	if err != nil {
		return nil, err
	}
	entries, mismatch, err := ParsePartEntries(h, entriesBuf)
	if err != nil {
		return nil, err
	}
	return &GPT{
		SectorSize:         sectorSize,
		Header:             h,
		Entries:            entries,
		HeaderCRCMismatch:  !h.ChecksumValid(),
		EntriesCRCMismatch: mismatch,
	}, nil
}

// Valid reports whether both checksums matched at parse time.
func (g *GPT) Valid() bool {
	return !g.HeaderCRCMismatch && !g.EntriesCRCMismatch
}

// EntriesSectors is the number of sectors occupied by the entry array.
func (g *GPT) EntriesSectors() uint64 {
	return g.Header.EntriesSectors(g.SectorSize)
}

// BuildPartEntries serializes the entry array. Identical entries always
// produce identical bytes.
func (g *GPT) BuildPartEntries() []byte {
	entrySize := int(g.Header.PartEntrySize)
	out := make([]byte, g.Header.EntriesBytes())

	for i, e := range g.Entries {
		if i >= int(g.Header.NumPartEntries) {
			break
		}
		raw := types.GPTPartitionEntryT{
			PartitionTypeGUID:   e.TypeGUID,
			UniquePartitionGUID: e.UniqueGUID,
			StartingLBA:         e.StartingLBA,
			EndingLBA:           e.EndingLBA,
			Attributes:          e.Attributes,
			PartitionName:       e.nameBytes(),
		}
		var rec bytes.Buffer
		// Writes to a bytes.Buffer cannot fail.
		_ = binary.Write(&rec, binary.LittleEndian, &raw)

		dst := out[i*entrySize : (i+1)*entrySize]
		copy(dst, rec.Bytes())
		if len(e.extra) > 0 {
			copy(dst[types.GPTPartitionEntrySize:], e.extra)
		}
	}
	return out
}

// BuildHeader serializes the header with PartEntriesCRC32 computed over
// entries and HeaderCRC32 computed over the result. The returned slice is
// HeaderSize bytes long.
func (g *GPT) BuildHeader(entries []byte) []byte {
	h := g.Header
	if size := h.EntriesBytes(); uint64(len(entries)) > size {
		entries = entries[:size]
	}

	raw := types.GPTHeaderT{
		Revision:                 h.Revision,
		HeaderSize:               h.HeaderSize,
		Reserved:                 h.Reserved,
		MyLBA:                    h.CurrentLBA,
		AlternateLBA:             h.AlternateLBA,
		FirstUsableLBA:           h.FirstUsableLBA,
		LastUsableLBA:            h.LastUsableLBA,
		DiskGUID:                 h.DiskGUID,
		PartitionEntryLBA:        h.PartEntriesStartLBA,
		NumberOfPartitionEntries: h.NumPartEntries,
		SizeOfPartitionEntry:     h.PartEntrySize,
		PartitionEntryArrayCRC32: crc32.ChecksumIEEE(entries),
	}
	copy(raw.Signature[:], types.GPTSignature)

	size := int(h.HeaderSize)
	if size < types.GPTHeaderSize {
		size = types.GPTHeaderSize
	}
	var rec bytes.Buffer
	_ = binary.Write(&rec, binary.LittleEndian, &raw)

	out := make([]byte, size)
	copy(out, rec.Bytes())
	copy(out[types.GPTHeaderSize:], h.tail)
	binary.LittleEndian.PutUint32(out[types.GPTHeaderCRCOffset:], headerChecksum(out))
	return out
}

// Serialize returns the rebuilt header and entry array.
func (g *GPT) Serialize() (header, entries []byte) {
	entries = g.BuildPartEntries()
	return g.BuildHeader(entries), entries
}

// LocatePartition returns the first used entry whose trimmed name equals name.
func (g *GPT) LocatePartition(name string) (PartitionEntry, bool) {
	for _, e := range g.Entries {
		if e.IsUnused() {
			continue
		}
		if e.trimmedName() == name {
			return e, true
		}
	}
	return PartitionEntry{}, false
}

// PartitionsInfo lists the partition names and slot letters present in a table.
type PartitionsInfo struct {
	// Unique partition names in on-disk order.
	Partitions []string
	// Slot letters seen on A/B partitions, in order of first appearance.
	Slots []string
}

// PartitionsInfo collects the names of every used entry.
func (g *GPT) PartitionsInfo() PartitionsInfo {
	info := PartitionsInfo{Partitions: []string{}, Slots: []string{}}
	seenNames := make(map[string]struct{})
	seenSlots := make(map[string]struct{})

	for _, e := range g.Entries {
		if e.IsUnused() {
			continue
		}
		name := e.trimmedName()
		if _, ok := seenNames[name]; !ok {
			seenNames[name] = struct{}{}
			info.Partitions = append(info.Partitions, name)
		}
		if slot := e.SlotSuffix(); slot != "" {
			if _, ok := seenSlots[slot]; !ok {
				seenSlots[slot] = struct{}{}
				info.Slots = append(info.Slots, slot)
			}
		}
	}
	return info
}

// clone returns a copy whose entry slice can be modified independently.
func (g *GPT) clone() *GPT {
	out := *g
	out.Entries = make([]PartitionEntry, len(g.Entries))
	copy(out.Entries, g.Entries)
	return &out
}

func headerChecksum(hdr []byte) uint32 {
	tmp := make([]byte, len(hdr))
	copy(tmp, hdr)
	binary.LittleEndian.PutUint32(tmp[types.GPTHeaderCRCOffset:], 0)
	return crc32.ChecksumIEEE(tmp)
}
