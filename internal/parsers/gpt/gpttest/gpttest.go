// Package gpttest builds partition tables for tests.
package gpttest

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-qdl/internal/helpers"
	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/types"
)

// LinuxDataGUID is used as the type of every test partition unless overridden.
const LinuxDataGUID = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"

// Partition describes one used entry.
type Partition struct {
	Name       string
	Start, End uint64
	Attributes uint64
	TypeGUID   string
}

// Layout describes a table to build.
type Layout struct {
	SectorSize     int
	CurrentLBA     uint64
	AlternateLBA   uint64
	EntriesLBA     uint64
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	NumEntries     uint32
	Partitions     []Partition
}

// Primary returns a layout for a primary table at LBA 1 with 128 entries
// starting at LBA 2, on a unit of totalSectors sectors.
func Primary(sectorSize int, totalSectors uint64, parts ...Partition) Layout {
	entrySectors := uint64(128*types.GPTPartitionEntrySize) / uint64(sectorSize)
	return Layout{
		SectorSize:     sectorSize,
		CurrentLBA:     1,
		AlternateLBA:   totalSectors - 1,
		EntriesLBA:     2,
		FirstUsableLBA: 2 + entrySectors,
		LastUsableLBA:  totalSectors - 2 - entrySectors,
		NumEntries:     128,
		Partitions:     parts,
	}
}

// Table builds the GPT value described by l.
func (l Layout) Table() *gpt.GPT {
	num := l.NumEntries
	if num == 0 {
		num = 128
	}
	entries := make([]gpt.PartitionEntry, num)
	for i, p := range l.Partitions {
		typeGUID := p.TypeGUID
		if typeGUID == "" {
			typeGUID = LinuxDataGUID
		}
		entries[i] = gpt.PartitionEntry{
			TypeGUID:    helpers.MustParseGUID(typeGUID),
			UniqueGUID:  helpers.GUIDFromUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", p.Name, i)))),
			StartingLBA: p.Start,
			EndingLBA:   p.End,
			Attributes:  p.Attributes,
			Name:        p.Name,
		}
	}

	return &gpt.GPT{
		SectorSize: l.SectorSize,
		Header: gpt.Header{
			Signature:           types.GPTSignature,
			Revision:            types.GPTRevision,
			HeaderSize:          types.GPTHeaderSize,
			CurrentLBA:          l.CurrentLBA,
			AlternateLBA:        l.AlternateLBA,
			FirstUsableLBA:      l.FirstUsableLBA,
			LastUsableLBA:       l.LastUsableLBA,
			DiskGUID:            helpers.GUIDFromUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte("disk"))),
			PartEntriesStartLBA: l.EntriesLBA,
			NumPartEntries:      num,
			PartEntrySize:       types.GPTPartitionEntrySize,
		},
		Entries: entries,
	}
}

// Backup returns the mirrored backup of Table. It panics when the layout
// leaves no room for a backup table.
func (l Layout) Backup() *gpt.GPT {
	backup, err := l.Table().Mirror()
	if err != nil {
		panic(err)
	}
	return backup
}

// Sectors returns the header padded to one sector and the entry array padded
// to whole sectors.
func (l Layout) Sectors() (header, entries []byte) {
	hdr, ent := l.Table().Serialize()
	return Pad(hdr, l.SectorSize), Pad(ent, l.SectorSize)
}

// Pad extends b with zeros to a multiple of sectorSize.
func Pad(b []byte, sectorSize int) []byte {
	rem := len(b) % sectorSize
	if rem == 0 {
		return b
	}
	out := make([]byte, len(b)+sectorSize-rem)
	copy(out, b)
	return out
}
