package types

// GUID Partition Table (UEFI Specification 2.10, section 5.3)
// All multi-byte integers are little-endian on disk.

// GPTHeaderT is the fixed 92-byte portion of a GPT header.
// Reference: UEFI 2.10, Table 5-5
type GPTHeaderT struct {
	// Identifies an EFI-compatible partition table header. Always GPTSignature.
	Signature [8]byte
	// The revision number for this header. 0x00010000 for UEFI 2.x.
	Revision uint32
	// Size in bytes of the header, including any reserved tail covered by the CRC.
	HeaderSize uint32
	// CRC32 of the header, computed with this field zeroed.
	HeaderCRC32 uint32
	// Must be zero.
	Reserved uint32
	// The LBA that contains this data structure.
	MyLBA uint64
	// LBA address of the alternate GPT header.
	AlternateLBA uint64
	// The first usable logical block that may be used by a partition.
	FirstUsableLBA uint64
	// The last usable logical block that may be used by a partition.
	LastUsableLBA uint64
	// GUID that can be used to uniquely identify the disk.
	DiskGUID [16]byte
	// The starting LBA of the GUID Partition Entry array.
	PartitionEntryLBA uint64
	// The number of Partition Entries in the GUID Partition Entry array.
	NumberOfPartitionEntries uint32
	// The size, in bytes, of each GUID Partition Entry structure.
	SizeOfPartitionEntry uint32
	// CRC32 of the GUID Partition Entry array.
	PartitionEntryArrayCRC32 uint32
}

// GPTPartitionEntryT is one 128-byte record of the partition entry array.
// Reference: UEFI 2.10, Table 5-6
type GPTPartitionEntryT struct {
	// Unique ID that defines the purpose and type of this partition. Zero means unused.
	PartitionTypeGUID [16]byte
	// GUID that is unique for every partition entry.
	UniquePartitionGUID [16]byte
	// Starting LBA of the partition.
	StartingLBA uint64
	// Ending LBA of the partition, inclusive.
	EndingLBA uint64
	// Attribute bits. Bits 48-63 are reserved for the partition type.
	Attributes uint64
	// Null-terminated UTF-16LE name.
	PartitionName [72]byte
}

const (
	// GPTSignature is the header signature "EFI PART".
	GPTSignature = "EFI PART"

	// GPTRevision is the revision written by UEFI 2.x implementations.
	GPTRevision uint32 = 0x00010000

	// GPTHeaderSize is the size of GPTHeaderT on disk.
	GPTHeaderSize = 92

	// GPTHeaderCRCOffset is the byte offset of HeaderCRC32 inside the header.
	GPTHeaderCRCOffset = 16

	// GPTPartitionEntrySize is the size of GPTPartitionEntryT on disk.
	GPTPartitionEntrySize = 128

	// GPTPartitionNameUnits is the number of UTF-16 code units in PartitionName.
	GPTPartitionNameUnits = 36

	// GPTPrimaryHeaderLBA is where the primary header lives.
	GPTPrimaryHeaderLBA uint64 = 1
)

// A/B slot attribute layout used by Qualcomm boot chains. The flag byte sits in
// the type-specific attribute range (bits 48-63) of each slotted partition.
const (
	// SlotFlagBitOffset is the bit position of the A/B flag byte (attribute byte 6).
	SlotFlagBitOffset = 54

	// SlotActiveFlag marks the active slot. Bits 0-1 hold the boot priority.
	SlotActiveFlag uint8 = 1 << 2

	// SlotRetryShift positions the 3-bit boot retry counter.
	SlotRetryShift = 3

	// SlotSuccessfulFlag marks a slot that booted successfully.
	SlotSuccessfulFlag uint8 = 1 << 6

	// SlotBootActiveFlags (0x6F) is written to the boot partition of the active
	// slot: priority 3, active, retry 5, successful.
	SlotBootActiveFlags = SlotSuccessfulFlag | 5<<SlotRetryShift | SlotActiveFlag | 3

	// SlotBootInactiveFlags (0x3A) is written to the boot partition of the
	// inactive slot: priority 2, retry 7.
	SlotBootInactiveFlags uint8 = 7<<SlotRetryShift | 2

	// SlotBootPartition is the base name of the partition whose whole flag byte is rewritten.
	SlotBootPartition = "boot"
)
