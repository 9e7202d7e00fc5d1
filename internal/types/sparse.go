package types

// Android sparse image container (system/core/libsparse/sparse_format.h).
// All integers are little-endian.

// SparseHeaderT is the file header of a sparse image.
type SparseHeaderT struct {
	// Always SparseHeaderMagic.
	Magic uint32
	// Major version, SparseMajorVersion is the only one understood.
	MajorVersion uint16
	// Minor version, ignored.
	MinorVersion uint16
	// Size of this header, at least SparseFileHeaderSize.
	FileHeaderSize uint16
	// Size of each chunk header, at least SparseChunkHeaderSize.
	ChunkHeaderSize uint16
	// Output block size in bytes, a multiple of 4.
	BlockSize uint32
	// Number of blocks in the expanded image.
	TotalBlocks uint32
	// Number of chunks in the sparse file.
	TotalChunks uint32
	// CRC32 of the expanded image, usually zero.
	ImageChecksum uint32
}

// SparseChunkHeaderT precedes every chunk.
type SparseChunkHeaderT struct {
	// One of the SparseChunk* types.
	ChunkType uint16
	Reserved  uint16
	// Size of the chunk in output blocks.
	ChunkSize uint32
	// Size of the chunk in the sparse file, header included.
	TotalSize uint32
}

const (
	SparseHeaderMagic     uint32 = 0xED26FF3A
	SparseMajorVersion    uint16 = 1
	SparseFileHeaderSize         = 28
	SparseChunkHeaderSize        = 12

	SparseChunkRaw      uint16 = 0xCAC1
	SparseChunkFill     uint16 = 0xCAC2
	SparseChunkDontCare uint16 = 0xCAC3
	SparseChunkCRC32    uint16 = 0xCAC4
)
