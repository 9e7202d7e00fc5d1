// Package sparsetest encodes sparse images for tests.
package sparsetest

import (
	"bytes"
	"encoding/binary"

	"github.com/deploymenttheory/go-qdl/internal/types"
)

// Chunk is one chunk to encode.
type Chunk struct {
	Type   uint16
	Blocks uint32
	// Payload for raw chunks (Blocks*blockSize bytes) or the CRC32 value.
	Data []byte
	// Pattern for fill chunks.
	Fill uint32
}

// Raw is a raw chunk carrying data, which must be a whole number of blocks.
func Raw(data []byte, blockSize uint32) Chunk {
	return Chunk{Type: types.SparseChunkRaw, Blocks: uint32(len(data)) / blockSize, Data: data}
}

// Fill is a fill chunk of blocks blocks.
func Fill(pattern uint32, blocks uint32) Chunk {
	return Chunk{Type: types.SparseChunkFill, Blocks: blocks, Fill: pattern}
}

// DontCare is a skipped region of blocks blocks.
func DontCare(blocks uint32) Chunk {
	return Chunk{Type: types.SparseChunkDontCare, Blocks: blocks}
}

// CRC is a checksum chunk.
func CRC(sum uint32) Chunk {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, sum)
	return Chunk{Type: types.SparseChunkCRC32, Data: b}
}

// Build encodes an image with the given block size.
func Build(blockSize uint32, chunks ...Chunk) []byte {
	var total uint32
	for _, c := range chunks {
		total += c.Blocks
	}

	var buf bytes.Buffer
	hdr := types.SparseHeaderT{
		Magic:           types.SparseHeaderMagic,
		MajorVersion:    types.SparseMajorVersion,
		FileHeaderSize:  types.SparseFileHeaderSize,
		ChunkHeaderSize: types.SparseChunkHeaderSize,
		BlockSize:       blockSize,
		TotalBlocks:     total,
		TotalChunks:     uint32(len(chunks)),
	}
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)

	for _, c := range chunks {
		var body []byte
		switch c.Type {
		case types.SparseChunkFill:
			body = make([]byte, 4)
			binary.LittleEndian.PutUint32(body, c.Fill)
		default:
			body = c.Data
		}
		ch := types.SparseChunkHeaderT{
			ChunkType: c.Type,
			ChunkSize: c.Blocks,
			TotalSize: uint32(types.SparseChunkHeaderSize + len(body)),
		}
		_ = binary.Write(&buf, binary.LittleEndian, &ch)
		buf.Write(body)
	}
	return buf.Bytes()
}
