// Package sparse decodes Android sparse images into the list of regions that
// must be written to the target.
package sparse

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/deploymenttheory/go-qdl/internal/types"
)

// DefaultMaxChunkSize bounds the size of a single instruction.
const DefaultMaxChunkSize = 1 << 20

// Instruction is one contiguous region of the expanded image.
type Instruction struct {
	// Byte offset of the region in the expanded image.
	Offset uint64
	// Region contents.
	Data *io.SectionReader
}

type chunk struct {
	kind       uint16
	blocks     uint32
	dataOffset int64
	fill       [4]byte
	outOffset  uint64
}

// Reader walks the chunks of a sparse image. It is single use: once Next
// returns io.EOF a new Reader must be created with From.
type Reader struct {
	src          io.ReaderAt
	header       types.SparseHeaderT
	chunks       []chunk
	maxChunk     int64
	keepZeroFill bool

	idx     int
	pos     int64
	fillBuf []byte
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxChunkSize limits each instruction to n bytes, rounded down to whole
// blocks and never below one block.
func WithMaxChunkSize(n int64) Option {
	return func(r *Reader) {
		r.maxChunk = n
	}
}

// WithZeroFill controls whether fill chunks of zero bytes are emitted. They
// are skipped by default, which relies on the target range being erased first.
func WithZeroFill(keep bool) Option {
	return func(r *Reader) {
		r.keepZeroFill = keep
	}
}

// From validates src as a sparse image and returns a Reader over it. It
// returns nil when src is not a well-formed sparse image; callers then treat
// the data as a raw image.
func From(src io.ReaderAt, size int64, opts ...Option) *Reader {
	if src == nil || size < types.SparseFileHeaderSize {
		return nil
	}

	hdrBuf := make([]byte, types.SparseFileHeaderSize)
	if _, err := src.ReadAt(hdrBuf, 0); err != nil {
		return nil
	}
	var hdr types.SparseHeaderT
	if err := binary.Read(bytes.NewReader(hdrBuf), binary.LittleEndian, &hdr); err != nil {
		return nil
	}
	if hdr.Magic != types.SparseHeaderMagic ||
		hdr.MajorVersion != types.SparseMajorVersion ||
		hdr.FileHeaderSize < types.SparseFileHeaderSize ||
		hdr.ChunkHeaderSize < types.SparseChunkHeaderSize ||
		hdr.BlockSize == 0 || hdr.BlockSize%4 != 0 {
		return nil
	}

	chunks, ok := scanChunks(src, size, hdr)
	if !ok {
		return nil
	}

	r := &Reader{
		src:      src,
		header:   hdr,
		chunks:   chunks,
		maxChunk: DefaultMaxChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	blk := int64(hdr.BlockSize)
	r.maxChunk -= r.maxChunk % blk
	if r.maxChunk < blk {
		r.maxChunk = blk
	}
	return r
}

func scanChunks(src io.ReaderAt, size int64, hdr types.SparseHeaderT) ([]chunk, bool) {
	chunks := make([]chunk, 0, hdr.TotalChunks)
	blk := uint64(hdr.BlockSize)
	off := int64(hdr.FileHeaderSize)
	chdrSize := int64(hdr.ChunkHeaderSize)
	var outBlocks uint64

	buf := make([]byte, types.SparseChunkHeaderSize)
	for i := uint32(0); i < hdr.TotalChunks; i++ {
		if off+chdrSize > size {
			return nil, false
		}
		if _, err := src.ReadAt(buf, off); err != nil {
			return nil, false
		}
		var ch types.SparseChunkHeaderT
		if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ch); err != nil {
			return nil, false
		}
		if int64(ch.TotalSize) < chdrSize || off+int64(ch.TotalSize) > size {
			return nil, false
		}
		body := int64(ch.TotalSize) - chdrSize

		c := chunk{
			kind:       ch.ChunkType,
			blocks:     ch.ChunkSize,
			dataOffset: off + chdrSize,
			outOffset:  outBlocks * blk,
		}
		switch ch.ChunkType {
		case types.SparseChunkRaw:
			if uint64(body) != uint64(ch.ChunkSize)*blk {
				return nil, false
			}
		case types.SparseChunkFill:
			if body < 4 {
				return nil, false
			}
			if _, err := src.ReadAt(c.fill[:], c.dataOffset); err != nil {
				return nil, false
			}
		case types.SparseChunkDontCare:
			if body != 0 {
				return nil, false
			}
		case types.SparseChunkCRC32:
			if body < 4 || ch.ChunkSize != 0 {
				return nil, false
			}
		default:
			return nil, false
		}

		chunks = append(chunks, c)
		outBlocks += uint64(ch.ChunkSize)
		off += int64(ch.TotalSize)
	}

	if outBlocks != uint64(hdr.TotalBlocks) {
		return nil, false
	}
	return chunks, true
}

// Header returns the decoded file header.
func (r *Reader) Header() types.SparseHeaderT {
	return r.header
}

// ExpandedSize is the size in bytes of the image once expanded.
func (r *Reader) ExpandedSize() uint64 {
	return uint64(r.header.BlockSize) * uint64(r.header.TotalBlocks)
}

// Next returns the next region to write, or io.EOF when none remain.
func (r *Reader) Next() (Instruction, error) {
	blk := int64(r.header.BlockSize)

	for r.idx < len(r.chunks) {
		c := &r.chunks[r.idx]
		total := int64(c.blocks) * blk

		if !r.emits(c) || r.pos >= total {
			r.idx++
			r.pos = 0
			continue
		}

		n := total - r.pos
		if n > r.maxChunk {
			n = r.maxChunk
		}
		ins := Instruction{Offset: c.outOffset + uint64(r.pos)}
		if c.kind == types.SparseChunkRaw {
			ins.Data = io.NewSectionReader(r.src, c.dataOffset+r.pos, n)
		} else {
			ins.Data = io.NewSectionReader(bytes.NewReader(r.fillBytes(c.fill, n)), 0, n)
		}
		r.pos += n
		return ins, nil
	}
	return Instruction{}, io.EOF
}

func (r *Reader) emits(c *chunk) bool {
	switch c.kind {
	case types.SparseChunkRaw:
		return true
	case types.SparseChunkFill:
		return r.keepZeroFill || c.fill != [4]byte{}
	}
	return false
}

// fillBytes returns n bytes of the repeating fill pattern. The slice is
// shared between calls and must not be modified.
func (r *Reader) fillBytes(pattern [4]byte, n int64) []byte {
	if int64(len(r.fillBuf)) < n || !bytes.Equal(r.fillBuf[:4], pattern[:]) {
		size := r.maxChunk
		if size < n {
			size = n
		}
		r.fillBuf = bytes.Repeat(pattern[:], int(size/4))
	}
	return r.fillBuf[:n]
}
