// Copyright 2019 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bgzf provides support for reading and writing BGZF archives.
//
// A BGZF archive is a sequence of gzip members ("blocks"), each at most
// 65536 bytes long both compressed and uncompressed, terminated by a
// fixed empty block.  Because every block is independently
// decompressible the archive supports random access through virtual
// addresses that name a block together with an offset into its
// uncompressed payload.
package bgzf

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"
)

// LastAddress is the maximum valid BGZF address.
const LastAddress = Address(0xffffffffffffffff)

// MaximumBlockSize is the maximum size of a BGZF block, both compressed
// and uncompressed.
const MaximumBlockSize = 65536

const (
	// maximumBlockOffset bounds the compressed (block) half of an
	// address, which occupies 48 bits.
	maximumBlockOffset = 1<<48 - 1

	// MaximumPayloadSize is the most uncompressed bytes a single block
	// may carry.  It is smaller than MaximumBlockSize so that the
	// serialized block still fits inside MaximumBlockSize even when the
	// payload is incompressible.
	MaximumPayloadSize = 0xff00

	// blockHeaderSize is the size of the fixed gzip header carrying the
	// BC extra subfield.
	blockHeaderSize = 18

	// blockTrailerSize is the size of the CRC32 and ISIZE trailer.
	blockTrailerSize = 8
)

// eofMarker is the fixed empty block that terminates every archive.  It
// is distinguishable from mid-stream truncation.
var eofMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff,
	0x06, 0x00, 0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Address stores a BGZF "virtual address".  The lower 16 bits store the
// data offset inside the uncompressed block and the upper 48 bits store
// the block offset inside the compressed archive.  Addresses compare as
// plain unsigned integers and that order equals archive order.
type Address uint64

// BlockOffset returns the offset to the start of the compressed block.
func (v Address) BlockOffset() uint64 {
	return uint64(v >> 16)
}

// DataOffset returns the offset to the data in the uncompressed block.
func (v Address) DataOffset() uint16 {
	return uint16(v & 0xffff)
}

// String returns a representation of v that can be parsed with ParseAddress.
func (v Address) String() string {
	return strconv.FormatUint(uint64(v), 16)
}

// ParseAddress attempts to parse input into an Address.
func ParseAddress(input string) (Address, error) {
	v, err := strconv.ParseUint(input, 16, 64)
	return Address(v), err
}

// NewAddress packs the provided offsets into an Address.  It fails if
// either offset exceeds the range of its field.
func NewAddress(blockOffset, dataOffset uint64) (Address, error) {
	if blockOffset > maximumBlockOffset {
		return 0, fmt.Errorf("block offset %d out of range: %w", blockOffset, ErrInvalidOffset)
	}
	if dataOffset > 0xffff {
		return 0, fmt.Errorf("data offset %d out of range: %w", dataOffset, ErrInvalidOffset)
	}
	return Address(blockOffset<<16 | dataOffset), nil
}

// Chunk specifies a region from Start to End inside a BGZF archive.
type Chunk struct {
	Start, End Address
}

// String returns a human readable description of the receiver.
func (v *Chunk) String() string {
	return fmt.Sprintf("[%s-%s]", v.Start, v.End)
}

// Merge sorts input by start address and joins any chunks that overlap
// or whose compressed gap is at most maxGap bytes.  The merged list
// covers the same archive bytes as the input.
func Merge(input []*Chunk, maxGap uint64) []*Chunk {
	if len(input) == 0 {
		return nil
	}

	sort.Slice(input, func(i, j int) bool {
		return input[i].Start < input[j].Start
	})

	merged := []*Chunk{{Start: input[0].Start, End: input[0].End}}
	output := merged[0]
	for _, chunk := range input[1:] {
		if chunk.Start <= output.End || chunk.Start.BlockOffset()-output.End.BlockOffset() <= maxGap {
			if output.End < chunk.End {
				output.End = chunk.End
			}
			continue
		}
		merged = append(merged, &Chunk{Start: chunk.Start, End: chunk.End})
		output = merged[len(merged)-1]
	}
	return merged
}

// DecodeBlock decodes a single BGZF block from r and returns the
// uncompressed data and the declared block size.  Note that DecodeBlock
// may read bytes past the end of the block if r does not implement
// io.ByteReader.
func DecodeBlock(r io.Reader) ([]byte, uint16, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("initializing gzip reader: %w", decodeError(err))
	}
	defer gzr.Close()

	extra := gzr.Header.Extra
	if len(extra) < 6 || extra[0] != 0x42 || extra[1] != 0x43 {
		return nil, 0, fmt.Errorf("unexpected extra subfield: %w", ErrInvalidFormat)
	}
	if extra[2] != 2 || extra[3] != 0 {
		return nil, 0, fmt.Errorf("unexpected extra subfield length: %w", ErrInvalidFormat)
	}

	gzr.Multistream(false)
	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, gzr); err != nil {
		return nil, 0, fmt.Errorf("decompressing data: %w", decodeError(err))
	}
	return buffer.Bytes(), (uint16(extra[4]) | uint16(extra[5])<<8) + 1, nil
}

// EncodeBlock returns a single BGZF block that encodes the bytes in data.
func EncodeBlock(data []byte) ([]byte, error) {
	if len(data) > MaximumPayloadSize {
		return nil, fmt.Errorf("%d bytes exceeds the maximum block payload", len(data))
	}

	var buffer bytes.Buffer
	gzw := gzip.NewWriter(&buffer)

	gzw.Header.Extra = []byte{
		0x42, 0x43, // Extra subfield ID ("BC").
		0x02, 0x00, // Length of extra data (2 bytes).
		0x88, 0x88, // BSIZE (filled in after writing the block).
	}
	if _, err := gzw.Write(data); err != nil {
		return nil, fmt.Errorf("writing compressed data: %v", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing writer: %v", err)
	}
	if buffer.Len() > MaximumBlockSize {
		return nil, fmt.Errorf("compressed block size %d exceeds the maximum", buffer.Len())
	}
	bsize := buffer.Len() - 1
	encoded := buffer.Bytes()
	encoded[16] = byte(bsize)
	encoded[17] = byte(bsize >> 8)
	return encoded, nil
}

// readBlock reads exactly one block from r, which must be positioned at
// a block boundary, and returns the uncompressed payload along with the
// total compressed block size.  A clean end of input at the boundary is
// reported as io.EOF.
func readBlock(r io.Reader) ([]byte, int, error) {
	header := make([]byte, blockHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("reading block header: %w", ErrCorruptBlock)
	}
	if header[0] != 0x1f || header[1] != 0x8b {
		return nil, 0, fmt.Errorf("bad gzip magic: %w", ErrInvalidFormat)
	}
	if header[2] != 0x08 || header[3]&0x04 == 0 {
		return nil, 0, fmt.Errorf("missing extra field flag: %w", ErrInvalidFormat)
	}
	if xlen := int(header[10]) | int(header[11])<<8; xlen != 6 {
		return nil, 0, fmt.Errorf("unexpected extra length %d: %w", xlen, ErrInvalidFormat)
	}
	if header[12] != 0x42 || header[13] != 0x43 || header[14] != 2 || header[15] != 0 {
		return nil, 0, fmt.Errorf("unexpected extra subfield: %w", ErrInvalidFormat)
	}

	size := (int(header[16]) | int(header[17])<<8) + 1
	if size < blockHeaderSize+blockTrailerSize {
		return nil, 0, fmt.Errorf("declared block size %d too small: %w", size, ErrCorruptBlock)
	}

	block := make([]byte, size)
	copy(block, header)
	if _, err := io.ReadFull(r, block[blockHeaderSize:]); err != nil {
		return nil, 0, fmt.Errorf("reading block body: %w", ErrCorruptBlock)
	}

	data, _, err := DecodeBlock(bytes.NewReader(block))
	if err != nil {
		return nil, 0, err
	}
	if len(data) > MaximumBlockSize {
		return nil, 0, fmt.Errorf("block inflates to %d bytes: %w", len(data), ErrCorruptBlock)
	}
	return data, size, nil
}

func decodeError(err error) error {
	switch err {
	case gzip.ErrChecksum:
		return ErrChecksum
	case gzip.ErrHeader:
		return ErrInvalidFormat
	case io.ErrUnexpectedEOF, io.EOF:
		return ErrCorruptBlock
	}
	return err
}
