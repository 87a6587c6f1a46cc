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

package bgzf

import (
	"fmt"
	"io"
)

// Reader provides random access decompression of a BGZF archive keyed
// by virtual address.  It keeps at most one decoded block; seeking
// inside the current block does not decompress again.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src io.ReadSeeker

	// The decoded payload of the current block and the read cursor
	// inside it.  valid is false before the first block is decoded.
	data  []byte
	off   int
	valid bool

	blockOffset uint64 // archive offset of the current block
	blockSize   int    // compressed size of the current block

	eof bool
}

// NewReader returns a Reader that decompresses the archive in src.  The
// read cursor starts at the first block.
func NewReader(src io.ReadSeeker) *Reader {
	return &Reader{src: src}
}

// Seek positions the read cursor at the provided virtual address.  It
// fails with ErrInvalidOffset if the address does not name a block in
// the archive or its data offset lies past the end of that block's
// payload.
func (r *Reader) Seek(addr Address) error {
	blockOffset := addr.BlockOffset()
	if !r.valid || blockOffset != r.blockOffset {
		if _, err := r.src.Seek(int64(blockOffset), io.SeekStart); err != nil {
			return fmt.Errorf("seeking to block: %v", err)
		}
		r.valid = false
		data, size, err := readBlock(r.src)
		if err == io.EOF {
			return fmt.Errorf("block offset %d outside archive: %w", blockOffset, ErrInvalidOffset)
		}
		if err != nil {
			return err
		}
		r.data, r.blockOffset, r.blockSize, r.valid = data, blockOffset, size, true
	}

	if int(addr.DataOffset()) > len(r.data) {
		return fmt.Errorf("data offset %d past end of block: %w", addr.DataOffset(), ErrInvalidOffset)
	}
	r.off = int(addr.DataOffset())
	r.eof = false
	return nil
}

// Read copies decompressed bytes into p, decoding the next block when
// the current one is exhausted.  Reaching the end-of-data marker (or a
// clean end of input at a block boundary) yields io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	var read int
	for read < len(p) {
		if !r.valid || r.off == len(r.data) {
			if err := r.advance(); err != nil {
				if read > 0 && err == io.EOF {
					return read, nil
				}
				return read, err
			}
		}
		n := copy(p[read:], r.data[r.off:])
		r.off += n
		read += n
	}
	return read, nil
}

// Position returns the virtual address of the next byte Read will
// return.  A cursor at the end of a block reports offset zero of the
// next block.
func (r *Reader) Position() Address {
	next := r.blockOffset
	if r.valid {
		if r.off < len(r.data) {
			return Address(r.blockOffset<<16 | uint64(r.off))
		}
		next += uint64(r.blockSize)
	}
	return Address(next << 16)
}

// advance decodes the block following the current one.  Blocks are laid
// out back to back, so the next block starts where the current one
// ends.
func (r *Reader) advance() error {
	if r.eof {
		return io.EOF
	}

	next := r.blockOffset
	if r.valid {
		next += uint64(r.blockSize)
	}
	data, size, err := readBlock(r.src)
	if err == io.EOF {
		r.eof = true
		return io.EOF
	}
	if err != nil {
		return err
	}
	r.data, r.off, r.blockOffset, r.blockSize, r.valid = data, 0, next, size, true

	// A zero length payload is the end-of-data marker.
	if len(data) == 0 {
		r.eof = true
		return io.EOF
	}
	return nil
}
