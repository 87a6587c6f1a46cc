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

// Package block serves chunk byte ranges of a BGZF archive as valid
// standalone blocks.  The first and last blocks of a chunk are
// re-encoded so that they carry exactly the chunk's bytes; blocks in
// between are passed through untouched.
package block

import (
	"bytes"
	"fmt"
	"io"

	"github.com/googlegenomics/bgzidx/bgzf"
)

// RangeReader returns a reader over length bytes of an archive
// starting at the provided byte offset.
type RangeReader func(start, length int64) (io.ReadCloser, error)

// ReadChunk returns a reader that yields the bytes of chunk re-encoded
// as complete BGZF blocks.
func ReadChunk(archive RangeReader, chunk bgzf.Chunk) (io.ReadCloser, error) {
	start, end := chunk.Start, chunk.End
	head, tail := int64(start.BlockOffset()), int64(end.BlockOffset())

	// The simple (unlikely) case is when the chunk resides in a single block.
	if head == tail {
		decoded, _, err := decodeBlockAt(archive, head)
		if err != nil {
			return nil, err
		}
		if int(end.DataOffset()) > len(decoded) {
			return nil, fmt.Errorf("chunk end %v: %w", end, bgzf.ErrInvalidOffset)
		}
		encoded, err := bgzf.EncodeBlock(decoded[start.DataOffset():end.DataOffset()])
		if err != nil {
			return nil, fmt.Errorf("encoding chunk block: %v", err)
		}
		return io.NopCloser(bytes.NewReader(encoded)), nil
	}

	var readers []io.Reader
	var closers []io.Closer

	// Re-encode the leading partial block.
	if start.DataOffset() != 0 {
		decoded, length, err := decodeBlockAt(archive, head)
		if err != nil {
			return nil, err
		}
		if int(start.DataOffset()) > len(decoded) {
			return nil, fmt.Errorf("chunk start %v: %w", start, bgzf.ErrInvalidOffset)
		}
		head += int64(length)

		encoded, err := bgzf.EncodeBlock(decoded[start.DataOffset():])
		if err != nil {
			return nil, fmt.Errorf("encoding prefix block: %v", err)
		}
		readers = append(readers, bytes.NewReader(encoded))
	}

	// Whole blocks in the middle need no modification.
	if tail-head > 0 {
		r, err := archive(head, tail-head)
		if err != nil {
			return nil, fmt.Errorf("opening archive body: %v", err)
		}
		readers = append(readers, r)
		closers = append(closers, r)
	}

	// Re-encode the trailing partial block.
	if end.DataOffset() != 0 {
		decoded, _, err := decodeBlockAt(archive, tail)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		if int(end.DataOffset()) > len(decoded) {
			closeAll(closers)
			return nil, fmt.Errorf("chunk end %v: %w", end, bgzf.ErrInvalidOffset)
		}
		encoded, err := bgzf.EncodeBlock(decoded[:end.DataOffset()])
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("encoding suffix block: %v", err)
		}
		readers = append(readers, bytes.NewReader(encoded))
	}

	return &multiReadCloser{
		Reader:  io.MultiReader(readers...),
		closers: closers,
	}, nil
}

func decodeBlockAt(archive RangeReader, offset int64) ([]byte, uint16, error) {
	r, err := archive(offset, bgzf.MaximumBlockSize)
	if err != nil {
		return nil, 0, fmt.Errorf("opening block at %d: %v", offset, err)
	}
	defer r.Close()

	buffered, err := bufferAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("reading block at %d: %w", offset, err)
	}
	decoded, length, err := bgzf.DecodeBlock(buffered)
	if err != nil {
		return nil, 0, fmt.Errorf("decoding block at %d: %w", offset, err)
	}
	return decoded, length, nil
}

// bufferAll reads r into memory so the gzip decoder sees an
// io.ByteReader and does not consume bytes past the block.
func bufferAll(r io.Reader) (*bytes.Reader, error) {
	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, r); err != nil {
		return nil, err
	}
	return bytes.NewReader(buffer.Bytes()), nil
}

type multiReadCloser struct {
	io.Reader

	closers []io.Closer
}

func (mrc *multiReadCloser) Close() error {
	return closeAll(mrc.closers)
}

func closeAll(closers []io.Closer) error {
	var errors []error
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			errors = append(errors, err)
		}
	}
	if len(errors) > 0 {
		return fmt.Errorf("one or more errors: %v", errors)
	}
	return nil
}
