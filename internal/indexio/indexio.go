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

// Package indexio implements the per-reference wire layout shared by
// every binning index format: a bin table, a linear index and an
// optional metadata pseudo-bin.
package indexio

import (
	"fmt"
	"io"
	"sort"

	"github.com/googlegenomics/bgzidx/bgzf"
	"github.com/googlegenomics/bgzidx/index"
	"github.com/googlegenomics/bgzidx/internal/binary"
)

// maximumCount bounds table sizes read from index headers.  It is far
// beyond anything produced in practice and only prevents arbitrarily
// large allocations on malformed data.
const maximumCount = 1 << 28

// CheckCount validates a count field read from an index file.
func CheckCount(what string, n int32) error {
	if n < 0 || n > maximumCount {
		return fmt.Errorf("invalid %s count %d: %w", what, n, index.ErrInvalidFormat)
	}
	return nil
}

// WriteReference writes one reference's bins, linear index and metadata
// to w.  Metadata travels as a virtual bin holding two pseudo-chunks,
// identified by the scheme's metadata bin id.
func WriteReference(w io.Writer, scheme index.Scheme, ref *index.ReferenceIndex) error {
	bins := make([]*index.Bin, 0, len(ref.Bins))
	for _, bin := range ref.Bins {
		bins = append(bins, bin)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i].ID < bins[j].ID })

	binCount := int32(len(bins))
	if ref.Metadata != nil {
		binCount++
	}
	if err := binary.Write(w, binCount); err != nil {
		return fmt.Errorf("writing bin count: %v", err)
	}

	for _, bin := range bins {
		if err := binary.Write(w, bin.ID); err != nil {
			return fmt.Errorf("writing bin id: %v", err)
		}
		if err := binary.Write(w, int32(len(bin.Chunks))); err != nil {
			return fmt.Errorf("writing chunk count: %v", err)
		}
		for _, chunk := range bin.Chunks {
			if err := binary.Write(w, chunk); err != nil {
				return fmt.Errorf("writing chunk: %v", err)
			}
		}
	}

	if ref.Metadata != nil {
		m := ref.Metadata
		pseudo := []uint64{
			uint64(m.Start), uint64(m.End),
			m.Mapped, m.Unmapped,
		}
		if err := binary.Write(w, scheme.MetadataBinID()); err != nil {
			return fmt.Errorf("writing metadata bin id: %v", err)
		}
		if err := binary.Write(w, int32(2)); err != nil {
			return fmt.Errorf("writing metadata chunk count: %v", err)
		}
		if err := binary.Write(w, pseudo); err != nil {
			return fmt.Errorf("writing metadata: %v", err)
		}
	}

	if err := binary.Write(w, int32(len(ref.Intervals))); err != nil {
		return fmt.Errorf("writing interval count: %v", err)
	}
	for _, addr := range ref.Intervals {
		if err := binary.Write(w, uint64(addr)); err != nil {
			return fmt.Errorf("writing interval: %v", err)
		}
	}
	return nil
}

// ReadReference reads one reference written by WriteReference.
func ReadReference(r io.Reader, scheme index.Scheme) (*index.ReferenceIndex, error) {
	var binCount int32
	if err := binary.Read(r, &binCount); err != nil {
		return nil, fmt.Errorf("reading bin count: %v", err)
	}
	if err := CheckCount("bin", binCount); err != nil {
		return nil, err
	}

	ref := &index.ReferenceIndex{Bins: make(map[uint32]*index.Bin)}
	metadataBin := scheme.MetadataBinID()
	for i := int32(0); i < binCount; i++ {
		var bin struct {
			ID     uint32
			Chunks int32
		}
		if err := binary.Read(r, &bin); err != nil {
			return nil, fmt.Errorf("reading bin header: %v", err)
		}
		if err := CheckCount("chunk", bin.Chunks); err != nil {
			return nil, err
		}

		if bin.ID == metadataBin && bin.Chunks == 2 {
			var pseudo [4]uint64
			if err := binary.Read(r, &pseudo); err != nil {
				return nil, fmt.Errorf("reading metadata: %v", err)
			}
			ref.Metadata = &index.Metadata{
				Start:    bgzf.Address(pseudo[0]),
				End:      bgzf.Address(pseudo[1]),
				Mapped:   pseudo[2],
				Unmapped: pseudo[3],
			}
			continue
		}

		chunks := make([]*bgzf.Chunk, bin.Chunks)
		for j := range chunks {
			var chunk bgzf.Chunk
			if err := binary.Read(r, &chunk); err != nil {
				return nil, fmt.Errorf("reading chunk: %v", err)
			}
			chunks[j] = &chunk
		}
		ref.Bins[bin.ID] = &index.Bin{ID: bin.ID, Chunks: chunks}
	}

	var intervalCount int32
	if err := binary.Read(r, &intervalCount); err != nil {
		return nil, fmt.Errorf("reading interval count: %v", err)
	}
	if err := CheckCount("interval", intervalCount); err != nil {
		return nil, err
	}
	if intervalCount > 0 {
		offsets := make([]uint64, intervalCount)
		if err := binary.Read(r, offsets); err != nil {
			return nil, fmt.Errorf("reading intervals: %v", err)
		}
		ref.Intervals = make([]bgzf.Address, intervalCount)
		for i, offset := range offsets {
			ref.Intervals[i] = bgzf.Address(offset)
		}
	}
	return ref, nil
}
