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

package index

import (
	"fmt"

	"github.com/googlegenomics/bgzidx/bgzf"
)

// unsetInterval marks linear index tiles no record has touched yet.
const unsetInterval = bgzf.LastAddress

// Builder incrementally populates an Index from a coordinate sorted
// record stream.  Callers report each record's interval together with
// the archive chunk framing it, as sampled from the archive writer
// before and after writing the record.
//
// Records must arrive in ascending (reference, start) order; Add fails
// with ErrUnsorted otherwise.  A Builder is not safe for concurrent
// use.
type Builder struct {
	scheme Scheme
	refs   []*referenceBuilder

	current   int32
	lastStart uint32

	unplaced uint64
}

type referenceBuilder struct {
	bins      map[uint32]*Bin
	intervals []bgzf.Address
	metadata  Metadata
}

// NewBuilder returns a Builder for an archive holding the given number
// of reference sequences.
func NewBuilder(scheme Scheme, references int) *Builder {
	b := &Builder{
		scheme: scheme,
		refs:   make([]*referenceBuilder, references),
	}
	for i := range b.refs {
		b.refs[i] = &referenceBuilder{
			bins:     make(map[uint32]*Bin),
			metadata: Metadata{Start: bgzf.LastAddress, End: 0},
		}
	}
	return b
}

// Add indexes one record: its reference, 0-based half-open interval,
// whether it is mapped, and the archive chunk that frames it.
func (b *Builder) Add(referenceID int32, start, end uint32, mapped bool, chunk bgzf.Chunk) error {
	if referenceID < 0 || int(referenceID) >= len(b.refs) {
		return fmt.Errorf("reference %d: %w", referenceID, ErrOutOfRange)
	}
	if referenceID < b.current {
		return fmt.Errorf("reference %d after reference %d: %w", referenceID, b.current, ErrUnsorted)
	}
	if referenceID > b.current {
		b.current = referenceID
		b.lastStart = 0
	}
	if start < b.lastStart {
		return fmt.Errorf("start %d after start %d on reference %d: %w", start, b.lastStart, referenceID, ErrUnsorted)
	}
	if end <= start {
		return fmt.Errorf("invalid interval [%d, %d)", start, end)
	}
	if end > b.scheme.MaxPosition() {
		return fmt.Errorf("interval end %d exceeds maximum position %d", end, b.scheme.MaxPosition())
	}
	if chunk.End < chunk.Start {
		return fmt.Errorf("chunk end %v before start %v", chunk.End, chunk.Start)
	}
	b.lastStart = start

	ref := b.refs[referenceID]
	ref.addToBin(b.scheme.BinForRange(start, end), chunk)
	ref.updateIntervals(start, end, b.scheme.MinShift, chunk.Start)
	ref.updateMetadata(mapped, chunk)
	return nil
}

// AddUnplaced counts a record that has no reference coordinate.
func (b *Builder) AddUnplaced() {
	b.unplaced++
}

// Build finalizes and returns the index.  The Builder must not be used
// afterwards.
func (b *Builder) Build() *Index {
	idx := &Index{
		Scheme:     b.scheme,
		References: make([]*ReferenceIndex, len(b.refs)),
		Unplaced:   b.unplaced,
	}
	for i, ref := range b.refs {
		idx.References[i] = ref.build()
	}
	b.refs = nil
	return idx
}

func (ref *referenceBuilder) addToBin(id uint32, chunk bgzf.Chunk) {
	bin := ref.bins[id]
	if bin == nil {
		bin = &Bin{ID: id}
		ref.bins[id] = bin
	}

	// Records adjacent in the archive produce one contiguous chunk.
	if n := len(bin.Chunks); n > 0 && bin.Chunks[n-1].End == chunk.Start {
		bin.Chunks[n-1].End = chunk.End
		return
	}
	bin.Chunks = append(bin.Chunks, &bgzf.Chunk{Start: chunk.Start, End: chunk.End})
}

func (ref *referenceBuilder) updateIntervals(start, end uint32, minShift int32, addr bgzf.Address) {
	first := int(start >> uint(minShift))
	last := int((end - 1) >> uint(minShift))

	for len(ref.intervals) <= last {
		ref.intervals = append(ref.intervals, unsetInterval)
	}
	for i := first; i <= last; i++ {
		if ref.intervals[i] == unsetInterval || ref.intervals[i] > addr {
			ref.intervals[i] = addr
		}
	}
}

func (ref *referenceBuilder) updateMetadata(mapped bool, chunk bgzf.Chunk) {
	if mapped {
		ref.metadata.Mapped++
	} else {
		ref.metadata.Unmapped++
	}
	if chunk.Start < ref.metadata.Start {
		ref.metadata.Start = chunk.Start
	}
	if chunk.End > ref.metadata.End {
		ref.metadata.End = chunk.End
	}
}

func (ref *referenceBuilder) build() *ReferenceIndex {
	out := &ReferenceIndex{Bins: ref.bins}
	if len(ref.bins) == 0 {
		return out
	}

	// Backfill tiles no record started in so the persisted linear index
	// is non-decreasing with no gaps.
	intervals := make([]bgzf.Address, len(ref.intervals))
	var previous bgzf.Address
	for i, addr := range ref.intervals {
		if addr == unsetInterval {
			addr = previous
		}
		intervals[i] = addr
		previous = addr
	}
	out.Intervals = intervals

	metadata := ref.metadata
	out.Metadata = &metadata
	return out
}
