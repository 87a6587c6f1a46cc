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
	"github.com/googlegenomics/bgzidx/genomics"
)

// mergeGap is the largest compressed byte distance between two chunks
// that still get merged into one: chunks in the same or an adjacent
// block are cheaper to read as a single range.
const mergeGap = bgzf.MaximumBlockSize

// Query returns the minimal ordered list of archive chunks that may
// hold records overlapping region.  The chunks are a superset: exact
// overlap filtering against record coordinates is the caller's
// responsibility.  An empty list means no record can overlap the
// region.
//
// Query fails with ErrOutOfRange if the region names a reference the
// index does not cover.
func Query(idx *Index, region genomics.Region) ([]*bgzf.Chunk, error) {
	if region.ReferenceID < 0 || int(region.ReferenceID) >= len(idx.References) {
		return nil, fmt.Errorf("reference %d: %w", region.ReferenceID, ErrOutOfRange)
	}
	ref := idx.References[region.ReferenceID]

	start, end := region.Start, region.End
	if end == 0 || end > idx.Scheme.MaxPosition() {
		end = idx.Scheme.MaxPosition()
	}
	if end <= start || len(ref.Bins) == 0 {
		return nil, nil
	}

	// The linear index floor: no record overlapping the query can live
	// in archive bytes that end at or before the lowest address of the
	// query's first tile.
	var floor bgzf.Address
	if tile := int(start >> uint(idx.Scheme.MinShift)); tile < len(ref.Intervals) {
		floor = ref.Intervals[tile]
	}

	metadataBin := idx.Scheme.MetadataBinID()
	var candidates []*bgzf.Chunk
	for _, id := range idx.Scheme.BinsForRange(start, end) {
		if id == metadataBin {
			continue
		}
		bin := ref.Bins[id]
		if bin == nil {
			continue
		}
		for _, chunk := range bin.Chunks {
			if chunk.End <= floor {
				continue
			}
			candidates = append(candidates, chunk)
		}
	}
	return bgzf.Merge(candidates, mergeGap), nil
}
