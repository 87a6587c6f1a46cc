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

// The mapping between bin ids and genomic intervals is pure arithmetic
// over the scheme parameters.  Bins are numbered level by level from
// the root: level l starts at id (8^l - 1) / 7 and divides the
// coordinate space into 8^l equal tiles.

// BinForRange returns the id of the smallest bin that fully contains
// the 0-based half-open interval [start, end).  This is derived from
// the C examples in the CSI index specification.
func (s Scheme) BinForRange(start, end uint32) uint32 {
	if end > 0 {
		end--
	}
	l, shift, offset := s.Depth, uint(s.MinShift), uint32((1<<uint(s.Depth*3))-1)/7
	for ; l > 0; l-- {
		if start>>shift == end>>shift {
			return offset + start>>shift
		}
		shift += 3
		offset -= 1 << uint((l-1)*3)
	}
	return 0
}

// BinsForRange returns the ids of every bin whose interval intersects
// the 0-based half-open interval [start, end), across all levels of
// the hierarchy.
func (s Scheme) BinsForRange(start, end uint32) []uint32 {
	maxWidth := s.MaxPosition()
	if end == 0 || end > maxWidth {
		end = maxWidth
	}
	if end <= start || start >= maxWidth {
		return nil
	}

	end--
	var bins []uint32
	for l, t, shift := uint(0), uint32(0), uint(s.MinShift+s.Depth*3); l <= uint(s.Depth); l++ {
		b := t + start>>shift
		e := t + end>>shift
		for i := b; i <= e; i++ {
			bins = append(bins, i)
		}
		shift -= 3
		t += 1 << (l * 3)
	}
	return bins
}

// BinInterval returns the half-open genomic interval covered by the
// provided bin id.  Bin 0 always covers the whole coordinate space.
func (s Scheme) BinInterval(id uint32) (start, end uint32) {
	var level, offset uint32
	for l := uint32(0); l <= uint32(s.Depth); l++ {
		levelOffset := (uint32(1)<<(3*l) - 1) / 7
		if id < levelOffset {
			break
		}
		level, offset = l, levelOffset
	}
	width := uint32(1) << uint(s.MinShift+(s.Depth-int32(level))*3)
	start = (id - offset) * width
	return start, start + width
}
