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

// Package index implements a hierarchical binning index over
// coordinate sorted records stored in a BGZF archive.
//
// Each reference sequence is partitioned into a fixed hierarchy of
// bins.  A record is assigned to the smallest bin that fully contains
// its interval, and every bin accumulates the archive byte ranges
// ("chunks") of its records.  A per-tile linear index stores the lowest
// archive address of the records starting in each tile and is used to
// discard chunks that end before a query could possibly begin.
package index

import (
	"errors"

	"github.com/googlegenomics/bgzidx/bgzf"
)

var (
	// ErrInvalidFormat indicates serialized index data whose magic
	// bytes or header shape are not recognized.
	ErrInvalidFormat = errors.New("index: invalid format")

	// ErrOutOfRange indicates a reference id that the index does not
	// cover.
	ErrOutOfRange = errors.New("index: reference out of range")

	// ErrUnsorted indicates that records were presented to a builder
	// out of ascending coordinate order.
	ErrUnsorted = errors.New("index: input records not coordinate sorted")
)

// Scheme describes the shape of a binning hierarchy: the width of the
// smallest bin (1 << MinShift base pairs) and the number of levels
// below the root.  MinShift + 3*Depth must stay below 32.
type Scheme struct {
	MinShift int32
	Depth    int32
}

// DefaultScheme is the fixed scheme used by indices that do not store
// their parameters (tile size 16384, six levels).
var DefaultScheme = Scheme{MinShift: 14, Depth: 5}

// MaxPosition returns the exclusive upper bound of the coordinate space
// covered by the scheme.
func (s Scheme) MaxPosition() uint32 {
	return 1 << uint(s.MinShift+s.Depth*3)
}

// BinCount returns the number of bins in the hierarchy.  Valid bin ids
// are 0 through BinCount()-1.
func (s Scheme) BinCount() uint32 {
	return ((1 << uint((s.Depth+1)*3)) - 1) / 7
}

// MetadataBinID returns the id of the virtual bin used to persist
// reference metadata.  It lies just past the last real bin (37450 for
// the default scheme).
func (s Scheme) MetadataBinID() uint32 {
	return s.BinCount() + 1
}

// Metadata describes the records indexed for one reference.
type Metadata struct {
	// Start and End delimit the archive region holding the reference's
	// records.
	Start, End bgzf.Address
	// Mapped and Unmapped count the records placed on the reference.
	Mapped, Unmapped uint64
}

// Bin is one node of the hierarchy together with the archive ranges of
// the records assigned to it.
type Bin struct {
	ID     uint32
	Chunks []*bgzf.Chunk
}

// ReferenceIndex holds the bins, linear index and metadata for a single
// reference sequence.
type ReferenceIndex struct {
	// Bins maps bin id to its chunk list.  Bins with no records are
	// absent.
	Bins map[uint32]*Bin
	// Intervals is the linear index: for each tile, the lowest archive
	// address among records starting at or after the tile's beginning.
	// Non-decreasing by construction.
	Intervals []bgzf.Address
	// Metadata is optional.
	Metadata *Metadata
}

// Index is a complete binning index: one ReferenceIndex per reference,
// in the reference order of the archive.  An Index is immutable once
// built.
type Index struct {
	Scheme     Scheme
	References []*ReferenceIndex
	// Unplaced counts records with no reference coordinate.
	Unplaced uint64
}
