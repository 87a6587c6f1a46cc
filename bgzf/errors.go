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

import "errors"

var (
	// ErrInvalidFormat indicates that block header data is not in BGZF
	// format (wrong magic bytes, flags or extra subfield).
	ErrInvalidFormat = errors.New("bgzf: invalid format")

	// ErrCorruptBlock indicates that the declared block size is
	// inconsistent with the bytes actually present.
	ErrCorruptBlock = errors.New("bgzf: corrupt block")

	// ErrChecksum indicates that the payload checksum or length did not
	// match after decompression.
	ErrChecksum = errors.New("bgzf: checksum mismatch")

	// ErrInvalidOffset indicates a virtual address that does not point
	// into the archive, or whose data offset exceeds the length of the
	// block it names.
	ErrInvalidOffset = errors.New("bgzf: invalid offset")

	// ErrClosed is returned by operations on a writer after Close.
	ErrClosed = errors.New("bgzf: writer is closed")
)
