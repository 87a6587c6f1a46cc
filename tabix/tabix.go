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

// Package tabix reads and writes tabix (TBI) formatted index data: the
// variant of the binning index with fixed scheme parameters that also
// records reference names and how to locate coordinates in the indexed
// records.
package tabix

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/googlegenomics/bgzidx/bgzf"
	"github.com/googlegenomics/bgzidx/index"
	"github.com/googlegenomics/bgzidx/internal/binary"
	"github.com/googlegenomics/bgzidx/internal/indexio"
)

const tbiMagic = "TBI\x01"

// This is just to prevent arbitrarily long allocations due to
// malformed data.  No reference name should be longer than this in
// practice.
const maximumNamesLength = 1 << 24

// Format kinds understood by record parsers.
const (
	Generic = int32(0)
	SAM     = int32(1)
	VCF     = int32(2)
)

// Format describes how an external record parser locates coordinates
// in the indexed file.  It is opaque to the index itself.
type Format struct {
	// Kind selects a parsing preset (Generic, SAM or VCF).
	Kind int32
	// SeqCol, BegCol and EndCol are the 1-based columns holding the
	// reference name and interval coordinates.
	SeqCol, BegCol, EndCol int32
	// Comment is the character introducing lines to skip.
	Comment int32
	// Skip is the number of leading lines to skip.
	Skip int32
}

// Index is a tabix index: binning index data using the fixed default
// scheme, together with reference names and the format descriptor.
type Index struct {
	*index.Index

	// Names holds the reference names, in reference order.
	Names []string
	// Format describes the indexed file to record parsers.
	Format Format
}

// ReferenceID returns the id of the named reference, or ErrOutOfRange
// if the index does not know it.
func (idx *Index) ReferenceID(name string) (int32, error) {
	for i, candidate := range idx.Names {
		if candidate == name {
			return int32(i), nil
		}
	}
	return 0, fmt.Errorf("no reference named %q: %w", name, index.ErrOutOfRange)
}

// Read reads a tabix index from r.
func Read(r io.Reader) (*Index, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()

	if err := binary.ExpectBytes(gzr, []byte(tbiMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %w", index.ErrInvalidFormat)
	}

	var header struct {
		References  int32
		Format      Format
		NamesLength int32
	}
	if err := binary.Read(gzr, &header); err != nil {
		return nil, fmt.Errorf("reading header: %v", err)
	}
	if err := indexio.CheckCount("reference", header.References); err != nil {
		return nil, err
	}
	if header.NamesLength < 0 || header.NamesLength > maximumNamesLength {
		return nil, fmt.Errorf("invalid names length %d: %w", header.NamesLength, index.ErrInvalidFormat)
	}

	names := make([]byte, header.NamesLength)
	if _, err := io.ReadFull(gzr, names); err != nil {
		return nil, fmt.Errorf("reading reference names: %v", err)
	}
	idx := &Index{
		Index:  &index.Index{Scheme: index.DefaultScheme},
		Format: header.Format,
	}
	idx.Names, err = splitNames(names, int(header.References))
	if err != nil {
		return nil, err
	}

	for i := int32(0); i < header.References; i++ {
		ref, err := indexio.ReadReference(gzr, index.DefaultScheme)
		if err != nil {
			return nil, fmt.Errorf("reading reference %d: %v", i, err)
		}
		idx.References = append(idx.References, ref)
	}

	var unplaced uint64
	if err := binary.Read(gzr, &unplaced); err == nil {
		idx.Unplaced = unplaced
	} else if err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading unplaced count: %v", err)
	}
	return idx, nil
}

// Write writes idx to w as tabix data.  The scheme must be the fixed
// default scheme, and there must be one name per reference.  The
// output is itself a BGZF archive.
func Write(w io.Writer, idx *Index) error {
	if idx.Scheme != index.DefaultScheme {
		return fmt.Errorf("tabix requires the default scheme, not %+v", idx.Scheme)
	}
	if len(idx.Names) != len(idx.References) {
		return fmt.Errorf("%d names for %d references", len(idx.Names), len(idx.References))
	}

	bgzw := bgzf.NewWriter(w, 0)
	if err := write(bgzw, idx); err != nil {
		bgzw.Close()
		return err
	}
	return bgzw.Close()
}

func write(w io.Writer, idx *Index) error {
	if _, err := w.Write([]byte(tbiMagic)); err != nil {
		return fmt.Errorf("writing magic: %v", err)
	}

	var names bytes.Buffer
	for _, name := range idx.Names {
		names.WriteString(name)
		names.WriteByte(0)
	}

	header := struct {
		References  int32
		Format      Format
		NamesLength int32
	}{int32(len(idx.References)), idx.Format, int32(names.Len())}
	if err := binary.Write(w, &header); err != nil {
		return fmt.Errorf("writing header: %v", err)
	}
	if _, err := w.Write(names.Bytes()); err != nil {
		return fmt.Errorf("writing reference names: %v", err)
	}

	for i, ref := range idx.References {
		if err := indexio.WriteReference(w, idx.Scheme, ref); err != nil {
			return fmt.Errorf("writing reference %d: %v", i, err)
		}
	}

	if err := binary.Write(w, idx.Unplaced); err != nil {
		return fmt.Errorf("writing unplaced count: %v", err)
	}
	return nil
}

func splitNames(data []byte, count int) ([]string, error) {
	if len(data) > 0 && data[len(data)-1] != 0 {
		return nil, fmt.Errorf("reference names not terminated: %w", index.ErrInvalidFormat)
	}
	var names []string
	for len(data) > 0 {
		end := bytes.IndexByte(data, 0)
		names = append(names, string(data[:end]))
		data = data[end+1:]
	}
	if len(names) != count {
		return nil, fmt.Errorf("%d names for %d references: %w", len(names), count, index.ErrInvalidFormat)
	}
	return names, nil
}
