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

// Package csi reads and writes CSI formatted index data: the variant
// of the binning index that stores its scheme parameters in the file
// header (http://samtools.github.io/hts-specs/CSIv1.pdf).
package csi

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/googlegenomics/bgzidx/bgzf"
	"github.com/googlegenomics/bgzidx/index"
	"github.com/googlegenomics/bgzidx/internal/binary"
	"github.com/googlegenomics/bgzidx/internal/indexio"
)

const csiMagic = "CSI\x01"

// Read reads a CSI index from r.  The returned auxiliary bytes are the
// opaque block following the header, owned by the caller.
func Read(r io.Reader) (*index.Index, []byte, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()

	if err := binary.ExpectBytes(gzr, []byte(csiMagic)); err != nil {
		return nil, nil, fmt.Errorf("reading magic: %w", index.ErrInvalidFormat)
	}

	var header struct {
		MinShift, Depth, AuxiliaryLength int32
	}
	if err := binary.Read(gzr, &header); err != nil {
		return nil, nil, fmt.Errorf("reading header: %v", err)
	}
	scheme := index.Scheme{MinShift: header.MinShift, Depth: header.Depth}
	if err := checkScheme(scheme); err != nil {
		return nil, nil, err
	}
	if err := indexio.CheckCount("auxiliary byte", header.AuxiliaryLength); err != nil {
		return nil, nil, err
	}
	auxiliary := make([]byte, header.AuxiliaryLength)
	if _, err := io.ReadFull(gzr, auxiliary); err != nil {
		return nil, nil, fmt.Errorf("reading auxiliary data: %v", err)
	}

	var references int32
	if err := binary.Read(gzr, &references); err != nil {
		return nil, nil, fmt.Errorf("reading reference count: %v", err)
	}
	if err := indexio.CheckCount("reference", references); err != nil {
		return nil, nil, err
	}

	idx := &index.Index{Scheme: scheme}
	for i := int32(0); i < references; i++ {
		ref, err := indexio.ReadReference(gzr, scheme)
		if err != nil {
			return nil, nil, fmt.Errorf("reading reference %d: %v", i, err)
		}
		idx.References = append(idx.References, ref)
	}

	// The unplaced record count trails the references and is optional.
	var unplaced uint64
	if err := binary.Read(gzr, &unplaced); err == nil {
		idx.Unplaced = unplaced
	} else if err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, fmt.Errorf("reading unplaced count: %v", err)
	}
	return idx, auxiliary, nil
}

// Write writes idx to w as CSI data, carrying auxiliary as the opaque
// block after the header.  The output is itself a BGZF archive.
func Write(w io.Writer, idx *index.Index, auxiliary []byte) error {
	if err := checkScheme(idx.Scheme); err != nil {
		return err
	}

	bgzw := bgzf.NewWriter(w, 0)
	if err := write(bgzw, idx, auxiliary); err != nil {
		bgzw.Close()
		return err
	}
	return bgzw.Close()
}

func write(w io.Writer, idx *index.Index, auxiliary []byte) error {
	if _, err := w.Write([]byte(csiMagic)); err != nil {
		return fmt.Errorf("writing magic: %v", err)
	}
	header := struct {
		MinShift, Depth, AuxiliaryLength int32
	}{idx.Scheme.MinShift, idx.Scheme.Depth, int32(len(auxiliary))}
	if err := binary.Write(w, &header); err != nil {
		return fmt.Errorf("writing header: %v", err)
	}
	if _, err := w.Write(auxiliary); err != nil {
		return fmt.Errorf("writing auxiliary data: %v", err)
	}

	if err := binary.Write(w, int32(len(idx.References))); err != nil {
		return fmt.Errorf("writing reference count: %v", err)
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

func checkScheme(scheme index.Scheme) error {
	if scheme.MinShift < 1 || scheme.Depth < 0 || scheme.MinShift+scheme.Depth*3 > 31 {
		return fmt.Errorf("unusable scheme %+v: %w", scheme, index.ErrInvalidFormat)
	}
	return nil
}
