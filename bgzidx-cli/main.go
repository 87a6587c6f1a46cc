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

// This binary compresses, indexes and queries tab-separated files with
// genomic coordinates.
//
// Typical usage:
//
//	bgzidx-cli -compress features.tsv
//	bgzidx-cli -index features.tsv.bgz
//	bgzidx-cli -query -ref chr1 -start 1000 -end 2000 features.tsv.bgz
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/pkg/profile"

	"github.com/googlegenomics/bgzidx/bgzf"
	"github.com/googlegenomics/bgzidx/block"
	"github.com/googlegenomics/bgzidx/genomics"
	"github.com/googlegenomics/bgzidx/index"
	"github.com/googlegenomics/bgzidx/sources/file"
	"github.com/googlegenomics/bgzidx/tabix"
)

var (
	compressMode = flag.Bool("compress", false, "compress the input file into a BGZF archive")
	indexMode    = flag.Bool("index", false, "build a tabix index for a BGZF-compressed file")
	queryMode    = flag.Bool("query", false, "query an indexed archive for a region")

	output  = flag.String("o", "", "output filename (defaults next to the input)")
	workers = flag.Int("workers", 0, "compression worker count (0 means one per CPU)")

	seqCol  = flag.Int("seq_col", 1, "1-based column holding the reference name")
	begCol  = flag.Int("beg_col", 2, "1-based column holding the interval start")
	endCol  = flag.Int("end_col", 3, "1-based column holding the interval end")
	comment = flag.String("comment", "#", "comment line prefix to skip while indexing")
	skip    = flag.Int("skip", 0, "leading lines to skip while indexing")

	ref   = flag.String("ref", "", "reference name to query")
	start = flag.Uint("start", 0, "query interval start (0-based)")
	end   = flag.Uint("end", 0, "query interval end (0 means the end of the reference)")

	profileDir = flag.String("cpuprofile", "", "if set, write a CPU profile to this directory")
)

func main() {
	flag.Parse()

	if *profileDir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profileDir)).Stop()
	}

	input := flag.Arg(0)
	if input == "" {
		log.Fatalf("Usage: %s [flags] <input>", os.Args[0])
	}

	var err error
	switch {
	case *compressMode:
		err = compress(input)
	case *indexMode:
		err = buildIndex(input)
	case *queryMode:
		err = query(input)
	default:
		err = fmt.Errorf("one of -compress, -index or -query is required")
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func compress(input string) error {
	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("opening input: %v", err)
	}
	defer in.Close()

	name := *output
	if name == "" {
		name = input + ".bgz"
	}
	out, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating output: %v", err)
	}
	defer out.Close()

	w := bgzf.NewWriter(out, *workers)
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return fmt.Errorf("compressing: %v", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing archive: %v", err)
	}
	return nil
}

// line is one indexable record: its coordinates and the address range
// of its bytes inside the archive.
type line struct {
	name       string
	start, end uint32
	chunk      bgzf.Chunk
}

func buildIndex(input string) error {
	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("opening input: %v", err)
	}
	defer in.Close()

	format := tabix.Format{
		Kind:    tabix.Generic,
		SeqCol:  int32(*seqCol),
		BegCol:  int32(*begCol),
		EndCol:  int32(*endCol),
		Comment: commentByte(),
		Skip:    int32(*skip),
	}

	lines, names, err := scanLines(bgzf.NewReader(in), format)
	if err != nil {
		return err
	}

	builder := index.NewBuilder(index.DefaultScheme, len(names))
	ids := make(map[string]int32, len(names))
	for i, name := range names {
		ids[name] = int32(i)
	}
	for _, l := range lines {
		if err := builder.Add(ids[l.name], l.start, l.end, true, l.chunk); err != nil {
			return fmt.Errorf("indexing record at %v: %w", l.chunk.Start, err)
		}
	}

	name := *output
	if name == "" {
		name = input + ".tbi"
	}
	out, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating output: %v", err)
	}
	defer out.Close()

	return tabix.Write(out, &tabix.Index{
		Index:  builder.Build(),
		Names:  names,
		Format: format,
	})
}

// scanLines walks the decompressed records of r, recording the archive
// address range and parsed coordinates of each.  Reference names are
// returned in order of first appearance.
func scanLines(r *bgzf.Reader, format tabix.Format) ([]line, []string, error) {
	var (
		lines []line
		names []string
		seen  = make(map[string]bool)
		count int
	)
	for {
		start := r.Position()
		text, err := readLine(r)
		if err == io.EOF && len(text) == 0 {
			return lines, names, nil
		}
		if err != nil && err != io.EOF {
			return nil, nil, fmt.Errorf("reading record: %w", err)
		}
		count++

		if count <= int(format.Skip) {
			continue
		}
		if format.Comment != 0 && len(text) > 0 && text[0] == byte(format.Comment) {
			continue
		}

		l, err := parseLine(text, format)
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %v", count, err)
		}
		l.chunk = bgzf.Chunk{Start: start, End: r.Position()}
		if !seen[l.name] {
			seen[l.name] = true
			names = append(names, l.name)
		}
		lines = append(lines, l)
	}
}

// readLine reads up to the next newline, which is consumed but not
// returned.  A final unterminated line is returned with io.EOF.
func readLine(r *bgzf.Reader) ([]byte, error) {
	var text []byte
	buf := make([]byte, 1)
	for {
		if _, err := r.Read(buf); err != nil {
			return text, err
		}
		if buf[0] == '\n' {
			return text, nil
		}
		text = append(text, buf[0])
	}
}

func parseLine(text []byte, format tabix.Format) (line, error) {
	fields := bytes.Split(text, []byte{'\t'})
	field := func(col int32) (string, error) {
		if int(col) < 1 || int(col) > len(fields) {
			return "", fmt.Errorf("missing column %d", col)
		}
		return string(fields[col-1]), nil
	}

	var l line
	name, err := field(format.SeqCol)
	if err != nil {
		return l, err
	}
	l.name = name

	rawBeg, err := field(format.BegCol)
	if err != nil {
		return l, err
	}
	beg, err := strconv.ParseUint(rawBeg, 10, 32)
	if err != nil || beg == 0 {
		return l, fmt.Errorf("invalid start %q", rawBeg)
	}
	// Coordinate columns are 1-based and inclusive.
	l.start = uint32(beg) - 1

	rawEnd, err := field(format.EndCol)
	if err != nil {
		return l, err
	}
	e, err := strconv.ParseUint(rawEnd, 10, 32)
	if err != nil || e < beg {
		return l, fmt.Errorf("invalid end %q", rawEnd)
	}
	l.end = uint32(e)
	return l, nil
}

func query(input string) error {
	if *ref == "" {
		return fmt.Errorf("-query requires -ref")
	}

	indexFile, err := os.Open(input + ".tbi")
	if err != nil {
		return fmt.Errorf("opening index: %v", err)
	}
	defer indexFile.Close()

	tbi, err := tabix.Read(indexFile)
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	id, err := tbi.ReferenceID(*ref)
	if err != nil {
		return err
	}

	region := genomics.Region{ReferenceID: id, Start: uint32(*start), End: uint32(*end)}
	if *end == 0 {
		region.End = tbi.Scheme.MaxPosition()
	}
	chunks, err := index.Query(tbi.Index, region)
	if err != nil {
		return fmt.Errorf("querying %v: %w", region, err)
	}

	archive, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("opening archive: %v", err)
	}
	defer archive.Close()

	ranges := file.NewRangeReader(archive)
	for _, chunk := range chunks {
		if err := writeChunk(ranges, *chunk); err != nil {
			return err
		}
	}
	return nil
}

// writeChunk decompresses one chunk of the archive to standard output.
func writeChunk(ranges block.RangeReader, chunk bgzf.Chunk) error {
	encoded, err := block.ReadChunk(ranges, chunk)
	if err != nil {
		return fmt.Errorf("reading chunk %v: %w", chunk, err)
	}
	defer encoded.Close()

	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, encoded); err != nil {
		return fmt.Errorf("buffering chunk %v: %v", chunk, err)
	}
	if _, err := io.Copy(os.Stdout, bgzf.NewReader(bytes.NewReader(buffer.Bytes()))); err != nil {
		return fmt.Errorf("decompressing chunk %v: %v", chunk, err)
	}
	return nil
}

func commentByte() int32 {
	if *comment == "" {
		return 0
	}
	return int32((*comment)[0])
}
