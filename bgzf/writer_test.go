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

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// countBlocks walks the serialized archive using the declared BSIZE
// fields and returns the size of every block.
func countBlocks(t *testing.T, archive []byte) []int {
	t.Helper()
	var sizes []int
	for offset := 0; offset < len(archive); {
		if len(archive[offset:]) < blockHeaderSize {
			t.Fatalf("Truncated block header at offset %d", offset)
		}
		size := (int(archive[offset+16]) | int(archive[offset+17])<<8) + 1
		sizes = append(sizes, size)
		offset += size
	}
	return sizes
}

func TestWriter_RoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		size int
	}{
		{"empty stream", 0},
		{"single byte", 1},
		{"one byte below the payload cap", MaximumPayloadSize - 1},
		{"exactly the payload cap", MaximumPayloadSize},
		{"one byte above the payload cap", MaximumPayloadSize + 1},
		{"several blocks", 3*MaximumPayloadSize + 17},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			want := testPattern(tc.size)

			var archive bytes.Buffer
			w := NewWriter(&archive, 2)
			if _, err := w.Write(want); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if !bytes.HasSuffix(archive.Bytes(), eofMarker) {
				t.Errorf("Archive does not end with the end-of-data marker")
			}

			var got bytes.Buffer
			if _, err := io.Copy(&got, NewReader(bytes.NewReader(archive.Bytes()))); err != nil {
				t.Fatalf("Reading archive back: %v", err)
			}
			if !bytes.Equal(got.Bytes(), want) {
				t.Errorf("Round trip mismatch: got %d bytes, want %d bytes", got.Len(), tc.size)
			}
		})
	}
}

func TestWriter_BlockLayout(t *testing.T) {
	// 70,000 bytes is two data blocks plus the end-of-data marker.
	var archive bytes.Buffer
	w := NewWriter(&archive, 0)
	if _, err := w.Write(testPattern(70000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sizes := countBlocks(t, archive.Bytes())
	if got, want := len(sizes), 3; got != want {
		t.Fatalf("Wrong block count: got %d, want %d", got, want)
	}
	if got, want := sizes[2], len(eofMarker); got != want {
		t.Errorf("Wrong end-of-data marker size: got %d, want %d", got, want)
	}
}

func TestWriter_DeterministicOutput(t *testing.T) {
	data := testPattern(5*MaximumPayloadSize + 123)

	archives := make([][]byte, 0, 3)
	for _, workers := range []int{1, 3, 8} {
		var archive bytes.Buffer
		w := NewWriter(&archive, workers)
		if _, err := w.Write(data); err != nil {
			t.Fatalf("Write with %d workers: %v", workers, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close with %d workers: %v", workers, err)
		}
		archives = append(archives, archive.Bytes())
	}
	for i := 1; i < len(archives); i++ {
		if !bytes.Equal(archives[0], archives[i]) {
			t.Errorf("Archive bytes differ between worker counts")
		}
	}
}

func TestWriter_AddressMonotonic(t *testing.T) {
	var archive bytes.Buffer
	w := NewWriter(&archive, 4)

	var last Address
	for i := 0; i < 200; i++ {
		addr, err := w.Address()
		if err != nil {
			t.Fatalf("Address before record %d: %v", i, err)
		}
		if i > 0 && addr <= last {
			t.Fatalf("Address not strictly increasing at record %d: %v <= %v", i, addr, last)
		}
		last = addr

		if _, err := w.Write(testPattern(1000 + i)); err != nil {
			t.Fatalf("Write record %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWriter_SeekToReportedAddresses(t *testing.T) {
	var archive bytes.Buffer
	w := NewWriter(&archive, 3)

	type record struct {
		addr Address
		data []byte
	}
	var records []record
	for i := 0; i < 64; i++ {
		addr, err := w.Address()
		if err != nil {
			t.Fatalf("Address: %v", err)
		}
		data := testPattern(3000 + 71*i)
		records = append(records, record{addr, data})
		if _, err := w.Write(data); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := NewReader(bytes.NewReader(archive.Bytes()))
	for i, rec := range records {
		if err := r.Seek(rec.addr); err != nil {
			t.Fatalf("Seek to record %d at %v: %v", i, rec.addr, err)
		}
		got := make([]byte, len(rec.data))
		if _, err := io.ReadFull(r, got); err != nil {
			t.Fatalf("Reading record %d: %v", i, err)
		}
		if !bytes.Equal(got, rec.data) {
			t.Errorf("Record %d does not match data written at %v", i, rec.addr)
		}
	}
}

func TestWriter_UseAfterClose(t *testing.T) {
	var archive bytes.Buffer
	w := NewWriter(&archive, 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := w.Write([]byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close: got %v, want ErrClosed", err)
	}
	if _, err := w.Address(); !errors.Is(err, ErrClosed) {
		t.Errorf("Address after Close: got %v, want ErrClosed", err)
	}
	if err := w.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after Close: got %v, want ErrClosed", err)
	}
}

// flakySink fails the next failures writes, then behaves like a plain
// buffer.
type flakySink struct {
	archive  bytes.Buffer
	failures int
}

func (s *flakySink) Write(p []byte) (int, error) {
	if s.failures > 0 {
		s.failures--
		return 0, errors.New("sink failure")
	}
	return s.archive.Write(p)
}

func TestWriter_SinkFailureReported(t *testing.T) {
	w := NewWriter(&flakySink{failures: 1 << 30}, 1)
	if _, err := w.Write(testPattern(MaximumPayloadSize)); err != nil {
		// The first write may or may not observe the failure depending
		// on scheduling; the flush below must.
		t.Logf("Write: %v", err)
	}
	if err := w.Flush(); err == nil {
		t.Errorf("Flush: unexpected success against a failing sink")
	}
	if err := w.Close(); err == nil {
		t.Errorf("Close: unexpected success against a failing sink")
	}
}

func TestWriter_FailedFlushRetainsData(t *testing.T) {
	sink := &flakySink{failures: 1}
	w := NewWriter(sink, 1)

	want := testPattern(1000)
	if _, err := w.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err == nil {
		t.Fatal("Flush: unexpected success against a failing sink")
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Retried Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got bytes.Buffer
	if _, err := io.Copy(&got, NewReader(bytes.NewReader(sink.archive.Bytes()))); err != nil {
		t.Fatalf("Reading archive back: %v", err)
	}
	if !bytes.Equal(got.Bytes(), want) {
		t.Errorf("Archive holds %d of %d bytes after a retried flush", got.Len(), len(want))
	}
}

func TestWriter_CloseRetriesAfterSinkFailure(t *testing.T) {
	sink := &flakySink{}
	w := NewWriter(sink, 2)

	want := testPattern(70000)
	if _, err := w.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The sink fails once with the end-of-data marker still queued.
	sink.failures = 1
	if err := w.Close(); err == nil {
		t.Fatal("Close: unexpected success against a failing sink")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Retried Close: %v", err)
	}
	if !bytes.HasSuffix(sink.archive.Bytes(), eofMarker) {
		t.Errorf("Archive does not end with the end-of-data marker")
	}

	var got bytes.Buffer
	if _, err := io.Copy(&got, NewReader(bytes.NewReader(sink.archive.Bytes()))); err != nil {
		t.Fatalf("Reading archive back: %v", err)
	}
	if !bytes.Equal(got.Bytes(), want) {
		t.Errorf("Archive holds %d of %d bytes after a retried close", got.Len(), len(want))
	}
}
