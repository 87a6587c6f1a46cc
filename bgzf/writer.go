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
	"fmt"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Writer splits a byte stream into BGZF blocks and writes them to an
// underlying sink.  Blocks are compressed on a pool of workers but are
// always queued in the order they were sealed, so the serialized
// archive and every address reported by Address are independent of
// scheduling.
//
// Compressed blocks stay queued in memory until the sink accepts them.
// When a sink write fails, the bytes the sink did not accept remain
// queued and the same data is offered again by the next Write, Flush or
// Close, so a transient sink failure loses nothing.
//
// A Writer must be finished with Close, which appends the archive's
// end-of-data marker.  Abandoning a Writer without calling Close leaves
// the archive unterminated.  A Writer is not safe for concurrent use.
type Writer struct {
	sink io.Writer

	jobs    chan job
	ordered chan chan result
	group   *errgroup.Group

	buf []byte

	mu         sync.Mutex
	pending    int    // blocks sealed but not yet compressed
	queued     []byte // compressed blocks the sink has not yet accepted
	compressed uint64 // compressed bytes in seal order, i.e. the archive offset
	err        error  // first compression error
	done       *sync.Cond

	finished bool // the worker pool has been shut down
	closed   bool // Close has fully succeeded
}

type job struct {
	data []byte
	out  chan result
}

type result struct {
	block []byte
	err   error
}

// NewWriter returns a Writer that writes an archive to w, compressing
// blocks on up to workers goroutines.  If workers is not positive,
// runtime.GOMAXPROCS(0) workers are used.
func NewWriter(w io.Writer, workers int) *Writer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	bw := &Writer{
		sink:    w,
		jobs:    make(chan job, workers),
		ordered: make(chan chan result, workers+1),
		group:   &errgroup.Group{},
	}
	bw.done = sync.NewCond(&bw.mu)

	for i := 0; i < workers; i++ {
		bw.group.Go(func() error {
			for j := range bw.jobs {
				block, err := EncodeBlock(j.data)
				j.out <- result{block, err}
			}
			return nil
		})
	}

	// The collector appends compressed blocks to the output queue in
	// seal order.  It never touches the sink: sink writes happen on the
	// caller's goroutine so that a failure leaves the queue intact.
	bw.group.Go(func() error {
		for out := range bw.ordered {
			r := <-out
			bw.mu.Lock()
			if r.err != nil {
				if bw.err == nil {
					bw.err = r.err
				}
			} else {
				bw.compressed += uint64(len(r.block))
				bw.queued = append(bw.queued, r.block...)
			}
			bw.pending--
			bw.done.Broadcast()
			bw.mu.Unlock()
		}
		return nil
	})

	return bw
}

// Write buffers p into the current block, sealing and submitting full
// blocks for compression.  It never returns a short count without an
// error.  A sink failure reported by Write leaves all data buffered;
// Flush retries the sink.
func (bw *Writer) Write(p []byte) (int, error) {
	if bw.closed || bw.finished {
		return 0, ErrClosed
	}
	if err := bw.sticky(); err != nil {
		return 0, err
	}

	var written int
	for len(p) > 0 {
		n := MaximumPayloadSize - len(bw.buf)
		if n > len(p) {
			n = len(p)
		}
		bw.buf = append(bw.buf, p[:n]...)
		p = p[n:]
		written += n

		if len(bw.buf) == MaximumPayloadSize {
			bw.seal()
		}
	}
	return written, bw.emit()
}

// Address returns the virtual address that the next written byte will
// occupy.  It waits for any sealed blocks still being compressed, so
// the block offset it reports is exact.
func (bw *Writer) Address() (Address, error) {
	if bw.closed || bw.finished {
		return 0, ErrClosed
	}
	compressed, err := bw.drain()
	if err != nil {
		return 0, err
	}
	return NewAddress(compressed, uint64(len(bw.buf)))
}

// Flush seals the current partial block, if any, waits until all sealed
// blocks have been compressed, and hands the queued output to the sink.
// On failure the unaccepted bytes stay queued and a later Flush or
// Close retries them.
func (bw *Writer) Flush() error {
	if bw.closed || bw.finished {
		return ErrClosed
	}
	if len(bw.buf) > 0 {
		bw.seal()
	}
	if _, err := bw.drain(); err != nil {
		return err
	}
	return bw.emit()
}

// Close flushes any buffered data, shuts down the compression workers
// and appends the end-of-data marker.  If the sink fails, Close may be
// called again to retry delivery of the queued output; once Close
// succeeds, further operations fail with ErrClosed.
func (bw *Writer) Close() error {
	if bw.closed {
		return nil
	}

	if !bw.finished {
		if len(bw.buf) > 0 {
			bw.seal()
		}
		bw.finished = true
		close(bw.jobs)
		close(bw.ordered)
		bw.group.Wait()

		bw.mu.Lock()
		if bw.err == nil {
			bw.queued = append(bw.queued, eofMarker...)
		}
		bw.mu.Unlock()
	}

	if err := bw.sticky(); err != nil {
		return err
	}
	if err := bw.emit(); err != nil {
		return err
	}
	bw.closed = true
	return nil
}

// seal submits the buffered payload as one block.  The per-block result
// channel is queued before the job is handed to the pool, which fixes
// the output order no matter how compression is scheduled.
func (bw *Writer) seal() {
	data := bw.buf
	bw.buf = nil

	out := make(chan result, 1)

	bw.mu.Lock()
	bw.pending++
	bw.mu.Unlock()

	bw.ordered <- out
	bw.jobs <- job{data, out}
}

// emit offers the queued compressed blocks to the sink, discarding only
// the bytes the sink accepted.
func (bw *Writer) emit() error {
	bw.mu.Lock()
	queued := bw.queued
	bw.mu.Unlock()
	if len(queued) == 0 {
		return nil
	}

	n, err := bw.sink.Write(queued)

	// The collector may have appended more blocks meanwhile, but the
	// accepted bytes are still the queue's prefix.
	bw.mu.Lock()
	bw.queued = bw.queued[n:]
	bw.mu.Unlock()

	if err != nil {
		return fmt.Errorf("writing blocks: %v", err)
	}
	return nil
}

// drain waits until every sealed block has been compressed and returns
// the total compressed size of the archive so far.
func (bw *Writer) drain() (uint64, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	for bw.pending > 0 && bw.err == nil {
		bw.done.Wait()
	}
	return bw.compressed, bw.err
}

func (bw *Writer) sticky() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.err
}
