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

// Package file provides byte range access to archives on the local
// filesystem.
package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/googlegenomics/bgzidx/block"
)

// NewRangeReader returns a RangeReader over file.  Each range is served
// by an independent section reader, so ranges may be read concurrently.
// The caller retains ownership of file and must keep it open for as
// long as the returned RangeReader is in use.
func NewRangeReader(file *os.File) block.RangeReader {
	return func(start, length int64) (io.ReadCloser, error) {
		if start < 0 || length < 0 {
			return nil, fmt.Errorf("invalid range [%d, +%d)", start, length)
		}
		return io.NopCloser(io.NewSectionReader(file, start, length)), nil
	}
}

// Open opens the named file under root and returns a RangeReader over
// it along with a closer for the underlying file.  The name must not
// escape root.
func Open(root, name string) (block.RangeReader, io.Closer, error) {
	path := filepath.Join(root, filepath.Clean("/"+name))
	if !strings.HasPrefix(path, filepath.Clean(root)+string(os.PathSeparator)) {
		return nil, nil, fmt.Errorf("name %q escapes the root directory", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %q: %w", name, err)
	}
	return NewRangeReader(f), f, nil
}
