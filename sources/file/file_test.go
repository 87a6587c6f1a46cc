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

package file

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestRangeReader(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "data.bgz", "0123456789")

	f, err := os.Open(filepath.Join(dir, "data.bgz"))
	require.NoError(t, err)
	defer f.Close()
	ranges := NewRangeReader(f)

	tests := []struct {
		name          string
		start, length int64
		want          string
	}{
		{"middle", 2, 3, "234"},
		{"prefix", 0, 4, "0123"},
		{"clamped to end", 8, 100, "89"},
		{"past the end", 20, 5, ""},
		{"empty", 5, 0, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, err := ranges(test.start, test.length)
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, test.want, string(got))
		})
	}
}

func TestRangeReader_Concurrent(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "data.bgz", "0123456789")

	f, err := os.Open(filepath.Join(dir, "data.bgz"))
	require.NoError(t, err)
	defer f.Close()
	ranges := NewRangeReader(f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := ranges(int64(i), 1)
			assert.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			assert.NoError(t, err)
			assert.Equal(t, string(rune('0'+i)), string(got))
		}(i)
	}
	wg.Wait()
}

func TestRangeReader_InvalidRange(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "data.bgz", "0123456789")

	f, err := os.Open(filepath.Join(dir, "data.bgz"))
	require.NoError(t, err)
	defer f.Close()

	_, err = NewRangeReader(f)(-1, 10)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "sample.bgz", "payload")

	ranges, closer, err := Open(dir, "sample.bgz")
	require.NoError(t, err)
	defer closer.Close()

	r, err := ranges(0, 7)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestOpen_RejectsEscapingNames(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "sample.bgz", "payload")

	for _, name := range []string{"../secret", "a/../../b", "/etc/passwd"} {
		_, _, err := Open(dir, name)
		assert.Error(t, err, "name %q", name)
	}
}
