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

package tabix

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlegenomics/bgzidx/bgzf"
	"github.com/googlegenomics/bgzidx/genomics"
	"github.com/googlegenomics/bgzidx/index"
)

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	b := index.NewBuilder(index.DefaultScheme, 2)
	require.NoError(t, b.Add(0, 1000, 2000, true, bgzf.Chunk{Start: 0, End: 150}))
	require.NoError(t, b.Add(1, 100, 300, true, bgzf.Chunk{Start: 150, End: 220}))
	return &Index{
		Index: b.Build(),
		Names: []string{"chr1", "chr2"},
		Format: Format{
			Kind:    Generic,
			SeqCol:  1,
			BegCol:  2,
			EndCol:  3,
			Comment: '#',
			Skip:    0,
		},
	}
}

func TestReadWrite_RoundTrip(t *testing.T) {
	original := buildTestIndex(t)

	var buffer bytes.Buffer
	require.NoError(t, Write(&buffer, original))

	decoded, err := Read(&buffer)
	require.NoError(t, err)

	assert.Equal(t, original.Names, decoded.Names)
	assert.Equal(t, original.Format, decoded.Format)
	assert.Equal(t, index.DefaultScheme, decoded.Scheme)
	require.Equal(t, len(original.References), len(decoded.References))
	for i := range original.References {
		assert.Equal(t, original.References[i].Bins, decoded.References[i].Bins, "reference %d bins", i)
		assert.Equal(t, original.References[i].Intervals, decoded.References[i].Intervals, "reference %d intervals", i)
		assert.Equal(t, original.References[i].Metadata, decoded.References[i].Metadata, "reference %d metadata", i)
	}
}

func TestReferenceID(t *testing.T) {
	idx := buildTestIndex(t)

	id, err := idx.ReferenceID("chr2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), id)

	_, err = idx.ReferenceID("chrMT")
	assert.ErrorIs(t, err, index.ErrOutOfRange)
}

func TestRead_QueriesMatchOriginal(t *testing.T) {
	original := buildTestIndex(t)

	var buffer bytes.Buffer
	require.NoError(t, Write(&buffer, original))
	decoded, err := Read(&buffer)
	require.NoError(t, err)

	region := genomics.Region{ReferenceID: 1, Start: 150, End: 250}
	want, err := index.Query(original.Index, region)
	require.NoError(t, err)
	got, err := index.Query(decoded.Index, region)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NotEmpty(t, got)
}

func TestRead_BadMagic(t *testing.T) {
	var buffer bytes.Buffer
	w := bgzf.NewWriter(&buffer, 1)
	_, err := w.Write([]byte("CSI\x01garbage"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = Read(&buffer)
	assert.ErrorIs(t, err, index.ErrInvalidFormat)
}

func TestWrite_RejectsMismatchedNames(t *testing.T) {
	idx := buildTestIndex(t)
	idx.Names = idx.Names[:1]
	assert.Error(t, Write(&bytes.Buffer{}, idx))
}

func TestWrite_RejectsWrongScheme(t *testing.T) {
	idx := buildTestIndex(t)
	idx.Scheme = index.Scheme{MinShift: 12, Depth: 4}
	assert.Error(t, Write(&bytes.Buffer{}, idx))
}
