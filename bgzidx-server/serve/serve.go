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

// Package serve implements the HTTP handlers for querying indexed BGZF
// archives.  Handlers are source agnostic: a Source provides byte range
// access to an archive and its index by ID, whether the data lives on
// local disk or in object storage.
package serve

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/googlegenomics/bgzidx/bgzf"
	"github.com/googlegenomics/bgzidx/block"
	"github.com/googlegenomics/bgzidx/csi"
	"github.com/googlegenomics/bgzidx/genomics"
	"github.com/googlegenomics/bgzidx/index"
	"github.com/googlegenomics/bgzidx/sources/gcs"
	"github.com/googlegenomics/bgzidx/tabix"
)

// Source provides access to archives and their indexes by ID.
type Source interface {
	// Archive opens byte range access to the archive named by id.  The
	// returned closer releases the underlying resource once all ranges
	// have been read.
	Archive(id string) (block.RangeReader, io.Closer, error)

	// Index opens the index for the archive named by id.
	Index(id string) (io.ReadCloser, error)
}

// RequestID tags each request with a unique identifier, exposed to the
// client via the X-Request-Id header and to handlers via the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

type referencesResponse struct {
	References []reference `json:"references"`
}

type reference struct {
	ID       int32  `json:"id"`
	Name     string `json:"name,omitempty"`
	Mapped   uint64 `json:"mapped"`
	Unmapped uint64 `json:"unmapped"`
}

type queryResponse struct {
	Chunks []chunkURL `json:"chunks"`
}

type chunkURL struct {
	URL string `json:"url"`
}

// NewReferencesHandler returns a handler that lists the reference
// sequences covered by an archive's index.
func NewReferencesHandler(source Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		idx, names, err := loadIndex(source, c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}

		response := referencesResponse{References: []reference{}}
		for i, ref := range idx.References {
			entry := reference{ID: int32(i)}
			if i < len(names) {
				entry.Name = names[i]
			}
			if ref.Metadata != nil {
				entry.Mapped = ref.Metadata.Mapped
				entry.Unmapped = ref.Metadata.Unmapped
			}
			response.References = append(response.References, entry)
		}
		c.JSON(http.StatusOK, response)
	}
}

// NewQueryHandler returns a handler that resolves a genomic region to
// the set of archive chunks that may contain overlapping records.  The
// response lists one URL per chunk, each served by the block handler.
func NewQueryHandler(source Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		idx, names, err := loadIndex(source, id)
		if err != nil {
			abortWithError(c, err)
			return
		}

		region, err := parseRegion(c, names)
		if err != nil {
			c.String(http.StatusBadRequest, "parsing region: %v", err)
			return
		}

		chunks, err := index.Query(idx, region)
		if err != nil {
			abortWithError(c, err)
			return
		}

		response := queryResponse{Chunks: []chunkURL{}}
		for _, chunk := range chunks {
			response.Chunks = append(response.Chunks, chunkURL{
				URL: fmt.Sprintf("/block/%s?start=%d&end=%d", id, uint64(chunk.Start), uint64(chunk.End)),
			})
		}
		c.JSON(http.StatusOK, response)
	}
}

// NewBlockHandler returns a handler that serves a chunk of an archive
// as a standalone BGZF stream.
func NewBlockHandler(source Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		chunk, err := parseChunk(c)
		if err != nil {
			c.String(http.StatusBadRequest, "parsing chunk: %v", err)
			return
		}

		archive, closer, err := source.Archive(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		defer closer.Close()

		r, err := block.ReadChunk(archive, chunk)
		if err != nil {
			abortWithError(c, err)
			return
		}
		defer r.Close()

		c.Header("Content-Type", "application/octet-stream")
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, r); err != nil {
			c.Error(err)
		}
	}
}

// loadIndex reads and parses the index for id.  Both the tabix and CSI
// container formats are accepted; tabix indexes additionally carry
// reference names.
func loadIndex(source Source, id string) (*index.Index, []string, error) {
	r, err := source.Index(id)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading index: %v", err)
	}

	if tbi, err := tabix.Read(bytes.NewReader(raw)); err == nil {
		return tbi.Index, tbi.Names, nil
	}
	idx, _, err := csi.Read(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing index: %w", err)
	}
	return idx, nil, nil
}

func parseRegion(c *gin.Context, names []string) (genomics.Region, error) {
	var region genomics.Region

	if name := c.Query("referenceName"); name != "" {
		id := int32(-1)
		for i, candidate := range names {
			if candidate == name {
				id = int32(i)
				break
			}
		}
		if id < 0 {
			return region, fmt.Errorf("unknown reference %q", name)
		}
		region.ReferenceID = id
	} else if raw := c.Query("referenceId"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return region, fmt.Errorf("invalid reference ID %q", raw)
		}
		region.ReferenceID = int32(n)
	} else {
		return region, fmt.Errorf("missing referenceName or referenceId")
	}

	if raw := c.Query("start"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return region, fmt.Errorf("invalid start %q", raw)
		}
		region.Start = uint32(n)
	}
	region.End = ^uint32(0)
	if raw := c.Query("end"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return region, fmt.Errorf("invalid end %q", raw)
		}
		region.End = uint32(n)
	}
	if region.End <= region.Start {
		return region, fmt.Errorf("empty region [%d, %d)", region.Start, region.End)
	}
	return region, nil
}

func parseChunk(c *gin.Context) (bgzf.Chunk, error) {
	var chunk bgzf.Chunk

	start, err := strconv.ParseUint(c.Query("start"), 10, 64)
	if err != nil {
		return chunk, fmt.Errorf("invalid start: %v", err)
	}
	end, err := strconv.ParseUint(c.Query("end"), 10, 64)
	if err != nil {
		return chunk, fmt.Errorf("invalid end: %v", err)
	}
	if end < start {
		return chunk, fmt.Errorf("end %d precedes start %d", end, start)
	}
	chunk.Start = bgzf.Address(start)
	chunk.End = bgzf.Address(end)
	return chunk, nil
}

func abortWithError(c *gin.Context, err error) {
	c.String(statusFromError(err), "%v", err)
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, gcs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gcs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gcs.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, index.ErrOutOfRange), errors.Is(err, bgzf.ErrInvalidOffset):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrInvalidFormat), errors.Is(err, bgzf.ErrInvalidFormat),
		errors.Is(err, bgzf.ErrCorruptBlock), errors.Is(err, bgzf.ErrChecksum):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
