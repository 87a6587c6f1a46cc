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

// Package gcs provides byte range access to archives stored in Google
// Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/googlegenomics/bgzidx/block"
)

// Common failure classes surfaced to callers so that serving layers can
// map storage failures onto response codes.
var (
	ErrNotFound         = fmt.Errorf("object does not exist")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrUnauthorized     = fmt.Errorf("missing or invalid credentials")
)

// The default and public clients are cached independently so that
// creating one never masks the other.
var (
	defaultClient cachedClient
	publicClient  cachedClient
)

type cachedClient struct {
	once   sync.Once
	client *storage.Client
	err    error
}

func (c *cachedClient) get(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	c.once.Do(func() {
		c.client, c.err = storage.NewClient(ctx, opts...)
	})
	if c.err != nil {
		return nil, fmt.Errorf("creating storage client: %v", c.err)
	}
	return c.client, nil
}

// NewDefaultClient returns a storage client that uses the application
// default credentials.  The client is cached across calls.
func NewDefaultClient(ctx context.Context) (*storage.Client, error) {
	return defaultClient.get(ctx)
}

// NewPublicClient returns a storage client that does not use any form
// of client authorization.  It can only be used to read
// publicly-readable objects.  The client is cached across calls.
func NewPublicClient(ctx context.Context) (*storage.Client, error) {
	return publicClient.get(ctx, option.WithHTTPClient(http.DefaultClient))
}

// NewClientFromBearerToken constructs a storage client that uses the
// OAuth2 bearer token found in authorization (an Authorization header
// value) to make storage requests.
func NewClientFromBearerToken(ctx context.Context, authorization string) (*storage.Client, error) {
	fields := strings.Split(authorization, " ")
	if len(fields) != 2 || fields[0] != "Bearer" {
		return nil, ErrUnauthorized
	}

	token := oauth2.Token{
		TokenType:   fields[0],
		AccessToken: fields[1],
	}
	client, err := storage.NewClient(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&token)))
	if err != nil {
		return nil, fmt.Errorf("creating client with token source: %v", err)
	}
	return client, nil
}

// NewRangeReader returns a RangeReader over the named object in bucket.
// Each range is served by a separate storage read, so ranges may be
// read concurrently.
func NewRangeReader(ctx context.Context, client *storage.Client, bucket, object string) block.RangeReader {
	handle := client.Bucket(bucket).Object(object)
	return func(start, length int64) (io.ReadCloser, error) {
		r, err := handle.NewRangeReader(ctx, start, length)
		if err != nil {
			return nil, storageError(fmt.Sprintf("reading gs://%s/%s", bucket, object), err)
		}
		return r, nil
	}
}

// Open returns a reader over the entire named object in bucket.
func Open(ctx context.Context, client *storage.Client, bucket, object string) (io.ReadCloser, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, storageError(fmt.Sprintf("opening gs://%s/%s", bucket, object), err)
	}
	return r, nil
}

func storageError(context string, err error) error {
	if err == storage.ErrObjectNotExist {
		return fmt.Errorf("%s: %w", context, ErrNotFound)
	}
	if err, ok := err.(*googleapi.Error); ok {
		switch err.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", context, ErrUnauthorized)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", context, ErrPermissionDenied)
		}
	}
	return fmt.Errorf("%s: %v", context, err)
}
