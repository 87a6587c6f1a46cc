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

package gcs

import (
	"context"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestNewPublicClient_Cached(t *testing.T) {
	ctx := context.Background()

	first, err := NewPublicClient(ctx)
	require.NoError(t, err)
	second, err := NewPublicClient(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestNewClientFromBearerToken_RejectsBadHeaders(t *testing.T) {
	ctx := context.Background()

	for _, authorization := range []string{"", "Bearer", "Basic dXNlcg==", "Bearer a b"} {
		_, err := NewClientFromBearerToken(ctx, authorization)
		assert.ErrorIs(t, err, ErrUnauthorized, "authorization %q", authorization)
	}
}

func TestStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"object not found", storage.ErrObjectNotExist, ErrNotFound},
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, ErrUnauthorized},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, ErrPermissionDenied},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.ErrorIs(t, storageError("reading gs://bucket/object", test.err), test.want)
		})
	}
}
