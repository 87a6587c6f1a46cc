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

// This binary serves region queries over indexed BGZF archives stored
// on local disk or in Google Cloud Storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"

	"github.com/googlegenomics/bgzidx/bgzidx-server/serve"
	"github.com/googlegenomics/bgzidx/block"
	"github.com/googlegenomics/bgzidx/sources/file"
	"github.com/googlegenomics/bgzidx/sources/gcs"
)

var (
	port = flag.Int("port", 8080, "HTTP service port")

	secure    = flag.Bool("secure", false, "serve in HTTPS-only mode")
	httpsCert = flag.String("https_cert", "", "HTTPS certificate file")
	httpsKey  = flag.String("https_key", "", "HTTPS key file")

	directory = flag.String("directory", "", "directory that contains archives and their indexes")
	bucket    = flag.String("bucket", "", "GCS bucket that contains archives and their indexes")
)

func main() {
	flag.Parse()

	if *secure && (*httpsCert == "" || *httpsKey == "") {
		log.Fatalf("You must specify both -https_cert and -https_key in secure mode.")
	}

	var source serve.Source
	switch {
	case *directory != "":
		source = fileSource{root: *directory}
	case *bucket != "":
		client, err := gcs.NewDefaultClient(context.Background())
		if err != nil {
			log.Fatalf("Creating storage client: %v", err)
		}
		source = gcsSource{client: client, bucket: *bucket}
	default:
		log.Fatalf("You must specify either -directory or -bucket.")
	}

	router := gin.Default()
	router.Use(serve.RequestID())
	router.GET("/refs/:id", serve.NewReferencesHandler(source))
	router.GET("/query/:id", serve.NewQueryHandler(source))
	router.GET("/block/:id", serve.NewBlockHandler(source))

	address := fmt.Sprintf(":%d", *port)
	if *secure {
		if err := router.RunTLS(address, *httpsCert, *httpsKey); err != nil {
			log.Fatalf("HTTPS server returned an error: %v", err)
		}
	} else {
		if err := router.Run(address); err != nil {
			log.Fatalf("HTTP server returned an error: %v", err)
		}
	}
}

type fileSource struct {
	root string
}

func (s fileSource) Archive(id string) (block.RangeReader, io.Closer, error) {
	return file.Open(s.root, id+".bgz")
}

func (s fileSource) Index(id string) (io.ReadCloser, error) {
	for _, suffix := range []string{".bgz.csi", ".bgz.tbi"} {
		f, err := os.Open(s.root + "/" + id + suffix)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no index found for %q: %w", id, os.ErrNotExist)
}

type gcsSource struct {
	client *storage.Client
	bucket string
}

func (s gcsSource) Archive(id string) (block.RangeReader, io.Closer, error) {
	ctx := context.Background()
	return gcs.NewRangeReader(ctx, s.client, s.bucket, id+".bgz"), nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (s gcsSource) Index(id string) (io.ReadCloser, error) {
	ctx := context.Background()
	for _, suffix := range []string{".bgz.csi", ".bgz.tbi"} {
		r, err := gcs.Open(ctx, s.client, s.bucket, id+suffix)
		if err == nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no index found for %q: %w", id, gcs.ErrNotFound)
}
