// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gcs uploads index backups to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Client writes objects into one bucket.
type Client struct {
	storageClient *storage.Client
	BucketName    string
}

// NewClient authenticates with the service account key at saKeyPath.
func NewClient(ctx context.Context, bucketName, saKeyPath string) (*Client, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	info, err := os.Stat(saKeyPath)
	if os.IsNotExist(err) || saKeyPath == "" {
		return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
	}
	if err != nil {
		return nil, fmt.Errorf("stat service account key %s: %w", saKeyPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("service account key path is a directory: %s", saKeyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Client{storageClient: storageClient, BucketName: bucketName}, nil
}

// Upload streams r into object and returns the bytes written. The object
// is only committed if the whole stream was copied.
func (c *Client) Upload(ctx context.Context, r io.Reader, object string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := c.storageClient.Bucket(c.BucketName).Object(object).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	n, err := io.Copy(writer, r)
	if err != nil {
		// Canceling the context before Close aborts the upload.
		cancel()
		_ = writer.Close()
		return n, fmt.Errorf("copy backup to gs://%s/%s: %w", c.BucketName, object, err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return n, nil
}

// Close releases the storage client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}
