// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gcs moves world snapshots between the local filesystem and a
// Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client wraps a GCS bucket handle for snapshot transfer.
type Client struct {
	storageClient *storage.Client
	BucketName    string
}

// NewClient connects to GCS. With saKeyPath empty, application default
// credentials apply; otherwise the service account key file is used.
func NewClient(ctx context.Context, bucketName, saKeyPath string) (*Client, error) {
	if bucketName == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{storageClient: storageClient, BucketName: bucketName}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}

// ObjectName derives the default bucket object name for a local snapshot
// file: "snapshots/<basename>". Path separators in the input are reduced to
// the base name so callers cannot write outside the prefix.
func ObjectName(localPath string) string {
	return path.Join("snapshots", path.Base(strings.ReplaceAll(localPath, "\\", "/")))
}

// Upload copies a local file into the bucket under objectName.
func (c *Client) Upload(ctx context.Context, localPath, objectName string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := c.storageClient.Bucket(c.BucketName).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("failed to copy %s to GCS object %s: %w", localPath, objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectName, err)
	}
	return nil
}

// Download copies a bucket object to a local file, creating or truncating
// the destination.
func (c *Client) Download(ctx context.Context, objectName, localPath string) error {
	reader, err := c.storageClient.Bucket(c.BucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open GCS object %s: %w", objectName, err)
	}
	defer reader.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	if _, err := io.Copy(localFile, reader); err != nil {
		return fmt.Errorf("failed to copy GCS object %s to %s: %w", objectName, localPath, err)
	}
	return nil
}

// List returns the object names under a prefix, in bucket order.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	it := c.storageClient.Bucket(c.BucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", c.BucketName, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
