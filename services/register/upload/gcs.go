// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package upload copies a finished population's output files to Google
// Cloud Storage.
package upload

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader publishes a local directory under an object prefix.
type Uploader interface {
	// UploadDir uploads every regular file under localDir and returns how
	// many were uploaded.
	UploadDir(ctx context.Context, localDir, prefix string) (int, error)
	Close() error
}

// GCSUploader uploads to one bucket.
type GCSUploader struct {
	storageClient *storage.Client
	BucketName    string
	logger        *slog.Logger

	// newWriter opens an object writer; replaced in tests.
	newWriter func(ctx context.Context, object string) objectWriter
}

// objectWriter is the part of *storage.Writer the uploader uses.
type objectWriter interface {
	io.WriteCloser
	setContentType(ct string)
}

type gcsWriter struct {
	*storage.Writer
}

func (w gcsWriter) setContentType(ct string) {
	w.ContentType = ct
	w.CacheControl = "no-cache, no-store, must-revalidate"
}

// NewGCSUploader creates a GCS client for bucketName.
//
// # Inputs
//
//   - ctx: Used for client construction.
//   - bucketName: Target bucket.
//   - saKeyPath: Service account key file. Empty uses Application Default Credentials.
//   - logger: Receives one line per uploaded file.
//
// # Outputs
//
//   - *GCSUploader: Ready uploader. Call Close when done.
//   - error: Non-nil if the key file is missing or the client cannot be created.
func NewGCSUploader(ctx context.Context, bucketName, saKeyPath string, logger *slog.Logger) (*GCSUploader, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	u := &GCSUploader{
		storageClient: storageClient,
		BucketName:    bucketName,
		logger:        logger,
	}
	u.newWriter = func(ctx context.Context, object string) objectWriter {
		return gcsWriter{u.storageClient.Bucket(u.BucketName).Object(object).NewWriter(ctx)}
	}
	return u, nil
}

// UploadFile copies one local file to an object.
func (u *GCSUploader) UploadFile(ctx context.Context, localPath, object string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	writer := u.newWriter(ctx, object)
	writer.setContentType(contentType(localPath))

	if _, err := io.Copy(writer, localFile); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	u.logger.Info("uploaded output file",
		slog.String("file", localPath),
		slog.String("object", fmt.Sprintf("gs://%s/%s", u.BucketName, object)))
	return nil
}

// UploadDir uploads every file under localDir, keeping relative paths.
func (u *GCSUploader) UploadDir(ctx context.Context, localDir, prefix string) (int, error) {
	n := 0
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		object, err := ObjectName(prefix, localDir, p)
		if err != nil {
			return err
		}
		if err := u.UploadFile(ctx, p, object); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Close closes the storage client.
func (u *GCSUploader) Close() error {
	if u.storageClient == nil {
		return nil
	}
	return u.storageClient.Close()
}

// ObjectName maps a file under root to "<prefix>/<relative path>" with
// forward slashes.
func ObjectName(prefix, root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("object name for %s: %w", file, err)
	}
	return path.Join(prefix, filepath.ToSlash(rel)), nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".xml":
		return "application/xml; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
