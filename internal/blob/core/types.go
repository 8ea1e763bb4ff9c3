// Package core defines the blob storage abstraction shared by the export
// drivers.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver names an export backend in configuration.
type Driver string

const (
	// DriverFilesystem writes under a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 writes to an S3 or MinIO bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps exports in process, for tests.
	DriverMemory Driver = "memory"
	// DriverUSB writes to the first mounted removable drive.
	DriverUSB Driver = "usb"
)

// PutOptions carries the content type and flat metadata stored with an
// export, such as the session it came from.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions configures a link to an export. Only GET is supported;
// a zero Expiry means 15 minutes.
type SignedURLOptions struct {
	Method  string
	Expiry  time.Duration
	Headers map[string]string
}

// Info describes a written export.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a create-only object store. Put must fail with ErrExists when the
// key is already present; exported files are never overwritten.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete returns (false, nil) when the key is absent.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned by drivers that cannot link to exports.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = errors.New("blobstore: already exists")
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("blobstore: not found")
)
