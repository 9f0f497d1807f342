// Package core defines the evidence object store abstraction shared by the
// evidence package and its infra drivers.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete evidence storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
)

// MaxObjectSize caps a single evidence object.
const MaxObjectSize int64 = 25 << 20

// MetadataSHA256 is the user-metadata key drivers use to carry the content digest.
const MetadataSHA256 = "sha256"

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // User metadata (small, flat key-value)
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method string        // only GET is supported
	Expiry time.Duration // default 15m
}

// Object describes a stored evidence object.
type Object struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size_bytes"`
	ContentType string            `json:"content_type,omitempty"`
	SHA256      string            `json:"sha256"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	StoredAt    time.Time         `json:"stored_at"`
	URL         string            `json:"url,omitempty"`
}

// Store is a create-only object store. There is no delete or overwrite:
// evidence attached to an inspection must outlive the inspection's edits.
type Store interface {
	// Put stores a new object at key and fails with ErrExists if key is taken.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Object, error)
	// Open returns the object metadata and its content.
	Open(ctx context.Context, key string) (Object, io.ReadCloser, error)
	// Stat returns metadata only.
	Stat(ctx context.Context, key string) (Object, error)
	// PresignURL returns a time-limited GET URL or ErrUnsupported.
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("evidence: unsupported operation")
	// ErrExists is returned when Put targets a key that is already stored.
	ErrExists = errors.New("evidence: object already exists")
	// ErrNotFound is returned for missing keys.
	ErrNotFound = errors.New("evidence: object not found")
	// ErrTooLarge is returned when an object exceeds MaxObjectSize.
	ErrTooLarge = errors.New("evidence: object exceeds size limit")
)

// CloneMetadata copies user metadata.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
