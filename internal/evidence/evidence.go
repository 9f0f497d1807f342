// Package evidence re-exports the evidence store abstractions and selects a
// driver. Code outside this package depends on evidence.Store, never on the
// infra drivers directly.
package evidence

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"compliancecore/internal/evidence/core"
	infrafs "compliancecore/internal/infra/evidence/fs"
	inframemory "compliancecore/internal/infra/evidence/memory"
	infras3 "compliancecore/internal/infra/evidence/s3"
)

type (
	// Driver identifies an evidence backend driver.
	Driver = core.Driver
	// PutOptions configures an evidence write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Object describes stored evidence metadata.
	Object = core.Object
	// Store is the interface for evidence storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
	// MaxObjectSize caps a single evidence object.
	MaxObjectSize = core.MaxObjectSize
)

var (
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrExists indicates a Put against an existing key.
	ErrExists = core.ErrExists
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrTooLarge indicates an object above MaxObjectSize.
	ErrTooLarge = core.ErrTooLarge
)

// Open selects an evidence Store implementation using environment variables.
//
//	COMPLIANCECORE_EVIDENCE_DRIVER: fs|s3|memory (default fs)
//	COMPLIANCECORE_EVIDENCE_FS_ROOT: directory root when driver=fs (default ./evidence)
//	(S3 specific variables documented in the s3 driver)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("COMPLIANCECORE_EVIDENCE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("COMPLIANCECORE_EVIDENCE_FS_ROOT"))
	case DriverS3:
		return infras3.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown evidence driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) { return infrafs.New(root) }

// NewMemory constructs an in-memory store.
func NewMemory() Store { return inframemory.New() }

// S3Config re-exports the infra S3 configuration type.
type S3Config = infras3.Config

// NewS3 constructs an S3-backed store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infras3.New(ctx, cfg) }

// NewMockS3ForTests exposes the in-memory S3 mock for cross-package tests.
func NewMockS3ForTests() Store { return infras3.NewMockForTests() }

// PhotoKey is the object key for a photo attached to an inspection.
func PhotoKey(inspectionID, photoID string) string {
	return path.Join("inspections", inspectionID, "photos", photoID)
}

// DigestMismatchError reports stored content that no longer matches the
// digest recorded at attach time.
type DigestMismatchError struct {
	Key      string
	Expected string
	Actual   string
}

func (e DigestMismatchError) Error() string {
	return fmt.Sprintf("evidence %s digest mismatch: recorded %s, stored %s", e.Key, e.Expected, e.Actual)
}

// Verify checks that key exists and its digest equals sha256.
func Verify(ctx context.Context, store Store, key, sha256 string) error {
	obj, err := store.Stat(ctx, key)
	if err != nil {
		return err
	}
	if obj.SHA256 != sha256 {
		return DigestMismatchError{Key: key, Expected: sha256, Actual: obj.SHA256}
	}
	return nil
}

// Put is a convenience wrapper used by callers holding an io.Reader.
func Put(ctx context.Context, store Store, key string, r io.Reader, contentType string, metadata map[string]string) (Object, error) {
	return store.Put(ctx, key, r, PutOptions{ContentType: contentType, Metadata: metadata})
}
