// Package s3 implements the evidence store on an S3-compatible backend.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"compliancecore/internal/evidence/core"
)

// Store implements core.Store using an S3-compatible backend (AWS S3 or MinIO).
// Single bucket; keys map to object keys directly.
type Store struct {
	client  *s3.Client
	bucket  string
	presign *s3.PresignClient
}

// Config holds explicit construction parameters (mostly for tests). For prod
// we rely primarily on environment variables.
type Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional; if set enables custom endpoint (e.g. MinIO)
	PathStyle bool
}

// Environment variables:
//   COMPLIANCECORE_EVIDENCE_DRIVER=s3
//   COMPLIANCECORE_EVIDENCE_S3_BUCKET=<bucket> (required)
//   COMPLIANCECORE_EVIDENCE_S3_REGION=<region> (default us-east-1)
//   COMPLIANCECORE_EVIDENCE_S3_ENDPOINT=<url> (optional, for MinIO)
//   COMPLIANCECORE_EVIDENCE_S3_PATH_STYLE=true|false (default false)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// New creates an S3 evidence store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newWithClient(client, cfg.Bucket), nil
}

func newWithClient(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket, presign: s3.NewPresignClient(client)}
}

// OpenFromEnv constructs an S3 store from process environment.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	bucket := os.Getenv("COMPLIANCECORE_EVIDENCE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("COMPLIANCECORE_EVIDENCE_S3_BUCKET required for s3 driver")
	}
	return New(ctx, Config{
		Bucket:    bucket,
		Region:    os.Getenv("COMPLIANCECORE_EVIDENCE_S3_REGION"),
		Endpoint:  os.Getenv("COMPLIANCECORE_EVIDENCE_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("COMPLIANCECORE_EVIDENCE_S3_PATH_STYLE"), "true"),
	})
}

// Driver returns the evidence driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Put buffers the object (bounded by MaxObjectSize) to compute its digest,
// then uploads with If-None-Match so an existing key is never overwritten.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Object, error) {
	body, err := io.ReadAll(io.LimitReader(r, core.MaxObjectSize+1))
	if err != nil {
		return core.Object{}, err
	}
	if int64(len(body)) > core.MaxObjectSize {
		return core.Object{}, fmt.Errorf("%s: %w", key, core.ErrTooLarge)
	}
	// Emulate create-only via Head first for backends that ignore If-None-Match.
	if _, err := s.Stat(ctx, key); err == nil {
		return core.Object{}, fmt.Errorf("%s: %w", key, core.ErrExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Object{}, err
	}
	sum := sha256.Sum256(body)
	md := core.CloneMetadata(opts.Metadata)
	if md == nil {
		md = make(map[string]string, 1)
	}
	md[core.MetadataSHA256] = hex.EncodeToString(sum[:])
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		IfNoneMatch:   aws.String("*"),
		Metadata:      md,
	}
	if opts.ContentType != "" {
		input.ContentType = &opts.ContentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if statusCode(err) == http.StatusPreconditionFailed {
			return core.Object{}, fmt.Errorf("%s: %w", key, core.ErrExists)
		}
		return core.Object{}, err
	}
	return s.Stat(ctx, key)
}

// Open returns the object metadata and its body.
func (s *Store) Open(ctx context.Context, key string) (core.Object, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return core.Object{}, nil, mapErr(key, err)
	}
	return s.fromHead(key, aws.ToInt64(out.ContentLength), out.ContentType, out.Metadata, out.LastModified), out.Body, nil
}

// Stat returns object metadata only.
func (s *Store) Stat(ctx context.Context, key string) (core.Object, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return core.Object{}, mapErr(key, err)
	}
	return s.fromHead(key, aws.ToInt64(out.ContentLength), out.ContentType, out.Metadata, out.LastModified), nil
}

// PresignURL returns a time-limited GET URL.
func (s *Store) PresignURL(ctx context.Context, key string, opts core.SignedURLOptions) (string, error) {
	method := strings.ToUpper(opts.Method)
	if method != "" && method != "GET" {
		return "", core.ErrUnsupported
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	pout, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key}, func(po *s3.PresignOptions) { po.Expires = expiry })
	if err != nil {
		return "", err
	}
	return pout.URL, nil
}

func (s *Store) fromHead(key string, size int64, contentType *string, md map[string]string, lastModified *time.Time) core.Object {
	lm := time.Now().UTC()
	if lastModified != nil {
		lm = *lastModified
	}
	meta := core.CloneMetadata(md)
	digest := meta[core.MetadataSHA256]
	delete(meta, core.MetadataSHA256)
	if len(meta) == 0 {
		meta = nil
	}
	return core.Object{
		Key:         key,
		Size:        size,
		ContentType: aws.ToString(contentType),
		SHA256:      digest,
		Metadata:    meta,
		StoredAt:    lm,
	}
}

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func mapErr(key string, err error) error {
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return err
}
