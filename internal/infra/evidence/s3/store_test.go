package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"compliancecore/internal/evidence/core"
)

func TestMockedBasicFlow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	obj, err := store.Put(ctx, "inspections/i1/photos/p1", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "image/png", Metadata: map[string]string{"inspection": "i1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := sha256.Sum256([]byte("hello"))
	if obj.Key != "inspections/i1/photos/p1" || obj.ContentType != "image/png" || obj.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected object %#v", obj)
	}
	if obj.Metadata["inspection"] != "i1" {
		t.Fatalf("expected user metadata, got %v", obj.Metadata)
	}
	if _, err := store.Put(ctx, "inspections/i1/photos/p1", bytes.NewReader([]byte("ignored")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected duplicate put error, got %v", err)
	}
	_, rc, err := store.Open(ctx, "inspections/i1/photos/p1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("content mismatch: %q", string(data))
	}
	if url, err := store.PresignURL(ctx, "inspections/i1/photos/p1", core.SignedURLOptions{Expiry: 30 * time.Second}); err != nil || url == "" {
		t.Fatalf("presign: %v %s", err, url)
	}
}

func TestErrorPaths(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Stat(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for stat, got %v", err)
	}
	if _, _, err := store.Open(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for open, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected presign unsupported error")
	}
	if _, err := New(ctx, Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestNewAndOpenFromEnv(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	s, err := New(context.Background(), Config{Bucket: "bkt", Endpoint: "https://mock.s3.local", PathStyle: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
	t.Setenv("COMPLIANCECORE_EVIDENCE_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	t.Setenv("COMPLIANCECORE_EVIDENCE_S3_BUCKET", "env-bucket")
	t.Setenv("COMPLIANCECORE_EVIDENCE_S3_REGION", "eu-west-1")
	if _, err := OpenFromEnv(context.Background()); err != nil {
		t.Fatalf("OpenFromEnv: %v", err)
	}
}

func TestFromHeadSplitsDigest(t *testing.T) {
	store := NewMockForTests()
	obj := store.fromHead("k", 10, nil, map[string]string{core.MetadataSHA256: "abc"}, nil)
	if obj.SHA256 != "abc" || obj.Metadata != nil || obj.ContentType != "" || obj.StoredAt.IsZero() {
		t.Fatalf("unexpected object: %+v", obj)
	}
}

func TestDecodeChunked(t *testing.T) {
	if _, ok := decodeChunked([]byte("not-chunked")); ok {
		t.Fatalf("expected plain body to be rejected")
	}
	if _, ok := decodeChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("size mismatch should fail")
	}
	if b, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n")); !ok || string(b) != "hello" {
		t.Fatalf("expected decode hello")
	}
}

func TestMockRoundTripperUnsupported(t *testing.T) {
	rt := &mockRoundTripper{state: make(map[string]mockObj)}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}
