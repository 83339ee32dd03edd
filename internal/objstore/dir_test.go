package objstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestDirRoundTrip(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	if err := d.EnsureBucket(ctx, "b1"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	// Idempotent.
	if err := d.EnsureBucket(ctx, "b1"); err != nil {
		t.Fatalf("EnsureBucket again: %v", err)
	}

	exists, err := d.BucketExists(ctx, "b1")
	if err != nil || !exists {
		t.Fatalf("BucketExists = %v, %v; want true", exists, err)
	}

	if err := d.Upload(ctx, "b1", "embeddings/batch-0.jsonl", strings.NewReader("line1\n")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := d.Download(ctx, "b1", "embeddings/batch-0.jsonl")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("reading object: %v", err)
	}
	if string(data) != "line1\n" {
		t.Errorf("object contents = %q", data)
	}
}

func TestDirList_PrefixAndOrder(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	if err := d.EnsureBucket(ctx, "b"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	for _, p := range []string{"embeddings/b-1.jsonl", "embeddings/b-0.jsonl", "other/x.txt"} {
		if err := d.Upload(ctx, "b", p, strings.NewReader("x")); err != nil {
			t.Fatalf("Upload %s: %v", p, err)
		}
	}

	got, err := d.List(ctx, "b", "embeddings/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"embeddings/b-0.jsonl", "embeddings/b-1.jsonl"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDirDownload_NotFound(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	if err := d.EnsureBucket(ctx, "b"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if _, err := d.Download(ctx, "b", "missing.jsonl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDirDeleteBucket(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	if err := d.EnsureBucket(ctx, "gone"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if err := d.Upload(ctx, "gone", "f", strings.NewReader("x")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := d.DeleteBucket(ctx, "gone"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	exists, err := d.BucketExists(ctx, "gone")
	if err != nil {
		t.Fatalf("BucketExists: %v", err)
	}
	if exists {
		t.Error("bucket still exists after delete")
	}
}
