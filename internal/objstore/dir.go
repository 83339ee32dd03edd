package objstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir is a filesystem-backed Client. Each bucket is a directory under the
// root; object paths map to files below it.
type Dir struct {
	root string
}

// NewDir creates a filesystem client rooted at the given directory.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) bucketPath(bucket string) string {
	return filepath.Join(d.root, bucket)
}

func (d *Dir) objectPath(bucket, path string) string {
	return filepath.Join(d.bucketPath(bucket), filepath.FromSlash(path))
}

func (d *Dir) EnsureBucket(_ context.Context, bucket string) error {
	if err := os.MkdirAll(d.bucketPath(bucket), 0o755); err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

func (d *Dir) BucketExists(_ context.Context, bucket string) (bool, error) {
	info, err := os.Stat(d.bucketPath(bucket))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (d *Dir) Upload(_ context.Context, bucket, path string, r io.Reader) error {
	target := d.objectPath(bucket, path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating object %s/%s: %w", bucket, path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return fmt.Errorf("writing object %s/%s: %w", bucket, path, err)
	}
	return f.Close()
}

func (d *Dir) Download(_ context.Context, bucket, path string) (io.ReadCloser, error) {
	f, err := os.Open(d.objectPath(bucket, path))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("object %s/%s: %w", bucket, path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dir) List(_ context.Context, bucket, prefix string) ([]string, error) {
	base := d.bucketPath(bucket)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}

	var paths []string
	err := filepath.WalkDir(base, func(p string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			paths = append(paths, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing bucket %s: %w", bucket, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (d *Dir) DeleteBucket(_ context.Context, bucket string) error {
	return os.RemoveAll(d.bucketPath(bucket))
}
