package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// Filesystem archives blobs as files under a root directory.
// References are file:// URIs of the absolute path.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem archive rooted at root, creating it if
// needed. An empty root means ./archive.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./archive"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("archive root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("archive root: %w", err)
	}
	return &Filesystem{root: abs}, nil
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the absolute archive directory.
func (f *Filesystem) Root() string { return f.root }

// Put writes r to root/key via a temp file and rename.
func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	dataPath := filepath.Join(f.root, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(dataPath)}
	return u.String(), nil
}
