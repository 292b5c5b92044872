package trainingset

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/roach88/mbfit/internal/ir"
)

// WriteFile extracts into path, compressing by extension: .zst uses zstd,
// .gz uses gzip, anything else is plain text. The file appears only once
// the extraction has succeeded.
func WriteFile(ctx context.Context, path string, q Querier, f ir.Filter, m MoleculeFilter) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".trainingset-*")
	if err != nil {
		return 0, fmt.Errorf("create training set: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := writeCompressed(ctx, tmp, path, q, f, m)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close training set: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("write training set: %w", err)
	}
	return n, nil
}

func writeCompressed(ctx context.Context, out io.Writer, path string, q Querier, f ir.Filter, m MoleculeFilter) (int, error) {
	var (
		w      io.Writer
		finish func() error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		zw, err := zstd.NewWriter(out)
		if err != nil {
			return 0, fmt.Errorf("zstd writer: %w", err)
		}
		w, finish = zw, zw.Close
	case ".gz":
		gw := gzip.NewWriter(out)
		w, finish = gw, gw.Close
	default:
		bw := bufio.NewWriter(out)
		w, finish = bw, bw.Flush
	}

	n, err := Extract(ctx, q, f, m, w)
	if err != nil {
		_ = finish()
		return 0, err
	}
	if err := finish(); err != nil {
		return 0, fmt.Errorf("finish training set: %w", err)
	}
	return n, nil
}

// Open returns a reader over a training set written by WriteFile,
// decompressing by extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &readCloser{Reader: zr, closeFn: func() error { zr.Close(); return f.Close() }}, nil
	case ".gz":
		gr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &readCloser{Reader: gr, closeFn: func() error { gr.Close(); return f.Close() }}, nil
	default:
		return f, nil
	}
}

type readCloser struct {
	io.Reader
	closeFn func() error
}

func (r *readCloser) Close() error { return r.closeFn() }
