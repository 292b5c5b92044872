// Package archive stores calculator logs and fit artifacts outside the ledger
// and hands back the reference URI that the ledger records as log_ref.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Driver names an archive backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// Store archives a blob under key and returns a URI referencing it.
// Putting the same key twice replaces the earlier blob; a retried
// calculation archives its log under the same key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (ref string, err error)
	Driver() Driver
}

// Config selects and configures a backend.
type Config struct {
	Driver Driver `yaml:"driver"`

	// Dir is the filesystem root (fs driver).
	Dir string `yaml:"dir"`

	// S3 settings.
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	Prefix    string `yaml:"prefix"`
}

// Open builds the Store named by cfg.Driver (fs when empty).
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
			Prefix:    cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

// sanitizeKey rejects keys that could escape the archive root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key %q contains '..'", key)
		}
	}
	return path.Clean(key), nil
}

// JoinKey joins key segments with '/', replacing characters that are awkward
// in object keys and file names.
func JoinKey(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		clean = append(clean, keyReplacer.Replace(p))
	}
	return strings.Join(clean, "/")
}

var keyReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_", "*", "_", "(", "", ")", "")
