package storage

import (
	"context"
	"strings"
)

// NewMirror creates the S3-compatible storage that receives copies of
// uploaded images, and makes sure its bucket exists.
func NewMirror(ctx context.Context, cfg *S3Config) (*S3Storage, error) {
	// Auto-detect storage type if not specified
	if cfg.Type == "" {
		cfg.Type = detectStorageType(cfg.Endpoint)
	}

	mirror, err := NewS3Storage(cfg)
	if err != nil {
		return nil, err
	}
	if err := mirror.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return mirror, nil
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "", strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}

// ContentType maps a file extension to the MIME type stored with it.
func ContentType(name string) string {
	ext := strings.ToLower(name)
	if idx := strings.LastIndex(ext, "."); idx != -1 {
		ext = ext[idx+1:]
	}
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "avif":
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}
