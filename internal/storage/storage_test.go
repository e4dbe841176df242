package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_UploadOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "cat.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Upload(ctx, "cat.jpg", strings.NewReader("first"), 5, "image/jpeg"))
	require.NoError(t, store.Upload(ctx, "cat.jpg", strings.NewReader("second"), 6, "image/jpeg"))

	path, err := store.Path("cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cat.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	exists, err = store.Exists(ctx, "cat.jpg")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStorage_RejectsPathKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "..", "../escape.jpg", `a\b.jpg`, "a/b.jpg"} {
		err := store.Upload(context.Background(), key, strings.NewReader("x"), 1, "image/jpeg")
		assert.True(t, errors.Is(err, ErrInvalidKey), "key %q", key)
	}
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://acct.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.us-east-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType(""))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("photo.JPG"))
	assert.Equal(t, "image/png", ContentType("a.b.png"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "localhost:9000", normalizeEndpoint("http://localhost:9000/"))
	assert.Equal(t, "bucket.example.com", normalizeEndpoint("https://bucket.example.com/path/x"))
}

func TestRegionFor(t *testing.T) {
	assert.Equal(t, "eu-west-1", regionFor(&S3Config{Region: "eu-west-1", Type: StorageTypeR2}))
	assert.Equal(t, "auto", regionFor(&S3Config{Type: StorageTypeR2}))
	assert.Equal(t, "us-east-1", regionFor(&S3Config{Type: StorageTypeS3Compatible}))
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(&S3Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}
