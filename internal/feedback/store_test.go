package feedback

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/recaption/internal/domain"
	"github.com/timmy/recaption/internal/storage"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	uploads, err := storage.NewLocalStorage(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	return NewStore(&StoreConfig{
		TablePath: filepath.Join(root, "feedback.csv"),
		Uploads:   uploads,
	}), root
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	return path
}

func TestStore_AppendRoundTrip(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()

	_, err := store.Records(ctx)
	require.True(t, errors.Is(err, ErrTableNotFound))

	img := writeImage(t, root, "dog.jpg")
	want := []domain.FeedbackRecord{
		{ImagePath: img, GeneratedDescription: "a dog", UserFeedback: "a brown dog, running; fast!"},
		{ImagePath: img, GeneratedDescription: "12345", UserFeedback: "3.14"},
		{ImagePath: img, GeneratedDescription: `he said "woof"`, UserFeedback: "line one\nline two"},
		{ImagePath: img, GeneratedDescription: "a dog", UserFeedback: ""},
		{ImagePath: img, GeneratedDescription: "  padded  ", UserFeedback: "0042"},
	}
	for _, rec := range want {
		require.NoError(t, store.Append(ctx, rec))
	}

	got, err := store.Records(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	data, err := os.ReadFile(store.TablePath())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "image_path,generated_description,user_feedback\n"))
	assert.Equal(t, 1, strings.Count(string(data), "image_path,generated_description,user_feedback"), "header is written once")
}

func TestStore_AppendRejectsMissingImage(t *testing.T) {
	store, root := newTestStore(t)

	err := store.Append(context.Background(), domain.FeedbackRecord{
		ImagePath:    filepath.Join(root, "missing.jpg"),
		UserFeedback: "x",
	})
	require.True(t, errors.Is(err, ErrImageNotFound))

	_, statErr := os.Stat(store.TablePath())
	assert.True(t, os.IsNotExist(statErr), "no table is created for a rejected record")
}

func TestStore_SubmitSavesUploadAndOverwrites(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Submit(ctx, Upload{Filename: "cat.png", Data: []byte("v1")}, "a cat", "a grey cat")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "uploads", "cat.png"), rec.ImagePath)

	_, err = store.Submit(ctx, Upload{Filename: "../../cat.png", Data: []byte("v2")}, "a cat", "a tabby cat")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "uploads", "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data), "same file name overwrites")

	records, err := store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2, "resubmission appends a duplicate row")
	assert.Equal(t, records[0].ImagePath, records[1].ImagePath)
	assert.Equal(t, "a tabby cat", records[1].UserFeedback)
}

func TestStore_SubmitMirrorsUpload(t *testing.T) {
	store, _ := newTestStore(t)
	mirror := &recordingStorage{}
	store.mirror = mirror

	_, err := store.Submit(context.Background(), Upload{Filename: "bird.jpg", Data: []byte("tweet")}, "a bird", "a robin")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bird.jpg": "tweet"}, mirror.objects)
}

func TestStore_SubmitIgnoresMirrorFailure(t *testing.T) {
	store, _ := newTestStore(t)
	store.mirror = &recordingStorage{fail: true}

	_, err := store.Submit(context.Background(), Upload{Filename: "bird.jpg", Data: []byte("tweet")}, "a bird", "a robin")
	require.NoError(t, err)
}

func TestParseTable_ColumnsByName(t *testing.T) {
	table := "user_feedback,image_path,generated_description\nfixed,a.jpg,orig\nonly\n"

	records, err := parseTable(strings.NewReader(table))
	require.NoError(t, err)
	require.Equal(t, []domain.FeedbackRecord{
		{ImagePath: "a.jpg", GeneratedDescription: "orig", UserFeedback: "fixed"},
		{UserFeedback: "only"},
	}, records)
}

func TestParseTable_MissingColumn(t *testing.T) {
	_, err := parseTable(strings.NewReader("image_path,generated_description\na.jpg,x\n"))
	require.True(t, errors.Is(err, ErrBadHeader))
}

func TestParseTable_Empty(t *testing.T) {
	records, err := parseTable(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)
}

type recordingStorage struct {
	objects map[string]string
	fail    bool
}

func (r *recordingStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if r.fail {
		return errors.New("mirror down")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if r.objects == nil {
		r.objects = map[string]string{}
	}
	r.objects[key] = string(data)
	return nil
}

func (r *recordingStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := r.objects[key]
	return ok, nil
}
