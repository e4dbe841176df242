package finetune

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/recaption/internal/domain"
	"github.com/timmy/recaption/internal/feedback"
	"github.com/timmy/recaption/internal/imagesource"
	"github.com/timmy/recaption/internal/model"
	"github.com/timmy/recaption/internal/storage"
)

const (
	baseline = "Salesforce/blip-image-captioning-base"
	padToken = 0
)

type trainingRuntime struct {
	mu       sync.Mutex
	loads    []string
	encoded  []string
	examples []*model.TrainExample
	saves    []string
	unloads  int
	trainErr error
	saveErr  error

	// block, when set, holds the first Load until closed.
	block   chan struct{}
	started chan struct{}
}

func (r *trainingRuntime) Load(ctx context.Context, checkpoint string) (*model.Handle, error) {
	if r.block != nil {
		close(r.started)
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, checkpoint)
	return &model.Handle{ID: "train", Checkpoint: checkpoint, PadTokenID: padToken}, nil
}

func (r *trainingRuntime) Generate(ctx context.Context, h *model.Handle, image, prompt string) (string, error) {
	return "", errors.New("not used")
}

func (r *trainingRuntime) Encode(ctx context.Context, h *model.Handle, image, text string, maxLength int) (*model.Encoding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoded = append(r.encoded, text)
	ids := make([]int, maxLength)
	mask := make([]int, maxLength)
	for i := 0; i < len(text) && i < maxLength; i++ {
		ids[i] = int(text[i])
		mask[i] = 1
	}
	return &model.Encoding{InputIDs: ids, AttentionMask: mask, PadTokenID: padToken}, nil
}

func (r *trainingRuntime) TrainStep(ctx context.Context, h *model.Handle, ex *model.TrainExample, lr float64) (float64, error) {
	if r.trainErr != nil {
		return 0, r.trainErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.examples = append(r.examples, ex)
	return 2.0, nil
}

func (r *trainingRuntime) Save(ctx context.Context, h *model.Handle, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, dir)
	return r.saveErr
}

func (r *trainingRuntime) Unload(ctx context.Context, h *model.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloads++
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	runs map[string]domain.FineTuneRun
}

func (m *memRecorder) Create(ctx context.Context, run *domain.FineTuneRun) error {
	return m.Update(ctx, run)
}

func (m *memRecorder) Update(ctx context.Context, run *domain.FineTuneRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]domain.FineTuneRun{}
	}
	m.runs[run.ID] = *run
	return nil
}

type fixture struct {
	root          string
	store         *feedback.Store
	runtime       *trainingRuntime
	recorder      *memRecorder
	job           *Job
	checkpointDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	uploads, err := storage.NewLocalStorage(filepath.Join(root, "uploads"))
	require.NoError(t, err)

	f := &fixture{
		root:          root,
		store:         feedback.NewStore(&feedback.StoreConfig{TablePath: filepath.Join(root, "feedback.csv"), Uploads: uploads}),
		runtime:       &trainingRuntime{},
		recorder:      &memRecorder{},
		checkpointDir: filepath.Join(root, "fine-tuned-model"),
	}
	f.job = NewJob(f.runtime, f.store, imagesource.NewLoader(&imagesource.LoaderConfig{MaxSide: 32}), &JobConfig{
		Baseline:      baseline,
		CheckpointDir: f.checkpointDir,
		MaxLength:     16,
		Recorder:      f.recorder,
	})
	return f
}

func (f *fixture) addImage(t *testing.T, name string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	path := filepath.Join(f.root, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestRun_OnlyEmptyFeedbackStillSaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "a.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, GeneratedDescription: "a", UserFeedback: ""}))
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, GeneratedDescription: "a", UserFeedback: "   "}))

	stats, err := f.job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, stats.Status)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0, stats.Trained)
	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, f.runtime.examples)
	assert.Equal(t, []string{f.checkpointDir}, f.runtime.saves)
	assert.DirExists(t, f.checkpointDir)
	assert.Equal(t, 1, f.runtime.unloads)
}

func TestRun_SkipsMissingImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "b.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, GeneratedDescription: "a", UserFeedback: "gone soon"}))
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, GeneratedDescription: "a", UserFeedback: "hi"}))
	// This image disappears after its row was recorded.
	missing := f.addImage(t, "c.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: missing, GeneratedDescription: "b", UserFeedback: "missing"}))
	require.NoError(t, os.Remove(missing))

	stats, err := f.job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Trained)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []string{"gone soon", "hi"}, f.runtime.encoded, "rows train in table order")
	assert.InDelta(t, 2.0, stats.MeanLoss, 1e-9)
	assert.Equal(t, []string{f.checkpointDir}, f.runtime.saves)
}

func TestRun_LabelsMaskPadding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "d.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, UserFeedback: "hi"}))

	_, err := f.job.Run(ctx)
	require.NoError(t, err)

	require.Len(t, f.runtime.examples, 1)
	ex := f.runtime.examples[0]
	require.Len(t, ex.Labels, 16)
	assert.Equal(t, []int{'h', 'i'}, ex.Labels[:2])
	for _, label := range ex.Labels[2:] {
		assert.Equal(t, model.IgnoreIndex, label)
	}
	assert.Equal(t, 'h', rune(ex.InputIDs[0]))
}

func TestRun_AbsentTableIsNoop(t *testing.T) {
	f := newFixture(t)

	stats, err := f.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSkipped, stats.Status)
	assert.Empty(t, f.runtime.loads)
	assert.Empty(t, f.runtime.saves)
	assert.NoDirExists(t, f.checkpointDir)
	require.Len(t, f.recorder.runs, 1)
}

func TestRun_StartCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "e.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, UserFeedback: "x"}))

	_, err := f.job.Run(ctx)
	require.NoError(t, err)
	_, err = f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{baseline, baseline}, f.runtime.loads, "each pass restarts from the baseline")

	f.job.base = BaseCurrent
	_, err = f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.checkpointDir, f.runtime.loads[2])
}

func TestRun_RuntimeFailureAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "f.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, UserFeedback: "x"}))
	f.runtime.trainErr = &model.RuntimeError{Op: "train_step", Status: 500, Message: "boom"}

	stats, err := f.job.Run(ctx)
	require.Error(t, err)
	var rtErr *model.RuntimeError
	assert.True(t, errors.As(err, &rtErr))
	assert.Equal(t, domain.RunStatusFailed, stats.Status)
	assert.Empty(t, f.runtime.saves)

	run := f.recorder.runs[stats.RunID]
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorLog)
}

func TestRun_RejectsConcurrentPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "g.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, UserFeedback: "x"}))

	f.runtime.block = make(chan struct{})
	f.runtime.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.job.Run(ctx)
		done <- err
	}()
	<-f.runtime.started

	_, err := f.job.Run(ctx)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	close(f.runtime.block)
	require.NoError(t, <-done)
}

func TestRun_FailedSaveKeepsBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "h.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, UserFeedback: "x"}))
	f.runtime.saveErr = errors.New("disk full")

	stats, err := f.job.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, domain.RunStatusFailed, stats.Status)
	assert.NoDirExists(t, f.checkpointDir)
	assert.Equal(t, baseline, model.ResolveCheckpoint(f.checkpointDir, baseline))
}

func TestRun_FailedSaveLeavesExistingCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.addImage(t, "i.png")
	require.NoError(t, f.store.Append(ctx, domain.FeedbackRecord{ImagePath: img, UserFeedback: "x"}))
	require.NoError(t, os.MkdirAll(f.checkpointDir, 0o755))
	f.runtime.saveErr = errors.New("disk full")

	_, err := f.job.Run(ctx)
	require.Error(t, err)
	assert.DirExists(t, f.checkpointDir)
}

func TestRun_URLImagePathIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	table := "image_path,generated_description,user_feedback\n" + srv.URL + "/a.png,a,remote\n"
	require.NoError(t, os.WriteFile(f.store.TablePath(), []byte(table), 0o644))

	stats, err := f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Trained)
	assert.Zero(t, hits)
}
