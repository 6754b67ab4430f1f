package service

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"vehiclestats/internal/config"
	"vehiclestats/internal/dto"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/model"
	"vehiclestats/internal/service/pipeline"
	"vehiclestats/internal/service/storage"
)

type fixedDetector struct {
	detections model.Detections
}

func (d *fixedDetector) Detect(ctx context.Context, frame gocv.Mat, floor float64) (model.Detections, error) {
	return d.detections, nil
}

// memoryStatistics is an in-memory repository.StatisticsRepository.
type memoryStatistics struct {
	mu      sync.Mutex
	records []model.StatisticsRecord
	next    int
	err     error
}

func (r *memoryStatistics) Insert(ctx context.Context, record *model.StatisticsRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.next++
	record.ID = strings.Repeat("0", 25) + string(rune('0'+r.next))
	r.records = append(r.records, *record)
	return record.ID, nil
}

func (r *memoryStatistics) ListRecent(ctx context.Context, limit int) ([]model.StatisticsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	records := append([]model.StatisticsRecord(nil), r.records...)
	sort.SliceStable(records, func(i, j int) bool { return records[i].ProcessedAt.After(records[j].ProcessedAt) })
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *memoryStatistics) GetByID(ctx context.Context, id string) (*model.StatisticsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, record := range r.records {
		if record.ID == id {
			found := record
			return &found, nil
		}
	}
	return nil, model.ErrRecordNotFound
}

func (r *memoryStatistics) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.records)), r.err
}

func (r *memoryStatistics) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	n := int64(len(r.records))
	r.records = nil
	return n, nil
}

// failingClear wraps a real store but fails file cleanup.
type failingClear struct {
	*storage.ArtifactStore
}

func (f failingClear) Clear(ctx context.Context) (int, error) {
	return 1, errors.New("permission denied")
}

type recordingProgress struct {
	mu     sync.Mutex
	events []model.FrameProgress
}

func (p *recordingProgress) PublishProgress(event model.FrameProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type testEnv struct {
	manager    *Manager
	statistics *memoryStatistics
	store      *storage.ArtifactStore
	cfg        *config.Config
}

func setupManager(t *testing.T, detections model.Detections) *testEnv {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		UploadDirectory: filepath.Join(root, "uploads"),
		OutputDirectory: filepath.Join(root, "outputs"),
		StatisticsLimit: 50,
		ConfidenceFloor: 0.3,
	}
	log := logger.NewNop()

	store, err := storage.NewArtifactStore(cfg, nil, log)
	require.NoError(t, err)

	p := pipeline.New(&fixedDetector{detections: detections}, pipeline.NewCodec(), cfg.ConfidenceFloor, nil, log)
	statistics := &memoryStatistics{}

	return &testEnv{
		manager:    NewManager([]*pipeline.Pipeline{p}, statistics, store, &recordingProgress{}, nil, cfg, log),
		statistics: statistics,
		store:      store,
		cfg:        cfg,
	}
}

func (e *testEnv) uploadImage(t *testing.T, name string) string {
	t.Helper()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	require.NoError(t, err)
	defer buf.Close()

	upload, err := e.manager.Upload(context.Background(), name, strings.NewReader(string(buf.GetBytes())))
	require.NoError(t, err)
	return upload.Filename
}

func oneCar() model.Detections {
	return model.Detections{{ClassID: 2, Box: image.Rect(30, 30, 90, 80), Confidence: 0.88}}
}

func TestManager_UploadRejectsUnsupported(t *testing.T) {
	env := setupManager(t, nil)

	_, err := env.manager.Upload(context.Background(), "notes.txt", strings.NewReader("hello"))

	assert.ErrorIs(t, err, model.ErrUnsupportedMediaType)
	entries, err := os.ReadDir(env.cfg.UploadDirectory)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_UploadAndDetect(t *testing.T) {
	env := setupManager(t, oneCar())
	stored := env.uploadImage(t, "street.jpg")
	assert.True(t, strings.HasSuffix(stored, "_street.jpg"))

	detection, err := env.manager.Detect(context.Background(), stored, false)

	require.NoError(t, err)
	assert.Equal(t, model.Counts{Cars: 1}, detection.VehicleCounts)
	assert.Equal(t, "detected_"+stored, detection.OutputFilename)
	assert.Equal(t, "jpg", detection.FileType)
	assert.Empty(t, detection.RecordID)
	assert.FileExists(t, filepath.Join(env.cfg.OutputDirectory, detection.OutputFilename))
	assert.Empty(t, env.statistics.records)
}

func TestManager_DetectAndSave(t *testing.T) {
	env := setupManager(t, oneCar())
	stored := env.uploadImage(t, "street.jpg")

	detection, err := env.manager.Detect(context.Background(), stored, true)

	require.NoError(t, err)
	require.NoError(t, detection.SaveError)
	require.NotEmpty(t, detection.RecordID)

	record, err := env.manager.Get(context.Background(), detection.RecordID)
	require.NoError(t, err)
	assert.Equal(t, stored, record.Filename)
	assert.Equal(t, "jpg", record.FileType)
	assert.Equal(t, model.Counts{Cars: 1}, record.VehicleCounts)
	assert.Equal(t, detection.OutputFilename, record.OutputPath)
}

func TestManager_DetectSaveFailureKeepsResult(t *testing.T) {
	env := setupManager(t, oneCar())
	stored := env.uploadImage(t, "street.jpg")
	env.statistics.err = errors.New("database is locked")

	detection, err := env.manager.Detect(context.Background(), stored, true)

	require.NoError(t, err)
	assert.Equal(t, 1, detection.VehicleCounts.Cars)
	assert.ErrorIs(t, detection.SaveError, model.ErrStoreUnavailable)
	assert.Empty(t, detection.RecordID)
}

func TestManager_DetectMissingFile(t *testing.T) {
	env := setupManager(t, nil)

	_, err := env.manager.Detect(context.Background(), "nope.jpg", false)

	assert.ErrorIs(t, err, model.ErrFileNotFound)
}

func TestManager_DetectCorruptImage(t *testing.T) {
	env := setupManager(t, oneCar())
	upload, err := env.manager.Upload(context.Background(), "broken.jpg", strings.NewReader("not a jpeg"))
	require.NoError(t, err)

	_, err = env.manager.Detect(context.Background(), upload.Filename, true)

	assert.ErrorIs(t, err, model.ErrDecode)
	assert.NoFileExists(t, filepath.Join(env.cfg.OutputDirectory, "detected_"+upload.Filename))
	assert.Empty(t, env.statistics.records)
	assert.Equal(t, 1, len(env.manager.pipelines), "pipeline must be returned to the pool")
}

func TestManager_DetectWaitsForPipeline(t *testing.T) {
	env := setupManager(t, oneCar())
	stored := env.uploadImage(t, "street.jpg")

	held := <-env.manager.pipelines
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := env.manager.Detect(ctx, stored, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	env.manager.release(held)
	_, err = env.manager.Detect(context.Background(), stored, false)
	assert.NoError(t, err)
}

func TestManager_BestMatch(t *testing.T) {
	env := setupManager(t, oneCar())
	stored := env.uploadImage(t, "street.jpg")

	best, ok, err := env.manager.BestMatch(context.Background(), stored)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Car, best.Type)
	assert.Empty(t, env.statistics.records)
}

func TestManager_Save(t *testing.T) {
	env := setupManager(t, nil)

	id, err := env.manager.Save(context.Background(), dto.SaveRequest{
		Filename:       "20240101_000000_clip.AVI",
		OutputFilename: "detected_20240101_000000_clip.mp4",
		VehicleCounts:  model.Counts{Motorbikes: 2, Trucks: 1},
		Metadata:       map[string]any{"note": "manual"},
	})

	require.NoError(t, err)
	record, err := env.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "avi", record.FileType)
	assert.Equal(t, "manual", record.Metadata["note"])
}

func TestManager_SaveValidation(t *testing.T) {
	env := setupManager(t, nil)

	_, err := env.manager.Save(context.Background(), dto.SaveRequest{
		VehicleCounts: model.Counts{Cars: -1},
	})

	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)
	assert.Len(t, validationErrs, 3)
	assert.Empty(t, env.statistics.records)
}

func TestManager_ListRecentDefaultLimit(t *testing.T) {
	env := setupManager(t, nil)
	for i := 0; i < 60; i++ {
		_, err := env.statistics.Insert(context.Background(), &model.StatisticsRecord{
			Filename:    "f.jpg",
			ProcessedAt: time.Unix(int64(i), 0),
		})
		require.NoError(t, err)
	}

	records, err := env.manager.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 50)
	assert.Equal(t, time.Unix(59, 0), records[0].ProcessedAt)

	records, err = env.manager.ListRecent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestManager_GetMissing(t *testing.T) {
	env := setupManager(t, nil)

	_, err := env.manager.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, model.ErrRecordNotFound)
	assert.NotErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestManager_CleanupRemovesRecordsAndFiles(t *testing.T) {
	env := setupManager(t, nil)
	ctx := context.Background()
	for _, name := range []string{"a.jpg", "b.jpg"} {
		_, err := env.statistics.Insert(ctx, &model.StatisticsRecord{Filename: name})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.UploadDirectory, "a.jpg"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.OutputDirectory, "detected_a.jpg"), []byte("a"), 0644))

	result, err := env.manager.Cleanup(ctx)

	require.NoError(t, err)
	assert.Equal(t, CleanupResult{RecordsRemoved: 2, FilesRemoved: 2}, result)

	records, err := env.manager.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoFileExists(t, filepath.Join(env.cfg.UploadDirectory, "a.jpg"))
	assert.NoFileExists(t, filepath.Join(env.cfg.OutputDirectory, "detected_a.jpg"))
}

func TestManager_CleanupStoreFailureLeavesFiles(t *testing.T) {
	env := setupManager(t, nil)
	path := filepath.Join(env.cfg.UploadDirectory, "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))
	env.statistics.err = errors.New("disk I/O error")

	_, err := env.manager.Cleanup(context.Background())

	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	var partial *model.PartialCleanupError
	assert.False(t, errors.As(err, &partial))
	assert.FileExists(t, path)
}

func TestManager_CleanupPartialFailure(t *testing.T) {
	env := setupManager(t, nil)
	env.manager.artifacts = failingClear{ArtifactStore: env.store}
	_, err := env.statistics.Insert(context.Background(), &model.StatisticsRecord{Filename: "a.jpg"})
	require.NoError(t, err)

	result, err := env.manager.Cleanup(context.Background())

	var partial *model.PartialCleanupError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, int64(1), partial.RecordsRemoved)
	assert.Equal(t, 1, partial.FilesRemoved)
	assert.Equal(t, int64(1), result.RecordsRemoved)
}
