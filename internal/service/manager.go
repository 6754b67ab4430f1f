package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"

	"vehiclestats/internal/config"
	"vehiclestats/internal/dto"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/metrics"
	"vehiclestats/internal/model"
	"vehiclestats/internal/repository"
	"vehiclestats/internal/requestctx"
	"vehiclestats/internal/service/media"
	"vehiclestats/internal/service/pipeline"
)

// Artifacts stores uploads and annotated outputs on disk.
type Artifacts interface {
	SaveUpload(name string, r io.Reader) (string, error)
	UploadPath(name string) (string, error)
	OutputPath(name string) (string, error)
	OutputTarget(name string) (string, error)
	Publish(ctx context.Context, outputName string) (string, error)
	Clear(ctx context.Context) (int, error)
}

// ProgressPublisher receives per-frame progress of video runs.
type ProgressPublisher interface {
	PublishProgress(event model.FrameProgress)
}

// Upload describes a stored upload.
type Upload struct {
	Filename string
	FileType string
	Kind     media.Kind
}

// Detection is the outcome of a detection run, plus the save outcome when a
// save was requested.
type Detection struct {
	model.RunResult
	FileType  string
	Location  string
	RecordID  string
	SaveError error
}

// CleanupResult counts what a full cleanup removed.
type CleanupResult struct {
	RecordsRemoved int64
	FilesRemoved   int
}

// Manager ties uploads, pipelines and the statistics store together. Each run
// borrows one pipeline from a fixed pool for its whole duration.
type Manager struct {
	pipelines  chan *pipeline.Pipeline
	poolSize   int
	statistics repository.StatisticsRepository
	artifacts  Artifacts
	progress   ProgressPublisher
	metrics    *metrics.Metrics
	validate   *validator.Validate
	logger     *logger.Logger

	timeout         time.Duration
	statisticsLimit int
}

func NewManager(pipelines []*pipeline.Pipeline, statistics repository.StatisticsRepository, artifacts Artifacts, progress ProgressPublisher, metrics *metrics.Metrics, config *config.Config, logger *logger.Logger) *Manager {
	pool := make(chan *pipeline.Pipeline, len(pipelines))
	for _, p := range pipelines {
		pool <- p
	}

	limit := config.StatisticsLimit
	if limit <= 0 {
		limit = 50
	}

	manager := &Manager{
		pipelines:       pool,
		poolSize:        len(pipelines),
		statistics:      statistics,
		artifacts:       artifacts,
		progress:        progress,
		metrics:         metrics,
		validate:        validator.New(),
		logger:          logger,
		timeout:         config.DetectionTimeout,
		statisticsLimit: limit,
	}

	manager.logger.Info("Manager started with %d pipeline(s)", manager.poolSize)
	return manager
}

func (m *Manager) acquire(ctx context.Context) (*pipeline.Pipeline, error) {
	select {
	case p := <-m.pipelines:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) release(p *pipeline.Pipeline) {
	m.pipelines <- p
}

func (m *Manager) log(ctx context.Context) *logger.Logger {
	return m.logger.WithFields(logger.Fields{"request_id": requestctx.GetRequestID(ctx)})
}

// Upload stores r under a timestamped name. Unsupported extensions are rejected
// before anything is written.
func (m *Manager) Upload(ctx context.Context, name string, r io.Reader) (Upload, error) {
	kind := media.Classify(name)
	if kind == media.Unsupported {
		return Upload{}, fmt.Errorf("%w: %s (supported: %v)", model.ErrUnsupportedMediaType, name, media.SupportedExtensions())
	}

	stored, err := m.artifacts.SaveUpload(name, r)
	if err != nil {
		return Upload{}, err
	}

	m.log(ctx).Info("Uploaded %s as %s", name, stored)
	return Upload{Filename: stored, FileType: media.Extension(stored), Kind: kind}, nil
}

// Detect runs the pipeline over an uploaded file. With save set, the result is
// also persisted; a failed save is reported in Detection.SaveError and does not
// fail the call.
func (m *Manager) Detect(ctx context.Context, filename string, save bool) (*Detection, error) {
	input, err := m.artifacts.UploadPath(filename)
	if err != nil {
		return nil, err
	}

	kind := media.Classify(filename)
	if kind == media.Unsupported {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedMediaType, filename)
	}

	output, err := m.artifacts.OutputTarget(media.DeriveOutputName(filename, kind))
	if err != nil {
		return nil, err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	p, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	done := m.metrics.RunStarted(kind.String())

	result, err := p.Run(ctx, input, output, m.publish)
	m.release(p)
	if err != nil {
		done(outcome(err))
		m.log(ctx).Error("Detection on %s failed: %v", filename, err)
		return nil, err
	}
	done("success")

	detection := &Detection{RunResult: result, FileType: media.Extension(filename)}

	location, err := m.artifacts.Publish(ctx, result.OutputFilename)
	if err != nil {
		m.log(ctx).Warning("Mirroring %s failed: %v", result.OutputFilename, err)
	}
	detection.Location = location

	if save {
		metadata := map[string]any{
			"frames":           result.Frames,
			"confidence_floor": p.ConfidenceFloor(),
		}
		if location != "" {
			metadata["location"] = location
		}

		id, err := m.insert(ctx, &model.StatisticsRecord{
			Filename:      filename,
			FileType:      detection.FileType,
			VehicleCounts: result.VehicleCounts,
			OutputPath:    result.OutputFilename,
			Metadata:      metadata,
		})
		detection.RecordID = id
		detection.SaveError = err
	}

	return detection, nil
}

func (m *Manager) publish(event model.FrameProgress) {
	if m.progress != nil {
		m.progress.PublishProgress(event)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrDecode):
		return "decode_error"
	case errors.Is(err, model.ErrStreamWrite):
		return "write_error"
	case errors.Is(err, model.ErrDetector):
		return "detector_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "error"
}

// BestMatch returns the single most confident vehicle in an uploaded image.
func (m *Manager) BestMatch(ctx context.Context, filename string) (model.ResolvedDetection, bool, error) {
	input, err := m.artifacts.UploadPath(filename)
	if err != nil {
		return model.ResolvedDetection{}, false, err
	}

	p, err := m.acquire(ctx)
	if err != nil {
		return model.ResolvedDetection{}, false, err
	}
	defer m.release(p)

	return p.BestMatch(ctx, input)
}

// Save validates and persists a detection outcome reported by a client.
func (m *Manager) Save(ctx context.Context, req dto.SaveRequest) (string, error) {
	if err := m.validate.Struct(req); err != nil {
		return "", err
	}

	return m.insert(ctx, &model.StatisticsRecord{
		Filename:      req.Filename,
		FileType:      media.Extension(req.Filename),
		VehicleCounts: req.VehicleCounts,
		OutputPath:    req.OutputFilename,
		Metadata:      req.Metadata,
	})
}

func (m *Manager) insert(ctx context.Context, record *model.StatisticsRecord) (string, error) {
	record.ProcessedAt = time.Now().UTC()

	id, err := m.statistics.Insert(ctx, record)
	if err != nil {
		m.metrics.StoreError("insert")
		m.log(ctx).Error("Saving statistics for %s failed: %v", record.Filename, err)
		return "", fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	m.log(ctx).Info("Saved statistics %s for %s", id, record.Filename)
	return id, nil
}

// ListRecent returns the newest records. A non-positive limit uses the
// configured default.
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]model.StatisticsRecord, error) {
	if limit <= 0 {
		limit = m.statisticsLimit
	}

	records, err := m.statistics.ListRecent(ctx, limit)
	if err != nil {
		m.metrics.StoreError("list")
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return records, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*model.StatisticsRecord, error) {
	record, err := m.statistics.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			return nil, err
		}
		m.metrics.StoreError("get")
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return record, nil
}

// Cleanup deletes every record and then every stored file. If records cannot be
// deleted no file is touched. If files fail after records succeeded the result
// is a *model.PartialCleanupError.
func (m *Manager) Cleanup(ctx context.Context) (CleanupResult, error) {
	records, err := m.statistics.DeleteAll(ctx)
	if err != nil {
		m.metrics.StoreError("delete_all")
		m.log(ctx).Error("Deleting statistics failed, files left in place: %v", err)
		return CleanupResult{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	files, err := m.artifacts.Clear(ctx)
	result := CleanupResult{RecordsRemoved: records, FilesRemoved: files}
	if err != nil {
		m.log(ctx).Error("Cleanup removed %d records but files failed: %v", records, err)
		return result, &model.PartialCleanupError{RecordsRemoved: records, FilesRemoved: files, Err: err}
	}

	m.log(ctx).Info("Cleanup removed %d records and %d files", records, files)
	return result, nil
}

// OutputPath resolves an annotated artifact for download.
func (m *Manager) OutputPath(filename string) (string, error) {
	return m.artifacts.OutputPath(filename)
}

// PoolSize is the number of pipelines, and so the number of concurrent runs.
func (m *Manager) PoolSize() int {
	return m.poolSize
}
