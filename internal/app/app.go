package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vehiclestats/internal/config"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/metrics"
	"vehiclestats/internal/repository/sqlite"
	"vehiclestats/internal/routes"
	"vehiclestats/internal/service"
	"vehiclestats/internal/service/ai"
	"vehiclestats/internal/service/pipeline"
	"vehiclestats/internal/service/storage"
	"vehiclestats/internal/service/websocket"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config           *config.Config
	logger           *logger.Logger
	db               *sqlite.DB
	detectorServices []*ai.DetectorService
	hubService       *websocket.HubService
	manager          *service.Manager
	metrics          *metrics.Metrics
}

func NewApp() (*App, error) {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	m := metrics.New()

	db, err := sqlite.New(cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open statistics database: %w", err)
	}
	statistics := sqlite.NewStatisticsRepository(db, log)

	var mirror storage.Mirror
	s3Mirror, err := storage.NewS3Mirror(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if s3Mirror != nil {
		mirror = s3Mirror
		log.Info("Mirroring annotated artifacts to s3://%s", cfg.S3Bucket)
	}

	artifacts, err := storage.NewArtifactStore(cfg, mirror, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	// One network per worker; a loaded net is not shared between goroutines.
	codec := pipeline.NewCodec()
	detectors := make([]*ai.DetectorService, 0, cfg.ProcessingWorkers)
	pipelines := make([]*pipeline.Pipeline, 0, cfg.ProcessingWorkers)
	for i := 0; i < cfg.ProcessingWorkers; i++ {
		ds, err := ai.NewDetectorService(cfg, log.WithFields(logger.Fields{"worker": i}))
		if err != nil {
			closeDetectors(detectors)
			db.Close()
			return nil, fmt.Errorf("failed to load detector %d: %w", i, err)
		}
		detectors = append(detectors, ds)
		pipelines = append(pipelines, pipeline.New(ds, codec, cfg.ConfidenceFloor, m, log))
	}

	hub := websocket.NewHubService(m, log)
	mng := service.NewManager(pipelines, statistics, artifacts, hub, m, cfg, log)

	return &App{
		config:           cfg,
		logger:           log,
		db:               db,
		detectorServices: detectors,
		hubService:       hub,
		manager:          mng,
		metrics:          m,
	}, nil
}

// Run serves HTTP until SIGINT or SIGTERM, then drains in-flight requests and
// releases the detectors and the database.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.close()

	go a.hubService.Run(ctx)

	router := routes.SetupRoutes(a.manager, a.hubService, a.manager.PoolSize(), a.metrics, a.config, a.logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.WithFields(logger.Fields{
		"port":     a.config.Port,
		"model":    a.config.ModelPath,
		"workers":  a.config.ProcessingWorkers,
		"database": a.config.DatabasePath,
		"uploads":  a.config.UploadDirectory,
		"outputs":  a.config.OutputDirectory,
	}).Info("Vehicle statistics server listening on http://localhost:%d", a.config.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (a *App) close() {
	closeDetectors(a.detectorServices)
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database: %v", err)
	}
}

func closeDetectors(detectors []*ai.DetectorService) {
	for _, ds := range detectors {
		ds.Close()
	}
}
