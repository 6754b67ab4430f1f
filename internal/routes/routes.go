package routes

import (
	"net/http"

	"vehiclestats/internal/config"
	"vehiclestats/internal/handler"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/metrics"
	"vehiclestats/internal/middleware"
)

// SetupRoutes registers the API, static artifact serving and operational
// endpoints, and wraps the mux with request ID, logging and recovery middleware.
func SetupRoutes(svc handler.VehicleService, hub handler.ProgressHub, workers int, m *metrics.Metrics, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Stored uploads and annotated outputs
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDirectory))))
	mux.Handle("GET /outputs/", http.StripPrefix("/outputs/", http.FileServer(http.Dir(cfg.OutputDirectory))))

	// API endpoints
	mux.HandleFunc("POST /api/vehicles/upload", handler.UploadHandler(svc, cfg, logger))
	mux.HandleFunc("POST /api/vehicles/detect/{filename}", handler.DetectHandler(svc, logger))
	mux.HandleFunc("POST /api/vehicles/best-match/{filename}", handler.BestMatchHandler(svc, logger))
	mux.HandleFunc("POST /api/vehicles/save", handler.SaveHandler(svc, logger))
	mux.HandleFunc("GET /api/vehicles/download/{filename}", handler.DownloadHandler(svc, logger))
	mux.HandleFunc("GET /api/vehicles/statistics", handler.ListStatisticsHandler(svc, logger))
	mux.HandleFunc("GET /api/vehicles/statistics/{id}", handler.GetStatisticsHandler(svc, logger))
	mux.HandleFunc("DELETE /api/vehicles/cleanup", handler.CleanupHandler(svc, logger))
	mux.HandleFunc("GET /api/vehicles/progress", handler.ProgressWebsocketHandler(hub, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(logger))
	mux.HandleFunc("DELETE /logs/{level}", handler.ClearLogsHandler(logger))

	mux.HandleFunc("GET /health", handler.HealthHandler(workers))
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /{$}", handler.RootHandler())

	// Apply middleware
	return middleware.RequestID(middleware.Recover(logger)(middleware.Logging(logger)(mux)))
}
