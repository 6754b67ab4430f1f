package handler

import (
	"net/http"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// RootHandler describes the API.
func RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Vehicle Statistics API",
			"version": Version,
			"endpoints": map[string]string{
				"upload":     "/api/vehicles/upload",
				"detect":     "/api/vehicles/detect/{filename}",
				"best_match": "/api/vehicles/best-match/{filename}",
				"save":       "/api/vehicles/save",
				"download":   "/api/vehicles/download/{filename}",
				"statistics": "/api/vehicles/statistics",
				"cleanup":    "/api/vehicles/cleanup",
				"progress":   "/api/vehicles/progress",
			},
		})
	}
}

// HealthHandler reports liveness and how many runs can proceed in parallel.
func HealthHandler(workers int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"workers": workers,
		})
	}
}
