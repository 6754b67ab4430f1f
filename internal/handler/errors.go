package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"vehiclestats/internal/dto"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/model"
)

// errBadRequest marks malformed client input that never reached the service.
var errBadRequest = errors.New("bad request")

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrUnsupportedMediaType),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrFileNotFound),
		errors.Is(err, model.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError logs err and writes it as a JSON error body. Validation failures
// list the offending fields.
func writeError(w http.ResponseWriter, logger *logger.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	} else {
		logger.Warning("Request rejected: %v", err)
	}

	body := dto.ErrorResponse{Success: false, Error: err.Error()}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make(map[string]string, len(validationErrs))
		for _, fe := range validationErrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		body.Error = "validation failed"
		body.Details = fields
	}

	writeJSON(w, status, body)
}
