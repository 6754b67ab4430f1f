package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"vehiclestats/internal/config"
	"vehiclestats/internal/dto"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/model"
	"vehiclestats/internal/requestctx"
	"vehiclestats/internal/service"
)

// VehicleService is what the vehicle handlers need from service.Manager.
type VehicleService interface {
	Upload(ctx context.Context, name string, r io.Reader) (service.Upload, error)
	Detect(ctx context.Context, filename string, save bool) (*service.Detection, error)
	BestMatch(ctx context.Context, filename string) (model.ResolvedDetection, bool, error)
	Save(ctx context.Context, req dto.SaveRequest) (string, error)
	ListRecent(ctx context.Context, limit int) ([]model.StatisticsRecord, error)
	Get(ctx context.Context, id string) (*model.StatisticsRecord, error)
	Cleanup(ctx context.Context) (service.CleanupResult, error)
	OutputPath(filename string) (string, error)
}

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

func requestLogger(r *http.Request, log *logger.Logger) *logger.Logger {
	return log.WithFields(logger.Fields{"request_id": requestctx.GetRequestID(r.Context())})
}

// UploadHandler stores the multipart "file" field in the upload directory.
func UploadHandler(svc VehicleService, cfg *config.Config, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)

		if cfg.MaxUploadSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize<<20)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "upload exceeds size limit"})
				return
			}
			writeError(w, log, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, log, fmt.Errorf("%w: missing file field: %v", errBadRequest, err))
			return
		}
		defer file.Close()

		upload, err := svc.Upload(r.Context(), header.Filename, file)
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, dto.UploadResponse{
			Success:  true,
			Filename: upload.Filename,
			FileType: upload.FileType,
			Message:  "File uploaded successfully",
		})
	}
}

// DetectHandler runs detection on an uploaded file. ?save=true also persists the
// result; a failed save is reported in the body and does not fail the request.
func DetectHandler(svc VehicleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)
		save, _ := strconv.ParseBool(r.URL.Query().Get("save"))

		detection, err := svc.Detect(r.Context(), r.PathValue("filename"), save)
		if err != nil {
			writeError(w, log, err)
			return
		}

		resp := dto.DetectResponse{
			Success:        true,
			Filename:       detection.Filename,
			OutputFilename: detection.OutputFilename,
			VehicleCounts:  detection.VehicleCounts,
			Frames:         detection.Frames,
			Message:        "Detection completed successfully",
		}
		if save {
			saved := detection.SaveError == nil
			resp.Saved = &saved
			resp.ID = detection.RecordID
			if !saved {
				resp.SaveError = detection.SaveError.Error()
				resp.Message = "Detection completed, statistics not saved"
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// BestMatchHandler returns the single most confident vehicle in an uploaded image.
func BestMatchHandler(svc VehicleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)
		filename := r.PathValue("filename")

		best, found, err := svc.BestMatch(r.Context(), filename)
		if err != nil {
			writeError(w, log, err)
			return
		}

		resp := dto.BestMatchResponse{Success: true, Filename: filename, Found: found, Message: "No vehicle detected"}
		if found {
			resp.Type = string(best.Type)
			resp.Category = best.Category.String()
			resp.Confidence = best.Confidence
			resp.Box = []int{best.Box.Min.X, best.Box.Min.Y, best.Box.Max.X, best.Box.Max.Y}
			resp.Message = "Best match found"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// SaveHandler persists a detection result sent by the client.
func SaveHandler(svc VehicleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)

		var req dto.SaveRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, log, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
			return
		}

		id, err := svc.Save(r.Context(), req)
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, dto.SaveResponse{Success: true, ID: id, Message: "Statistics saved to database"})
	}
}

// DownloadHandler serves an annotated artifact as an attachment.
func DownloadHandler(svc VehicleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)
		filename := r.PathValue("filename")

		path, err := svc.OutputPath(filename)
		if err != nil {
			writeError(w, log, err)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		http.ServeFile(w, r, path)
	}
}

// ListStatisticsHandler lists the newest records; ?limit overrides the default.
func ListStatisticsHandler(svc VehicleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)
		limit := atoiDefault(r.URL.Query().Get("limit"), 0)

		records, err := svc.ListRecent(r.Context(), limit)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if records == nil {
			records = []model.StatisticsRecord{}
		}

		writeJSON(w, http.StatusOK, dto.StatisticsListResponse{Success: true, Data: records})
	}
}

func GetStatisticsHandler(svc VehicleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)

		record, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, dto.StatisticsResponse{Success: true, Data: record})
	}
}

// CleanupHandler removes every record and then every stored file. A failure
// after records were removed is reported as 207 with both counts.
func CleanupHandler(svc VehicleService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, log)

		result, err := svc.Cleanup(r.Context())
		if err != nil {
			var partial *model.PartialCleanupError
			if errors.As(err, &partial) {
				log.Error("Cleanup partially failed: %v", err)
				writeJSON(w, http.StatusMultiStatus, dto.CleanupResponse{
					Success:        false,
					RecordsRemoved: partial.RecordsRemoved,
					FilesRemoved:   partial.FilesRemoved,
					FailedStep:     "files",
					Message:        partial.Err.Error(),
				})
				return
			}

			log.Error("Cleanup failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, dto.CleanupResponse{
				Success:    false,
				FailedStep: "records",
				Message:    err.Error(),
			})
			return
		}

		writeJSON(w, http.StatusOK, dto.CleanupResponse{
			Success:        true,
			RecordsRemoved: result.RecordsRemoved,
			FilesRemoved:   result.FilesRemoved,
			Message:        "All statistics and temporary files cleaned up",
		})
	}
}

// atoiDefault parses a positive integer, falling back to def.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
