package dto

import "vehiclestats/internal/model"

type UploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	Message  string `json:"message"`
}

type DetectResponse struct {
	Success        bool         `json:"success"`
	Filename       string       `json:"filename"`
	OutputFilename string       `json:"output_filename"`
	VehicleCounts  model.Counts `json:"vehicle_counts"`
	Frames         int          `json:"frames"`
	Message        string       `json:"message"`

	// Only set when saving was requested.
	ID        string `json:"id,omitempty"`
	Saved     *bool  `json:"saved,omitempty"`
	SaveError string `json:"save_error,omitempty"`
}

type BestMatchResponse struct {
	Success    bool    `json:"success"`
	Filename   string  `json:"filename"`
	Found      bool    `json:"found"`
	Type       string  `json:"type,omitempty"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Box        []int   `json:"box,omitempty"` // x1, y1, x2, y2
	Message    string  `json:"message"`
}

type SaveResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

type StatisticsListResponse struct {
	Success bool                     `json:"success"`
	Data    []model.StatisticsRecord `json:"data"`
}

type StatisticsResponse struct {
	Success bool                    `json:"success"`
	Data    *model.StatisticsRecord `json:"data"`
}

type CleanupResponse struct {
	Success        bool   `json:"success"`
	RecordsRemoved int64  `json:"records_removed"`
	FilesRemoved   int    `json:"files_removed"`
	FailedStep     string `json:"failed_step,omitempty"`
	Message        string `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}
