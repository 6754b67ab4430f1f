package model

import "time"

// StatisticsRecord is a persisted detection outcome. It is never updated in place.
type StatisticsRecord struct {
	ID            string         `json:"id"`
	Filename      string         `json:"filename"`
	FileType      string         `json:"file_type"`
	VehicleCounts Counts         `json:"vehicle_counts"`
	ProcessedAt   time.Time      `json:"processed_at"`
	OutputPath    string         `json:"output_path"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// RunResult is what one pipeline run hands back to its caller.
type RunResult struct {
	Filename       string `json:"filename"`
	OutputFilename string `json:"output_filename"`
	VehicleCounts  Counts `json:"vehicle_counts"`
	Frames         int    `json:"frames"`
}

// FrameProgress is published after every video frame is written.
type FrameProgress struct {
	Filename  string `json:"filename"`
	Frame     int    `json:"frame"`
	Counts    Counts `json:"counts"`
	Aggregate Counts `json:"aggregate"`
	Done      bool   `json:"done"`
}
