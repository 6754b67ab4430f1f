package dto

import "vehiclestats/internal/model"

// SaveRequest is the body of a manual statistics save.
type SaveRequest struct {
	Filename       string         `json:"filename" validate:"required,max=255"`
	OutputFilename string         `json:"output_filename" validate:"required,max=255"`
	VehicleCounts  model.Counts   `json:"vehicle_counts"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
