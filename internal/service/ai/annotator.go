package ai

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"vehiclestats/internal/model"
)

const (
	boxThickness     = 2
	labelScale       = 0.5
	labelOffsetY     = 10
	summaryScale     = 0.8
	summaryOriginX   = 10
	summaryOriginY   = 30
	summaryLineSpace = 30
)

var (
	summaryColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}

	categoryColors = map[model.Category]color.RGBA{
		model.Motorbikes: {R: 0, G: 255, B: 0, A: 0},
		model.Cars:       {R: 0, G: 0, B: 255, A: 0},
		model.Trucks:     {R: 255, G: 0, B: 0, A: 0},
	}
)

// CategoryColor is the box and label colour used for c.
func CategoryColor(c model.Category) color.RGBA {
	return categoryColors[c]
}

// Annotator draws detections and the per-category summary onto frames. It holds
// no state, so output depends only on its inputs.
type Annotator struct{}

func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Annotate draws every detection and the summary block onto frame in place.
func (a *Annotator) Annotate(frame *gocv.Mat, detections []model.ResolvedDetection, counts model.Counts) error {
	if frame == nil || frame.Empty() {
		return fmt.Errorf("cannot annotate empty frame")
	}

	for _, det := range detections {
		c := CategoryColor(det.Category)

		if err := gocv.Rectangle(frame, det.Box, c, boxThickness); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s: %.2f", det.Type, det.Confidence)
		pt := image.Pt(det.Box.Min.X, det.Box.Min.Y-labelOffsetY)
		if err := gocv.PutText(frame, label, pt, gocv.FontHersheySimplex, labelScale, c, boxThickness); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}

	for i, category := range model.Categories() {
		line := fmt.Sprintf("%s: %d", category.Title(), counts.Get(category))
		pt := image.Pt(summaryOriginX, summaryOriginY+i*summaryLineSpace)
		if err := gocv.PutText(frame, line, pt, gocv.FontHersheySimplex, summaryScale, summaryColor, boxThickness); err != nil {
			return fmt.Errorf("failed to draw summary: %w", err)
		}
	}
	return nil
}
