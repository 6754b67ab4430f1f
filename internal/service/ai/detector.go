package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"vehiclestats/internal/config"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/model"
)

// yoloBoxAttributes is the number of leading rows in a YOLOv8 output that hold
// the box (cx, cy, w, h). The remaining rows are per-class scores.
const yoloBoxAttributes = 4

var errNetNotInitialized = errors.New("detection network not initialized")

// DetectorService wraps one YOLOv8 ONNX network. A gocv Net is not safe for
// concurrent use, so every processing worker owns its own DetectorService.
type DetectorService struct {
	net          gocv.Net
	modelPath    string
	inputSize    int
	nmsThreshold float32
	ready        bool
	logger       *logger.Logger
	mutex        sync.Mutex
}

// NewDetectorService loads the network from cfg.ModelPath.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) (*DetectorService, error) {
	service := &DetectorService{
		modelPath:    cfg.ModelPath,
		inputSize:    cfg.ModelInputSize,
		nmsThreshold: float32(cfg.NMSThreshold),
		logger:       logger,
	}
	if service.inputSize <= 0 {
		service.inputSize = 640
	}

	if err := service.initializeNet(); err != nil {
		return nil, err
	}
	return service, nil
}

// initializeNet loads the ONNX network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	net := gocv.ReadNetFromONNX(s.modelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.ready = true
	s.logger.Info("Detection network initialized from %s (input %dx%d)", s.modelPath, s.inputSize, s.inputSize)
	return nil
}

// Detect runs the network on one BGR frame and returns every box whose best class
// score is at least floor, after non-maximum suppression. Boxes are in frame
// pixel coordinates.
func (s *DetectorService) Detect(ctx context.Context, frame gocv.Mat, floor float64) (model.Detections, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.ready {
		return nil, errNetNotInitialized
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(s.inputSize, s.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	// YOLOv8 output: [1, 4+classes, anchors]
	dims := output.Size()
	if len(dims) != 3 || dims[1] <= yoloBoxAttributes {
		return nil, fmt.Errorf("unexpected network output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	scale := outputScale{
		x: float32(frame.Cols()) / float32(s.inputSize),
		y: float32(frame.Rows()) / float32(s.inputSize),
	}
	candidates := decodeOutput(data, dims[1], dims[2], scale, float32(floor))
	if len(candidates) == 0 {
		return model.Detections{}, nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.box
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(boxes, scores, float32(floor), s.nmsThreshold)

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	detections := make(model.Detections, 0, len(keep))
	for _, idx := range keep {
		c := candidates[idx]
		detections = append(detections, model.DetectionBox{
			ClassID:    c.classID,
			Box:        c.box.Intersect(bounds),
			Confidence: float64(c.score),
		})
	}
	return detections, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.ready {
		return nil
	}
	s.ready = false
	return s.net.Close()
}

type outputScale struct {
	x, y float32
}

type candidate struct {
	classID int
	score   float32
	box     image.Rectangle
}

// decodeOutput reads a row-major [attrs x anchors] YOLOv8 tensor. Column i holds
// cx, cy, w, h followed by one score per class.
func decodeOutput(data []float32, attrs, anchors int, scale outputScale, floor float32) []candidate {
	if len(data) < attrs*anchors {
		return nil
	}

	var candidates []candidate
	for i := 0; i < anchors; i++ {
		bestClass := -1
		var bestScore float32
		for c := yoloBoxAttributes; c < attrs; c++ {
			if score := data[c*anchors+i]; bestClass < 0 || score > bestScore {
				bestClass = c - yoloBoxAttributes
				bestScore = score
			}
		}
		if bestScore < floor {
			continue
		}

		cx := data[0*anchors+i] * scale.x
		cy := data[1*anchors+i] * scale.y
		w := data[2*anchors+i] * scale.x
		h := data[3*anchors+i] * scale.y
		x1 := int(cx - w/2)
		y1 := int(cy - h/2)

		candidates = append(candidates, candidate{
			classID: bestClass,
			score:   bestScore,
			box:     image.Rect(x1, y1, x1+int(w), y1+int(h)),
		})
	}
	return candidates
}
