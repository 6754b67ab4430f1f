// Package pipeline turns one input file into an annotated artifact and the
// aggregate vehicle counts of that file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"

	"vehiclestats/internal/logger"
	"vehiclestats/internal/metrics"
	"vehiclestats/internal/model"
	"vehiclestats/internal/service/ai"
	"vehiclestats/internal/service/media"
	"vehiclestats/internal/service/vehicle"
)

// Detector finds objects in a single frame. Implementations need not be safe for
// concurrent use.
type Detector interface {
	Detect(ctx context.Context, frame gocv.Mat, floor float64) (model.Detections, error)
}

// ProgressFunc receives one event per written video frame and a final event
// with Done set.
type ProgressFunc func(model.FrameProgress)

// Pipeline runs detection over images and videos. One Pipeline processes one
// file at a time.
type Pipeline struct {
	detector  Detector
	annotator *ai.Annotator
	codec     Codec
	floor     float64
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func New(detector Detector, codec Codec, floor float64, metrics *metrics.Metrics, logger *logger.Logger) *Pipeline {
	return &Pipeline{
		detector:  detector,
		annotator: ai.NewAnnotator(),
		codec:     codec,
		floor:     floor,
		metrics:   metrics,
		logger:    logger,
	}
}

// ConfidenceFloor is the threshold applied to every frame of every run.
func (p *Pipeline) ConfidenceFloor() float64 {
	return p.floor
}

// Run processes input and writes the annotated result to output. The returned
// counts are the frame counts for an image and the per-category peak for a video.
func (p *Pipeline) Run(ctx context.Context, input, output string, progress ProgressFunc) (model.RunResult, error) {
	result := model.RunResult{
		Filename:       filepath.Base(input),
		OutputFilename: filepath.Base(output),
	}

	switch kind := media.Classify(input); kind {
	case media.Image:
		counts, err := p.runImage(ctx, input, output)
		if err != nil {
			return result, err
		}
		result.VehicleCounts = counts
		result.Frames = 1
	case media.Video:
		counts, frames, err := p.runVideo(ctx, input, output, progress)
		result.Frames = frames
		if err != nil {
			return result, err
		}
		result.VehicleCounts = counts
	default:
		return result, fmt.Errorf("%w: %s", model.ErrUnsupportedMediaType, result.Filename)
	}

	return result, nil
}

func (p *Pipeline) runImage(ctx context.Context, input, output string) (model.Counts, error) {
	frame, err := p.codec.ReadImage(input)
	if err != nil {
		return model.Counts{}, fmt.Errorf("%w: %s: %v", model.ErrDecode, filepath.Base(input), err)
	}
	defer frame.Close()

	counts, err := p.processFrame(ctx, &frame)
	if err != nil {
		return model.Counts{}, err
	}

	if err := p.codec.WriteImage(output, frame); err != nil {
		return model.Counts{}, fmt.Errorf("%w: %v", model.ErrStreamWrite, err)
	}

	p.logger.Info("Processed image %s: %d motorbikes, %d cars, %d trucks",
		filepath.Base(input), counts.Motorbikes, counts.Cars, counts.Trucks)
	return counts, nil
}

func (p *Pipeline) runVideo(ctx context.Context, input, output string, progress ProgressFunc) (model.Counts, int, error) {
	stream, err := p.OpenStream(input, output)
	if err != nil {
		return model.Counts{}, 0, err
	}

	name := filepath.Base(input)
	props := stream.Properties()
	p.logger.Info("Processing video %s (%.2f fps, %dx%d)", name, props.FPS, props.Width, props.Height)

	for stream.Next(ctx) {
		frame := stream.Frame()
		if progress != nil {
			progress(model.FrameProgress{
				Filename:  name,
				Frame:     frame.Index,
				Counts:    frame.Counts,
				Aggregate: stream.Aggregate(),
			})
		}
	}

	closeErr := stream.Close()
	if err := stream.Err(); err != nil {
		return model.Counts{}, stream.Frames(), err
	}
	if closeErr != nil {
		return model.Counts{}, stream.Frames(), closeErr
	}

	aggregate := stream.Aggregate()
	if progress != nil {
		progress(model.FrameProgress{
			Filename:  name,
			Frame:     stream.Frames() - 1,
			Aggregate: aggregate,
			Done:      true,
		})
	}

	p.logger.Info("Processed video %s: %d frames, peak %d motorbikes, %d cars, %d trucks",
		name, stream.Frames(), aggregate.Motorbikes, aggregate.Cars, aggregate.Trucks)
	return aggregate, stream.Frames(), nil
}

// processFrame detects, maps and annotates one frame in place and returns the
// frame's own counts.
func (p *Pipeline) processFrame(ctx context.Context, frame *gocv.Mat) (model.Counts, error) {
	detections, err := p.detector.Detect(ctx, *frame, p.floor)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return model.Counts{}, err
		}
		return model.Counts{}, fmt.Errorf("%w: %v", model.ErrDetector, err)
	}

	resolved := vehicle.Resolve(detections.AboveFloor(p.floor))
	counts := vehicle.TallyResolved(resolved)

	if err := p.annotator.Annotate(frame, resolved, counts); err != nil {
		return model.Counts{}, fmt.Errorf("annotate frame: %w", err)
	}

	p.metrics.FrameProcessed(counts)
	return counts, nil
}

// BestMatch decodes an image and returns its single highest-confidence vehicle
// detection. Nothing is annotated, written or aggregated.
func (p *Pipeline) BestMatch(ctx context.Context, input string) (model.ResolvedDetection, bool, error) {
	if media.Classify(input) != media.Image {
		return model.ResolvedDetection{}, false, fmt.Errorf("%w: best match requires an image: %s",
			model.ErrUnsupportedMediaType, filepath.Base(input))
	}

	frame, err := p.codec.ReadImage(input)
	if err != nil {
		return model.ResolvedDetection{}, false, fmt.Errorf("%w: %s: %v", model.ErrDecode, filepath.Base(input), err)
	}
	defer frame.Close()

	detections, err := p.detector.Detect(ctx, frame, p.floor)
	if err != nil {
		return model.ResolvedDetection{}, false, fmt.Errorf("%w: %v", model.ErrDetector, err)
	}

	best, ok := vehicle.BestMatch(detections.AboveFloor(p.floor))
	return best, ok, nil
}
