package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"vehiclestats/internal/logger"
	"vehiclestats/internal/model"
)

// scriptedDetector returns frames[i] on its i-th call.
type scriptedDetector struct {
	frames []model.Detections
	err    error
	calls  int
	floors []float64
}

func (d *scriptedDetector) Detect(ctx context.Context, frame gocv.Mat, floor float64) (model.Detections, error) {
	d.floors = append(d.floors, floor)
	if d.err != nil {
		return nil, d.err
	}
	i := d.calls
	d.calls++
	if i < len(d.frames) {
		return d.frames[i], nil
	}
	return model.Detections{}, nil
}

func cars(n int, confidence float64) model.Detections {
	dets := make(model.Detections, n)
	for i := range dets {
		dets[i] = model.DetectionBox{
			ClassID:    2,
			Box:        image.Rect(20+i*30, 50, 40+i*30, 80),
			Confidence: confidence,
		}
	}
	return dets
}

func newFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 120, 160, gocv.MatTypeCV8UC3)
}

// fakeVideo serves a fixed number of frames and records what is written.
type fakeVideo struct {
	frames      int
	props       VideoProperties
	openErr     error
	createErr   error
	writeErrAt  int
	read        int
	written     int
	sourceClose int
	sinkClose   int
	createdWith VideoProperties
}

func (v *fakeVideo) ReadImage(path string) (gocv.Mat, error) {
	return gocv.Mat{}, errors.New("not an image codec")
}

func (v *fakeVideo) WriteImage(path string, frame gocv.Mat) error {
	return errors.New("not an image codec")
}

func (v *fakeVideo) OpenVideo(path string) (VideoSource, error) {
	if v.openErr != nil {
		return nil, v.openErr
	}
	return &fakeSource{video: v}, nil
}

func (v *fakeVideo) CreateVideo(path string, props VideoProperties) (VideoSink, error) {
	if v.createErr != nil {
		return nil, v.createErr
	}
	v.createdWith = props
	return &fakeSink{video: v}, nil
}

type fakeSource struct {
	video *fakeVideo
}

func (s *fakeSource) Read(frame *gocv.Mat) bool {
	if s.video.read >= s.video.frames {
		return false
	}
	s.video.read++
	src := newFrame()
	defer src.Close()
	return src.CopyTo(frame) == nil
}

func (s *fakeSource) Properties() VideoProperties { return s.video.props }

func (s *fakeSource) Close() error {
	s.video.sourceClose++
	return nil
}

type fakeSink struct {
	video *fakeVideo
}

func (s *fakeSink) Write(frame gocv.Mat) error {
	if s.video.writeErrAt > 0 && s.video.written+1 == s.video.writeErrAt {
		return errors.New("disk full")
	}
	s.video.written++
	return nil
}

func (s *fakeSink) Close() error {
	s.video.sinkClose++
	return nil
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	frame := newFrame()
	defer frame.Close()

	path := filepath.Join(dir, name)
	require.True(t, gocv.IMWrite(path, frame))
	return path
}

func TestRun_SingleImage(t *testing.T) {
	dir := t.TempDir()
	input := writeImage(t, dir, "street.jpg")
	output := filepath.Join(dir, "detected_street.jpg")

	detector := &scriptedDetector{frames: []model.Detections{cars(1, 0.9)}}
	p := New(detector, NewCodec(), 0.3, nil, logger.NewNop())

	result, err := p.Run(context.Background(), input, output, nil)

	require.NoError(t, err)
	assert.Equal(t, model.Counts{Motorbikes: 0, Cars: 1, Trucks: 0}, result.VehicleCounts)
	assert.Equal(t, "detected_street.jpg", result.OutputFilename)
	assert.Equal(t, 1, result.Frames)
	assert.FileExists(t, output)
}

func TestRun_ImageFloorAppliedAgain(t *testing.T) {
	dir := t.TempDir()
	input := writeImage(t, dir, "street.png")
	output := filepath.Join(dir, "detected_street.png")

	dets := append(cars(2, 0.9), cars(3, 0.1)...)
	detector := &scriptedDetector{frames: []model.Detections{dets}}
	p := New(detector, NewCodec(), 0.3, nil, logger.NewNop())

	result, err := p.Run(context.Background(), input, output, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, result.VehicleCounts.Cars)
	assert.Equal(t, []float64{0.3}, detector.floors)
}

func TestRun_CorruptImage(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(input, []byte("definitely not a jpeg"), 0644))
	output := filepath.Join(dir, "detected_broken.jpg")

	detector := &scriptedDetector{}
	p := New(detector, NewCodec(), 0.3, nil, logger.NewNop())

	_, err := p.Run(context.Background(), input, output, nil)

	assert.ErrorIs(t, err, model.ErrDecode)
	assert.NoFileExists(t, output)
	assert.Zero(t, detector.calls)
}

func TestRun_UnsupportedMedia(t *testing.T) {
	p := New(&scriptedDetector{}, NewCodec(), 0.3, nil, logger.NewNop())

	_, err := p.Run(context.Background(), "notes.txt", "detected_notes.txt", nil)

	assert.ErrorIs(t, err, model.ErrUnsupportedMediaType)
}

func TestRun_VideoAggregatesPeak(t *testing.T) {
	video := &fakeVideo{frames: 3, props: VideoProperties{FPS: 25, Width: 160, Height: 120}}
	detector := &scriptedDetector{frames: []model.Detections{cars(1, 0.9), cars(3, 0.8), cars(2, 0.7)}}
	p := New(detector, video, 0.3, nil, logger.NewNop())

	var events []model.FrameProgress
	result, err := p.Run(context.Background(), "clip.AVI", "detected_clip.mp4", func(e model.FrameProgress) {
		events = append(events, e)
	})

	require.NoError(t, err)
	assert.Equal(t, model.Counts{Cars: 3}, result.VehicleCounts)
	assert.Equal(t, 3, result.Frames)
	assert.Equal(t, 3, video.written)
	assert.Equal(t, 1, video.sourceClose)
	assert.Equal(t, 1, video.sinkClose)
	assert.Equal(t, VideoProperties{FPS: 25, Width: 160, Height: 120}, video.createdWith)

	require.Len(t, events, 4)
	assert.Equal(t, []int{1, 3, 2}, []int{events[0].Counts.Cars, events[1].Counts.Cars, events[2].Counts.Cars})
	assert.Equal(t, []int{1, 3, 3}, []int{events[0].Aggregate.Cars, events[1].Aggregate.Cars, events[2].Aggregate.Cars})
	assert.True(t, events[3].Done)
	assert.Equal(t, model.Counts{Cars: 3}, events[3].Aggregate)
}

func TestRun_VideoDefaultsFrameRate(t *testing.T) {
	video := &fakeVideo{frames: 1, props: VideoProperties{FPS: 0, Width: 160, Height: 120}}
	p := New(&scriptedDetector{}, video, 0.3, nil, logger.NewNop())

	_, err := p.Run(context.Background(), "clip.mov", "detected_clip.mp4", nil)

	require.NoError(t, err)
	assert.Equal(t, 30.0, video.createdWith.FPS)
}

func TestRun_VideoEmptySource(t *testing.T) {
	video := &fakeVideo{frames: 0, props: VideoProperties{FPS: 30, Width: 160, Height: 120}}
	p := New(&scriptedDetector{}, video, 0.3, nil, logger.NewNop())

	result, err := p.Run(context.Background(), "empty.mp4", "detected_empty.mp4", nil)

	require.NoError(t, err)
	assert.Equal(t, model.Counts{}, result.VehicleCounts)
	assert.Zero(t, result.Frames)
}

func TestRun_VideoOpenFailure(t *testing.T) {
	video := &fakeVideo{openErr: errors.New("no such file")}
	p := New(&scriptedDetector{}, video, 0.3, nil, logger.NewNop())

	_, err := p.Run(context.Background(), "clip.mp4", "detected_clip.mp4", nil)

	assert.ErrorIs(t, err, model.ErrStreamOpen)
	assert.ErrorIs(t, err, model.ErrDecode)
}

func TestRun_VideoWriteFailure(t *testing.T) {
	video := &fakeVideo{frames: 5, writeErrAt: 3, props: VideoProperties{FPS: 30, Width: 160, Height: 120}}
	p := New(&scriptedDetector{}, video, 0.3, nil, logger.NewNop())

	result, err := p.Run(context.Background(), "clip.mp4", "detected_clip.mp4", nil)

	assert.ErrorIs(t, err, model.ErrStreamWrite)
	assert.Equal(t, 2, result.Frames)
	assert.Equal(t, 1, video.sourceClose)
	assert.Equal(t, 1, video.sinkClose)
}

func TestRun_DetectorFailure(t *testing.T) {
	video := &fakeVideo{frames: 3, props: VideoProperties{FPS: 30, Width: 160, Height: 120}}
	detector := &scriptedDetector{err: errors.New("inference failed")}
	p := New(detector, video, 0.3, nil, logger.NewNop())

	_, err := p.Run(context.Background(), "clip.mp4", "detected_clip.mp4", nil)

	assert.ErrorIs(t, err, model.ErrDetector)
	assert.Len(t, detector.floors, 1)
	assert.Zero(t, video.written)
	assert.Equal(t, 1, video.sinkClose)
}

func TestRun_VideoCancelled(t *testing.T) {
	video := &fakeVideo{frames: 10, props: VideoProperties{FPS: 30, Width: 160, Height: 120}}
	p := New(&scriptedDetector{}, video, 0.3, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "clip.mp4", "detected_clip.mp4", nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, video.read)
}

func TestFrameStream_PullsLazily(t *testing.T) {
	video := &fakeVideo{frames: 4, props: VideoProperties{FPS: 30, Width: 160, Height: 120}}
	detector := &scriptedDetector{frames: []model.Detections{cars(2, 0.9), cars(1, 0.9)}}
	p := New(detector, video, 0.3, nil, logger.NewNop())

	stream, err := p.OpenStream("clip.mp4", "detected_clip.mp4")
	require.NoError(t, err)
	defer stream.Close()

	ctx := context.Background()
	require.True(t, stream.Next(ctx))
	assert.Equal(t, 0, stream.Frame().Index)
	assert.Equal(t, 1, video.read)

	require.True(t, stream.Next(ctx))
	assert.Equal(t, 1, stream.Frame().Counts.Cars)
	assert.Equal(t, 2, stream.Aggregate().Cars)
	frame := stream.Frame()
	assert.False(t, frame.Image.Empty())

	require.NoError(t, stream.Close())
	assert.False(t, stream.Next(ctx))
	assert.Equal(t, 2, video.read)
	assert.NoError(t, stream.Err())
}

func TestBestMatch(t *testing.T) {
	dir := t.TempDir()
	input := writeImage(t, dir, "parking.jpg")

	dets := model.Detections{
		{ClassID: 0, Box: image.Rect(0, 0, 10, 10), Confidence: 0.99},
		{ClassID: 3, Box: image.Rect(10, 10, 30, 30), Confidence: 0.7},
		{ClassID: 5, Box: image.Rect(40, 40, 90, 90), Confidence: 0.8},
	}
	p := New(&scriptedDetector{frames: []model.Detections{dets}}, NewCodec(), 0.3, nil, logger.NewNop())

	best, ok, err := p.BestMatch(context.Background(), input)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Bus, best.Type)
	assert.Equal(t, model.Trucks, best.Category)
	assert.NoFileExists(t, filepath.Join(dir, "detected_parking.jpg"))
}

func TestBestMatch_RejectsVideo(t *testing.T) {
	p := New(&scriptedDetector{}, NewCodec(), 0.3, nil, logger.NewNop())

	_, _, err := p.BestMatch(context.Background(), "clip.mp4")

	assert.ErrorIs(t, err, model.ErrUnsupportedMediaType)
}
