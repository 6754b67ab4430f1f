package pipeline

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// VideoFourCC is the codec every annotated video is written with.
const VideoFourCC = "mp4v"

// defaultFPS is used when a source does not report a frame rate.
const defaultFPS = 30.0

// VideoProperties describe a video stream. Sinks are created with the
// properties of their source.
type VideoProperties struct {
	FPS    float64
	Width  int
	Height int
}

// VideoSource yields decoded frames until it is exhausted.
type VideoSource interface {
	Read(frame *gocv.Mat) bool
	Properties() VideoProperties
	Close() error
}

// VideoSink receives annotated frames in order.
type VideoSink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// Codec reads and writes media files.
type Codec interface {
	ReadImage(path string) (gocv.Mat, error)
	WriteImage(path string, frame gocv.Mat) error
	OpenVideo(path string) (VideoSource, error)
	CreateVideo(path string, props VideoProperties) (VideoSink, error)
}

// GocvCodec is the OpenCV-backed Codec.
type GocvCodec struct{}

func NewCodec() *GocvCodec {
	return &GocvCodec{}
}

// ReadImage decodes the file at path as a BGR image. On error the returned Mat
// must not be used.
func (c *GocvCodec) ReadImage(path string) (gocv.Mat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to read image: %w", err)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errors.New("decoded image is empty")
	}
	return mat, nil
}

func (c *GocvCodec) WriteImage(path string, frame gocv.Mat) error {
	if !gocv.IMWrite(path, frame) {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}

func (c *GocvCodec) OpenVideo(path string) (VideoSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("cannot open video %s", path)
	}
	return &captureSource{capture: capture}, nil
}

func (c *GocvCodec) CreateVideo(path string, props VideoProperties) (VideoSink, error) {
	writer, err := gocv.VideoWriterFile(path, VideoFourCC, props.FPS, props.Width, props.Height, true)
	if err != nil {
		return nil, err
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("cannot open video writer %s", path)
	}
	return &writerSink{writer: writer}, nil
}

type captureSource struct {
	capture *gocv.VideoCapture
}

func (s *captureSource) Read(frame *gocv.Mat) bool {
	return s.capture.Read(frame)
}

func (s *captureSource) Properties() VideoProperties {
	return VideoProperties{
		FPS:    s.capture.Get(gocv.VideoCaptureFPS),
		Width:  int(s.capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(s.capture.Get(gocv.VideoCaptureFrameHeight)),
	}
}

func (s *captureSource) Close() error {
	return s.capture.Close()
}

type writerSink struct {
	writer *gocv.VideoWriter
}

func (s *writerSink) Write(frame gocv.Mat) error {
	return s.writer.Write(frame)
}

func (s *writerSink) Close() error {
	return s.writer.Close()
}
