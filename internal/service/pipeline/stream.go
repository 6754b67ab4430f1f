package pipeline

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"vehiclestats/internal/model"
	"vehiclestats/internal/service/vehicle"
)

// Frame is the most recent annotated frame of a FrameStream. Image is owned by
// the stream and is only valid until the next call to Next or Close.
type Frame struct {
	Index  int
	Counts model.Counts
	Image  gocv.Mat
}

// FrameStream is a lazy, finite sequence of annotated video frames. Each call to
// Next reads, detects, annotates and writes exactly one frame. A stream cannot
// be rewound; reopen the source to start over.
//
//	stream, err := p.OpenStream(in, out)
//	defer stream.Close()
//	for stream.Next(ctx) {
//		f := stream.Frame()
//	}
//	if err := stream.Err(); err != nil { ... }
type FrameStream struct {
	pipeline *Pipeline
	source   VideoSource
	sink     VideoSink
	props    VideoProperties

	frame     gocv.Mat
	index     int
	counts    model.Counts
	aggregate model.Counts

	err    error
	done   bool
	closed bool
}

// OpenStream opens input for reading and output for writing with the same frame
// rate and size.
func (p *Pipeline) OpenStream(input, output string) (*FrameStream, error) {
	source, err := p.codec.OpenVideo(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrStreamOpen, input, err)
	}

	props := source.Properties()
	if props.FPS <= 0 {
		props.FPS = defaultFPS
	}
	if props.Width <= 0 || props.Height <= 0 {
		source.Close()
		return nil, fmt.Errorf("%w: %s: invalid frame size %dx%d", model.ErrStreamOpen, input, props.Width, props.Height)
	}

	sink, err := p.codec.CreateVideo(output, props)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("%w: %s: %v", model.ErrStreamWrite, output, err)
	}

	return &FrameStream{
		pipeline: p,
		source:   source,
		sink:     sink,
		props:    props,
		frame:    gocv.NewMat(),
		index:    -1,
	}, nil
}

// Next advances the stream by one frame. It returns false when the source is
// exhausted, ctx is done, or a frame fails; Err tells the two apart.
func (s *FrameStream) Next(ctx context.Context) bool {
	if s.done || s.closed {
		return false
	}
	if err := ctx.Err(); err != nil {
		return s.fail(err)
	}

	if !s.source.Read(&s.frame) || s.frame.Empty() {
		s.done = true
		return false
	}

	counts, err := s.pipeline.processFrame(ctx, &s.frame)
	if err != nil {
		return s.fail(err)
	}

	if err := s.sink.Write(s.frame); err != nil {
		return s.fail(fmt.Errorf("%w: frame %d: %v", model.ErrStreamWrite, s.index+1, err))
	}

	s.index++
	s.counts = counts
	s.aggregate = vehicle.Fold(s.aggregate, counts)
	return true
}

func (s *FrameStream) fail(err error) bool {
	s.err = err
	s.done = true
	return false
}

// Frame returns the frame produced by the last successful Next.
func (s *FrameStream) Frame() Frame {
	return Frame{Index: s.index, Counts: s.counts, Image: s.frame}
}

// Aggregate is the per-category maximum over every frame produced so far.
func (s *FrameStream) Aggregate() model.Counts {
	return s.aggregate
}

// Frames is the number of frames written so far.
func (s *FrameStream) Frames() int {
	return s.index + 1
}

func (s *FrameStream) Properties() VideoProperties {
	return s.props
}

// Err returns the error that stopped the stream, if any.
func (s *FrameStream) Err() error {
	return s.err
}

// Close releases the frame buffer, the source and the sink. A sink that fails to
// finalize is reported as a write error.
func (s *FrameStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.frame.Close()
	if err := s.source.Close(); err != nil {
		s.pipeline.logger.Warning("Failed to close video source: %v", err)
	}
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("%w: finalize output: %v", model.ErrStreamWrite, err)
	}
	return nil
}
