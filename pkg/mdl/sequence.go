package mdl

import (
	"errors"
	"fmt"
)

// ErrFrameRange is returned for frame indices outside a sequence.
var ErrFrameRange = errors.New("frame index out of range")

// Sequence is one animation: a name, a frame rate, and a fully expanded
// model-space skeleton per frame. Frames are built once at load time so
// playback never touches the encoded channel data again.
type Sequence struct {
	name      string
	frameRate int
	numJoints int
	frames    [][]Joint
	bounds    []Bounds
}

// NewSequence returns an empty sequence.
func NewSequence(name string, frameRate int) *Sequence {
	return &Sequence{name: name, frameRate: frameRate}
}

// Name returns the sequence name.
func (s *Sequence) Name() string { return s.name }

// FrameRate returns the playback rate in frames per second.
func (s *Sequence) FrameRate() int { return s.frameRate }

// FrameCount returns the number of frames.
func (s *Sequence) FrameCount() int { return len(s.frames) }

// JointCount returns the number of joints per frame.
func (s *Sequence) JointCount() int { return s.numJoints }

// FrameDuration returns the length of one frame in seconds.
func (s *Sequence) FrameDuration() float32 {
	if s.frameRate <= 0 {
		return 0
	}
	return 1.0 / float32(s.frameRate)
}

// Duration returns the total sequence length in seconds.
func (s *Sequence) Duration() float32 {
	return float32(len(s.frames)) * s.FrameDuration()
}

// SetFrameCount resizes the sequence to n frames. The resize is destructive:
// all existing frame data and bounds are discarded.
func (s *Sequence) SetFrameCount(n int) {
	s.frames = make([][]Joint, n)
	for i := range s.frames {
		s.frames[i] = make([]Joint, s.numJoints)
	}
	s.bounds = make([]Bounds, n)
}

// SetJointCount resizes every frame to n joints. The resize is destructive:
// all existing frame data is discarded.
func (s *Sequence) SetJointCount(n int) {
	s.numJoints = n
	for i := range s.frames {
		s.frames[i] = make([]Joint, n)
	}
}

// Frame returns the skeleton of frame i. The slice is live storage: writes
// to it update the sequence.
func (s *Sequence) Frame(i int) ([]Joint, error) {
	if i < 0 || i >= len(s.frames) {
		return nil, fmt.Errorf("%w: frame %d of %d", ErrFrameRange, i, len(s.frames))
	}
	return s.frames[i], nil
}

// Bounds returns the bounding box of frame i.
func (s *Sequence) Bounds(i int) (Bounds, error) {
	if i < 0 || i >= len(s.bounds) {
		return Bounds{}, fmt.Errorf("%w: frame %d of %d", ErrFrameRange, i, len(s.bounds))
	}
	return s.bounds[i], nil
}

// SetBounds stores the bounding box of frame i.
func (s *Sequence) SetBounds(i int, b Bounds) error {
	if i < 0 || i >= len(s.bounds) {
		return fmt.Errorf("%w: frame %d of %d", ErrFrameRange, i, len(s.bounds))
	}
	s.bounds[i] = b
	return nil
}
