package mdl

// PlaybackState tracks where one sequence is in time: the frame pair being
// blended and how far into the current inter-frame interval playback has
// gotten.
type PlaybackState struct {
	CurrentFrame  int
	NextFrame     int
	Elapsed       float32 // seconds into the current interval
	FrameDuration float32 // seconds per frame
}

// NewPlaybackState returns the state a sequence starts (and restarts) in:
// blending frame 0 toward frame 1 at zero elapsed time. For a sequence with
// a single frame the next frame stays 0.
func NewPlaybackState(seq *Sequence) PlaybackState {
	next := 1
	if seq.FrameCount() <= 1 {
		next = 0
	}
	return PlaybackState{NextFrame: next, FrameDuration: seq.FrameDuration()}
}

// Tick advances the state by dt against seq and returns the blend factor for
// this tick, elapsed * frameRate over the frame pair held when Tick was
// called. Once the accumulated time reaches the frame duration the pair
// steps forward exactly once, wrapping past the last frame, and elapsed
// resets to zero.
//
// The factor is not clamped: a dt spanning more than one frame interval
// yields a factor above 1 for this tick, and the state snaps back on the
// step. Sequences with one frame or fewer never advance and always blend at
// zero.
func (ps *PlaybackState) Tick(dt float32, seq *Sequence) float32 {
	n := seq.FrameCount()
	if n <= 1 {
		return 0
	}
	ps.Elapsed += dt
	factor := ps.Elapsed * float32(seq.FrameRate())
	if ps.Elapsed >= ps.FrameDuration {
		ps.CurrentFrame++
		ps.NextFrame++
		if ps.CurrentFrame >= n {
			ps.CurrentFrame = 0
		}
		if ps.NextFrame >= n {
			ps.NextFrame = 0
		}
		ps.Elapsed = 0
	}
	return factor
}
