package recorder

// PresentationClock hands out the presentation time of each frame.
// Frame k (starting at 1) is presented at k * 1000000 / fps microseconds, truncated.
type PresentationClock struct {
	fps    float64
	frames int64
}

func NewPresentationClock(fps float64) PresentationClock {
	return PresentationClock{fps: fps}
}

// Advance the clock by one frame, and return that frame's presentation time
func (c *PresentationClock) Next() int64 {
	c.frames++
	return c.At(c.frames)
}

// Presentation time of frame k, in microseconds
func (c *PresentationClock) At(k int64) int64 {
	return int64(float64(k) * (1000000 / c.fps))
}

// Number of frames handed out since the clock was created
func (c *PresentationClock) Frames() int64 {
	return c.frames
}
