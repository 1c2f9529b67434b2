package renderer

type Options struct {
	// Frame dims.
	FrameW uint32
	FrameH uint32

	// Number of frames to render and the number of frames the frame loop
	// keeps in flight.
	Frames         uint32
	FramesInFlight uint32

	// Camera orbit about the look point in degrees per frame.
	Orbit float32
}

func (o Options) validate() error {
	if o.FrameW == 0 || o.FrameH == 0 {
		return ErrInvalidFrame
	}
	if o.Frames == 0 {
		return ErrNoFrames
	}
	return nil
}
