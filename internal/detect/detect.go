// Package detect turns noisy per-frame inference output into debounced,
// rate-limited integrity events. The models themselves live behind the
// Adapter interface; this package only consumes their detections.
package detect

import "context"

// BBox is a detection bounding box in pixel coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one raw model detection for a single frame.
type Detection struct {
	Label  string
	Score  float64
	BBox   *BBox
	Source string
}

// Frame is an opaque handle to captured image data. Adapters know how to
// read it; the engine never does.
type Frame interface {
	// CapturedAt is not part of the frame contract: callers stamp capture
	// time themselves so inference latency cannot skew debounce windows.
	Bytes() []byte
	Width() int
	Height() int
}

// Adapter wraps an external inference model. Detect may block for the
// duration of a model call and must be safe to invoke once per tick without
// leaking resources. Close releases the underlying model.
type Adapter interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
	Close() error
}
