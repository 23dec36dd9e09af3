// Package capture feeds the encoding pipeline with BGRA32 desktop frames.
// It isn't one of the protocol-facing modules the wire spec enumerates,
// but every operation in that spec's data-flow diagram starts from a
// captured frame, so it lives alongside them as the pipeline's source.
package capture

import "github.com/grd-project/grd/internal/frame"

// ScreenCapturer captures the X11 desktop into BGRA32 frame.Frame values.
type ScreenCapturer interface {
	// Capture grabs the full screen into dst, resizing dst's backing
	// buffer if the screen dimensions changed since the last call.
	Capture(dst *frame.Frame) (*frame.Frame, error)
	// Bounds returns the current screen dimensions.
	Bounds() (width, height int, err error)
	// Close releases the X11 connection and any shared memory segment.
	Close() error
}

// Config selects which display to capture.
type Config struct {
	DisplayIndex int
}

// New creates a platform screen capturer. On linux this uses X11/XShm;
// there is no other platform build of this server (§1 is Linux-only).
func New(cfg Config) (ScreenCapturer, error) {
	return newPlatformCapturer(cfg)
}
