package rfx

import "github.com/grd-project/grd/internal/frame"

// RawEncoder emits a frame as a single contiguous bottom-up BGRA32
// buffer (§4.3). It is the fallback codec: always available, never
// refused by a client, at the cost of bandwidth, and is also what the
// encoding manager's payload-overshoot fallback re-encodes into when
// an RFX frame proves too large for the peer's max_payload.
type RawEncoder struct {
	width, height int
	ready         bool
}

func NewRawEncoder() *RawEncoder { return &RawEncoder{} }

// Configure rejects zero dimensions and marks the encoder ready.
func (e *RawEncoder) Configure(width, height int) bool {
	if width == 0 || height == 0 {
		e.ready = false
		return false
	}
	e.width, e.height = width, height
	e.ready = true
	return true
}

// Encode writes f row-by-row in reverse into a stride*height buffer:
// input row y becomes output row h-1-y. There is no rect framing and
// no header — the output is exactly the pixel buffer a SurfaceBits
// update carries. Dirty rects are accepted for interface symmetry with
// Encoder.Encode but ignored: RAW always sends the whole frame.
func (e *RawEncoder) Encode(f *frame.Frame, _ []frame.Rect) []byte {
	stride := f.Width * 4
	out := make([]byte, stride*f.Height)
	for y := 0; y < f.Height; y++ {
		srcRow := f.RowAt(f.Height - 1 - y)
		copy(out[y*stride:y*stride+stride], srcRow[:stride])
	}
	return out
}
