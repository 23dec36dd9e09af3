// Package frame defines the pixel buffer and queue types that sit between
// screen capture and the encoding manager (§4.1, §4.2).
package frame

import "time"

// Rect is an inclusive-exclusive pixel rectangle: [Left,Right) x [Top,Bottom).
type Rect struct {
	Left, Top, Right, Bottom int
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Frame is one captured desktop image: top-down BGRA32, 4 bytes per
// pixel, Stride bytes per row (Stride >= Width*4 to allow row padding).
type Frame struct {
	Width, Height int
	Stride        int
	Pixels        []byte
	Sequence      uint64
	CapturedAt    time.Time
}

// NewFrame allocates a Frame with a tightly packed stride.
func NewFrame(width, height int) *Frame {
	stride := width * 4
	return &Frame{
		Width:  width,
		Height: height,
		Stride: stride,
		Pixels: make([]byte, stride*height),
	}
}

// RowAt returns the byte slice for scanline y.
func (f *Frame) RowAt(y int) []byte {
	off := y * f.Stride
	return f.Pixels[off : off+f.Width*4]
}

// Codec identifies which wire codec produced an EncodedFrame.
type Codec int

const (
	CodecRaw Codec = iota
	CodecRemoteFX
	CodecRFXProgressive
)

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecRemoteFX:
		return "remotefx"
	case CodecRFXProgressive:
		return "remotefx_progressive"
	default:
		return "unknown"
	}
}

// EncodedFrame is the output of the encoding manager, ready to be handed
// to the graphics pipeline for transmission.
type EncodedFrame struct {
	SurfaceID  uint16
	FrameID    uint32
	Codec      Codec
	Data       []byte
	DirtyRects []Rect
	IsKeyframe bool
	EncodedAt  time.Time

	// Width, Height, and Stride describe Data's pixel geometry; for RAW
	// this is the uncompressed buffer's own layout, for RFX/RFX
	// Progressive they describe the source frame the bitstream covers.
	Width, Height, Stride int
	// IsBottomUp is true only for RAW payloads (§4.3); RFX and RFX
	// Progressive streams are always top-down.
	IsBottomUp bool
	// TimestampUs is the source frame's capture time, used to build the
	// graphics pipeline's StartFrame PDU timestamp field.
	TimestampUs int64
	// Quality is a 0..100 subjective quality hint; RAW is always 100.
	Quality int
	// Qp is the quantization parameter the RFX encoder used, when
	// applicable (0 for RAW).
	Qp int
}
