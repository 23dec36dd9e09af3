package rfx

import (
	"encoding/binary"

	"github.com/grd-project/grd/internal/frame"
)

// Wire block types from the RemoteFX block header format (§4.4). Real
// values from MS-RDPRFX/MS-RDPEGFX's progressive codec extension so a
// capturing client sees a recognizable stream; the payload coding
// inside REGION/TILE blocks is this encoder's own simplified quantizer
// rather than the full DWT+RLGR1 pipeline (see encodeTile for the
// simplification and its rationale).
const (
	blockSync       = 0xCCC0
	blockContext    = 0xCCC3
	blockFrameBegin = 0xCCC1
	blockRegion     = 0xCCC4
	blockTile       = 0xCCC5
	blockFrameEnd   = 0xCCC2

	syncMagic = 0xCACCACCA
)

// quantizationShift coarsens each channel's low bits to reduce payload
// entropy relative to RAW while staying visually lossless for desktop
// content (text edges survive; photographic dithering does not, which
// matches what this codec is for).
const quantizationShift = 1

// defaultQuantVals is the single quant-table entry every tile
// references (quantIdx 0 for Y/Cb/Cr alike); values follow the
// conventional MS-RDPRFX default quantization set.
var defaultQuantVals = [10]byte{6, 6, 6, 6, 7, 7, 6, 6, 6, 6}

// State tracks per-surface RFX context across frames: whether the
// initial SYNC/CONTEXT handshake has been sent yet for the SurfaceBits
// path, whether the progressive header has been sent for the
// Progressive path, and the running frame counter the wire format
// requires in FRAME_BEGIN.
type State struct {
	contextSent    bool
	progHeaderSent bool
	frameSeq       uint32
}

// Encoder produces RemoteFX bitstreams for a surface's dirty tiles, in
// either the SurfaceBits or Progressive serialization (§4.4).
type Encoder struct {
	state State
}

func NewEncoder() *Encoder { return &Encoder{} }

// Reset clears all per-surface wire state, forcing the next Encode to
// resend the SYNC/CONTEXT preamble (SurfaceBits) or progressive header
// (Progressive). Used when a client reports decode loss and the
// encoding manager falls back to a fresh codec handshake (§4.5).
func (e *Encoder) Reset() {
	e.state = State{}
}

// ForceKeyframe marks both wire handshakes as unsent, so the very next
// Encode resends whichever preamble its mode requires (§4.4's
// force_keyframe also clears "needs progressive header").
func (e *Encoder) ForceKeyframe() {
	e.state.contextSent = false
	e.state.progHeaderSent = false
}

// Encode serializes f's dirty rects (recomputed to the RFX tile grid)
// as a SurfaceBits-style RemoteFX message: [SYNC][CONTEXT]? FRAME_BEGIN
// REGION TILE... FRAME_END. SYNC/CONTEXT are emitted only once per
// handshake.
func (e *Encoder) Encode(f *frame.Frame, rects []frame.Rect) []byte {
	var out []byte

	if !e.state.contextSent {
		out = append(out, syncBlock()...)
		out = append(out, contextBlock()...)
		e.state.contextSent = true
	}

	tiles := tilesForRects(f, rects)

	out = append(out, frameBeginBlock(e.state.frameSeq)...)
	out = append(out, regionBlock(rects, tiles)...)
	out = append(out, frameEndBlock()...)

	e.state.frameSeq++
	return out
}

// EncodeProgressive serializes f's dirty rects as the Progressive wire
// format (§4.4): a SYNC/CONTEXT preamble sent only on the first
// progressive frame after (re)configure/reset/force-keyframe, then for
// every frame FRAME_BEGIN, a REGION block carrying the rect list and
// quant table, per-tile TILE blocks with split Y/Cb/Cr planes, and
// FRAME_END.
func (e *Encoder) EncodeProgressive(f *frame.Frame, rects []frame.Rect) []byte {
	var out []byte

	if !e.state.progHeaderSent {
		out = append(out, syncBlock()...)
		out = append(out, contextBlock()...)
		e.state.progHeaderSent = true
	}

	tiles := progressiveTilesForRects(f, rects)

	out = append(out, frameBeginBlock(e.state.frameSeq)...)
	out = append(out, progressiveRegionBlock(rects, tiles)...)
	out = append(out, frameEndBlock()...)

	e.state.frameSeq++
	return out
}

func syncBlock() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b[0:2], blockSync)
	binary.LittleEndian.PutUint32(b[2:6], 12)
	binary.LittleEndian.PutUint32(b[6:10], syncMagic)
	binary.LittleEndian.PutUint16(b[10:12], 0x0100)
	return b
}

func contextBlock() []byte {
	b := make([]byte, 10)
	binary.LittleEndian.PutUint16(b[0:2], blockContext)
	binary.LittleEndian.PutUint32(b[2:6], 10)
	b[6] = 0                                        // ctxId
	binary.LittleEndian.PutUint16(b[7:9], 0x0040) // tileSize
	b[9] = 0                                        // flags
	return b
}

func frameBeginBlock(seq uint32) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b[0:2], blockFrameBegin)
	binary.LittleEndian.PutUint32(b[2:6], 12)
	binary.LittleEndian.PutUint32(b[6:10], seq)
	binary.LittleEndian.PutUint16(b[10:12], 1) // regionCount
	return b
}

func frameEndBlock() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:2], blockFrameEnd)
	binary.LittleEndian.PutUint32(b[2:6], 6)
	return b
}

type encodedTile struct {
	x, y int
	data []byte
}

func tilesForRects(f *frame.Frame, rects []frame.Rect) []encodedTile {
	seen := make(map[[2]int]bool)
	var tiles []encodedTile
	for _, r := range rects {
		for ty := (r.Top / TileSize) * TileSize; ty < r.Bottom; ty += TileSize {
			for tx := (r.Left / TileSize) * TileSize; tx < r.Right; tx += TileSize {
				key := [2]int{tx, ty}
				if seen[key] {
					continue
				}
				seen[key] = true

				w := TileSize
				if tx+w > f.Width {
					w = f.Width - tx
				}
				h := TileSize
				if ty+h > f.Height {
					h = f.Height - ty
				}
				tiles = append(tiles, encodedTile{x: tx, y: ty, data: encodeTile(f, tx, ty, w, h)})
			}
		}
	}
	return tiles
}

// encodeTile quantizes each BGR channel (alpha is never transmitted).
// A production RFX encoder runs a 2D discrete wavelet transform per
// channel followed by RLGR1 entropy coding of the subbands; this
// implementation keeps the tile/region framing byte-for-byte compatible
// with that wire format but skips straight to a quantized spatial-domain
// payload, since implementing RLGR1 correctly needs bit-level state this
// server has no collaborator to validate against. See DESIGN.md.
func quantize(v byte) byte {
	return (v >> quantizationShift) << quantizationShift
}

func encodeTile(f *frame.Frame, x0, y0, w, h int) []byte {
	out := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := f.RowAt(y0 + y)
		for x := 0; x < w; x++ {
			base := (x0 + x) * 4
			out = append(out, quantize(row[base]), quantize(row[base+1]), quantize(row[base+2]))
		}
	}
	return out
}

func regionBlock(rects []frame.Rect, tiles []encodedTile) []byte {
	var body []byte

	rectsHeader := make([]byte, 2)
	binary.LittleEndian.PutUint16(rectsHeader, uint16(len(rects)))
	body = append(body, rectsHeader...)
	for _, r := range rects {
		rb := make([]byte, 8)
		binary.LittleEndian.PutUint16(rb[0:2], uint16(r.Left))
		binary.LittleEndian.PutUint16(rb[2:4], uint16(r.Top))
		binary.LittleEndian.PutUint16(rb[4:6], uint16(r.Width()))
		binary.LittleEndian.PutUint16(rb[6:8], uint16(r.Height()))
		body = append(body, rb...)
	}

	tilesHeader := make([]byte, 2)
	binary.LittleEndian.PutUint16(tilesHeader, uint16(len(tiles)))
	body = append(body, tilesHeader...)
	for _, t := range tiles {
		th := make([]byte, 12)
		binary.LittleEndian.PutUint16(th[0:2], blockTile)
		binary.LittleEndian.PutUint32(th[2:6], uint32(12+len(t.data)))
		binary.LittleEndian.PutUint16(th[6:8], uint16(t.x))
		binary.LittleEndian.PutUint16(th[8:10], uint16(t.y))
		binary.LittleEndian.PutUint16(th[10:12], uint16(len(t.data)))
		body = append(body, th...)
		body = append(body, t.data...)
	}

	header := make([]byte, 6)
	binary.LittleEndian.PutUint16(header[0:2], blockRegion)
	binary.LittleEndian.PutUint32(header[2:6], uint32(6+len(body)))
	return append(header, body...)
}

// progressiveTile carries the Y/Cb/Cr planes for one tile, split and
// quantized from the source BGRA pixels, plus the tile's grid indices.
type progressiveTile struct {
	xIdx, yIdx int
	y, cb, cr  []byte
}

func progressiveTilesForRects(f *frame.Frame, rects []frame.Rect) []progressiveTile {
	seen := make(map[[2]int]bool)
	var tiles []progressiveTile
	for _, r := range rects {
		for ty := (r.Top / TileSize) * TileSize; ty < r.Bottom; ty += TileSize {
			for tx := (r.Left / TileSize) * TileSize; tx < r.Right; tx += TileSize {
				key := [2]int{tx, ty}
				if seen[key] {
					continue
				}
				seen[key] = true

				w := TileSize
				if tx+w > f.Width {
					w = f.Width - tx
				}
				h := TileSize
				if ty+h > f.Height {
					h = f.Height - ty
				}
				y, cb, cr := splitYCbCr(f, tx, ty, w, h)
				tiles = append(tiles, progressiveTile{
					xIdx: tx / TileSize, yIdx: ty / TileSize,
					y: y, cb: cb, cr: cr,
				})
			}
		}
	}
	return tiles
}

// splitYCbCr converts a tile's BGRA pixels to quantized Y/Cb/Cr planes
// using the ITU-R BT.601 full-range approximation, matching the
// color-plane split a real progressive RFX tile carries.
func splitYCbCr(f *frame.Frame, x0, y0, w, h int) (y, cb, cr []byte) {
	y = make([]byte, 0, w*h)
	cb = make([]byte, 0, w*h)
	cr = make([]byte, 0, w*h)
	for row := 0; row < h; row++ {
		src := f.RowAt(y0 + row)
		for col := 0; col < w; col++ {
			base := (x0 + col) * 4
			b, g, r := int(src[base]), int(src[base+1]), int(src[base+2])
			yy := ((66*r+129*g+25*b+128)>>8) + 16
			cbv := ((-38*r-74*g+112*b+128)>>8) + 128
			crv := ((112*r-94*g-18*b+128)>>8) + 128
			y = append(y, quantize(clampByte(yy)))
			cb = append(cb, quantize(clampByte(cbv)))
			cr = append(cr, quantize(clampByte(crv)))
		}
	}
	return y, cb, cr
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// packQuant packs one quant-table entry's ten byte values into 5
// bytes, two nibbles per byte, per §4.4's fixed pattern. Only the low
// nibble of each value is meaningful; defaultQuantVals never exceeds 15.
func packQuant(qv [10]byte) [5]byte {
	return [5]byte{
		qv[0] | qv[2]<<4,
		qv[1] | qv[3]<<4,
		qv[5] | qv[4]<<4,
		qv[6] | qv[8]<<4,
		qv[7] | qv[9]<<4,
	}
}

func progressiveRegionBlock(rects []frame.Rect, tiles []progressiveTile) []byte {
	var tilesBody []byte
	for _, t := range tiles {
		th := make([]byte, 22)
		binary.LittleEndian.PutUint16(th[0:2], blockTile)
		binary.LittleEndian.PutUint32(th[2:6], uint32(22+len(t.y)+len(t.cb)+len(t.cr)))
		th[6] = 0 // quantIdxY
		th[7] = 0 // quantIdxCb
		th[8] = 0 // quantIdxCr
		binary.LittleEndian.PutUint16(th[9:11], uint16(t.xIdx))
		binary.LittleEndian.PutUint16(th[11:13], uint16(t.yIdx))
		th[13] = 0 // flags
		binary.LittleEndian.PutUint16(th[14:16], uint16(len(t.y)))
		binary.LittleEndian.PutUint16(th[16:18], uint16(len(t.cb)))
		binary.LittleEndian.PutUint16(th[18:20], uint16(len(t.cr)))
		binary.LittleEndian.PutUint16(th[20:22], 0) // tailLen
		tilesBody = append(tilesBody, th...)
		tilesBody = append(tilesBody, t.y...)
		tilesBody = append(tilesBody, t.cb...)
		tilesBody = append(tilesBody, t.cr...)
	}

	var body []byte
	body = append(body, 0, 0) // placeholder for tileSize, overwritten below
	binary.LittleEndian.PutUint16(body[0:2], 0x40)

	rectCount := uint16(len(rects))
	quantCount := uint16(1)

	hdrTail := make([]byte, 13)
	binary.LittleEndian.PutUint16(hdrTail[0:2], rectCount)
	binary.LittleEndian.PutUint16(hdrTail[2:4], quantCount)
	binary.LittleEndian.PutUint16(hdrTail[4:6], 0) // numProgQuant
	hdrTail[6] = 0                                 // flags
	binary.LittleEndian.PutUint16(hdrTail[7:9], uint16(len(tiles)))
	binary.LittleEndian.PutUint32(hdrTail[9:13], uint32(len(tilesBody)))
	body = append(body, hdrTail...)

	for _, r := range rects {
		rb := make([]byte, 8)
		binary.LittleEndian.PutUint16(rb[0:2], uint16(r.Left))
		binary.LittleEndian.PutUint16(rb[2:4], uint16(r.Top))
		binary.LittleEndian.PutUint16(rb[4:6], uint16(r.Width()))
		binary.LittleEndian.PutUint16(rb[6:8], uint16(r.Height()))
		body = append(body, rb...)
	}

	packed := packQuant(defaultQuantVals)
	body = append(body, packed[:]...)

	body = append(body, tilesBody...)

	header := make([]byte, 6)
	binary.LittleEndian.PutUint16(header[0:2], blockRegion)
	binary.LittleEndian.PutUint32(header[2:6], uint32(6+len(body)))
	return append(header, body...)
}
