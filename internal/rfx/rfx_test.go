package rfx

import (
	"encoding/binary"
	"testing"

	"github.com/grd-project/grd/internal/frame"
)

func solidFrame(w, h int, b, g, r byte) *frame.Frame {
	f := frame.NewFrame(w, h)
	for y := 0; y < h; y++ {
		row := f.RowAt(y)
		for x := 0; x < w; x++ {
			row[x*4+0] = b
			row[x*4+1] = g
			row[x*4+2] = r
			row[x*4+3] = 0xFF
		}
	}
	return f
}

func TestDirtyRectsNilPrevForcesFullFrame(t *testing.T) {
	f := solidFrame(128, 128, 1, 2, 3)
	rects := DirtyRects(nil, f)
	if len(rects) != 1 {
		t.Fatalf("expected 1 rect for nil prev, got %d", len(rects))
	}
	if rects[0] != (frame.Rect{Left: 0, Top: 0, Right: 128, Bottom: 128}) {
		t.Fatalf("expected full-frame rect, got %+v", rects[0])
	}
}

func TestDirtyRectsIdenticalFramesAreClean(t *testing.T) {
	a := solidFrame(128, 128, 10, 20, 30)
	b := solidFrame(128, 128, 10, 20, 30)
	rects := DirtyRects(a, b)
	if len(rects) != 0 {
		t.Fatalf("expected no dirty rects for identical frames, got %d", len(rects))
	}
}

func TestDirtyRectsDetectsSingleTileChange(t *testing.T) {
	a := solidFrame(128, 128, 0, 0, 0)
	b := solidFrame(128, 128, 0, 0, 0)
	// Dirty exactly one pixel inside the second tile column, first row.
	row := b.RowAt(5)
	row[TileSize*4+0] = 0xFF

	rects := DirtyRects(a, b)
	if len(rects) != 1 {
		t.Fatalf("expected exactly 1 dirty tile, got %d: %+v", len(rects), rects)
	}
	want := frame.Rect{Left: TileSize, Top: 0, Right: TileSize * 2, Bottom: TileSize}
	if rects[0] != want {
		t.Fatalf("got %+v, want %+v", rects[0], want)
	}
}

func TestDirtyRectsResolutionChangeForcesFullFrame(t *testing.T) {
	a := solidFrame(64, 64, 0, 0, 0)
	b := solidFrame(128, 128, 0, 0, 0)
	rects := DirtyRects(a, b)
	if len(rects) != 1 || rects[0].Width() != 128 {
		t.Fatalf("expected full-frame rect on resolution change, got %+v", rects)
	}
}

func TestRawEncoderProducesContiguousBottomUpBuffer(t *testing.T) {
	f := frame.NewFrame(4, 3)
	for y := 0; y < f.Height; y++ {
		row := f.RowAt(y)
		for x := 0; x < f.Width; x++ {
			row[x*4+0] = byte(y) // B carries the row index
			row[x*4+1] = byte(x) // G carries the column index
			row[x*4+2] = 0
			row[x*4+3] = 0xFF
		}
	}

	enc := NewRawEncoder()
	data := enc.Encode(f, nil)

	wantStride := f.Width * 4
	if len(data) != wantStride*f.Height {
		t.Fatalf("unexpected encoded length %d, want %d", len(data), wantStride*f.Height)
	}

	for y := 0; y < f.Height; y++ {
		outRow := data[y*wantStride : (y+1)*wantStride]
		inRow := f.RowAt(f.Height - 1 - y)
		for i := range outRow {
			if outRow[i] != inRow[i] {
				t.Fatalf("output row %d byte %d = %d, want %d (input row %d)", y, i, outRow[i], inRow[i], f.Height-1-y)
			}
		}
	}
}

func TestRawEncoderIgnoresDirtyRectsAndEncodesWholeFrame(t *testing.T) {
	f := solidFrame(16, 16, 1, 2, 3)
	enc := NewRawEncoder()
	rects := []frame.Rect{{Left: 0, Top: 0, Right: 4, Bottom: 4}}
	data := enc.Encode(f, rects)
	if len(data) != 16*16*4 {
		t.Fatalf("unexpected encoded length %d, want whole-frame size", len(data))
	}
}

func TestRfxEncoderSendsContextOnlyOnce(t *testing.T) {
	f := solidFrame(64, 64, 1, 1, 1)
	rects := []frame.Rect{{Left: 0, Top: 0, Right: 64, Bottom: 64}}

	enc := NewEncoder()
	first := enc.Encode(f, rects)
	second := enc.Encode(f, rects)

	if len(first) <= len(second) {
		t.Fatalf("expected first frame (with SYNC/CONTEXT) to be longer than second, got %d vs %d", len(first), len(second))
	}
}

func TestRfxEncoderResetResendsContext(t *testing.T) {
	f := solidFrame(64, 64, 1, 1, 1)
	rects := []frame.Rect{{Left: 0, Top: 0, Right: 64, Bottom: 64}}

	enc := NewEncoder()
	first := enc.Encode(f, rects)
	enc.Reset()
	afterReset := enc.Encode(f, rects)

	if len(first) != len(afterReset) {
		t.Fatalf("expected Reset() to make the next Encode() resend SYNC/CONTEXT, got %d vs %d", len(first), len(afterReset))
	}
}

// TestRfxEncoderUsesSpecBlockTypes pins the SYNC/FRAME_BEGIN/REGION/
// FRAME_END magic numbers a client's parser keys off, so the wire
// stream stays structurally recognizable.
func TestRfxEncoderUsesSpecBlockTypes(t *testing.T) {
	f := solidFrame(64, 64, 1, 1, 1)
	rects := []frame.Rect{{Left: 0, Top: 0, Right: 64, Bottom: 64}}

	out := NewEncoder().Encode(f, rects)

	if got := binary.LittleEndian.Uint16(out[0:2]); got != 0xCCC0 {
		t.Fatalf("SYNC block type = 0x%04X, want 0xCCC0", got)
	}
	if got := binary.LittleEndian.Uint32(out[6:10]); got != 0xCACCACCA {
		t.Fatalf("SYNC magic = 0x%08X, want 0xCACCACCA", got)
	}

	syncLen := binary.LittleEndian.Uint32(out[2:6])
	contextLen := binary.LittleEndian.Uint32(out[syncLen+2 : syncLen+6])
	frameBeginOff := syncLen + contextLen
	if got := binary.LittleEndian.Uint16(out[frameBeginOff : frameBeginOff+2]); got != 0xCCC1 {
		t.Fatalf("FRAME_BEGIN block type = 0x%04X, want 0xCCC1", got)
	}

	frameBeginLen := binary.LittleEndian.Uint32(out[frameBeginOff+2 : frameBeginOff+6])
	regionOff := frameBeginOff + frameBeginLen
	if got := binary.LittleEndian.Uint16(out[regionOff : regionOff+2]); got != 0xCCC4 {
		t.Fatalf("REGION block type = 0x%04X, want 0xCCC4", got)
	}

	regionLen := binary.LittleEndian.Uint32(out[regionOff+2 : regionOff+6])
	frameEndOff := regionOff + regionLen
	if got := binary.LittleEndian.Uint16(out[frameEndOff : frameEndOff+2]); got != 0xCCC2 {
		t.Fatalf("FRAME_END block type = 0x%04X, want 0xCCC2", got)
	}
}

func TestRfxEncoderProgressiveEmitsSplitPlanesAndQuantTable(t *testing.T) {
	f := solidFrame(64, 64, 10, 20, 30)
	rects := []frame.Rect{{Left: 0, Top: 0, Right: 64, Bottom: 64}}

	enc := NewEncoder()
	out := enc.EncodeProgressive(f, rects)
	if len(out) == 0 {
		t.Fatal("expected non-empty progressive output")
	}
	if got := binary.LittleEndian.Uint16(out[0:2]); got != 0xCCC0 {
		t.Fatalf("progressive SYNC block type = 0x%04X, want 0xCCC0", got)
	}

	second := enc.EncodeProgressive(f, rects)
	if len(second) >= len(out) {
		t.Fatalf("expected second progressive frame (no header) shorter than first, got %d vs %d", len(second), len(out))
	}
}

func TestPackQuantMatchesNibblePattern(t *testing.T) {
	qv := [10]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got := packQuant(qv)
	want := [5]byte{
		qv[0] | qv[2]<<4,
		qv[1] | qv[3]<<4,
		qv[5] | qv[4]<<4,
		qv[6] | qv[8]<<4,
		qv[7] | qv[9]<<4,
	}
	if got != want {
		t.Fatalf("packQuant(%v) = %v, want %v", qv, got, want)
	}
}
