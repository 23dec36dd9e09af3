// Package encoding dispatches captured frames to the RAW or RemoteFX
// codec and tracks the fallback state between them (§4.5). It plays the
// role the teacher's VideoEncoder played for H.264 backends, generalized
// from "pick a hardware/software H.264 backend" to "pick RAW or RFX
// depending on negotiated capabilities and how large the peer will let
// a payload get".
package encoding

import (
	"sync"
	"time"

	"github.com/grd-project/grd/internal/frame"
	"github.com/grd-project/grd/internal/grderr"
	"github.com/grd-project/grd/internal/logging"
	"github.com/grd-project/grd/internal/rfx"
)

var log = logging.L("encoding")

// Mode selects which codec the manager prefers.
type Mode int

const (
	ModeAuto Mode = iota
	ModeRaw
	ModeRFX
)

func ParseMode(s string) Mode {
	switch s {
	case "raw":
		return ModeRaw
	case "rfx":
		return ModeRFX
	default:
		return ModeAuto
	}
}

// Config mirrors the config.EncodingConfig fields this package needs,
// kept decoupled from the config package to avoid an import cycle.
type Config struct {
	Mode       Mode
	EnableDiff bool
}

// fallbackGraceFrames is how many subsequent encode calls stay on RAW
// after an RFX payload proves too large for the peer's max_payload,
// before trying RFX again (§4.5, §8 scenario 2).
const fallbackGraceFrames = 30

// Manager holds per-surface encoding state: the active codec, the
// previous frame for tile-hash diffing, and the payload-size-driven
// RFX->RAW fallback window.
type Manager struct {
	mu sync.Mutex

	cfg          Config
	rfxAvailable bool
	rawEncoder   *rfx.RawEncoder
	rfxEncoder   *rfx.Encoder
	prevFrame    *frame.Frame
	frameID      uint32

	// rfxFallbackGrace counts down the remaining encode calls that must
	// bypass RFX after an overshoot; 0 means RFX is eligible again.
	rfxFallbackGrace int
	// lastFallbackPayload is the max_payload that triggered the current
	// fallback window, so a peer raising its limit can clear it early.
	lastFallbackPayload int
	// rfxFallbackCount is a diagnostic counter of how many times an RFX
	// frame has proven too large for the peer.
	rfxFallbackCount int
}

// New creates a Manager. rfxAvailable reflects whether the negotiated
// RDPGFX capability set includes RemoteFX; when false the manager never
// selects RFX regardless of cfg.Mode or desiredCodec.
func New(cfg Config, rfxAvailable bool) *Manager {
	return &Manager{
		cfg:          cfg,
		rfxAvailable: rfxAvailable,
		rawEncoder:   rfx.NewRawEncoder(),
		rfxEncoder:   rfx.NewEncoder(),
	}
}

// RfxFallbackCount reports how many times an RFX frame has proven too
// large for a peer's max_payload since this Manager was created.
func (m *Manager) RfxFallbackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rfxFallbackCount
}

// desiredCodec picks RAW, RFX, or RFX Progressive for the next frame
// given configuration and the caller's preference. The post-overshoot
// grace window is applied afterwards by EncodeFrame, which counts it
// down and demotes RFX to RAW while it lasts; RFX Progressive (when
// explicitly requested) carries no payload-based fallback (§4.5).
func (m *Manager) desiredCodec(requested frame.Codec) frame.Codec {
	if !m.rfxAvailable || m.cfg.Mode == ModeRaw {
		return frame.CodecRaw
	}
	if requested == frame.CodecRFXProgressive {
		return frame.CodecRFXProgressive
	}
	if m.cfg.Mode == ModeRFX || requested == frame.CodecRemoteFX {
		return frame.CodecRemoteFX
	}
	// Auto with no explicit request: prefer RFX.
	return frame.CodecRemoteFX
}

// EncodeFrame diffs f against the previous frame (unless forceKeyframe
// or diffing is disabled) and encodes the dirty region with the
// selected codec, falling back to RAW when an RFX frame's measured
// payload exceeds maxPayload (§4.5).
//
// maxPayload is the peer's advertised payload ceiling in bytes; 0 means
// unbounded. desiredCodec is the caller's codec preference (typically
// frame.CodecRemoteFX); the manager may override it with RAW per the
// fallback rules above.
func (m *Manager) EncodeFrame(f *frame.Frame, forceKeyframe bool, maxPayload int, desiredCodec frame.Codec) (*frame.EncodedFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxPayload > 0 && m.lastFallbackPayload > 0 && maxPayload > m.lastFallbackPayload {
		m.rfxFallbackGrace = 0
		m.lastFallbackPayload = 0
	}

	var rects []frame.Rect
	isKeyframe := forceKeyframe || m.prevFrame == nil
	if m.cfg.EnableDiff && !isKeyframe {
		rects = rfx.DirtyRects(m.prevFrame, f)
		if len(rects) == 0 {
			m.prevFrame = f
			return nil, grderr.WouldBlock("frame %d has no dirty tiles, nothing to send", m.frameID)
		}
	} else {
		rects = []frame.Rect{{Left: 0, Top: 0, Right: f.Width, Bottom: f.Height}}
	}

	codec := m.desiredCodec(desiredCodec)

	if codec == frame.CodecRemoteFX && m.rfxFallbackGrace > 0 {
		m.rfxFallbackGrace--
		if m.rfxFallbackGrace == 0 {
			m.lastFallbackPayload = 0
		}
		codec = frame.CodecRaw
	}

	ef := m.encodeWith(f, rects, codec, isKeyframe)

	if codec == frame.CodecRemoteFX && maxPayload > 0 && len(ef.Data) > maxPayload {
		m.rfxFallbackCount++
		m.rfxFallbackGrace = fallbackGraceFrames
		m.lastFallbackPayload = maxPayload
		log.Warn("rfx payload exceeded max_payload, falling back to raw",
			"payload", len(ef.Data), "max_payload", maxPayload, "grace", fallbackGraceFrames)
		ef = m.encodeWith(f, rects, frame.CodecRaw, isKeyframe)
	}

	m.frameID++
	m.prevFrame = f
	ef.FrameID = m.frameID
	return ef, nil
}

func (m *Manager) encodeWith(f *frame.Frame, rects []frame.Rect, codec frame.Codec, isKeyframe bool) *frame.EncodedFrame {
	fullRects := rects
	if len(fullRects) == 0 {
		fullRects = []frame.Rect{{Left: 0, Top: 0, Right: f.Width, Bottom: f.Height}}
	}

	switch codec {
	case frame.CodecRemoteFX:
		data := m.rfxEncoder.Encode(f, rects)
		return &frame.EncodedFrame{
			Codec:      frame.CodecRemoteFX,
			Data:       data,
			DirtyRects: fullRects,
			IsKeyframe: isKeyframe,
			Width:      f.Width,
			Height:     f.Height,
			Stride:     f.Width * 4,
			IsBottomUp: false,
			EncodedAt:  time.Now(),
		}
	case frame.CodecRFXProgressive:
		data := m.rfxEncoder.EncodeProgressive(f, rects)
		return &frame.EncodedFrame{
			Codec:      frame.CodecRFXProgressive,
			Data:       data,
			DirtyRects: fullRects,
			IsKeyframe: isKeyframe,
			Width:      f.Width,
			Height:     f.Height,
			Stride:     f.Width * 4,
			IsBottomUp: false,
			EncodedAt:  time.Now(),
		}
	default:
		data := m.rawEncoder.Encode(f, rects)
		return &frame.EncodedFrame{
			Codec:      frame.CodecRaw,
			Data:       data,
			DirtyRects: fullRects,
			IsKeyframe: true,
			Width:      f.Width,
			Height:     f.Height,
			Stride:     f.Width * 4,
			IsBottomUp: true,
			Quality:    100,
			EncodedAt:  time.Now(),
		}
	}
}

// ForceKeyframe clears diff state so the next EncodeFrame call sends a
// full frame regardless of the diff config, and marks both wire
// encoders' handshakes unsent.
func (m *Manager) ForceKeyframe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prevFrame = nil
	m.rfxEncoder.ForceKeyframe()
}

// NotifyDecodeLoss resets the RFX wire context so the next RFX frame
// resends its SYNC/CONTEXT preamble, without touching the payload-size
// fallback window — a decode-loss report is a client-side symptom
// distinct from the server measuring its own payload against
// max_payload.
func (m *Manager) NotifyDecodeLoss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rfxEncoder.Reset()
	m.prevFrame = nil
	log.Warn("client reported decode loss, resetting rfx wire context")
}
