// Package gfx implements the RDPGFX virtual-channel state machine: caps
// negotiation, surface lifecycle, frame-ID allocation, and ACK-based
// backpressure (§4.7).
package gfx

import (
	"sync"
	"time"

	"github.com/grd-project/grd/internal/frame"
	"github.com/grd-project/grd/internal/grderr"
	"github.com/grd-project/grd/internal/logging"
	"github.com/grd-project/grd/internal/rdplib"
)

var log = logging.L("gfx")

// State is the pipeline's bring-up state machine.
type State int

const (
	StateIdle State = iota
	StateCapsAdvertised
	StateCapsConfirmed
	StateReady
	StateClosed
)

// CapabilityFlags mirrors the RDPGFX capability-set bits this server
// understands. Values match MS-RDPEGFX capsFlags layout closely enough
// to log meaningfully, though only the bits this spec cares about are
// modeled.
type CapabilityFlags uint32

const (
	CapAVC420      CapabilityFlags = 1 << 0
	CapAVC444      CapabilityFlags = 1 << 1
	CapProgressive CapabilityFlags = 1 << 2
	CapRemoteFX    CapabilityFlags = 1 << 3
	CapSmallCache  CapabilityFlags = 1 << 4
	CapAVC444v2    CapabilityFlags = 1 << 5
	CapPlanar      CapabilityFlags = 1 << 6
	CapThinClient  CapabilityFlags = 1 << 7
	CapProgressiveV2 CapabilityFlags = 1 << 8
	CapAVCDisabled CapabilityFlags = 1 << 9
)

// DefaultMaxOutstandingFrames is the backpressure budget a freshly
// constructed Pipeline uses unless overridden (§4.7's "default 3").
const DefaultMaxOutstandingFrames = 3

// SuspendFrameAcknowledgement is the queueDepth sentinel a client sends
// to tell the server it will not ACK further frames individually.
const SuspendFrameAcknowledgement = 0xFFFFFFFF

// Surface is one RDPGFX output surface bound to the desktop.
type Surface struct {
	ID            uint16
	Width, Height int
}

// Pipeline drives one client's RDPGFX channel across its lifetime.
type Pipeline struct {
	mu   sync.Mutex
	cond *sync.Cond
	state State

	serverCaps CapabilityFlags
	clientCaps CapabilityFlags
	negotiated CapabilityFlags
	capsVersion uint32

	surfaces    map[uint16]*Surface
	nextSurfID  uint16
	nextFrameID uint32

	maxOutstandingFrames int
	outstandingFrames    int
	acksSuspended        bool
	needsKeyframe        bool

	metrics Metrics
}

// New creates a Pipeline advertising serverCaps as the capabilities
// this server supports, with the default outstanding-frame budget.
func New(serverCaps CapabilityFlags) *Pipeline {
	return NewWithBudget(serverCaps, DefaultMaxOutstandingFrames)
}

// NewWithBudget is New but lets the caller configure
// max_outstanding_frames explicitly (§8 scenario 5).
func NewWithBudget(serverCaps CapabilityFlags, maxOutstandingFrames int) *Pipeline {
	if maxOutstandingFrames <= 0 {
		maxOutstandingFrames = DefaultMaxOutstandingFrames
	}
	p := &Pipeline{
		state:                StateIdle,
		serverCaps:           serverCaps,
		surfaces:             make(map[uint16]*Surface),
		maxOutstandingFrames: maxOutstandingFrames,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AdvertiseCaps transitions Idle -> CapsAdvertised, recording the flags
// this server is offering (used by callers to log/assert ordering).
func (p *Pipeline) AdvertiseCaps() CapabilityFlags {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return p.serverCaps
	}
	p.state = StateCapsAdvertised
	return p.serverCaps
}

// versionFlagMask limits which capability bits a given capability-set
// version honors, per §4.7's version-gated negotiation: the oldest
// probed versions (0x8, 0x81) only understand thin-client/small-cache/
// H264, everything from 0x0A up understands the full bit set this
// server models.
func versionFlagMask(version uint32) CapabilityFlags {
	switch version {
	case 0x8, 0x81:
		return CapThinClient | CapSmallCache | CapAVC420
	default:
		return CapAVC420 | CapAVC444 | CapAVC444v2 | CapProgressive | CapProgressiveV2 |
			CapRemoteFX | CapPlanar | CapSmallCache | CapThinClient | CapAVCDisabled
	}
}

// ConfirmCaps implements §4.7's descending capability-set version
// probe: the client's advertised set may carry flags for more than one
// version, so the negotiated settings are computed by walking
// rdplib.CapabilitySetVersions from newest to oldest and picking the
// first version both sides support (client flags intersect server
// flags under that version's mask), then computing the fully
// negotiated flag set from that version's mask.
func (p *Pipeline) ConfirmCaps(clientCaps CapabilityFlags) (CapabilityFlags, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCapsAdvertised {
		return 0, grderr.InvalidArgument("ConfirmCaps called in state %v, want CapsAdvertised", p.state)
	}

	p.clientCaps = clientCaps

	var chosenVersion uint32
	var negotiated CapabilityFlags
	for _, v := range rdplib.CapabilitySetVersions {
		mask := versionFlagMask(v)
		candidate := p.serverCaps & clientCaps & mask
		if candidate != 0 || v == rdplib.CapabilitySetVersions[len(rdplib.CapabilitySetVersions)-1] {
			chosenVersion = v
			negotiated = candidate
			break
		}
	}

	p.capsVersion = chosenVersion
	p.negotiated = negotiated
	p.state = StateCapsConfirmed
	log.Info("capability set negotiated", "version", chosenVersion, "negotiated", uint32(negotiated))
	return p.negotiated, nil
}

// NegotiatedSettings reports the per-flag capability struct the
// version probe in ConfirmCaps produced, in the shape internal/rdplib
// callers (and a future real Session) expect.
func (p *Pipeline) NegotiatedSettings() rdplib.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rdplib.Capabilities{
		Version:       p.capsVersion,
		SmallCache:    p.negotiated&CapSmallCache != 0,
		AVC444v2:      p.negotiated&CapAVC444v2 != 0,
		AVC444:        p.negotiated&CapAVC444 != 0,
		H264:          p.negotiated&CapAVC420 != 0,
		Progressive:   p.negotiated&CapProgressive != 0,
		ProgressiveV2: p.negotiated&CapProgressiveV2 != 0,
		RemoteFxCodec: p.negotiated&CapRemoteFX != 0,
		Planar:        p.negotiated&CapPlanar != 0,
		AVCDisabled:   p.negotiated&CapAVCDisabled != 0,
		ThinClient:    p.negotiated&CapThinClient != 0,
	}
}

// HasCapability reports whether flag is in the negotiated intersection.
func (p *Pipeline) HasCapability(flag CapabilityFlags) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.negotiated&flag != 0
}

// CreateSurface allocates a new surface and, on the pipeline's first
// surface, transitions CapsConfirmed -> Ready.
func (p *Pipeline) CreateSurface(width, height int) (*Surface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCapsConfirmed && p.state != StateReady {
		return nil, grderr.InvalidArgument("CreateSurface called in state %v", p.state)
	}

	p.nextSurfID++
	surf := &Surface{ID: p.nextSurfID, Width: width, Height: height}
	p.surfaces[surf.ID] = surf
	p.state = StateReady
	return surf, nil
}

// DeleteSurface removes a surface from tracking.
func (p *Pipeline) DeleteSurface(id uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.surfaces, id)
}

// allocateFrameID returns the next frame ID, skipping 0 on uint32
// wraparound (0 is reserved/invalid). Must be called with p.mu held.
func (p *Pipeline) allocateFrameID() uint32 {
	p.nextFrameID++
	if p.nextFrameID == 0 {
		p.nextFrameID = 1
	}
	return p.nextFrameID
}

// AckFrame handles an RDPGFX FrameAcknowledge PDU (§4.7). queueDepth ==
// SuspendFrameAcknowledgement marks the pipeline suspended, zeroing
// outstandingFrames and bypassing the cap entirely until a later ACK
// with a normal queueDepth resumes bookkeeping; otherwise it decrements
// outstandingFrames by one, floored at zero.
func (p *Pipeline) AckFrame(frameID uint32, queueDepth uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if queueDepth == SuspendFrameAcknowledgement {
		if !p.acksSuspended {
			log.Info("client suspended frame acknowledgements")
		}
		p.acksSuspended = true
		p.outstandingFrames = 0
		p.cond.Broadcast()
		return
	}

	if p.acksSuspended {
		log.Info("client resumed frame acknowledgements")
	}
	p.acksSuspended = false
	if p.outstandingFrames > 0 {
		p.outstandingFrames--
	}
	p.cond.Broadcast()
}

// WaitForCapacity blocks while the surface is ready, acks are not
// suspended, and outstandingFrames is at or above the cap, per §4.7's
// timeout_us semantics: negative blocks indefinitely, zero polls once,
// positive bounds the wait by that many microseconds. Returns true iff
// a slot is available (or acks are suspended, or the pipeline closed)
// when it returns.
func (p *Pipeline) WaitForCapacity(timeoutUs int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	full := func() bool {
		return p.state == StateReady && !p.acksSuspended && p.outstandingFrames >= p.maxOutstandingFrames
	}

	if timeoutUs == 0 {
		return !full()
	}

	var timedOut bool
	if timeoutUs > 0 {
		timer := time.AfterFunc(time.Duration(timeoutUs)*time.Microsecond, func() {
			p.mu.Lock()
			timedOut = true
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		defer timer.Stop()
	}

	for full() && p.state != StateClosed && !timedOut {
		p.cond.Wait()
	}
	return !full()
}

// Close tears the pipeline down and wakes any blocked waiters.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateClosed
	p.cond.Broadcast()
}

// OutstandingCount reports how many frames are unacknowledged right now.
func (p *Pipeline) OutstandingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstandingFrames
}

// CurrentState returns the current bring-up state.
func (p *Pipeline) CurrentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RecordFallback notes that the encoding manager fell back from RFX to
// RAW for this pipeline's surface, for MetricsSnapshot.FallbackCount.
func (p *Pipeline) RecordFallback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.RecordFallback()
}

// MetricsSnapshot returns a point-in-time copy of the pipeline's
// counters.
func (p *Pipeline) MetricsSnapshot() MetricsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics.snapshot()
}

// buildTimestamp packs the current local time into RDPGFX's
// StartFrame timestamp field: (hour<<22)|(minute<<16)|(second<<10)|ms.
func buildTimestamp() uint32 {
	now := time.Now()
	return (uint32(now.Hour()) << 22) |
		(uint32(now.Minute()) << 16) |
		(uint32(now.Second()) << 10) |
		uint32(now.Nanosecond()/1e6)
}

// startFramePDU, surfaceCommandPDU, and endFramePDU are the RDPGFX
// frame-framing structures SubmitFrame builds; a real internal/rdplib
// Session would serialize these onto the wire (or hand them to
// SurfaceFrameCommand in one call).
type startFramePDU struct {
	Timestamp uint32
	FrameID   uint32
}

type surfaceCommandPDU struct {
	SurfaceID uint16
	Codec     frame.Codec
	Rect      frame.Rect
	Payload   []byte
}

type endFramePDU struct {
	FrameID uint32
}

// SubmitFrame implements §4.7's Submit: rejects non-keyframes while
// needsKeyframe is set, rejects when the outstanding-frame budget is
// exhausted (unless acks are suspended), allocates a frame ID, builds
// the StartFrame/SurfaceCommand/EndFrame PDU triplet, and rolls back
// bookkeeping and sets needsKeyframe on any submission failure.
func (p *Pipeline) SubmitFrame(ef *frame.EncodedFrame) error {
	p.mu.Lock()

	if p.state != StateReady {
		p.mu.Unlock()
		return grderr.Failed("SubmitFrame called with no ready surface (state %v)", p.state)
	}

	if p.needsKeyframe && !ef.IsKeyframe {
		p.mu.Unlock()
		return grderr.NeedsKeyframe("graphics pipeline requires a keyframe before further delta frames")
	}

	trackAck := !p.acksSuspended
	if trackAck && p.outstandingFrames >= p.maxOutstandingFrames {
		p.metrics.recordDropped()
		p.mu.Unlock()
		return grderr.WouldBlock("frame backpressure: %d frames already outstanding", p.outstandingFrames)
	}

	frameID := p.allocateFrameID()
	if trackAck {
		p.outstandingFrames++
	}
	if ef.IsKeyframe {
		p.needsKeyframe = false
	}
	p.metrics.recordSubmitted(p.outstandingFrames)
	p.mu.Unlock()

	start := startFramePDU{Timestamp: buildTimestamp(), FrameID: frameID}
	cmd := surfaceCommandPDU{
		SurfaceID: ef.SurfaceID,
		Codec:     ef.Codec,
		Rect:      frame.Rect{Left: 0, Top: 0, Right: ef.Width, Bottom: ef.Height},
		Payload:   ef.Data,
	}
	end := endFramePDU{FrameID: frameID}

	if err := p.sendFrame(start, cmd, end); err != nil {
		p.mu.Lock()
		if trackAck && p.outstandingFrames > 0 {
			p.outstandingFrames--
		}
		p.needsKeyframe = true
		p.cond.Broadcast()
		p.mu.Unlock()
		return grderr.Wrap(grderr.KindFailed, err, "submit frame over rdpgfx")
	}

	ef.FrameID = frameID
	return nil
}

// sendFrame is where a real internal/rdplib.Session would hand the PDU
// triplet to the RDP library's SurfaceFrameCommand (or the
// StartFrame/SurfaceCommand/EndFrame trio when that single-call path
// isn't available). With no library wired in yet it always succeeds.
func (p *Pipeline) sendFrame(start startFramePDU, cmd surfaceCommandPDU, end endFramePDU) error {
	return nil
}
