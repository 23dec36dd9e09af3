// Package rdplib describes the boundary to the external RDP protocol
// library this server builds on: protocol negotiation, licensing, NLA,
// and virtual-channel plumbing are explicitly out of scope (§1) and
// delegated to that library. This package names the shape of that
// collaborator — the types and callbacks internal/gfx, internal/input,
// and internal/daemon talk to — without implementing the protocol
// itself, the way a vendored client SDK would be wrapped.
//
// Grounded on the two reference RDP client bindings in the example
// pack (rcarmo/go-rdp and gravitational/teleport's rdpclient): both
// wrap a native/Rust RDP implementation behind a Go Config struct with
// callback fields and an opaque per-connection handle, which is the
// shape followed here.
package rdplib

// ClientFamily distinguishes client behaviors the handover and codec
// negotiation paths care about (§4.9's "client is mstsc-family" check).
type ClientFamily int

const (
	FamilyUnknown ClientFamily = iota
	FamilyMSTSC
	FamilyOther
)

// CapabilitySetVersions lists the RDPGFX capability-set versions this
// server understands, in the descending probe order §4.7 specifies.
var CapabilitySetVersions = []uint32{107, 106, 0x1060A, 105, 104, 103, 102, 101, 10, 0x81, 8}

// Capabilities is the negotiated flag set produced by intersecting a
// client's advertised RDPGFX capability set with this server's own,
// per §4.7's per-flag rules.
type Capabilities struct {
	Version       uint32
	SmallCache    bool
	AVC444v2      bool
	AVC444        bool
	H264          bool // AVC420
	Progressive   bool
	ProgressiveV2 bool
	RemoteFxCodec bool
	Planar        bool
	AVCDisabled   bool
	ThinClient    bool
}

// Resolution is a client's reported (or negotiated) desktop size.
type Resolution struct {
	Width, Height int
}

// PeerInfo is what the library reports about a connected client once
// its handshake completes.
type PeerInfo struct {
	Family     ClientFamily
	Resolution Resolution
}

// Session is the external library's per-connection handle. The real
// implementation negotiates the wire protocol, NLA, and virtual
// channels; this server only registers callbacks and issues the small
// set of commands §4.7 and §4.9 specify (submit frames, request a
// server redirection, read peer info).
type Session interface {
	// Peer returns what the library has learned about the connected
	// client once its handshake completes.
	Peer() (PeerInfo, error)

	// OnCapsAdvertise registers the callback invoked when the client
	// sends its RDPGFX CapsAdvertise PDU.
	OnCapsAdvertise(func(Capabilities))
	// OnFrameAcknowledge registers the callback invoked on each
	// RDPGFX FrameAcknowledge PDU (frame ID plus queue-depth hint).
	OnFrameAcknowledge(func(frameID uint32, queueDepth int))
	// OnChannelIdAssigned registers the callback invoked once the
	// RDPGFX virtual channel is bound to a channel ID.
	OnChannelIdAssigned(func(channelID uint32))

	// SubmitSurfaceBits sends a legacy Surface-Bits update, used when
	// the client's negotiated capability set excludes RDPGFX.
	SubmitSurfaceBits(payload []byte, codec uint32) error
	// SubmitGraphicsFrame sends a RDPGFX WireToSurface frame.
	SubmitGraphicsFrame(surfaceID uint16, frameID uint32, payload []byte) error

	// SendServerRedirection emits a Server Redirection PDU carrying
	// the routing token, one-time credentials, and server certificate
	// a handed-off client reconnects with (§4.9's StartHandover).
	SendServerRedirection(routingToken, username, password string, certificatePEM []byte) error

	Close() error
}

// ScancodeTable is the library's scancode->keycode lookup, satisfying
// internal/input.ScancodeTable without internal/input importing this
// package (the dependency runs the other way: whatever wires a real
// Session together also wires its ScancodeTable into a Dispatcher).
type ScancodeTable interface {
	Keycode(scancode uint16, extended bool) uint8
}
