// Package input implements the RDP input-dispatch core: scancode and
// Unicode keyboard injection with a resolved-keycode cache, and pointer
// event injection with stream-to-desktop coordinate scaling (§4.6). The
// actual XTest calls live behind the Injector interface so this package
// stays free of cgo and is trivially testable with a fake injector.
package input

import (
	"math"
	"sync"

	"github.com/grd-project/grd/internal/logging"
)

var log = logging.L("input")

// Scancode flag bits, matching the RDP Keyboard Event PDU's flags field.
const (
	FlagExtended  uint16 = 0x0100
	FlagExtended1 uint16 = 0x0200
	FlagRelease   uint16 = 0x8000
)

// X keysym values for the handful of control characters §4.6 maps
// explicitly, plus the left/right modifier keysyms used by the
// scancode fallback table.
const (
	keysymBackSpace = 0xFF08
	keysymTab       = 0xFF09
	keysymLinefeed  = 0xFF0A
	keysymReturn    = 0xFF0D

	keysymShiftL   = 0xFFE1
	keysymShiftR   = 0xFFE2
	keysymControlL = 0xFFE3
	keysymControlR = 0xFFE4
	keysymAltL     = 0xFFE9
	keysymAltR     = 0xFFEA
	keysymSuperL   = 0xFFEB
	keysymSuperR   = 0xFFEC
)

// Scancodes of the left-side modifier keys the fallback table handles
// when the RDP library's primary scancode table returns a zero keycode
// for a right-side variant it doesn't know about.
const (
	scancodeLMenu    uint16 = 0x38
	scancodeLControl uint16 = 0x1D
	scancodeLShift   uint16 = 0x2A
	scancodeLWin     uint16 = 0x5B
)

var modifierKeysyms = map[uint16][2]uint32{
	scancodeLMenu:    {keysymAltL, keysymAltR},
	scancodeLControl: {keysymControlL, keysymControlR},
	scancodeLShift:   {keysymShiftL, keysymShiftR},
	scancodeLWin:     {keysymSuperL, keysymSuperR},
}

func fallbackKeysym(scancode uint16, extended bool) (uint32, bool) {
	pair, ok := modifierKeysyms[scancode]
	if !ok {
		return 0, false
	}
	if extended {
		return pair[1], true
	}
	return pair[0], true
}

// unicodeKeysym implements §4.6's code-point-to-keysym mapping.
func unicodeKeysym(cp rune) (uint32, bool) {
	switch cp {
	case '\r':
		return keysymReturn, true
	case '\n':
		return keysymLinefeed, true
	case '\t':
		return keysymTab, true
	case '\b':
		return keysymBackSpace, true
	}
	switch {
	case cp >= 0x0000 && cp <= 0x00FF:
		return uint32(cp), true
	case cp >= 0x0100 && cp <= 0x10FFFF:
		return uint32(cp) | 0x01000000, true
	default:
		return 0, false
	}
}

// Button is one of the three RDP pointer buttons, named by their PDU
// flag rather than by screen position — the X mapping applies the
// middle/right swap itself.
type Button int

const (
	Button1 Button = iota // left
	Button2                // right
	Button3                // middle
)

// xButton maps an RDP pointer button to the X button number XTest
// expects, applying §4.6's BUTTON1->1, BUTTON3->2, BUTTON2->3 swap.
func xButton(b Button) int {
	switch b {
	case Button1:
		return 1
	case Button3:
		return 2
	case Button2:
		return 3
	default:
		return 0
	}
}

// ScancodeTable is the RDP library's scancode->keycode lookup, an
// external collaborator (§1 "out of scope", §6).
type ScancodeTable interface {
	Keycode(scancode uint16, extended bool) uint8
}

// Injector performs the actual XTest/X11 calls. Implemented by
// internal/input/x11 on Linux; kept as an interface so Dispatcher has
// no cgo dependency of its own.
type Injector interface {
	Open() error
	Close() error
	Bounds() (width, height int, err error)
	KeycodeForKeysym(keysym uint32) (uint8, error)
	SendKey(keycode uint8, press bool) error
	SendMotion(x, y int) error
	SendButton(xButton int, press bool) error
	SetLayout(name string) error
}

const cacheSize = 512

// Dispatcher resolves RDP input events to X11 injections, holding the
// scancode cache and the stream<->desktop coordinate transform.
type Dispatcher struct {
	mu sync.Mutex

	injector  Injector
	scancodes ScancodeTable

	cache [cacheSize]int32 // -1 = not yet resolved

	desktopW, desktopH int
	streamW, streamH   int
}

// NewDispatcher builds a Dispatcher. Call Start before injecting events.
func NewDispatcher(injector Injector, scancodes ScancodeTable) *Dispatcher {
	d := &Dispatcher{injector: injector, scancodes: scancodes}
	for i := range d.cache {
		d.cache[i] = -1
	}
	d.streamW, d.streamH = 1920, 1080
	d.desktopW, d.desktopH = 1920, 1080
	return d
}

// Start opens the X display, verifies XTest, and loads a keyboard
// layout, trying the system default before falling back to US.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.injector.Open(); err != nil {
		return err
	}

	w, h, err := d.injector.Bounds()
	if err == nil && w > 0 && h > 0 {
		d.desktopW, d.desktopH = w, h
	} else {
		log.Warn("X display reported empty bounds, using defaults", "width", 1920, "height", 1080)
	}

	if err := d.injector.SetLayout(""); err != nil {
		if err := d.injector.SetLayout("us"); err != nil {
			log.Warn("failed to set keyboard layout, injection may mismap symbols", "error", err)
		}
	}
	return nil
}

// Stop closes the X display and clears the scancode cache.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.cache {
		d.cache[i] = -1
	}
	return d.injector.Close()
}

// SetStreamResolution updates the encoder-side resolution the pointer
// scaling math maps incoming coordinates from.
func (d *Dispatcher) SetStreamResolution(w, h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w > 0 {
		d.streamW = w
	}
	if h > 0 {
		d.streamH = h
	}
}

func (d *Dispatcher) resolveKeycode(scancode uint16, extended bool) uint8 {
	idx := scancode
	if extended {
		idx += 256
	}
	if idx >= cacheSize {
		return 0
	}
	if cached := d.cache[idx]; cached >= 0 {
		return uint8(cached)
	}

	keycode := d.scancodes.Keycode(scancode, extended)
	if keycode == 0 {
		if keysym, ok := fallbackKeysym(scancode, extended); ok {
			if kc, err := d.injector.KeycodeForKeysym(keysym); err == nil {
				keycode = kc
			}
		}
	}
	d.cache[idx] = int32(keycode)
	if keycode == 0 {
		log.Warn("no keycode for scancode, dropping", "scancode", scancode, "extended", extended)
	}
	return keycode
}

// InjectScancode handles a Keyboard Event PDU: resolves (scancode,
// extended) to an X keycode via the cache and injects press/release. A
// zero keycode is silently dropped, not an error.
func (d *Dispatcher) InjectScancode(scancode uint16, flags uint16) error {
	d.mu.Lock()
	release := flags&FlagRelease != 0
	extended := flags&(FlagExtended|FlagExtended1) != 0
	keycode := d.resolveKeycode(scancode, extended)
	d.mu.Unlock()

	if keycode == 0 {
		return nil
	}
	return d.injector.SendKey(keycode, !release)
}

// InjectUnicode handles a Unicode Keyboard Event PDU. Silently drops
// code points with no keysym mapping or keycode resolution.
func (d *Dispatcher) InjectUnicode(cp rune, press bool) error {
	keysym, ok := unicodeKeysym(cp)
	if !ok {
		return nil
	}
	kc, err := d.injector.KeycodeForKeysym(keysym)
	if err != nil || kc == 0 {
		return nil
	}
	return d.injector.SendKey(kc, press)
}

// scalePoint clamps (x, y) to the stream bounds, then scales into
// desktop coordinates when the two resolutions differ (§4.6).
func (d *Dispatcher) scalePoint(x, y int) (int, int) {
	x = clamp(x, 0, d.streamW-1)
	y = clamp(y, 0, d.streamH-1)

	if d.desktopW == d.streamW && d.desktopH == d.streamH {
		return x, y
	}

	sx := float64(d.desktopW) / float64(d.streamW)
	sy := float64(d.desktopH) / float64(d.streamH)
	nx := int(math.Round(float64(x) * sx))
	ny := int(math.Round(float64(y) * sy))
	return clamp(nx, 0, d.desktopW-1), clamp(ny, 0, d.desktopH-1)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InjectMotion injects a pointer-move event, scaling from stream to
// desktop coordinates.
func (d *Dispatcher) InjectMotion(x, y int) error {
	d.mu.Lock()
	nx, ny := d.scalePoint(x, y)
	d.mu.Unlock()
	return d.injector.SendMotion(nx, ny)
}

// InjectButton injects a pointer button press/release, applying the
// BUTTON1/BUTTON2/BUTTON3 -> X 1/3/2 swap.
func (d *Dispatcher) InjectButton(b Button, press bool) error {
	xb := xButton(b)
	if xb == 0 {
		return nil
	}
	return d.injector.SendButton(xb, press)
}

// InjectWheel injects a wheel click as an X button 4/5 (vertical) or
// 6/7 (horizontal) press+release, selecting direction from negative.
func (d *Dispatcher) InjectWheel(horizontal bool, negative bool) error {
	xb := 4
	if horizontal {
		xb = 6
	}
	if negative {
		xb++
	}
	if err := d.injector.SendButton(xb, true); err != nil {
		return err
	}
	return d.injector.SendButton(xb, false)
}
