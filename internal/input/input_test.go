package input

import "testing"

type fakeInjector struct {
	opened     bool
	layout     string
	boundsW    int
	boundsH    int
	keysymMap  map[uint32]uint8
	keyEvents  []keyEvent
	motions    [][2]int
	buttons    []buttonEvent
}

type keyEvent struct {
	keycode uint8
	press   bool
}

type buttonEvent struct {
	xButton int
	press   bool
}

func (f *fakeInjector) Open() error  { f.opened = true; return nil }
func (f *fakeInjector) Close() error { f.opened = false; return nil }
func (f *fakeInjector) Bounds() (int, int, error) {
	return f.boundsW, f.boundsH, nil
}
func (f *fakeInjector) KeycodeForKeysym(keysym uint32) (uint8, error) {
	return f.keysymMap[keysym], nil
}
func (f *fakeInjector) SendKey(keycode uint8, press bool) error {
	f.keyEvents = append(f.keyEvents, keyEvent{keycode, press})
	return nil
}
func (f *fakeInjector) SendMotion(x, y int) error {
	f.motions = append(f.motions, [2]int{x, y})
	return nil
}
func (f *fakeInjector) SendButton(xButton int, press bool) error {
	f.buttons = append(f.buttons, buttonEvent{xButton, press})
	return nil
}
func (f *fakeInjector) SetLayout(name string) error { f.layout = name; return nil }

type fakeScancodes struct {
	table map[uint16]uint8
}

func (f *fakeScancodes) Keycode(scancode uint16, extended bool) uint8 {
	key := scancode
	if extended {
		key += 1000
	}
	return f.table[key]
}

func newTestDispatcher(t *testing.T, w, h int) (*Dispatcher, *fakeInjector) {
	t.Helper()
	fi := &fakeInjector{boundsW: w, boundsH: h, keysymMap: map[uint32]uint8{}}
	d := NewDispatcher(fi, &fakeScancodes{table: map[uint16]uint8{}})
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return d, fi
}

func TestInjectScancodeCachesResolvedKeycode(t *testing.T) {
	fi := &fakeInjector{boundsW: 1920, boundsH: 1080, keysymMap: map[uint32]uint8{}}
	scancodes := &fakeScancodes{table: map[uint16]uint8{0x1E: 38}}
	d := NewDispatcher(fi, scancodes)
	if err := d.Start(); err != nil {
		t.Fatalf("Start(): %v", err)
	}

	if err := d.InjectScancode(0x1E, 0); err != nil {
		t.Fatalf("InjectScancode: %v", err)
	}
	delete(scancodes.table, 0x1E) // prove the second call hits the cache, not the table
	if err := d.InjectScancode(0x1E, FlagRelease); err != nil {
		t.Fatalf("InjectScancode: %v", err)
	}

	if len(fi.keyEvents) != 2 {
		t.Fatalf("got %d key events, want 2", len(fi.keyEvents))
	}
	if fi.keyEvents[0].keycode != 38 || !fi.keyEvents[0].press {
		t.Fatalf("first event = %+v, want press keycode 38", fi.keyEvents[0])
	}
	if fi.keyEvents[1].keycode != 38 || fi.keyEvents[1].press {
		t.Fatalf("second event = %+v, want release keycode 38", fi.keyEvents[1])
	}
}

func TestInjectScancodeZeroKeycodeDropsSilently(t *testing.T) {
	d, fi := newTestDispatcher(t, 1920, 1080)
	if err := d.InjectScancode(0x99, 0); err != nil {
		t.Fatalf("InjectScancode: %v", err)
	}
	if len(fi.keyEvents) != 0 {
		t.Fatalf("expected no key events for unresolvable scancode, got %d", len(fi.keyEvents))
	}
}

func TestInjectScancodeFallsBackForRightModifier(t *testing.T) {
	fi := &fakeInjector{
		boundsW:   1920,
		boundsH:   1080,
		keysymMap: map[uint32]uint8{keysymControlR: 105},
	}
	// Primary table returns 0 for the extended (right Ctrl) variant.
	scancodes := &fakeScancodes{table: map[uint16]uint8{}}
	d := NewDispatcher(fi, scancodes)
	if err := d.Start(); err != nil {
		t.Fatalf("Start(): %v", err)
	}

	if err := d.InjectScancode(scancodeLControl, FlagExtended); err != nil {
		t.Fatalf("InjectScancode: %v", err)
	}
	if len(fi.keyEvents) != 1 || fi.keyEvents[0].keycode != 105 {
		t.Fatalf("expected fallback keycode 105, got %+v", fi.keyEvents)
	}
}

func TestInjectUnicodeMapsControlCharacters(t *testing.T) {
	fi := &fakeInjector{boundsW: 1920, boundsH: 1080, keysymMap: map[uint32]uint8{keysymReturn: 36}}
	d := NewDispatcher(fi, &fakeScancodes{table: map[uint16]uint8{}})
	d.Start()

	if err := d.InjectUnicode('\r', true); err != nil {
		t.Fatalf("InjectUnicode: %v", err)
	}
	if len(fi.keyEvents) != 1 || fi.keyEvents[0].keycode != 36 {
		t.Fatalf("expected Return keysym to resolve to keycode 36, got %+v", fi.keyEvents)
	}
}

func TestInjectUnicodeAstralPlaneSetsHighBit(t *testing.T) {
	const emoji = 0x1F600
	fi := &fakeInjector{boundsW: 1920, boundsH: 1080, keysymMap: map[uint32]uint8{uint32(emoji) | 0x01000000: 1}}
	d := NewDispatcher(fi, &fakeScancodes{table: map[uint16]uint8{}})
	d.Start()

	if err := d.InjectUnicode(rune(emoji), true); err != nil {
		t.Fatalf("InjectUnicode: %v", err)
	}
	if len(fi.keyEvents) != 1 {
		t.Fatal("expected astral code point to resolve via the 0x01000000 keysym offset")
	}
}

func TestInjectMotionScalesToDesktopResolution(t *testing.T) {
	d, fi := newTestDispatcher(t, 3840, 2160)
	d.SetStreamResolution(1920, 1080)

	if err := d.InjectMotion(960, 540); err != nil {
		t.Fatalf("InjectMotion: %v", err)
	}
	if len(fi.motions) != 1 {
		t.Fatal("expected one motion event")
	}
	if fi.motions[0][0] != 1920 || fi.motions[0][1] != 1080 {
		t.Fatalf("motion = %v, want scaled (1920,1080)", fi.motions[0])
	}
}

func TestInjectMotionClampsOutOfRangeCoordinates(t *testing.T) {
	d, fi := newTestDispatcher(t, 1920, 1080)
	d.SetStreamResolution(1920, 1080)

	if err := d.InjectMotion(5000, -10); err != nil {
		t.Fatalf("InjectMotion: %v", err)
	}
	if fi.motions[0][0] != 1919 || fi.motions[0][1] != 0 {
		t.Fatalf("motion = %v, want clamped (1919,0)", fi.motions[0])
	}
}

func TestInjectButtonAppliesMiddleRightSwap(t *testing.T) {
	d, fi := newTestDispatcher(t, 1920, 1080)

	d.InjectButton(Button1, true)
	d.InjectButton(Button2, true)
	d.InjectButton(Button3, true)

	want := []int{1, 3, 2}
	for i, b := range fi.buttons {
		if b.xButton != want[i] {
			t.Fatalf("button %d = %d, want %d", i, b.xButton, want[i])
		}
	}
}

func TestInjectWheelSelectsDirectionButtons(t *testing.T) {
	d, fi := newTestDispatcher(t, 1920, 1080)

	d.InjectWheel(false, false) // vertical, positive -> button 4
	d.InjectWheel(false, true)  // vertical, negative -> button 5
	d.InjectWheel(true, false)  // horizontal, positive -> button 6
	d.InjectWheel(true, true)   // horizontal, negative -> button 7

	want := []int{4, 5, 6, 7}
	for i, w := range want {
		idx := i * 2 // each wheel click emits press+release
		if fi.buttons[idx].xButton != w {
			t.Fatalf("wheel click %d used button %d, want %d", i, fi.buttons[idx].xButton, w)
		}
	}
}

func TestStartFallsBackToDefaultDesktopBoundsWhenQueryIsZero(t *testing.T) {
	fi := &fakeInjector{boundsW: 0, boundsH: 0, keysymMap: map[uint32]uint8{}}
	d := NewDispatcher(fi, &fakeScancodes{table: map[uint16]uint8{}})
	if err := d.Start(); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	if d.desktopW != 1920 || d.desktopH != 1080 {
		t.Fatalf("desktop bounds = (%d,%d), want defaults (1920,1080)", d.desktopW, d.desktopH)
	}
}
