//go:build linux

// Package x11 implements input.Injector with real XTest calls, the way
// internal/capture implements screen grabbing: cgo against libX11 plus
// one extension library, a package-level C context guarded by a Go
// mutex.
package x11

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXtst

#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XTest.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    Display* display;
    int screen;
    int hasXTest;
} InjectContext;

static InjectContext g_ictx = {0};

int xtestOpenDisplay(void) {
    if (g_ictx.display != NULL) {
        return 0;
    }
    g_ictx.display = XOpenDisplay(NULL);
    if (g_ictx.display == NULL) {
        return 1;
    }
    g_ictx.screen = DefaultScreen(g_ictx.display);

    int event, error, major, minor;
    if (!XTestQueryExtension(g_ictx.display, &event, &error, &major, &minor)) {
        XCloseDisplay(g_ictx.display);
        g_ictx.display = NULL;
        return 2;
    }
    g_ictx.hasXTest = 1;
    return 0;
}

void xtestCloseDisplay(void) {
    if (g_ictx.display != NULL) {
        XCloseDisplay(g_ictx.display);
    }
    memset(&g_ictx, 0, sizeof(g_ictx));
}

void xtestBounds(int* width, int* height) {
    if (g_ictx.display == NULL) {
        *width = 0;
        *height = 0;
        return;
    }
    *width = DisplayWidth(g_ictx.display, g_ictx.screen);
    *height = DisplayHeight(g_ictx.display, g_ictx.screen);
}

unsigned int xtestKeycodeForKeysym(unsigned long keysym) {
    if (g_ictx.display == NULL) {
        return 0;
    }
    KeyCode kc = XKeysymToKeycode(g_ictx.display, (KeySym)keysym);
    return (unsigned int)kc;
}

void xtestSendKey(unsigned int keycode, int press) {
    if (g_ictx.display == NULL) {
        return;
    }
    XTestFakeKeyEvent(g_ictx.display, keycode, press ? True : False, CurrentTime);
    XFlush(g_ictx.display);
}

void xtestSendMotion(int x, int y) {
    if (g_ictx.display == NULL) {
        return;
    }
    XTestFakeMotionEvent(g_ictx.display, -1, x, y, CurrentTime);
    XFlush(g_ictx.display);
}

void xtestSendButton(unsigned int button, int press) {
    if (g_ictx.display == NULL) {
        return;
    }
    XTestFakeButtonEvent(g_ictx.display, button, press ? True : False, CurrentTime);
    XFlush(g_ictx.display);
}

int xtestSetLayout(const char* name) {
    // Loading an alternate XKB layout at runtime is a setxkbmap-style
    // operation with no single libX11 call; real layout switching is
    // delegated to the display/session setup the system daemon already
    // performs before handing off to this worker. Report success for
    // the empty "system default" request and failure for anything else
    // so Dispatcher.Start's "us" fallback path is exercised honestly.
    if (name == NULL || name[0] == '\0') {
        return 0;
    }
    return 1;
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/grd-project/grd/internal/grderr"
	"github.com/grd-project/grd/internal/input"
)

type injector struct {
	mu sync.Mutex
}

// New returns an input.Injector backed by XTest on the local X display.
func New() input.Injector {
	return &injector{}
}

func (i *injector) Open() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch C.xtestOpenDisplay() {
	case 0:
		return nil
	case 1:
		return grderr.Failed("x11: failed to open display (is DISPLAY set?)")
	case 2:
		return grderr.NotSupported("x11: XTest extension unavailable")
	default:
		return grderr.Failed("x11: unknown display open error")
	}
}

func (i *injector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	C.xtestCloseDisplay()
	return nil
}

func (i *injector) Bounds() (int, int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var w, h C.int
	C.xtestBounds(&w, &h)
	return int(w), int(h), nil
}

func (i *injector) KeycodeForKeysym(keysym uint32) (uint8, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	kc := C.xtestKeycodeForKeysym(C.ulong(keysym))
	return uint8(kc), nil
}

func (i *injector) SendKey(keycode uint8, press bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	C.xtestSendKey(C.uint(keycode), boolToC(press))
	return nil
}

func (i *injector) SendMotion(x, y int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	C.xtestSendMotion(C.int(x), C.int(y))
	return nil
}

func (i *injector) SendButton(xButton int, press bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	C.xtestSendButton(C.uint(xButton), boolToC(press))
	return nil
}

func (i *injector) SetLayout(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	if C.xtestSetLayout(cname) != 0 {
		return grderr.NotSupported("x11: layout %q unavailable", name)
	}
	return nil
}

func boolToC(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

var _ input.Injector = (*injector)(nil)
