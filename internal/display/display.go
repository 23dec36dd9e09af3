// Package display is a thin D-Bus client for the two external
// collaborators the system daemon depends on to create login sessions
// and terminate them (§6): the display-manager's remote-display
// factory, and systemd-logind. Both are out of scope to implement (§1
// "PAM authentication" and display-manager integration are external
// collaborators) — this package only names and calls their methods.
//
// Grounded on the call pattern in helixml-helix's
// api/pkg/desktop/session_portal.go: conn.Object(bus, path).Call(iface
// + ".Method", 0, args...).Store(&out).
package display

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/grd-project/grd/internal/grderr"
)

const (
	factoryBusName = "org.deepin.DisplayManager"
	factoryPath    = "/org/deepin/DisplayManager/RemoteDisplayFactory"
	factoryIface   = "org.deepin.DisplayManager.RemoteDisplayFactory"

	login1BusName = "org.freedesktop.login1"
	login1Path    = "/org/freedesktop/login1"
	login1Manager = "org.freedesktop.login1.Manager"
)

// Manager is the system daemon's handle to the display manager's
// remote-display factory and systemd-logind, both reached over the
// system bus.
type Manager struct {
	conn *dbus.Conn
}

// Connect opens a system-bus connection for display-manager and
// logind calls.
func Connect() (*Manager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "display: connect to system bus")
	}
	return &Manager{conn: conn}, nil
}

// Close releases the bus connection.
func (m *Manager) Close() error {
	return m.conn.Close()
}

// CreateGreeterDisplay invokes CreateRemoteGreeterDisplay, asking the
// display manager to start an unauthenticated greeter session bound to
// routingToken at the given resolution, and returns its session object
// path.
func (m *Manager) CreateGreeterDisplay(routingToken string, width, height int, peerIP string) (dbus.ObjectPath, error) {
	obj := m.conn.Object(factoryBusName, dbus.ObjectPath(factoryPath))
	var path dbus.ObjectPath
	call := obj.Call(factoryIface+".CreateRemoteGreeterDisplay", 0, routingToken, uint32(width), uint32(height), peerIP)
	if call.Err != nil {
		return "", grderr.Wrap(grderr.KindFailed, call.Err, "display: CreateRemoteGreeterDisplay")
	}
	if err := call.Store(&path); err != nil {
		return "", grderr.Wrap(grderr.KindFailed, err, "display: decode CreateRemoteGreeterDisplay reply")
	}
	return path, nil
}

// CreateSingleLogonSession invokes CreateSingleLogonSession, passing a
// shared-memory FD carrying PAM-validated credentials (§4.9 "pack the
// PAM-validated username+password into a shared-memory FD"). Callers
// are responsible for shm_unlink-ing authFD immediately after this call
// returns, per §5's credential-handling rule.
func (m *Manager) CreateSingleLogonSession(routingToken string, width, height int, authFD int, peerIP string) (dbus.ObjectPath, error) {
	obj := m.conn.Object(factoryBusName, dbus.ObjectPath(factoryPath))
	var path dbus.ObjectPath
	call := obj.Call(factoryIface+".CreateSingleLogonSession", 0, routingToken, uint32(width), uint32(height), dbus.UnixFD(authFD), peerIP)
	if call.Err != nil {
		return "", grderr.Wrap(grderr.KindFailed, call.Err, "display: CreateSingleLogonSession")
	}
	if err := call.Store(&path); err != nil {
		return "", grderr.Wrap(grderr.KindFailed, err, "display: decode CreateSingleLogonSession reply")
	}
	return path, nil
}

// LoginSession mirrors the subset of org.freedesktop.login1.Session
// properties §6 names: Type and Remote (used to identify sessions
// created on this server's behalf) plus the client_id property the
// daemon watches to detect session migration (§4.9).
type LoginSession struct {
	Path     dbus.ObjectPath
	Type     string
	Remote   bool
	ClientID string
}

// ListSessions calls org.freedesktop.login1.Manager.ListSessions and
// resolves each session's Type/Remote/ClientID properties.
func (m *Manager) ListSessions() ([]LoginSession, error) {
	obj := m.conn.Object(login1BusName, dbus.ObjectPath(login1Path))
	var raw [][]interface{}
	if err := obj.Call(login1Manager+".ListSessions", 0).Store(&raw); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "display: ListSessions")
	}

	sessions := make([]LoginSession, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 5 {
			continue
		}
		path, ok := entry[4].(dbus.ObjectPath)
		if !ok {
			continue
		}
		sess := LoginSession{Path: path}
		if props, err := m.sessionProperties(path); err == nil {
			sess.Type, _ = props["Type"].(string)
			sess.Remote, _ = props["Remote"].(bool)
			sess.ClientID, _ = props["ClientID"].(string)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (m *Manager) sessionProperties(path dbus.ObjectPath) (map[string]interface{}, error) {
	obj := m.conn.Object(login1BusName, path)
	var variants map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, "org.freedesktop.login1.Session").Store(&variants); err != nil {
		return nil, err
	}
	props := make(map[string]interface{}, len(variants))
	for k, v := range variants {
		props[k] = v.Value()
	}
	return props, nil
}

// TerminateSession calls org.freedesktop.login1.Manager.TerminateSession.
func (m *Manager) TerminateSession(sessionID string) error {
	obj := m.conn.Object(login1BusName, dbus.ObjectPath(login1Path))
	if err := obj.Call(login1Manager+".TerminateSession", 0, sessionID).Err; err != nil {
		return grderr.Wrap(grderr.KindFailed, err, fmt.Sprintf("display: TerminateSession(%s)", sessionID))
	}
	return nil
}
