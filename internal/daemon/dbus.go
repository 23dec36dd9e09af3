package daemon

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/grd-project/grd/internal/grderr"
	"github.com/grd-project/grd/internal/logging"
)

// Bus surface for the system-mode daemon (§6). Grounded on the
// export/introspection pattern in helixml-helix's logind-stub: one
// long-lived object at a fixed path plus per-client objects created
// and destroyed as handovers come and go.
const (
	BusName = "org.deepin.RemoteDesktop1"

	rootPath = dbus.ObjectPath("/org/deepin/RemoteDesktop1")

	ifaceCore        = "org.deepin.RemoteDesktop1"
	ifaceRemoteLogin = "org.deepin.RemoteDesktop1.RemoteLogin"
	ifaceHandover    = "org.deepin.RemoteDesktop1.HandoverSession"
	ifaceProperties  = "org.freedesktop.DBus.Properties"
)

const rootIntrospectXML = `
<node>
  <interface name="org.deepin.RemoteDesktop1">
    <method name="RequestHandover">
      <arg name="session_path" type="o" direction="out"/>
    </method>
    <method name="RequestPort">
      <arg name="port" type="i" direction="out"/>
    </method>
    <property name="runtime_mode" type="s" access="read"/>
    <property name="version" type="s" access="read"/>
  </interface>
  <interface name="org.deepin.RemoteDesktop1.RemoteLogin">
    <method name="EnableRemoteLogin">
      <arg name="enabled" type="b" direction="in"/>
    </method>
    <method name="GetCredentials">
      <arg name="username" type="s" direction="out"/>
      <arg name="password" type="s" direction="out"/>
    </method>
    <method name="SetCredentials">
      <arg name="username" type="s" direction="in"/>
      <arg name="password" type="s" direction="in"/>
    </method>
    <method name="EnableNlaAuth">
      <arg name="enabled" type="b" direction="in"/>
    </method>
    <method name="EnableAutoLogoutRdpDisconnect">
      <arg name="enabled" type="b" direction="in"/>
    </method>
    <method name="GenNlaCredential">
      <arg name="token" type="s" direction="out"/>
    </method>
    <property name="enabled" type="b" access="read"/>
    <property name="port" type="i" access="read"/>
    <property name="tls_cert" type="s" access="read"/>
    <property name="tls_key" type="s" access="read"/>
    <property name="tls_fingerprint" type="s" access="read"/>
    <property name="nla_auth_enabled" type="b" access="read"/>
    <property name="auto_logout_on_disconnect" type="b" access="read"/>
    <property name="session_list" type="ao" access="read"/>
  </interface>
</node>`

const handoverIntrospectXML = `
<node>
  <interface name="org.deepin.RemoteDesktop1.HandoverSession">
    <method name="StartHandover">
      <arg name="auth_token" type="s" direction="in"/>
      <arg name="cert_pem" type="s" direction="out"/>
      <arg name="key_pem" type="s" direction="out"/>
    </method>
    <method name="TakeClient">
      <arg name="fd" type="h" direction="out"/>
    </method>
    <method name="GetSystemCredentials">
      <arg name="username" type="s" direction="out"/>
      <arg name="password" type="s" direction="out"/>
    </method>
    <signal name="RedirectClient">
      <arg name="routing_token" type="s"/>
      <arg name="auth_token" type="s"/>
    </signal>
    <signal name="TakeClientReady">
      <arg name="use_system_credentials" type="b"/>
    </signal>
    <signal name="RestartHandover"/>
    <property name="ip" type="s" access="read"/>
  </interface>
</node>`

// Root implements the fixed top-level bus object: the dispatcher-facing
// RequestHandover/RequestPort methods, and the RemoteLogin interface
// whose credential/NLA methods are all explicit Non-goals (§1) and fail
// closed with NotSupported rather than silently doing nothing.
type Root struct {
	conn     *dbus.Conn
	registry *Registry

	port int

	tlsCertPEM  string
	tlsKeyPEM   string
	tlsFpSHA256 string
}

// NewRoot exports the root object and its two interfaces on conn.
func NewRoot(conn *dbus.Conn, registry *Registry, port int, tlsCertPEM, tlsKeyPEM, tlsFingerprint string) (*Root, error) {
	root := &Root{
		conn:        conn,
		registry:    registry,
		port:        port,
		tlsCertPEM:  tlsCertPEM,
		tlsKeyPEM:   tlsKeyPEM,
		tlsFpSHA256: tlsFingerprint,
	}

	if err := conn.Export(root, rootPath, ifaceCore); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "daemon: export %s", ifaceCore)
	}
	if err := conn.Export(root, rootPath, ifaceRemoteLogin); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "daemon: export %s", ifaceRemoteLogin)
	}
	if err := conn.Export(&rootProps{root: root}, rootPath, ifaceProperties); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "daemon: export properties on %s", rootPath)
	}
	if err := conn.Export(introspect.NewIntrospectable(&introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: ifaceCore},
			{Name: ifaceRemoteLogin},
		},
	}), rootPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "daemon: export introspection on %s", rootPath)
	}

	return root, nil
}

// RequestHandover is called by a worker-process dispatcher once its RDP
// session has identified a routing token and wants the client socket
// handed over (§4.9 step 4).
func (r *Root) RequestHandover() (dbus.ObjectPath, *dbus.Error) {
	path, err := r.registry.RequestHandover()
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return dbus.ObjectPath(path), nil
}

// RequestPort reports the TCP port the daemon's listener is bound to, so
// a worker process that needs to reconnect (e.g. after a crash) can find
// it without re-reading configuration.
func (r *Root) RequestPort() (int32, *dbus.Error) {
	return int32(r.port), nil
}

func notSupported(method string) *dbus.Error {
	return dbus.MakeFailedError(grderr.NotSupported("daemon: %s is not implemented", method))
}

func (r *Root) EnableRemoteLogin(enabled bool) *dbus.Error { return notSupported("EnableRemoteLogin") }

func (r *Root) GetCredentials() (string, string, *dbus.Error) {
	return "", "", notSupported("GetCredentials")
}

func (r *Root) SetCredentials(username, password string) *dbus.Error {
	return notSupported("SetCredentials")
}

func (r *Root) EnableNlaAuth(enabled bool) *dbus.Error { return notSupported("EnableNlaAuth") }

func (r *Root) EnableAutoLogoutRdpDisconnect(enabled bool) *dbus.Error {
	return notSupported("EnableAutoLogoutRdpDisconnect")
}

func (r *Root) GenNlaCredential() (string, *dbus.Error) {
	return "", notSupported("GenNlaCredential")
}

// rootProps backs org.freedesktop.DBus.Properties for the root object,
// mirroring the propHandler shape the teacher's logind-stub uses.
type rootProps struct {
	root *Root
}

func (p *rootProps) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := p.GetAll(iface)
	if derr != nil {
		return dbus.Variant{}, derr
	}
	v, ok := all[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("property %s.%s not found", iface, prop))
	}
	return v, nil
}

func (p *rootProps) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case ifaceCore:
		return map[string]dbus.Variant{
			"runtime_mode": dbus.MakeVariant("system"),
			"version":      dbus.MakeVariant(Version),
		}, nil
	case ifaceRemoteLogin:
		paths := p.root.registry.SessionPaths()
		objs := make([]dbus.ObjectPath, len(paths))
		for i, s := range paths {
			objs[i] = dbus.ObjectPath(s)
		}
		return map[string]dbus.Variant{
			"enabled":                   dbus.MakeVariant(true),
			"port":                      dbus.MakeVariant(int32(p.root.port)),
			"tls_cert":                  dbus.MakeVariant(p.root.tlsCertPEM),
			"tls_key":                   dbus.MakeVariant(p.root.tlsKeyPEM),
			"tls_fingerprint":           dbus.MakeVariant(p.root.tlsFpSHA256),
			"nla_auth_enabled":          dbus.MakeVariant(false),
			"auto_logout_on_disconnect": dbus.MakeVariant(true),
			"session_list":              dbus.MakeVariant(objs),
		}, nil
	default:
		return map[string]dbus.Variant{}, nil
	}
}

func (p *rootProps) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return notSupported("Set " + iface + "." + prop)
}

// Version is reported on the core interface's version property.
const Version = "1.0"

// HandoverObject is the per-client object exported at
// handoverPathPrefix+token (§3, §4.9). It owns the StartHandover/
// TakeClient/GetSystemCredentials method trio and emits the
// RedirectClient/TakeClientReady/RestartHandover signals a dispatcher
// subscribes to.
type HandoverObject struct {
	conn     *dbus.Conn
	registry *Registry
	client   *RemoteClient
	authFD   int // set once TakeClient has handed off the connection's FD

	onStartHandover func(client *RemoteClient, authToken string) (certPEM, keyPEM string, err error)
	onTakeClient    func(client *RemoteClient) (fd int, err error)
}

// ExportHandoverObject publishes a HandoverObject for client on conn. The
// two callbacks let the orchestration layer supply the TLS material and
// the real file descriptor without this package needing to know how
// either is produced.
func ExportHandoverObject(
	conn *dbus.Conn,
	registry *Registry,
	client *RemoteClient,
	onStartHandover func(client *RemoteClient, authToken string) (certPEM, keyPEM string, err error),
	onTakeClient func(client *RemoteClient) (fd int, err error),
) (*HandoverObject, error) {
	h := &HandoverObject{
		conn:            conn,
		registry:        registry,
		client:          client,
		authFD:          -1,
		onStartHandover: onStartHandover,
		onTakeClient:    onTakeClient,
	}

	path := dbus.ObjectPath(client.Path)
	if err := conn.Export(h, path, ifaceHandover); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "daemon: export %s", path)
	}
	if err := conn.Export(&handoverProps{h: h}, path, ifaceProperties); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "daemon: export properties on %s", path)
	}
	if err := conn.Export(introspect.NewIntrospectable(&introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: ifaceHandover},
		},
	}), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "daemon: export introspection on %s", path)
	}

	return h, nil
}

// Unexport removes this object from the bus, used once a client's
// handover session has fully completed or the client disconnected.
func (h *HandoverObject) Unexport() {
	path := dbus.ObjectPath(h.client.Path)
	h.conn.Export(nil, path, ifaceHandover)
	h.conn.Export(nil, path, ifaceProperties)
	h.conn.Export(nil, path, "org.freedesktop.DBus.Introspectable")
}

// StartHandover validates the worker-supplied auth token against the
// expectation the dispatcher set up out of band, then returns the TLS
// material the worker needs to terminate the RDP connection itself
// (§4.9 step 5, "worker presents auth_token, daemon replies with the
// certificate material").
func (h *HandoverObject) StartHandover(authToken string) (string, string, *dbus.Error) {
	h.registry.Touch(h.client.Path)
	cert, key, err := h.onStartHandover(h.client, authToken)
	if err != nil {
		return "", "", dbus.MakeFailedError(err)
	}
	return cert, key, nil
}

// TakeClient hands the underlying client socket's file descriptor to the
// calling worker process over the bus (§4.9 step 6). Once called the
// client's connection is no longer this daemon's to read or write.
func (h *HandoverObject) TakeClient() (dbus.UnixFD, *dbus.Error) {
	fd, err := h.onTakeClient(h.client)
	if err != nil {
		return 0, dbus.MakeFailedError(err)
	}
	h.authFD = fd
	return dbus.UnixFD(fd), nil
}

// GetSystemCredentials is an explicit Non-goal (§1): the daemon never
// hands out a system account's password over the bus.
func (h *HandoverObject) GetSystemCredentials() (string, string, *dbus.Error) {
	return "", "", notSupported("GetSystemCredentials")
}

// EmitRedirectClient signals the worker that a new client has been
// routed to it and should be picked up via RequestHandover.
func (h *HandoverObject) EmitRedirectClient(routingToken, authToken string) error {
	return h.conn.Emit(dbus.ObjectPath(h.client.Path), ifaceHandover+".RedirectClient", routingToken, authToken)
}

// EmitTakeClientReady signals the worker that TakeClient may now be
// called, and whether the daemon-held system credentials should be used
// for the login rather than credentials the worker collected itself.
func (h *HandoverObject) EmitTakeClientReady(useSystemCredentials bool) error {
	return h.conn.Emit(dbus.ObjectPath(h.client.Path), ifaceHandover+".TakeClientReady", useSystemCredentials)
}

// EmitRestartHandover tells the worker its handover attempt failed and
// it should call StartHandover again (§4.9's retry path).
func (h *HandoverObject) EmitRestartHandover() error {
	return h.conn.Emit(dbus.ObjectPath(h.client.Path), ifaceHandover+".RestartHandover")
}

type handoverProps struct {
	h *HandoverObject
}

func (p *handoverProps) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	if iface == ifaceHandover && prop == "ip" {
		return dbus.MakeVariant(p.h.client.PeerIP), nil
	}
	return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("property %s.%s not found", iface, prop))
}

func (p *handoverProps) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface == ifaceHandover {
		return map[string]dbus.Variant{"ip": dbus.MakeVariant(p.h.client.PeerIP)}, nil
	}
	return map[string]dbus.Variant{}, nil
}

func (p *handoverProps) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return notSupported("Set " + iface + "." + prop)
}

// tokenFromPath extracts the routing token suffix from a handover object
// path, the inverse of handoverPath.
func tokenFromPath(path dbus.ObjectPath) (string, bool) {
	s := string(path)
	if !strings.HasPrefix(s, handoverPathPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, handoverPathPrefix), true
}

var logDbus = logging.L("daemon.dbus")
