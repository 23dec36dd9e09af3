// Package daemon implements the privileged system-mode process (§4.9,
// §6): it owns the listening socket, peeks the routing token off each
// new connection before a worker process claims it, and brokers the
// handover over D-Bus so the per-user worker can take the client
// connection and terminate the RDP session under that user's account.
package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"net"
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/grd-project/grd/internal/display"
	"github.com/grd-project/grd/internal/grderr"
	"github.com/grd-project/grd/internal/logging"
	"github.com/grd-project/grd/internal/pam"
	"github.com/grd-project/grd/internal/secret"
	"github.com/grd-project/grd/internal/tpkt"
)

var logDaemon = logging.L("daemon")

const (
	// rateLimitMaxAttempts and rateLimitWindow bound how fast a single
	// peer IP can churn through handover registrations (§4.9's abuse
	// note on the listening socket being reachable pre-auth).
	rateLimitMaxAttempts = 10
	rateLimitWindow      = time.Minute
)

// SystemDaemon is the top-level object wiring together everything the
// privileged process needs: the handover registry, the rate limiter,
// the TLS material handed to workers, and (optionally) the
// display-manager and PAM collaborators used for single-logon sessions.
type SystemDaemon struct {
	Registry    *Registry
	RateLimiter *RateLimiter

	// SharedToken authenticates a worker process calling StartHandover:
	// it proves the caller holds the same shared secret the daemon
	// loaded from service.handover_token_file, rather than an unrelated
	// process racing the bus name.
	SharedToken *secret.AuthToken

	CertPEM []byte
	KeyPEM  []byte

	Display *display.Manager // nil if the display-manager collaborator isn't wired
	PAM     pam.Authenticator

	conn *dbus.Conn
	root *Root

	mu      sync.Mutex
	objects map[string]*HandoverObject // path -> exported handover object
}

// NewSystemDaemon builds a SystemDaemon with fresh registry and rate
// limiter state. certPEM/keyPEM are the raw PEM bytes returned to a
// worker's StartHandover call.
func NewSystemDaemon(certPEM, keyPEM []byte, sharedToken *secret.AuthToken) *SystemDaemon {
	return &SystemDaemon{
		Registry:    NewRegistry(),
		RateLimiter: NewRateLimiter(rateLimitMaxAttempts, rateLimitWindow),
		SharedToken: sharedToken,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
		PAM:         pam.NewAuthenticator(),
		objects:     make(map[string]*HandoverObject),
	}
}

// Start claims the daemon's well-known bus name and exports the root
// object. conn is expected to already be connected to the system bus.
func (d *SystemDaemon) Start(conn *dbus.Conn, port int) error {
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue|dbus.NameFlagReplaceExisting)
	if err != nil {
		return grderr.Wrap(grderr.KindFailed, err, "daemon: request bus name %s", BusName)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return grderr.Failed("daemon: bus name %s already owned", BusName)
	}

	root, err := NewRoot(conn, d.Registry, port, string(d.CertPEM), string(d.KeyPEM), fingerprintSHA256(d.CertPEM))
	if err != nil {
		return err
	}

	d.conn = conn
	d.root = root
	logDaemon.Info("system daemon ready", "bus_name", BusName, "port", port)
	return nil
}

// Serve accepts connections on ln until ctx is cancelled, peeking each
// one's routing token and registering it in the handover registry
// (§4.9 steps 1-3). The accept loop itself never reads the RDP
// protocol past the X.224 connection request; that's the worker
// process's job once it takes the socket over.
func (d *SystemDaemon) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return grderr.Wrap(grderr.KindFailed, err, "daemon: accept")
		}
		go d.handleConn(ctx, conn)
	}
}

func (d *SystemDaemon) handleConn(ctx context.Context, conn net.Conn) {
	peerIP := hostOnly(conn.RemoteAddr())

	if !d.RateLimiter.Allow(peerIP) {
		logDaemon.Warn("rejecting connection, peer exceeded rate limit", "peer", peerIP)
		conn.Close()
		return
	}

	peekCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	info, err := tpkt.Peek(peekCtx, conn)
	cancel()
	if err != nil {
		logDaemon.Warn("routing token peek failed", "peer", peerIP, "error", err)
		conn.Close()
		return
	}

	client, err := d.Registry.Register(conn, info.RoutingToken, peerIP)
	if err != nil {
		logDaemon.Warn("registration failed", "peer", peerIP, "error", err)
		conn.Close()
		return
	}

	if err := d.exportHandover(client); err != nil {
		logDaemon.Error("failed to export handover object", "path", client.Path, "error", err)
		d.Registry.Remove(client.Path)
		conn.Close()
		return
	}

	logDaemon.Info("registered client", "path", client.Path, "peer", peerIP, "requested_rdstls", info.RequestedRDSTLS)
}

// exportHandover publishes client's HandoverObject and wires its two
// callbacks to this daemon's credential material and socket-passing
// logic.
func (d *SystemDaemon) exportHandover(client *RemoteClient) error {
	h, err := ExportHandoverObject(d.conn, d.Registry, client,
		d.onStartHandover,
		d.onTakeClient,
	)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.objects[client.Path] = h
	d.mu.Unlock()
	return nil
}

func (d *SystemDaemon) onStartHandover(client *RemoteClient, authToken string) (string, string, error) {
	if d.SharedToken == nil || !d.SharedToken.Matches(authToken) {
		return "", "", grderr.PermissionDenied("daemon: handover auth token rejected for %s", client.Path)
	}
	return string(d.CertPEM), string(d.KeyPEM), nil
}

func (d *SystemDaemon) onTakeClient(client *RemoteClient) (int, error) {
	fc, ok := client.Conn.(fileConn)
	if !ok {
		return 0, grderr.NotSupported("daemon: connection does not support fd handoff")
	}
	f, err := fc.File()
	if err != nil {
		return 0, grderr.Wrap(grderr.KindFailed, err, "daemon: dup client connection fd")
	}

	d.Registry.Touch(client.Path)
	client.HandoverCount++
	d.Registry.Requeue(client.Path)

	return int(f.Fd()), nil
}

// Forget tears down a handed-off or disconnected client: unexports its
// bus object and removes it from the registry.
func (d *SystemDaemon) Forget(path string) {
	d.mu.Lock()
	h, ok := d.objects[path]
	delete(d.objects, path)
	d.mu.Unlock()

	if ok {
		h.Unexport()
	}
	d.Registry.Remove(path)
}

// RequestRestart asks the worker owning path to retry its handover
// (§4.9's retry path, e.g. after a PAM failure on a single-logon
// session).
func (d *SystemDaemon) RequestRestart(path string) error {
	d.mu.Lock()
	h, ok := d.objects[path]
	d.mu.Unlock()
	if !ok {
		return grderr.NotSupported("daemon: no handover object at %s", path)
	}
	return h.EmitRestartHandover()
}

// fileConn is satisfied by *net.TCPConn: File() dups the underlying fd
// into a new, blocking-mode os.File suitable for passing over D-Bus as
// a UnixFD.
type fileConn interface {
	File() (*os.File, error)
}

// fingerprintSHA256 hex-encodes the SHA-256 digest of the certificate's
// DER bytes, reported on the RemoteLogin.tls_fingerprint property so an
// operator can verify a worker is presenting the expected certificate.
func fingerprintSHA256(certPEM []byte) string {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return ""
	}
	sum := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:])
}

func hostOnly(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
