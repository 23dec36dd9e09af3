package daemon

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grd-project/grd/internal/grderr"
	"github.com/grd-project/grd/internal/rdplib"
)

const (
	handoverPathPrefix = "/org/deepin/RemoteDesktop1/HandoverSession"

	// maxPending bounds the FIFO queue of clients awaiting a
	// dispatcher's RequestHandover (§3 "queue size bounded at 32").
	maxPending = 32

	// staleAfter is how long an unassigned client may sit idle before
	// it is pruned from the registry (§3, §4.9).
	staleAfter = 30 * time.Second
)

// RemoteClient is one handover-protocol client tracked by the registry
// (§3's HandoverRegistry per-client state).
type RemoteClient struct {
	Token string
	Path  string

	Conn net.Conn
	// Session is bound once the RDP library's session reaches its
	// "ready" callback (§4.9 step 4); nil until then.
	Session rdplib.Session

	Assigned      bool
	HandoverCount int
	LastActivity  time.Time

	Resolution rdplib.Resolution
	PeerIP     string

	// LightdmSessionPath is the login-session object path the display
	// manager returned for this client, if any (§4.9's greeter/
	// single-logon session creation).
	LightdmSessionPath string
}

// Registry implements §3's HandoverRegistry: the handover_path ->
// RemoteClient map, the FIFO pending queue, and the pruning rule.
// It is shared by the per-connection goroutines that Register new
// clients, the D-Bus method handlers, and the idle-reaper goroutine;
// every method takes the mutex.
type Registry struct {
	mu       sync.Mutex
	clients  map[string]*RemoteClient // path -> client
	pending  []*RemoteClient          // FIFO, oldest first
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*RemoteClient)}
}

func handoverPath(token string) string {
	return handoverPathPrefix + token
}

// randomToken generates a non-zero, uniformly-random 32-bit decimal
// token string (§3's routing_token format).
func randomToken() (string, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", grderr.Wrap(grderr.KindFailed, err, "daemon: generate routing token")
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v != 0 {
			return strconv.FormatUint(uint64(v), 10), nil
		}
	}
}

// Register allocates a RemoteClient for a newly-accepted connection.
// peekedToken, if non-empty and not already registered, is reused
// verbatim; otherwise a fresh token is generated (§4.9 step 3).
func (r *Registry) Register(conn net.Conn, peekedToken, peerIP string) (*RemoteClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneStaleLocked()

	token := peekedToken
	if token == "" || r.clients[handoverPath(token)] != nil {
		var err error
		for {
			token, err = randomToken()
			if err != nil {
				return nil, err
			}
			if r.clients[handoverPath(token)] == nil {
				break
			}
		}
	}

	if len(r.pending) >= maxPending {
		return nil, grderr.WouldBlock("daemon: pending handover queue full (%d entries)", maxPending)
	}

	client := &RemoteClient{
		Token:        token,
		Path:         handoverPath(token),
		Conn:         conn,
		PeerIP:       peerIP,
		LastActivity: time.Now(),
	}
	r.clients[client.Path] = client
	r.pending = append(r.pending, client)
	return client, nil
}

// Get returns the client published at path, if any.
func (r *Registry) Get(path string) (*RemoteClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[path]
	return c, ok
}

// GetByToken returns the client for a given routing token.
func (r *Registry) GetByToken(token string) (*RemoteClient, bool) {
	return r.Get(handoverPath(token))
}

// RequestHandover implements the dispatcher's RequestHandover method:
// prune stale entries, pop the pending queue's head, mark it assigned,
// and return its object path.
func (r *Registry) RequestHandover() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneStaleLocked()

	if len(r.pending) == 0 {
		return "", grderr.NotSupported("daemon: no pending handover clients")
	}

	client := r.pending[0]
	r.pending = r.pending[1:]
	client.Assigned = true
	client.LastActivity = time.Now()
	return client.Path, nil
}

// Requeue places an already-registered client back onto the pending
// queue, clearing Assigned (used by TakeClient after a handover).
func (r *Registry) Requeue(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[path]
	if !ok {
		return
	}
	c.Assigned = false
	c.LastActivity = time.Now()
	r.pending = append(r.pending, c)
}

// Remove deletes a client entirely, from both the map and any pending
// queue position.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, path)
	r.removeFromPendingLocked(path)
}

// Touch refreshes a client's last-activity timestamp, keeping it from
// being pruned (§4.9 step 2, "update last_activity_us").
func (r *Registry) Touch(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[path]; ok {
		c.LastActivity = time.Now()
	}
}

// SessionPaths returns every client's object path, for the remote-login
// interface's SessionList property (§4's invariant: SessionList always
// equals the set of keys in the registry).
func (r *Registry) SessionPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.clients))
	for p := range r.clients {
		paths = append(paths, p)
	}
	return paths
}

func (r *Registry) removeFromPendingLocked(path string) {
	for i, c := range r.pending {
		if c.Path == path {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

func (r *Registry) pruneStaleLocked() {
	now := time.Now()
	for path, c := range r.clients {
		if !c.Assigned && now.Sub(c.LastActivity) >= staleAfter {
			delete(r.clients, path)
			r.removeFromPendingLocked(path)
		}
	}
}

// PruneStale removes unassigned clients idle for at least 30s. Exposed
// for the idle-reaper goroutine (StartIdleReaper) and for tests.
func (r *Registry) PruneStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneStaleLocked()
}

// idleCheckInterval is how often StartIdleReaper scans for stale
// entries, grounded on the teacher's sessionbroker.IdleCheckInterval.
const idleCheckInterval = 10 * time.Second

// StartIdleReaper runs PruneStale on a ticker until stop is closed.
func (r *Registry) StartIdleReaper(stop <-chan struct{}) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.PruneStale()
		case <-stop:
			return
		}
	}
}
