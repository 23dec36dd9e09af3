package daemon

import (
	"testing"
	"time"
)

func TestRegisterReusesPeekedToken(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(nil, "17", "10.0.0.1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if c.Token != "17" {
		t.Fatalf("Token = %q, want %q", c.Token, "17")
	}
	if c.Path != "/org/deepin/RemoteDesktop1/HandoverSession17" {
		t.Fatalf("Path = %q", c.Path)
	}
}

func TestRegisterGeneratesTokenWhenPeekedTokenTaken(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(nil, "17", "10.0.0.1"); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}
	c2, err := r.Register(nil, "17", "10.0.0.2")
	if err != nil {
		t.Fatalf("second Register() error: %v", err)
	}
	if c2.Token == "17" {
		t.Fatal("second client should not reuse an already-registered token")
	}
}

func TestRequestHandoverPopsFIFOOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(nil, "1", "10.0.0.1")
	r.Register(nil, "2", "10.0.0.2")

	path, err := r.RequestHandover()
	if err != nil {
		t.Fatalf("RequestHandover() error: %v", err)
	}
	if path != "/org/deepin/RemoteDesktop1/HandoverSession1" {
		t.Fatalf("path = %q, want client 1 first (FIFO)", path)
	}

	c, ok := r.Get(path)
	if !ok || !c.Assigned {
		t.Fatal("expected popped client to be marked assigned")
	}
}

func TestRequestHandoverEmptyQueueErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.RequestHandover(); err == nil {
		t.Fatal("expected error for empty pending queue")
	}
}

func TestRegisterQueueFullRejects(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < maxPending; i++ {
		if _, err := r.Register(nil, "", "10.0.0.1"); err != nil {
			t.Fatalf("Register() %d error: %v", i, err)
		}
	}
	if _, err := r.Register(nil, "", "10.0.0.1"); err == nil {
		t.Fatal("expected WouldBlock once pending queue is full")
	}
}

func TestPruneStaleRemovesIdleUnassignedClients(t *testing.T) {
	r := NewRegistry()
	c, _ := r.Register(nil, "99", "10.0.0.1")
	c.LastActivity = time.Now().Add(-staleAfter - time.Second)

	r.PruneStale()

	if _, ok := r.Get(c.Path); ok {
		t.Fatal("expected stale unassigned client to be pruned")
	}
}

func TestPruneStaleKeepsAssignedClients(t *testing.T) {
	r := NewRegistry()
	c, _ := r.Register(nil, "7", "10.0.0.1")
	c.Assigned = true
	c.LastActivity = time.Now().Add(-staleAfter - time.Second)

	r.PruneStale()

	if _, ok := r.Get(c.Path); !ok {
		t.Fatal("assigned client should not be pruned regardless of idle time")
	}
}

func TestRequeueClearsAssignedAndReappendsToPending(t *testing.T) {
	r := NewRegistry()
	r.Register(nil, "5", "10.0.0.1")
	path, _ := r.RequestHandover()

	r.Requeue(path)

	c, ok := r.Get(path)
	if !ok || c.Assigned {
		t.Fatal("expected client to be unassigned after Requeue")
	}
	if _, err := r.RequestHandover(); err != nil {
		t.Fatalf("expected requeued client poppable again: %v", err)
	}
}

func TestSessionPathsMatchesRegistryKeys(t *testing.T) {
	r := NewRegistry()
	r.Register(nil, "1", "10.0.0.1")
	r.Register(nil, "2", "10.0.0.2")

	paths := r.SessionPaths()
	if len(paths) != 2 {
		t.Fatalf("SessionPaths() returned %d entries, want 2", len(paths))
	}
}
