package cluster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingWatcher struct {
	registered   []NodeID
	deregistered []NodeID
	changed      []Health
}

func (w *recordingWatcher) OnNodeRegistered(n *Node)   { w.registered = append(w.registered, n.ID) }
func (w *recordingWatcher) OnNodeDeregistered(id NodeID) { w.deregistered = append(w.deregistered, id) }
func (w *recordingWatcher) OnHealthChanged(id NodeID, from, to Health) {
	w.changed = append(w.changed, to)
}

func TestRegisterNotifiesWatcher(t *testing.T) {
	m := NewManager(NewMemoryStore(), testLogger(), 0, 0)
	w := &recordingWatcher{}
	m.AddWatcher(w)

	ctx := context.Background()
	if err := m.Register(ctx, &Node{ID: "n1", MaxContainers: 10}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(w.registered) != 1 || w.registered[0] != "n1" {
		t.Fatalf("expected watcher notified of n1, got %v", w.registered)
	}
}

func TestGCMarksStaleNodeUnhealthy(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, testLogger(), 20*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()
	m.Register(ctx, &Node{ID: "n1"})

	// Force the node's heartbeat into the past.
	n, _ := store.Get(ctx, "n1")
	n.LastHeartbeatAt = time.Now().Add(-time.Hour)

	gctx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	go m.RunGC(gctx)
	<-gctx.Done()

	got, _ := store.Get(ctx, "n1")
	if got.Health != Unhealthy {
		t.Fatalf("expected node marked unhealthy, got %s", got.Health)
	}
}

func TestHeartbeatClearsUnhealthy(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, testLogger(), 0, 0)
	ctx := context.Background()
	m.Register(ctx, &Node{ID: "n1"})
	store.UpdateHealth(ctx, "n1", Unhealthy)

	if err := m.Heartbeat(ctx, "n1", Resources{CPULoad: 0.1}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	n, _ := store.Get(ctx, "n1")
	if n.Health != Healthy {
		t.Fatalf("expected heartbeat to restore health, got %s", n.Health)
	}
}
