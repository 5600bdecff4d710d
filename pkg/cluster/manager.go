package cluster

import (
	"context"
	"log/slog"
	"time"
)

// Watcher is notified of node lifecycle events.
type Watcher interface {
	OnNodeRegistered(n *Node)
	OnNodeDeregistered(id NodeID)
	OnHealthChanged(id NodeID, from, to Health)
}

// Manager tracks node registration, heartbeats, and TTL-based health
// transitions.
type Manager struct {
	store        Store
	logger       *slog.Logger
	watchers     []Watcher
	staleTimeout time.Duration
	gcInterval   time.Duration
}

// NewManager creates a node registry manager. staleTimeout is how long
// since the last heartbeat before a HEALTHY node is marked UNHEALTHY.
func NewManager(store Store, logger *slog.Logger, staleTimeout, gcInterval time.Duration) *Manager {
	if staleTimeout <= 0 {
		staleTimeout = 30 * time.Second
	}
	if gcInterval <= 0 {
		gcInterval = 10 * time.Second
	}
	return &Manager{store: store, logger: logger, staleTimeout: staleTimeout, gcInterval: gcInterval}
}

// AddWatcher registers a lifecycle event observer.
func (m *Manager) AddWatcher(w Watcher) {
	m.watchers = append(m.watchers, w)
}

// Register admits a node into the registry as HEALTHY.
func (m *Manager) Register(ctx context.Context, n *Node) error {
	n.Health = Healthy
	n.RegisteredAt = time.Now()
	n.LastHeartbeatAt = n.RegisteredAt
	if err := m.store.Register(ctx, n); err != nil {
		return err
	}
	for _, w := range m.watchers {
		w.OnNodeRegistered(n)
	}
	return nil
}

// Deregister removes a node from the registry.
func (m *Manager) Deregister(ctx context.Context, id NodeID) error {
	if err := m.store.Deregister(ctx, id); err != nil {
		return err
	}
	for _, w := range m.watchers {
		w.OnNodeDeregistered(id)
	}
	return nil
}

// Heartbeat records fresh resource metrics and clears an UNHEALTHY
// state if the node had been marked stale.
func (m *Manager) Heartbeat(ctx context.Context, id NodeID, res Resources) error {
	n, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	prev := n.Health
	if err := m.store.Heartbeat(ctx, id, res); err != nil {
		return err
	}
	if prev == Unhealthy {
		m.notifyHealthChange(id, prev, Healthy)
	}
	return nil
}

// Drain marks a node DRAINING so the deployer stops placing new
// matches on it while existing matches finish.
func (m *Manager) Drain(ctx context.Context, id NodeID) error {
	n, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	prev := n.Health
	if err := m.store.UpdateHealth(ctx, id, Draining); err != nil {
		return err
	}
	m.notifyHealthChange(id, prev, Draining)
	return nil
}

func (m *Manager) notifyHealthChange(id NodeID, from, to Health) {
	for _, w := range m.watchers {
		w.OnHealthChanged(id, from, to)
	}
}

// RunGC periodically marks nodes whose heartbeat has gone stale as
// UNHEALTHY. It blocks until ctx is cancelled.
func (m *Manager) RunGC(ctx context.Context) {
	ticker := time.NewTicker(m.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.gcCycle(ctx)
		}
	}
}

func (m *Manager) gcCycle(ctx context.Context) {
	nodes, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("cluster gc: list nodes failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-m.staleTimeout)
	for _, n := range nodes {
		if n.Health == Healthy && n.LastHeartbeatAt.Before(cutoff) {
			if err := m.store.UpdateHealth(ctx, n.ID, Unhealthy); err != nil {
				m.logger.Warn("cluster gc: mark unhealthy failed", "node_id", n.ID, "error", err)
				continue
			}
			m.logger.Info("node marked unhealthy (stale heartbeat)", "node_id", n.ID)
			m.notifyHealthChange(n.ID, Healthy, Unhealthy)
		}
	}
}
