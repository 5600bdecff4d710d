package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/simhost/platform/pkg/apierrors"
)

// Store is the persistence interface for node registry state. Memory,
// SQLite, and Postgres implementations are provided; NewStore selects
// one by backend name.
type Store interface {
	Register(ctx context.Context, n *Node) error
	Deregister(ctx context.Context, id NodeID) error
	UpdateHealth(ctx context.Context, id NodeID, h Health) error
	Heartbeat(ctx context.Context, id NodeID, res Resources) error
	Get(ctx context.Context, id NodeID) (*Node, error)
	List(ctx context.Context) ([]*Node, error)
	ListByLabel(ctx context.Context, key, value string) ([]*Node, error)
	ListByCapability(ctx context.Context, capability string) ([]*Node, error)
}

// MemoryStore is an in-process, non-durable Store implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
}

// NewMemoryStore creates an empty in-memory node store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[NodeID]*Node)}
}

func (s *MemoryStore) Register(_ context.Context, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	return nil
}

func (s *MemoryStore) Deregister(_ context.Context, id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return apierrors.New(apierrors.KindNodeNotFound, fmt.Sprintf("node %s not found", id), nil)
	}
	delete(s.nodes, id)
	return nil
}

func (s *MemoryStore) UpdateHealth(_ context.Context, id NodeID, h Health) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return apierrors.New(apierrors.KindNodeNotFound, fmt.Sprintf("node %s not found", id), nil)
	}
	n.Health = h
	return nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, id NodeID, res Resources) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return apierrors.New(apierrors.KindNodeNotFound, fmt.Sprintf("node %s not found", id), nil)
	}
	n.Resources = res
	n.LastHeartbeatAt = time.Now()
	if n.Health == Unhealthy {
		n.Health = Healthy
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id NodeID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, apierrors.New(apierrors.KindNodeNotFound, fmt.Sprintf("node %s not found", id), nil)
	}
	return n, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (s *MemoryStore) ListByLabel(_ context.Context, key, value string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	for _, n := range s.nodes {
		if n.Labels[key] == value {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByCapability(_ context.Context, capability string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	for _, n := range s.nodes {
		for _, c := range n.Capabilities {
			if c == capability {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}
