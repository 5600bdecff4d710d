package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/simhost/platform/pkg/apierrors"
)

// Manager is the process-wide registry of every container hosted by
// this node. It enforces id uniqueness and an optional quota on the
// number of live (non-deleted) containers.
type Manager struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	containers map[string]*Container
	maxLive    int
}

// NewManager creates a container manager. maxLive <= 0 means
// unlimited.
func NewManager(maxLive int, logger *slog.Logger) *Manager {
	return &Manager{
		containers: make(map[string]*Container),
		maxLive:    maxLive,
		logger:     logger,
	}
}

// Create registers a new container under id, rejecting a duplicate id
// or a quota overrun.
func (m *Manager) Create(id string, cfg Config) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.containers[id]; exists {
		return nil, apierrors.New(apierrors.KindAlreadyExists, fmt.Sprintf("container %s already exists", id), nil)
	}
	if m.maxLive > 0 && m.liveCountLocked() >= m.maxLive {
		return nil, apierrors.New(apierrors.KindResourceExhausted, fmt.Sprintf("container quota of %d reached", m.maxLive), nil)
	}

	c := New(id, cfg, m.logger)
	m.containers[id] = c
	return c, nil
}

func (m *Manager) liveCountLocked() int {
	n := 0
	for _, c := range m.containers {
		if c.State() != Deleted {
			n++
		}
	}
	return n
}

// Get looks up a container by id.
func (m *Manager) Get(id string) (*Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[id]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, fmt.Sprintf("container %s not found", id), nil)
	}
	return c, nil
}

// List returns every registered container.
func (m *Manager) List() []*Container {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Container, 0, len(m.containers))
	for _, c := range m.containers {
		out = append(out, c)
	}
	return out
}

// Delete removes a container from the registry. The container must
// already be STOPPED; a live container is left running and rejected
// with a conflict rather than being force-stopped.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.containers[id]
	m.mu.Unlock()
	if !ok {
		return apierrors.New(apierrors.KindNotFound, fmt.Sprintf("container %s not found", id), nil)
	}

	if c.State() != Stopped {
		return apierrors.New(apierrors.KindConflict, fmt.Sprintf("container %s must be STOPPED before deletion (current state %s)", id, c.State()), nil)
	}
	if err := c.Delete(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.containers, id)
	m.mu.Unlock()
	return nil
}

// LiveCount reports the number of non-deleted containers.
func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveCountLocked()
}
