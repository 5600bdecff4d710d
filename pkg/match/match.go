// Package match implements the Match type: one running simulation
// inside a container, owning its component store, command queue, and
// snapshot history, plus entity id allocation for joining players.
package match

import (
	"time"

	"github.com/simhost/platform/pkg/ecs"
	"github.com/simhost/platform/pkg/queue"
	"github.com/simhost/platform/pkg/snapshot"
)

// entityRangeWidth is the number of entity ids reserved per player.
// Player N's entities fall in [N*entityRangeWidth, (N+1)*entityRangeWidth).
const entityRangeWidth = 1_000_000

// Match is one simulation instance: its own component store, module
// set, command queue, and bounded snapshot history.
type Match struct {
	ID          string
	ContainerID string
	Modules     []string
	CreatedAt   time.Time
	Tick        uint64

	Store       *ecs.Store
	Commands    *queue.Queue
	History     *snapshot.History
	Broadcaster *snapshot.Broadcaster

	nextPlayerIndex uint64
	playerIndex     map[string]uint64
}

// Config controls per-match limits at creation time.
type Config struct {
	CommandQueueCapacity int
	SnapshotHistorySize  int
}

// New creates a match with an empty component store and fresh queue
// and history.
func New(id, containerID string, modules []string, cfg Config) *Match {
	if cfg.CommandQueueCapacity <= 0 {
		cfg.CommandQueueCapacity = 256
	}
	if cfg.SnapshotHistorySize <= 0 {
		cfg.SnapshotHistorySize = 64
	}
	return &Match{
		ID:          id,
		ContainerID: containerID,
		Modules:     modules,
		CreatedAt:   time.Now(),
		Store:       ecs.New(),
		Commands:    queue.New(cfg.CommandQueueCapacity),
		History:     snapshot.NewHistory(cfg.SnapshotHistorySize),
		Broadcaster: snapshot.NewBroadcaster(),
		playerIndex: make(map[string]uint64),
	}
}

// EntityRange allocates (if not already allocated) a disjoint range of
// entity ids for playerID and returns its [start, end) bounds.
func (m *Match) EntityRange(playerID string) (ecs.EntityID, ecs.EntityID) {
	idx, ok := m.playerIndex[playerID]
	if !ok {
		idx = m.nextPlayerIndex
		m.playerIndex[playerID] = idx
		m.nextPlayerIndex++
	}
	start := ecs.EntityID(idx * entityRangeWidth)
	return start, start + entityRangeWidth
}

// OwnsEntity reports whether entity falls within playerID's allocated
// range. It does not require the range to have been allocated first;
// an unallocated player owns no entities.
func (m *Match) OwnsEntity(playerID string, entity ecs.EntityID) bool {
	idx, ok := m.playerIndex[playerID]
	if !ok {
		return false
	}
	start := ecs.EntityID(idx * entityRangeWidth)
	return entity >= start && entity < start+entityRangeWidth
}

// Advance captures the current store state as a snapshot for the tick
// just completed, records it in history, and broadcasts it to
// subscribers.
func (m *Match) Advance() snapshot.Snapshot {
	snap := snapshot.Capture(m.Store, m.Tick)
	m.History.Record(snap)
	m.Broadcaster.PublishAll(snap)
	m.Tick++
	return snap
}
