// Package snapshot implements the snapshot engine: point-in-time
// captures of a match's component store, a bounded per-match history
// ring, delta computation between ticks, and permission-filtered
// views for individual players.
package snapshot

import (
	"sort"
	"time"

	"github.com/simhost/platform/pkg/ecs"
)

// Snapshot is one tick's full component state, entities in ascending
// id order.
type Snapshot struct {
	Tick       uint64
	CapturedAt time.Time
	Rows       []ecs.Row
}

// Capture takes a snapshot of store at the given tick.
func Capture(store *ecs.Store, tick uint64) Snapshot {
	return Snapshot{Tick: tick, CapturedAt: time.Now(), Rows: store.Capture()}
}

// Visibility decides whether a component should be included in a
// filtered view for a given player; it is supplied by the module
// registry's permission model.
type Visibility func(comp ecs.ComponentName) bool

// FilteredCapture applies a Visibility predicate to every row of a
// snapshot, dropping components the player may not read. Entities
// with zero visible components after filtering are omitted entirely.
func FilteredCapture(snap Snapshot, visible Visibility) Snapshot {
	out := Snapshot{Tick: snap.Tick, CapturedAt: snap.CapturedAt}
	for _, row := range snap.Rows {
		filtered := make(map[ecs.ComponentName]float32)
		for c, v := range row.Components {
			if visible(c) {
				filtered[c] = v
			}
		}
		if len(filtered) > 0 {
			out.Rows = append(out.Rows, ecs.Row{Entity: row.Entity, Components: filtered})
		}
	}
	return out
}

// Delta is the set of entities that changed between two ticks. An
// entity present in From but not in To is listed in Removed.
type Delta struct {
	FromTick uint64
	ToTick   uint64
	Changed  []ecs.Row
	Removed  []ecs.EntityID
}

// Diff computes the delta from one snapshot to a later one: entities
// whose component set or any component value differs are "Changed" in
// full (not per-field), and entities present in prev but absent in
// next are "Removed".
func Diff(prev, next Snapshot) Delta {
	prevByEntity := make(map[ecs.EntityID]ecs.Row, len(prev.Rows))
	for _, r := range prev.Rows {
		prevByEntity[r.Entity] = r
	}
	nextByEntity := make(map[ecs.EntityID]ecs.Row, len(next.Rows))
	for _, r := range next.Rows {
		nextByEntity[r.Entity] = r
	}

	d := Delta{FromTick: prev.Tick, ToTick: next.Tick}
	for _, r := range next.Rows {
		if !rowsEqual(prevByEntity[r.Entity], r, r.Entity) {
			d.Changed = append(d.Changed, r)
		}
	}
	for e := range prevByEntity {
		if _, ok := nextByEntity[e]; !ok {
			d.Removed = append(d.Removed, e)
		}
	}
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Entity < d.Changed[j].Entity })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i] < d.Removed[j] })
	return d
}

func rowsEqual(prev, next ecs.Row, entity ecs.EntityID) bool {
	if prev.Entity != entity {
		return false // entity didn't exist previously
	}
	if len(prev.Components) != len(next.Components) {
		return false
	}
	for c, v := range next.Components {
		pv, ok := prev.Components[c]
		if !ok || pv != v {
			return false
		}
	}
	return true
}

// History is a bounded ring of recent snapshots for one match, used to
// answer delta queries without re-capturing the live store.
type History struct {
	capacity int
	snaps    []Snapshot
}

// NewHistory creates a history ring holding at most capacity
// snapshots.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

// Record appends a snapshot, evicting the oldest once capacity is
// exceeded.
func (h *History) Record(snap Snapshot) {
	h.snaps = append(h.snaps, snap)
	if len(h.snaps) > h.capacity {
		h.snaps = h.snaps[len(h.snaps)-h.capacity:]
	}
}

// At returns the snapshot recorded for the given tick, if still
// retained.
func (h *History) At(tick uint64) (Snapshot, bool) {
	for _, s := range h.snaps {
		if s.Tick == tick {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Latest returns the most recently recorded snapshot.
func (h *History) Latest() (Snapshot, bool) {
	if len(h.snaps) == 0 {
		return Snapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// Clear discards every retained snapshot.
func (h *History) Clear() {
	h.snaps = nil
}

// Info summarizes the retained history ring: how many snapshots it
// holds, and the oldest/newest/current tick numbers. Count is 0 and
// the tick fields are all 0 when nothing has been recorded yet.
type Info struct {
	Count       int
	OldestTick  uint64
	NewestTick  uint64
	CurrentTick uint64
}

// Info reports the current shape of the history ring. currentTick is
// the match's live tick counter, which may be ahead of the newest
// retained snapshot.
func (h *History) Info(currentTick uint64) Info {
	info := Info{Count: len(h.snaps), CurrentTick: currentTick}
	if len(h.snaps) == 0 {
		return info
	}
	info.OldestTick = h.snaps[0].Tick
	info.NewestTick = h.snaps[len(h.snaps)-1].Tick
	return info
}

// DeltaSince computes the delta from the snapshot at fromTick to the
// latest recorded snapshot. ok is false if fromTick has already been
// evicted from history.
func (h *History) DeltaSince(fromTick uint64) (Delta, bool) {
	from, ok := h.At(fromTick)
	if !ok {
		return Delta{}, false
	}
	latest, ok := h.Latest()
	if !ok {
		return Delta{}, false
	}
	return Diff(from, latest), true
}
