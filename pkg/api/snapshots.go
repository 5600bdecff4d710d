package api

import (
	"net/http"
	"strconv"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/snapshot"
)

func (s *Server) registerSnapshotRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/containers/{cid}/matches/{mid}/snapshot", s.protect(scopeMatchRead, matchIDFromPath, s.handleLatestSnapshot))
	mux.Handle("GET /api/containers/{cid}/matches/{mid}/snapshots/{tick}", s.protect(scopeMatchRead, matchIDFromPath, s.handleSnapshotAt))
	mux.Handle("POST /api/containers/{cid}/matches/{mid}/snapshots/record", s.protect(scopeMatchWrite, matchIDFromPath, s.handleRecordSnapshot))
	mux.Handle("GET /api/containers/{cid}/matches/{mid}/snapshots/history-info", s.protect(scopeMatchRead, matchIDFromPath, s.handleSnapshotHistoryInfo))
	mux.Handle("GET /api/containers/{cid}/matches/{mid}/snapshots/delta", s.protect(scopeMatchRead, matchIDFromPath, s.handleSnapshotDelta))
	mux.Handle("DELETE /api/containers/{cid}/matches/{mid}/snapshots/history", s.protect(scopeMatchWrite, matchIDFromPath, s.handleClearSnapshotHistory))
}

// handleLatestSnapshot returns the most recently recorded snapshot. A
// playerId query parameter filters the result to components the
// installed modules expose to an external reader; components granted
// only PRIVATE or OWNER access are dropped along with any entity left
// with no visible components.
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	c, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	snap, ok := m.History.Latest()
	if !ok {
		writeError(w, apierrors.New(apierrors.KindNotFound, "no snapshot recorded yet", nil))
		return
	}
	if r.URL.Query().Get("playerId") != "" {
		snap = snapshot.FilteredCapture(snap, c.Modules().Visible)
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSnapshotAt(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	tick, err := strconv.ParseUint(r.PathValue("tick"), 10, 64)
	if err != nil {
		writeError(w, apierrors.New(apierrors.KindInvalidArg, "tick must be a non-negative integer", nil))
		return
	}
	snap, ok := m.History.At(tick)
	if !ok {
		writeError(w, apierrors.New(apierrors.KindNotFound, "snapshot not retained for that tick", nil))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRecordSnapshot captures the match's live store right now and
// appends it to history, independent of the tick clock — useful to
// pin a snapshot while the container is paused.
func (s *Server) handleRecordSnapshot(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	snap := snapshot.Capture(m.Store, m.Tick)
	m.History.Record(snap)
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleSnapshotHistoryInfo(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.History.Info(m.Tick))
}

func (s *Server) handleSnapshotDelta(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("fromTick")
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, apierrors.New(apierrors.KindInvalidArg, "fromTick must be a non-negative integer", nil))
		return
	}
	delta, ok := m.History.DeltaSince(since)
	if !ok {
		writeError(w, apierrors.New(apierrors.KindNotFound, "starting tick no longer retained in history", nil))
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

// handleClearSnapshotHistory discards a match's retained snapshot ring
// without affecting its live component store or future ticks — useful
// after a player disconnect storm has filled history with deltas no
// client will ever request.
func (s *Server) handleClearSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	_, m, ok := s.matchOrError(w, r)
	if !ok {
		return
	}
	m.History.Clear()
	w.WriteHeader(http.StatusNoContent)
}
