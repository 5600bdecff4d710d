// Package session implements players and their connection sessions: a
// player joins a match and is issued a session used to bind
// authorization tokens and WebSocket subscriptions to that specific
// match membership.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simhost/platform/pkg/apierrors"
)

// Player is one participant admitted to a match.
type Player struct {
	ID          string
	MatchID     string
	DisplayName string
	JoinedAt    time.Time
}

// Session is an active connection by a player to a match, independent
// of the transport (HTTP request, WebSocket connection) carrying it.
type Session struct {
	ID          string
	PlayerID    string
	MatchID     string
	ConnectedAt time.Time
	LastSeenAt  time.Time
}

// Manager tracks players and sessions for every match in one
// container.
type Manager struct {
	mu       sync.RWMutex
	players  map[string]*Player
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		players:  make(map[string]*Player),
		sessions: make(map[string]*Session),
	}
}

// Join admits a new player to a match and returns the created Player.
func (m *Manager) Join(matchID, displayName string) *Player {
	p := &Player{
		ID:          uuid.NewString(),
		MatchID:     matchID,
		DisplayName: displayName,
		JoinedAt:    time.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[p.ID] = p
	return p
}

// Leave removes a player and any sessions bound to it.
func (m *Manager) Leave(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, playerID)
	for id, s := range m.sessions {
		if s.PlayerID == playerID {
			delete(m.sessions, id)
		}
	}
}

// Player looks up a player by id.
func (m *Manager) Player(playerID string) (*Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, fmt.Sprintf("player %s not found", playerID), nil)
	}
	return p, nil
}

// OpenSession creates a session for an already-joined player.
func (m *Manager) OpenSession(playerID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, fmt.Sprintf("player %s not found", playerID), nil)
	}
	now := time.Now()
	s := &Session{ID: uuid.NewString(), PlayerID: p.ID, MatchID: p.MatchID, ConnectedAt: now, LastSeenAt: now}
	m.sessions[s.ID] = s
	return s, nil
}

// Touch refreshes a session's last-seen timestamp.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return apierrors.New(apierrors.KindNotFound, fmt.Sprintf("session %s not found", sessionID), nil)
	}
	s.LastSeenAt = time.Now()
	return nil
}

// CloseSession ends a session without removing the player.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Session looks up a session by id.
func (m *Manager) Session(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, fmt.Sprintf("session %s not found", sessionID), nil)
	}
	return s, nil
}

// PlayersInMatch lists every player currently joined to a match.
func (m *Manager) PlayersInMatch(matchID string) []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Player
	for _, p := range m.players {
		if p.MatchID == matchID {
			out = append(out, p)
		}
	}
	return out
}
