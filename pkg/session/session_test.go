package session

import "testing"

func TestJoinAndOpenSession(t *testing.T) {
	m := NewManager()
	p := m.Join("match-1", "alice")
	if p.MatchID != "match-1" {
		t.Fatalf("expected player bound to match-1, got %s", p.MatchID)
	}

	sess, err := m.OpenSession(p.ID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if sess.PlayerID != p.ID || sess.MatchID != "match-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestOpenSessionUnknownPlayer(t *testing.T) {
	m := NewManager()
	if _, err := m.OpenSession("nope"); err == nil {
		t.Fatal("expected error for unknown player")
	}
}

func TestLeaveRemovesSessions(t *testing.T) {
	m := NewManager()
	p := m.Join("match-1", "alice")
	sess, _ := m.OpenSession(p.ID)

	m.Leave(p.ID)

	if _, err := m.Player(p.ID); err == nil {
		t.Fatal("expected player to be gone")
	}
	if _, err := m.Session(sess.ID); err == nil {
		t.Fatal("expected session to be gone after player leaves")
	}
}

func TestPlayersInMatch(t *testing.T) {
	m := NewManager()
	m.Join("match-1", "alice")
	m.Join("match-1", "bob")
	m.Join("match-2", "carol")

	players := m.PlayersInMatch("match-1")
	if len(players) != 2 {
		t.Fatalf("expected 2 players in match-1, got %d", len(players))
	}
}
