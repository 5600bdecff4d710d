package audit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	return NewFileStore(dir)
}

func TestFileStore_AppendAndQuery(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	event := &Event{
		Type:   EventContainerCreate,
		User:   "alice",
		Action: "container.create",
		Target: &EventTarget{ContainerID: "c1"},
		Result: &EventResult{Status: "success"},
	}
	if err := store.Append(ctx, event); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if event.ID == "" {
		t.Error("expected event.ID to be set")
	}
	if event.Timestamp.IsZero() {
		t.Error("expected event.Timestamp to be set")
	}

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].User != "alice" {
		t.Errorf("User = %q, want alice", events[0].User)
	}
	if events[0].Target.ContainerID != "c1" {
		t.Errorf("Target.ContainerID = %q, want c1", events[0].Target.ContainerID)
	}
}

func TestFileStore_QueryFilterByUser(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "run"})
	store.Append(ctx, &Event{User: "bob", Type: EventContainerCreate, Action: "run"})
	store.Append(ctx, &Event{User: "alice", Type: EventMatchCreate, Action: "run"})

	events, err := store.Query(ctx, QueryOptions{User: "alice"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for alice, got %d", len(events))
	}
}

func TestFileStore_QueryFilterByType(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "run"})
	store.Append(ctx, &Event{User: "bob", Type: EventMatchCreate, Action: "run"})

	events, err := store.Query(ctx, QueryOptions{Type: EventMatchCreate})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 match.create event, got %d", len(events))
	}
	if events[0].User != "bob" {
		t.Errorf("User = %q, want bob", events[0].User)
	}
}

func TestFileStore_QueryFilterBySince(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	oldEvent := &Event{User: "alice", Type: EventContainerCreate, Action: "old", Timestamp: time.Now().Add(-2 * time.Hour)}
	store.Append(ctx, oldEvent)
	store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "new"})

	events, err := store.Query(ctx, QueryOptions{Since: time.Now().Add(-1 * time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 recent event, got %d", len(events))
	}
	if events[0].Action != "new" {
		t.Errorf("Action = %q, want new", events[0].Action)
	}
}

func TestFileStore_QueryLimit(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "run"})
	}

	events, err := store.Query(ctx, QueryOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestFileStore_Export(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "run"})
	store.Append(ctx, &Event{User: "bob", Type: EventMatchCreate, Action: "run"})

	events, err := store.Export(ctx, time.Now().Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestFileStore_EmptyLog(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query empty: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events, got %d", len(events))
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	n := 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			store.Append(ctx, &Event{
				User:   "concurrent",
				Type:   EventContainerCreate,
				Action: "run",
			})
		}(i)
	}
	wg.Wait()

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != n {
		t.Fatalf("expected %d events, got %d", n, len(events))
	}
}

func TestFileStore_MalformedLines(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "run"})

	f, _ := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	f.Write([]byte("not-valid-json\n"))
	f.Close()

	store.Append(ctx, &Event{User: "bob", Type: EventMatchCreate, Action: "run"})

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 valid events (skipping malformed), got %d", len(events))
	}
}

func TestLogger_LogAuth(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "admin")
	if err := logger.LogAuth(ctx, EventAuth, "login", &EventResult{Status: "success"}); err != nil {
		t.Fatalf("LogAuth: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventAuth {
		t.Errorf("Type = %q, want auth", events[0].Type)
	}
	if events[0].User != "admin" {
		t.Errorf("User = %q, want admin", events[0].User)
	}
}

func TestLogger_LogContainerLifecycle(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogContainerLifecycle(ctx, EventContainerCreate, "c1", &EventResult{Status: "success"}); err != nil {
		t.Fatalf("LogContainerLifecycle: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventContainerCreate {
		t.Errorf("Type = %q, want container.create", events[0].Type)
	}
	if events[0].Target.ContainerID != "c1" {
		t.Errorf("Target.ContainerID = %q, want c1", events[0].Target.ContainerID)
	}
}

func TestLogger_LogMatchLifecycle(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogMatchLifecycle(ctx, EventMatchDelete, "c1", "m1", &EventResult{Status: "success"}); err != nil {
		t.Fatalf("LogMatchLifecycle: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Target.MatchID != "m1" || events[0].Target.ContainerID != "c1" {
		t.Errorf("unexpected target: %+v", events[0].Target)
	}
}

func TestLogger_LogNodeEvent(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogNodeEvent(ctx, EventNodeDrain, "node-1", &EventResult{Status: "success"}); err != nil {
		t.Fatalf("LogNodeEvent: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 1 || events[0].Target.NodeID != "node-1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestLogger_LogModuleEvent(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogModuleEvent(ctx, EventModuleUpload, "combat", &EventResult{Status: "success"}); err != nil {
		t.Fatalf("LogModuleEvent: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 1 || events[0].Target.ModuleName != "combat" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestLogger_LogDeployEvent(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogDeployEvent(ctx, EventDeployCreate, "m1", "node-1", &EventResult{Status: "success"}); err != nil {
		t.Fatalf("LogDeployEvent: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 1 || events[0].Target.MatchID != "m1" || events[0].Target.NodeID != "node-1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestFileStore_QueryFilterByUntil(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "old", Timestamp: time.Now().Add(-2 * time.Hour)})
	store.Append(ctx, &Event{User: "alice", Type: EventContainerCreate, Action: "new"})

	events, err := store.Query(ctx, QueryOptions{Until: time.Now().Add(-1 * time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 old event, got %d", len(events))
	}
	if events[0].Action != "old" {
		t.Errorf("Action = %q, want old", events[0].Action)
	}
}

func TestFileStore_CustomID(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	event := &Event{ID: "custom-123", User: "alice", Type: EventContainerCreate, Action: "run"}
	store.Append(ctx, event)

	events, _ := store.Query(ctx, QueryOptions{})
	if events[0].ID != "custom-123" {
		t.Errorf("ID = %q, want custom-123", events[0].ID)
	}
}
