package queue

import (
	"context"
	"testing"
	"time"

	"github.com/simhost/platform/pkg/apierrors"
)

func TestEnqueueDrainFIFO(t *testing.T) {
	q := New(10)
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(Command{PlayerID: "p", Name: string(rune('a' + i))}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	cmds := q.DrainAll()
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}
	for i, cmd := range cmds {
		if cmd.Name != string(rune('a'+i)) {
			t.Fatalf("expected command %d to be %q, got %q", i, string(rune('a'+i)), cmd.Name)
		}
	}
	if q.Len() != 0 {
		t.Fatal("expected queue empty after drain")
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	q := New(1)
	if err := q.Enqueue(Command{Name: "a"}); err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}
	err := q.Enqueue(Command{Name: "b"})
	if err == nil {
		t.Fatal("expected QUEUE_FULL error")
	}
	if !apierrors.Is(err, apierrors.KindQueueFull) {
		t.Fatalf("expected KindQueueFull, got %v", err)
	}
}

func TestEnqueueAfterCloseDropsSilently(t *testing.T) {
	q := New(5)
	q.Close()
	if err := q.Enqueue(Command{Name: "a"}); err != nil {
		t.Fatalf("expected silent drop, got error: %v", err)
	}
	if q.Len() != 0 {
		t.Fatal("expected command to be dropped, not queued")
	}
}

func TestPeekLeavesQueueIntact(t *testing.T) {
	q := New(10)
	q.Enqueue(Command{Name: "a"})
	q.Enqueue(Command{Name: "b"})

	peeked := q.Peek()
	if len(peeked) != 2 || peeked[0].Name != "a" || peeked[1].Name != "b" {
		t.Fatalf("unexpected peek result: %+v", peeked)
	}
	if q.Len() != 2 {
		t.Fatal("expected Peek to leave commands queued")
	}

	drained := q.DrainAll()
	if len(drained) != 2 {
		t.Fatalf("expected drain to still see both commands, got %d", len(drained))
	}
}

func TestPeekEmptyQueue(t *testing.T) {
	q := New(5)
	if peeked := q.Peek(); peeked != nil {
		t.Fatalf("expected nil peek on empty queue, got %+v", peeked)
	}
}

func TestWaitNonEmptyCancelled(t *testing.T) {
	q := New(5)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if q.WaitNonEmpty(ctx) {
		t.Fatal("expected WaitNonEmpty to time out")
	}
}
