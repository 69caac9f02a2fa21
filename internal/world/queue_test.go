package world

import (
	"testing"

	"golang.org/x/exp/slices"

	"chunkstream/internal/chunk"
)

func TestQueueHoldsCoordinateOnce(t *testing.T) {
	q := newQueue()
	a := chunk.Coord{X: 1, Y: 2}
	if !q.Push(a) {
		t.Fatalf("expected first push to succeed")
	}
	if q.Push(a) {
		t.Fatalf("expected duplicate push to be rejected")
	}
	if q.Len() != 1 || !q.Contains(a) {
		t.Fatalf("expected one queued entry, got %d", q.Len())
	}
	if _, ok := q.Pop(chunk.Coord{}); !ok {
		t.Fatalf("expected pop to return the entry")
	}
	if q.Contains(a) {
		t.Fatalf("popped entry still reported as queued")
	}
	if !q.Push(a) {
		t.Fatalf("expected re-push after pop to succeed")
	}
}

func TestQueuePopsNearestFirst(t *testing.T) {
	q := newQueue()
	for _, c := range []chunk.Coord{{X: 5}, {X: -1}, {X: 3, Y: 3}, {X: 0, Y: 2}, {X: 1}} {
		q.Push(c)
	}
	origin := chunk.Coord{}

	first, _ := q.Pop(origin)
	second, _ := q.Pop(origin)
	if first != (chunk.Coord{X: -1}) || second != (chunk.Coord{X: 1}) {
		t.Fatalf("unexpected order: %v then %v", first, second)
	}

	q.Push(chunk.Coord{})
	if next, _ := q.Pop(origin); next != (chunk.Coord{}) {
		t.Fatalf("expected newly pushed origin next, got %v", next)
	}

	if next, _ := q.Pop(chunk.Coord{X: 6}); next != (chunk.Coord{X: 5}) {
		t.Fatalf("expected re-sort around new origin, got %v", next)
	}
}

func TestQueueRemove(t *testing.T) {
	q := newQueue()
	for x := -3; x <= 3; x++ {
		q.Push(chunk.Coord{X: x})
	}
	if !q.Remove(chunk.Coord{X: 0}) || q.Remove(chunk.Coord{X: 0}) {
		t.Fatalf("expected a single successful remove")
	}

	removed := q.RemoveFunc(func(c chunk.Coord) bool { return c.X*c.X > 4 })
	slices.SortFunc(removed, func(a, b chunk.Coord) int { return a.X - b.X })
	if !slices.Equal(removed, []chunk.Coord{{X: -3}, {X: 3}}) {
		t.Fatalf("unexpected removed entries %v", removed)
	}
	if q.Contains(chunk.Coord{X: 3}) {
		t.Fatalf("removed entry still a member")
	}

	want := []chunk.Coord{{X: -1}, {X: 1}, {X: -2}, {X: 2}}
	if got := q.Snapshot(chunk.Coord{}); !slices.Equal(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	if q.Len() != 4 {
		t.Fatalf("snapshot must not consume entries, len=%d", q.Len())
	}
}
