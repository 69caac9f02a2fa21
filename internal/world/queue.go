package world

import (
	"golang.org/x/exp/slices"

	"chunkstream/internal/chunk"
)

// queue holds pending chunk coordinates of one job kind. A coordinate is held
// at most once. Pop returns the entry nearest to the origin it is given.
type queue struct {
	// pending is sorted farthest first so the nearest entry pops off the end.
	pending []chunk.Coord
	members map[chunk.Coord]struct{}
	origin  chunk.Coord
	sorted  bool
}

func newQueue() *queue {
	return &queue{
		pending: make([]chunk.Coord, 0),
		members: make(map[chunk.Coord]struct{}),
	}
}

// Push adds coord and reports whether it was not already queued.
func (q *queue) Push(coord chunk.Coord) bool {
	if _, ok := q.members[coord]; ok {
		return false
	}
	q.members[coord] = struct{}{}
	q.pending = append(q.pending, coord)
	q.sorted = false
	return true
}

func (q *queue) Contains(coord chunk.Coord) bool {
	_, ok := q.members[coord]
	return ok
}

func (q *queue) Len() int {
	return len(q.pending)
}

// Remove drops coord and reports whether it was queued.
func (q *queue) Remove(coord chunk.Coord) bool {
	if _, ok := q.members[coord]; !ok {
		return false
	}
	delete(q.members, coord)
	if i := slices.Index(q.pending, coord); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
	}
	return true
}

// RemoveFunc drops every entry for which drop returns true and returns them.
func (q *queue) RemoveFunc(drop func(chunk.Coord) bool) []chunk.Coord {
	var removed []chunk.Coord
	q.pending = slices.DeleteFunc(q.pending, func(coord chunk.Coord) bool {
		if !drop(coord) {
			return false
		}
		delete(q.members, coord)
		removed = append(removed, coord)
		return true
	})
	return removed
}

// Pop removes and returns the entry nearest to origin.
func (q *queue) Pop(origin chunk.Coord) (chunk.Coord, bool) {
	if len(q.pending) == 0 {
		return chunk.Coord{}, false
	}
	if !q.sorted || q.origin != origin {
		q.sort(origin)
	}
	last := len(q.pending) - 1
	coord := q.pending[last]
	q.pending = q.pending[:last]
	delete(q.members, coord)
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return coord, true
}

// Snapshot returns the entries nearest first.
func (q *queue) Snapshot(origin chunk.Coord) []chunk.Coord {
	if !q.sorted || q.origin != origin {
		q.sort(origin)
	}
	out := slices.Clone(q.pending)
	slices.Reverse(out)
	return out
}

func (q *queue) sort(origin chunk.Coord) {
	slices.SortFunc(q.pending, func(a, b chunk.Coord) int {
		return -compareNearest(origin, a, b)
	})
	q.origin = origin
	q.sorted = true
}

// compareNearest orders coordinates by distance to origin, breaking ties on
// X then Y so the order is stable across runs.
func compareNearest(origin, a, b chunk.Coord) int {
	da, db := origin.DistanceSq(a), origin.DistanceSq(b)
	switch {
	case da != db:
		return da - db
	case a.X != b.X:
		return a.X - b.X
	default:
		return a.Y - b.Y
	}
}
