package world

import (
	"errors"

	"golang.org/x/exp/slices"

	"chunkstream/internal/chunk"
	"chunkstream/internal/mesh"
)

// neighborLookup resolves adjacent chunks for the mesher through the chunk
// table. Chunks never reference each other directly.
type neighborLookup map[chunk.Coord]*slot

func (n neighborLookup) Neighbor(coord chunk.Coord) (*chunk.Chunk, bool, bool) {
	s, ok := n[coord]
	if !ok {
		return nil, false, false
	}
	return s.chunk, s.chunk.State().Resident(), true
}

var _ mesh.Neighbors = neighborLookup(nil)

// activated runs after a chunk enters Active from Loading or Generating.
func (w *World) activated(s *slot) {
	w.requestMesh(s)
	for _, coord := range s.chunk.Coord().Neighbors4() {
		n, ok := w.slots[coord]
		if !ok || !n.chunk.State().Resident() {
			continue
		}
		w.requestMesh(n)
	}
}

// requestMesh marks s dirty and queues an Active chunk for a rebuild. Chunks
// busy saving keep the dirty flag and are queued once they return to Active.
func (w *World) requestMesh(s *slot) {
	s.chunk.MarkDirty()
	if s.chunk.State() == chunk.Active {
		if w.transition(s, chunk.PendingMeshRebuild) != nil {
			return
		}
	}
	if s.chunk.State() != chunk.PendingMeshRebuild || s.meshQueued {
		return
	}
	s.meshQueued = true
	w.meshQueue = append(w.meshQueue, s)
	w.meshSorted = false
}

// UpdateChunkMeshes rebuilds up to streaming.meshRebuildsPerTick chunks,
// nearest first, and returns how many got a new mesh. A chunk whose
// neighbor is not resident yet goes back to Active still dirty; the
// neighbor's activation queues it again.
func (w *World) UpdateChunkMeshes() int {
	if len(w.meshQueue) == 0 {
		return 0
	}
	if !w.meshSorted {
		slices.SortStableFunc(w.meshQueue, func(a, b *slot) int {
			return compareNearest(w.center, a.chunk.Coord(), b.chunk.Coord())
		})
		w.meshSorted = true
	}

	built := 0
	attempts := 0
	lookup := neighborLookup(w.slots)
	for len(w.meshQueue) > 0 && attempts < w.cfg.Streaming.MeshRebuildsPerTick {
		s := w.meshQueue[0]
		w.meshQueue[0] = nil
		w.meshQueue = w.meshQueue[1:]
		s.meshQueued = false
		if s.removed || s.chunk.State() != chunk.PendingMeshRebuild {
			continue
		}
		attempts++
		if w.transition(s, chunk.BuildingMesh) != nil {
			continue
		}
		m, err := w.mesher.Build(s.chunk, lookup)
		switch {
		case errors.Is(err, mesh.ErrNeighborPending):
			w.counters.meshDeferred++
		case err != nil:
			w.logger.Printf("chunk %v mesh: %v", s.chunk.Coord(), err)
		default:
			s.chunk.SetMesh(m)
			s.chunk.ClearDirty()
			w.counters.meshesBuilt++
			built++
		}
		w.transition(s, chunk.Active)
	}
	if len(w.meshQueue) == 0 {
		w.meshQueue = nil
	}
	return built
}
