package world

import (
	"golang.org/x/exp/slices"

	"chunkstream/internal/chunk"
	"chunkstream/internal/jobs"
	"chunkstream/internal/journal"
	"chunkstream/internal/storage"
)

// wanted lists every chunk within the activation radius, nearest first.
func (w *World) wanted() []chunk.Coord {
	r := w.cfg.Streaming.ActivationRadius
	limit := w.activationRadiusSq()
	coords := make([]chunk.Coord, 0, (2*r+1)*(2*r+1))
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			if dx*dx+dy*dy > limit {
				continue
			}
			coords = append(coords, w.center.Add(dx, dy))
		}
	}
	slices.SortFunc(coords, func(a, b chunk.Coord) int {
		return compareNearest(w.center, a, b)
	})
	return coords
}

// UpdateNearbyChunks creates the chunks the observer needs and starts
// unloading the ones beyond the deactivation radius. Creation stops for a
// queue that is full; the remaining coordinates are picked up on later
// calls.
func (w *World) UpdateNearbyChunks() {
	if w.closing {
		return
	}
	w.reapUnloaded()

	for _, coord := range w.wanted() {
		if s, ok := w.slots[coord]; ok {
			// Back in range before its unload save finished.
			s.unloadAfterSave = false
			continue
		}
		kind := jobs.Generate
		if w.store.Exists(coord) {
			kind = jobs.Load
		}
		if w.queues[kind].Len() >= w.cfg.Jobs.MaxPending {
			continue
		}
		w.create(coord, kind)
	}

	limit := w.deactivationRadiusSq()
	for coord, s := range w.slots {
		if w.center.DistanceSq(coord) > limit {
			w.beginUnload(s)
		}
	}
}

func (w *World) create(coord chunk.Coord, kind jobs.Kind) {
	s := &slot{chunk: chunk.New(coord, w.registry)}
	w.slots[coord] = s
	if w.transition(s, chunk.CheckingDisk) != nil {
		return
	}
	next := chunk.PendingGenerate
	if kind == jobs.Load {
		next = chunk.PendingLoad
	}
	if w.transition(s, next) != nil {
		return
	}
	w.queues[kind].Push(coord)
}

// RemoveDistantJobs drops queued generate and load entries whose chunks left
// the activation radius before their job started. Nothing was produced for
// them yet, so they unload without further work. Save entries always stay.
func (w *World) RemoveDistantJobs() {
	limit := w.activationRadiusSq()
	for _, kind := range []jobs.Kind{jobs.Generate, jobs.Load} {
		removed := w.queues[kind].RemoveFunc(func(coord chunk.Coord) bool {
			return w.center.DistanceSq(coord) > limit
		})
		for _, coord := range removed {
			if s, ok := w.slots[coord]; ok {
				w.transition(s, chunk.PendingUnload)
			}
		}
	}
}

// CancelPendingJobsForChunk removes coord from the generate and load queues
// and flags its in-flight generate or load job. A chunk that was waiting in
// one of those queues moves to PendingUnload. Saves are left alone: a queued
// or running save still reaches the disk.
func (w *World) CancelPendingJobsForChunk(coord chunk.Coord) {
	w.queues[jobs.Generate].Remove(coord)
	w.queues[jobs.Load].Remove(coord)

	s, ok := w.slots[coord]
	if !ok {
		return
	}
	if s.job != nil && s.job.Kind() != jobs.Save {
		s.job.Cancel()
	}
	switch s.chunk.State() {
	case chunk.PendingLoad, chunk.PendingGenerate:
		w.transition(s, chunk.PendingUnload)
	}
}

// beginUnload starts taking s out of memory. Resident chunks the save policy
// wants are saved first; chunks with a save already queued or running unload
// once it finishes.
func (w *World) beginUnload(s *slot) {
	switch s.chunk.State() {
	case chunk.PendingUnload, chunk.Unloading:
		return
	case chunk.PendingSave, chunk.Saving:
		s.unloadAfterSave = true
	case chunk.Active, chunk.PendingMeshRebuild:
		if w.policy.ShouldSave(s.chunk, storage.ReasonUnload) {
			s.unloadAfterSave = true
			w.queueSave(s)
			return
		}
		w.transition(s, chunk.PendingUnload)
	case chunk.Loading, chunk.Generating:
		w.CancelPendingJobsForChunk(s.chunk.Coord())
		w.transition(s, chunk.PendingUnload)
	default:
		w.CancelPendingJobsForChunk(s.chunk.Coord())
		if s.chunk.State() != chunk.PendingUnload {
			w.transition(s, chunk.PendingUnload)
		}
	}
}

// queueSave moves a resident chunk into the save queue and resets its retry
// budget.
func (w *World) queueSave(s *slot) bool {
	switch s.chunk.State() {
	case chunk.Active, chunk.PendingMeshRebuild:
	default:
		return false
	}
	if w.transition(s, chunk.PendingSave) != nil {
		return false
	}
	s.saveAttempts = 0
	w.queues[jobs.Save].Push(s.chunk.Coord())
	return true
}

// reapUnloaded removes chunks that are waiting to unload and have no job in
// flight. A chunk whose job has not been drained stays in memory until the
// worker is done with it.
func (w *World) reapUnloaded() {
	for coord, s := range w.slots {
		if s.chunk.State() != chunk.PendingUnload || s.job != nil {
			continue
		}
		if w.transition(s, chunk.Unloading) != nil {
			continue
		}
		s.chunk.Release()
		s.removed = true
		delete(w.slots, coord)
		w.counters.removed++
		w.record(journal.Event{Kind: journal.KindRemoved, X: coord.X, Y: coord.Y})

		// A neighbor that gave up on its mesh while this chunk was pending can
		// build now that the border counts as open.
		for _, n := range coord.Neighbors4() {
			if ns, ok := w.slots[n]; ok && ns.chunk.Dirty() && ns.chunk.State() == chunk.Active {
				w.requestMesh(ns)
			}
		}
	}
}
