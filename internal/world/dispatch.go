package world

import (
	"errors"

	"chunkstream/internal/chunk"
	"chunkstream/internal/jobs"
	"chunkstream/internal/journal"
	"chunkstream/internal/storage"
)

// maxGenerateBackoff caps the delay between generate retries of one chunk.
const maxGenerateBackoff uint64 = 64

var (
	pendingState = [...]chunk.State{
		jobs.Generate: chunk.PendingGenerate,
		jobs.Load:     chunk.PendingLoad,
		jobs.Save:     chunk.PendingSave,
	}
	runningState = [...]chunk.State{
		jobs.Generate: chunk.Generating,
		jobs.Load:     chunk.Loading,
		jobs.Save:     chunk.Saving,
	}
)

// ProcessJobQueues submits queued work, nearest chunk first, while each
// kind stays under its executing limit.
func (w *World) ProcessJobQueues() {
	for _, kind := range jobs.Kinds {
		q := w.queues[kind]
		for w.executing[kind].Load() < w.limits[kind] {
			coord, ok := q.Pop(w.center)
			if !ok {
				break
			}
			s, ok := w.slots[coord]
			if !ok || s.job != nil || s.chunk.State() != pendingState[kind] {
				continue
			}
			job := w.newJob(kind, s.chunk)
			if w.transition(s, runningState[kind]) != nil {
				continue
			}
			s.job = job
			w.executing[kind].Add(1)
			w.scheduler.Submit(job)
		}
	}
}

func (w *World) newJob(kind jobs.Kind, c *chunk.Chunk) jobs.Job {
	switch kind {
	case jobs.Load:
		return jobs.NewLoadJob(c, w.store)
	case jobs.Save:
		return jobs.NewSaveJob(c, w.store)
	default:
		return jobs.NewGenerateJob(c, w.generator, w.cfg.World.Seed)
	}
}

// ProcessCompletedChunkTasks applies the results of every job the scheduler
// finished since the last call. Jobs whose chunk is gone, was recreated or is
// being unloaded are discarded.
func (w *World) ProcessCompletedChunkTasks() {
	for _, job := range w.scheduler.Drain() {
		w.executing[job.Kind()].Add(-1)

		s, ok := w.slots[job.Coord()]
		if !ok || s.job != job {
			w.discard(job, "stale")
			continue
		}
		s.job = nil
		if s.chunk.State() != runningState[job.Kind()] {
			w.discard(job, "chunk "+s.chunk.State().String())
			continue
		}

		switch job.Kind() {
		case jobs.Generate:
			w.finishGenerate(s, job)
		case jobs.Load:
			w.finishLoad(s, job)
		case jobs.Save:
			w.finishSave(s, job.(*jobs.SaveJob))
		}
	}
}

func (w *World) discard(job jobs.Job, why string) {
	w.counters.discarded++
	w.recordJob(journal.KindDiscarded, job, why)
}

func (w *World) finishGenerate(s *slot, job jobs.Job) {
	coord := s.chunk.Coord()
	if job.Cancelled() {
		w.discard(job, "cancelled")
		w.transition(s, chunk.PendingUnload)
		return
	}
	if err := job.Err(); err != nil {
		w.counters.generateFailures++
		s.generateAttempts++
		delay := generateBackoff(s.generateAttempts)
		w.logger.Printf("chunk %v generate attempt %d, retrying in %d ticks: %v", coord, s.generateAttempts, delay, err)
		w.recordJob(journal.KindGenFailed, job, err.Error())
		w.deferGenerate(s, delay)
		return
	}
	if w.transition(s, chunk.Active) != nil {
		return
	}
	s.generateAttempts = 0
	w.counters.generated++
	s.chunk.MarkModified()
	w.activated(s)
}

func (w *World) finishLoad(s *slot, job jobs.Job) {
	coord := s.chunk.Coord()
	if job.Cancelled() {
		w.discard(job, "cancelled")
		w.transition(s, chunk.PendingUnload)
		return
	}
	if err := job.Err(); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			w.counters.missing++
			w.logger.Printf("chunk %v load: no saved copy, generating", coord)
			w.recordJob(journal.KindMissing, job, err.Error())
		case storage.IsCorrupt(err):
			w.counters.corrupt++
			w.logger.Printf("chunk %v load: corrupt file left on disk, regenerating: %v", coord, err)
			w.recordJob(journal.KindCorrupt, job, err.Error())
		default:
			w.counters.loadFailures++
			w.logger.Printf("chunk %v load: %v", coord, err)
			w.recordJob(journal.KindLoadFailed, job, err.Error())
		}
		w.retryGenerate(s)
		return
	}
	if w.transition(s, chunk.Active) != nil {
		return
	}
	w.counters.loaded++
	s.chunk.MarkLoaded()
	w.activated(s)
}

// retryGenerate requeues a chunk for generation. Internal requeues bypass
// the admission limit so no chunk is stranded.
func (w *World) retryGenerate(s *slot) {
	if w.transition(s, chunk.PendingGenerate) != nil {
		return
	}
	w.queues[jobs.Generate].Push(s.chunk.Coord())
}

// generateBackoff returns how many ticks a chunk waits after its n-th
// consecutive generate failure.
func generateBackoff(n int) uint64 {
	if n > 7 {
		return maxGenerateBackoff
	}
	return min(uint64(1)<<(n-1), maxGenerateBackoff)
}

// deferGenerate parks a failed chunk in PendingGenerate outside the queue
// until delay ticks have passed.
func (w *World) deferGenerate(s *slot, delay uint64) {
	if w.transition(s, chunk.PendingGenerate) != nil {
		return
	}
	s.retryTick = w.ticks + delay
	w.deferred = append(w.deferred, s)
}

// requeueDeferred pushes parked chunks whose delay has run out back into the
// generate queue. Chunks that were unloaded meanwhile are dropped.
func (w *World) requeueDeferred() {
	kept := w.deferred[:0]
	for _, s := range w.deferred {
		if s.removed || s.chunk.State() != chunk.PendingGenerate {
			continue
		}
		if s.retryTick > w.ticks {
			kept = append(kept, s)
			continue
		}
		w.queues[jobs.Generate].Push(s.chunk.Coord())
	}
	clear(w.deferred[len(kept):])
	w.deferred = kept
}

func (w *World) finishSave(s *slot, job *jobs.SaveJob) {
	coord := s.chunk.Coord()
	if err := job.Err(); err != nil {
		s.saveAttempts++
		w.counters.saveFailures++
		w.logger.Printf("chunk %v save attempt %d/%d: %v", coord, s.saveAttempts, w.cfg.Storage.MaxSaveAttempts, err)
		w.recordJob(journal.KindSaveFailed, job, err.Error())
		if s.saveAttempts < w.cfg.Storage.MaxSaveAttempts {
			w.requeueSave(s)
			return
		}
		w.logger.Printf("chunk %v save: giving up after %d attempts", coord, s.saveAttempts)
		w.recordJob(journal.KindSaveGaveUp, job, err.Error())
		w.afterSave(s)
		return
	}

	w.counters.saved++
	clean := s.chunk.MarkSaved(job.Revision())
	w.recordJob(journal.KindSaved, job, "")
	if s.unloadAfterSave && !clean && w.policy.ShouldSave(s.chunk, storage.ReasonUnload) {
		// Edited while the snapshot was written; the unload needs the newer
		// blocks on disk.
		s.saveAttempts = 0
		w.requeueSave(s)
		return
	}
	w.afterSave(s)
}

// requeueSave sends a chunk that just left Saving back to the save queue.
func (w *World) requeueSave(s *slot) {
	if w.transition(s, chunk.Active) != nil {
		return
	}
	if w.transition(s, chunk.PendingSave) != nil {
		return
	}
	w.queues[jobs.Save].Push(s.chunk.Coord())
}

func (w *World) afterSave(s *slot) {
	if s.unloadAfterSave {
		s.unloadAfterSave = false
		w.transition(s, chunk.PendingUnload)
		return
	}
	if w.transition(s, chunk.Active) != nil {
		return
	}
	if s.chunk.Dirty() {
		w.requestMesh(s)
	}
}
