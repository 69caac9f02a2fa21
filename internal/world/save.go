package world

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"chunkstream/internal/chunk"
	"chunkstream/internal/jobs"
	"chunkstream/internal/storage"
)

// settleInterval paces Flush and Close while they wait for workers.
const settleInterval = 2 * time.Millisecond

// Autosave starts a save round every storage.autosaveInterval. A round
// admits modified resident chunks that pass the save policy, nearest first,
// as fast as the save rate limiter and the save queue allow; chunks it could
// not admit yet are picked up on the following calls until the round is done.
func (w *World) Autosave(now time.Time) {
	interval := w.cfg.Storage.AutosaveInterval.Duration()
	if interval <= 0 || w.closing {
		return
	}
	if w.lastAutosave.IsZero() {
		w.lastAutosave = now
		return
	}
	if !w.autosaveDue && now.Sub(w.lastAutosave) >= interval {
		w.autosaveDue = true
		w.lastAutosave = now
	}
	if !w.autosaveDue {
		return
	}

	candidates := w.saveCandidates(storage.ReasonAutosave)
	for _, s := range candidates {
		if w.queues[jobs.Save].Len() >= w.cfg.Jobs.MaxPending || !w.limiter.AllowN(now, 1) {
			return
		}
		if w.queueSave(s) {
			w.counters.autosaved++
		}
	}
	w.autosaveDue = false
}

// saveCandidates lists Active chunks the policy wants saved, nearest first.
func (w *World) saveCandidates(reason storage.Reason) []*slot {
	var out []*slot
	for _, s := range w.slots {
		switch s.chunk.State() {
		case chunk.Active, chunk.PendingMeshRebuild:
		default:
			continue
		}
		if w.policy.ShouldSave(s.chunk, reason) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *slot) int {
		return compareNearest(w.center, a.chunk.Coord(), b.chunk.Coord())
	})
	return out
}

// Flush saves every modified resident chunk the policy wants and waits until
// no save is queued or running. It ignores the autosave rate limit.
func (w *World) Flush(ctx context.Context) error {
	for _, s := range w.saveCandidates(storage.ReasonAutosave) {
		w.queueSave(s)
	}
	return w.settle(ctx, func() bool {
		return w.queues[jobs.Save].Len() == 0 && w.executing[jobs.Save].Load() == 0
	})
}

// Close unloads every chunk, saving what the policy wants on unload, and
// waits for all jobs to drain. The world creates no chunks afterwards.
func (w *World) Close(ctx context.Context) error {
	w.closing = true
	for _, s := range w.slots {
		w.beginUnload(s)
	}
	err := w.settle(ctx, func() bool {
		return len(w.slots) == 0
	})
	if err != nil {
		return fmt.Errorf("close world: %d chunks still held: %w", len(w.slots), err)
	}
	return nil
}

// settle drives job processing until done reports true or ctx ends.
func (w *World) settle(ctx context.Context, done func() bool) error {
	ticker := time.NewTicker(settleInterval)
	defer ticker.Stop()
	for {
		w.ProcessCompletedChunkTasks()
		w.reapUnloaded()
		w.ProcessJobQueues()
		w.publish()
		if done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
