// Package world owns the chunk table of a streaming session. Every exported
// method except Published and Executing must be called from the single world
// goroutine; background jobs only hand results back through the scheduler.
package world

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/time/rate"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
	"chunkstream/internal/config"
	"chunkstream/internal/jobs"
	"chunkstream/internal/journal"
	"chunkstream/internal/mesh"
	"chunkstream/internal/storage"
)

var (
	ErrChunkNotResident = errors.New("chunk not resident")
	ErrOutOfWorld       = errors.New("block outside world height")
	ErrClosed           = errors.New("world closed")
)

// Store reads and writes chunk grids.
type Store interface {
	jobs.Loader
	jobs.Saver
	Exists(coord chunk.Coord) bool
}

// Journal records lifecycle events.
type Journal interface {
	Write(ev journal.Event) error
}

// TransitionFunc observes every state change.
type TransitionFunc func(coord chunk.Coord, from, to chunk.State)

// Deps are the collaborators a World drives.
type Deps struct {
	Registry  *block.Registry
	Generator jobs.Generator
	Store     Store
	Scheduler jobs.Scheduler
	// Mesher defaults to a builder over Registry.
	Mesher       *mesh.Builder
	Journal      Journal
	Logger       *log.Logger
	OnTransition TransitionFunc
}

// slot is the world's record of one chunk.
type slot struct {
	chunk *chunk.Chunk
	// job is the single in-flight job for this chunk, if any.
	job             jobs.Job
	unloadAfterSave bool
	meshQueued      bool
	saveAttempts    int
	removed         bool

	// generateAttempts counts consecutive failed generations; retryTick is
	// the tick before which a failed chunk is not requeued.
	generateAttempts int
	retryTick        uint64
}

// World streams chunks around an observer.
type World struct {
	cfg       config.Config
	registry  *block.Registry
	generator jobs.Generator
	store     Store
	scheduler jobs.Scheduler
	mesher    *mesh.Builder
	journal   Journal
	logger    *log.Logger
	onChange  TransitionFunc
	policy    storage.Policy

	observer mgl64.Vec3
	center   chunk.Coord

	slots     map[chunk.Coord]*slot
	queues    [len(jobs.Kinds)]*queue
	limits    [len(jobs.Kinds)]int32
	executing [len(jobs.Kinds)]atomic.Int32

	meshQueue  []*slot
	meshSorted bool

	ticks    uint64
	deferred []*slot

	limiter      *rate.Limiter
	lastAutosave time.Time
	autosaveDue  bool

	counters  counters
	published atomic.Pointer[Stats]
	closing   bool
}

// New validates cfg and builds an empty world. cfg is copied.
func New(cfg *config.Config, deps Deps) (*World, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if deps.Registry == nil || deps.Generator == nil || deps.Store == nil || deps.Scheduler == nil {
		return nil, fmt.Errorf("world requires registry, generator, store and scheduler")
	}
	policy, err := storage.ParsePolicy(cfg.Storage.SavePolicy)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "world ", log.LstdFlags|log.Lmicroseconds)
	}
	mesher := deps.Mesher
	if mesher == nil {
		mesher = mesh.NewBuilder(deps.Registry)
	}

	w := &World{
		cfg:       *cfg,
		registry:  deps.Registry,
		generator: deps.Generator,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		mesher:    mesher,
		journal:   deps.Journal,
		logger:    logger,
		onChange:  deps.OnTransition,
		policy:    policy,
		slots:     make(map[chunk.Coord]*slot),
		limiter:   rate.NewLimiter(rate.Limit(cfg.Storage.SavesPerSecond), max(cfg.Storage.SaveBurst, 1)),
	}
	for _, kind := range jobs.Kinds {
		w.queues[kind] = newQueue()
	}
	w.limits[jobs.Generate] = int32(max(cfg.Jobs.MaxGenerate, 1))
	w.limits[jobs.Load] = int32(max(cfg.Jobs.MaxLoad, 1))
	w.limits[jobs.Save] = int32(max(cfg.Jobs.MaxSave, 1))
	w.publish()
	return w, nil
}

// SetObserver moves the point chunks stream around. pos is in block space.
func (w *World) SetObserver(pos mgl64.Vec3) {
	w.observer = pos
	center := chunk.FromPosition(pos.X(), pos.Y())
	if center != w.center {
		w.center = center
		w.meshSorted = false
	}
}

func (w *World) Observer() mgl64.Vec3 {
	return w.observer
}

// ObserverChunk is the chunk containing the observer.
func (w *World) ObserverChunk() chunk.Coord {
	return w.center
}

// Chunk returns the chunk at coord if the world holds one.
func (w *World) Chunk(coord chunk.Coord) (*chunk.Chunk, bool) {
	s, ok := w.slots[coord]
	if !ok {
		return nil, false
	}
	return s.chunk, true
}

// State reports the lifecycle state of the chunk at coord.
func (w *World) State(coord chunk.Coord) (chunk.State, bool) {
	s, ok := w.slots[coord]
	if !ok {
		return chunk.Inactive, false
	}
	return s.chunk.State(), true
}

// Len is the number of chunks held, in any state.
func (w *World) Len() int {
	return len(w.slots)
}

// Pending is the number of queued coordinates of a kind.
func (w *World) Pending(kind jobs.Kind) int {
	return w.queues[kind].Len()
}

// Queued reports whether coord waits in the queue of a kind.
func (w *World) Queued(kind jobs.Kind, coord chunk.Coord) bool {
	return w.queues[kind].Contains(coord)
}

// Executing is the number of submitted jobs of a kind that have not been
// drained yet. Safe for concurrent use.
func (w *World) Executing(kind jobs.Kind) int {
	return int(w.executing[kind].Load())
}

// MeshQueueLen is the number of chunks waiting for a rebuild.
func (w *World) MeshQueueLen() int {
	return len(w.meshQueue)
}

// MeshQueued reports whether the chunk at coord waits for a rebuild.
func (w *World) MeshQueued(coord chunk.Coord) bool {
	s, ok := w.slots[coord]
	return ok && s.meshQueued
}

// Tick runs one world frame.
func (w *World) Tick(now time.Time) {
	w.ticks++
	w.UpdateNearbyChunks()
	w.RemoveDistantJobs()
	w.ProcessCompletedChunkTasks()
	w.reapUnloaded()
	w.requeueDeferred()
	w.Autosave(now)
	w.ProcessJobQueues()
	w.UpdateChunkMeshes()
	w.publish()
}

// ModifyBlock applies a gameplay edit. Edits on a chunk border also mark the
// adjacent chunk for a rebuild since its boundary faces may change.
func (w *World) ModifyBlock(pos chunk.BlockCoord, id block.ID, byPlayer bool) (bool, error) {
	coord, lx, ly, lz, ok := chunk.Locate(pos)
	if !ok {
		return false, fmt.Errorf("block %v: %w", pos, ErrOutOfWorld)
	}
	s, ok := w.slots[coord]
	if !ok || !s.chunk.State().Resident() {
		return false, fmt.Errorf("chunk %v: %w", coord, ErrChunkNotResident)
	}
	changed, err := s.chunk.ModifyBlock(lx, ly, lz, id, byPlayer)
	if err != nil || !changed {
		return changed, err
	}
	w.requestMesh(s)
	var borders []chunk.Coord
	if lx == 0 {
		borders = append(borders, coord.Add(-1, 0))
	}
	if lx == chunk.Width-1 {
		borders = append(borders, coord.Add(1, 0))
	}
	if ly == 0 {
		borders = append(borders, coord.Add(0, -1))
	}
	if ly == chunk.Depth-1 {
		borders = append(borders, coord.Add(0, 1))
	}
	for _, n := range borders {
		if ns, ok := w.slots[n]; ok && ns.chunk.State().Resident() {
			w.requestMesh(ns)
		}
	}
	return true, nil
}

// transition moves s to next, notifying the journal and the observer hook.
func (w *World) transition(s *slot, next chunk.State) error {
	from := s.chunk.State()
	if err := s.chunk.SetState(next); err != nil {
		w.logger.Printf("chunk %v: %v", s.chunk.Coord(), err)
		return err
	}
	if w.onChange != nil {
		w.onChange(s.chunk.Coord(), from, next)
	}
	w.record(journal.Event{
		Kind: journal.KindTransition,
		X:    s.chunk.Coord().X,
		Y:    s.chunk.Coord().Y,
		From: from.String(),
		To:   next.String(),
	})
	return nil
}

func (w *World) record(ev journal.Event) {
	if w.journal == nil {
		return
	}
	if err := w.journal.Write(ev); err != nil {
		w.counters.journalErrors++
		if w.counters.journalErrors == 1 {
			w.logger.Printf("journal write failed: %v", err)
		}
	}
}

func (w *World) recordJob(kind journal.Kind, job jobs.Job, detail string) {
	w.record(journal.Event{
		Kind:   kind,
		X:      job.Coord().X,
		Y:      job.Coord().Y,
		Job:    job.Kind().String(),
		Detail: detail,
	})
}

func (w *World) activationRadiusSq() int {
	r := w.cfg.Streaming.ActivationRadius
	return r * r
}

func (w *World) deactivationRadiusSq() int {
	r := w.cfg.Streaming.DeactivationRadius()
	return r * r
}
