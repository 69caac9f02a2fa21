// Package jobs defines the background units of chunk work and the scheduler
// that runs them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"chunkstream/internal/chunk"
)

// Kind identifies the work a job performs.
type Kind uint8

const (
	Generate Kind = iota
	Load
	Save
)

// Kinds lists every job kind.
var Kinds = [...]Kind{Generate, Load, Save}

func (k Kind) String() string {
	switch k {
	case Generate:
		return "generate"
	case Load:
		return "load"
	case Save:
		return "save"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// ErrCancelled is the result of a job that observed its cancel flag.
	ErrCancelled = errors.New("job cancelled")
	// ErrJobPanicked wraps a panic recovered at the job boundary.
	ErrJobPanicked = errors.New("job panicked")
)

// Generator fills a chunk with terrain. Implementations must be safe for
// concurrent use on different chunks and keep no state between calls.
type Generator interface {
	GenerateChunk(ctx context.Context, c *chunk.Chunk, chunkX, chunkY int, seed int64) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, c *chunk.Chunk, chunkX, chunkY int, seed int64) error

func (f GeneratorFunc) GenerateChunk(ctx context.Context, c *chunk.Chunk, chunkX, chunkY int, seed int64) error {
	return f(ctx, c, chunkX, chunkY, seed)
}

// Loader reads a saved chunk grid.
type Loader interface {
	Load(ctx context.Context, coord chunk.Coord) (*chunk.Blocks, error)
}

// Saver persists a chunk grid.
type Saver interface {
	Save(ctx context.Context, coord chunk.Coord, blocks *chunk.Blocks, playerModified bool) error
}

// Job is one unit of background work bound to a single chunk. Run executes on
// a worker; every other method may be called from the world goroutine. Err is
// only meaningful after the scheduler returned the job from Drain.
type Job interface {
	Coord() chunk.Coord
	Kind() Kind
	Run(ctx context.Context)
	Err() error
	Cancel()
	Cancelled() bool

	fail(err error)
}

type base struct {
	coord     chunk.Coord
	kind      Kind
	cancelled atomic.Bool
	err       error
}

func (b *base) Coord() chunk.Coord { return b.coord }
func (b *base) Kind() Kind         { return b.kind }
func (b *base) Err() error         { return b.err }
func (b *base) Cancel()            { b.cancelled.Store(true) }
func (b *base) Cancelled() bool    { return b.cancelled.Load() }
func (b *base) fail(err error)     { b.err = err }

func (b *base) String() string {
	return fmt.Sprintf("%s %v", b.kind, b.coord)
}

func (b *base) recoverPanic() {
	if r := recover(); r != nil {
		b.err = fmt.Errorf("%w: %s %v: %v", ErrJobPanicked, b.kind, b.coord, r)
	}
}

// checkpoint reports whether the job should stop, recording why.
func (b *base) checkpoint(ctx context.Context) bool {
	if b.cancelled.Load() {
		b.err = ErrCancelled
		return true
	}
	if err := ctx.Err(); err != nil {
		b.err = err
		return true
	}
	return false
}

// GenerateJob fills a chunk through a Generator.
type GenerateJob struct {
	base
	chunk     *chunk.Chunk
	generator Generator
	seed      int64
}

func NewGenerateJob(c *chunk.Chunk, generator Generator, seed int64) *GenerateJob {
	return &GenerateJob{
		base:      base{coord: c.Coord(), kind: Generate},
		chunk:     c,
		generator: generator,
		seed:      seed,
	}
}

func (j *GenerateJob) Chunk() *chunk.Chunk { return j.chunk }

func (j *GenerateJob) Run(ctx context.Context) {
	defer j.recoverPanic()
	if j.checkpoint(ctx) {
		return
	}
	j.chunk.Clear()
	if err := j.generator.GenerateChunk(ctx, j.chunk, j.coord.X, j.coord.Y, j.seed); err != nil {
		j.err = fmt.Errorf("generate %v: %w", j.coord, err)
		return
	}
	j.checkpoint(ctx)
}

// LoadJob reads a chunk's saved grid into the live chunk.
type LoadJob struct {
	base
	chunk  *chunk.Chunk
	loader Loader
}

func NewLoadJob(c *chunk.Chunk, loader Loader) *LoadJob {
	return &LoadJob{
		base:   base{coord: c.Coord(), kind: Load},
		chunk:  c,
		loader: loader,
	}
}

func (j *LoadJob) Chunk() *chunk.Chunk { return j.chunk }

func (j *LoadJob) Run(ctx context.Context) {
	defer j.recoverPanic()
	if j.checkpoint(ctx) {
		return
	}
	blocks, err := j.loader.Load(ctx, j.coord)
	if err != nil {
		j.err = err
		return
	}
	if j.checkpoint(ctx) {
		return
	}
	if err := j.chunk.Fill(blocks); err != nil {
		j.err = fmt.Errorf("load %v: %w", j.coord, err)
	}
}

// SaveJob writes a snapshot taken when the job was built. The live chunk is
// never touched by the worker.
type SaveJob struct {
	base
	snapshot       *chunk.Blocks
	revision       uint64
	playerModified bool
	saver          Saver
}

// NewSaveJob snapshots c. Must be called on the goroutine that owns c.
func NewSaveJob(c *chunk.Chunk, saver Saver) *SaveJob {
	return &SaveJob{
		base:           base{coord: c.Coord(), kind: Save},
		snapshot:       c.Snapshot(),
		revision:       c.Revision(),
		playerModified: c.PlayerModified(),
		saver:          saver,
	}
}

// Revision is the chunk revision the snapshot was taken at.
func (j *SaveJob) Revision() uint64 { return j.revision }

func (j *SaveJob) Snapshot() *chunk.Blocks { return j.snapshot }

// Run writes the snapshot. Cancellation is only honoured before the write
// starts; a started write always runs to completion.
func (j *SaveJob) Run(ctx context.Context) {
	defer j.recoverPanic()
	if j.checkpoint(ctx) {
		return
	}
	if err := j.saver.Save(context.WithoutCancel(ctx), j.coord, j.snapshot, j.playerModified); err != nil {
		j.err = fmt.Errorf("save %v: %w", j.coord, err)
	}
}
