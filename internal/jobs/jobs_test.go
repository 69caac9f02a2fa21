package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
)

type memoryStore struct {
	mu    sync.Mutex
	saved map[chunk.Coord]chunk.Blocks
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(map[chunk.Coord]chunk.Blocks)}
}

var errMissing = errors.New("missing")

func (m *memoryStore) Load(_ context.Context, coord chunk.Coord) (*chunk.Blocks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blocks, ok := m.saved[coord]
	if !ok {
		return nil, errMissing
	}
	return &blocks, nil
}

func (m *memoryStore) Save(_ context.Context, coord chunk.Coord, blocks *chunk.Blocks, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[coord] = *blocks
	m.saves++
	return nil
}

func stoneFloor(reg *block.Registry) Generator {
	stone := reg.MustLookup(block.NameStone)
	return GeneratorFunc(func(_ context.Context, c *chunk.Chunk, _, _ int, _ int64) error {
		for x := 0; x < chunk.Width; x++ {
			for y := 0; y < chunk.Depth; y++ {
				if err := c.SetBlock(x, y, 0, stone); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func TestGenerateJobFillsChunk(t *testing.T) {
	reg := block.Default()
	c := chunk.New(chunk.Coord{X: 1, Y: 2}, reg)
	job := NewGenerateJob(c, stoneFloor(reg), 7)
	job.Run(context.Background())
	if job.Err() != nil {
		t.Fatalf("unexpected error %v", job.Err())
	}
	if c.Block(3, 3, 0) != reg.MustLookup(block.NameStone) {
		t.Fatalf("expected generated stone")
	}
	if job.Kind() != Generate || job.Coord() != c.Coord() {
		t.Fatalf("unexpected job identity %s %v", job.Kind(), job.Coord())
	}
}

func TestJobCancelledBeforeRun(t *testing.T) {
	reg := block.Default()
	var calls atomic.Int32
	gen := GeneratorFunc(func(context.Context, *chunk.Chunk, int, int, int64) error {
		calls.Add(1)
		return nil
	})
	job := NewGenerateJob(chunk.New(chunk.Coord{}, reg), gen, 0)
	job.Cancel()
	job.Run(context.Background())
	if !errors.Is(job.Err(), ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", job.Err())
	}
	if calls.Load() != 0 {
		t.Fatalf("generator must not run for a cancelled job")
	}
}

func TestJobCancelledDuringRun(t *testing.T) {
	reg := block.Default()
	var job *GenerateJob
	gen := GeneratorFunc(func(context.Context, *chunk.Chunk, int, int, int64) error {
		job.Cancel()
		return nil
	})
	job = NewGenerateJob(chunk.New(chunk.Coord{}, reg), gen, 0)
	job.Run(context.Background())
	if !errors.Is(job.Err(), ErrCancelled) {
		t.Fatalf("expected cancellation after work, got %v", job.Err())
	}
}

func TestJobRecoversPanic(t *testing.T) {
	reg := block.Default()
	gen := GeneratorFunc(func(context.Context, *chunk.Chunk, int, int, int64) error {
		panic("boom")
	})
	job := NewGenerateJob(chunk.New(chunk.Coord{X: 4}, reg), gen, 0)
	job.Run(context.Background())
	if !errors.Is(job.Err(), ErrJobPanicked) {
		t.Fatalf("expected ErrJobPanicked, got %v", job.Err())
	}
}

func TestLoadJob(t *testing.T) {
	reg := block.Default()
	store := newMemoryStore()
	coord := chunk.Coord{X: 5, Y: 5}
	var blocks chunk.Blocks
	blocks[chunk.Index(1, 1, 1)] = reg.MustLookup(block.NameDirt)
	store.saved[coord] = blocks

	c := chunk.New(coord, reg)
	job := NewLoadJob(c, store)
	job.Run(context.Background())
	if job.Err() != nil {
		t.Fatalf("Load: %v", job.Err())
	}
	if c.Block(1, 1, 1) != reg.MustLookup(block.NameDirt) {
		t.Fatalf("expected loaded block")
	}

	missing := NewLoadJob(chunk.New(chunk.Coord{X: 9}, reg), store)
	missing.Run(context.Background())
	if !errors.Is(missing.Err(), errMissing) {
		t.Fatalf("expected loader error, got %v", missing.Err())
	}
}

func TestSaveJobWritesSnapshot(t *testing.T) {
	reg := block.Default()
	stone := reg.MustLookup(block.NameStone)
	store := newMemoryStore()
	c := chunk.New(chunk.Coord{}, reg)
	if _, err := c.ModifyBlock(0, 0, 0, stone, true); err != nil {
		t.Fatalf("ModifyBlock: %v", err)
	}
	job := NewSaveJob(c, store)
	if job.Revision() != 1 {
		t.Fatalf("expected revision 1, got %d", job.Revision())
	}
	if _, err := c.ModifyBlock(1, 0, 0, stone, true); err != nil {
		t.Fatalf("ModifyBlock: %v", err)
	}
	job.Run(context.Background())
	if job.Err() != nil {
		t.Fatalf("Save: %v", job.Err())
	}
	saved := store.saved[chunk.Coord{}]
	if saved[chunk.Index(0, 0, 0)] != stone || saved[chunk.Index(1, 0, 0)] != block.Air {
		t.Fatalf("save did not write the submission snapshot")
	}
}

func waitForJobs(t *testing.T, s Scheduler, n int) []Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var out []Job
	for len(out) < n {
		out = append(out, s.Drain()...)
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d jobs, got %d", n, len(out))
		}
		time.Sleep(time.Millisecond)
	}
	return out
}

func TestPoolRunsAndDrainsJobs(t *testing.T) {
	reg := block.Default()
	pool := NewPool(context.Background(), 4)
	defer pool.Close()

	const n = 32
	for i := 0; i < n; i++ {
		pool.Submit(NewGenerateJob(chunk.New(chunk.Coord{X: i}, reg), stoneFloor(reg), 1))
	}
	done := waitForJobs(t, pool, n)
	seen := make(map[chunk.Coord]bool)
	for _, job := range done {
		if job.Err() != nil {
			t.Fatalf("job %v failed: %v", job.Coord(), job.Err())
		}
		seen[job.Coord()] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct jobs, got %d", n, len(seen))
	}
	if extra := pool.Drain(); len(extra) != 0 {
		t.Fatalf("expected empty drain, got %d", len(extra))
	}
}

func TestPoolAfterCloseReturnsJob(t *testing.T) {
	reg := block.Default()
	pool := NewPool(context.Background(), 1)
	pool.Close()
	job := NewGenerateJob(chunk.New(chunk.Coord{}, reg), stoneFloor(reg), 1)
	pool.Submit(job)
	done := pool.Drain()
	if len(done) != 1 || !errors.Is(done[0].Err(), ErrSchedulerStopped) {
		t.Fatalf("expected stopped job to be returned, got %v", done)
	}
}

func TestPoolSubmitRacingCloseReturnsEveryJob(t *testing.T) {
	reg := block.Default()
	gen := stoneFloor(reg)
	for round := 0; round < 20; round++ {
		pool := NewPool(context.Background(), 2)
		const n = 50
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				pool.Submit(NewGenerateJob(chunk.New(chunk.Coord{X: i}, reg), gen, 1))
			}
		}()
		pool.Close()
		wg.Wait()

		done := pool.Drain()
		if len(done) != n {
			t.Fatalf("round %d: %d of %d jobs came back", round, len(done), n)
		}
		for _, job := range done {
			if err := job.Err(); err != nil && !errors.Is(err, ErrSchedulerStopped) {
				t.Fatalf("round %d: job %v: %v", round, job.Coord(), err)
			}
		}
	}
}

func TestPoolContextCancelSkipsWork(t *testing.T) {
	reg := block.Default()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := NewPool(ctx, 2)
	defer pool.Close()
	pool.Submit(NewGenerateJob(chunk.New(chunk.Coord{}, reg), stoneFloor(reg), 1))
	done := waitForJobs(t, pool, 1)
	if !errors.Is(done[0].Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", done[0].Err())
	}
}

func TestInlineRunsSynchronously(t *testing.T) {
	reg := block.Default()
	s := NewInline(context.Background())
	store := newMemoryStore()
	s.Submit(NewSaveJob(chunk.New(chunk.Coord{X: 2}, reg), store))
	if store.saves != 1 {
		t.Fatalf("expected inline save to run during Submit")
	}
	if done := s.Drain(); len(done) != 1 || done[0].Kind() != Save {
		t.Fatalf("unexpected drain %v", done)
	}
}
