package chunk

import (
	"errors"
	"fmt"

	"chunkstream/internal/block"
)

// Blocks is the dense block grid of one chunk.
type Blocks [Volume]block.ID

var (
	ErrOutOfBounds  = errors.New("local block coordinate out of bounds")
	ErrUnknownBlock = errors.New("block id not registered")
)

// Mesh is the render geometry handle cached on a chunk.
type Mesh interface {
	FaceCount() int
	Release()
}

// Chunk owns a fixed-size block grid and its lifecycle state.
//
// A chunk is owned by the world goroutine. The only exception is the single
// outstanding generate or load job for the chunk, which writes the block grid
// while the chunk sits in Generating or Loading; the world does not read the
// grid in those states.
type Chunk struct {
	coord    Coord
	registry *block.Registry
	blocks   Blocks
	state    State

	dirty          bool
	modified       bool
	playerModified bool
	persisted      bool
	revision       uint64

	mesh Mesh
}

// New returns an Inactive chunk filled with air.
func New(coord Coord, registry *block.Registry) *Chunk {
	return &Chunk{
		coord:    coord,
		registry: registry,
		state:    Inactive,
	}
}

func (c *Chunk) Coord() Coord {
	return c.coord
}

func (c *Chunk) Registry() *block.Registry {
	return c.registry
}

func (c *Chunk) State() State {
	return c.state
}

// SetState moves the chunk to next if the transition table allows it.
func (c *Chunk) SetState(next State) error {
	if !CanTransition(c.state, next) {
		return fmt.Errorf("%w: %v %s -> %s", ErrInvalidTransition, c.coord, c.state, next)
	}
	c.state = next
	return nil
}

// Block returns the block ID at a local position. Out of range reads return air.
func (c *Chunk) Block(x, y, z int) block.ID {
	if !InBounds(x, y, z) {
		return block.Air
	}
	return c.blocks[Index(x, y, z)]
}

// SetBlock writes a block without touching any flag. Producers (generation,
// loading) use it to fill a chunk that is not yet resident.
func (c *Chunk) SetBlock(x, y, z int, id block.ID) error {
	if !InBounds(x, y, z) {
		return fmt.Errorf("%w: (%d,%d,%d)", ErrOutOfBounds, x, y, z)
	}
	if c.registry != nil && !c.registry.Valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownBlock, id)
	}
	c.blocks[Index(x, y, z)] = id
	return nil
}

// SetColumn fills z in [from, to] of one column with id.
func (c *Chunk) SetColumn(x, y, from, to int, id block.ID) error {
	if from < 0 {
		from = 0
	}
	if to >= Height {
		to = Height - 1
	}
	for z := from; z <= to; z++ {
		if err := c.SetBlock(x, y, z, id); err != nil {
			return err
		}
	}
	return nil
}

// Clear resets the grid to air without touching flags.
func (c *Chunk) Clear() {
	c.blocks = Blocks{}
}

// Fill replaces the whole grid. Every ID must be registered.
func (c *Chunk) Fill(blocks *Blocks) error {
	if c.registry != nil {
		for i, id := range blocks {
			if !c.registry.Valid(id) {
				return fmt.Errorf("%w: %d at index %d", ErrUnknownBlock, id, i)
			}
		}
	}
	c.blocks = *blocks
	return nil
}

// ModifyBlock is a gameplay mutation: it marks the chunk dirty and modified and
// bumps the revision. byPlayer additionally sets the player-modified flag.
func (c *Chunk) ModifyBlock(x, y, z int, id block.ID, byPlayer bool) (bool, error) {
	if !InBounds(x, y, z) {
		return false, fmt.Errorf("%w: (%d,%d,%d)", ErrOutOfBounds, x, y, z)
	}
	if c.registry != nil && !c.registry.Valid(id) {
		return false, fmt.Errorf("%w: %d", ErrUnknownBlock, id)
	}
	idx := Index(x, y, z)
	if c.blocks[idx] == id {
		return false, nil
	}
	c.blocks[idx] = id
	c.revision++
	c.dirty = true
	c.modified = true
	if byPlayer {
		c.playerModified = true
	}
	return true, nil
}

// Snapshot returns a deep copy of the block grid.
func (c *Chunk) Snapshot() *Blocks {
	dup := c.blocks
	return &dup
}

// Revision counts gameplay mutations since the chunk was created.
func (c *Chunk) Revision() uint64 {
	return c.revision
}

func (c *Chunk) Dirty() bool {
	return c.dirty
}

func (c *Chunk) MarkDirty() {
	c.dirty = true
}

func (c *Chunk) ClearDirty() {
	c.dirty = false
}

// Modified reports whether the chunk differs from its disk copy.
func (c *Chunk) Modified() bool {
	return c.modified
}

// MarkModified flags the chunk as differing from disk without a block edit,
// e.g. after fresh generation.
func (c *Chunk) MarkModified() {
	c.modified = true
}

func (c *Chunk) PlayerModified() bool {
	return c.playerModified
}

// Persisted reports whether a disk copy of the chunk is known to exist.
func (c *Chunk) Persisted() bool {
	return c.persisted
}

// MarkLoaded records that the grid was just read from disk.
func (c *Chunk) MarkLoaded() {
	c.persisted = true
	c.modified = false
	c.playerModified = false
}

// MarkSaved records a completed save of the snapshot taken at revision. The
// modified flags are only cleared when nothing changed since that snapshot.
func (c *Chunk) MarkSaved(revision uint64) bool {
	c.persisted = true
	if c.revision != revision {
		return false
	}
	c.modified = false
	c.playerModified = false
	return true
}

func (c *Chunk) Mesh() Mesh {
	return c.mesh
}

// SetMesh replaces the cached mesh, releasing the previous one.
func (c *Chunk) SetMesh(m Mesh) {
	if c.mesh != nil && c.mesh != m {
		c.mesh.Release()
	}
	c.mesh = m
}

// Release drops the cached mesh. Called once the chunk is unloaded.
func (c *Chunk) Release() {
	c.SetMesh(nil)
}

// CountBlocks returns how many blocks of each ID the chunk holds.
func (c *Chunk) CountBlocks() map[block.ID]int {
	return CountBlocks(&c.blocks)
}

// CountBlocks builds a histogram of a block grid.
func CountBlocks(blocks *Blocks) map[block.ID]int {
	counts := make(map[block.ID]int)
	for _, id := range blocks {
		counts[id]++
	}
	return counts
}
