// Package mesh builds face-culled block geometry for resident chunks. It runs
// on the world goroutine only.
package mesh

import (
	"errors"
	"fmt"
	"sync/atomic"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
)

// ErrNeighborPending means a horizontally adjacent chunk exists but its
// blocks are not readable yet. The caller keeps the chunk dirty and retries
// once the neighbor activates.
var ErrNeighborPending = errors.New("neighbor chunk not resident")

// Face identifies one of the six block sides.
type Face uint8

const (
	East Face = iota
	West
	North
	South
	Up
	Down
)

var faceNames = [...]string{"east", "west", "north", "south", "up", "down"}

func (f Face) String() string {
	if int(f) < len(faceNames) {
		return faceNames[f]
	}
	return fmt.Sprintf("face(%d)", uint8(f))
}

var faceOffsets = [...]struct{ dx, dy, dz int }{
	East:  {1, 0, 0},
	West:  {-1, 0, 0},
	North: {0, 1, 0},
	South: {0, -1, 0},
	Up:    {0, 0, 1},
	Down:  {0, 0, -1},
}

const (
	shiftY    = chunk.BitsX
	shiftZ    = shiftY + chunk.BitsY
	shiftFace = shiftZ + chunk.BitsZ
	shiftID   = shiftFace + 3
)

// Quad is one visible block face, packed as x | y | z | face | block id.
type Quad uint32

func packQuad(x, y, z int, f Face, id block.ID) Quad {
	return Quad(uint32(x) | uint32(y)<<shiftY | uint32(z)<<shiftZ | uint32(f)<<shiftFace | uint32(id)<<shiftID)
}

// Unpack returns the fields of q.
func (q Quad) Unpack() (x, y, z int, f Face, id block.ID) {
	v := uint32(q)
	x = int(v & (chunk.Width - 1))
	y = int(v >> shiftY & (chunk.Depth - 1))
	z = int(v >> shiftZ & (chunk.Height - 1))
	f = Face(v >> shiftFace & 0x7)
	id = block.ID(v >> shiftID)
	return x, y, z, f, id
}

// Mesh is the CPU-side geometry of one chunk.
type Mesh struct {
	Coord    chunk.Coord
	Revision uint64
	Quads    []Quad

	released atomic.Bool
}

func (m *Mesh) FaceCount() int {
	return len(m.Quads)
}

// Release drops the geometry. Safe to call more than once.
func (m *Mesh) Release() {
	if m.released.Swap(true) {
		return
	}
	m.Quads = nil
}

func (m *Mesh) Released() bool {
	return m.released.Load()
}

// Neighbors resolves adjacent chunks by coordinate.
type Neighbors interface {
	// Neighbor reports the chunk at coord. ok is false when no chunk exists;
	// resident is false when it exists but its blocks are still being
	// produced.
	Neighbor(coord chunk.Coord) (c *chunk.Chunk, resident bool, ok bool)
}

// Builder culls hidden faces against the block registry.
type Builder struct {
	registry *block.Registry
}

func NewBuilder(registry *block.Registry) *Builder {
	return &Builder{registry: registry}
}

// Build produces the visible faces of c. Absent neighbors count as open
// space; neighbors that exist but are not resident yield ErrNeighborPending.
func (b *Builder) Build(c *chunk.Chunk, neighbors Neighbors) (*Mesh, error) {
	var adjacent [4]*chunk.Chunk
	for i, coord := range c.Coord().Neighbors4() {
		n, resident, ok := neighbors.Neighbor(coord)
		if !ok {
			continue
		}
		if !resident {
			return nil, fmt.Errorf("chunk %v neighbor %v: %w", c.Coord(), coord, ErrNeighborPending)
		}
		adjacent[i] = n
	}

	m := &Mesh{Coord: c.Coord(), Revision: c.Revision()}
	for z := 0; z < chunk.Height; z++ {
		for y := 0; y < chunk.Depth; y++ {
			for x := 0; x < chunk.Width; x++ {
				id := c.Block(x, y, z)
				if id == block.Air {
					continue
				}
				for f, off := range faceOffsets {
					if z+off.dz < 0 {
						continue
					}
					other, exposed := b.sample(c, &adjacent, x+off.dx, y+off.dy, z+off.dz)
					if exposed || b.visibleAgainst(id, other) {
						m.Quads = append(m.Quads, packQuad(x, y, z, Face(f), id))
					}
				}
			}
		}
	}
	return m, nil
}

// sample reads the block at a position that may lie in an adjacent chunk.
// exposed is true when nothing is known about that position.
func (b *Builder) sample(c *chunk.Chunk, adjacent *[4]*chunk.Chunk, x, y, z int) (block.ID, bool) {
	if z >= chunk.Height {
		return 0, true
	}
	var n *chunk.Chunk
	switch {
	case x >= chunk.Width:
		n, x = adjacent[0], x-chunk.Width
	case x < 0:
		n, x = adjacent[1], x+chunk.Width
	case y >= chunk.Depth:
		n, y = adjacent[2], y-chunk.Depth
	case y < 0:
		n, y = adjacent[3], y+chunk.Depth
	default:
		return c.Block(x, y, z), false
	}
	if n == nil {
		return 0, true
	}
	return n.Block(x, y, z), false
}

func (b *Builder) visibleAgainst(id, other block.ID) bool {
	if other == id {
		return false
	}
	return !b.registry.Opaque(other)
}
