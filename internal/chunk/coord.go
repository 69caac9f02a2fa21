package chunk

import (
	"fmt"
	"math"
)

// Chunk shape, expressed as power-of-two bit widths. These are written into
// every chunk file header and files with other widths are rejected.
const (
	BitsX = 4
	BitsY = 4
	BitsZ = 7

	Width  = 1 << BitsX
	Depth  = 1 << BitsY
	Height = 1 << BitsZ

	Volume = Width * Depth * Height
)

// Coord identifies a chunk in horizontal chunk space.
type Coord struct {
	X int
	Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Add offsets c by dx, dy chunks.
func (c Coord) Add(dx, dy int) Coord {
	return Coord{X: c.X + dx, Y: c.Y + dy}
}

// DistanceSq is the squared chunk-space distance between c and o.
func (c Coord) DistanceSq(o Coord) int {
	dx := c.X - o.X
	dy := c.Y - o.Y
	return dx*dx + dy*dy
}

// Distance is the chunk-space distance between c and o.
func (c Coord) Distance(o Coord) float64 {
	return math.Sqrt(float64(c.DistanceSq(o)))
}

var neighborOffsets = [...]struct{ dx, dy int }{
	{1, 0},
	{-1, 0},
	{0, 1},
	{0, -1},
}

// Neighbors4 returns the four horizontally adjacent chunk coordinates.
func (c Coord) Neighbors4() [4]Coord {
	var out [4]Coord
	for i, off := range neighborOffsets {
		out[i] = c.Add(off.dx, off.dy)
	}
	return out
}

// BlockCoord describes a block position in global block space. Z is vertical.
type BlockCoord struct {
	X int
	Y int
	Z int
}

// Dimensions defines the size of a chunk in blocks.
type Dimensions struct {
	Width  int
	Depth  int
	Height int
}

// Shape returns the compiled chunk dimensions.
func Shape() Dimensions {
	return Dimensions{Width: Width, Depth: Depth, Height: Height}
}

// Locate splits a global block position into its chunk and the local offset
// inside that chunk. ok is false when Z is outside the chunk height.
func Locate(b BlockCoord) (coord Coord, localX, localY, localZ int, ok bool) {
	if b.Z < 0 || b.Z >= Height {
		return Coord{}, 0, 0, 0, false
	}
	coord = Coord{X: floorDiv(b.X, Width), Y: floorDiv(b.Y, Depth)}
	return coord, b.X - coord.X*Width, b.Y - coord.Y*Depth, b.Z, true
}

// FromPosition returns the chunk containing the horizontal block-space point
// (x, y).
func FromPosition(x, y float64) Coord {
	return Coord{
		X: floorDiv(int(math.Floor(x)), Width),
		Y: floorDiv(int(math.Floor(y)), Depth),
	}
}

// Index returns the linear index of a local block: x fastest, then y, then z.
func Index(x, y, z int) int {
	return x + y*Width + z*Width*Depth
}

// InBounds reports whether the local coordinates address a block of the chunk.
func InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < Width && y < Depth && z < Height
}

func floorDiv(value, size int) int {
	if size <= 0 {
		return 0
	}
	if value >= 0 {
		return value / size
	}
	return -((-value - 1) / size) - 1
}
