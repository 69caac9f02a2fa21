package terrain

import (
	"context"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
	"chunkstream/internal/jobs"
)

// FlatGenerator lays identical layers everywhere: bedrock, stone, three dirt
// layers and a grass top at Height.
type FlatGenerator struct {
	Height  int
	palette palette
}

var _ jobs.Generator = (*FlatGenerator)(nil)

func NewFlatGenerator(height int, reg *block.Registry) (*FlatGenerator, error) {
	p, err := newPalette(reg)
	if err != nil {
		return nil, err
	}
	return &FlatGenerator{Height: clampInt(height, 1, chunk.Height-1), palette: p}, nil
}

func (g *FlatGenerator) GenerateChunk(ctx context.Context, c *chunk.Chunk, _, _ int, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for x := 0; x < chunk.Width; x++ {
		for y := 0; y < chunk.Depth; y++ {
			if err := c.SetBlock(x, y, 0, g.palette.bedrock); err != nil {
				return err
			}
			if err := c.SetColumn(x, y, 1, g.Height-4, g.palette.stone); err != nil {
				return err
			}
			if err := c.SetColumn(x, y, max(1, g.Height-3), g.Height-1, g.palette.dirt); err != nil {
				return err
			}
			if err := c.SetBlock(x, y, g.Height, g.palette.grass); err != nil {
				return err
			}
		}
	}
	return nil
}
