// Package terrain provides reference generators that fill chunks with
// repeatable terrain.
package terrain

import (
	"context"
	"fmt"
	"math"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
	"chunkstream/internal/config"
	"chunkstream/internal/jobs"
)

// palette resolves the block IDs a generator places.
type palette struct {
	bedrock   block.ID
	deepstone block.ID
	stone     block.ID
	dirt      block.ID
	grass     block.ID
	sand      block.ID
	gravel    block.ID
	water     block.ID
}

func newPalette(reg *block.Registry) (palette, error) {
	var p palette
	for _, entry := range []struct {
		name string
		dst  *block.ID
	}{
		{block.NameBedrock, &p.bedrock},
		{block.NameDeepstone, &p.deepstone},
		{block.NameStone, &p.stone},
		{block.NameDirt, &p.dirt},
		{block.NameGrass, &p.grass},
		{block.NameSand, &p.sand},
		{block.NameGravel, &p.gravel},
		{block.NameWater, &p.water},
	} {
		id, ok := reg.Lookup(entry.name)
		if !ok {
			return palette{}, fmt.Errorf("terrain requires block %q", entry.name)
		}
		*entry.dst = id
	}
	return p, nil
}

// NoiseGenerator creates repeatable terrain using hashed value noise. It holds
// only immutable settings, so one instance serves every worker.
type NoiseGenerator struct {
	cfg     config.TerrainConfig
	palette palette
}

var _ jobs.Generator = (*NoiseGenerator)(nil)

func NewNoiseGenerator(cfg config.TerrainConfig, reg *block.Registry) (*NoiseGenerator, error) {
	p, err := newPalette(reg)
	if err != nil {
		return nil, err
	}
	return &NoiseGenerator{cfg: cfg, palette: p}, nil
}

func (g *NoiseGenerator) surfaceBase() int {
	ratio := g.cfg.SurfaceRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return int(float64(chunk.Height-1) * ratio)
}

func (g *NoiseGenerator) amplitude() float64 {
	if g.cfg.Amplitude > 0 {
		return g.cfg.Amplitude
	}
	return float64(chunk.Height) * 0.2
}

func (g *NoiseGenerator) computeSurfaceHeight(noise float64) int {
	height := int(float64(g.surfaceBase()) + noise*g.amplitude())
	return clampInt(height, 1, chunk.Height-1)
}

// GenerateChunk fills c column by column. ctx is checked between rows so a
// cancelled world shutdown does not wait for a full chunk.
func (g *NoiseGenerator) GenerateChunk(ctx context.Context, c *chunk.Chunk, chunkX, chunkY int, seed int64) error {
	originX := chunkX * chunk.Width
	originY := chunkY * chunk.Depth
	for x := 0; x < chunk.Width; x++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for y := 0; y < chunk.Depth; y++ {
			globalX := originX + x
			globalY := originY + y
			noise := g.fractalNoise(float64(globalX), float64(globalY), seed)
			surface := g.computeSurfaceHeight(noise)
			for z := 0; z < chunk.Height; z++ {
				id := g.composeTerrainBlock(globalX, globalY, z, surface, seed)
				if id == block.Air {
					continue
				}
				if err := c.SetBlock(x, y, z, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (g *NoiseGenerator) composeTerrainBlock(globalX, globalY, z, surface int, seed int64) block.ID {
	p := g.palette
	switch {
	case z == 0:
		return p.bedrock
	case z > surface:
		if z <= g.cfg.SeaLevel {
			return p.water
		}
		return block.Air
	case z == surface:
		if surface <= g.cfg.SeaLevel+1 {
			return p.sand
		}
		return p.grass
	case z >= surface-3:
		if surface <= g.cfg.SeaLevel+1 {
			return p.sand
		}
		return p.dirt
	case z < surface-48:
		return p.deepstone
	}
	if hash3(globalX, globalY, z^int(seed))&0x3F == 0 {
		return p.gravel
	}
	return p.stone
}

func (g *NoiseGenerator) fractalNoise(x, y float64, seed int64) float64 {
	frequency := g.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < g.cfg.Octaves; i++ {
		noise := valueNoise(x*frequency, y*frequency, seed)
		noiseSum += noise * amplitude
		maxAmplitude += amplitude
		amplitude *= g.cfg.Persistence
		frequency *= g.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return 0
	}
	return noiseSum / maxAmplitude
}

func valueNoise(x, y float64, seed int64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := x0 + 1
	y1 := y0 + 1

	sx := smooth(x - float64(x0))
	sy := smooth(y - float64(y0))

	n0 := random2D(x0, y0, seed)
	n1 := random2D(x1, y0, seed)
	ix0 := lerp(n0, n1, sx)

	n2 := random2D(x0, y1, seed)
	n3 := random2D(x1, y1, seed)
	ix1 := lerp(n2, n3, sx)

	return lerp(ix0, ix1, sy)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func random2D(x, y int, seed int64) float64 {
	return float64(hash3(x, y, int(seed))&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
