package terrain

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
	"chunkstream/internal/config"
)

func testTerrainConfig() config.TerrainConfig {
	return config.TerrainConfig{
		Generator:    "noise",
		Frequency:    0.02,
		Amplitude:    20,
		Octaves:      3,
		Persistence:  0.5,
		Lacunarity:   2,
		SurfaceRatio: 0.5,
		SeaLevel:     60,
	}
}

func TestNoiseGeneratorDeterministicForRandomWorldLocations(t *testing.T) {
	reg := block.Default()
	genA, err := NewNoiseGenerator(testTerrainConfig(), reg)
	if err != nil {
		t.Fatalf("NewNoiseGenerator: %v", err)
	}
	genB, err := NewNoiseGenerator(testTerrainConfig(), reg)
	if err != nil {
		t.Fatalf("NewNoiseGenerator: %v", err)
	}

	randSource := rand.New(rand.NewSource(1337))
	for i := 0; i < 1000; i++ {
		globalX := randSource.Intn(2_000_001) - 1_000_000
		globalY := randSource.Intn(2_000_001) - 1_000_000

		noiseA := genA.fractalNoise(float64(globalX), float64(globalY), 424242)
		noiseB := genB.fractalNoise(float64(globalX), float64(globalY), 424242)
		if noiseA != noiseB {
			t.Fatalf("location %d (%d,%d): noise mismatch %f vs %f", i, globalX, globalY, noiseA, noiseB)
		}
		if noiseA < -1 || noiseA > 1 {
			t.Fatalf("location %d: noise %f out of range", i, noiseA)
		}
		surface := genA.computeSurfaceHeight(noiseA)
		if surface < 1 || surface >= chunk.Height {
			t.Fatalf("location %d: surface %d out of range", i, surface)
		}
	}
}

func TestNoiseGeneratorFillsChunkRepeatably(t *testing.T) {
	reg := block.Default()
	gen, err := NewNoiseGenerator(testTerrainConfig(), reg)
	if err != nil {
		t.Fatalf("NewNoiseGenerator: %v", err)
	}

	a := chunk.New(chunk.Coord{X: 3, Y: -2}, reg)
	b := chunk.New(chunk.Coord{X: 3, Y: -2}, reg)
	if err := gen.GenerateChunk(context.Background(), a, 3, -2, 7); err != nil {
		t.Fatalf("GenerateChunk: %v", err)
	}
	if err := gen.GenerateChunk(context.Background(), b, 3, -2, 7); err != nil {
		t.Fatalf("GenerateChunk: %v", err)
	}
	if *a.Snapshot() != *b.Snapshot() {
		t.Fatalf("same seed and coordinate produced different chunks")
	}

	bedrock := reg.MustLookup(block.NameBedrock)
	for x := 0; x < chunk.Width; x++ {
		for y := 0; y < chunk.Depth; y++ {
			if a.Block(x, y, 0) != bedrock {
				t.Fatalf("column (%d,%d) missing bedrock", x, y)
			}
		}
	}
	if a.Block(0, 0, chunk.Height-1) != block.Air {
		t.Fatalf("expected open sky at the top of the chunk")
	}

	c := chunk.New(chunk.Coord{X: 3, Y: -2}, reg)
	if err := gen.GenerateChunk(context.Background(), c, 3, -2, 8); err != nil {
		t.Fatalf("GenerateChunk: %v", err)
	}
	if *a.Snapshot() == *c.Snapshot() {
		t.Fatalf("different seeds produced identical chunks")
	}
}

func TestNoiseGeneratorHonoursContext(t *testing.T) {
	reg := block.Default()
	gen, err := NewNoiseGenerator(testTerrainConfig(), reg)
	if err != nil {
		t.Fatalf("NewNoiseGenerator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gen.GenerateChunk(ctx, chunk.New(chunk.Coord{}, reg), 0, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGeneratorsRequireTerrainBlocks(t *testing.T) {
	reg, err := block.NewRegistry(block.Definition{Name: block.NameStone, Opaque: true})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := NewNoiseGenerator(testTerrainConfig(), reg); err == nil {
		t.Fatalf("expected missing palette error")
	}
	if _, err := NewFlatGenerator(10, reg); err == nil {
		t.Fatalf("expected missing palette error")
	}
}

func TestFlatGeneratorLayers(t *testing.T) {
	reg := block.Default()
	gen, err := NewFlatGenerator(10, reg)
	if err != nil {
		t.Fatalf("NewFlatGenerator: %v", err)
	}
	c := chunk.New(chunk.Coord{}, reg)
	if err := gen.GenerateChunk(context.Background(), c, 0, 0, 0); err != nil {
		t.Fatalf("GenerateChunk: %v", err)
	}
	tests := []struct {
		z    int
		name string
	}{
		{0, block.NameBedrock},
		{1, block.NameStone},
		{6, block.NameStone},
		{7, block.NameDirt},
		{9, block.NameDirt},
		{10, block.NameGrass},
		{11, block.NameAir},
	}
	for _, tt := range tests {
		if got := c.Block(5, 5, tt.z); got != reg.MustLookup(tt.name) {
			t.Fatalf("z=%d: got %d want %s", tt.z, got, tt.name)
		}
	}
}
