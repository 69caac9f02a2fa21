package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"chunkstream/internal/chunk"
)

const levelFile = "level.yaml"

// ErrLevelShape is returned when a world directory was created with a
// different chunk shape.
var ErrLevelShape = errors.New("level chunk shape mismatch")

// Level is the per-world metadata stored next to the region directory.
type Level struct {
	ID        uuid.UUID
	Seed      int64
	BitsX     uint8
	BitsY     uint8
	BitsZ     uint8
	CreatedAt time.Time
}

type levelDocument struct {
	ID        string    `yaml:"id"`
	Seed      int64     `yaml:"seed"`
	BitsX     uint8     `yaml:"bitsX"`
	BitsY     uint8     `yaml:"bitsY"`
	BitsZ     uint8     `yaml:"bitsZ"`
	CreatedAt time.Time `yaml:"createdAt"`
}

// LevelPath returns the metadata file location for a world directory.
func LevelPath(root string) string {
	return filepath.Join(root, levelFile)
}

// OpenLevel reads the world metadata, creating it with seed when the world
// is new. An existing level keeps its stored seed.
func OpenLevel(root string, seed int64, now time.Time) (Level, bool, error) {
	path := LevelPath(root)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		level, err := parseLevel(data)
		if err != nil {
			return Level{}, false, fmt.Errorf("parse %s: %w", path, err)
		}
		if level.BitsX != chunk.BitsX || level.BitsY != chunk.BitsY || level.BitsZ != chunk.BitsZ {
			return Level{}, false, fmt.Errorf("%w: level %d/%d/%d, build %d/%d/%d", ErrLevelShape,
				level.BitsX, level.BitsY, level.BitsZ, chunk.BitsX, chunk.BitsY, chunk.BitsZ)
		}
		return level, false, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Level{}, false, fmt.Errorf("read %s: %w", path, err)
	}

	level := Level{
		ID:        uuid.New(),
		Seed:      seed,
		BitsX:     chunk.BitsX,
		BitsY:     chunk.BitsY,
		BitsZ:     chunk.BitsZ,
		CreatedAt: now.UTC().Truncate(time.Second),
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Level{}, false, fmt.Errorf("create world directory: %w", err)
	}
	out, err := yaml.Marshal(levelDocument{
		ID:        level.ID.String(),
		Seed:      level.Seed,
		BitsX:     level.BitsX,
		BitsY:     level.BitsY,
		BitsZ:     level.BitsZ,
		CreatedAt: level.CreatedAt,
	})
	if err != nil {
		return Level{}, false, fmt.Errorf("encode level: %w", err)
	}
	if err := writeAtomic(path, out); err != nil {
		return Level{}, false, fmt.Errorf("write %s: %w", path, err)
	}
	return level, true, nil
}

// ReadLevel reads existing metadata without creating it.
func ReadLevel(root string) (Level, error) {
	data, err := os.ReadFile(LevelPath(root))
	if err != nil {
		return Level{}, err
	}
	return parseLevel(data)
}

func parseLevel(data []byte) (Level, error) {
	var doc levelDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Level{}, err
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return Level{}, fmt.Errorf("level id: %w", err)
	}
	return Level{
		ID:        id,
		Seed:      doc.Seed,
		BitsX:     doc.BitsX,
		BitsY:     doc.BitsY,
		BitsZ:     doc.BitsZ,
		CreatedAt: doc.CreatedAt,
	}, nil
}
