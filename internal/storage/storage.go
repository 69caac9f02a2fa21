// Package storage persists ESFS chunk files beneath a world directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
	"chunkstream/internal/codec"
)

const (
	regionDir     = "region"
	filePrefix    = "chunk_"
	fileExtension = ".esfs"
)

var (
	// ErrNotFound means no saved copy of the chunk exists.
	ErrNotFound = errors.New("chunk not on disk")
	// ErrUnknownBlock means a file references a block ID the registry does
	// not know. It is treated as corruption.
	ErrUnknownBlock = fmt.Errorf("%w: unknown block id", codec.ErrCorrupt)

	ErrNotCataloged     = errors.New("chunk not in catalog")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// IsCorrupt reports whether err describes a damaged file rather than an
// absent one or an I/O failure.
func IsCorrupt(err error) bool {
	return errors.Is(err, codec.ErrCorrupt)
}

// Record describes one successful save.
type Record struct {
	Coord          chunk.Coord
	Size           int
	Checksum       uint64
	SavedAt        time.Time
	PlayerModified bool
}

// Catalog keeps an index of saved chunks.
type Catalog interface {
	Record(ctx context.Context, rec Record) error
	Lookup(ctx context.Context, coord chunk.Coord) (Record, bool, error)
}

// Options configures a Storage.
type Options struct {
	Catalog Catalog
	Logger  *log.Logger
	Now     func() time.Time
}

// Storage reads and writes chunk files. It is safe for concurrent use as
// long as no two goroutines write the same coordinate at once.
type Storage struct {
	root     string
	registry *block.Registry
	catalog  Catalog
	logger   *log.Logger
	now      func() time.Time
}

// New prepares the region directory beneath root.
func New(root string, registry *block.Registry, opts Options) (*Storage, error) {
	if root == "" {
		return nil, errors.New("storage root must be set")
	}
	if registry == nil {
		return nil, errors.New("storage requires a block registry")
	}
	if err := os.MkdirAll(filepath.Join(root, regionDir), 0o755); err != nil {
		return nil, fmt.Errorf("create region directory: %w", err)
	}
	s := &Storage{
		root:     root,
		registry: registry,
		catalog:  opts.Catalog,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "storage ", log.LstdFlags)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Storage) Root() string {
	return s.root
}

// Path returns the file that holds coord.
func (s *Storage) Path(coord chunk.Coord) string {
	name := filePrefix + strconv.Itoa(coord.X) + "_" + strconv.Itoa(coord.Y) + fileExtension
	return filepath.Join(s.root, regionDir, name)
}

// Exists is a cheap stat used while a chunk is CheckingDisk. Stat failures
// other than absence report true so the subsequent load surfaces the error.
func (s *Storage) Exists(coord chunk.Coord) bool {
	_, err := os.Stat(s.Path(coord))
	return !errors.Is(err, fs.ErrNotExist)
}

// Load reads and validates the saved grid for coord.
func (s *Storage) Load(ctx context.Context, coord chunk.Coord) (*chunk.Blocks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(coord))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("chunk %v: %w", coord, ErrNotFound)
		}
		return nil, fmt.Errorf("read chunk %v: %w", coord, err)
	}
	blocks, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w", coord, err)
	}
	for i, id := range blocks {
		if !s.registry.Valid(id) {
			return nil, fmt.Errorf("chunk %v index %d id %d: %w", coord, i, id, ErrUnknownBlock)
		}
	}
	return blocks, nil
}

// Save writes blocks for coord. The file is written to a temporary name,
// synced and renamed so readers never see a partial file. ctx is only
// consulted before the write starts.
func (s *Storage) Save(ctx context.Context, coord chunk.Coord, blocks *chunk.Blocks, playerModified bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := codec.Encode(blocks)
	path := s.Path(coord)
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write chunk %v: %w", coord, err)
	}
	if s.catalog == nil {
		return nil
	}
	rec := Record{
		Coord:          coord,
		Size:           len(data),
		Checksum:       xxhash.Sum64(data),
		SavedAt:        s.now().UTC(),
		PlayerModified: playerModified,
	}
	// The chunk file is durable at this point; a catalog failure must not
	// turn it into a failed save.
	if err := s.catalog.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Printf("catalog record %v: %v", coord, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".chunk-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Checksum hashes the file currently stored for coord.
func (s *Storage) Checksum(coord chunk.Coord) (uint64, int, error) {
	data, err := os.ReadFile(s.Path(coord))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, fmt.Errorf("chunk %v: %w", coord, ErrNotFound)
		}
		return 0, 0, err
	}
	return xxhash.Sum64(data), len(data), nil
}

// Verify compares the file on disk with the checksum the catalog recorded.
func (s *Storage) Verify(ctx context.Context, coord chunk.Coord) (Record, error) {
	if s.catalog == nil {
		return Record{}, fmt.Errorf("chunk %v: %w", coord, ErrNotCataloged)
	}
	rec, ok, err := s.catalog.Lookup(ctx, coord)
	if err != nil {
		return Record{}, fmt.Errorf("catalog lookup %v: %w", coord, err)
	}
	if !ok {
		return Record{}, fmt.Errorf("chunk %v: %w", coord, ErrNotCataloged)
	}
	sum, size, err := s.Checksum(coord)
	if err != nil {
		return rec, err
	}
	if sum != rec.Checksum || size != rec.Size {
		return rec, fmt.Errorf("chunk %v: %w: disk %016x/%d, catalog %016x/%d",
			coord, ErrChecksumMismatch, sum, size, rec.Checksum, rec.Size)
	}
	return rec, nil
}

// List returns the coordinates of every chunk file in the region directory.
func (s *Storage) List() ([]chunk.Coord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, regionDir))
	if err != nil {
		return nil, fmt.Errorf("read region directory: %w", err)
	}
	coords := make([]chunk.Coord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		coord, ok := ParseFileName(entry.Name())
		if ok {
			coords = append(coords, coord)
		}
	}
	return coords, nil
}

// ParseFileName extracts the coordinate from a chunk_{X}_{Y}.esfs name.
func ParseFileName(name string) (chunk.Coord, bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExtension) {
		return chunk.Coord{}, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExtension)
	xs, ys, ok := strings.Cut(body, "_")
	if !ok {
		return chunk.Coord{}, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return chunk.Coord{}, false
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return chunk.Coord{}, false
	}
	return chunk.Coord{X: x, Y: y}, true
}
