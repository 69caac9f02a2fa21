package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"chunkstream/internal/block"
)

// Config captures the tunable parameters of a streaming session.
type Config struct {
	World     WorldConfig     `json:"world" yaml:"world" toml:"world"`
	Streaming StreamingConfig `json:"streaming" yaml:"streaming" toml:"streaming"`
	Jobs      JobsConfig      `json:"jobs" yaml:"jobs" toml:"jobs"`
	Storage   StorageConfig   `json:"storage" yaml:"storage" toml:"storage"`
	Terrain   TerrainConfig   `json:"terrain" yaml:"terrain" toml:"terrain"`
	Journal   JournalConfig   `json:"journal" yaml:"journal" toml:"journal"`
	Status    StatusConfig    `json:"status" yaml:"status" toml:"status"`
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Blocks    []BlockConfig   `json:"blocks" yaml:"blocks" toml:"blocks"`
}

type WorldConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
	Seed int64  `json:"seed" yaml:"seed" toml:"seed"` // ignored once level.yaml exists
}

type StreamingConfig struct {
	ActivationRadius    int `json:"activationRadius" yaml:"activationRadius" toml:"activationRadius"` // chunks
	Hysteresis          int `json:"hysteresis" yaml:"hysteresis" toml:"hysteresis"`                   // extra chunks before unload
	MeshRebuildsPerTick int `json:"meshRebuildsPerTick" yaml:"meshRebuildsPerTick" toml:"meshRebuildsPerTick"`
}

type JobsConfig struct {
	Workers     int `json:"workers" yaml:"workers" toml:"workers"` // 0 runs jobs inline on the world goroutine
	MaxPending  int `json:"maxPending" yaml:"maxPending" toml:"maxPending"`
	MaxGenerate int `json:"maxGenerate" yaml:"maxGenerate" toml:"maxGenerate"`
	MaxLoad     int `json:"maxLoad" yaml:"maxLoad" toml:"maxLoad"`
	MaxSave     int `json:"maxSave" yaml:"maxSave" toml:"maxSave"`
}

type StorageConfig struct {
	SavePolicy       string   `json:"savePolicy" yaml:"savePolicy" toml:"savePolicy"` // all, modified, player
	AutosaveInterval Duration `json:"autosaveInterval" yaml:"autosaveInterval" toml:"autosaveInterval"`
	SavesPerSecond   float64  `json:"savesPerSecond" yaml:"savesPerSecond" toml:"savesPerSecond"`
	SaveBurst        int      `json:"saveBurst" yaml:"saveBurst" toml:"saveBurst"`
	MaxSaveAttempts  int      `json:"maxSaveAttempts" yaml:"maxSaveAttempts" toml:"maxSaveAttempts"`
	Catalog          bool     `json:"catalog" yaml:"catalog" toml:"catalog"`
}

type TerrainConfig struct {
	Generator    string  `json:"generator" yaml:"generator" toml:"generator"` // noise, flat
	Frequency    float64 `json:"frequency" yaml:"frequency" toml:"frequency"`
	Amplitude    float64 `json:"amplitude" yaml:"amplitude" toml:"amplitude"`
	Octaves      int     `json:"octaves" yaml:"octaves" toml:"octaves"`
	Persistence  float64 `json:"persistence" yaml:"persistence" toml:"persistence"`
	Lacunarity   float64 `json:"lacunarity" yaml:"lacunarity" toml:"lacunarity"`
	SurfaceRatio float64 `json:"surfaceRatio" yaml:"surfaceRatio" toml:"surfaceRatio"`
	SeaLevel     int     `json:"seaLevel" yaml:"seaLevel" toml:"seaLevel"`
	FlatHeight   int     `json:"flatHeight" yaml:"flatHeight" toml:"flatHeight"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Dir     string `json:"dir" yaml:"dir" toml:"dir"` // relative to world.path when not absolute
}

type StatusConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Listen   string   `json:"listen" yaml:"listen" toml:"listen"`
	Interval Duration `json:"interval" yaml:"interval" toml:"interval"`
}

type ServerConfig struct {
	TickRate Duration       `json:"tickRate" yaml:"tickRate" toml:"tickRate"` // e.g. "33ms"
	RunFor   Duration       `json:"runFor" yaml:"runFor" toml:"runFor"`       // 0 runs until interrupted
	Observer ObserverConfig `json:"observer" yaml:"observer" toml:"observer"`
}

// ObserverConfig scripts the observer path for unattended sessions.
type ObserverConfig struct {
	Path   string  `json:"path" yaml:"path" toml:"path"` // still, line, orbit
	StartX float64 `json:"startX" yaml:"startX" toml:"startX"`
	StartY float64 `json:"startY" yaml:"startY" toml:"startY"`
	Height float64 `json:"height" yaml:"height" toml:"height"`
	Speed  float64 `json:"speed" yaml:"speed" toml:"speed"` // blocks per second
	Radius float64 `json:"radius" yaml:"radius" toml:"radius"`
	// Heading is the direction of a line path in degrees from +X.
	Heading float64 `json:"heading" yaml:"heading" toml:"heading"`
}

type BlockConfig struct {
	ID     string `json:"id" yaml:"id" toml:"id"`
	Color  string `json:"color" yaml:"color" toml:"color"`
	Opaque bool   `json:"opaque" yaml:"opaque" toml:"opaque"`
}

var (
	savePolicies   = []string{"all", "modified", "player"}
	generators     = []string{"noise", "flat"}
	observerPaths  = []string{"still", "line", "orbit"}
	supportedFiles = []string{".json", ".yaml", ".yml", ".toml"}
)

//go:embed schema.json
var schemaSource string

var schema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", strings.NewReader(schemaSource)); err != nil {
		return nil, fmt.Errorf("add config schema: %w", err)
	}
	s, err := c.Compile("config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return s, nil
})

// Load reads configuration from a JSON, YAML or TOML file chosen by
// extension. Fields absent from the file keep their defaults. An empty path
// returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(data, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.CheckSchema(); err != nil {
		return nil, fmt.Errorf("schema config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode unmarshals data in the format named by ext into cfg.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".json":
		return json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q (want one of %s)", ext, strings.Join(supportedFiles, ", "))
	}
}

// CheckSchema validates the JSON form of cfg against the embedded schema.
func (c *Config) CheckSchema() error {
	s, err := schema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}
	return s.Validate(doc)
}

func Default() *Config {
	return &Config{
		World: WorldConfig{
			Path: "world",
			Seed: 1337,
		},
		Streaming: StreamingConfig{
			ActivationRadius:    6,
			Hysteresis:          2,
			MeshRebuildsPerTick: 4,
		},
		Jobs: JobsConfig{
			Workers:     4,
			MaxPending:  256,
			MaxGenerate: 4,
			MaxLoad:     4,
			MaxSave:     2,
		},
		Storage: StorageConfig{
			SavePolicy:       "modified",
			AutosaveInterval: Duration(30 * time.Second),
			SavesPerSecond:   32,
			SaveBurst:        16,
			MaxSaveAttempts:  3,
			Catalog:          true,
		},
		Terrain: TerrainConfig{
			Generator:    "noise",
			Frequency:    0.01,
			Amplitude:    24,
			Octaves:      4,
			Persistence:  0.45,
			Lacunarity:   2.0,
			SurfaceRatio: 0.5,
			SeaLevel:     60,
			FlatHeight:   32,
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "journal",
		},
		Status: StatusConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:8765",
			Interval: Duration(time.Second),
		},
		Server: ServerConfig{
			TickRate: Duration(33 * time.Millisecond),
			Observer: ObserverConfig{
				Path:   "orbit",
				Height: 80,
				Speed:  12,
				Radius: 160,
			},
		},
	}
}

func (c *Config) Validate() error {
	if c.World.Path == "" {
		return errors.New("world.path must be set")
	}
	if c.Streaming.ActivationRadius < 0 {
		return errors.New("streaming.activationRadius cannot be negative")
	}
	if c.Streaming.Hysteresis < 0 {
		return errors.New("streaming.hysteresis cannot be negative")
	}
	if c.Streaming.MeshRebuildsPerTick < 1 {
		return errors.New("streaming.meshRebuildsPerTick must be positive")
	}
	if c.Jobs.Workers < 0 {
		return errors.New("jobs.workers cannot be negative")
	}
	if c.Jobs.MaxPending < 1 {
		return errors.New("jobs.maxPending must be positive")
	}
	if c.Jobs.MaxGenerate < 1 || c.Jobs.MaxLoad < 1 || c.Jobs.MaxSave < 1 {
		return errors.New("jobs limits must be positive")
	}
	if !slices.Contains(savePolicies, c.Storage.SavePolicy) {
		return fmt.Errorf("storage.savePolicy %q must be one of %s", c.Storage.SavePolicy, strings.Join(savePolicies, ", "))
	}
	if c.Storage.AutosaveInterval < 0 {
		return errors.New("storage.autosaveInterval cannot be negative")
	}
	if c.Storage.SavesPerSecond <= 0 || c.Storage.SaveBurst < 1 {
		return errors.New("storage save rate must be positive")
	}
	if c.Storage.MaxSaveAttempts < 1 {
		return errors.New("storage.maxSaveAttempts must be positive")
	}
	if !slices.Contains(generators, c.Terrain.Generator) {
		return fmt.Errorf("terrain.generator %q must be one of %s", c.Terrain.Generator, strings.Join(generators, ", "))
	}
	if c.Terrain.Generator == "noise" && c.Terrain.Octaves < 1 {
		return errors.New("terrain.octaves must be positive")
	}
	if c.Status.Enabled && c.Status.Listen == "" {
		return errors.New("status.listen must be set when status is enabled")
	}
	if c.Server.TickRate <= 0 {
		return errors.New("server.tickRate must be positive")
	}
	if !slices.Contains(observerPaths, c.Server.Observer.Path) {
		return fmt.Errorf("server.observer.path %q must be one of %s", c.Server.Observer.Path, strings.Join(observerPaths, ", "))
	}
	seen := make(map[string]bool, len(c.Blocks))
	for i, b := range c.Blocks {
		if b.ID == "" {
			return fmt.Errorf("blocks[%d].id must be set", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("blocks[%d].id %q is duplicated", i, b.ID)
		}
		seen[b.ID] = true
	}
	if len(c.Blocks) > 255 {
		return errors.New("blocks cannot define more than 255 states")
	}
	return nil
}

// DeactivationRadius is the distance beyond which resident chunks unload.
func (s StreamingConfig) DeactivationRadius() int {
	return s.ActivationRadius + s.Hysteresis
}

// JournalPath resolves the journal directory against the world path.
func (c *Config) JournalPath() string {
	if filepath.IsAbs(c.Journal.Dir) {
		return c.Journal.Dir
	}
	return filepath.Join(c.World.Path, c.Journal.Dir)
}

// CatalogPath is where the saved-chunk catalog lives.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.World.Path, "catalog.sqlite")
}

// Registry builds the block registry the configuration describes, or the
// built-in palette when no blocks are listed.
func (c *Config) Registry() (*block.Registry, error) {
	if len(c.Blocks) == 0 {
		return block.Default(), nil
	}
	defs := make([]block.Definition, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		defs = append(defs, block.Definition{Name: b.ID, Color: b.Color, Opaque: b.Opaque})
	}
	reg, err := block.NewRegistry(defs...)
	if err != nil {
		return nil, fmt.Errorf("block registry: %w", err)
	}
	return reg, nil
}
