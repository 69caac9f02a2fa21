// Package server wires a streaming session together and drives the world
// from a fixed-rate frame loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"chunkstream/internal/block"
	"chunkstream/internal/catalog"
	"chunkstream/internal/config"
	"chunkstream/internal/jobs"
	"chunkstream/internal/journal"
	"chunkstream/internal/status"
	"chunkstream/internal/storage"
	"chunkstream/internal/terrain"
	"chunkstream/internal/world"
)

const (
	reportInterval = 5 * time.Second
	closeTimeout   = 20 * time.Second
)

type Server struct {
	cfg      *config.Config
	logger   *log.Logger
	registry *block.Registry
	level    storage.Level
	store    *storage.Storage
	catalog  *catalog.DB
	journal  *journal.Writer
	pool     *jobs.Pool
	world    *world.World
	status   *status.Server
	path     observerPath
	loop     *frameLoop

	elapsed time.Duration
}

func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	cfgCopy := *cfg
	cfg = &cfgCopy

	logger := log.New(log.Writer(), "chunkstream ", log.LstdFlags|log.Lmicroseconds)

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	level, created, err := storage.OpenLevel(cfg.World.Path, cfg.World.Seed, time.Now())
	if err != nil {
		return nil, err
	}
	if created {
		logger.Printf("created world %s at %s", level.ID, cfg.World.Path)
	} else if level.Seed != cfg.World.Seed {
		logger.Printf("world %s keeps stored seed %d (configured %d)", level.ID, level.Seed, cfg.World.Seed)
	}
	cfg.World.Seed = level.Seed

	path, err := newObserverPath(cfg.Server.Observer)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		level:    level,
		path:     path,
		loop:     newFrameLoop(cfg.Server.TickRate.Duration()),
	}

	opts := storage.Options{Logger: logger}
	if cfg.Storage.Catalog {
		db, err := catalog.Open(cfg.CatalogPath())
		if err != nil {
			return nil, err
		}
		srv.catalog = db
		opts.Catalog = db
	}
	srv.store, err = storage.New(cfg.World.Path, registry, opts)
	if err != nil {
		srv.closeResources()
		return nil, err
	}

	generator, err := newGenerator(cfg.Terrain, registry)
	if err != nil {
		srv.closeResources()
		return nil, err
	}

	deps := world.Deps{
		Registry:  registry,
		Generator: generator,
		Store:     srv.store,
		Logger:    logger,
	}
	if cfg.Journal.Enabled {
		srv.journal = journal.NewWriter(cfg.JournalPath(), "chunks")
		deps.Journal = srv.journal
	}
	// Workers outlive the run context so the saves issued while closing the
	// world still reach the disk.
	if cfg.Jobs.Workers > 0 {
		srv.pool = jobs.NewPool(context.Background(), cfg.Jobs.Workers)
		deps.Scheduler = srv.pool
	} else {
		deps.Scheduler = jobs.NewInline(context.Background())
	}

	srv.world, err = world.New(cfg, deps)
	if err != nil {
		srv.closeResources()
		return nil, err
	}
	if cfg.Status.Enabled {
		srv.status = status.NewServer(srv.world, cfg.Status.Interval.Duration(), logger)
	}
	return srv, nil
}

func newGenerator(cfg config.TerrainConfig, reg *block.Registry) (jobs.Generator, error) {
	if cfg.Generator == "flat" {
		g, err := terrain.NewFlatGenerator(cfg.FlatHeight, reg)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	g, err := terrain.NewNoiseGenerator(cfg, reg)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Server) World() *world.World {
	return s.world
}

func (s *Server) Level() storage.Level {
	return s.level
}

// Run drives the world until ctx is cancelled or server.runFor of simulated
// time has passed, then unloads every chunk and releases resources.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.status != nil {
		go func() {
			if err := s.status.ListenAndServe(ctx, s.cfg.Status.Listen); err != nil {
				s.logger.Printf("status server stopped: %v", err)
			}
		}()
	}

	s.logger.Printf("streaming world %s seed %d radius %d (+%d)", s.level.ID, s.level.Seed,
		s.cfg.Streaming.ActivationRadius, s.cfg.Streaming.Hysteresis)

	runFor := s.cfg.Server.RunFor.Duration()
	var lastReport time.Time
	s.loop.run(ctx, func(now time.Time, delta time.Duration) bool {
		s.elapsed += delta
		s.world.SetObserver(s.path.At(s.elapsed))
		s.world.Tick(now)
		if now.Sub(lastReport) >= reportInterval {
			s.report()
			lastReport = now
		}
		return runFor <= 0 || s.elapsed < runFor
	})

	return s.shutdown()
}

func (s *Server) report() {
	st := s.world.Stats()
	s.logger.Printf("observer %d,%d chunks=%d active=%d pending gen/load/save=%d/%d/%d executing=%d/%d/%d mesh=%d",
		st.ObserverX, st.ObserverY, st.Chunks, st.States["Active"],
		st.Pending["generate"], st.Pending["load"], st.Pending["save"],
		st.Executing["generate"], st.Executing["load"], st.Executing["save"],
		st.MeshQueue)
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := s.world.Close(ctx)
	st := s.world.Stats()
	s.logger.Printf("closed world: saved=%d generated=%d loaded=%d corrupt=%d", st.Saved, st.Generated, st.Loaded, st.Corrupt)
	return errors.Join(err, s.closeResources())
}

func (s *Server) closeResources() error {
	var errs []error
	if s.pool != nil {
		s.pool.Close()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	return errors.Join(errs...)
}
