package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/exp/slices"

	"chunkstream/internal/catalog"
	"chunkstream/internal/chunk"
	"chunkstream/internal/journal"
	"chunkstream/internal/storage"
)

func verifyCmd(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("verify", flag.ContinueOnError)
	var wf worldFlags
	wf.register(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, reg, err := wf.resolve()
	if err != nil {
		return err
	}

	opts := storage.Options{}
	var db *catalog.DB
	if _, err := os.Stat(cfg.CatalogPath()); err == nil {
		db, err = catalog.Open(cfg.CatalogPath())
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Catalog = db
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	store, err := storage.New(cfg.World.Path, reg, opts)
	if err != nil {
		return err
	}
	coords, err := store.List()
	if err != nil {
		return err
	}
	slices.SortFunc(coords, compareCoords)

	ctx := context.Background()
	problems := 0
	onDisk := make(map[chunk.Coord]bool, len(coords))
	for _, coord := range coords {
		onDisk[coord] = true
		if _, err := store.Load(ctx, coord); err != nil {
			fmt.Fprintf(out, "%v\tcorrupt\t%v\n", coord, err)
			problems++
			continue
		}
		if db == nil {
			fmt.Fprintf(out, "%v\tok\n", coord)
			continue
		}
		rec, err := store.Verify(ctx, coord)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%v\tok\t%016x\n", coord, rec.Checksum)
		case errors.Is(err, storage.ErrNotCataloged):
			fmt.Fprintf(out, "%v\tuncatalogued\n", coord)
			problems++
		default:
			fmt.Fprintf(out, "%v\tmismatch\t%v\n", coord, err)
			problems++
		}
	}

	if db != nil {
		entries, err := db.List(ctx, 0)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !onDisk[entry.Coord] {
				fmt.Fprintf(out, "%v\tmissing\tcatalogued %s\n", entry.Coord, entry.SavedAt.Format(time.RFC3339))
				problems++
			}
		}
	}

	fmt.Fprintf(out, "%d chunks checked, %d problems\n", len(coords), problems)
	if problems > 0 {
		return errFindings
	}
	return nil
}

func catalogCmd(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("catalog", flag.ContinueOnError)
	var wf worldFlags
	wf.register(flags)
	limit := flags.Int("limit", 20, "entries to list (0 for all)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, _, err := wf.resolve()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.CatalogPath()); err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	db, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	entries, err := db.List(ctx, *limit)
	if err != nil {
		return err
	}
	count, err := db.Count(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tSIZE\tCHECKSUM\tSAVED\tSAVES\tPLAYER")
	for _, e := range entries {
		fmt.Fprintf(tw, "%v\t%d\t%016x\t%s\t%d\t%t\n",
			e.Coord, e.Size, e.Checksum, e.SavedAt.Format(time.RFC3339), e.Saves, e.PlayerModified)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d catalogued chunks\n", len(entries), count)
	return nil
}

func journalCmd(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("journal", flag.ContinueOnError)
	var wf worldFlags
	wf.register(flags)
	kind := flags.String("kind", "", "only events of this kind")
	x := flags.Int("x", 0, "chunk x (with -chunk)")
	y := flags.Int("y", 0, "chunk y (with -chunk)")
	onlyChunk := flags.Bool("chunk", false, "only events for the chunk at -x,-y")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, _, err := wf.resolve()
	if err != nil {
		return err
	}

	files, err := journal.Files(cfg.JournalPath())
	if err != nil {
		return err
	}
	want := chunk.Coord{X: *x, Y: *y}
	enc := json.NewEncoder(out)
	for _, path := range files {
		events, err := journal.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, ev := range events {
			if *kind != "" && string(ev.Kind) != *kind {
				continue
			}
			if *onlyChunk && ev.Coord() != want {
				continue
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func compareCoords(a, b chunk.Coord) int {
	if a.X != b.X {
		return a.X - b.X
	}
	return a.Y - b.Y
}
