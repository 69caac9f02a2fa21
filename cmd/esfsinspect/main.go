// Command esfsinspect examines a chunkstream world directory: chunk file
// headers, block histograms, catalog checksums and the lifecycle journal.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"chunkstream/internal/block"
	"chunkstream/internal/config"
)

// errFindings marks a command that ran but found problems worth a non-zero exit.
var errFindings = errors.New("inspection found problems")

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "header":
		err = headerCmd(os.Args[2:], os.Stdout)
	case "histogram":
		err = histogramCmd(os.Args[2:], os.Stdout)
	case "verify":
		err = verifyCmd(os.Args[2:], os.Stdout)
	case "catalog":
		err = catalogCmd(os.Args[2:], os.Stdout)
	case "journal":
		err = journalCmd(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	switch {
	case err == nil:
	case errors.Is(err, errFindings):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, strings.TrimSpace(`
usage: esfsinspect <command> [flags] [args]

commands:
  header    FILE...             print the header and run statistics of chunk files
  histogram FILE...             count block ids in chunk files
  verify    [-world DIR]        decode every chunk and compare it with the catalog
  catalog   [-world DIR]        list catalogued saves, newest first
  journal   [-world DIR]        dump lifecycle events as JSON lines
`))
}

// worldFlags are shared by commands that open a world directory.
type worldFlags struct {
	world  string
	config string
}

func (f *worldFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.world, "world", "world", "world directory")
	fs.StringVar(&f.config, "config", "", "streaming config; its world path and blocks override -world")
}

// resolve loads the configuration the flags describe and its block registry.
func (f *worldFlags) resolve() (*config.Config, *block.Registry, error) {
	cfg := config.Default()
	cfg.World.Path = f.world
	if f.config != "" {
		loaded, err := config.Load(f.config)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, nil, err
	}
	return cfg, reg, nil
}
