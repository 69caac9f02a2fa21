package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"golang.org/x/exp/slices"

	"chunkstream/internal/block"
	"chunkstream/internal/codec"
	"chunkstream/internal/storage"
)

func headerCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("header", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("header: no files given")
	}

	failed := false
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		h, err := codec.ParseHeader(data)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed = true
			continue
		}
		body := data[codec.HeaderSize:]
		fmt.Fprintf(out, "%s: magic=%s version=%d bits=%d/%d/%d volume=%d size=%d runs=%d",
			path, h.Magic[:], h.Version, h.BitsX, h.BitsY, h.BitsZ, h.Volume(), len(data), len(body)/2)
		if coord, ok := storage.ParseFileName(path); ok {
			fmt.Fprintf(out, " chunk=%v", coord)
		}
		if h != codec.CurrentHeader() {
			fmt.Fprint(out, " (shape differs from this build)")
			failed = true
		}
		fmt.Fprintln(out)
	}
	if failed {
		return errFindings
	}
	return nil
}

func histogramCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("histogram", flag.ContinueOnError)
	var wf worldFlags
	wf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("histogram: no files given")
	}
	_, reg, err := wf.resolve()
	if err != nil {
		return err
	}

	total := make(map[block.ID]int)
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		blocks, err := codec.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for i := range blocks {
			total[blocks[i]]++
		}
	}

	ids := make([]block.ID, 0, len(total))
	for id := range total {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b block.ID) int {
		if total[a] != total[b] {
			return total[b] - total[a]
		}
		return int(a) - int(b)
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOUNT")
	for _, id := range ids {
		name := "?"
		if st, ok := reg.State(id); ok {
			name = st.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\n", id, name, total[id])
	}
	return tw.Flush()
}
