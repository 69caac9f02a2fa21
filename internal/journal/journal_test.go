package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"chunkstream/internal/chunk"
)

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "chunks")
	clock := time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)
	w.SetClock(func() time.Time { return clock })

	events := []Event{
		{Kind: KindTransition, X: 1, Y: 2, From: chunk.Inactive.String(), To: chunk.CheckingDisk.String()},
		{Kind: KindSaved, X: 1, Y: 2, Detail: "revision 3"},
		{Kind: KindCorrupt, X: -5, Y: 0, Detail: "bad magic"},
	}
	for _, ev := range events {
		if err := w.Write(ev); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "chunks-2024-03-04-10.jsonl.zst" {
		t.Fatalf("unexpected files %v", files)
	}
	got, err := ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i].Kind != events[i].Kind || got[i].Coord() != events[i].Coord() || got[i].Detail != events[i].Detail {
			t.Fatalf("event %d mismatch: %+v", i, got[i])
		}
		if !got[i].Time.Equal(clock) {
			t.Fatalf("event %d not stamped: %v", i, got[i].Time)
		}
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "chunks")
	clock := time.Date(2024, 3, 4, 10, 59, 0, 0, time.UTC)
	w.SetClock(func() time.Time { return clock })

	if err := w.Write(Event{Kind: KindRemoved}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(Event{Kind: KindRemoved, X: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files, err := Files(dir)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || !strings.HasSuffix(files[1], "2024-03-04-11.jsonl.zst") {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestReopenAppendsFrames(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewWriter(dir, "chunks")
		w.SetClock(func() time.Time { return clock })
		if err := w.Write(Event{Kind: KindDiscarded, X: i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	files, err := Files(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("Files: %v %v", files, err)
	}
	got, err := ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 || got[1].X != 1 {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestWriteReachesDiskBeforeClose(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "chunks")
	defer w.Close()
	w.SetClock(func() time.Time { return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) })

	for i := 0; i < 3; i++ {
		if err := w.Write(Event{Kind: KindSaved, X: i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	files, err := Files(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("Files: %v %v", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	// The frame is still open, so stop after the events written so far.
	var got []Event
	err = Scan(dec, func(ev Event) bool {
		got = append(got, ev)
		return len(got) < 3
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 3 || got[2].X != 2 {
		t.Fatalf("expected 3 flushed events, got %+v", got)
	}
}
