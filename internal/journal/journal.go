// Package journal writes chunk lifecycle events as zstd-compressed JSON lines,
// rotated hourly.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"chunkstream/internal/chunk"
)

// Kind names what happened to a chunk.
type Kind string

const (
	KindTransition Kind = "transition"
	KindSaved      Kind = "saved"
	KindSaveFailed Kind = "save_failed"
	KindSaveGaveUp Kind = "save_gave_up"
	KindMissing    Kind = "missing"
	KindCorrupt    Kind = "corrupt"
	KindLoadFailed Kind = "load_failed"
	KindGenFailed  Kind = "generate_failed"
	KindDiscarded  Kind = "discarded"
	KindRemoved    Kind = "removed"
)

// Event is one journal line.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   Kind      `json:"kind"`
	X      int       `json:"x"`
	Y      int       `json:"y"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Job    string    `json:"job,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Coord returns the chunk the event refers to.
func (e Event) Coord() chunk.Coord {
	return chunk.Coord{X: e.X, Y: e.Y}
}

const fileSuffix = ".jsonl.zst"

// Writer appends events to {dir}/{prefix}-{yyyy-mm-dd-hh}.jsonl.zst.
type Writer struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// SetClock replaces the time source used for rotation and event stamps.
func (w *Writer) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
}

// Write appends ev, stamping it when Time is zero.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	if ev.Time.IsZero() {
		ev.Time = now
	}
	hour := now.Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	// Emit a complete zstd block so the event is on disk before the frame ends.
	return w.enc.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s%s", w.prefix, hour, fileSuffix))
}

// Files lists journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes every event of one journal file. Files may hold several
// concatenated zstd frames when a process reopened the same hour.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var events []Event
	err = Scan(dec, func(ev Event) bool {
		events = append(events, ev)
		return true
	})
	return events, err
}

// Scan decodes JSON lines from r until EOF or fn returns false.
func Scan(r io.Reader, fn func(Event) bool) error {
	dec := json.NewDecoder(r)
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode journal line: %w", err)
		}
		if !fn(ev) {
			return nil
		}
	}
}
