package world

import (
	"chunkstream/internal/chunk"
	"chunkstream/internal/jobs"
)

type counters struct {
	generated        uint64
	loaded           uint64
	saved            uint64
	autosaved        uint64
	removed          uint64
	missing          uint64
	corrupt          uint64
	generateFailures uint64
	loadFailures     uint64
	saveFailures     uint64
	discarded        uint64
	meshesBuilt      uint64
	meshDeferred     uint64
	journalErrors    uint64
}

// Stats is a point-in-time summary of the world.
type Stats struct {
	ObserverX int `json:"observerX"`
	ObserverY int `json:"observerY"`
	Chunks    int `json:"chunks"`
	// States counts chunks by lifecycle state name.
	States    map[string]int `json:"states"`
	Pending   map[string]int `json:"pending"`
	Executing map[string]int `json:"executing"`
	MeshQueue int            `json:"meshQueue"`

	Generated        uint64 `json:"generated"`
	Loaded           uint64 `json:"loaded"`
	Saved            uint64 `json:"saved"`
	Autosaved        uint64 `json:"autosaved"`
	Removed          uint64 `json:"removed"`
	Missing          uint64 `json:"missing"`
	Corrupt          uint64 `json:"corrupt"`
	GenerateFailures uint64 `json:"generateFailures"`
	LoadFailures     uint64 `json:"loadFailures"`
	SaveFailures     uint64 `json:"saveFailures"`
	Discarded        uint64 `json:"discarded"`
	MeshesBuilt      uint64 `json:"meshesBuilt"`
	MeshDeferred     uint64 `json:"meshDeferred"`
}

// Stats summarises the current world. World goroutine only; other
// goroutines use Published.
func (w *World) Stats() Stats {
	st := Stats{
		ObserverX: w.center.X,
		ObserverY: w.center.Y,
		Chunks:    len(w.slots),
		States:    make(map[string]int),
		Pending:   make(map[string]int, len(jobs.Kinds)),
		Executing: make(map[string]int, len(jobs.Kinds)),
		MeshQueue: len(w.meshQueue),

		Generated:        w.counters.generated,
		Loaded:           w.counters.loaded,
		Saved:            w.counters.saved,
		Autosaved:        w.counters.autosaved,
		Removed:          w.counters.removed,
		Missing:          w.counters.missing,
		Corrupt:          w.counters.corrupt,
		GenerateFailures: w.counters.generateFailures,
		LoadFailures:     w.counters.loadFailures,
		SaveFailures:     w.counters.saveFailures,
		Discarded:        w.counters.discarded,
		MeshesBuilt:      w.counters.meshesBuilt,
		MeshDeferred:     w.counters.meshDeferred,
	}
	for _, s := range w.slots {
		st.States[s.chunk.State().String()]++
	}
	for _, kind := range jobs.Kinds {
		st.Pending[kind.String()] = w.queues[kind].Len()
		st.Executing[kind.String()] = w.Executing(kind)
	}
	return st
}

// CountState returns how many chunks are in state s.
func (w *World) CountState(s chunk.State) int {
	n := 0
	for _, sl := range w.slots {
		if sl.chunk.State() == s {
			n++
		}
	}
	return n
}

func (w *World) publish() {
	st := w.Stats()
	w.published.Store(&st)
}

// Published returns the summary stored at the end of the last Tick. Safe for
// concurrent use.
func (w *World) Published() Stats {
	if st := w.published.Load(); st != nil {
		return *st
	}
	return Stats{}
}
