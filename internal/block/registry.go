package block

import (
	"errors"
	"fmt"
)

// ID is the numeric handle of a registered block state. It is also the byte
// written for every block in a chunk file body.
type ID uint8

// MaxStates is the number of distinct IDs a registry can hand out.
const MaxStates = 1 << 8

// Air is always registered first.
const Air ID = 0

const (
	NameAir       = "air"
	NameBedrock   = "bedrock"
	NameDeepstone = "deepstone"
	NameStone     = "stone"
	NameDirt      = "dirt"
	NameGrass     = "grass"
	NameSand      = "sand"
	NameGravel    = "gravel"
	NameWater     = "water"
)

var (
	ErrEmptyName     = errors.New("block name must be set")
	ErrDuplicateName = errors.New("duplicate block name")
	ErrTooManyStates = errors.New("too many block states")
)

// State describes one registered block state.
type State struct {
	ID     ID
	Name   string
	Opaque bool
	Color  string
}

// Definition is the input used to register a state. IDs are assigned in
// registration order after air.
type Definition struct {
	Name   string
	Opaque bool
	Color  string
}

// Registry is an immutable arena of block states. It is built once at startup
// and shared by pointer; nothing mutates it afterwards, so concurrent readers
// need no locking.
type Registry struct {
	states []State
	byName map[string]ID
}

// NewRegistry registers air followed by defs. A definition named "air" is
// skipped so callers may list it explicitly.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		states: make([]State, 0, len(defs)+1),
		byName: make(map[string]ID, len(defs)+1),
	}
	r.add(Definition{Name: NameAir, Color: "#00000000"})

	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("block definition %d: %w", i, ErrEmptyName)
		}
		if def.Name == NameAir {
			continue
		}
		if _, ok := r.byName[def.Name]; ok {
			return nil, fmt.Errorf("block %q: %w", def.Name, ErrDuplicateName)
		}
		if len(r.states) >= MaxStates {
			return nil, fmt.Errorf("block %q: %w", def.Name, ErrTooManyStates)
		}
		r.add(def)
	}
	return r, nil
}

func (r *Registry) add(def Definition) {
	id := ID(len(r.states))
	r.states = append(r.states, State{
		ID:     id,
		Name:   def.Name,
		Opaque: def.Opaque,
		Color:  def.Color,
	})
	r.byName[def.Name] = id
}

// DefaultDefinitions lists the built-in terrain palette.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: NameBedrock, Opaque: true, Color: "#2b2b2b"},
		{Name: NameDeepstone, Opaque: true, Color: "#4a4a55"},
		{Name: NameStone, Opaque: true, Color: "#7d7d7d"},
		{Name: NameDirt, Opaque: true, Color: "#8b5a2b"},
		{Name: NameGrass, Opaque: true, Color: "#5d9b3d"},
		{Name: NameSand, Opaque: true, Color: "#d8c98f"},
		{Name: NameGravel, Opaque: true, Color: "#85807a"},
		{Name: NameWater, Opaque: false, Color: "#3b6fd1"},
	}
}

// Default returns a registry holding DefaultDefinitions.
func Default() *Registry {
	r, err := NewRegistry(DefaultDefinitions()...)
	if err != nil {
		panic(fmt.Sprintf("default block registry: %v", err))
	}
	return r
}

// Len reports the number of registered states, air included.
func (r *Registry) Len() int {
	return len(r.states)
}

// Valid reports whether id refers to a registered state.
func (r *Registry) Valid(id ID) bool {
	return int(id) < len(r.states)
}

// State returns the state registered under id.
func (r *Registry) State(id ID) (State, bool) {
	if !r.Valid(id) {
		return State{}, false
	}
	return r.states[id], true
}

// Lookup resolves a state by name.
func (r *Registry) Lookup(name string) (ID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// MustLookup is Lookup for names the caller registered itself.
func (r *Registry) MustLookup(name string) ID {
	id, ok := r.byName[name]
	if !ok {
		panic(fmt.Sprintf("block %q not registered", name))
	}
	return id
}

// Opaque reports whether id hides the faces of its neighbours. Unknown IDs are
// treated as transparent.
func (r *Registry) Opaque(id ID) bool {
	if !r.Valid(id) {
		return false
	}
	return r.states[id].Opaque
}

// States returns a copy of every registered state in ID order.
func (r *Registry) States() []State {
	return append([]State(nil), r.states...)
}
