package chunk

import (
	"errors"
	"fmt"
)

// State is the lifecycle stage of a chunk.
type State uint8

const (
	Inactive State = iota
	CheckingDisk
	PendingLoad
	Loading
	PendingGenerate
	Generating
	Active
	PendingMeshRebuild
	BuildingMesh
	PendingSave
	Saving
	PendingUnload
	Unloading
)

var stateNames = [...]string{
	Inactive:           "Inactive",
	CheckingDisk:       "CheckingDisk",
	PendingLoad:        "PendingLoad",
	Loading:            "Loading",
	PendingGenerate:    "PendingGenerate",
	Generating:         "Generating",
	Active:             "Active",
	PendingMeshRebuild: "PendingMeshRebuild",
	BuildingMesh:       "BuildingMesh",
	PendingSave:        "PendingSave",
	Saving:             "Saving",
	PendingUnload:      "PendingUnload",
	Unloading:          "Unloading",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// ErrInvalidTransition is returned when a state change is not in the
// transition table.
var ErrInvalidTransition = errors.New("invalid chunk state transition")

var transitions = map[State][]State{
	Inactive:           {CheckingDisk, PendingUnload},
	CheckingDisk:       {PendingLoad, PendingGenerate, PendingUnload},
	PendingLoad:        {Loading, PendingUnload},
	PendingGenerate:    {Generating, PendingUnload},
	Loading:            {Active, PendingGenerate, PendingUnload},
	Generating:         {Active, PendingGenerate, PendingUnload},
	Active:             {PendingMeshRebuild, PendingSave, PendingUnload},
	PendingMeshRebuild: {BuildingMesh, PendingSave, PendingUnload},
	BuildingMesh:       {Active},
	PendingSave:        {Saving, Active, PendingUnload},
	Saving:             {Active, PendingUnload},
	PendingUnload:      {Unloading},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Resident reports whether a chunk in state s holds valid block data that the
// world may read and mutate.
func (s State) Resident() bool {
	switch s {
	case Active, PendingMeshRebuild, BuildingMesh, PendingSave, Saving:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is the final state before removal.
func (s State) Terminal() bool {
	return s == Unloading
}
