package storage

import (
	"fmt"
	"strings"

	"chunkstream/internal/chunk"
)

// Policy selects which chunks are written back to disk.
type Policy string

const (
	// SaveAll rewrites every resident chunk on unload and every modified
	// chunk on autosave.
	SaveAll Policy = "all"
	// SaveModified persists chunks that differ from their disk copy.
	SaveModified Policy = "modified"
	// SavePlayer only persists chunks a player changed, so regenerated
	// terrain is never written.
	SavePlayer Policy = "player"
)

// Reason is the trigger for a save decision.
type Reason uint8

const (
	ReasonAutosave Reason = iota
	ReasonUnload
)

func (r Reason) String() string {
	if r == ReasonUnload {
		return "unload"
	}
	return "autosave"
}

// ParsePolicy accepts the configuration spelling of a policy.
func ParsePolicy(value string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(value))); p {
	case SaveAll, SaveModified, SavePlayer:
		return p, nil
	case "":
		return SaveModified, nil
	default:
		return "", fmt.Errorf("unknown save policy %q", value)
	}
}

// ShouldSave reports whether c must be persisted for the given trigger.
func (p Policy) ShouldSave(c *chunk.Chunk, reason Reason) bool {
	switch p {
	case SaveAll:
		if reason == ReasonUnload {
			return true
		}
		return c.Modified()
	case SavePlayer:
		return c.PlayerModified()
	default:
		return c.Modified()
	}
}
