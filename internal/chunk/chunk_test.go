package chunk

import (
	"errors"
	"testing"

	"chunkstream/internal/block"
)

func TestNewChunkIsAirAndInactive(t *testing.T) {
	c := New(Coord{X: 2, Y: -3}, block.Default())
	if c.State() != Inactive {
		t.Fatalf("expected Inactive, got %s", c.State())
	}
	counts := c.CountBlocks()
	if len(counts) != 1 || counts[block.Air] != Volume {
		t.Fatalf("expected %d air blocks, got %v", Volume, counts)
	}
	if c.Dirty() || c.Modified() || c.PlayerModified() || c.Persisted() {
		t.Fatalf("fresh chunk must have no flags set")
	}
}

func TestSetBlockDoesNotTouchFlags(t *testing.T) {
	reg := block.Default()
	c := New(Coord{}, reg)
	if err := c.SetBlock(1, 2, 3, reg.MustLookup(block.NameStone)); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	if c.Dirty() || c.Modified() || c.Revision() != 0 {
		t.Fatalf("raw writes must not set flags")
	}
	if got := c.Block(1, 2, 3); got != reg.MustLookup(block.NameStone) {
		t.Fatalf("unexpected block %d", got)
	}
}

func TestSetBlockRejectsInvalidInput(t *testing.T) {
	c := New(Coord{}, block.Default())
	if err := c.SetBlock(Width, 0, 0, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := c.SetBlock(0, 0, 0, 250); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock, got %v", err)
	}
}

func TestModifyBlockSetsFlags(t *testing.T) {
	reg := block.Default()
	dirt := reg.MustLookup(block.NameDirt)

	tests := []struct {
		name     string
		byPlayer bool
	}{
		{name: "simulation", byPlayer: false},
		{name: "player", byPlayer: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Coord{}, reg)
			changed, err := c.ModifyBlock(0, 0, 0, dirt, tt.byPlayer)
			if err != nil || !changed {
				t.Fatalf("ModifyBlock: changed=%v err=%v", changed, err)
			}
			if !c.Dirty() || !c.Modified() {
				t.Fatalf("expected dirty and modified")
			}
			if c.PlayerModified() != tt.byPlayer {
				t.Fatalf("expected playerModified=%v", tt.byPlayer)
			}
			if c.Revision() != 1 {
				t.Fatalf("expected revision 1, got %d", c.Revision())
			}
		})
	}
}

func TestModifyBlockSameValueIsNoop(t *testing.T) {
	c := New(Coord{}, block.Default())
	changed, err := c.ModifyBlock(0, 0, 0, block.Air, true)
	if err != nil || changed {
		t.Fatalf("expected no change, got changed=%v err=%v", changed, err)
	}
	if c.Modified() || c.Revision() != 0 {
		t.Fatalf("noop modification must not set flags")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	reg := block.Default()
	stone := reg.MustLookup(block.NameStone)
	c := New(Coord{}, reg)
	snap := c.Snapshot()
	if _, err := c.ModifyBlock(4, 4, 4, stone, false); err != nil {
		t.Fatalf("ModifyBlock: %v", err)
	}
	if snap[Index(4, 4, 4)] != block.Air {
		t.Fatalf("snapshot changed after live mutation")
	}
}

func TestMarkSavedHonoursRevision(t *testing.T) {
	reg := block.Default()
	stone := reg.MustLookup(block.NameStone)
	c := New(Coord{}, reg)
	if _, err := c.ModifyBlock(0, 0, 0, stone, true); err != nil {
		t.Fatalf("ModifyBlock: %v", err)
	}
	rev := c.Revision()
	if _, err := c.ModifyBlock(1, 0, 0, stone, false); err != nil {
		t.Fatalf("ModifyBlock: %v", err)
	}
	if c.MarkSaved(rev) {
		t.Fatalf("expected stale save to keep modified flags")
	}
	if !c.Modified() || !c.PlayerModified() || !c.Persisted() {
		t.Fatalf("unexpected flags after stale save")
	}
	if !c.MarkSaved(c.Revision()) {
		t.Fatalf("expected current save to clear flags")
	}
	if c.Modified() || c.PlayerModified() {
		t.Fatalf("flags not cleared")
	}
}

func TestFillRejectsUnknownBlocks(t *testing.T) {
	c := New(Coord{}, block.Default())
	var blocks Blocks
	blocks[Volume-1] = 200
	if err := c.Fill(&blocks); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock, got %v", err)
	}
}

type countingMesh struct {
	released int
}

func (m *countingMesh) FaceCount() int { return 0 }
func (m *countingMesh) Release()       { m.released++ }

func TestSetMeshReleasesPrevious(t *testing.T) {
	c := New(Coord{}, block.Default())
	first := &countingMesh{}
	second := &countingMesh{}
	c.SetMesh(first)
	c.SetMesh(first)
	if first.released != 0 {
		t.Fatalf("re-setting the same mesh must not release it")
	}
	c.SetMesh(second)
	if first.released != 1 {
		t.Fatalf("expected first mesh released once, got %d", first.released)
	}
	c.Release()
	if second.released != 1 || c.Mesh() != nil {
		t.Fatalf("expected second mesh released and cleared")
	}
}

func TestLocateUsesFloorDivision(t *testing.T) {
	tests := []struct {
		in     BlockCoord
		coord  Coord
		lx, ly int
	}{
		{in: BlockCoord{X: 0, Y: 0, Z: 0}, coord: Coord{0, 0}, lx: 0, ly: 0},
		{in: BlockCoord{X: 15, Y: 16, Z: 5}, coord: Coord{0, 1}, lx: 15, ly: 0},
		{in: BlockCoord{X: -1, Y: -16, Z: 5}, coord: Coord{-1, -1}, lx: 15, ly: 0},
		{in: BlockCoord{X: -17, Y: 33, Z: 5}, coord: Coord{-2, 2}, lx: 15, ly: 1},
	}
	for _, tt := range tests {
		coord, lx, ly, _, ok := Locate(tt.in)
		if !ok {
			t.Fatalf("Locate(%+v) not ok", tt.in)
		}
		if coord != tt.coord || lx != tt.lx || ly != tt.ly {
			t.Fatalf("Locate(%+v) = %v %d %d, want %v %d %d", tt.in, coord, lx, ly, tt.coord, tt.lx, tt.ly)
		}
	}
	if _, _, _, _, ok := Locate(BlockCoord{Z: Height}); ok {
		t.Fatalf("expected z=%d to be rejected", Height)
	}
}

func TestFromPosition(t *testing.T) {
	if got := FromPosition(-0.5, 31.9); got != (Coord{X: -1, Y: 1}) {
		t.Fatalf("unexpected chunk %v", got)
	}
}
