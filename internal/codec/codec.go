// Package codec implements the ESFS chunk file format: an 8 byte header
// followed by a run-length encoded body of block IDs.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
)

const (
	Magic      = "ESFS"
	Version    = 1
	HeaderSize = 8

	// MaxRun is the longest run a single body pair can describe.
	MaxRun = 255
)

// ErrCorrupt is wrapped by every decode failure.
var ErrCorrupt = errors.New("corrupt chunk data")

var (
	ErrShortHeader        = fmt.Errorf("%w: short header", ErrCorrupt)
	ErrBadMagic           = fmt.Errorf("%w: bad magic", ErrCorrupt)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrCorrupt)
	ErrDimensionMismatch  = fmt.Errorf("%w: dimension mismatch", ErrCorrupt)
	ErrOddBody            = fmt.Errorf("%w: odd body length", ErrCorrupt)
	ErrZeroRun            = fmt.Errorf("%w: zero run length", ErrCorrupt)
	ErrBlockCount         = fmt.Errorf("%w: block count mismatch", ErrCorrupt)
)

// Header is the fixed prefix of a chunk file.
type Header struct {
	Magic   [4]byte
	Version uint8
	BitsX   uint8
	BitsY   uint8
	BitsZ   uint8
}

// CurrentHeader describes the compiled chunk shape.
func CurrentHeader() Header {
	h := Header{
		Version: Version,
		BitsX:   chunk.BitsX,
		BitsY:   chunk.BitsY,
		BitsZ:   chunk.BitsZ,
	}
	copy(h.Magic[:], Magic)
	return h
}

// Volume is the block count implied by the header bit widths.
func (h Header) Volume() int {
	return 1 << (int(h.BitsX) + int(h.BitsY) + int(h.BitsZ))
}

// AppendTo writes the 8 header bytes.
func (h Header) AppendTo(dst []byte) []byte {
	dst = append(dst, h.Magic[:]...)
	return append(dst, h.Version, h.BitsX, h.BitsY, h.BitsZ)
}

// ParseHeader reads and validates the magic and version. Dimension bits are
// returned as stored so callers can decide whether they match.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(data))
	}
	copy(h.Magic[:], data[:4])
	h.Version = data[4]
	h.BitsX = data[5]
	h.BitsY = data[6]
	h.BitsZ = data[7]
	if !bytes.Equal(h.Magic[:], []byte(Magic)) {
		return h, fmt.Errorf("%w: %q", ErrBadMagic, h.Magic[:])
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// Compress run-length encodes ids in order as (id, run) pairs.
func Compress(ids []block.ID) []byte {
	if len(ids) == 0 {
		return nil
	}
	out := make([]byte, 0, 64)
	current := ids[0]
	run := 1
	for _, id := range ids[1:] {
		if id == current && run < MaxRun {
			run++
			continue
		}
		out = append(out, byte(current), byte(run))
		current = id
		run = 1
	}
	return append(out, byte(current), byte(run))
}

// Decompress expands an RLE body and requires exactly expected blocks.
func Decompress(body []byte, expected int) ([]block.ID, error) {
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddBody, len(body))
	}
	out := make([]block.ID, 0, expected)
	for i := 0; i < len(body); i += 2 {
		id := block.ID(body[i])
		run := int(body[i+1])
		if run == 0 {
			return nil, fmt.Errorf("%w: pair %d", ErrZeroRun, i/2)
		}
		if len(out)+run > expected {
			return nil, fmt.Errorf("%w: more than %d blocks", ErrBlockCount, expected)
		}
		for j := 0; j < run; j++ {
			out = append(out, id)
		}
	}
	if len(out) != expected {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBlockCount, len(out), expected)
	}
	return out, nil
}

// Encode produces a complete chunk file for blocks.
func Encode(blocks *chunk.Blocks) []byte {
	body := Compress(blocks[:])
	out := make([]byte, 0, HeaderSize+len(body))
	out = CurrentHeader().AppendTo(out)
	return append(out, body...)
}

// Decode validates a chunk file against the compiled shape and returns its
// block grid.
func Decode(data []byte) (*chunk.Blocks, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	want := CurrentHeader()
	if h.BitsX != want.BitsX || h.BitsY != want.BitsY || h.BitsZ != want.BitsZ {
		return nil, fmt.Errorf("%w: file %d/%d/%d, want %d/%d/%d",
			ErrDimensionMismatch, h.BitsX, h.BitsY, h.BitsZ, want.BitsX, want.BitsY, want.BitsZ)
	}
	ids, err := Decompress(data[HeaderSize:], chunk.Volume)
	if err != nil {
		return nil, err
	}
	var blocks chunk.Blocks
	copy(blocks[:], ids)
	return &blocks, nil
}
