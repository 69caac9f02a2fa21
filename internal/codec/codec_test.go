package codec

import (
	"errors"
	"math/rand"
	"testing"

	"chunkstream/internal/block"
	"chunkstream/internal/chunk"
)

func TestCompressRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	tests := []struct {
		name string
		fill func(i int) block.ID
	}{
		{name: "uniform", fill: func(int) block.ID { return 0 }},
		{name: "alternating", fill: func(i int) block.ID { return block.ID(i % 2) }},
		{name: "full byte range", fill: func(i int) block.ID { return block.ID(i % 256) }},
		{name: "random", fill: func(int) block.ID { return block.ID(rng.Intn(256)) }},
		{name: "long runs", fill: func(i int) block.ID { return block.ID(i / 1000) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]block.ID, chunk.Volume)
			for i := range ids {
				ids[i] = tt.fill(i)
			}
			got, err := Decompress(Compress(ids), chunk.Volume)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			for i := range ids {
				if got[i] != ids[i] {
					t.Fatalf("mismatch at %d: got %d want %d", i, got[i], ids[i])
				}
			}
		})
	}
}

func TestCompressSplitsLongRuns(t *testing.T) {
	ids := make([]block.ID, 600)
	body := Compress(ids)
	want := []byte{0, 255, 0, 255, 0, 90}
	if string(body) != string(want) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestEncodeHeader(t *testing.T) {
	var blocks chunk.Blocks
	data := Encode(&blocks)
	want := []byte{'E', 'S', 'F', 'S', Version, chunk.BitsX, chunk.BitsY, chunk.BitsZ}
	if string(data[:HeaderSize]) != string(want) {
		t.Fatalf("unexpected header %v", data[:HeaderSize])
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *decoded != blocks {
		t.Fatalf("decoded blocks differ")
	}
}

func TestDecodeRejections(t *testing.T) {
	var blocks chunk.Blocks
	valid := Encode(&blocks)

	mutate := func(fn func([]byte) []byte) []byte {
		dup := append([]byte(nil), valid...)
		return fn(dup)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "short header", data: valid[:5], want: ErrShortHeader},
		{name: "bad magic", data: mutate(func(b []byte) []byte { b[0] = 'X'; return b }), want: ErrBadMagic},
		{name: "version", data: mutate(func(b []byte) []byte { b[4] = 2; return b }), want: ErrUnsupportedVersion},
		{name: "bits x", data: mutate(func(b []byte) []byte { b[5]++; return b }), want: ErrDimensionMismatch},
		{name: "bits y", data: mutate(func(b []byte) []byte { b[6]--; return b }), want: ErrDimensionMismatch},
		{name: "bits z", data: mutate(func(b []byte) []byte { b[7] = 0; return b }), want: ErrDimensionMismatch},
		{name: "odd body", data: mutate(func(b []byte) []byte { return append(b, 7) }), want: ErrOddBody},
		{name: "zero run", data: mutate(func(b []byte) []byte { return append(b[:HeaderSize], 0, 0) }), want: ErrZeroRun},
		{name: "too few", data: mutate(func(b []byte) []byte { return b[:len(b)-2] }), want: ErrBlockCount},
		{name: "too many", data: mutate(func(b []byte) []byte { return append(b, 0, 1) }), want: ErrBlockCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected error to wrap ErrCorrupt: %v", err)
			}
		})
	}
}

func TestHeaderVolume(t *testing.T) {
	if got := CurrentHeader().Volume(); got != chunk.Volume {
		t.Fatalf("expected %d, got %d", chunk.Volume, got)
	}
}
