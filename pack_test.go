package objstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/mmap"
)

// newRawPackSource maps raw bytes as a packfile without index validation,
// for exercising the low-level parsers in isolation.
func newRawPackSource(t *testing.T, raw []byte, idx *packIdx) *packSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pack")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	r, err := mmap.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return &packSource{path: path, r: r, idx: idx}
}

func TestParseEntryHeader(t *testing.T) {
	tests := []struct {
		name string
		typ  ObjectType
		size uint64
	}{
		{"blob size 0", ObjBlob, 0},
		{"blob size in first nibble", ObjBlob, 15},
		{"tree needs one continuation", ObjTree, 16},
		{"commit two continuations", ObjCommit, 1 << 12},
		{"tag large size", ObjTag, 1 << 40},
		{"ofs-delta", ObjOfsDelta, 123},
		{"ref-delta", ObjRefDelta, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := encodeEntryHeader(tt.typ, tt.size)
			ps := newRawPackSource(t, raw, nil)

			typ, size, n, err := ps.parseEntryHeader(0)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, typ)
			assert.Equal(t, tt.size, size)
			assert.Equal(t, len(raw), n)
		})
	}

	t.Run("reserved type code 5", func(t *testing.T) {
		ps := newRawPackSource(t, []byte{5 << entryType0Shift}, nil)
		_, _, _, err := ps.parseEntryHeader(0)
		assert.ErrorIs(t, err, ErrUnsupportedObjectType)
	})

	t.Run("type code 0", func(t *testing.T) {
		ps := newRawPackSource(t, []byte{0x00}, nil)
		_, _, _, err := ps.parseEntryHeader(0)
		assert.ErrorIs(t, err, ErrUnsupportedObjectType)
	})

	t.Run("unterminated header", func(t *testing.T) {
		raw := make([]byte, 12)
		for i := range raw {
			raw[i] = 0x80 | 0x30 // continuation forever
		}
		ps := newRawPackSource(t, raw, nil)
		_, _, _, err := ps.parseEntryHeader(0)
		assert.ErrorIs(t, err, ErrBadPackfile)
	})

	t.Run("header past end of pack", func(t *testing.T) {
		ps := newRawPackSource(t, []byte{0x80 | 0x30}, nil)
		_, _, _, err := ps.parseEntryHeader(0)
		assert.ErrorIs(t, err, ErrBadPackfile)
	})
}

func TestParseNegativeOffset(t *testing.T) {
	for _, want := range []uint64{1, 100, 127, 128, 129, 16383, 16384, 1 << 20, 1 << 31} {
		raw := encodeNegOffset(want)
		ps := newRawPackSource(t, raw, nil)

		got, n, err := ps.parseNegativeOffset(0)
		require.NoError(t, err)
		assert.Equal(t, want, got, "offset %d", want)
		assert.Equal(t, len(raw), n)
	}

	t.Run("unterminated encoding", func(t *testing.T) {
		raw := make([]byte, 10)
		for i := range raw {
			raw[i] = 0x80 | 0x01
		}
		ps := newRawPackSource(t, raw, nil)
		_, _, err := ps.parseNegativeOffset(0)
		assert.ErrorIs(t, err, ErrBadPackfile)
	})
}

func TestReadPackHeader(t *testing.T) {
	makeHeader := func(sig [4]byte, version, nobjects uint32) []byte {
		raw := make([]byte, packHeaderSize)
		copy(raw, sig[:])
		binary.BigEndian.PutUint32(raw[4:], version)
		binary.BigEndian.PutUint32(raw[8:], nobjects)
		return raw
	}
	idxFor := func(n uint32) *packIdx {
		p := &packIdx{}
		p.fanout[fanoutEntries-1] = n
		return p
	}

	t.Run("valid", func(t *testing.T) {
		ps := newRawPackSource(t, makeHeader(packSignature, 2, 7), idxFor(7))
		assert.NoError(t, ps.readHeader())
	})

	t.Run("bad signature", func(t *testing.T) {
		ps := newRawPackSource(t, makeHeader([4]byte{'J', 'U', 'N', 'K'}, 2, 7), idxFor(7))
		assert.ErrorIs(t, ps.readHeader(), ErrBadPackfile)
	})

	t.Run("bad version", func(t *testing.T) {
		ps := newRawPackSource(t, makeHeader(packSignature, 3, 7), idxFor(7))
		assert.ErrorIs(t, ps.readHeader(), ErrBadPackfile)
	})

	t.Run("object count disagrees with index", func(t *testing.T) {
		ps := newRawPackSource(t, makeHeader(packSignature, 2, 7), idxFor(8))
		assert.ErrorIs(t, ps.readHeader(), ErrBadPackfile)
	})

	t.Run("truncated", func(t *testing.T) {
		ps := newRawPackSource(t, []byte("PACK"), idxFor(0))
		assert.ErrorIs(t, ps.readHeader(), ErrBadPackfile)
	})
}

func TestInflate(t *testing.T) {
	payload := []byte("some object payload, long enough to compress")
	z := deflate(t, payload)

	t.Run("round trip", func(t *testing.T) {
		ps := newRawPackSource(t, z, nil)
		got, err := ps.inflate(0, uint64(len(payload)))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("declared size disagrees", func(t *testing.T) {
		ps := newRawPackSource(t, z, nil)
		_, err := ps.inflate(0, uint64(len(payload))+1)
		assert.ErrorIs(t, err, ErrBadPackfile)
	})

	t.Run("not a zlib stream", func(t *testing.T) {
		ps := newRawPackSource(t, []byte("definitely not compressed"), nil)
		_, err := ps.inflate(0, 5)
		assert.ErrorIs(t, err, ErrBadPackfile)
	})
}
