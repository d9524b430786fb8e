package objstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeltaSize(t *testing.T) {
	tests := []struct {
		data     []byte
		expected uint64
		consumed int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0xff, 0x7f}, 16383, 2},
		{[]byte{0x80, 0x80, 0x01}, 16384, 3},
	}

	for _, tt := range tests {
		v, n, err := parseDeltaSize(tt.data)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, v)
		assert.Equal(t, tt.consumed, n)
	}

	t.Run("empty buffer", func(t *testing.T) {
		_, _, err := parseDeltaSize(nil)
		assert.ErrorIs(t, err, ErrBadDelta)
	})

	t.Run("unterminated varint", func(t *testing.T) {
		_, _, err := parseDeltaSize(bytes.Repeat([]byte{0x80}, 12))
		assert.ErrorIs(t, err, ErrBadDelta)
	})

	t.Run("encode round trip", func(t *testing.T) {
		for _, want := range []uint64{0, 1, 127, 128, 16384, 1 << 40} {
			v, _, err := parseDeltaSize(encodeDeltaSize(want))
			require.NoError(t, err)
			assert.Equal(t, want, v)
		}
	})
}

func TestApplyDelta(t *testing.T) {
	t.Run("copy then insert", func(t *testing.T) {
		base := []byte("hello\n")
		// COPY(offset 0, size 5) + INSERT "!\n"
		delta := deltaStream(6, 7,
			0x90, 5, // copy: one size follow-byte
			0x02, '!', '\n',
		)
		out, err := applyDelta(base, delta)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello!\n"), out)
	})

	t.Run("insert only", func(t *testing.T) {
		delta := deltaStream(0, 3, 0x03, 'a', 'b', 'c')
		out, err := applyDelta(nil, delta)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), out)
	})

	t.Run("copy with all seven follow-bytes", func(t *testing.T) {
		base := []byte("0123456789")
		// offset = 1, size = 3, every selector bit set.
		delta := deltaStream(10, 3,
			0xff, 1, 0, 0, 0, 3, 0, 0,
		)
		out, err := applyDelta(base, delta)
		require.NoError(t, err)
		assert.Equal(t, []byte("123"), out)
	})

	t.Run("copy with no follow-bytes means 64 KiB", func(t *testing.T) {
		base := bytes.Repeat([]byte{0xab}, 0x10000)
		delta := deltaStream(0x10000, 0x10000, 0x80)
		out, err := applyDelta(base, delta)
		require.NoError(t, err)
		assert.Equal(t, base, out)
	})

	t.Run("declared base size disagrees", func(t *testing.T) {
		delta := deltaStream(5, 3, 0x03, 'a', 'b', 'c')
		_, err := applyDelta([]byte("four"), delta)
		assert.ErrorIs(t, err, ErrBadDelta)
	})

	t.Run("copy beyond base", func(t *testing.T) {
		delta := deltaStream(4, 8,
			0x91, 2, 8, // offset 2, size 8 in a 4-byte base
		)
		_, err := applyDelta([]byte("abcd"), delta)
		assert.ErrorIs(t, err, ErrBadDelta)
	})

	t.Run("zero instruction byte", func(t *testing.T) {
		delta := deltaStream(0, 1, 0x00)
		_, err := applyDelta(nil, delta)
		assert.ErrorIs(t, err, ErrBadDelta)
	})

	t.Run("truncated insert", func(t *testing.T) {
		delta := deltaStream(0, 5, 0x05, 'a', 'b')
		_, err := applyDelta(nil, delta)
		assert.ErrorIs(t, err, ErrBadDelta)
	})

	t.Run("stream ends before the declared result", func(t *testing.T) {
		delta := deltaStream(0, 9, 0x03, 'a', 'b', 'c')
		_, err := applyDelta(nil, delta)
		assert.ErrorIs(t, err, ErrBadDelta)
	})

	t.Run("stream produces more than declared", func(t *testing.T) {
		delta := deltaStream(0, 2, 0x03, 'a', 'b', 'c')
		_, err := applyDelta(nil, delta)
		assert.ErrorIs(t, err, ErrBadDelta)
	})
}

func TestDeltaContext(t *testing.T) {
	h1, _ := ParseHash("1234567890abcdef1234567890abcdef12345678")
	h2, _ := ParseHash("abcdef1234567890abcdef1234567890abcdef12")

	t.Run("ref-delta cycle", func(t *testing.T) {
		ctx := newDeltaContext(10)
		require.NoError(t, ctx.enterRefDelta(h1))
		err := ctx.enterRefDelta(h1)
		assert.ErrorIs(t, err, ErrBadPackfile)
	})

	t.Run("ofs-delta cycle", func(t *testing.T) {
		ctx := newDeltaContext(10)
		require.NoError(t, ctx.enterOfsDelta("a.pack", 12))
		require.NoError(t, ctx.enterOfsDelta("b.pack", 12)) // other pack, fine
		err := ctx.enterOfsDelta("a.pack", 12)
		assert.ErrorIs(t, err, ErrBadPackfile)
	})

	t.Run("depth limit", func(t *testing.T) {
		ctx := newDeltaContext(2)
		require.NoError(t, ctx.enterRefDelta(h1))
		require.NoError(t, ctx.enterRefDelta(h2))
		err := ctx.enterOfsDelta("a.pack", 30)
		assert.ErrorIs(t, err, ErrDeltaChainTooDeep)
	})
}
