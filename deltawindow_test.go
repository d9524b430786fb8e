package objstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaWindow(t *testing.T) {
	w, err := newDeltaWindow()
	require.NoError(t, err)

	data := []byte("materialized base object")
	w.add("objects/pack/pack-a.pack", 12, data)

	got, ok := w.lookup("objects/pack/pack-a.pack", 12)
	require.True(t, ok)
	assert.Equal(t, data, got)

	// Same offset in a different pack is a different key.
	_, ok = w.lookup("objects/pack/pack-b.pack", 12)
	assert.False(t, ok)

	// Different offset in the same pack misses too.
	_, ok = w.lookup("objects/pack/pack-a.pack", 13)
	assert.False(t, ok)
}

func TestDeltaWindowSkipsOversizedObjects(t *testing.T) {
	w, err := newDeltaWindow()
	require.NoError(t, err)

	huge := bytes.Repeat([]byte{0x01}, windowMaxObject+1)
	w.add("pack.pack", 0, huge)

	_, ok := w.lookup("pack.pack", 0)
	assert.False(t, ok)
}

func TestWindowKeyStability(t *testing.T) {
	k1 := windowKey("a.pack", 100)
	k2 := windowKey("a.pack", 100)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, windowKey("b.pack", 100))
}
