package bitmap_test

import (
	"testing"

	"github.com/dargueta/f17fs/internal/bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew__StartsEmpty(t *testing.T) {
	b := bitmap.New(64)
	assert.Equal(t, 0, b.PopCount())
	for i := 0; i < 64; i++ {
		assert.Falsef(t, b.Test(i), "bit %d should start clear", i)
	}
}

func TestSetReset(t *testing.T) {
	b := bitmap.New(16)

	b.Set(3)
	assert.True(t, b.Test(3))
	assert.Equal(t, 1, b.PopCount())

	b.Set(3)
	assert.Equal(t, 1, b.PopCount(), "setting an already-set bit must be idempotent")

	b.Reset(3)
	assert.False(t, b.Test(3))
	assert.Equal(t, 0, b.PopCount())

	b.Reset(3)
	assert.Equal(t, 0, b.PopCount(), "resetting an already-clear bit must be idempotent")
}

func TestFFZ(t *testing.T) {
	b := bitmap.New(8)
	b.Set(0)
	b.Set(1)
	b.Set(2)

	i, ok := b.FFZ()
	require.True(t, ok)
	assert.Equal(t, 3, i)
}

func TestFFZ__Full(t *testing.T) {
	b := bitmap.New(4)
	for i := 0; i < 4; i++ {
		b.Set(i)
	}

	_, ok := b.FFZ()
	assert.False(t, ok, "FFZ on a full bitmap must report false")
}

func TestOverlay__SharesBackingStorage(t *testing.T) {
	data := make([]byte, 2)
	overlay := bitmap.Overlay(16, data)

	overlay.Set(0)
	overlay.Set(9)

	assert.Equal(t, byte(1), data[0], "setting bit 0 should set byte 0's low bit")
	assert.Equal(t, byte(2), data[1], "setting bit 9 should set byte 1's second bit")
}

func TestNBitsAndData(t *testing.T) {
	b := bitmap.New(100)
	assert.Equal(t, 100, b.NBits())
	assert.GreaterOrEqual(t, len(b.Data()), 13, "100 bits needs at least 13 bytes")
}
