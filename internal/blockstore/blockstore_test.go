package blockstore_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/dargueta/f17fs/internal/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newImage(t *testing.T) io.ReadWriteSeeker {
	t.Helper()
	buf := make([]byte, blockstore.ImageSize)
	return bytesextra.NewReadWriteSeeker(buf)
}

func TestFormat__ReservesHeaderInodeTableAndRootBlock(t *testing.T) {
	store, err := blockstore.Format(newImage(t))
	require.NoError(t, err)

	for i := 0; i < blockstore.ReservedBlocks; i++ {
		assert.Truef(t, store.Test(blockstore.ID(i)), "reserved block %d should be allocated", i)
	}
	assert.False(t, store.Test(blockstore.ID(blockstore.FirstDataBlock)))
	assert.Equal(t, blockstore.TotalBlocks-blockstore.ReservedBlocks, store.FreeBlocks())
}

func TestAllocateRelease(t *testing.T) {
	store, err := blockstore.Format(newImage(t))
	require.NoError(t, err)

	free := store.FreeBlocks()

	id, err := store.Allocate()
	require.NoError(t, err)
	assert.EqualValues(t, blockstore.FirstDataBlock, id)
	assert.True(t, store.Test(id))
	assert.Equal(t, free-1, store.FreeBlocks())

	require.NoError(t, store.Release(id))
	assert.False(t, store.Test(id))
	assert.Equal(t, free, store.FreeBlocks())
}

func TestAllocate__ExhaustsSpace(t *testing.T) {
	store, err := blockstore.Format(newImage(t))
	require.NoError(t, err)

	free := store.FreeBlocks()
	for i := 0; i < free; i++ {
		_, err := store.Allocate()
		require.NoError(t, err)
	}

	_, err = store.Allocate()
	assert.ErrorIs(t, err, blockstore.ErrNoSpace)
}

func TestReadWriteRoundTrip(t *testing.T) {
	store, err := blockstore.Format(newImage(t))
	require.NoError(t, err)

	id, err := store.Allocate()
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0xAB}, blockstore.BlockSize)
	n, err := store.Write(id, data)
	require.NoError(t, err)
	require.Equal(t, blockstore.BlockSize, n)

	readBack := make([]byte, blockstore.BlockSize)
	n, err = store.Read(id, readBack)
	require.NoError(t, err)
	require.Equal(t, blockstore.BlockSize, n)
	assert.True(t, bytes.Equal(data, readBack))
}

func TestNReadNWrite__Partial(t *testing.T) {
	store, err := blockstore.Format(newImage(t))
	require.NoError(t, err)

	id, err := store.Allocate()
	require.NoError(t, err)

	payload := []byte("hello")
	n, err := store.NWrite(id, 10, payload, len(payload))
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	readBack := make([]byte, len(payload))
	n, err = store.NRead(id, 10, readBack, len(payload))
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	assert.Equal(t, payload, readBack)
}

func TestOpen__PersistsBitmapAcrossReload(t *testing.T) {
	image := newImage(t)
	store, err := blockstore.Format(image)
	require.NoError(t, err)

	id, err := store.Allocate()
	require.NoError(t, err)

	reopened, err := blockstore.Open(image)
	require.NoError(t, err)
	assert.True(t, reopened.Test(id))
	assert.Equal(t, store.FreeBlocks(), reopened.FreeBlocks())
}
