package f17fs_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/dargueta/f17fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFormattedFS(t *testing.T) *f17fs.FileSystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.f17fs")
	fs, err := f17fs.Format(path)
	require.NoError(t, err, "formatting image failed")
	t.Cleanup(func() { _ = fs.Unmount() })
	return fs
}

func TestFormat__EmptyRootDirectory(t *testing.T) {
	fs := newFormattedFS(t)

	entries, err := fs.ListDir("/")
	require.NoError(t, err)
	assert.Empty(t, entries, "freshly formatted root should have no entries")
}

func TestMount__ReopensFormattedImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.f17fs")
	fs, err := f17fs.Format(path)
	require.NoError(t, err)
	require.NoError(t, fs.Create("/greeting", f17fs.ObjectTypeFile))
	require.NoError(t, fs.Unmount())

	reopened, err := f17fs.Mount(path)
	require.NoError(t, err)
	defer reopened.Unmount()

	entries, err := reopened.ListDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "greeting", entries[0].Name)
	assert.False(t, entries[0].IsDir)
}

func TestCreate_DirectoryAndFile_WriteSeekReadHello(t *testing.T) {
	fs := newFormattedFS(t)

	require.NoError(t, fs.Create("/docs", f17fs.ObjectTypeDirectory))
	require.NoError(t, fs.Create("/docs/hello.txt", f17fs.ObjectTypeFile))

	fd, err := fs.Open("/docs/hello.txt")
	require.NoError(t, err)

	n, err := fs.Write(fd, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = fs.Seek(fd, 0, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err = fs.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, fs.Close(fd))

	entries, err := fs.ListDir("/docs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Name)
}

func TestCreate__DuplicateNameFails(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/a", f17fs.ObjectTypeFile))

	err := fs.Create("/a", f17fs.ObjectTypeFile)
	assert.ErrorIs(t, err, f17fs.ErrExists)
}

func TestOpen__DirectoryFails(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/dir", f17fs.ObjectTypeDirectory))

	_, err := fs.Open("/dir")
	assert.ErrorIs(t, err, f17fs.ErrIsADirectory)
}

func TestOpen__MissingPathFails(t *testing.T) {
	fs := newFormattedFS(t)

	_, err := fs.Open("/nope")
	assert.ErrorIs(t, err, f17fs.ErrNotFound)
}

// TestWriteRead_FullAddressSpace fills a file to the maximum addressable size
// (6 direct + 256 indirect + 65,536 double-indirect blocks) and checks reads
// at the tier boundaries: end of the direct tier, start of the indirect tier,
// and a point inside the double-indirect tier.
func TestWriteRead_FullAddressSpace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full address-space fill in short mode")
	}

	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/big", f17fs.ObjectTypeFile))

	fd, err := fs.Open("/big")
	require.NoError(t, err)

	payload := make([]byte, f17fs.MaxFileSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	written := 0
	for written < len(payload) {
		n, err := fs.Write(fd, payload[written:])
		require.NoError(t, err)
		if n == 0 {
			break
		}
		written += n
	}
	require.Equal(t, len(payload), written, "should be able to fill the entire addressable file size")

	offsets := []int64{0, 3071, 3072, 3072 + 131072, 3071 + 131072}
	for _, off := range offsets {
		pos, err := fs.Seek(fd, off, io.SeekStart)
		require.NoError(t, err)
		require.Equal(t, off, pos)

		got := make([]byte, 1)
		n, err := fs.Read(fd, got)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		assert.Equalf(t, payload[off], got[0], "byte mismatch at offset %d", off)
	}

	require.NoError(t, fs.Close(fd))
}

func TestMove_RenameWithinSameDirectory(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/old.txt", f17fs.ObjectTypeFile))

	require.NoError(t, fs.Move("/old.txt", "/new.txt"))

	entries, err := fs.ListDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new.txt", entries[0].Name)
}

func TestMove_AcrossDirectories(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/src", f17fs.ObjectTypeDirectory))
	require.NoError(t, fs.Create("/dst", f17fs.ObjectTypeDirectory))
	require.NoError(t, fs.Create("/src/file.txt", f17fs.ObjectTypeFile))

	require.NoError(t, fs.Move("/src/file.txt", "/dst/file.txt"))

	srcEntries, err := fs.ListDir("/src")
	require.NoError(t, err)
	assert.Empty(t, srcEntries)

	dstEntries, err := fs.ListDir("/dst")
	require.NoError(t, err)
	require.Len(t, dstEntries, 1)
	assert.Equal(t, "file.txt", dstEntries[0].Name)
}

func TestMove_CannotMoveDirectoryIntoItself(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/parent", f17fs.ObjectTypeDirectory))

	err := fs.Move("/parent", "/parent/child")
	assert.ErrorIs(t, err, f17fs.ErrCycle)
}

func TestMove_CannotMoveRoot(t *testing.T) {
	fs := newFormattedFS(t)
	err := fs.Move("/", "/somewhere")
	assert.ErrorIs(t, err, f17fs.ErrIsRoot)
}

func TestLink_AndRemove(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/original.txt", f17fs.ObjectTypeFile))

	fd, err := fs.Open("/original.txt")
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	require.NoError(t, fs.Link("/original.txt", "/alias.txt"))

	entries, err := fs.ListDir("/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Removing one link must leave the other readable with its content intact.
	require.NoError(t, fs.Remove("/original.txt"))

	fd, err = fs.Open("/alias.txt")
	require.NoError(t, err)
	buf := make([]byte, len("payload"))
	_, err = fs.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
	require.NoError(t, fs.Close(fd))

	require.NoError(t, fs.Remove("/alias.txt"))
	entries, err = fs.ListDir("/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLink_ExistingDestinationFails(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/a.txt", f17fs.ObjectTypeFile))
	require.NoError(t, fs.Create("/b.txt", f17fs.ObjectTypeFile))

	err := fs.Link("/a.txt", "/b.txt")
	assert.ErrorIs(t, err, f17fs.ErrExists)
}

func TestRemove_NonEmptyDirectoryThenEmpty(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/dir", f17fs.ObjectTypeDirectory))
	require.NoError(t, fs.Create("/dir/child.txt", f17fs.ObjectTypeFile))

	err := fs.Remove("/dir")
	assert.ErrorIs(t, err, f17fs.ErrNotEmpty)

	require.NoError(t, fs.Remove("/dir/child.txt"))
	require.NoError(t, fs.Remove("/dir"))

	_, err = fs.ListDir("/dir")
	assert.ErrorIs(t, err, f17fs.ErrNotFound)
}

func TestRemove_ClosesOpenDescriptorsOnFinalRemoval(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/f.txt", f17fs.ObjectTypeFile))

	fd1, err := fs.Open("/f.txt")
	require.NoError(t, err)
	fd2, err := fs.Open("/f.txt")
	require.NoError(t, err)

	require.NoError(t, fs.Remove("/f.txt"))

	assert.ErrorIs(t, fs.Close(fd1), f17fs.ErrBadDescriptor)
	assert.ErrorIs(t, fs.Close(fd2), f17fs.ErrBadDescriptor)
}

func TestRemove_CannotRemoveRoot(t *testing.T) {
	fs := newFormattedFS(t)
	assert.ErrorIs(t, fs.Remove("/"), f17fs.ErrIsRoot)
}

func TestSeek_ClampsToFileBounds(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/f.txt", f17fs.ObjectTypeFile))

	fd, err := fs.Open("/f.txt")
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("12345"))
	require.NoError(t, err)

	pos, err := fs.Seek(fd, 1000, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 5, pos, "seek past end of file should clamp to file size")

	pos, err = fs.Seek(fd, -1000, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos, "seek before start of file should clamp to 0")

	require.NoError(t, fs.Close(fd))
}

func TestDescriptor_ExhaustionFails(t *testing.T) {
	fs := newFormattedFS(t)
	require.NoError(t, fs.Create("/f.txt", f17fs.ObjectTypeFile))

	var fds []int
	for {
		fd, err := fs.Open("/f.txt")
		if err != nil {
			assert.ErrorIs(t, err, f17fs.ErrTooManyDescriptors)
			break
		}
		fds = append(fds, fd)
	}

	for _, fd := range fds {
		require.NoError(t, fs.Close(fd))
	}
}
