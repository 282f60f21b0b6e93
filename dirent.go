package f17fs

import (
	"bytes"
	"strings"

	"github.com/dargueta/f17fs/internal/blockstore"
)

const (
	// MaxNameLength is the longest a path segment's basename may be (spec
	// §4.5: "basename length < 64").
	MaxNameLength = direntNameField - 1

	direntNameField = 64
	direntSize      = direntNameField + 1
	direntsPerBlock = 7
	direntPadding   = blockstore.BlockSize - direntsPerBlock*direntSize
)

// DirEntry is one occupied slot of a directory's single data block: a
// null-padded name and the inode number it refers to. Vacancy is not stored
// in the entry itself; it's tracked by the owning directory inode's
// occupancy bitmap (Inode's VacantFile byte, see inode.go).
type DirEntry struct {
	Name        string
	InodeNumber uint8
	// IsDir is populated by ListDir for caller convenience; it is not part
	// of the on-disk directory entry.
	IsDir bool
}

func marshalDirEntry(e DirEntry) []byte {
	buf := make([]byte, direntSize)
	copy(buf[:direntNameField], e.Name)
	buf[direntNameField] = e.InodeNumber
	return buf
}

func unmarshalDirEntry(buf []byte) DirEntry {
	name := string(bytes.TrimRight(buf[:direntNameField], "\x00"))
	return DirEntry{Name: name, InodeNumber: buf[direntNameField]}
}

// readDirectoryBlock parses all 7 raw slots out of one 512-byte directory
// data block, in slot order. Slots whose occupancy bit is clear in
// occupancy must be ignored by the caller; the raw content may be stale.
func readDirectoryBlock(buf []byte) [direntsPerBlock]DirEntry {
	var entries [direntsPerBlock]DirEntry
	for i := 0; i < direntsPerBlock; i++ {
		start := i * direntSize
		entries[i] = unmarshalDirEntry(buf[start : start+direntSize])
	}
	return entries
}

// writeDirectoryBlock serializes all 7 slots back into a fresh 512-byte
// block, zero-padded.
func writeDirectoryBlock(entries [direntsPerBlock]DirEntry) []byte {
	buf := make([]byte, blockstore.BlockSize)
	for i, e := range entries {
		start := i * direntSize
		copy(buf[start:start+direntSize], marshalDirEntry(e))
	}
	return buf
}

// clearDirEntry zeroes slot i in place: the name and the inode number. This
// replaces the name-clearing operation, which must zero the field by
// assignment rather than compare it against an empty string.
func clearDirEntry(entries *[direntsPerBlock]DirEntry, i int) {
	entries[i] = DirEntry{}
}

// matchesSegment implements the prefix-match lookup semantics kept from the
// original: a stored, occupied name matches a queried path segment if the
// stored name starts with the full length of the queried segment, even if
// the stored name is longer.
func matchesSegment(storedName, segment string) bool {
	if len(segment) == 0 {
		return false
	}
	return strings.HasPrefix(storedName, segment)
}
