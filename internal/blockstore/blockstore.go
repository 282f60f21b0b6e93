// Package blockstore implements the whole-image block allocator: a bitmap kept
// in a reserved header region at the front of the image, governing allocation
// of the 512-byte blocks that make up the rest of the 65,536-block image.
//
// Layout convention: the 65,536-bit block bitmap alone is 8,192 bytes, so the
// two allocation bitmaps cannot share a single 512-byte block 0; the header
// instead spans as many whole blocks as both bitmaps need (HeaderBlocks):
//
//	blocks [0, HeaderBlocks)           reserved header: both allocation bitmaps
//	blocks [HeaderBlocks, RootDirBlock) inode table (owned by package inodestore)
//	block  RootDirBlock                root directory's single data block
//	blocks [RootDirBlock+1, TotalBlocks) general data pool
package blockstore

import (
	"fmt"
	"io"

	"github.com/dargueta/f17fs/internal/bitmap"
	"github.com/noxer/bytewriter"
)

const (
	// BlockSize is the size in bytes of every block in the image.
	BlockSize = 512
	// TotalBlocks is the fixed number of blocks in an image.
	TotalBlocks = 65536
	// ImageSize is the total size in bytes of a formatted image.
	ImageSize = BlockSize * TotalBlocks

	// blockBitmapBytes is the number of bytes needed to store one bit per
	// block in the image: 65536 bits == 8192 bytes.
	blockBitmapBytes = TotalBlocks / 8
	// inodeBitmapBytes is the number of bytes needed for the 256-bit inode
	// occupancy bitmap (package inodestore's allocation map).
	inodeBitmapBytes = 256 / 8

	// inodeBitmapOffset is the byte offset of the inode bitmap within the
	// header region, immediately following the block bitmap.
	inodeBitmapOffset = blockBitmapBytes

	// headerBytes is the number of bytes the two bitmaps occupy at the start
	// of the reserved header region.
	headerBytes = blockBitmapBytes + inodeBitmapBytes

	// HeaderBlocks is the number of blocks consumed by the reserved header:
	// headerBytes rounded up to a whole number of blocks.
	HeaderBlocks = (headerBytes + BlockSize - 1) / BlockSize

	// NumInodes is the fixed number of inode slots (spec: at most 256).
	NumInodes = 256
	// InodeSize is the on-disk size of one inode, in bytes.
	InodeSize = 64
	// InodesPerBlock is how many inodes are packed into one block.
	InodesPerBlock = BlockSize / InodeSize
	// InodeTableBlocks is how many blocks the inode table spans.
	InodeTableBlocks = NumInodes / InodesPerBlock

	// FirstInodeBlock is the first block of the inode table.
	FirstInodeBlock = HeaderBlocks
	// RootDirBlock is the block holding the root directory's single data
	// block, immediately following the inode table.
	RootDirBlock = FirstInodeBlock + InodeTableBlocks
	// FirstDataBlock is the first block available for general allocation.
	FirstDataBlock = RootDirBlock + 1
	// ReservedBlocks is the total count of blocks consumed by the header, the
	// inode table, and the root directory's data block.
	ReservedBlocks = FirstDataBlock
)

// ID addresses a single block in the image. Zero is a valid block number
// (it's inside the reserved header) but is used as a sentinel for
// "unallocated" in every inode pointer field.
type ID uint16

// Store is the whole-block allocator described in spec §4.1: it allocates,
// frees, tests, and transfers 512-byte blocks against a bitmap kept in the
// image's reserved header.
type Store struct {
	image  io.ReadWriteSeeker
	bitmap *bitmap.Bitmap
}

// Format initializes a brand-new Store over image, which must already be
// ImageSize bytes long (or growable via writes). It marks the header, the
// inode table, and the root directory's data block as permanently allocated.
func Format(image io.ReadWriteSeeker) (*Store, error) {
	s := &Store{
		image:  image,
		bitmap: bitmap.New(TotalBlocks),
	}

	for i := 0; i < ReservedBlocks; i++ {
		s.bitmap.Set(i)
	}

	if err := s.flushHeader(); err != nil {
		return nil, fmt.Errorf("blockstore: writing header: %w", err)
	}
	return s, nil
}

// Open loads a Store from an already-formatted image, reading the persisted
// bitmap back out of the header region.
func Open(image io.ReadWriteSeeker) (*Store, error) {
	s := &Store{
		image:  image,
		bitmap: bitmap.New(TotalBlocks),
	}

	header := make([]byte, headerBytes)
	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("blockstore: seeking to header: %w", err)
	}
	if _, err := io.ReadFull(image, header); err != nil {
		return nil, fmt.Errorf("blockstore: reading header: %w", err)
	}

	loaded := bitmap.Overlay(TotalBlocks, header[:blockBitmapBytes])
	s.bitmap = loaded
	return s, nil
}

// flushHeader writes the block bitmap back to the image's reserved region.
// The inode bitmap, which lives in the same header blob, is persisted
// separately by package inodestore via ReadHeaderRegion/WriteHeaderRegion.
//
// The header is assembled in a bounded staging buffer before the single
// write to the image: bytewriter.Writer refuses to write past the buffer it
// was given, which catches an oversized block bitmap at the seam instead of
// silently overrunning into the inode bitmap that follows it in the same
// blob.
func (s *Store) flushHeader() error {
	// Bounded to exactly blockBitmapBytes: bytewriter.Writer refuses writes
	// past the end of its buffer, which catches an oversized block bitmap
	// here instead of letting it silently overrun into the inode bitmap
	// that immediately follows it in the same header blob.
	staging := make([]byte, blockBitmapBytes)
	w := bytewriter.New(staging)
	if _, err := w.Write(s.bitmap.Data()); err != nil {
		return fmt.Errorf("blockstore: staging header: %w", err)
	}

	if _, err := s.image.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := s.image.Write(staging)
	return err
}

// ReadHeaderRegion reads n bytes from the reserved header at the given byte
// offset. It exists so that inodestore can persist its own bitmap, which is
// physically colocated with the block bitmap in the same header blob.
func (s *Store) ReadHeaderRegion(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > headerBytes {
		return nil, fmt.Errorf("blockstore: header region [%d,%d) out of bounds", offset, offset+n)
	}
	buf := make([]byte, n)
	if _, err := s.image.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(s.image, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteHeaderRegion writes data into the reserved header at the given byte
// offset.
func (s *Store) WriteHeaderRegion(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > headerBytes {
		return fmt.Errorf("blockstore: header region [%d,%d) out of bounds", offset, offset+len(data))
	}
	if _, err := s.image.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}
	_, err := s.image.Write(data)
	return err
}

// InodeBitmapOffset is the byte offset of the inode bitmap within the header.
func InodeBitmapOffset() int { return inodeBitmapOffset }

// InodeBitmapSize is the size in bytes of the inode bitmap.
func InodeBitmapSize() int { return inodeBitmapBytes }

func (s *Store) blockOffset(id ID) int64 {
	return int64(id) * BlockSize
}

// Allocate reserves and returns the first free block. It fails with ENOSPC
// semantics surfaced to the caller as a plain error; the f17fs package wraps
// this in its own typed error.
func (s *Store) Allocate() (ID, error) {
	i, ok := s.bitmap.FFZ()
	if !ok {
		return 0, ErrNoSpace
	}
	s.bitmap.Set(i)
	if err := s.flushHeader(); err != nil {
		s.bitmap.Reset(i)
		return 0, err
	}
	return ID(i), nil
}

// Release frees a previously allocated block. Freeing an already-free block
// is a no-op, matching spec §4.1 ("idempotent-safe is not required" — we make
// it safe anyway since nothing in the spec forbids it and it simplifies
// callers that release blocks while unwinding a partial allocation).
func (s *Store) Release(id ID) error {
	if int(id) >= TotalBlocks {
		return fmt.Errorf("blockstore: block %d out of range", id)
	}
	s.bitmap.Reset(int(id))
	return s.flushHeader()
}

// Test reports whether a block is currently marked allocated.
func (s *Store) Test(id ID) bool {
	if int(id) >= TotalBlocks {
		return false
	}
	return s.bitmap.Test(int(id))
}

// Read transfers one full block into buf, which must be at least BlockSize
// bytes. It returns the number of bytes transferred: BlockSize on success, 0
// on failure.
func (s *Store) Read(id ID, buf []byte) (int, error) {
	if len(buf) < BlockSize {
		return 0, fmt.Errorf("blockstore: buffer too small (%d < %d)", len(buf), BlockSize)
	}
	if _, err := s.image.Seek(s.blockOffset(id), io.SeekStart); err != nil {
		return 0, nil
	}
	if _, err := io.ReadFull(s.image, buf[:BlockSize]); err != nil {
		return 0, nil
	}
	return BlockSize, nil
}

// Write transfers one full block from buf, which must be at least BlockSize
// bytes. It returns BlockSize on success, 0 on failure.
func (s *Store) Write(id ID, buf []byte) (int, error) {
	if len(buf) < BlockSize {
		return 0, fmt.Errorf("blockstore: buffer too small (%d < %d)", len(buf), BlockSize)
	}
	if _, err := s.image.Seek(s.blockOffset(id), io.SeekStart); err != nil {
		return 0, nil
	}
	if _, err := s.image.Write(buf[:BlockSize]); err != nil {
		return 0, nil
	}
	return BlockSize, nil
}

// NRead transfers n bytes from block id starting at offset into buf.
// offset+n must not exceed BlockSize.
func (s *Store) NRead(id ID, offset int, buf []byte, n int) (int, error) {
	if offset < 0 || n < 0 || offset+n > BlockSize {
		return 0, fmt.Errorf("blockstore: partial read [%d,%d) exceeds block size", offset, offset+n)
	}
	if _, err := s.image.Seek(s.blockOffset(id)+int64(offset), io.SeekStart); err != nil {
		return 0, nil
	}
	if _, err := io.ReadFull(s.image, buf[:n]); err != nil {
		return 0, nil
	}
	return n, nil
}

// NWrite transfers n bytes from buf into block id starting at offset.
// offset+n must not exceed BlockSize.
func (s *Store) NWrite(id ID, offset int, buf []byte, n int) (int, error) {
	if offset < 0 || n < 0 || offset+n > BlockSize {
		return 0, fmt.Errorf("blockstore: partial write [%d,%d) exceeds block size", offset, offset+n)
	}
	if _, err := s.image.Seek(s.blockOffset(id)+int64(offset), io.SeekStart); err != nil {
		return 0, nil
	}
	if _, err := s.image.Write(buf[:n]); err != nil {
		return 0, nil
	}
	return n, nil
}

// FreeBlocks returns the number of unallocated blocks.
func (s *Store) FreeBlocks() int {
	return TotalBlocks - s.bitmap.PopCount()
}

// UsedBlocks returns the number of allocated blocks.
func (s *Store) UsedBlocks() int {
	return s.bitmap.PopCount()
}
