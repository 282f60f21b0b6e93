// Package inodestore is the 256-slot inode sub-allocator described in spec
// §4.2: a 256-bit occupancy bitmap, physically colocated with the whole-block
// bitmap inside the image's reserved header, governing 64-byte inode slots
// carved out of the fixed inode-table region of the whole-block store.
package inodestore

import (
	"errors"

	"github.com/dargueta/f17fs/internal/bitmap"
	"github.com/dargueta/f17fs/internal/blockstore"
)

// ErrTableFull is returned by SubAllocate when all 256 inode slots are in use.
var ErrTableFull = errors.New("inodestore: inode table full")

// Store manages allocation of the 256 fixed-size inode slots.
type Store struct {
	blocks *blockstore.Store
	bitmap *bitmap.Bitmap
}

// Format initializes a fresh, all-free inode bitmap over blocks.
func Format(blocks *blockstore.Store) (*Store, error) {
	s := &Store{blocks: blocks, bitmap: bitmap.New(blockstore.NumInodes)}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open reloads the inode bitmap persisted by a prior Format.
func Open(blocks *blockstore.Store) (*Store, error) {
	data, err := blocks.ReadHeaderRegion(blockstore.InodeBitmapOffset(), blockstore.InodeBitmapSize())
	if err != nil {
		return nil, err
	}
	return &Store{blocks: blocks, bitmap: bitmap.Overlay(blockstore.NumInodes, data)}, nil
}

func (s *Store) flush() error {
	return s.blocks.WriteHeaderRegion(blockstore.InodeBitmapOffset(), s.bitmap.Data())
}

// SubAllocate reserves and returns the first free inode index, 0..255.
func (s *Store) SubAllocate() (int, error) {
	i, ok := s.bitmap.FFZ()
	if !ok {
		return 0, ErrTableFull
	}
	s.bitmap.Set(i)
	if err := s.flush(); err != nil {
		s.bitmap.Reset(i)
		return 0, err
	}
	return i, nil
}

// SubRelease frees an inode index.
func (s *Store) SubRelease(i int) error {
	if i < 0 || i >= blockstore.NumInodes {
		return errors.New("inodestore: inode index out of range")
	}
	s.bitmap.Reset(i)
	return s.flush()
}

// SubTest reports whether an inode index is currently allocated.
func (s *Store) SubTest(i int) bool {
	if i < 0 || i >= blockstore.NumInodes {
		return false
	}
	return s.bitmap.Test(i)
}

// blockAndOffset locates the inode-table block and the byte offset within it
// for inode index i.
func (s *Store) blockAndOffset(i int) (blockstore.ID, int) {
	block := blockstore.FirstInodeBlock + i/blockstore.InodesPerBlock
	offset := (i % blockstore.InodesPerBlock) * blockstore.InodeSize
	return blockstore.ID(block), offset
}

// Read copies the 64-byte on-disk representation of inode i into buf, which
// must be at least blockstore.InodeSize bytes. It returns InodeSize on
// success, 0 on failure.
func (s *Store) Read(i int, buf []byte) (int, error) {
	if i < 0 || i >= blockstore.NumInodes {
		return 0, errors.New("inodestore: inode index out of range")
	}
	block, offset := s.blockAndOffset(i)
	return s.blocks.NRead(block, offset, buf, blockstore.InodeSize)
}

// Write persists the 64-byte on-disk representation of inode i from buf.
func (s *Store) Write(i int, buf []byte) (int, error) {
	if i < 0 || i >= blockstore.NumInodes {
		return 0, errors.New("inodestore: inode index out of range")
	}
	block, offset := s.blockAndOffset(i)
	return s.blocks.NWrite(block, offset, buf, blockstore.InodeSize)
}

// UsedBlocks returns the number of currently allocated inodes, capped at 256.
func (s *Store) UsedBlocks() int {
	n := s.bitmap.PopCount()
	if n > blockstore.NumInodes {
		return blockstore.NumInodes
	}
	return n
}
