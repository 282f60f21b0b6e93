// Package descriptorstore is the in-memory-only sub-allocator for open file
// descriptors described in spec §4.3: a 256-bit occupancy bitmap and 256
// descriptor slots, never persisted to the image. It is reset on every
// mount, since spec §5 requires the descriptor bitmap to start empty
// regardless of what was open the last time the image was mounted.
package descriptorstore

import (
	"errors"

	"github.com/dargueta/f17fs/internal/bitmap"
)

// Capacity is the maximum number of simultaneously open descriptors.
const Capacity = 256

// Usage tags which tier of the block map a descriptor's cursor currently
// addresses. The numeric values are part of the on-disk-adjacent contract
// described in spec §3 and are preserved verbatim (not renumbered to 0,1,2)
// because the tier-overflow arithmetic in spec §4.8 is defined in terms of
// them.
type Usage uint8

const (
	UsageDirect         Usage = 1
	UsageIndirect       Usage = 2
	UsageDoubleIndirect Usage = 4
)

// Descriptor is the in-memory cursor state spec §3 defines for an open file:
// which inode it refers to, and the tier/order/offset decomposition of its
// current byte position.
type Descriptor struct {
	InodeNum uint8
	Usage    Usage
	Order    uint16
	Offset   uint16
}

// ErrTableFull is returned by SubAllocate when all 256 descriptor slots are
// in use.
var ErrTableFull = errors.New("descriptorstore: descriptor table full")

// Store tracks which descriptor slots are in use and holds their state.
type Store struct {
	bitmap *bitmap.Bitmap
	slots  [Capacity]Descriptor
}

// New creates an empty descriptor store, as if freshly mounted.
func New() *Store {
	return &Store{bitmap: bitmap.New(Capacity)}
}

// Reset clears every slot and marks all of them free. Called on unmount, since
// the descriptor table is never persisted (spec §5).
func (s *Store) Reset() {
	s.bitmap = bitmap.New(Capacity)
	s.slots = [Capacity]Descriptor{}
}

// SubAllocate reserves and returns the first free descriptor index.
func (s *Store) SubAllocate() (int, error) {
	i, ok := s.bitmap.FFZ()
	if !ok {
		return 0, ErrTableFull
	}
	s.bitmap.Set(i)
	s.slots[i] = Descriptor{}
	return i, nil
}

// SubRelease frees a descriptor index.
func (s *Store) SubRelease(i int) error {
	if i < 0 || i >= Capacity {
		return errors.New("descriptorstore: descriptor index out of range")
	}
	s.bitmap.Reset(i)
	s.slots[i] = Descriptor{}
	return nil
}

// SubTest reports whether a descriptor index is currently allocated.
func (s *Store) SubTest(i int) bool {
	if i < 0 || i >= Capacity {
		return false
	}
	return s.bitmap.Test(i)
}

// Get returns the current state of descriptor i.
func (s *Store) Get(i int) Descriptor {
	return s.slots[i]
}

// Set overwrites the state of descriptor i.
func (s *Store) Set(i int, d Descriptor) {
	s.slots[i] = d
}

// UsedBlocks returns the number of currently open descriptors.
func (s *Store) UsedBlocks() int {
	return s.bitmap.PopCount()
}
