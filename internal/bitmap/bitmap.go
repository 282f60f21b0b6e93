// Package bitmap adapts github.com/boljen/go-bitmap to the narrow collaborator
// interface this filesystem's on-disk allocators need: overlay an existing byte
// slice, test/set/reset individual bits, and find the first zero bit. Spec §6
// names this collaborator explicitly as a black box; this package is the thin
// seam between that contract and the real third-party bitmap implementation.
package bitmap

import (
	boljenbitmap "github.com/boljen/go-bitmap"
)

// Bitmap is a fixed-size bit vector backed by a byte slice.
type Bitmap struct {
	bits  boljenbitmap.Bitmap
	nbits int
}

// New allocates a zeroed bitmap with room for nbits bits.
func New(nbits int) *Bitmap {
	return &Bitmap{bits: boljenbitmap.New(nbits), nbits: nbits}
}

// Overlay wraps an existing byte slice as a bitmap of nbits bits. The slice
// must already have at least (nbits+7)/8 bytes; writes through the returned
// Bitmap mutate data in place, mirroring the source's bitmap_overlay().
func Overlay(nbits int, data []byte) *Bitmap {
	return &Bitmap{bits: boljenbitmap.Bitmap(data), nbits: nbits}
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool {
	return b.bits.Get(i)
}

// Set marks bit i as occupied.
func (b *Bitmap) Set(i int) {
	b.bits.Set(i, true)
}

// Reset marks bit i as free.
func (b *Bitmap) Reset(i int) {
	b.bits.Set(i, false)
}

// FFZ returns the index of the first zero (unset) bit, scanning from 0. The
// second return value is false if every bit is set.
func (b *Bitmap) FFZ() (int, bool) {
	for i := 0; i < b.nbits; i++ {
		if !b.bits.Get(i) {
			return i, true
		}
	}
	return 0, false
}

// PopCount returns the number of set bits.
func (b *Bitmap) PopCount() int {
	count := 0
	for i := 0; i < b.nbits; i++ {
		if b.bits.Get(i) {
			count++
		}
	}
	return count
}

// NBits returns the number of addressable bits in the bitmap.
func (b *Bitmap) NBits() int {
	return b.nbits
}

// Data returns the raw byte slice backing the bitmap, for persistence.
func (b *Bitmap) Data() []byte {
	return b.bits.Data(false)
}
