package f17fs

import (
	"github.com/dargueta/f17fs/internal/blockstore"
	"github.com/dargueta/f17fs/internal/descriptorstore"
)

const (
	directBlocks   = directPointers        // 6
	indirectBlocks = 256                   // one index block of 256 pointers
	doubleBlocks   = indirectBlocks * indirectBlocks

	indirectTierStart = directBlocks
	doubleTierStart   = directBlocks + indirectBlocks

	// MaxFileSize is the addressing ceiling: 6 direct + 256 indirect +
	// 65,536 double-indirect logical blocks.
	MaxFileSize = int64(directBlocks+indirectBlocks+doubleBlocks) * blockstore.BlockSize
)

// descriptorPosition computes a descriptor's absolute byte position from its
// tier/order/offset decomposition, mirroring the original's position helper
// (renamed here because "file size" was a misnomer in the source: it
// computes a cursor's position, not a file's size).
func descriptorPosition(d descriptorstore.Descriptor) int64 {
	order := int64(d.Order)
	offset := int64(d.Offset)

	switch d.Usage {
	case descriptorstore.UsageDirect:
		return blockstore.BlockSize*order + offset
	case descriptorstore.UsageIndirect:
		return blockstore.BlockSize*(indirectTierStart+order) + offset
	case descriptorstore.UsageDoubleIndirect:
		return blockstore.BlockSize*(doubleTierStart+order) + offset
	default:
		return 0
	}
}

// decomposePosition converts a clamped absolute byte position back into the
// tier/order/offset triple a descriptor stores, following the boundary rule
// in the block-map allocator: the double-indirect tier starts at logical
// block 262 (6+256), the indirect tier at logical block 6.
func decomposePosition(p int64) (usage descriptorstore.Usage, order uint16, offset uint16) {
	logicalBlock := p / blockstore.BlockSize
	offset = uint16(p % blockstore.BlockSize)

	switch {
	case logicalBlock >= doubleTierStart:
		return descriptorstore.UsageDoubleIndirect, uint16(logicalBlock - doubleTierStart), offset
	case logicalBlock >= indirectTierStart:
		return descriptorstore.UsageIndirect, uint16(logicalBlock - indirectTierStart), offset
	default:
		return descriptorstore.UsageDirect, uint16(logicalBlock), offset
	}
}

// advanceCursor moves a descriptor forward by one block boundary: offset
// resets to 0, and order increments, promoting to the next tier on overflow
// (direct order==5 -> indirect order 0; indirect order==255 -> double
// order 0).
func advanceCursor(d descriptorstore.Descriptor) descriptorstore.Descriptor {
	d.Offset = 0
	switch d.Usage {
	case descriptorstore.UsageDirect:
		if d.Order == directBlocks-1 {
			d.Usage = descriptorstore.UsageIndirect
			d.Order = 0
		} else {
			d.Order++
		}
	case descriptorstore.UsageIndirect:
		if d.Order == indirectBlocks-1 {
			d.Usage = descriptorstore.UsageDoubleIndirect
			d.Order = 0
		} else {
			d.Order++
		}
	case descriptorstore.UsageDoubleIndirect:
		d.Order++
	}
	return d
}
