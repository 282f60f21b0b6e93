package f17fs

import (
	"encoding/binary"

	"github.com/dargueta/f17fs/internal/blockstore"
)

// ObjectType distinguishes a regular file from a directory. It occupies a
// single byte in the on-disk inode, following the teacher's convention of
// encoding a kind tag as a narrow integer rather than a string.
type ObjectType uint8

const (
	// ObjectTypeFile marks an inode as a regular file ('r' on disk).
	ObjectTypeFile ObjectType = 'r'
	// ObjectTypeDirectory marks an inode as a directory ('d' on disk).
	ObjectTypeDirectory ObjectType = 'd'
)

const (
	ownerFieldSize    = 18
	directPointers    = 6
	inodeExplicitSize = 1 + ownerFieldSize + 1 + 1 + 4 + 1 + directPointers*2 + 2 + 2
	reservedFieldSize = blockstore.InodeSize - inodeExplicitSize

	// maxDirEntries is the number of live entries a directory can hold,
	// bounded by the 7 usable bits of VacantFile (bit 7 is unused, spec §9).
	maxDirEntries = 7
)

// Inode is the in-memory form of one 64-byte on-disk inode record. Every
// field lines up with an explicit byte range in MarshalBinary/UnmarshalInode
// rather than relying on the language's struct layout, since the field
// widths here (a 4-byte size, 2-byte block pointers) don't match any native
// alignment boundary cleanly.
type Inode struct {
	// VacantFile is, for directories, the occupancy bitmap of the 7 entries
	// in this directory's single data block (bits 0..6; bit 7 unused). It is
	// unused and left zero for regular files.
	VacantFile uint8
	// Owner is a fixed 18-byte field carried for on-disk layout fidelity.
	// Nothing in this package reads or validates it: the spec does not
	// define ownership or permissions.
	Owner [ownerFieldSize]byte
	// Type distinguishes a file from a directory.
	Type ObjectType
	// Number is this inode's own index into the inode table, 0..255.
	Number uint8
	// Size is the file's length in bytes; fixed at blockstore.BlockSize for
	// directories.
	Size uint32
	// LinkCount is the number of directory entries that reference this
	// inode. An inode is only freed once its LinkCount drops to zero.
	LinkCount uint8
	// Direct holds the block numbers of the first 6 logical blocks of file
	// data. A value of 0 means "unallocated" (block 0 is inside the header
	// region and can never be a data block).
	Direct [directPointers]blockstore.ID
	// Indirect is the block number of a single index block holding 256
	// further block.ID pointers (logical blocks 6..261 of the file).
	Indirect blockstore.ID
	// DoubleIndirect is the block number of an outer index block whose 256
	// entries each point to an inner index block of 256 data-block pointers
	// (logical blocks 262..65,797 of the file).
	DoubleIndirect blockstore.ID
}

// IsDir reports whether this inode describes a directory.
func (n *Inode) IsDir() bool { return n.Type == ObjectTypeDirectory }

// MarshalBinary serializes the inode into its fixed 64-byte on-disk form.
func (n *Inode) MarshalBinary() []byte {
	buf := make([]byte, blockstore.InodeSize)

	buf[0] = n.VacantFile
	offset := 1
	copy(buf[offset:offset+ownerFieldSize], n.Owner[:])
	offset += ownerFieldSize
	buf[offset] = byte(n.Type)
	offset++
	buf[offset] = n.Number
	offset++
	binary.LittleEndian.PutUint32(buf[offset:offset+4], n.Size)
	offset += 4
	buf[offset] = n.LinkCount
	offset++
	for i, ptr := range n.Direct {
		binary.LittleEndian.PutUint16(buf[offset+i*2:offset+i*2+2], uint16(ptr))
	}
	offset += directPointers * 2
	binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(n.Indirect))
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(n.DoubleIndirect))

	return buf
}

// UnmarshalInode parses a 64-byte on-disk inode record.
func UnmarshalInode(buf []byte) *Inode {
	n := &Inode{}
	n.VacantFile = buf[0]
	offset := 1
	copy(n.Owner[:], buf[offset:offset+ownerFieldSize])
	offset += ownerFieldSize
	n.Type = ObjectType(buf[offset])
	offset++
	n.Number = buf[offset]
	offset++
	n.Size = binary.LittleEndian.Uint32(buf[offset : offset+4])
	offset += 4
	n.LinkCount = buf[offset]
	offset++
	for i := range n.Direct {
		n.Direct[i] = blockstore.ID(binary.LittleEndian.Uint16(buf[offset+i*2 : offset+i*2+2]))
	}
	offset += directPointers * 2
	n.Indirect = blockstore.ID(binary.LittleEndian.Uint16(buf[offset : offset+2]))
	offset += 2
	n.DoubleIndirect = blockstore.ID(binary.LittleEndian.Uint16(buf[offset : offset+2]))

	return n
}

// occupiedSlots returns the indices, in slot order, of the directory's live
// entries according to VacantFile's low 7 bits.
func (n *Inode) occupiedSlots() []int {
	slots := make([]int, 0, maxDirEntries)
	for i := 0; i < maxDirEntries; i++ {
		if n.VacantFile&(1<<uint(i)) != 0 {
			slots = append(slots, i)
		}
	}
	return slots
}

// firstFreeSlot returns the first unoccupied directory-entry slot, or -1 if
// all 7 are occupied.
func (n *Inode) firstFreeSlot() int {
	for i := 0; i < maxDirEntries; i++ {
		if n.VacantFile&(1<<uint(i)) == 0 {
			return i
		}
	}
	return -1
}

func (n *Inode) setSlotOccupied(i int)   { n.VacantFile |= 1 << uint(i) }
func (n *Inode) setSlotVacant(i int)     { n.VacantFile &^= 1 << uint(i) }
func (n *Inode) slotOccupied(i int) bool { return n.VacantFile&(1<<uint(i)) != 0 }
