// Package f17fs implements a single-image, bitmap-allocated, inode-based
// filesystem: a fixed 65,536-block image, a 256-entry inode table with
// direct/indirect/double-indirect block maps, 7-entry directory blocks, and
// an in-memory file-descriptor table. A single FileSystem owns one mounted
// image exclusively; there is no concurrent-access support.
package f17fs

import (
	"encoding/binary"
	"io"
	"os"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/dargueta/f17fs/internal/blockstore"
	"github.com/dargueta/f17fs/internal/descriptorstore"
	"github.com/dargueta/f17fs/internal/inodestore"
)

// listDirCap is the caller-visible cap on the number of entries ListDir
// returns. It is larger than the actual per-directory maximum of 7 so it
// never binds; it exists purely as a container bound, matching the
// distinction the source draws between "directory capacity" and "listing
// container capacity."
const listDirCap = 15

// FileSystem is a single mounted image. It owns the whole-block store, the
// inode store, and the (never-persisted) descriptor store, and implements
// every namespace operation on top of them.
type FileSystem struct {
	image       io.ReadWriteSeeker
	blocks      *blockstore.Store
	inodes      *inodestore.Store
	descriptors *descriptorstore.Store
}

// Format creates a brand-new 33,554,432-byte image at path and initializes
// it: the header region (block + inode bitmaps), the inode table, and the
// root directory, and returns it already mounted.
func Format(path string) (*FileSystem, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, ErrIOFault.WithMessage("creating image %q: %v", path, err)
	}
	if err := file.Truncate(blockstore.ImageSize); err != nil {
		file.Close()
		return nil, ErrIOFault.WithMessage("sizing image %q: %v", path, err)
	}

	blocks, err := blockstore.Format(file)
	if err != nil {
		file.Close()
		return nil, ErrIOFault.WithMessage("formatting block store: %v", err)
	}
	inodes, err := inodestore.Format(blocks)
	if err != nil {
		file.Close()
		return nil, ErrIOFault.WithMessage("formatting inode store: %v", err)
	}

	fs := &FileSystem{
		image:       file,
		blocks:      blocks,
		inodes:      inodes,
		descriptors: descriptorstore.New(),
	}

	if err := fs.formatRoot(); err != nil {
		file.Close()
		return nil, err
	}

	return fs, nil
}

// formatRoot allocates inode 0 as the root directory. Its single data block
// is the fixed RootDirBlock the whole-block store already reserved during
// Format, so no block allocation is needed here.
func (fs *FileSystem) formatRoot() error {
	rootNum, err := fs.inodes.SubAllocate()
	if err != nil {
		return ErrInodeTableFull.WithMessage("allocating root inode")
	}
	if rootNum != 0 {
		return ErrIOFault.WithMessage("root inode allocated as %d, not 0", rootNum)
	}

	root := &Inode{
		Type:      ObjectTypeDirectory,
		Number:    0,
		Size:      blockstore.BlockSize,
		LinkCount: 1,
	}
	root.Direct[0] = blockstore.RootDirBlock

	var entries [direntsPerBlock]DirEntry
	if err := fs.writeDirBlock(root, entries); err != nil {
		return err
	}
	return fs.writeInode(0, root)
}

// Mount opens an already-formatted image at path.
func Mount(path string) (*FileSystem, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, ErrIOFault.WithMessage("opening image %q: %v", path, err)
	}

	blocks, err := blockstore.Open(file)
	if err != nil {
		file.Close()
		return nil, ErrIOFault.WithMessage("opening block store: %v", err)
	}
	inodes, err := inodestore.Open(blocks)
	if err != nil {
		file.Close()
		return nil, ErrIOFault.WithMessage("opening inode store: %v", err)
	}

	return &FileSystem{
		image:       file,
		blocks:      blocks,
		inodes:      inodes,
		descriptors: descriptorstore.New(),
	}, nil
}

// Unmount releases the mount's resources in reverse order of construction:
// the descriptor table (reset, since it was never persisted), then the
// underlying image handle. Failures are aggregated rather than stopping at
// the first one, since every resource should get a chance to release even
// if an earlier step failed.
func (fs *FileSystem) Unmount() error {
	var result *multierror.Error

	fs.descriptors.Reset()

	if closer, ok := fs.image.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, ErrIOFault.WithMessage("closing image: %v", err))
		}
	}

	return result.ErrorOrNil()
}

// Stat reports coarse occupancy counters for the mounted image: how many of
// the 65,536 blocks and 256 inodes are currently free.
func (fs *FileSystem) Stat() (freeBlocks, freeInodes int) {
	return fs.blocks.FreeBlocks(), blockstore.NumInodes - fs.inodes.UsedBlocks()
}

////////////////////////////////////////////////////////////////////////////
// Inode and directory-block I/O

func (fs *FileSystem) readInode(num int) (*Inode, error) {
	buf := make([]byte, blockstore.InodeSize)
	if n, err := fs.inodes.Read(num, buf); err != nil || n != blockstore.InodeSize {
		return nil, ErrIOFault.WithMessage("reading inode %d", num)
	}
	return UnmarshalInode(buf), nil
}

func (fs *FileSystem) writeInode(num int, inode *Inode) error {
	buf := inode.MarshalBinary()
	if n, err := fs.inodes.Write(num, buf); err != nil || n != blockstore.InodeSize {
		return ErrIOFault.WithMessage("writing inode %d", num)
	}
	return nil
}

func (fs *FileSystem) readDirBlock(dir *Inode) ([direntsPerBlock]DirEntry, error) {
	var entries [direntsPerBlock]DirEntry
	buf := make([]byte, blockstore.BlockSize)
	if n, err := fs.blocks.Read(dir.Direct[0], buf); err != nil || n != blockstore.BlockSize {
		return entries, ErrIOFault.WithMessage("reading directory block %d", dir.Direct[0])
	}
	return readDirectoryBlock(buf), nil
}

func (fs *FileSystem) writeDirBlock(dir *Inode, entries [direntsPerBlock]DirEntry) error {
	buf := writeDirectoryBlock(entries)
	if n, err := fs.blocks.Write(dir.Direct[0], buf); err != nil || n != blockstore.BlockSize {
		return ErrIOFault.WithMessage("writing directory block %d", dir.Direct[0])
	}
	return nil
}

// indexBlock is the in-memory form of one 256-entry block-pointer index
// block, used for both the indirect tier and the two levels of the
// double-indirect tier.
type indexBlock [256]blockstore.ID

func readIndexBlock(buf []byte) indexBlock {
	var idx indexBlock
	for i := range idx {
		idx[i] = blockstore.ID(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return idx
}

func (idx indexBlock) marshal() []byte {
	buf := make([]byte, blockstore.BlockSize)
	for i, id := range idx {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(id))
	}
	return buf
}

func (fs *FileSystem) readIndexBlock(id blockstore.ID) (indexBlock, error) {
	buf := make([]byte, blockstore.BlockSize)
	if n, err := fs.blocks.Read(id, buf); err != nil || n != blockstore.BlockSize {
		return indexBlock{}, ErrIOFault.WithMessage("reading index block %d", id)
	}
	return readIndexBlock(buf), nil
}

func (fs *FileSystem) writeIndexBlock(id blockstore.ID, idx indexBlock) error {
	if n, err := fs.blocks.Write(id, idx.marshal()); err != nil || n != blockstore.BlockSize {
		return ErrIOFault.WithMessage("writing index block %d", id)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
// Path resolution

// splitDirBase validates path (non-empty, absolute, no trailing slash,
// basename within MaxNameLength) and splits it into its parent directory
// and basename.
func splitDirBase(path string) (dir, base string, err error) {
	if len(path) < 2 || path[0] != '/' || path[len(path)-1] == '/' {
		return "", "", ErrInvalidArgument.WithMessage("path %q", path)
	}
	idx := strings.LastIndex(path, "/")
	dir = path[:idx]
	if dir == "" {
		dir = "/"
	}
	base = path[idx+1:]
	if len(base) > MaxNameLength {
		return "", "", ErrNameTooLong.WithMessage("%q", base)
	}
	return dir, base, nil
}

// findInDir scans parentNum's directory block for an occupied entry whose
// name matches (prefix-match, see matchesSegment). Returns 0, false if
// nothing matches: 0 is a safe sentinel here since inode 0 is root and can
// never appear as a child entry.
func (fs *FileSystem) findInDir(parentNum int, name string) (int, bool, error) {
	parent, err := fs.readInode(parentNum)
	if err != nil {
		return 0, false, err
	}
	if !parent.IsDir() {
		return 0, false, ErrNotADirectory.WithMessage("inode %d", parentNum)
	}
	entries, err := fs.readDirBlock(parent)
	if err != nil {
		return 0, false, err
	}
	for _, slot := range parent.occupiedSlots() {
		if matchesSegment(entries[slot].Name, name) {
			return int(entries[slot].InodeNumber), true, nil
		}
	}
	return 0, false, nil
}

// resolveDir walks path from the root, tokenizing on '/'. Every segment,
// including the final one, must itself resolve to a directory.
func (fs *FileSystem) resolveDir(path string) (int, error) {
	if path == "" || path == "/" {
		return 0, nil
	}
	if path[0] != '/' {
		return 0, ErrInvalidArgument.WithMessage("path %q must be absolute", path)
	}

	current := 0
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			return 0, ErrInvalidArgument.WithMessage("empty path segment in %q", path)
		}
		childNum, found, err := fs.findInDir(current, seg)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, ErrNotFound.WithMessage("%q", path)
		}
		child, err := fs.readInode(childNum)
		if err != nil {
			return 0, err
		}
		if !child.IsDir() {
			return 0, ErrNotADirectory.WithMessage("%q", path)
		}
		current = childNum
	}
	return current, nil
}

////////////////////////////////////////////////////////////////////////////
// Namespace operations

// Create makes a new regular file or directory at path.
func (fs *FileSystem) Create(path string, kind ObjectType) error {
	if kind != ObjectTypeFile && kind != ObjectTypeDirectory {
		return ErrInvalidArgument.WithMessage("object type %v", kind)
	}
	dir, base, err := splitDirBase(path)
	if err != nil {
		return err
	}

	parentNum, err := fs.resolveDir(dir)
	if err != nil {
		return err
	}
	parent, err := fs.readInode(parentNum)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return ErrNotADirectory.WithMessage("%q", dir)
	}

	if _, found, err := fs.findInDir(parentNum, base); err != nil {
		return err
	} else if found {
		return ErrExists.WithMessage("%q", path)
	}

	slot := parent.firstFreeSlot()
	if slot < 0 {
		return ErrDirectoryFull.WithMessage("%q", dir)
	}

	childNum, err := fs.inodes.SubAllocate()
	if err != nil {
		return ErrInodeTableFull.WithMessage("creating %q", path)
	}

	child := &Inode{Type: kind, Number: uint8(childNum), LinkCount: 1}
	if kind == ObjectTypeDirectory {
		blockID, err := fs.blocks.Allocate()
		if err != nil {
			fs.inodes.SubRelease(childNum)
			return ErrNoSpace.WithMessage("allocating directory block for %q", path)
		}
		child.Direct[0] = blockID
		child.Size = blockstore.BlockSize
		var empty [direntsPerBlock]DirEntry
		if err := fs.writeDirBlock(child, empty); err != nil {
			fs.blocks.Release(blockID)
			fs.inodes.SubRelease(childNum)
			return err
		}
	}
	if err := fs.writeInode(childNum, child); err != nil {
		return err
	}

	entries, err := fs.readDirBlock(parent)
	if err != nil {
		return err
	}
	entries[slot] = DirEntry{Name: base, InodeNumber: uint8(childNum)}
	parent.setSlotOccupied(slot)
	if err := fs.writeDirBlock(parent, entries); err != nil {
		return err
	}
	return fs.writeInode(parentNum, parent)
}

// Open resolves path to an existing regular file and returns a new
// descriptor positioned at byte 0.
func (fs *FileSystem) Open(path string) (int, error) {
	dir, base, err := splitDirBase(path)
	if err != nil {
		return 0, err
	}
	parentNum, err := fs.resolveDir(dir)
	if err != nil {
		return 0, err
	}
	childNum, found, err := fs.findInDir(parentNum, base)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound.WithMessage("%q", path)
	}
	child, err := fs.readInode(childNum)
	if err != nil {
		return 0, err
	}
	if child.IsDir() {
		return 0, ErrIsADirectory.WithMessage("%q", path)
	}

	fd, err := fs.descriptors.SubAllocate()
	if err != nil {
		return 0, ErrTooManyDescriptors.WithMessage("opening %q", path)
	}
	fs.descriptors.Set(fd, descriptorstore.Descriptor{
		InodeNum: uint8(childNum),
		Usage:    descriptorstore.UsageDirect,
	})
	return fd, nil
}

// Close releases an open descriptor.
func (fs *FileSystem) Close(fd int) error {
	if !fs.descriptors.SubTest(fd) {
		return ErrBadDescriptor.WithMessage("fd %d", fd)
	}
	if err := fs.descriptors.SubRelease(fd); err != nil {
		return ErrBadDescriptor.WithMessage("fd %d: %v", fd, err)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
// Block-map allocator

// dataBlockFor is the central on-demand allocator of a file's tiered block
// map: given the inode owning the descriptor and the descriptor's current
// tier/order, it returns the block number storing that logical block,
// allocating intermediate index blocks and the data block itself as needed.
// When allocate is false (reads), an unallocated slot returns block 0
// without allocating anything.
func (fs *FileSystem) dataBlockFor(inodeNum int, d descriptorstore.Descriptor, allocate bool) (blockstore.ID, error) {
	inode, err := fs.readInode(inodeNum)
	if err != nil {
		return 0, err
	}

	switch d.Usage {
	case descriptorstore.UsageDirect:
		order := int(d.Order)
		if inode.Direct[order] != 0 {
			return inode.Direct[order], nil
		}
		if !allocate {
			return 0, nil
		}
		id, err := fs.blocks.Allocate()
		if err != nil {
			return 0, ErrNoSpace.WithMessage("direct block")
		}
		inode.Direct[order] = id
		if err := fs.writeInode(inodeNum, inode); err != nil {
			return 0, err
		}
		return id, nil

	case descriptorstore.UsageIndirect:
		order := int(d.Order)
		if inode.Indirect == 0 {
			if !allocate {
				return 0, nil
			}
			indexID, err := fs.blocks.Allocate()
			if err != nil {
				return 0, ErrNoSpace.WithMessage("indirect index block")
			}
			dataID, err := fs.blocks.Allocate()
			if err != nil {
				fs.blocks.Release(indexID)
				return 0, ErrNoSpace.WithMessage("indirect data block")
			}
			var idx indexBlock
			idx[order] = dataID
			if err := fs.writeIndexBlock(indexID, idx); err != nil {
				return 0, err
			}
			inode.Indirect = indexID
			if err := fs.writeInode(inodeNum, inode); err != nil {
				return 0, err
			}
			return dataID, nil
		}

		idx, err := fs.readIndexBlock(inode.Indirect)
		if err != nil {
			return 0, err
		}
		if idx[order] != 0 {
			return idx[order], nil
		}
		if !allocate {
			return 0, nil
		}
		dataID, err := fs.blocks.Allocate()
		if err != nil {
			return 0, ErrNoSpace.WithMessage("indirect data block")
		}
		idx[order] = dataID
		if err := fs.writeIndexBlock(inode.Indirect, idx); err != nil {
			return 0, err
		}
		return dataID, nil

	case descriptorstore.UsageDoubleIndirect:
		hi := int(d.Order) / indirectBlocks
		lo := int(d.Order) % indirectBlocks

		if inode.DoubleIndirect == 0 {
			if !allocate {
				return 0, nil
			}
			outerID, err := fs.blocks.Allocate()
			if err != nil {
				return 0, ErrNoSpace.WithMessage("double-indirect outer index")
			}
			innerID, err := fs.blocks.Allocate()
			if err != nil {
				fs.blocks.Release(outerID)
				return 0, ErrNoSpace.WithMessage("double-indirect inner index")
			}
			dataID, err := fs.blocks.Allocate()
			if err != nil {
				fs.blocks.Release(outerID)
				fs.blocks.Release(innerID)
				return 0, ErrNoSpace.WithMessage("double-indirect data block")
			}
			var outer, inner indexBlock
			outer[hi] = innerID
			inner[lo] = dataID
			if err := fs.writeIndexBlock(innerID, inner); err != nil {
				return 0, err
			}
			if err := fs.writeIndexBlock(outerID, outer); err != nil {
				return 0, err
			}
			inode.DoubleIndirect = outerID
			if err := fs.writeInode(inodeNum, inode); err != nil {
				return 0, err
			}
			return dataID, nil
		}

		outer, err := fs.readIndexBlock(inode.DoubleIndirect)
		if err != nil {
			return 0, err
		}
		if outer[hi] == 0 {
			if !allocate {
				return 0, nil
			}
			innerID, err := fs.blocks.Allocate()
			if err != nil {
				return 0, ErrNoSpace.WithMessage("double-indirect inner index")
			}
			dataID, err := fs.blocks.Allocate()
			if err != nil {
				fs.blocks.Release(innerID)
				return 0, ErrNoSpace.WithMessage("double-indirect data block")
			}
			var inner indexBlock
			inner[lo] = dataID
			if err := fs.writeIndexBlock(innerID, inner); err != nil {
				return 0, err
			}
			outer[hi] = innerID
			if err := fs.writeIndexBlock(inode.DoubleIndirect, outer); err != nil {
				return 0, err
			}
			return dataID, nil
		}

		inner, err := fs.readIndexBlock(outer[hi])
		if err != nil {
			return 0, err
		}
		if inner[lo] != 0 {
			return inner[lo], nil
		}
		if !allocate {
			return 0, nil
		}
		dataID, err := fs.blocks.Allocate()
		if err != nil {
			return 0, ErrNoSpace.WithMessage("double-indirect data block")
		}
		inner[lo] = dataID
		if err := fs.writeIndexBlock(outer[hi], inner); err != nil {
			return 0, err
		}
		return dataID, nil
	}

	return 0, ErrInvalidArgument.WithMessage("unknown descriptor usage %d", d.Usage)
}

////////////////////////////////////////////////////////////////////////////
// Read / Write / Seek

// Write transfers bytes from src into the file at fd's current position,
// extending the file and allocating blocks as needed. It returns the number
// of bytes actually transferred, which is less than len(src) if the block
// store ran out of space partway through.
func (fs *FileSystem) Write(fd int, src []byte) (int, error) {
	if !fs.descriptors.SubTest(fd) {
		return 0, ErrBadDescriptor.WithMessage("fd %d", fd)
	}
	desc := fs.descriptors.Get(fd)

	inode, err := fs.readInode(int(desc.InodeNum))
	if err != nil {
		return 0, err
	}
	if inode.IsDir() {
		return 0, ErrIsADirectory.WithMessage("fd %d", fd)
	}

	startPos := descriptorPosition(desc)
	written := 0
	for written < len(src) {
		blockID, err := fs.dataBlockFor(int(desc.InodeNum), desc, true)
		if err != nil || blockID == 0 {
			break
		}
		n := blockstore.BlockSize - int(desc.Offset)
		if remaining := len(src) - written; n > remaining {
			n = remaining
		}
		if wrote, err := fs.blocks.NWrite(blockID, int(desc.Offset), src[written:written+n], n); err != nil || wrote != n {
			break
		}
		written += n
		desc.Offset += uint16(n)
		if int(desc.Offset) == blockstore.BlockSize {
			desc = advanceCursor(desc)
		}
	}
	fs.descriptors.Set(fd, desc)

	if endPos := startPos + int64(written); endPos > int64(inode.Size) {
		inode, err := fs.readInode(int(desc.InodeNum))
		if err != nil {
			return written, err
		}
		inode.Size = uint32(endPos)
		if err := fs.writeInode(int(desc.InodeNum), inode); err != nil {
			return written, err
		}
	}

	return written, nil
}

// Read transfers up to len(dst) bytes from fd's current position, clamped
// to the file's remaining length, and advances the cursor.
func (fs *FileSystem) Read(fd int, dst []byte) (int, error) {
	if !fs.descriptors.SubTest(fd) {
		return 0, ErrBadDescriptor.WithMessage("fd %d", fd)
	}
	desc := fs.descriptors.Get(fd)

	inode, err := fs.readInode(int(desc.InodeNum))
	if err != nil {
		return 0, err
	}
	if inode.IsDir() {
		return 0, ErrIsADirectory.WithMessage("fd %d", fd)
	}

	startPos := descriptorPosition(desc)
	remaining := int64(inode.Size) - startPos
	if remaining < 0 {
		remaining = 0
	}
	toRead := len(dst)
	if int64(toRead) > remaining {
		toRead = int(remaining)
	}

	read := 0
	for read < toRead {
		blockID, err := fs.dataBlockFor(int(desc.InodeNum), desc, false)
		if err != nil || blockID == 0 {
			break
		}
		n := blockstore.BlockSize - int(desc.Offset)
		if left := toRead - read; n > left {
			n = left
		}
		if got, err := fs.blocks.NRead(blockID, int(desc.Offset), dst[read:read+n], n); err != nil || got != n {
			break
		}
		read += n
		desc.Offset += uint16(n)
		if int(desc.Offset) == blockstore.BlockSize {
			desc = advanceCursor(desc)
		}
	}
	fs.descriptors.Set(fd, desc)
	return read, nil
}

// Seek repositions fd's cursor and returns the new absolute position,
// clamped to [0, fileSize].
func (fs *FileSystem) Seek(fd int, offset int64, whence int) (int64, error) {
	if !fs.descriptors.SubTest(fd) {
		return 0, ErrBadDescriptor.WithMessage("fd %d", fd)
	}
	desc := fs.descriptors.Get(fd)

	inode, err := fs.readInode(int(desc.InodeNum))
	if err != nil {
		return 0, err
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = descriptorPosition(desc) + offset
	case io.SeekEnd:
		target = int64(inode.Size) + offset
	default:
		return 0, ErrBadWhence.WithMessage("whence %d", whence)
	}

	if target < 0 {
		target = 0
	}
	if target > int64(inode.Size) {
		target = int64(inode.Size)
	}

	usage, order, off := decomposePosition(target)
	desc.Usage = usage
	desc.Order = order
	desc.Offset = off
	fs.descriptors.Set(fd, desc)
	return target, nil
}

////////////////////////////////////////////////////////////////////////////
// Remove / Move / Link

// releaseFileBlocks frees every data and index block owned by a regular
// file's block map: the direct pointers, the indirect index and its
// children, and the double-indirect outer index, every inner index it
// references, and every leaf each inner index references. Failures are
// aggregated so that one bad release doesn't stop the rest from being
// attempted.
func (fs *FileSystem) releaseFileBlocks(inode *Inode) error {
	var result *multierror.Error

	for _, id := range inode.Direct {
		if id != 0 {
			if err := fs.blocks.Release(id); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	if inode.Indirect != 0 {
		if idx, err := fs.readIndexBlock(inode.Indirect); err != nil {
			result = multierror.Append(result, err)
		} else {
			for _, id := range idx {
				if id != 0 {
					if err := fs.blocks.Release(id); err != nil {
						result = multierror.Append(result, err)
					}
				}
			}
		}
		if err := fs.blocks.Release(inode.Indirect); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if inode.DoubleIndirect != 0 {
		if outer, err := fs.readIndexBlock(inode.DoubleIndirect); err != nil {
			result = multierror.Append(result, err)
		} else {
			for _, innerID := range outer {
				if innerID == 0 {
					continue
				}
				inner, err := fs.readIndexBlock(innerID)
				if err != nil {
					result = multierror.Append(result, err)
					continue
				}
				for _, leafID := range inner {
					if leafID != 0 {
						if err := fs.blocks.Release(leafID); err != nil {
							result = multierror.Append(result, err)
						}
					}
				}
				if err := fs.blocks.Release(innerID); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
		if err := fs.blocks.Release(inode.DoubleIndirect); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// Remove deletes the file or (empty) directory at path. A directory is only
// removable when it has no live entries, or when it has other hard links
// remaining. On a regular file's final removal, every open descriptor
// referencing it is also closed and success is still returned: the source
// this is grounded on closes matching descriptors inside a loop that
// unconditionally returns a failure code after the first iteration, which is
// corrected here rather than replicated.
func (fs *FileSystem) Remove(path string) error {
	if path == "/" {
		return ErrIsRoot.WithMessage("cannot remove root")
	}
	dir, base, err := splitDirBase(path)
	if err != nil {
		return err
	}

	parentNum, err := fs.resolveDir(dir)
	if err != nil {
		return err
	}
	parent, err := fs.readInode(parentNum)
	if err != nil {
		return err
	}
	entries, err := fs.readDirBlock(parent)
	if err != nil {
		return err
	}

	slot := -1
	for _, s := range parent.occupiedSlots() {
		if matchesSegment(entries[s].Name, base) {
			slot = s
			break
		}
	}
	if slot < 0 {
		return ErrNotFound.WithMessage("%q", path)
	}

	targetNum := int(entries[slot].InodeNumber)
	target, err := fs.readInode(targetNum)
	if err != nil {
		return err
	}

	var result *multierror.Error
	fullyRemoved := false

	if target.IsDir() {
		if target.VacantFile != 0 && target.LinkCount <= 1 {
			return ErrNotEmpty.WithMessage("%q", path)
		}
		if target.LinkCount > 1 {
			target.LinkCount--
			if err := fs.writeInode(targetNum, target); err != nil {
				result = multierror.Append(result, err)
			}
		} else {
			if err := fs.blocks.Release(target.Direct[0]); err != nil {
				result = multierror.Append(result, err)
			}
			if err := fs.inodes.SubRelease(targetNum); err != nil {
				result = multierror.Append(result, err)
			}
			fullyRemoved = true
		}
	} else {
		if target.LinkCount > 1 {
			target.LinkCount--
			if err := fs.writeInode(targetNum, target); err != nil {
				result = multierror.Append(result, err)
			}
		} else {
			if err := fs.releaseFileBlocks(target); err != nil {
				result = multierror.Append(result, err)
			}
			if err := fs.inodes.SubRelease(targetNum); err != nil {
				result = multierror.Append(result, err)
			}
			fullyRemoved = true
		}
	}

	clearDirEntry(&entries, slot)
	parent.setSlotVacant(slot)
	if err := fs.writeDirBlock(parent, entries); err != nil {
		result = multierror.Append(result, err)
	}
	if err := fs.writeInode(parentNum, parent); err != nil {
		result = multierror.Append(result, err)
	}

	if fullyRemoved {
		for fd := 0; fd < descriptorstore.Capacity; fd++ {
			if fs.descriptors.SubTest(fd) && fs.descriptors.Get(fd).InodeNum == uint8(targetNum) {
				if err := fs.descriptors.SubRelease(fd); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	}

	return result.ErrorOrNil()
}

// Move renames or relocates src to dst. Neither path may be root, and src
// may not be a path prefix of dst (a directory cannot be moved into
// itself). Open descriptors are unaffected since they reference inode
// numbers, not paths.
func (fs *FileSystem) Move(src, dst string) error {
	if src == "/" || dst == "/" {
		return ErrIsRoot.WithMessage("cannot move root")
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return ErrCycle.WithMessage("%q into %q", src, dst)
	}

	srcDir, srcBase, err := splitDirBase(src)
	if err != nil {
		return err
	}
	dstDir, dstBase, err := splitDirBase(dst)
	if err != nil {
		return err
	}

	srcParentNum, err := fs.resolveDir(srcDir)
	if err != nil {
		return err
	}
	srcParent, err := fs.readInode(srcParentNum)
	if err != nil {
		return err
	}
	srcEntries, err := fs.readDirBlock(srcParent)
	if err != nil {
		return err
	}

	srcSlot := -1
	for _, s := range srcParent.occupiedSlots() {
		if matchesSegment(srcEntries[s].Name, srcBase) {
			srcSlot = s
			break
		}
	}
	if srcSlot < 0 {
		return ErrNotFound.WithMessage("%q", src)
	}
	movedInodeNum := srcEntries[srcSlot].InodeNumber

	dstParentNum, err := fs.resolveDir(dstDir)
	if err != nil {
		return err
	}
	if _, found, err := fs.findInDir(dstParentNum, dstBase); err != nil {
		return err
	} else if found {
		return ErrExists.WithMessage("%q", dst)
	}

	if srcParentNum == dstParentNum {
		srcEntries[srcSlot] = DirEntry{Name: dstBase, InodeNumber: movedInodeNum}
		return fs.writeDirBlock(srcParent, srcEntries)
	}

	dstParent, err := fs.readInode(dstParentNum)
	if err != nil {
		return err
	}
	dstEntries, err := fs.readDirBlock(dstParent)
	if err != nil {
		return err
	}
	dstSlot := dstParent.firstFreeSlot()
	if dstSlot < 0 {
		return ErrDirectoryFull.WithMessage("%q", dstDir)
	}

	dstEntries[dstSlot] = DirEntry{Name: dstBase, InodeNumber: movedInodeNum}
	dstParent.setSlotOccupied(dstSlot)
	clearDirEntry(&srcEntries, srcSlot)
	srcParent.setSlotVacant(srcSlot)

	if err := fs.writeDirBlock(dstParent, dstEntries); err != nil {
		return err
	}
	if err := fs.writeInode(dstParentNum, dstParent); err != nil {
		return err
	}
	if err := fs.writeDirBlock(srcParent, srcEntries); err != nil {
		return err
	}
	return fs.writeInode(srcParentNum, srcParent)
}

// Link creates a new directory entry dst pointing at the same inode as src,
// incrementing its link count. dst may not be root.
func (fs *FileSystem) Link(src, dst string) error {
	if dst == "/" {
		return ErrIsRoot.WithMessage("cannot link to root")
	}
	srcDir, srcBase, err := splitDirBase(src)
	if err != nil {
		return err
	}
	dstDir, dstBase, err := splitDirBase(dst)
	if err != nil {
		return err
	}

	srcParentNum, err := fs.resolveDir(srcDir)
	if err != nil {
		return err
	}
	srcInodeNum, found, err := fs.findInDir(srcParentNum, srcBase)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound.WithMessage("%q", src)
	}

	dstParentNum, err := fs.resolveDir(dstDir)
	if err != nil {
		return err
	}
	if _, found, err := fs.findInDir(dstParentNum, dstBase); err != nil {
		return err
	} else if found {
		return ErrExists.WithMessage("%q", dst)
	}

	dstParent, err := fs.readInode(dstParentNum)
	if err != nil {
		return err
	}
	dstEntries, err := fs.readDirBlock(dstParent)
	if err != nil {
		return err
	}
	dstSlot := dstParent.firstFreeSlot()
	if dstSlot < 0 {
		return ErrDirectoryFull.WithMessage("%q", dstDir)
	}

	srcInode, err := fs.readInode(srcInodeNum)
	if err != nil {
		return err
	}
	if srcInode.LinkCount == 255 {
		return ErrTooManyLinks.WithMessage("%q", src)
	}
	srcInode.LinkCount++

	// Self-link case: dst's parent directory is the same inode being linked.
	// Persist the link-count increment first, then continue mutating the
	// same in-memory record for the occupancy-bit update below, so the
	// second write doesn't clobber the first.
	if srcInodeNum == dstParentNum {
		dstParent = srcInode
	}
	if err := fs.writeInode(srcInodeNum, srcInode); err != nil {
		return err
	}

	dstEntries[dstSlot] = DirEntry{Name: dstBase, InodeNumber: uint8(srcInodeNum)}
	dstParent.setSlotOccupied(dstSlot)
	if err := fs.writeDirBlock(dstParent, dstEntries); err != nil {
		return err
	}
	return fs.writeInode(dstParentNum, dstParent)
}

////////////////////////////////////////////////////////////////////////////
// Directory listing

// ListDir returns the live entries of the directory at path, in slot order,
// up to listDirCap records. The root is reachable as "/" or "".
func (fs *FileSystem) ListDir(path string) ([]DirEntry, error) {
	targetNum, err := fs.resolveDir(path)
	if err != nil {
		return nil, err
	}
	inode, err := fs.readInode(targetNum)
	if err != nil {
		return nil, err
	}
	if !inode.IsDir() {
		return nil, ErrNotADirectory.WithMessage("%q", path)
	}

	entries, err := fs.readDirBlock(inode)
	if err != nil {
		return nil, err
	}

	result := make([]DirEntry, 0, maxDirEntries)
	for _, slot := range inode.occupiedSlots() {
		if len(result) >= listDirCap {
			break
		}
		e := entries[slot]
		child, err := fs.readInode(int(e.InodeNumber))
		if err != nil {
			return result, err
		}
		e.IsDir = child.IsDir()
		result = append(result, e)
	}
	return result, nil
}
