package objstore

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/exp/mmap"
)

// Pack-index (v2) format constants.
//
// These byte counts describe the fixed-width sections of a *.idx file. The
// parser relies on them to compute exact region offsets inside the
// memory-mapped file. Do not modify these values unless the on-disk format
// itself changes.
const (
	idxHeaderSize = 8                 // 4-byte magic + 4-byte version.
	fanoutEntries = 256               // One entry per possible first SHA-1 byte.
	fanoutSize    = fanoutEntries * 4 // 256 x uint32.

	hashSize     = 20 // Full SHA-1 digest.
	crcSize      = 4  // Big-endian CRC-32 value per object.
	offsetSize   = 4  // 31-bit offset or MSB-set index into the large table.
	largeOffSize = 8  // 64-bit offset for objects beyond the 2 GiB boundary.

	idxTrailerSize = hashSize * 2 // Packfile SHA-1 followed by index SHA-1.

	// largeOffsetFlag marks a 32-bit offset slot whose low 31 bits index
	// the large-offset table instead of holding a byte offset.
	largeOffsetFlag = 0x80000000

	// largeOffsetThreshold is the packfile size above which an index
	// carries the optional 64-bit offset region.
	largeOffsetThreshold = 1 << 31
)

// idxMagic identifies a version-2 pack index ("\377tOc").
var idxMagic = [4]byte{0xff, 0x74, 0x4f, 0x63}

// packIdx is an immutable, fully-validated snapshot of one pack-index file.
//
// openPackIdx reads the entire *.idx sequentially, feeding every byte before
// the final trailer hash into a running SHA-1 and comparing the result
// against the recorded index checksum, so a packIdx that exists at all is
// known to be internally consistent. All fields are read-only after open;
// the struct may be shared across goroutines without synchronization.
type packIdx struct {
	// path is the location of the *.idx file this snapshot was read from.
	path string

	// packPath is the companion *.pack, derived by suffix substitution.
	packPath string

	// packSize is the companion packfile's size as reported by stat. It
	// decides whether the optional large-offset region is present.
	packSize int64

	// fanout is the 256-entry cumulative count table. fanout[b] is the
	// number of objects whose first digest byte is <= b; fanout[255] is
	// the total object count.
	fanout [fanoutEntries]uint32

	// oidTable lists all object IDs in strictly ascending byte order.
	oidTable []Hash

	// crcs runs parallel to oidTable and records the CRC-32 of each
	// object's on-disk (compressed) representation.
	crcs []uint32

	// offsets runs parallel to oidTable. A slot with the high bit set
	// indexes largeOffsets through its low 31 bits; otherwise the slot is
	// the byte offset itself.
	offsets []uint32

	// largeOffsets holds 64-bit offsets for objects beyond the 2 GiB
	// mark. It is nil when packSize is below the threshold.
	largeOffsets []uint64

	// packSHA is the companion packfile's SHA-1 as recorded in the
	// trailer. It names the pack the index belongs to.
	packSHA Hash

	// sortedOffsets lists every resolved entry offset in ascending order.
	// CRC verification uses consecutive pairs as object window bounds.
	sortedOffsets []uint64
}

// openPackIdx reads, validates, and snapshots the pack index at path.
//
// Validation follows the order fixed by the on-disk format: the companion
// packfile must stat (its size decides whether the large-offset region
// exists), the magic and version must identify an index v2, the fan-out
// table must be monotonically non-decreasing, the object ID table must be
// strictly ascending, and the running SHA-1 of everything before the final
// trailer hash must equal that hash. Any short read or failed check aborts
// the open with a typed error and no partial structure escapes.
func openPackIdx(path string) (*packIdx, error) {
	packPath := strings.TrimSuffix(path, ".idx") + ".pack"
	st, err := os.Stat(packPath)
	if err != nil {
		return nil, fmt.Errorf("stat companion pack: %w", err)
	}

	ix, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer ix.Close()

	size := int64(ix.Len())
	if size < idxHeaderSize+fanoutSize+idxTrailerSize {
		return nil, fmt.Errorf("%w: %s: truncated (%d bytes)", ErrBadPackIdx, path, size)
	}

	p := &packIdx{path: path, packPath: packPath, packSize: st.Size()}

	// The index checksum is chained: every region is hashed in file order
	// as it is read, and the trailer's own packfile hash is folded in
	// before finalizing.
	h := sha1.New()
	pos := int64(0)
	region := func(n int64) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := ix.ReadAt(buf, pos); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %s: short read at %d", ErrBadPackIdx, path, pos)
			}
			return nil, err
		}
		pos += n
		h.Write(buf)
		return buf, nil
	}

	hdr, err := region(idxHeaderSize)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[:4], idxMagic[:]) {
		return nil, fmt.Errorf("%w: %s: bad magic", ErrBadPackIdx, path)
	}
	if v := binary.BigEndian.Uint32(hdr[4:]); v != 2 {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrBadPackIdx, path, v)
	}

	fan, err := region(fanoutSize)
	if err != nil {
		return nil, err
	}
	for i := range fanoutEntries {
		p.fanout[i] = binary.BigEndian.Uint32(fan[i*4:])
		if i > 0 && p.fanout[i] < p.fanout[i-1] {
			return nil, fmt.Errorf("%w: %s: non-monotonic fanout at %#x", ErrBadPackIdx, path, i)
		}
	}

	nobj := int64(p.fanout[fanoutEntries-1])

	// Do the fixed-width tables we are about to read actually fit inside
	// the file? The optional large-offset region is sized later, once the
	// offset table says how many slots reference it.
	minSize := pos + nobj*(hashSize+crcSize+offsetSize) + idxTrailerSize
	if size < minSize {
		return nil, fmt.Errorf("%w: %s: %d objects do not fit in %d bytes",
			ErrBadPackIdx, path, nobj, size)
	}

	oidData, err := region(nobj * hashSize)
	if err != nil {
		return nil, err
	}
	p.oidTable = make([]Hash, nobj)
	for i := range p.oidTable {
		copy(p.oidTable[i][:], oidData[i*hashSize:])
		if i > 0 && p.oidTable[i-1].Compare(p.oidTable[i]) >= 0 {
			return nil, fmt.Errorf("%w: %s: object IDs not strictly ascending at %d",
				ErrBadPackIdx, path, i)
		}
	}

	crcData, err := region(nobj * crcSize)
	if err != nil {
		return nil, err
	}
	p.crcs = make([]uint32, nobj)
	for i := range p.crcs {
		p.crcs[i] = binary.BigEndian.Uint32(crcData[i*crcSize:])
	}

	offData, err := region(nobj * offsetSize)
	if err != nil {
		return nil, err
	}
	p.offsets = make([]uint32, nobj)
	for i := range p.offsets {
		p.offsets[i] = binary.BigEndian.Uint32(offData[i*offsetSize:])
	}

	// The 64-bit offset region exists only when the companion pack is
	// larger than 2 GiB; its presence is decided by stat, not by file
	// arithmetic. It holds one entry per offset slot that carries the
	// large-offset flag.
	if p.packSize > largeOffsetThreshold {
		nlarge := int64(0)
		for _, off := range p.offsets {
			if off&largeOffsetFlag != 0 {
				nlarge++
			}
		}
		largeData, err := region(nlarge * largeOffSize)
		if err != nil {
			return nil, err
		}
		p.largeOffsets = make([]uint64, nlarge)
		for i := range p.largeOffsets {
			p.largeOffsets[i] = binary.BigEndian.Uint64(largeData[i*largeOffSize:])
		}
	}

	trailer := make([]byte, idxTrailerSize)
	if _, err := ix.ReadAt(trailer, pos); err != nil {
		return nil, fmt.Errorf("%w: %s: short trailer", ErrBadPackIdx, path)
	}
	copy(p.packSHA[:], trailer[:hashSize])

	h.Write(trailer[:hashSize])
	if !bytes.Equal(h.Sum(nil), trailer[hashSize:]) {
		return nil, fmt.Errorf("%w: %s", ErrBadPackIdxChecksum, path)
	}

	p.sortedOffsets = make([]uint64, nobj)
	for i := range p.sortedOffsets {
		off, err := p.objectOffset(i)
		if err != nil {
			return nil, err
		}
		p.sortedOffsets[i] = off
	}
	slices.Sort(p.sortedOffsets)

	return p, nil
}

// numObjects returns the object count recorded in the fan-out table.
func (p *packIdx) numObjects() uint32 { return p.fanout[fanoutEntries-1] }

// findObject returns the table slot of hash, or false when the pack does not
// contain it.
//
// The fan-out table narrows the search to objects whose first digest byte
// matches hash[0]; within that window a binary search over the sorted ID
// slice finds the exact entry. The receiver is immutable, so the method is
// safe for concurrent callers.
func (p *packIdx) findObject(hash Hash) (int, bool) {
	first := hash[0]

	start := uint32(0)
	if first > 0 {
		start = p.fanout[first-1]
	}
	end := p.fanout[first]
	if start == end {
		return 0, false // bucket empty
	}

	rel, ok := slices.BinarySearchFunc(
		p.oidTable[start:end],
		hash,
		func(a, b Hash) int { return bytes.Compare(a[:], b[:]) },
	)
	if !ok {
		return 0, false
	}
	return int(start) + rel, true
}

// objectOffset resolves the byte offset of the object in table slot i.
//
// A slot with the high bit set addresses the large-offset table through its
// low 31 bits; the derived index must be in range and the table must exist,
// otherwise the index is corrupt.
func (p *packIdx) objectOffset(i int) (uint64, error) {
	off := p.offsets[i]
	if off&largeOffsetFlag == 0 {
		return uint64(off), nil
	}
	li := off & ^uint32(largeOffsetFlag)
	if p.largeOffsets == nil || uint64(li) >= uint64(len(p.largeOffsets)) {
		return 0, fmt.Errorf("%w: %s: large offset slot %d out of range",
			ErrBadPackIdx, p.path, li)
	}
	return p.largeOffsets[li], nil
}
