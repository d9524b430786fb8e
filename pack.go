package objstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/mmap"
)

const (
	packHeaderSize = 12 // "PACK" + version + object count.
	packVersion    = 2

	// maxEntryHeaderLen caps the variable-length type/size header. Ten
	// bytes already encode a 67-bit size; anything longer cannot describe
	// an object that fits in 64 bits.
	maxEntryHeaderLen = 10

	// maxNegOffsetLen caps the offset-delta base reference for the same
	// reason.
	maxNegOffsetLen = 9
)

// Entry header bit layout: b7 = continuation, b6..b4 = type, b3..b0 = low
// size nibble on the first byte; seven size bits per continuation byte.
const (
	entrySizeMore     = 0x80
	entryType0Mask    = 0x70
	entryType0Shift   = 4
	entrySize0ValMask = 0x0f
	entrySizeValMask  = 0x7f
	deltaOffValMask   = 0x7f
	deltaOffMore      = 0x80
)

var packSignature = [4]byte{'P', 'A', 'C', 'K'}

// packSource pairs one memory-mapped packfile with its validated index
// snapshot.
//
// The mmap handle is stateless (all reads are positioned), so a packSource
// may serve concurrent lookups; the Store closes it when the Store itself is
// closed.
type packSource struct {
	// path is the *.pack file's location, recorded in packed object
	// handles and delta chain links.
	path string

	// r is the read-only memory-mapped view of the packfile.
	r *mmap.ReaderAt

	// idx is the companion index snapshot.
	idx *packIdx
}

// openPackSource opens the *.idx at idxPath together with its companion
// packfile and cross-checks the two: the pack header's object count must
// equal the index fan-out total.
func openPackSource(idxPath string) (*packSource, error) {
	idx, err := openPackIdx(idxPath)
	if err != nil {
		return nil, err
	}

	r, err := mmap.Open(idx.packPath)
	if err != nil {
		return nil, fmt.Errorf("open pack: %w", err)
	}

	ps := &packSource{path: idx.packPath, r: r, idx: idx}
	if err := ps.readHeader(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *packSource) Close() error { return ps.r.Close() }

// readHeader validates the fixed 12-byte packfile header against the
// companion index.
func (ps *packSource) readHeader() error {
	var hdr [packHeaderSize]byte
	if _, err := ps.r.ReadAt(hdr[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s: truncated header", ErrBadPackfile, ps.path)
		}
		return err
	}
	if !bytes.Equal(hdr[:4], packSignature[:]) {
		return fmt.Errorf("%w: %s: bad signature", ErrBadPackfile, ps.path)
	}
	if v := binary.BigEndian.Uint32(hdr[4:8]); v != packVersion {
		return fmt.Errorf("%w: %s: unsupported version %d", ErrBadPackfile, ps.path, v)
	}
	if n := binary.BigEndian.Uint32(hdr[8:12]); n != ps.idx.numObjects() {
		return fmt.Errorf("%w: %s: object count %d disagrees with index (%d)",
			ErrBadPackfile, ps.path, n, ps.idx.numObjects())
	}
	return nil
}

// byteAt reads the single byte at off. A read past the end of the pack is a
// structural error, not plain EOF.
func (ps *packSource) byteAt(off uint64) (byte, error) {
	var b [1]byte
	if _, err := ps.r.ReadAt(b[:], int64(off)); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w: %s: short read at %d", ErrBadPackfile, ps.path, off)
		}
		return 0, err
	}
	return b[0], nil
}

// parseEntryHeader decodes the variable-length type/size header that starts
// every pack entry.
//
// The first byte carries the three-bit type code and the low four size bits;
// each continuation byte contributes seven further size bits, LSB first.
// The reserved type code 5 (and the undefined 0) are rejected with
// ErrUnsupportedObjectType. The returned length lets callers compute the
// payload offset.
func (ps *packSource) parseEntryHeader(off uint64) (typ ObjectType, size uint64, n int, err error) {
	for i := 0; ; i++ {
		if i >= maxEntryHeaderLen {
			return ObjBad, 0, 0, fmt.Errorf("%w: %s: entry header at %d exceeds %d bytes",
				ErrBadPackfile, ps.path, off, maxEntryHeaderLen)
		}
		b, err := ps.byteAt(off + uint64(i))
		if err != nil {
			return ObjBad, 0, 0, err
		}
		if i == 0 {
			typ = ObjectType((b & entryType0Mask) >> entryType0Shift)
			size = uint64(b & entrySize0ValMask)
		} else {
			shift := 4 + 7*(i-1)
			size |= uint64(b&entrySizeValMask) << shift
		}
		if b&entrySizeMore == 0 {
			n = i + 1
			break
		}
	}

	switch typ {
	case ObjCommit, ObjTree, ObjBlob, ObjTag, ObjOfsDelta, ObjRefDelta:
	default:
		return ObjBad, 0, 0, fmt.Errorf("%w: %s: type code %d at offset %d",
			ErrUnsupportedObjectType, ps.path, byte(typ), off)
	}
	return typ, size, n, nil
}

// parseNegativeOffset decodes the base reference of an offset-delta entry:
// a big-endian variable quantity with a continuation bit and a +1 adjustment
// applied for every continuation, the canonical packfile encoding.
func (ps *packSource) parseNegativeOffset(off uint64) (neg uint64, n int, err error) {
	for i := 0; ; i++ {
		if i >= maxNegOffsetLen {
			return 0, 0, fmt.Errorf("%w: %s: delta offset at %d exceeds %d bytes",
				ErrBadPackfile, ps.path, off, maxNegOffsetLen)
		}
		b, err := ps.byteAt(off + uint64(i))
		if err != nil {
			return 0, 0, err
		}
		if i == 0 {
			neg = uint64(b & deltaOffValMask)
		} else {
			neg++
			neg <<= 7
			neg += uint64(b & deltaOffValMask)
		}
		if b&deltaOffMore == 0 {
			n = i + 1
			break
		}
	}
	return neg, n, nil
}

// readBaseID reads the literal 20-byte base object ID of a ref-delta entry.
// The ID is copied out of the pack bytes, never borrowed.
func (ps *packSource) readBaseID(off uint64) (Hash, error) {
	var h Hash
	if _, err := ps.r.ReadAt(h[:], int64(off)); err != nil {
		if errors.Is(err, io.EOF) {
			return Hash{}, fmt.Errorf("%w: %s: short ref-delta base at %d",
				ErrBadPackfile, ps.path, off)
		}
		return Hash{}, err
	}
	return h, nil
}

// inflate decompresses the zlib stream that starts at off and checks the
// result against the size declared in the entry header. The stream carries
// its own end marker, so the section reader is given the rest of the file
// and inflation stops wherever the marker lies.
func (ps *packSource) inflate(off, declaredSize uint64) ([]byte, error) {
	src := io.NewSectionReader(ps.r, int64(off), int64(ps.r.Len())-int64(off))
	zr, err := getZlibReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: offset %d: %v", ErrBadPackfile, ps.path, off, err)
	}
	defer putZlibReader(zr)

	var out bytes.Buffer
	out.Grow(int(declaredSize))
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("%w: %s: offset %d: %v", ErrBadPackfile, ps.path, off, err)
	}
	if uint64(out.Len()) != declaredSize {
		return nil, fmt.Errorf("%w: %s: offset %d: inflated %d bytes, header declares %d",
			ErrBadPackfile, ps.path, off, out.Len(), declaredSize)
	}
	return out.Bytes(), nil
}
