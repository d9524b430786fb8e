// crc.go
//
// CRC-32 verification of packed entries against the checksums recorded in
// the pack index, plus SHA-1 verification of packfile trailers. Both checks
// run over the on-disk (still compressed) bytes, so corruption is caught
// without inflating anything.

package objstore

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
)

// verifyEntryCRC checksums the compressed byte window of the entry that
// starts at entryOff and compares the result with want, the CRC-32 the
// index records for that object.
//
// The entry's end is inferred from the next entry's offset in the sorted
// offset table or, for the final object, from the start of the pack
// trailer. A window that extends into the trailer or collapses to nothing
// indicates a corrupt index and is reported as such.
func verifyEntryCRC(ps *packSource, entryOff uint64, want uint32) error {
	offs := ps.idx.sortedOffsets
	i := sort.Search(len(offs), func(i int) bool { return offs[i] >= entryOff })
	if i >= len(offs) || offs[i] != entryOff {
		return fmt.Errorf("%w: %s: offset %d not in index", ErrBadPackIdx, ps.path, entryOff)
	}

	trailerStart := uint64(ps.r.Len()) - hashSize
	end := trailerStart
	if i+1 < len(offs) {
		end = offs[i+1]
	}
	if end > trailerStart || end <= entryOff {
		return fmt.Errorf("%w: %s: entry window [%d,%d) out of bounds",
			ErrBadPackIdx, ps.path, entryOff, end)
	}

	h := crc32.NewIEEE()
	sec := io.NewSectionReader(ps.r, int64(entryOff), int64(end-entryOff))
	if _, err := io.Copy(h, sec); err != nil {
		return err
	}
	if got := h.Sum32(); got != want {
		return fmt.Errorf("%w: %s: crc mismatch at %d: got %08x want %08x",
			ErrBadPackfile, ps.path, entryOff, got, want)
	}
	return nil
}

// verifyPackTrailer recomputes the SHA-1 over everything before the
// packfile's final 20 bytes and compares it with the recorded trailer. It
// also cross-checks the trailer against the pack hash named by the
// companion index.
func verifyPackTrailer(ps *packSource) error {
	size := ps.r.Len()
	if size < hashSize {
		return fmt.Errorf("%w: %s: too small for trailer", ErrBadPackfile, ps.path)
	}

	trailer := make([]byte, hashSize)
	if _, err := ps.r.ReadAt(trailer, int64(size-hashSize)); err != nil {
		return err
	}

	h := sha1.New()
	if _, err := io.Copy(h, io.NewSectionReader(ps.r, 0, int64(size-hashSize))); err != nil {
		return err
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return fmt.Errorf("%w: %s: trailer checksum mismatch", ErrBadPackfile, ps.path)
	}
	if !bytes.Equal(trailer, ps.idx.packSHA[:]) {
		return fmt.Errorf("%w: %s: trailer disagrees with index pack hash",
			ErrBadPackfile, ps.path)
	}
	return nil
}
