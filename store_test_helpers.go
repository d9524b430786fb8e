package objstore

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// hashObject computes the object ID of payload as Git does: SHA-1 over
// "<type> <size>\x00" followed by the payload.
func hashObject(typ ObjectType, payload []byte) Hash {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", typ, len(payload))
	h.Write(payload)
	var id Hash
	copy(id[:], h.Sum(nil))
	return id
}

// deflate returns the zlib-compressed form of b.
func deflate(t testing.TB, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// initRepo creates an empty repository skeleton (objects/ plus
// objects/pack/) and returns its root.
func initRepo(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "objects", "pack"), 0o755))
	return dir
}

// writeLooseObject stores payload as a zlib-deflated loose object under
// gitDir and returns its ID.
func writeLooseObject(t testing.TB, gitDir string, typ ObjectType, payload []byte) Hash {
	t.Helper()
	id := hashObject(typ, payload)

	var raw bytes.Buffer
	fmt.Fprintf(&raw, "%s %d\x00", typ, len(payload))
	raw.Write(payload)

	path := loosePath(filepath.Join(gitDir, "objects"), id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, deflate(t, raw.Bytes()), 0o644))
	return id
}

// packEntry describes one object to serialize into a synthetic pack.
//
// For plain entries payload is the object's contents and the ID is derived
// automatically. For delta entries payload is the raw instruction stream,
// the base is named either by slot (ofs-delta) or by baseID (ref-delta),
// and the caller supplies the ID the index should record (the hash of the
// reconstructed object).
type packEntry struct {
	typ     ObjectType
	payload []byte
	base    int  // ofs-delta: slot of the base entry in the same pack
	baseID  Hash // ref-delta: literal base object ID
	id      Hash // recorded ID; derived for plain entries when zero
}

// encodeEntryHeader serializes the variable-length type/size header.
func encodeEntryHeader(typ ObjectType, size uint64) []byte {
	b := byte(typ)<<entryType0Shift | byte(size&entrySize0ValMask)
	size >>= 4
	out := []byte{b}
	for size > 0 {
		out[len(out)-1] |= entrySizeMore
		out = append(out, byte(size&entrySizeValMask))
		size >>= 7
	}
	return out
}

// encodeNegOffset serializes an offset-delta base reference with the
// canonical +1-per-continuation adjustment.
func encodeNegOffset(d uint64) []byte {
	var buf [10]byte
	i := len(buf) - 1
	buf[i] = byte(d & 0x7f)
	for d >>= 7; d > 0; d >>= 7 {
		d--
		i--
		buf[i] = 0x80 | byte(d&0x7f)
	}
	return buf[i:]
}

// encodeDeltaSize serializes one of the two sizes that open a delta stream.
func encodeDeltaSize(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// deltaStream builds an instruction stream from the given opcodes prefixed
// with the base and result sizes.
func deltaStream(baseSize, resultSize uint64, ops ...byte) []byte {
	out := encodeDeltaSize(baseSize)
	out = append(out, encodeDeltaSize(resultSize)...)
	return append(out, ops...)
}

// buildPack serializes entries into packfile bytes, returning the bytes,
// the per-entry header offsets, and the per-entry CRC-32 of the compressed
// windows, plus the resolved entry IDs.
func buildPack(t testing.TB, entries []packEntry) (pack []byte, offsets []uint64, crcs []uint32, ids []Hash) {
	t.Helper()

	var buf bytes.Buffer
	buf.Write(packSignature[:])
	binary.Write(&buf, binary.BigEndian, uint32(packVersion))
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))

	offsets = make([]uint64, len(entries))
	ids = make([]Hash, len(entries))
	var windows [][]byte

	for i, e := range entries {
		off := uint64(buf.Len())
		offsets[i] = off

		var entry bytes.Buffer
		entry.Write(encodeEntryHeader(e.typ, uint64(len(e.payload))))
		switch e.typ {
		case ObjOfsDelta:
			entry.Write(encodeNegOffset(off - offsets[e.base]))
		case ObjRefDelta:
			entry.Write(e.baseID[:])
		}
		entry.Write(deflate(t, e.payload))

		ids[i] = e.id
		if e.id.IsZero() {
			require.True(t, e.typ.isPlain(), "delta entries need an explicit id")
			ids[i] = hashObject(e.typ, e.payload)
		}

		windows = append(windows, entry.Bytes())
		buf.Write(entry.Bytes())
	}

	crcs = make([]uint32, len(entries))
	for i, w := range windows {
		crcs[i] = crc32.ChecksumIEEE(w)
	}

	trailer := sha1.Sum(buf.Bytes())
	buf.Write(trailer[:])
	return buf.Bytes(), offsets, crcs, ids
}

// buildIdx serializes a version-2 pack index for the given objects. The
// trailer is computed with the same chained hash the reader verifies.
func buildIdx(t testing.TB, ids []Hash, offsets []uint64, crcs []uint32, packSHA Hash) []byte {
	t.Helper()
	require.Equal(t, len(ids), len(offsets))
	require.Equal(t, len(ids), len(crcs))

	// Sort the three tables together by ID.
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return ids[order[a]].Compare(ids[order[b]]) < 0
	})

	var buf bytes.Buffer
	buf.Write(idxMagic[:])
	binary.Write(&buf, binary.BigEndian, uint32(2))

	for b := 0; b < fanoutEntries; b++ {
		n := uint32(0)
		for _, i := range order {
			if int(ids[i][0]) <= b {
				n++
			}
		}
		binary.Write(&buf, binary.BigEndian, n)
	}

	for _, i := range order {
		buf.Write(ids[i][:])
	}
	for _, i := range order {
		binary.Write(&buf, binary.BigEndian, crcs[i])
	}

	var large []uint64
	for _, i := range order {
		if offsets[i] <= 0x7fffffff {
			binary.Write(&buf, binary.BigEndian, uint32(offsets[i]))
			continue
		}
		binary.Write(&buf, binary.BigEndian, uint32(largeOffsetFlag|uint32(len(large))))
		large = append(large, offsets[i])
	}
	for _, lo := range large {
		binary.Write(&buf, binary.BigEndian, lo)
	}

	buf.Write(packSHA[:])
	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes()
}

// writePackPair assembles entries into a pack/idx pair under
// gitDir/objects/pack and returns the recorded entry IDs together with the
// two file paths.
func writePackPair(t testing.TB, gitDir string, entries []packEntry) (ids []Hash, packPath, idxPath string) {
	t.Helper()

	pack, offsets, crcs, ids := buildPack(t, entries)
	var packSHA Hash
	copy(packSHA[:], pack[len(pack)-hashSize:])

	packDir := filepath.Join(gitDir, "objects", "pack")
	require.NoError(t, os.MkdirAll(packDir, 0o755))

	base := "pack-" + packSHA.String()
	packPath = filepath.Join(packDir, base+".pack")
	idxPath = filepath.Join(packDir, base+".idx")

	require.NoError(t, os.WriteFile(packPath, pack, 0o644))
	require.NoError(t, os.WriteFile(idxPath, buildIdx(t, ids, offsets, crcs, packSHA), 0o644))
	return ids, packPath, idxPath
}
