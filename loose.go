package objstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// looseHeaderMax bounds the inflated "<type> <size>\x00" prefix. The longest
// legal header is "commit " plus a 20-digit decimal and the NUL.
const looseHeaderMax = 32

// looseObject is an open handle on one object stored as a zlib-compressed
// file under objects/xx/. It owns the file descriptor and the inflate state;
// reads continue the stream immediately after the header NUL.
type looseObject struct {
	path string
	f    *os.File
	zr   io.ReadCloser
	br   *bufio.Reader

	typ  ObjectType
	size uint64
}

// loosePath derives the on-disk location of id below objectsDir: the first
// digest byte in hex names the fan-out directory, the remaining 19 bytes
// name the file.
func loosePath(objectsDir string, id Hash) string {
	hexid := id.String()
	return filepath.Join(objectsDir, hexid[:2], hexid[2:])
}

// openLoose opens the loose object for id and parses its inflated header.
//
// A missing file is ErrObjectNotFound, which the store treats as "fall
// through to the packs". A file that is present but does not inflate, or
// whose header is not "<type> <size>\x00" with one of the four plain type
// keywords, is ErrBadLooseObject. The returned handle's Read continues the
// inflate stream at the first payload byte.
func openLoose(objectsDir string, id Hash) (*looseObject, error) {
	path := loosePath(objectsDir, id)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		return nil, err
	}

	zr, err := getZlibReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrBadLooseObject, path, err)
	}

	lo := &looseObject{path: path, f: f, zr: zr, br: getBR(zr)}
	if err := lo.parseHeader(); err != nil {
		_ = lo.Close()
		return nil, err
	}
	return lo, nil
}

// parseHeader consumes "<type> <ascii-decimal-size>\x00" from the inflate
// stream.
func (lo *looseObject) parseHeader() error {
	var hdr []byte
	for {
		if len(hdr) >= looseHeaderMax {
			return fmt.Errorf("%w: %s: unterminated header", ErrBadLooseObject, lo.path)
		}
		b, err := lo.br.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadLooseObject, lo.path, err)
		}
		if b == 0 {
			break
		}
		hdr = append(hdr, b)
	}

	sp := -1
	for i, b := range hdr {
		if b == ' ' {
			sp = i
			break
		}
	}
	if sp < 0 {
		return fmt.Errorf("%w: %s: no type/size separator", ErrBadLooseObject, lo.path)
	}

	typ, ok := parseTypeName(string(hdr[:sp]))
	if !ok {
		return fmt.Errorf("%w: %s: unknown type %q", ErrBadLooseObject, lo.path, hdr[:sp])
	}
	size, err := strconv.ParseUint(string(hdr[sp+1:]), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s: bad size %q", ErrBadLooseObject, lo.path, hdr[sp+1:])
	}

	lo.typ, lo.size = typ, size
	return nil
}

// Read continues the inflate stream past the header.
func (lo *looseObject) Read(p []byte) (int, error) { return lo.br.Read(p) }

// readAll materializes the payload and checks that the declared size lines
// up with the zlib end marker.
func (lo *looseObject) readAll() ([]byte, error) {
	buf := make([]byte, lo.size)
	if _, err := io.ReadFull(lo.br, buf); err != nil {
		return nil, fmt.Errorf("%w: %s: payload shorter than declared size %d",
			ErrBadLooseObject, lo.path, lo.size)
	}
	// The stream must end exactly where the declared size says it does.
	var one [1]byte
	if n, err := lo.br.Read(one[:]); n != 0 || !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: payload exceeds declared size %d",
			ErrBadLooseObject, lo.path, lo.size)
	}
	return buf, nil
}

// Close releases the inflate state and the underlying file. Safe to call
// more than once.
func (lo *looseObject) Close() error {
	if lo.f == nil {
		return nil
	}
	putBR(lo.br)
	putZlibReader(lo.zr)
	err := lo.f.Close()
	lo.f, lo.zr, lo.br = nil, nil, nil
	return err
}
