// tree_iter.go
//
// Zero-allocation iterator for Git tree objects. Parses one entry at a time
// directly from the raw tree bytes so the whole tree is never materialized.

package objstore

import (
	"bytes"
	"fmt"
	"io"
)

// TreeIter provides a forward-only iterator over the entries of a raw tree
// object.
//
// The iterator keeps a slice pointing into the caller-supplied buffer and
// advances through it in place, so the buffer must stay immutable for the
// iterator's lifetime. Each instance must stay confined to one goroutine.
type TreeIter struct {
	// rest holds the unread portion of the raw tree object.
	rest []byte
}

func newTreeIter(raw []byte) *TreeIter { return &TreeIter{rest: raw} }

// TreeIter returns a streaming iterator over the contents of the tree
// object identified by oid.
func (s *Store) TreeIter(oid Hash) (*TreeIter, error) {
	raw, typ, err := s.Get(oid)
	if err != nil {
		return nil, err
	}
	if typ != ObjTree {
		return nil, ErrTypeMismatch
	}
	return newTreeIter(raw), nil
}

// Next parses and returns the next entry in the raw tree.
//
// When ok is false the iterator is exhausted and err is io.EOF, or the
// input was malformed and err wraps ErrCorruptTree.
func (it *TreeIter) Next() (name string, oid Hash, mode uint32, ok bool, err error) {
	if len(it.rest) == 0 {
		return "", Hash{}, 0, false, io.EOF
	}

	// Minimum possible entry: 1-digit mode, space, 1-char name, NUL, 20
	// hash bytes.
	if len(it.rest) < 24 {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: %d trailing bytes", ErrCorruptTree, len(it.rest))
	}

	sp := bytes.IndexByte(it.rest, ' ')
	if sp < 0 {
		return "", Hash{}, 0, false, fmt.Errorf("%w: no space after mode", ErrCorruptTree)
	}
	for _, b := range it.rest[:sp] {
		if b < '0' || b > '7' {
			return "", Hash{}, 0, false, fmt.Errorf(
				"%w: invalid octal digit %q in mode", ErrCorruptTree, b)
		}
		mode = mode<<3 | uint32(b-'0')
	}
	it.rest = it.rest[sp+1:]

	nul := bytes.IndexByte(it.rest, 0)
	if nul < 0 {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: no null terminator after filename", ErrCorruptTree)
	}
	name = btostr(it.rest[:nul])
	it.rest = it.rest[nul+1:]

	if len(it.rest) < hashSize {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: %d bytes left for object ID, name=%q", ErrCorruptTree, len(it.rest), name)
	}
	copy(oid[:], it.rest[:hashSize])
	it.rest = it.rest[hashSize:]

	return name, oid, mode, true, nil
}
