// deltawindow.go
//
// Base-object cache for delta chain extraction. Maps recently materialized
// pack entries, keyed by pack identity and byte offset, to their inflated
// bytes, so that several delta chains sharing a base inside the same
// extraction burst do not inflate it repeatedly.

package objstore

import (
	"github.com/dgryski/go-farm"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// windowEntries bounds the cache. Bases are typically small (tree and
	// blob ancestors of the hot tip), so a few thousand entries cover a
	// traversal working set.
	windowEntries = 4096

	// windowMaxObject keeps a single huge object from evicting the whole
	// working set.
	windowMaxObject = 8 << 20
)

// windowKey folds a pack path and an entry offset into the cache key. The
// path is hashed with farmhash; packs never move while a Store is open, so
// the key is stable for the Store's lifetime.
func windowKey(packPath string, offset uint64) uint64 {
	return farm.Hash64([]byte(packPath)) ^ offset
}

// deltaWindow caches inflated plain bases by (pack, offset).
//
// The wrapped lru.Cache is safe for concurrent use, so a deltaWindow may be
// shared freely among goroutines.
type deltaWindow struct {
	entries *lru.Cache[uint64, []byte]
}

func newDeltaWindow() (*deltaWindow, error) {
	cache, err := lru.New[uint64, []byte](windowEntries)
	return &deltaWindow{entries: cache}, err
}

// lookup returns the cached bytes for the entry at offset in packPath.
// Callers must not mutate the returned slice.
func (w *deltaWindow) lookup(packPath string, offset uint64) ([]byte, bool) {
	return w.entries.Get(windowKey(packPath, offset))
}

// add caches buf as the materialized form of the entry at offset in
// packPath. Oversized objects are deliberately skipped.
func (w *deltaWindow) add(packPath string, offset uint64, buf []byte) {
	if len(buf) > windowMaxObject {
		return
	}
	w.entries.Add(windowKey(packPath, offset), buf)
}
