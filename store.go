// Package objstore reads Git objects directly from a repository's object
// database without shelling out to the Git executable.
//
// The store serves the read path only: given a 20-byte object ID it locates
// the object in loose storage (objects/xx/...) or inside any packfile under
// objects/pack/, verifies the structures it touches, resolves offset- and
// ref-delta chains across packs, and materializes the object's bytes.
//
// IMPLEMENTATION:
// Pack indices are read once, checksum-verified, and kept as immutable
// in-memory snapshots; packfiles are memory-mapped and inflated on demand.
// Loose objects are opened lazily per lookup and streamed through a pooled
// zlib inflater. Delta chains are resolved with bounded depth and cycle
// detection, an LRU window of recently materialized bases, and an adaptive
// replacement cache (ARC) of whole objects in front of everything.
//
// The store never writes: a failed lookup aborts the current call and
// nothing else. All methods are safe for concurrent use by multiple
// goroutines once Open has returned.
package objstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	arc "github.com/hashicorp/golang-lru/arc/v2"
	"github.com/sirupsen/logrus"
)

const (
	// defaultMaxDeltaDepth matches Git's own delta chain limit.
	defaultMaxDeltaDepth = 50

	// defaultCacheSize is the ARC entry count, roughly 16K objects.
	defaultCacheSize = 1 << 14
)

// cachedObj pairs a fully materialized object with its kind, so a cache hit
// skips both inflation and type resolution. Immutable once cached.
type cachedObj struct {
	data []byte
	typ  ObjectType
}

// Store provides read-only access to one repository's object database.
//
// A Store snapshots every pack-<sha1>.idx under objects/pack/ at open time
// (first-match-wins lookup order is the sorted directory order, fixed for
// the Store's lifetime) and probes loose storage on demand for each lookup.
type Store struct {
	// gitDir is the repository root handed to Open.
	gitDir string

	// objectsDir is <gitDir>/objects, the root of loose storage.
	objectsDir string

	// packs holds one immutable source per mapped pack, in lookup order.
	packs []*packSource

	// cache holds fully materialized objects keyed by ID.
	cache *arc.ARCCache[Hash, cachedObj]

	// dw caches plain delta bases by pack offset during chain extraction.
	dw *deltaWindow

	// maxDeltaDepth bounds how many delta hops resolution will follow.
	maxDeltaDepth int

	// verifyCRC enables CRC-32 validation of the requested object's own
	// packed entry; delta bases in its chain are not checked.
	verifyCRC bool

	log logrus.FieldLogger

	mu        sync.Mutex
	closed    bool
	treeCache *treeCache
}

// Option configures a Store during Open.
type Option func(*Store)

// WithLogger routes the store's diagnostics through l instead of the logrus
// standard logger. The store logs pack discovery at debug level and
// verification failures at warning level; it never logs instead of
// returning an error.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Store) { s.log = l } }

// WithVerifyCRC enables CRC-32 validation of each extracted packed object's
// own entry against the checksum recorded in its pack index. The entries of
// delta bases further down its chain are not checked. Off by default; the
// extra pass over the compressed bytes costs latency.
func WithVerifyCRC(v bool) Option { return func(s *Store) { s.verifyCRC = v } }

// WithMaxDeltaDepth overrides the maximum number of delta hops followed
// during chain resolution. The default of 50 matches Git's hard limit;
// lower values may reject valid objects from exotic packs.
func WithMaxDeltaDepth(depth int) Option {
	return func(s *Store) {
		if depth > 0 {
			s.maxDeltaDepth = depth
		}
	}
}

// Open prepares read access to the repository rooted at gitDir (for a bare
// repository, the directory that contains "objects").
//
// Every pack-<40 hex>.idx under objects/pack/ is opened, checksum-verified,
// and cross-checked against its companion packfile; a malformed pair fails
// Open outright. A repository with no packs, or no pack directory at all,
// is valid and serves loose objects only.
func Open(gitDir string, opts ...Option) (*Store, error) {
	objectsDir := filepath.Join(gitDir, "objects")
	if _, err := os.Stat(objectsDir); err != nil {
		return nil, err
	}

	s := &Store{
		gitDir:        gitDir,
		objectsDir:    objectsDir,
		maxDeltaDepth: defaultMaxDeltaDepth,
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.cache, err = arc.NewARC[Hash, cachedObj](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create object cache: %w", err)
	}
	s.dw, err = newDeltaWindow()
	if err != nil {
		return nil, fmt.Errorf("create delta window: %w", err)
	}

	packDir := filepath.Join(objectsDir, "pack")
	entries, err := os.ReadDir(packDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil // loose-only repository
		}
		return nil, err
	}

	// os.ReadDir sorts by name; that order is the tie-break when the same
	// ID appears in more than one pack.
	for _, ent := range entries {
		name := ent.Name()
		if !isPackIdxName(name) {
			continue
		}
		ps, err := openPackSource(filepath.Join(packDir, name))
		if err != nil {
			s.closePacks()
			return nil, err
		}
		s.packs = append(s.packs, ps)
		s.log.WithFields(logrus.Fields{
			"pack":    ps.path,
			"objects": ps.idx.numObjects(),
		}).Debug("mapped pack")
	}

	return s, nil
}

// isPackIdxName reports whether name is exactly "pack-<40 hex>.idx".
func isPackIdxName(name string) bool {
	if len(name) != len("pack-")+40+len(".idx") {
		return false
	}
	if name[:5] != "pack-" || name[len(name)-4:] != ".idx" {
		return false
	}
	for _, c := range name[5 : len(name)-4] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Close releases every memory-mapped pack. The store must not be used after
// Close; calling Close more than once is safe.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closePacks()
}

func (s *Store) closePacks() error {
	var firstErr error
	for _, ps := range s.packs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.packs = nil
	return firstErr
}

// findPacked scans the pack list in lookup order and returns the first pack
// containing id, together with the id's index slot.
func (s *Store) findPacked(id Hash) (*packSource, int, bool) {
	for _, ps := range s.packs {
		if slot, ok := ps.idx.findObject(id); ok {
			return ps, slot, true
		}
	}
	return nil, 0, false
}

// OpenObject locates id and returns a handle describing where it lives.
//
// Loose storage is probed first; only a genuinely absent loose file falls
// through to the packs, any other loose failure is returned as is. For a
// packed delta entry the whole chain is resolved here, so the returned
// handle already knows its terminal object kind.
//
// The caller owns the handle and must Close it.
func (s *Store) OpenObject(id Hash) (*Object, error) {
	lo, err := openLoose(s.objectsDir, id)
	if err == nil {
		return &Object{id: id, typ: lo.typ, size: lo.size, loose: lo}, nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}

	ps, slot, ok := s.findPacked(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}

	off, err := ps.idx.objectOffset(slot)
	if err != nil {
		return nil, err
	}
	typ, size, hdrLen, err := ps.parseEntryHeader(off)
	if err != nil {
		return nil, err
	}

	obj := &Object{id: id, src: ps, slot: slot, entryOff: off}
	if typ.isPlain() {
		obj.typ = typ
		obj.size = size
		obj.payloadOff = off + uint64(hdrLen)
		return obj, nil
	}

	chain, err := s.resolveDeltaChain(ps, off, typ, size, hdrLen)
	if err != nil {
		return nil, err
	}
	obj.typ = chain.baseType
	obj.payloadOff = chain.specs[0].payloadOff
	obj.chain = chain
	return obj, nil
}

// Extract materializes the object behind obj.
//
// Plain objects are inflated and checked against their declared size. Delta
// chains are applied from the terminal base outward, each layer checked
// against the sizes declared in its own stream. When CRC verification is
// enabled the packed entry's compressed bytes are checksummed against the
// index first.
//
// The returned slice is a fresh allocation; callers may mutate it.
func (s *Store) Extract(obj *Object) ([]byte, error) {
	if obj.loose != nil {
		return obj.loose.readAll()
	}
	if obj.src == nil {
		return nil, fmt.Errorf("%w: empty object handle", ErrObjectNotFound)
	}

	if s.verifyCRC {
		if err := verifyEntryCRC(obj.src, obj.entryOff, obj.src.idx.crcs[obj.slot]); err != nil {
			s.log.WithField("object", obj.id.String()).Warn("crc verification failed")
			return nil, err
		}
	}

	if obj.chain == nil {
		return obj.src.inflate(obj.payloadOff, obj.size)
	}

	data, err := s.extractChain(obj.chain)
	if err != nil {
		return nil, err
	}
	obj.size = uint64(len(data))
	return data, nil
}

// extractChain applies a resolved delta chain: materialize the terminal
// base, then apply each delta layer from the innermost outward.
func (s *Store) extractChain(chain *deltaChain) ([]byte, error) {
	last := len(chain.specs) - 1
	baseSpec := chain.specs[last]

	base, ok := s.dw.lookup(baseSpec.src.path, baseSpec.entryOff)
	if !ok {
		var err error
		base, err = baseSpec.src.inflate(baseSpec.payloadOff, baseSpec.size)
		if err != nil {
			return nil, err
		}
		s.dw.add(baseSpec.src.path, baseSpec.entryOff, base)
	}

	for i := last - 1; i >= 0; i-- {
		spec := chain.specs[i]
		delta, err := spec.src.inflate(spec.payloadOff, spec.size)
		if err != nil {
			return nil, err
		}
		base, err = applyDelta(base, delta)
		if err != nil {
			return nil, err
		}
	}
	return base, nil
}

// ExtractTemp spools the object's bytes into an unlinked temporary file,
// rewound to the beginning, for callers that stream large blobs instead of
// holding them in memory. The caller must close the file.
func (s *Store) ExtractTemp(obj *Object) (*os.File, error) {
	data, err := s.Extract(obj)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "objstore-*")
	if err != nil {
		return nil, err
	}
	_ = os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// Get returns the fully materialized object identified by id together with
// its kind.
//
// Get fronts OpenObject and Extract with the object cache: a hit skips all
// file access. The returned slice is shared with the cache and must be
// treated as read-only; callers that need to mutate should copy.
func (s *Store) Get(id Hash) ([]byte, ObjectType, error) {
	if c, ok := s.cache.Get(id); ok {
		return c.data, c.typ, nil
	}

	obj, err := s.OpenObject(id)
	if err != nil {
		return nil, ObjBad, err
	}
	defer obj.Close()

	data, err := s.Extract(obj)
	if err != nil {
		return nil, ObjBad, err
	}

	s.cache.Add(id, cachedObj{data: data, typ: obj.typ})
	return data, obj.typ, nil
}

// VerifyPackTrailers recomputes the SHA-1 trailer of every mapped packfile
// and reports the first mismatch. It is an explicit integrity pass; normal
// lookups do not pay for it.
func (s *Store) VerifyPackTrailers() error {
	for _, ps := range s.packs {
		if err := verifyPackTrailer(ps); err != nil {
			s.log.WithField("pack", ps.path).Warn("pack trailer verification failed")
			return err
		}
	}
	return nil
}
