package objstore

// ObjectType enumerates the kinds of Git objects that can appear in a pack
// or loose-object store.
//
// The numeric values match the three-bit type codes used in packfile entry
// headers. The zero value, ObjBad, denotes an invalid or unknown object
// type. Value 5 is reserved by the pack format and deliberately has no
// constant; entries carrying it are rejected with ErrUnsupportedObjectType.
type ObjectType byte

const (
	// ObjBad represents an invalid or unspecified object kind.
	ObjBad ObjectType = iota

	// ObjCommit is a regular commit object.
	ObjCommit

	// ObjTree is a directory tree object describing the hierarchy of a commit.
	ObjTree

	// ObjBlob is a file-content blob object.
	ObjBlob

	// ObjTag is an annotated tag object.
	ObjTag

	_ // Reserved by the pack format.

	// ObjOfsDelta is a delta object whose base is addressed by packfile offset.
	ObjOfsDelta

	// ObjRefDelta is a delta object whose base is addressed by object ID.
	ObjRefDelta
)

var typeNames = map[ObjectType]string{
	ObjCommit:   "commit",
	ObjTree:     "tree",
	ObjBlob:     "blob",
	ObjTag:      "tag",
	ObjOfsDelta: "ofs-delta",
	ObjRefDelta: "ref-delta",
}

func (t ObjectType) String() string { return typeNames[t] }

// isPlain reports whether t is one of the four storable object kinds, as
// opposed to the two transport-only delta encodings.
func (t ObjectType) isPlain() bool {
	return t == ObjCommit || t == ObjTree || t == ObjBlob || t == ObjTag
}

// parseTypeName maps the ASCII keyword found in a loose-object header to its
// ObjectType. The bool result is false for anything other than the four
// plain kinds.
func parseTypeName(s string) (ObjectType, bool) {
	switch s {
	case "commit":
		return ObjCommit, true
	case "tree":
		return ObjTree, true
	case "blob":
		return ObjBlob, true
	case "tag":
		return ObjTag, true
	}
	return ObjBad, false
}

// Object is the handle returned by Store.OpenObject.
//
// It describes where an object lives (a loose file or a byte offset inside a
// packfile) and how to materialize it, but holds no object payload itself.
// Packed delta entries carry their fully resolved chain so that extraction
// never has to re-walk pack structures.
//
// An Object owns its underlying file resources (the inflate stream of a
// loose object); callers must Close it when done. Handles for packed objects
// reference the store's memory-mapped packs and their Close is a no-op, but
// calling it unconditionally is the expected usage.
type Object struct {
	// id is the object's SHA-1, copied from the caller's query.
	id Hash

	// typ is the object's plain kind. For packed delta entries this is the
	// resolved kind found at the end of the delta chain.
	typ ObjectType

	// size is the declared inflated size for loose and plain packed
	// objects. It is zero for delta entries until Store.Extract has
	// applied the chain and recorded the reconstructed size.
	size uint64

	// loose is non-nil when the object was found in the loose store.
	loose *looseObject

	// src and entryOff locate a packed object: the pack it lives in and
	// the byte offset of its entry header. slot is the object's position
	// in the pack index tables.
	src      *packSource
	slot     int
	entryOff uint64

	// payloadOff is the first byte of the zlib stream that follows the
	// entry header (and, for deltas, the base reference).
	payloadOff uint64

	// chain is non-nil for deltified packed objects.
	chain *deltaChain
}

// Kind returns the object's plain type (commit, tree, blob, or tag). For
// deltified packed objects this is the type resolved at the end of the
// chain.
func (o *Object) Kind() ObjectType { return o.typ }

// ID returns the object identifier the handle was opened with.
func (o *Object) ID() Hash { return o.id }

// Size returns the declared inflated size of the object. For deltified
// packed objects Size returns 0 until Store.Extract has materialized the
// object, and the reconstructed size afterwards.
func (o *Object) Size() uint64 { return o.size }

// Packed reports whether the object was found inside a packfile rather than
// the loose store.
func (o *Object) Packed() bool { return o.src != nil }

// Close releases the file resources owned by the handle. It is safe to call
// more than once.
func (o *Object) Close() error {
	if o.loose != nil {
		l := o.loose
		o.loose = nil
		return l.Close()
	}
	return nil
}
