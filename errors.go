package objstore

import "errors"

// Sentinel errors for every failure class the read path can produce.
//
// Callers are expected to test with errors.Is; most call sites wrap these
// with fmt.Errorf("…: %w", …) to attach the pack path, offset, or object ID
// involved. I/O failures from the operating system are propagated unchanged
// (wrapped, never replaced) so that the original *os.PathError remains
// reachable through the chain.
var (
	// ErrObjectNotFound reports that an object exists neither as a loose
	// file nor in any pack known to the store.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBadPackIdx reports a structurally malformed pack index: wrong
	// magic or version, a short read, a non-monotonic fan-out table,
	// unordered object IDs, or an out-of-range large-offset slot.
	ErrBadPackIdx = errors.New("bad pack index")

	// ErrBadPackIdxChecksum reports that the SHA-1 recorded in the index
	// trailer does not match the hash of the preceding index bytes.
	ErrBadPackIdxChecksum = errors.New("pack index checksum mismatch")

	// ErrBadPackfile reports a malformed packfile: bad signature, an
	// object count that disagrees with the companion index, a truncated
	// entry header, or a delta base offset outside the file.
	ErrBadPackfile = errors.New("bad packfile")

	// ErrBadDelta reports a delta stream that is inconsistent with its
	// base or its own declared sizes.
	ErrBadDelta = errors.New("bad delta")

	// ErrBadLooseObject reports a loose object whose inflated header does
	// not parse as "<type> <size>\x00".
	ErrBadLooseObject = errors.New("bad loose object")

	// ErrUnsupportedObjectType reports an entry whose type code is the
	// reserved value 5 or otherwise undefined.
	ErrUnsupportedObjectType = errors.New("unsupported object type")

	// ErrDeltaChainTooDeep reports that delta resolution exceeded the
	// configured maximum chain depth.
	ErrDeltaChainTooDeep = errors.New("delta chain too deep")
)
