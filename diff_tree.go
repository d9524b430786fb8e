package objstore

// DiffTrees walks the directory trees identified by parentOID and childOID
// and calls emit for every file that is new or has changed in the child
// tree.
//
// The algorithm performs a merge-walk over the two sorted entry lists that
// make up each tree object. Insertions and modifications are reported to
// the caller; deletions are ignored (the caller can reconstruct them from
// the parent side if necessary). Sub-trees are descended into, so emit
// always receives file-level changes, never tree objects.
//
// A zero parentOID diffs childOID against the empty tree, reporting every
// file it reaches.
//
// The emit callback receives
//   - path  - the full, slash-separated path of the entry,
//   - old   - the entry's hash in the parent tree (zero if it is new),
//   - new   - the entry's hash in the child tree,
//   - mode  - the mode taken from the child side.
//
// If emit returns a non-nil error the traversal stops immediately and that
// error is propagated.
func (s *Store) DiffTrees(
	parentOID, childOID Hash,
	emit func(path string, oldOID, newOID Hash, mode uint32) error,
) error {
	return walkDiff(s.trees(), parentOID, childOID, "", emit)
}

func walkDiff(
	tc *treeCache,
	parentOID, childOID Hash,
	prefix string,
	emit func(path string, oldOID, newOID Hash, mode uint32) error,
) error {
	pt, err := tc.get(parentOID)
	if err != nil {
		return err
	}
	ct, err := tc.get(childOID)
	if err != nil {
		return err
	}

	pIdx, cIdx := 0, 0
	pEntries, cEntries := pt.sortedEntries, ct.sortedEntries

	for pIdx < len(pEntries) || cIdx < len(cEntries) {
		switch {
		case pIdx == len(pEntries):
			// Parent exhausted: everything left in the child is an
			// insertion.
			if err := walkEntry(tc, prefix, cEntries[cIdx], emit); err != nil {
				return err
			}
			cIdx++

		case cIdx == len(cEntries):
			// Deletions are intentionally ignored.
			pIdx++

		default:
			pEntry, cEntry := pEntries[pIdx], cEntries[cIdx]
			switch {
			case pEntry.Name == cEntry.Name:
				if pEntry.OID != cEntry.OID || pEntry.Mode != cEntry.Mode {
					if pEntry.IsSubtree() && cEntry.IsSubtree() {
						// Both sides are trees - recurse.
						if err := walkDiff(tc, pEntry.OID, cEntry.OID,
							prefix+pEntry.Name+"/", emit); err != nil {
							return err
						}
					} else if cEntry.IsSubtree() {
						// A file replaced by a directory: every file
						// below it is new.
						if err := walkEntry(tc, prefix, cEntry, emit); err != nil {
							return err
						}
					} else {
						if err := emit(prefix+pEntry.Name,
							pEntry.OID, cEntry.OID, cEntry.Mode); err != nil {
							return err
						}
					}
				}
				pIdx, cIdx = pIdx+1, cIdx+1

			case pEntry.Name < cEntry.Name:
				// Deleted in the child - skip.
				pIdx++

			default:
				if err := walkEntry(tc, prefix, cEntries[cIdx], emit); err != nil {
					return err
				}
				cIdx++
			}
		}
	}
	return nil
}

// walkEntry resolves a single inserted tree entry. Sub-trees are diffed
// against the empty tree so callers still receive per-file changes.
func walkEntry(
	tc *treeCache,
	prefix string,
	e TreeEntry,
	emit func(path string, oldOID, newOID Hash, mode uint32) error,
) error {
	if e.IsSubtree() {
		return walkDiff(tc, Hash{}, e.OID, prefix+e.Name+"/", emit)
	}
	return emit(prefix+e.Name, Hash{}, e.OID, e.Mode)
}
