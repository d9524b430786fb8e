// diff_blob.go - hunk-based blob diff
package objstore

import (
	"bytes"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// AddedHunk represents a contiguous block of added lines in a diff.
// Consecutive insertions are grouped into a single hunk so large additions
// keep their context.
type AddedHunk struct {
	// Lines contains the added lines, trailing newlines stripped.
	Lines [][]byte

	// StartLine is the 1-based line number where the hunk begins in the
	// new version of the file.
	StartLine int
}

// EndLine returns the 1-based line number where the hunk ends in the new
// version of the file.
func (h *AddedHunk) EndLine() int {
	if len(h.Lines) == 0 {
		return h.StartLine
	}
	return h.StartLine + len(h.Lines) - 1
}

// DiffBlobs materializes two blobs and returns the hunks of lines present
// in newOID but not in oldOID. A zero oldOID diffs against the empty blob.
func (s *Store) DiffBlobs(oldOID, newOID Hash) ([]AddedHunk, error) {
	var oldB []byte
	if !oldOID.IsZero() {
		raw, typ, err := s.Get(oldOID)
		if err != nil {
			return nil, err
		}
		if typ != ObjBlob {
			return nil, ErrTypeMismatch
		}
		oldB = raw
	}
	newB, typ, err := s.Get(newOID)
	if err != nil {
		return nil, err
	}
	if typ != ObjBlob {
		return nil, ErrTypeMismatch
	}
	return addedHunks(oldB, newB), nil
}

// addedHunks returns contiguous blocks of lines that exist in newB but not
// in oldB, with their positions in the new file.
//
// It performs a line-oriented diff using the Myers algorithm from
// github.com/hexops/gotextdiff. If the two slices are identical or the diff
// contains no insertions, addedHunks returns nil.
func addedHunks(oldB, newB []byte) []AddedHunk {
	if bytes.Equal(oldB, newB) {
		return nil
	}

	a, b := btostr(oldB), btostr(newB)
	edits := myers.ComputeEdits(span.URIFromPath(""), a, b)
	u := gotextdiff.ToUnified("", "", a, edits)

	if len(u.Hunks) == 0 {
		return nil
	}

	var hunks []AddedHunk
	var current *AddedHunk

	for _, h := range u.Hunks {
		lineNo := h.ToLine // already 1-based

		for _, ln := range h.Lines {
			switch ln.Kind {
			case gotextdiff.Insert:
				text := strings.TrimSuffix(ln.Content, "\n")
				if current == nil {
					current = &AddedHunk{
						StartLine: lineNo,
						Lines:     [][]byte{[]byte(text)},
					}
				} else {
					current.Lines = append(current.Lines, []byte(text))
				}
				lineNo++

			case gotextdiff.Equal, gotextdiff.Delete:
				if current != nil {
					hunks = append(hunks, *current)
					current = nil
				}
				if ln.Kind == gotextdiff.Equal {
					lineNo++
				}
			}
		}

		if current != nil {
			hunks = append(hunks, *current)
			current = nil
		}
	}

	return hunks
}
