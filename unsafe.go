package objstore

import "unsafe"

// zero-copy []byte to string (safe as long as the backing slice is never
// mutated afterwards).
func btostr(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
