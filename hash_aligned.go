//go:build !arm

package objstore

import "unsafe"

// Uint64 returns the first eight bytes of h as an implementation-native
// uint64.
//
// The value is taken verbatim from the underlying array; no byte-order
// conversion is performed. The numeric representation is only meant for
// in-memory shortcuts such as cache keys and must not be persisted or used
// as a portable identifier.
func (h Hash) Uint64() uint64 { return *(*uint64)(unsafe.Pointer(&h[0])) }
