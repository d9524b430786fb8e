//go:build arm

package objstore

import "encoding/binary"

// Uint64 returns the first eight bytes of h as a uint64.
// 32-bit ARM cannot rely on unaligned word loads, so this variant goes
// through encoding/binary instead of an unsafe cast.
func (h Hash) Uint64() uint64 { return binary.LittleEndian.Uint64(h[:8]) }
