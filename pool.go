package objstore

import (
	"bufio"
	"compress/zlib"
	"io"
	"sync"
)

// zrPool reuses zlib.Reader instances to reduce allocations.
// A fresh one is created on demand the first time New() is hit, because
// there is no exported zero-value constructor for zlib.Reader.
var zrPool = sync.Pool{New: func() any { return nil }}

// brPool reuses bufio.Reader instances so that loose-object header parsing
// does not allocate an 8 KiB buffer per open.
var brPool = sync.Pool{
	New: func() any { return bufio.NewReaderSize(nil, 8<<10) },
}

// getZlibReader obtains a zlib.Reader from the pool, reset to read from src,
// or creates a new one. It returns an error if the zlib stream header is
// invalid.
func getZlibReader(src io.Reader) (io.ReadCloser, error) {
	if v := zrPool.Get(); v != nil {
		if zr, ok := v.(interface {
			Reset(io.Reader, []byte) error
		}); ok {
			if err := zr.Reset(src, nil); err == nil {
				return zr.(io.ReadCloser), nil
			}
		}
		// Could not reset (corrupt stream) - fall through to fresh alloc.
	}
	return zlib.NewReader(src)
}

// putZlibReader returns a zlib.Reader to the pool for reuse.
func putZlibReader(r io.ReadCloser) {
	_ = r.Close()
	zrPool.Put(r)
}

// getBR obtains a bufio.Reader from the pool and resets it to the given
// reader.
func getBR(r io.Reader) *bufio.Reader {
	br := brPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// putBR returns a bufio.Reader to the pool for reuse.
func putBR(br *bufio.Reader) { brPool.Put(br) }
