package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

const copyBufferSize = 64 * 1024

var copyBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, copyBufferSize)
		return &buf
	},
}

// copyResult is what the stream copy reports back. A short copy is not an
// error by itself: callers compare Count against the declared length.
type copyResult struct {
	Count    int64
	OK       bool
	Checksum string
	Err      error
}

// copyStream copies src into dst until src is exhausted, hashing the
// bytes as they pass
func copyStream(dst io.Writer, src io.Reader) copyResult {
	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)

	hash := sha1.New()
	n, err := io.CopyBuffer(dst, io.TeeReader(src, hash), *bufp)

	return copyResult{
		Count:    n,
		OK:       err == nil,
		Checksum: "SHA1:" + hex.EncodeToString(hash.Sum(nil)),
		Err:      err,
	}
}

// streamLength reports the size of the source stream, or -1 when it cannot
// be determined. The stream position is left undefined; callers rewind.
func streamLength(stream io.ReadSeeker) int64 {
	switch s := stream.(type) {
	case interface{ Stat() (os.FileInfo, error) }:
		if fi, err := s.Stat(); err == nil && fi.Mode().IsRegular() {
			return fi.Size()
		}
	case interface{ Size() int64 }:
		return s.Size()
	}

	end, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	return end
}

// rewind moves stream back to its start
func rewind(stream io.ReadSeeker) error {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind upload stream: %w", err)
	}
	return nil
}
