package utils

import (
	"context"
	"errors"
	"io"
)

// DefaultCopyBufferSize is used when CopyWithCtx is given a non-positive size.
const DefaultCopyBufferSize = 32 * 1024

// CopyWithCtx copies src into dst until EOF, checking ctx between chunks.
// Reaching EOF is not an error.
func CopyWithCtx(ctx context.Context, dst io.Writer, src io.Reader, bufSize int) (int64, error) {
	if bufSize <= 0 {
		bufSize = DefaultCopyBufferSize
	}
	buf := make([]byte, bufSize)

	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
			if w < n {
				return total, io.ErrShortWrite
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}
