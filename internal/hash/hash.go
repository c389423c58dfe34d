// Package hash computes content identifiers for files.
package hash

import (
	"context"
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"

	"github.com/franz/ordb/internal/util"
)

// Size is the length of a content identifier in hex characters
const Size = 64

const bufferSize = 256 * 1024

// File streams the file at path through BLAKE3 and returns the hex digest.
// Open and read errors are returned unwrapped so callers can record them verbatim.
func File(ctx context.Context, path string) (string, error) {
	f, err := util.RetryableOpen(ctx, path, util.DefaultRetryConfig())
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Reader(ctx, f)
}

// Reader hashes everything read from r, checking ctx between buffers
func Reader(ctx context.Context, r io.Reader) (string, error) {
	h := blake3.New()
	buf := make([]byte, bufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Prefix returns the first n characters of a content identifier
func Prefix(contentHash string, n int) string {
	if len(contentHash) < n {
		return contentHash
	}
	return contentHash[:n]
}
