package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// compress gzips plaintext. The codec is chosen for determinism and
// round-trip fidelity only; the wire protocol never exposes which
// compression algorithm is in use.
func compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("store: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("store: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress reverses compress, yielding the exact plaintext bytes
// that were originally inserted.
func decompress(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("store: decompress: %w", err)
	}
	defer r.Close()
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: decompress: %w", err)
	}
	return plaintext, nil
}
