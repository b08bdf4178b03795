// Package compression implements the optional symmetric transform applied to
// stored request and response bodies, toggled per upstream client.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ConfigSource resolves the per-client compression toggle. The flag is read
// at call time; rows carry no per-row format marker, so flipping the flag on
// for a client with uncompressed rows requires resetting its table.
type ConfigSource interface {
	CompressionEnabled(client string) bool
}

// DecompressionError is surfaced when an enabled-path payload is not valid
// compressed data. Callers treat the row as a cache miss.
type DecompressionError struct {
	Client string
	Err    error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompression failed for client %q: %v", e.Client, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// Service applies zlib compression to stored bodies when the client's
// compression_enabled flag is set, and is the identity otherwise.
type Service struct {
	source ConfigSource
}

// NewService creates a compression service bound to a config resolver.
func NewService(source ConfigSource) *Service {
	return &Service{source: source}
}

// Enabled reports the current per-client flag.
func (s *Service) Enabled(client string) bool {
	return s.source.CompressionEnabled(client)
}

// Compress returns data unchanged when the client has compression disabled,
// and the zlib-compressed form otherwise. Empty input yields empty output in
// both modes.
func (s *Service) Compress(client string, data []byte) ([]byte, error) {
	if !s.Enabled(client) || len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compress body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress body: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress is the inverse of Compress. When the client has compression
// enabled and the payload is not valid zlib data it returns a
// *DecompressionError.
func (s *Service) Decompress(client string, data []byte) ([]byte, error) {
	if !s.Enabled(client) || len(data) == 0 {
		return data, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Client: client, Err: err}
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecompressionError{Client: client, Err: err}
	}
	return out, nil
}
