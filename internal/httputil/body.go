// Package httputil bounds upstream payload reads so a misbehaving provider
// cannot balloon memory or the cache tables.
package httputil

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxResponseBodyBytes caps upstream response bodies to 10MB. Cached
// bodies land in the responses table, so the cap also bounds row size.
const DefaultMaxResponseBodyBytes int64 = 10 << 20

// ErrResponseBodyTooLarge marks a response exceeding the configured cap.
var ErrResponseBodyTooLarge = errors.New("response body exceeds limit")

// ReadLimitedBody drains reader up to maxBytes. A payload over the cap fails
// with ErrResponseBodyTooLarge rather than silently truncating, since a
// partial JSON body would be cached and served as if complete. maxBytes <= 0
// disables the cap.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w (over %d bytes)", ErrResponseBodyTooLarge, maxBytes)
	}
	return body, nil
}
