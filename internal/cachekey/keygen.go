// Package cachekey produces the deterministic request fingerprint used as
// the cache key: a SHA-256 digest over a canonical serialization of
// (client, method, version, endpoint, params).
package cachekey

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Generator hashes request fingerprints. The zero value is ready to use.
type Generator struct{}

// Generate returns a 64-char lowercase hex digest. Semantically equivalent
// params (same keys and values, any key order) yield identical keys; array
// order is significant.
func (Generator) Generate(client, endpoint string, params map[string]any, method, version string) string {
	canon, err := Canonicalize(params)
	if err != nil {
		// Unserializable params cannot be fingerprinted stably; fall back to
		// the non-canonical form so the key is still deterministic per call
		// site.
		canon = []byte(fmt.Sprintf("%v", params))
	}

	payload := strings.Join([]string{client, method, version, endpoint, string(canon)}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Canonicalize renders v as compact JSON with all mapping keys recursively
// sorted. Numbers keep their source text, so 1 and 1.0 stay distinct.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		escaped, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(escaped)
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			escaped, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(escaped)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unexpected type %T in decoded JSON tree", v)
	}
	return nil
}
