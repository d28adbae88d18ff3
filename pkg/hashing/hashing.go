// Package hashing implements the engine's deterministic, cross-language-stable
// content hashing: canonical JSON serialisation (sorted keys, no incidental
// whitespace, UTF-8) followed by sha256 hex-encoding (spec §9).
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// StableJSON serialises v into canonical JSON: object keys sorted
// lexicographically at every nesting level, no extra whitespace. It is safe
// to hash the result directly; two semantically equal values always produce
// byte-identical output regardless of map iteration order or struct field
// order.
func StableJSON(v interface{}) ([]byte, error) {
	// Round-trip through interface{} so struct fields (which Go's json
	// package emits in declaration order; it already sorts map keys) become
	// map keys that canonicalize re-marshals in sorted order.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hashing: marshal: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("hashing: decode for canonicalization: %w", err)
	}

	var buf bytes.Buffer
	if err := canonicalize(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalize(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("hashing: encode string: %w", err)
		}
		buf.Write(encoded)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := canonicalize(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyEncoded, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("hashing: encode key: %w", err)
			}
			buf.Write(keyEncoded)
			buf.WriteByte(':')
			if err := canonicalize(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("hashing: unsupported type %T", v)
	}
	return nil
}

// Sha256Hex returns the lowercase hex-encoded sha256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashValue canonicalises v and returns its sha256 hex digest. This is the
// hash used for InputEvent.hash: sha256(stable-serialisation(value)).
func HashValue(v interface{}) (string, error) {
	raw, err := StableJSON(v)
	if err != nil {
		return "", err
	}
	return Sha256Hex(raw), nil
}

// HashBytes returns the sha256 hex digest of raw bytes directly (used for
// blob content hashing, which never goes through JSON).
func HashBytes(data []byte) string {
	return Sha256Hex(data)
}
