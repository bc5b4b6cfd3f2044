// Package canonical produces the deterministic JSON encoding that manifests,
// proofs and custody events are hashed over.
//
// The encoding sorts object keys by byte order at every level, keeps array
// order, emits no insignificant whitespace and does not escape HTML. Only
// integral numbers are accepted; fractional quantities must be carried as
// fixed-point strings (see values.Score).
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

// TimeLayout is the only timestamp format allowed inside hashed documents.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// ErrFractionalNumber is returned when a value contains a non-integral number.
var ErrFractionalNumber = errors.New("canonical: fractional numbers are not allowed, use a fixed-point string")

// FormatTime renders t in UTC with microsecond precision.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeLayout, s)
}

// Marshal returns the canonical encoding of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Canonicalize(raw)
}

// Canonicalize re-encodes an arbitrary JSON document canonically.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	if dec.More() {
		return nil, errors.New("canonical: trailing data after document")
	}

	var buf bytes.Buffer
	if err := encode(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Digest returns the SHA-256 of b.
func Digest(b []byte) values.HashValue {
	return values.ComputeHashValue(b)
}

// Hash canonicalizes v and returns its digest together with the canonical bytes.
func Hash(v any) (values.HashValue, []byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return values.HashValue{}, nil, err
	}
	return Digest(b), b, nil
}

func encode(buf *bytes.Buffer, v any) error {
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
		s := val.String()
		if strings.ContainsAny(s, ".eE") {
			return fmt.Errorf("%w: %s", ErrFractionalNumber, s)
		}
		if s == "-0" {
			s = "0"
		}
		buf.WriteString(s)
	case string:
		return encodeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
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
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unexpected type %T", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canonical: encode string: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
