// Package canonical provides the deterministic serialization used for every
// hash and signature in a vault. Independent implementations must produce
// byte-identical output for the same value:
//
//  1. Object keys are sorted by Unicode code point.
//  2. No whitespace between tokens, UTF-8, no BOM.
//  3. Strings use minimal escaping (no HTML escaping).
//  4. Integers never carry a decimal point; floats in the positional range
//     (1e-4 <= |f| < 1e16) always do, and floats outside it use exponent
//     notation, matching the repr behavior of the other ports. Negative zero
//     serializes as -0.0 and is distinct from 0.0.
//  5. NaN and Infinity are rejected, as are strings that are not valid UTF-8.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Marshal returns the canonical byte representation of v.
//
// Maps, slices, json.Number, and Go primitives are encoded directly, so the
// int/float distinction of native Go numbers survives. Other types (structs)
// round-trip through encoding/json first, which collapses whole-number floats
// to integers; callers that need float fidelity must pass maps or json.Number.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalRaw re-canonicalizes JSON source text. Number literals keep their
// original int/float kind, which is required when verifying signatures over
// lines produced by a different implementation.
func MarshalRaw(src []byte) ([]byte, error) {
	v, err := DecodeRaw(src)
	if err != nil {
		return nil, err
	}
	return Marshal(v)
}

// DecodeRaw parses JSON source text into the generic value tree Marshal
// accepts, with numbers as json.Number so their literal kind is preserved.
func DecodeRaw(src []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: parse failed: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonical: trailing data after value")
	}
	return v, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashRaw returns the SHA-256 hex digest of the canonical form of JSON text.
func HashRaw(src []byte) (string, error) {
	b, err := MarshalRaw(src)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func appendValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return appendString(buf, t)
	case json.Number:
		return appendNumberLiteral(buf, t)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
	case float32:
		return appendFloat(buf, float64(t))
	case float64:
		return appendFloat(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendValue(buf, elem); err != nil {
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
			if err := appendString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := appendValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Structs and exotic container types: round-trip through
		// encoding/json so tags are honored, then re-encode generically.
		intermediate, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("canonical: pre-marshal failed: %w", err)
		}
		generic, err := DecodeRaw(intermediate)
		if err != nil {
			return err
		}
		return appendValue(buf, generic)
	}
	return nil
}

// appendNumberLiteral keeps the literal's kind: anything with a fraction or
// exponent is a float, everything else is an integer emitted verbatim.
func appendNumberLiteral(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		buf.WriteString(s)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonical: bad number literal %q: %w", s, err)
	}
	return appendFloat(buf, f)
}

func appendFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: NaN and Infinity are not representable")
	}
	if f == 0 {
		if math.Signbit(f) {
			buf.WriteString("-0.0")
		} else {
			buf.WriteString("0.0")
		}
		return nil
	}
	// Positional notation across the range the other ports print positionally
	// (1e-4 <= |f| < 1e16); exponent notation outside it. Go's shortest-'g'
	// form alone flips to an exponent at 1e6 and would diverge from them.
	abs := math.Abs(f)
	if abs >= 1e-4 && abs < 1e16 {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		buf.WriteString(s)
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// appendString writes s as a JSON string with minimal escaping: quote,
// backslash, and control characters only. No HTML escaping. Invalid UTF-8 is
// rejected rather than silently replaced, since two byte-distinct inputs must
// never canonicalize identically.
func appendString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("canonical: string %q is not valid UTF-8", s)
	}
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}
