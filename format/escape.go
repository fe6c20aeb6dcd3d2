package format

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed encoded string")

const hexDigits = "0123456789ABCDEF"

func shouldEscape(c byte) bool {
	return c < 0x20 || c >= 0x7F || c == '%' || c == '&' || c == '='
}

// Escape percent-escapes the reserved bytes of b.
func Escape(b []byte) string {
	n := 0
	for _, c := range b {
		if shouldEscape(c) {
			n++
		}
	}
	if n == 0 {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b) + 2*n)
	for _, c := range b {
		if shouldEscape(c) {
			sb.WriteByte('%')
			sb.WriteByte(hexDigits[c>>4])
			sb.WriteByte(hexDigits[c&0x0F])
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// Unescape reverses Escape.
func Unescape(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		if i+2 >= len(s) {
			return nil, fmt.Errorf("%w: short escape at %d", ErrMalformed, i)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: bad escape %q", ErrMalformed, s[i:i+3])
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return out, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Pair is one name=value field of an encoded string.
type Pair struct {
	Name  string
	Value []byte
}

// Encode joins pairs as name=value with '&', escaping both sides.
func Encode(pairs []Pair) string {
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(Escape([]byte(p.Name)))
		sb.WriteByte('=')
		sb.WriteString(Escape(p.Value))
	}
	return sb.String()
}

// Decode splits an encoded string back into its pairs.
func Decode(s string) ([]Pair, error) {
	if s == "" {
		return nil, nil
	}

	fields := strings.Split(s, "&")
	pairs := make([]Pair, 0, len(fields))
	for _, field := range fields {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("%w: field %q has no '='", ErrMalformed, field)
		}
		n, err := Unescape(name)
		if err != nil {
			return nil, err
		}
		v, err := Unescape(value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Name: string(n), Value: v})
	}
	return pairs, nil
}
