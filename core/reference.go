package core

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInvalidReference = errors.New("invalid global reference")
	ErrEmptySubscript   = errors.New("empty subscript")
)

// Reference addresses a node of a global: ^Global(Keys[0],Keys[1],...).
type Reference struct {
	Global string   `json:"global"`
	Keys   [][]byte `json:"key,omitempty"`
}

// Validate reports whether ref can address a stored node: a valid
// global name and no empty subscripts.
func (ref Reference) Validate() error {
	if !validGlobalName(ref.Global) {
		return fmt.Errorf("%w: bad global name %q", ErrInvalidReference, ref.Global)
	}
	for i, k := range ref.Keys {
		if len(k) == 0 {
			return fmt.Errorf("%w at position %d of %s", ErrEmptySubscript, i+1, ref)
		}
	}
	return nil
}

// TrimEmpty drops trailing empty subscripts.
func (ref Reference) TrimEmpty() Reference {
	n := len(ref.Keys)
	for n > 0 && len(ref.Keys[n-1]) == 0 {
		n--
	}
	return Reference{Global: ref.Global, Keys: ref.Keys[:n]}
}

// Keys converts string subscripts into key parts.
func Keys(subscripts ...string) [][]byte {
	keys := make([][]byte, len(subscripts))
	for i, s := range subscripts {
		keys[i] = []byte(s)
	}
	return keys
}

// Clone returns a deep copy of the reference.
func (ref Reference) Clone() Reference {
	keys := make([][]byte, len(ref.Keys))
	for i, k := range ref.Keys {
		keys[i] = append([]byte(nil), k...)
	}
	return Reference{Global: ref.Global, Keys: keys}
}

// Parent returns the reference one level up. The parent of a
// top-level reference is the global itself.
func (ref Reference) Parent() Reference {
	if len(ref.Keys) == 0 {
		return ref
	}
	return Reference{Global: ref.Global, Keys: ref.Keys[:len(ref.Keys)-1]}
}

// Child returns a reference with key appended.
func (ref Reference) Child(key []byte) Reference {
	keys := make([][]byte, len(ref.Keys), len(ref.Keys)+1)
	copy(keys, ref.Keys)
	return Reference{Global: ref.Global, Keys: append(keys, key)}
}

// Last returns the last subscript, or nil for a bare global.
func (ref Reference) Last() []byte {
	if len(ref.Keys) == 0 {
		return nil
	}
	return ref.Keys[len(ref.Keys)-1]
}

// Equal reports whether both references address the same node.
func (ref Reference) Equal(other Reference) bool {
	if ref.Global != other.Global || len(ref.Keys) != len(other.Keys) {
		return false
	}
	for i := range ref.Keys {
		if !bytes.Equal(ref.Keys[i], other.Keys[i]) {
			return false
		}
	}
	return true
}

func (ref Reference) String() string {
	var sb strings.Builder
	sb.WriteByte('^')
	sb.WriteString(ref.Global)
	if len(ref.Keys) == 0 {
		return sb.String()
	}
	sb.WriteByte('(')
	for i, k := range ref.Keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		if IsCanonicalNumber(k) {
			sb.Write(k)
			continue
		}
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(string(k), `"`, `""`))
		sb.WriteByte('"')
	}
	sb.WriteByte(')')
	return sb.String()
}

// ParseReference parses ^Name, ^Name("a",1,...) or the same without
// the leading caret. String subscripts are double quoted with ""
// standing for a literal quote; numeric subscripts are bare.
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "^")

	open := strings.IndexByte(s, '(')
	name := s
	if open >= 0 {
		name = s[:open]
	}
	if !validGlobalName(name) {
		return Reference{}, fmt.Errorf("%w: bad global name %q", ErrInvalidReference, name)
	}

	ref := Reference{Global: name}
	if open < 0 {
		return ref, nil
	}
	if !strings.HasSuffix(s, ")") {
		return Reference{}, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidReference)
	}

	body := s[open+1 : len(s)-1]
	i := 0
	for i < len(body) {
		if body[i] == '"' {
			var sb strings.Builder
			i++
			closed := false
			for i < len(body) {
				if body[i] == '"' {
					if i+1 < len(body) && body[i+1] == '"' {
						sb.WriteByte('"')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(body[i])
				i++
			}
			if !closed {
				return Reference{}, fmt.Errorf("%w: unterminated string subscript", ErrInvalidReference)
			}
			ref.Keys = append(ref.Keys, []byte(sb.String()))
		} else {
			end := strings.IndexByte(body[i:], ',')
			if end < 0 {
				end = len(body) - i
			}
			literal := strings.TrimSpace(body[i : i+end])
			if !IsCanonicalNumber([]byte(literal)) {
				return Reference{}, fmt.Errorf("%w: subscript %q is neither quoted nor a canonical number", ErrInvalidReference, literal)
			}
			ref.Keys = append(ref.Keys, []byte(literal))
			i += end
		}

		for i < len(body) && body[i] == ' ' {
			i++
		}
		if i < len(body) {
			if body[i] != ',' {
				return Reference{}, fmt.Errorf("%w: expected ',' at %q", ErrInvalidReference, body[i:])
			}
			i++
			for i < len(body) && body[i] == ' ' {
				i++
			}
			if i == len(body) {
				return Reference{}, fmt.Errorf("%w: trailing comma", ErrInvalidReference)
			}
		}
	}

	return ref, nil
}

func validGlobalName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		case c == '%' && i == 0:
		default:
			return false
		}
	}
	return true
}

// IsCanonicalNumber reports whether b is a number in M canonical form:
// no leading zeros, no trailing fractional zeros, no "+", no "-0" and
// ".5" rather than "0.5".
func IsCanonicalNumber(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	neg := b[0] == '-'
	if neg {
		b = b[1:]
		if len(b) == 0 {
			return false
		}
	}

	intPart, frac, hasDot := bytes.Cut(b, []byte{'.'})
	if !allDigits(intPart) || !allDigits(frac) {
		return false
	}
	if hasDot {
		if len(frac) == 0 || frac[len(frac)-1] == '0' {
			return false
		}
		return len(intPart) == 0 || intPart[0] != '0'
	}
	if len(intPart) == 0 {
		return false
	}
	if intPart[0] == '0' {
		return len(intPart) == 1 && !neg
	}
	return true
}

// allDigits accepts an empty slice: ".5" has no integer part.
func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Collate orders two subscripts: canonical numbers before strings,
// numbers numerically, strings bytewise.
func Collate(a, b []byte) int {
	an, bn := IsCanonicalNumber(a), IsCanonicalNumber(b)
	switch {
	case an && bn:
		return numberOf(a).Cmp(numberOf(b))
	case an:
		return -1
	case bn:
		return 1
	default:
		return bytes.Compare(a, b)
	}
}

func numberOf(b []byte) *big.Rat {
	s := string(b)
	if strings.HasPrefix(s, "-.") {
		s = "-0" + s[1:]
	} else if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	r, _ := new(big.Rat).SetString(s)
	return r
}
