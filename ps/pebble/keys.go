package pebble

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/nickyhof/GlobalDB/core"
)

// Keys are a tuple encoding whose byte order is the collation order of
// references in depth-first pre-order:
//
//	global 0x00 { subscript }
//
// A number subscript is 0x01 followed by a sign/exponent byte pair and
// its significant digits; a string subscript is 0x02 followed by its
// bytes with 0x00 escaped as 0x00 0xFF and terminated by 0x00 0x01.
// No encoded subscript is a prefix of another, so a node's key is a
// prefix of the keys of all its descendants.

const (
	tagNumber byte = 0x01
	tagString byte = 0x02

	signNegative byte = 0x7F
	signZero     byte = 0x80
	signPositive byte = 0x81

	// exponentBias centers the decimal exponent of a number in one byte.
	exponentBias = 128
)

var ErrCorruptKey = errors.New("corrupt key")

func encodeGlobal(dst []byte, global string) []byte {
	dst = append(dst, global...)
	return append(dst, 0x00)
}

func encodeRef(ref core.Reference) ([]byte, error) {
	key := encodeGlobal(nil, ref.Global)
	for _, sub := range ref.Keys {
		var err error
		if key, err = encodeSubscript(key, sub); err != nil {
			return nil, err
		}
	}
	return key, nil
}

func encodeSubscript(dst, sub []byte) ([]byte, error) {
	if !core.IsCanonicalNumber(sub) {
		dst = append(dst, tagString)
		for _, c := range sub {
			dst = append(dst, c)
			if c == 0x00 {
				dst = append(dst, 0xFF)
			}
		}
		return append(dst, 0x00, 0x01), nil
	}

	dst = append(dst, tagNumber)
	if string(sub) == "0" {
		return append(dst, signZero), nil
	}

	neg := sub[0] == '-'
	if neg {
		sub = sub[1:]
	}
	digits, exp := significand(sub)
	if exp+exponentBias < 0 || exp+exponentBias > 0xFF {
		return nil, fmt.Errorf("number %s out of range", sub)
	}

	if !neg {
		dst = append(dst, signPositive, byte(exp+exponentBias))
		dst = append(dst, digits...)
		return append(dst, 0x00), nil
	}
	dst = append(dst, signNegative, 0xFF-byte(exp+exponentBias))
	for _, d := range digits {
		dst = append(dst, 0xFF-d)
	}
	return append(dst, 0xFF), nil
}

// significand splits a positive canonical number into its significant
// digits and the decimal exponent: 12.5 -> "125", 2 and .05 -> "5", -1.
func significand(num []byte) ([]byte, int) {
	intPart, frac, _ := bytes.Cut(num, []byte{'.'})
	if len(intPart) > 0 {
		digits := append(append([]byte(nil), intPart...), frac...)
		return bytes.TrimRight(digits, "0"), len(intPart)
	}
	trimmed := bytes.TrimLeft(frac, "0")
	return append([]byte(nil), trimmed...), -(len(frac) - len(trimmed))
}

// decodeSubscript decodes the subscript at the start of b and returns
// it with the number of bytes consumed.
func decodeSubscript(b []byte) ([]byte, int, error) {
	if len(b) == 0 {
		return nil, 0, ErrCorruptKey
	}
	switch b[0] {
	case tagString:
		var sub []byte
		for i := 1; i+1 < len(b); i++ {
			if b[i] != 0x00 {
				sub = append(sub, b[i])
				continue
			}
			switch b[i+1] {
			case 0x01:
				if sub == nil {
					sub = []byte{}
				}
				return sub, i + 2, nil
			case 0xFF:
				sub = append(sub, 0x00)
				i++
			default:
				return nil, 0, ErrCorruptKey
			}
		}
		return nil, 0, ErrCorruptKey
	case tagNumber:
		return decodeNumber(b)
	default:
		return nil, 0, fmt.Errorf("%w: unknown tag %#x", ErrCorruptKey, b[0])
	}
}

func decodeNumber(b []byte) ([]byte, int, error) {
	if len(b) < 2 {
		return nil, 0, ErrCorruptKey
	}
	if b[1] == signZero {
		return []byte("0"), 2, nil
	}
	if len(b) < 3 {
		return nil, 0, ErrCorruptKey
	}

	neg := b[1] == signNegative
	var exp int
	terminator := byte(0x00)
	if neg {
		exp = int(0xFF-b[2]) - exponentBias
		terminator = 0xFF
	} else {
		exp = int(b[2]) - exponentBias
	}

	end := bytes.IndexByte(b[3:], terminator)
	if end < 0 {
		return nil, 0, ErrCorruptKey
	}
	digits := append([]byte(nil), b[3:3+end]...)
	if neg {
		for i, d := range digits {
			digits[i] = 0xFF - d
		}
	}

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	switch {
	case exp <= 0:
		sb.WriteByte('.')
		sb.WriteString(strings.Repeat("0", -exp))
		sb.Write(digits)
	case len(digits) <= exp:
		sb.Write(digits)
		sb.WriteString(strings.Repeat("0", exp-len(digits)))
	default:
		sb.Write(digits[:exp])
		sb.WriteByte('.')
		sb.Write(digits[exp:])
	}
	return []byte(sb.String()), 3 + end + 1, nil
}

// decodeKeys decodes all subscripts following the global prefix.
func decodeKeys(b []byte) ([][]byte, error) {
	var keys [][]byte
	for len(b) > 0 {
		sub, n, err := decodeSubscript(b)
		if err != nil {
			return nil, err
		}
		keys = append(keys, sub)
		b = b[n:]
	}
	return keys, nil
}

// upperBound is the smallest key greater than every key prefixed by key.
func upperBound(key []byte) []byte {
	return append(append([]byte(nil), key...), 0xFF)
}
