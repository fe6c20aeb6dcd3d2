// Package block decodes the length/tag-prefixed value stream a
// connection returns for SQL rows.
//
// Every block is a fixed-size header followed by a payload. The header
// carries the payload length and a tag; the tag separates ordinary
// values from the end-of-data and error sentinels. The header layout is
// pluggable (see Layout); DBXLayout is the 5-byte layout used by the
// local connection.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrTruncated = errors.New("truncated block stream")

// Kind classifies a decoded block.
type Kind int

const (
	Value Kind = iota
	EndOfData
	Error
)

func (k Kind) String() string {
	switch k {
	case Value:
		return "value"
	case EndOfData:
		return "eod"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Header is the decoded fixed-size prefix of a block.
type Header struct {
	Length int
	Sort   byte
	Type   byte
}

// Layout describes the header of a block stream.
type Layout interface {
	HeaderSize() int
	ParseHeader(hdr []byte) Header
	PutHeader(dst []byte, h Header)
	Classify(h Header) Kind
}

// Sorts and types of DBXLayout.
const (
	SortData   byte = 1
	SortEOD    byte = 9
	SortStatus byte = 10
	SortError  byte = 11

	TypeNone   byte = 0
	TypeString byte = 1
	TypeInt    byte = 4
	TypeDouble byte = 6
)

// DBXLayout is a 4-byte little-endian payload length followed by one
// byte holding sort*20+type.
type DBXLayout struct{}

var _ Layout = DBXLayout{}

func (DBXLayout) HeaderSize() int { return 5 }

func (DBXLayout) ParseHeader(hdr []byte) Header {
	tag := hdr[4]
	return Header{
		Length: int(binary.LittleEndian.Uint32(hdr[:4])),
		Sort:   tag / 20,
		Type:   tag % 20,
	}
}

func (DBXLayout) PutHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[:4], uint32(h.Length))
	dst[4] = h.Sort*20 + h.Type
}

func (DBXLayout) Classify(h Header) Kind {
	switch h.Sort {
	case SortEOD:
		return EndOfData
	case SortError:
		return Error
	default:
		return Value
	}
}
