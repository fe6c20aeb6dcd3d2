package block

import "fmt"

// Block is one decoded element of a stream.
type Block struct {
	Kind Kind
	Type byte
	Data []byte
}

// Decode reads the block at off and returns it together with the offset
// of the following block. The returned offset always moves past the
// header and the declared payload, sentinels included, so a caller can
// resynchronize after an end-of-data or error block.
func Decode(layout Layout, buf []byte, off int) (Block, int, error) {
	size := layout.HeaderSize()
	if off < 0 || off+size > len(buf) {
		return Block{}, len(buf), fmt.Errorf("%w: header at %d needs %d bytes, %d left", ErrTruncated, off, size, len(buf)-max(off, 0))
	}

	h := layout.ParseHeader(buf[off : off+size])
	start := off + size
	next := start + h.Length
	if h.Length < 0 || next > len(buf) {
		return Block{}, len(buf), fmt.Errorf("%w: payload of %d bytes at %d overruns stream", ErrTruncated, h.Length, start)
	}

	return Block{
		Kind: layout.Classify(h),
		Type: h.Type,
		Data: buf[start:next],
	}, next, nil
}

// Decoder walks a block stream.
type Decoder struct {
	layout Layout
	buf    []byte
	off    int
}

func NewDecoder(buf []byte, layout Layout) *Decoder {
	if layout == nil {
		layout = DBXLayout{}
	}
	return &Decoder{layout: layout, buf: buf}
}

// Next decodes the block at the current offset and advances past it.
func (d *Decoder) Next() (Block, error) {
	b, next, err := Decode(d.layout, d.buf, d.off)
	d.off = next
	return b, err
}

// More reports whether unread bytes remain.
func (d *Decoder) More() bool {
	return d.off < len(d.buf)
}

// Offset is the position of the next block.
func (d *Decoder) Offset() int {
	return d.off
}
