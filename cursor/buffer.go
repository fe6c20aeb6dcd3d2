package cursor

import "github.com/nickyhof/GlobalDB/conn"

// DoubleBuffer holds the previous and next traversal results. Range
// queries fill Next from Prev and then swap the two.
type DoubleBuffer struct {
	Prev conn.Slot
	Next conn.Slot
}

// Swap exchanges the slots without copying their buffers.
func (b *DoubleBuffer) Swap() {
	b.Prev, b.Next = b.Next, b.Prev
}

func (b *DoubleBuffer) Release() {
	b.Prev.Release()
	b.Next.Release()
}

func (b *DoubleBuffer) Released() bool {
	return b.Prev.Released() && b.Next.Released()
}
