package format

import (
	"strconv"

	"github.com/nickyhof/GlobalDB/core"
)

// Formatter renders traversal steps in one output format.
type Formatter struct {
	Format core.Format
}

// KeyStep renders a single-key step (KeyOrder).
func (f Formatter) KeyStep(key, data []byte, getData bool) Value {
	if !getData {
		return Key(clone(key))
	}
	if f.Format == core.Encoded {
		return Encoded(Encode([]Pair{
			{Name: "key", Value: key},
			{Name: "data", Value: data},
		}))
	}
	return KeyData{Key: clone(key), Data: clone(data)}
}

// NodeStep renders a multi-key step (RangeQuery).
func (f Formatter) NodeStep(ref core.Reference, data []byte, getData bool) Value {
	if f.Format == core.Encoded {
		pairs := make([]Pair, 0, len(ref.Keys)+1)
		for i, k := range ref.Keys {
			pairs = append(pairs, Pair{Name: "key" + strconv.Itoa(i+1), Value: k})
		}
		if getData {
			pairs = append(pairs, Pair{Name: "data", Value: data})
		}
		return Encoded(Encode(pairs))
	}

	node := Node{Global: ref.Global, Keys: make([][]byte, len(ref.Keys))}
	for i, k := range ref.Keys {
		node.Keys[i] = clone(k)
	}
	if getData {
		node.Data = clone(data)
		node.HasData = true
	}
	return node
}

// NameStep renders a directory step.
func (f Formatter) NameStep(name string) Value {
	return Name(name)
}

// RowStep renders an SQL row.
func (f Formatter) RowStep(row Row) Value {
	if f.Format == core.Encoded {
		pairs := make([]Pair, len(row.Values))
		for i, v := range row.Values {
			pairs[i] = Pair{Name: row.Columns[i], Value: v}
		}
		return Encoded(Encode(pairs))
	}
	return row
}

// Slots are reused by the next fetch, so rendered values own their bytes.
func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}
