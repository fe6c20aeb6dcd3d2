package format

import (
	"fmt"
	"strconv"

	"github.com/nickyhof/GlobalDB/core"
)

// Value is the payload of one traversal step. A nil Value means the
// traversal reached its end.
type Value interface {
	value()
}

// Key is a single subscript (KeyOrder without data).
type Key []byte

// KeyData is a single subscript with the node's data.
type KeyData struct {
	Key  []byte `json:"key"`
	Data []byte `json:"data"`
}

// Node is a full reference returned by a range query.
type Node struct {
	Global  string   `json:"global"`
	Keys    [][]byte `json:"key"`
	Data    []byte   `json:"data,omitempty"`
	HasData bool     `json:"-"`
}

// Name is a global name returned by directory enumeration.
type Name string

// Row is one SQL row. Columns and Values are parallel; a row cut short
// by a sentinel holds fewer values than the statement has columns.
type Row struct {
	Columns []string `json:"columns"`
	Values  [][]byte `json:"values"`
}

// Encoded is a step rendered as name=value pairs.
type Encoded string

func (Key) value()     {}
func (KeyData) value() {}
func (Node) value()    {}
func (Name) value()    {}
func (Row) value()     {}
func (Encoded) value() {}

// Get returns the value of the named column.
func (r Row) Get(column string) ([]byte, bool) {
	for i, c := range r.Columns {
		if c == column && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row keyed by column name.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.Values))
	for i, v := range r.Values {
		m[r.Columns[i]] = string(v)
	}
	return m
}

// String renders any Value for display.
func String(v Value) string {
	switch v := v.(type) {
	case nil:
		return "<end>"
	case Key:
		return string(v)
	case KeyData:
		return fmt.Sprintf("%s = %s", v.Key, strconv.Quote(string(v.Data)))
	case Node:
		ref := core.Reference{Global: v.Global, Keys: v.Keys}
		if v.HasData {
			return fmt.Sprintf("%s = %s", ref, strconv.Quote(string(v.Data)))
		}
		return ref.String()
	case Name:
		return "^" + string(v)
	case Row:
		return fmt.Sprint(v.Map())
	case Encoded:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
