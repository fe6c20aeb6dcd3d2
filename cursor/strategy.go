package cursor

import (
	"context"

	"github.com/nickyhof/GlobalDB/block"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/format"
)

// Strategy performs one traversal step of a context. It returns nil
// past either end.
type Strategy interface {
	Step(ctx context.Context, dir core.Direction) (format.Value, error)
}

var (
	_ Strategy = (*KeyOrderCursor)(nil)
	_ Strategy = (*RangeQueryCursor)(nil)
	_ Strategy = (*DirectoryCursor)(nil)
	_ Strategy = (*SqlRowCursor)(nil)
)

// KeyOrderCursor walks the sibling subscripts of one level. Only the
// previous slot is used; its last subscript is the position.
type KeyOrderCursor struct {
	c *Cursor
}

func (s *KeyOrderCursor) Step(ctx context.Context, dir core.Direction) (format.Value, error) {
	c := s.c
	slot := &c.buf.Prev

	c.conn.Lock()
	err := c.conn.Order(ctx, slot, dir, c.getData)
	c.conn.Unlock()
	if err != nil {
		return nil, fetchError("order", err)
	}

	key := slot.Last()
	if len(key) == 0 {
		return nil, nil
	}
	return c.formatter.KeyStep(key, slot.Data, c.getData), nil
}

// RangeQueryCursor walks every data node of a global. Each step fills
// the next slot from the previous one and swaps them.
type RangeQueryCursor struct {
	c *Cursor
}

func (s *RangeQueryCursor) Step(ctx context.Context, dir core.Direction) (format.Value, error) {
	c := s.c

	c.conn.Lock()
	found, err := c.conn.Query(ctx, &c.buf.Next, &c.buf.Prev, dir, c.getData)
	c.conn.Unlock()
	if err != nil {
		return nil, fetchError("query", err)
	}

	// Past the end the filled slot holds the bare global, which steps
	// back to the first or last node.
	c.buf.Swap()
	if !found {
		return nil, nil
	}
	slot := &c.buf.Prev
	return c.formatter.NodeStep(slot.Reference, slot.Data, c.getData), nil
}

// DirectoryCursor walks global names. The connection moves the counter.
type DirectoryCursor struct {
	c *Cursor
}

func (s *DirectoryCursor) Step(ctx context.Context, dir core.Direction) (format.Value, error) {
	c := s.c
	slot := &c.buf.Prev

	c.conn.Lock()
	end, err := c.conn.Directory(ctx, slot, dir, &c.counter)
	c.conn.Unlock()
	if err != nil {
		return nil, fetchError("directory", err)
	}
	if end {
		return nil, nil
	}
	return c.formatter.NameStep(slot.Global), nil
}

// SqlRowCursor walks the rows of the cursor's executed statement.
type SqlRowCursor struct {
	c *Cursor
}

func (s *SqlRowCursor) Step(ctx context.Context, dir core.Direction) (format.Value, error) {
	c := s.c
	if c.stmt == nil {
		return nil, nil
	}

	c.conn.Lock()
	data, end, err := c.conn.SQLRow(ctx, c.stmt, dir)
	columns := c.stmt.ColumnNames()
	layout := c.conn.Layout()
	c.conn.Unlock()
	if err != nil {
		return nil, fetchError("sql_row", err)
	}
	if end {
		return nil, nil
	}

	row, err := decodeRow(data, layout, columns)
	if err != nil {
		return nil, fetchError("sql_row", err)
	}
	return c.formatter.RowStep(row), nil
}

// decodeRow reads one value per column. An end-of-data or error block
// ends the row early.
func decodeRow(data []byte, layout block.Layout, columns []string) (format.Row, error) {
	row := format.Row{Columns: columns, Values: make([][]byte, 0, len(columns))}
	d := block.NewDecoder(data, layout)
	for range columns {
		b, err := d.Next()
		if err != nil {
			return format.Row{}, err
		}
		if b.Kind != block.Value {
			break
		}
		row.Values = append(row.Values, append([]byte{}, b.Data...))
	}
	return row, nil
}
