package conn

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/nickyhof/GlobalDB/block"
	"github.com/nickyhof/GlobalDB/core"
)

const (
	SQLStateSuccess = "00000"
	SQLStateGeneral = "HY000"
)

// Statement is an SQL statement bound to a connection together with its
// materialized result set.
type Statement struct {
	Query    core.SQLQuery
	Columns  []core.Column
	RowNo    int
	SQLCode  int
	SQLState string

	rows     [][]any
	executed bool
}

func NewStatement(q core.SQLQuery) *Statement {
	return &Statement{Query: q}
}

// ColumnNames returns the result column names in order.
func (s *Statement) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Executed reports whether the statement holds a live result set.
func (s *Statement) Executed() bool {
	return s.executed
}

// RowCount is the number of rows in the result set.
func (s *Statement) RowCount() int {
	return len(s.rows)
}

func (s *Statement) execute(ctx context.Context, db *sql.DB) error {
	s.release()

	rows, err := db.QueryContext(ctx, s.Query.SQL, s.Query.Args...)
	if err != nil {
		s.fail()
		return err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		s.fail()
		return err
	}
	s.Columns = make([]core.Column, len(types))
	for i, ct := range types {
		s.Columns[i] = core.Column{Name: ct.Name(), Type: core.ColumnTypeOf(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.fail()
			return err
		}
		s.rows = append(s.rows, values)
	}
	if err := rows.Err(); err != nil {
		s.fail()
		return err
	}

	s.executed = true
	s.SQLCode = 0
	s.SQLState = SQLStateSuccess
	return nil
}

func (s *Statement) fail() {
	s.rows = nil
	s.executed = false
	s.SQLCode = -1
	s.SQLState = SQLStateGeneral
}

// release drops the result set and returns the number of rows dropped.
func (s *Statement) release() int {
	n := len(s.rows)
	s.rows = nil
	s.Columns = nil
	s.RowNo = 0
	s.executed = false
	return n
}

// encodeRow appends row idx (1-based) as one block per column followed
// by the end-of-data sentinel. NULL is an empty block of type none.
func (s *Statement) encodeRow(dst []byte, layout block.Layout, idx int) []byte {
	for _, v := range s.rows[idx-1] {
		if v == nil {
			dst = block.Append(dst, layout, block.SortData, block.TypeNone, nil)
			continue
		}
		typ, data := blockValue(v)
		dst = block.Append(dst, layout, block.SortData, typ, data)
	}
	return block.AppendEOD(dst, layout)
}

func blockValue(v any) (byte, []byte) {
	switch v := v.(type) {
	case []byte:
		return block.TypeString, v
	case string:
		return block.TypeString, []byte(v)
	case int64:
		return block.TypeInt, strconv.AppendInt(nil, v, 10)
	case int32:
		return block.TypeInt, strconv.AppendInt(nil, int64(v), 10)
	case int16:
		return block.TypeInt, strconv.AppendInt(nil, int64(v), 10)
	case int8:
		return block.TypeInt, strconv.AppendInt(nil, int64(v), 10)
	case int:
		return block.TypeInt, strconv.AppendInt(nil, int64(v), 10)
	case uint64:
		return block.TypeInt, strconv.AppendUint(nil, v, 10)
	case uint32:
		return block.TypeInt, strconv.AppendUint(nil, uint64(v), 10)
	case float64:
		return block.TypeDouble, strconv.AppendFloat(nil, v, 'g', -1, 64)
	case float32:
		return block.TypeDouble, strconv.AppendFloat(nil, float64(v), 'g', -1, 32)
	case bool:
		return block.TypeString, strconv.AppendBool(nil, v)
	case time.Time:
		return block.TypeString, []byte(v.UTC().Format(time.RFC3339Nano))
	default:
		return block.TypeString, []byte(fmt.Sprint(v))
	}
}
