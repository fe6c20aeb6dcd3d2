package core

import "fmt"

// Direction is the step direction of a traversal call.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ContextKind selects the traversal algorithm of a cursor.
type ContextKind int

const (
	KeyOrder ContextKind = iota + 1
	RangeQuery
	Directory
	SqlRow
)

func (k ContextKind) String() string {
	switch k {
	case KeyOrder:
		return "order"
	case RangeQuery:
		return "query"
	case Directory:
		return "directory"
	case SqlRow:
		return "sql"
	default:
		return fmt.Sprintf("ContextKind(%d)", int(k))
	}
}

// Format selects how a traversal step is rendered.
type Format int

const (
	Native Format = iota
	Encoded
)

// ParseFormat accepts "", "native" and "url"/"encoded".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "native":
		return Native, nil
	case "url", "encoded":
		return Encoded, nil
	default:
		return Native, fmt.Errorf("unknown format %q", s)
	}
}

// Query is the starting position of a global traversal.
type Query struct {
	Global string   `json:"global"`
	Keys   [][]byte `json:"key,omitempty"`
}

// Reference returns the query as a node reference.
func (q Query) Reference() Reference {
	return Reference{Global: q.Global, Keys: q.Keys}
}

// SQLQuery is the starting point of a tabular traversal.
type SQLQuery struct {
	SQL  string `json:"sql"`
	Type string `json:"type,omitempty"`
	Args []any  `json:"args,omitempty"`
}

// Options refine how a Query is traversed.
type Options struct {
	GetData         bool   `json:"getdata,omitempty"`
	Multilevel      bool   `json:"multilevel,omitempty"`
	GlobalDirectory bool   `json:"globaldirectory,omitempty"`
	Format          Format `json:"-"`
}

// ContextOf derives the traversal context from the reset parameter
// shape.
func ContextOf(start any, options Options) (ContextKind, error) {
	switch start.(type) {
	case SQLQuery, *SQLQuery:
		return SqlRow, nil
	case Query, *Query:
		switch {
		case options.GlobalDirectory:
			return Directory, nil
		case options.Multilevel:
			return RangeQuery, nil
		default:
			return KeyOrder, nil
		}
	default:
		return 0, fmt.Errorf("unsupported cursor start %T", start)
	}
}
