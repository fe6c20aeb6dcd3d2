package core

type ColumnType int

const (
	StringType ColumnType = iota
	IntType
	FloatType
	BoolType
	TextType
	DateType
	TimestampType
	JsonType
	BlobType
)

// Column describes one column of an SQL result set.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// ColumnTypeOf maps a database type name (as reported by
// database/sql) onto a ColumnType.
func ColumnTypeOf(databaseTypeName string) ColumnType {
	switch databaseTypeName {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT", "UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "INT":
		return IntType
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL":
		return FloatType
	case "BOOLEAN", "BOOL":
		return BoolType
	case "DATE":
		return DateType
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return TimestampType
	case "JSON":
		return JsonType
	case "BLOB":
		return BlobType
	case "TEXT":
		return TextType
	default:
		return StringType
	}
}
