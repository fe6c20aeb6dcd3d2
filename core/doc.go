// Package core provides core types used throughout GlobalDB.
//
// The package defines fundamental types like Identity, Reference,
// Column, the traversal Direction and the parameter shapes accepted
// when a cursor is reset.
//
// # Identity
//
// Identity identifies the author of writes (Git commit author):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # References
//
// A Reference addresses a node of a global by name and subscripts:
//
//	ref, err := core.ParseReference(`^Customer("London",42)`)
//	// ref.Global == "Customer", ref.Keys == [][]byte{[]byte("London"), []byte("42")}
//
// Subscripts collate the M way: canonical numbers first in numeric
// order, then every other subscript in byte order. See Collate.
//
// # Cursor parameters
//
// A cursor is reset with a Query (global traversal) or an SQLQuery
// (tabular rows), optionally followed by Options:
//
//	cursor.New(conn, core.Query{Global: "Customer", Keys: core.Keys("")},
//	    core.Options{GetData: true, Multilevel: true})
package core
