// Package GlobalDB provides cursors over a hierarchical globals database.
//
// A global is a sparse, sorted tree of nodes addressed by a name and a
// list of subscripts, ^Customer(1,"name"). Subscripts collate with
// canonical numbers first in numeric order and strings after them in
// byte order. Nodes are stored either in a Git repository, where every
// write is a commit, or in a pebble LSM store.
//
// # Quick Start
//
//	persistence, _ := ps.NewMemoryPersistence()
//	db := GlobalDB.OpenGit(persistence, core.Identity{Name: "App", Email: "app@example.com"}, nil)
//	connection := db.Connect()
//
//	connection.Set(core.Reference{Global: "Customer", Keys: core.Keys("1", "name")}, []byte("Alice"))
//
//	c, _ := cursor.New(connection, core.Query{Global: "Customer"}, core.Options{Multilevel: true, GetData: true})
//	for v, _ := c.Next(); v != nil; v, _ = c.Next() {
//		fmt.Println(format.String(v))
//	}
//
// # Cursor contexts
//
// The start parameter given to Reset selects how a cursor walks:
//   - core.Query: sibling subscripts of one level (key order)
//   - core.Query with Multilevel: every data node in depth-first order
//   - core.Query with GlobalDirectory: global names
//   - core.SQLQuery: rows of an SQL statement run through database/sql
//
// SQL statements are executed with Execute, synchronously or, given a
// callback, on the instance's task queue.
package GlobalDB
