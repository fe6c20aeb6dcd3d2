// Package cursor implements bidirectional, resumable traversal over a
// connection.
//
// A Cursor is bound to one connection and, on Reset, to one of four
// traversal contexts selected by the shape of its start parameter:
//
//   - KeyOrder: sibling subscripts of one level (core.Query)
//   - RangeQuery: every data node of a global in depth-first order
//     (core.Query with Options.Multilevel)
//   - Directory: global names (core.Query with Options.GlobalDirectory)
//   - SqlRow: rows of an SQL statement (core.SQLQuery)
//
// Next and Previous step in either direction and return nil at either
// end. Execute and Cleanup run the cursor's statement inline or, when
// the last argument is a Callback, on the connection's task queue.
//
//	c, err := cursor.New(connection, core.Query{Global: "Customer", Keys: core.Keys("")})
//	for v, err := c.Next(); v != nil && err == nil; v, err = c.Next() {
//	    fmt.Println(format.String(v))
//	}
//	c.Close()
package cursor
