// Package conn defines the connection a cursor works against and
// provides Local, an in-process implementation.
//
// A connection owns shared scratch state (argument count, last error
// text, output buffer, bound statement), the raw fetch primitives
// (order, query, directory, sql_row, sql_execute, sql_cleanup), task
// dispatch for asynchronous execution and an exclusive lock. Callers
// bracket every primitive with Lock/Unlock; primitives never lock on
// their own.
//
//	local := conn.NewLocal(store,
//	    conn.WithSQL(sqlDB),
//	    conn.WithQueue(queue.New(4, 64, logger)),
//	    conn.WithLogger(logger),
//	)
package conn
