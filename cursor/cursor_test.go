package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/nickyhof/GlobalDB/block"
	"github.com/nickyhof/GlobalDB/conn"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/format"
	"github.com/nickyhof/GlobalDB/ps/pebble"
	"github.com/nickyhof/GlobalDB/queue"
)

type testEnv struct {
	local *conn.Local
	db    *sql.DB
}

func newTestEnv(t testing.TB, withQueue bool) testEnv {
	t.Helper()
	store, err := pebble.NewMem()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("Failed to open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	opts := []conn.Option{conn.WithSQL(db)}
	if withQueue {
		q := queue.New(2, 16, zap.NewNop().Sugar())
		t.Cleanup(q.Close)
		opts = append(opts, conn.WithQueue(q))
	}
	return testEnv{local: conn.NewLocal(store, opts...), db: db}
}

func (e testEnv) set(t *testing.T, data string, global string, keys ...string) {
	t.Helper()
	if err := e.local.Set(core.Reference{Global: global, Keys: core.Keys(keys...)}, []byte(data)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
}

func (e testEnv) exec(t *testing.T, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if _, err := e.db.Exec(s); err != nil {
			t.Fatalf("Failed to run %q: %v", s, err)
		}
	}
}

func mustNew(t *testing.T, connection conn.Connection, args ...any) *Cursor {
	t.Helper()
	c, err := New(connection, args...)
	if err != nil {
		t.Fatalf("Failed to create cursor: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func step(t *testing.T, next func(args ...any) (format.Value, error)) format.Value {
	t.Helper()
	v, err := next()
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	return v
}

func TestKeyOrder(t *testing.T) {
	env := newTestEnv(t, false)
	for _, k := range []string{"c", "a", "b"} {
		env.set(t, "data-"+k, "X", k)
	}

	c := mustNew(t, env.local, core.Query{Global: "X"})
	for _, want := range []string{"a", "b", "c"} {
		v := step(t, c.Next)
		key, ok := v.(format.Key)
		if !ok || string(key) != want {
			t.Fatalf("Expected key %q, got %#v", want, v)
		}
	}
	if v := step(t, c.Next); v != nil {
		t.Errorf("Expected end after last key, got %#v", v)
	}

	// From the end, previous starts again at the last key.
	if v := step(t, c.Previous); format.String(v) != "c" {
		t.Errorf("Expected c, got %s", format.String(v))
	}
}

func TestKeyOrderWithData(t *testing.T) {
	env := newTestEnv(t, false)
	env.set(t, "x=1&y=2", "X", "a&b")

	c := mustNew(t, env.local, core.Query{Global: "X"}, core.Options{GetData: true})
	kd, ok := step(t, c.Next).(format.KeyData)
	if !ok || string(kd.Key) != "a&b" || string(kd.Data) != "x=1&y=2" {
		t.Fatalf("Unexpected step: %#v", kd)
	}

	enc := mustNew(t, env.local, core.Query{Global: "X"}, core.Options{GetData: true, Format: core.Encoded})
	v, ok := step(t, enc.Next).(format.Encoded)
	if !ok {
		t.Fatalf("Expected encoded step, got %#v", v)
	}
	pairs, err := format.Decode(string(v))
	if err != nil {
		t.Fatalf("Failed to decode %q: %v", v, err)
	}
	if len(pairs) != 2 || string(pairs[0].Value) != "a&b" || string(pairs[1].Value) != "x=1&y=2" {
		t.Errorf("Round trip mismatch for %q: %+v", v, pairs)
	}
}

func TestForwardBackwardSymmetry(t *testing.T) {
	env := newTestEnv(t, false)
	env.set(t, "1", "X", "a")
	env.set(t, "2", "X", "a", "x")
	env.set(t, "3", "X", "b", "y")
	env.set(t, "4", "X", "c")

	tests := []struct {
		name    string
		options core.Options
	}{
		{"KeyOrder", core.Options{}},
		{"RangeQuery", core.Options{Multilevel: true, GetData: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustNew(t, env.local, core.Query{Global: "X"}, tt.options)
			step(t, c.Next)
			before := format.String(step(t, c.Next))
			step(t, c.Next)
			back := format.String(step(t, c.Previous))
			if back != before {
				t.Errorf("Expected previous to return to %s, got %s", before, back)
			}
		})
	}
}

func TestRangeQuery(t *testing.T) {
	env := newTestEnv(t, false)
	env.set(t, "1", "X", "a")
	env.set(t, "2", "X", "a", "x")
	env.set(t, "3", "X", "b", "y")

	c := mustNew(t, env.local, core.Query{Global: "X"}, core.Options{Multilevel: true, GetData: true})
	want := []string{`^X("a") = "1"`, `^X("a","x") = "2"`, `^X("b","y") = "3"`}
	for _, w := range want {
		if got := format.String(step(t, c.Next)); got != w {
			t.Fatalf("Expected %s, got %s", w, got)
		}
	}
	if v := step(t, c.Next); v != nil {
		t.Fatalf("Expected end, got %s", format.String(v))
	}
	if got := format.String(step(t, c.Previous)); got != want[2] {
		t.Errorf("Expected previous from the end to return %s, got %s", want[2], got)
	}

	enc := mustNew(t, env.local, core.Query{Global: "X", Keys: core.Keys("a")}, core.Options{Multilevel: true, Format: core.Encoded})
	if v := step(t, enc.Next); v != format.Encoded("key1=a&key2=x") {
		t.Errorf("Unexpected encoded node: %#v", v)
	}
}

func TestDirectory(t *testing.T) {
	env := newTestEnv(t, false)
	for _, g := range []string{"Beta", "Alpha", "Gamma"} {
		env.set(t, "1", g, "k")
	}

	c := mustNew(t, env.local, "", core.Options{GlobalDirectory: true})
	var names []string
	last := c.Counter()
	for i := 0; i < 10; i++ {
		v := step(t, c.Next)
		if v == nil {
			break
		}
		if c.Counter() <= last {
			t.Fatalf("Counter did not increase: %d -> %d", last, c.Counter())
		}
		last = c.Counter()
		names = append(names, string(v.(format.Name)))
	}
	if fmt.Sprint(names) != "[Alpha Beta Gamma]" {
		t.Fatalf("Unexpected names: %v", names)
	}

	last = c.Counter()
	for i := 0; i < 3; i++ {
		if v := step(t, c.Previous); v == nil {
			t.Fatalf("Unexpected end at previous step %d", i)
		}
		if c.Counter() >= last {
			t.Fatalf("Counter did not decrease: %d -> %d", last, c.Counter())
		}
		last = c.Counter()
	}
	if v := step(t, c.Previous); v != nil {
		t.Errorf("Expected end before the first name, got %#v", v)
	}

	from := mustNew(t, env.local, core.Query{Global: "Beta"}, core.Options{GlobalDirectory: true})
	if v := step(t, from.Next); v != format.Name("Gamma") {
		t.Errorf("Expected Gamma after Beta, got %#v", v)
	}
}

func TestSqlRow(t *testing.T) {
	env := newTestEnv(t, false)
	env.exec(t,
		"CREATE TABLE people (id INTEGER, name VARCHAR, age INTEGER)",
		"INSERT INTO people VALUES (1, 'Alice', 30), (2, 'Bob', NULL)",
	)

	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT id, name, age FROM people ORDER BY id"})
	if c.Kind() != core.SqlRow {
		t.Fatalf("Expected sql context, got %s", c.Kind())
	}

	res, err := c.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.SQLCode != 0 || res.SQLState != conn.SQLStateSuccess || res.Error != "" {
		t.Fatalf("Unexpected result: %+v", res)
	}

	first, ok := step(t, c.Next).(format.Row)
	if !ok {
		t.Fatal("Expected a row")
	}
	if m := first.Map(); m["id"] != "1" || m["name"] != "Alice" || m["age"] != "30" {
		t.Errorf("Unexpected first row: %v", m)
	}
	second := step(t, c.Next).(format.Row)
	if len(second.Values) != 3 || second.Map()["age"] != "" {
		t.Errorf("Expected NULL age as an empty value, got %v", second.Map())
	}
	if v := step(t, c.Next); v != nil {
		t.Errorf("Expected end after two rows, got %#v", v)
	}

	res, err = c.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if res.Output != "2" {
		t.Errorf("Expected cleanup to release 2 rows, got %q", res.Output)
	}
}

func TestSqlRowEncoded(t *testing.T) {
	env := newTestEnv(t, false)

	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT 1 AS id, 'a&b' AS name"}, core.Options{Format: core.Encoded})
	if _, err := c.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if v := step(t, c.Next); v != format.Encoded("id=1&name=a%26b") {
		t.Errorf("Unexpected encoded row: %#v", v)
	}
}

// truncatingConn cuts every row after its first value with an
// end-of-data sentinel.
type truncatingConn struct {
	*conn.Local
}

func (c truncatingConn) SQLRow(ctx context.Context, stmt *conn.Statement, dir core.Direction) ([]byte, bool, error) {
	row, end, err := c.Local.SQLRow(ctx, stmt, dir)
	if err != nil || end {
		return row, end, err
	}
	layout := c.Layout()
	_, next, err := block.Decode(layout, row, 0)
	if err != nil {
		return nil, false, err
	}
	return block.AppendEOD(append([]byte(nil), row[:next]...), layout), false, nil
}

func TestSqlRowStopsAtSentinel(t *testing.T) {
	env := newTestEnv(t, false)

	c := mustNew(t, truncatingConn{env.local}, core.SQLQuery{SQL: "SELECT 1 AS a, 2 AS b, 3 AS c"})
	if _, err := c.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	row, ok := step(t, c.Next).(format.Row)
	if !ok {
		t.Fatal("Expected a row")
	}
	if len(row.Columns) != 3 || len(row.Values) != 1 || string(row.Values[0]) != "1" {
		t.Errorf("Expected a one-value row with three columns, got %+v", row)
	}
}

func TestSqlRowWithoutStatement(t *testing.T) {
	env := newTestEnv(t, false)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT 1"})
	c.stmt = nil

	if v := step(t, c.Next); v != nil {
		t.Errorf("Expected nil without a bound statement, got %#v", v)
	}
}

func TestExecuteFailure(t *testing.T) {
	env := newTestEnv(t, false)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT * FROM missing_table"})

	res, err := c.Execute()
	if err != nil {
		t.Fatalf("Expected failure in the result, got error %v", err)
	}
	if res.Error == "" || res.SQLCode == 0 || res.SQLState != conn.SQLStateGeneral {
		t.Errorf("Expected a failed result, got %+v", res)
	}
	if !errors.Is(res.Err, ErrUnderlyingFetch) {
		t.Errorf("Expected ErrUnderlyingFetch, got %v", res.Err)
	}
}

func TestExecuteParameters(t *testing.T) {
	env := newTestEnv(t, false)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT ?::VARCHAR AS v"})

	if _, err := c.Execute("hello"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	row := step(t, c.Next).(format.Row)
	if v, _ := row.Get("v"); string(v) != "hello" {
		t.Errorf("Expected bound parameter, got %q", v)
	}
}

func TestExecuteAsync(t *testing.T) {
	env := newTestEnv(t, true)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT 42 AS answer"})

	done := make(chan *Result, 1)
	calls := 0
	var mu sync.Mutex

	// Holding the connection lock keeps the worker from finishing.
	env.local.Lock()
	res, err := c.Execute(Callback(func(r *Result) {
		mu.Lock()
		calls++
		mu.Unlock()
		done <- r
	}))
	if err != nil {
		env.local.Unlock()
		t.Fatalf("Execute failed: %v", err)
	}
	if res != nil {
		t.Errorf("Expected no synchronous result, got %+v", res)
	}
	select {
	case <-done:
		t.Fatal("Callback fired before the statement could run")
	default:
	}
	env.local.Unlock()

	r := <-done
	if r.Error != "" || r.SQLCode != 0 {
		t.Fatalf("Unexpected async result: %+v", r)
	}
	mu.Lock()
	if calls != 1 {
		t.Errorf("Expected exactly one callback, got %d", calls)
	}
	mu.Unlock()

	row := step(t, c.Next).(format.Row)
	if v, _ := row.Get("answer"); string(v) != "42" {
		t.Errorf("Expected 42, got %q", v)
	}

	ch, err := c.ExecuteAsync()
	if err != nil {
		t.Fatalf("ExecuteAsync failed: %v", err)
	}
	if r := <-ch; r.Error != "" {
		t.Errorf("Unexpected async result: %+v", r)
	}
}

func TestAsyncSubmitFailure(t *testing.T) {
	env := newTestEnv(t, false)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT 1"})

	called := false
	_, err := c.Execute(func(*Result) { called = true })
	if !errors.Is(err, ErrUnderlyingFetch) {
		t.Fatalf("Expected ErrUnderlyingFetch when no queue is attached, got %v", err)
	}
	if !errors.Is(err, conn.ErrNoQueue) {
		t.Errorf("Expected the queue error to be wrapped, got %v", err)
	}
	if called {
		t.Error("Callback must not run when submission fails")
	}
}

func TestAsyncGateway(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		call   func(c *Cursor, cb Callback) (*Result, error)
		verify func(t *testing.T, r *Result)
	}{
		{
			name: "failing statement reaches callback",
			sql:  "SELECT * FROM missing_table",
			call: func(c *Cursor, cb Callback) (*Result, error) { return c.Execute(cb) },
			verify: func(t *testing.T, r *Result) {
				if r.Error == "" || r.SQLCode == 0 || r.SQLState != conn.SQLStateGeneral {
					t.Errorf("Expected a failed result, got %+v", r)
				}
				if !errors.Is(r.Err, ErrUnderlyingFetch) {
					t.Errorf("Expected ErrUnderlyingFetch, got %v", r.Err)
				}
			},
		},
		{
			name: "cleanup",
			sql:  "SELECT 1",
			call: func(c *Cursor, cb Callback) (*Result, error) { return c.Cleanup(cb) },
			verify: func(t *testing.T, r *Result) {
				if r.Error != "" || r.Err != nil {
					t.Errorf("Unexpected cleanup failure: %+v", r)
				}
				if r.Output != "0" {
					t.Errorf("Expected output 0, got %q", r.Output)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			c := mustNew(t, env.local, core.SQLQuery{SQL: tt.sql})

			done := make(chan *Result, 1)
			res, err := tt.call(c, func(r *Result) { done <- r })
			if err != nil {
				t.Fatalf("Expected no synchronous error, got %v", err)
			}
			if res != nil {
				t.Errorf("Expected no synchronous result, got %+v", res)
			}
			tt.verify(t, <-done)
		})
	}
}

func TestAsyncArgumentErrors(t *testing.T) {
	env := newTestEnv(t, true)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT 1"})

	called := make(chan struct{}, 1)
	cb := Callback(func(*Result) { called <- struct{}{} })

	args := append(make([]any, MaxArgs-1), cb)
	if _, err := c.Execute(args...); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for too many arguments with a callback, got %v", err)
	}
	if _, err := c.Execute(Callback(nil)); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for a nil callback, got %v", err)
	}
	if _, err := c.Cleanup((func(*Result))(nil)); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for a nil callback, got %v", err)
	}
	if c.Statement().Query.Args != nil {
		t.Errorf("Rejected calls must not bind parameters, got %v", c.Statement().Query.Args)
	}

	// A later successful call drains the queue behind any stray task.
	ch, err := c.ExecuteAsync()
	if err != nil {
		t.Fatalf("ExecuteAsync failed: %v", err)
	}
	<-ch
	select {
	case <-called:
		t.Error("Callback must not run when arguments are rejected")
	default:
	}
}

func TestSqlRowWithoutResultSet(t *testing.T) {
	env := newTestEnv(t, false)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT 1 AS one"})

	if v := step(t, c.Next); v != nil {
		t.Errorf("Expected nil before execute, got %#v", v)
	}
	if _, err := c.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if v := step(t, c.Next); v == nil {
		t.Fatal("Expected a row after execute")
	}
	res, err := c.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if res.Output != "1" {
		t.Errorf("Expected one released row, got %q", res.Output)
	}
	if v := step(t, c.Previous); v != nil {
		t.Errorf("Expected nil after cleanup, got %#v", v)
	}
}

func TestTraversalRejectsCallback(t *testing.T) {
	env := newTestEnv(t, false)
	env.set(t, "1", "X", "a")
	env.set(t, "2", "X", "b")

	c := mustNew(t, env.local, core.Query{Global: "X"}, core.Options{Multilevel: true})
	step(t, c.Next)
	prev, next := c.Buffers()
	prevRef, nextRef := prev.Reference.Clone(), next.Reference.Clone()

	cb := Callback(func(*Result) {})
	if _, err := c.Next(cb); !errors.Is(err, ErrOperationMode) {
		t.Errorf("Expected ErrOperationMode from Next, got %v", err)
	}
	if _, err := c.Previous(cb); !errors.Is(err, ErrOperationMode) {
		t.Errorf("Expected ErrOperationMode from Previous, got %v", err)
	}

	prev, next = c.Buffers()
	if !prev.Reference.Equal(prevRef) || !next.Reference.Equal(nextRef) {
		t.Error("Rejected traversal must not touch the buffers")
	}
}

func TestClose(t *testing.T) {
	env := newTestEnv(t, false)
	env.set(t, "1", "X", "a")

	c := mustNew(t, env.local, core.Query{Global: "X"}, core.Options{Multilevel: true})
	step(t, c.Next)

	if err := c.Close("unexpected"); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for close with arguments, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.Close(); err != nil {
			t.Fatalf("Close %d failed: %v", i+1, err)
		}
		if !c.buf.Released() {
			t.Errorf("Expected buffers released after close %d", i+1)
		}
	}
	if _, err := c.Next(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}

func TestCloseUnbindsStatement(t *testing.T) {
	env := newTestEnv(t, false)
	c := mustNew(t, env.local, core.SQLQuery{SQL: "SELECT 1"})
	if env.local.Scratch().Statement != c.Statement() {
		t.Fatal("Expected reset to bind the statement to the connection")
	}
	c.Close()
	if env.local.Scratch().Statement != nil {
		t.Error("Expected close to unbind the statement")
	}
}

func TestArgumentErrors(t *testing.T) {
	env := newTestEnv(t, false)

	if _, err := New(nil, core.Query{Global: "X"}); !errors.Is(err, ErrConnection) {
		t.Errorf("Expected ErrConnection for nil connection, got %v", err)
	}

	c := mustNew(t, env.local)
	if err := c.Reset(); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for reset without arguments, got %v", err)
	}
	if _, err := c.Next(); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument before reset, got %v", err)
	}
	if err := c.Reset(42); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for unsupported start, got %v", err)
	}
	if err := c.Reset(core.Query{}); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for missing global, got %v", err)
	}

	if err := c.Reset(`^X("a")`); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if env.local.Scratch().Argc != 1 {
		t.Errorf("Expected argument count 1, got %d", env.local.Scratch().Argc)
	}
	if err := c.Reset(core.Query{Global: "Y"}); err != nil {
		t.Errorf("Expected reset within the same context to succeed, got %v", err)
	}
	if err := c.Reset(core.Query{Global: "X"}, core.Options{Multilevel: true}); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for context change, got %v", err)
	}

	many := make([]any, MaxArgs)
	if _, err := c.Next(many...); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for too many arguments, got %v", err)
	}
	many[0] = core.Query{Global: "Z"}
	if err := c.Reset(many...); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for reset with too many arguments, got %v", err)
	}
	if err := c.Close(many...); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for close with too many arguments, got %v", err)
	}
	if _, err := c.Execute(); !errors.Is(err, ErrArgument) {
		t.Errorf("Expected ErrArgument for execute on a global cursor, got %v", err)
	}

	if err := env.local.Close(); err != nil {
		t.Fatalf("Failed to close connection: %v", err)
	}
	if _, err := New(env.local); !errors.Is(err, ErrConnection) {
		t.Errorf("Expected ErrConnection for closed connection, got %v", err)
	}
}

func TestCursorsShareConnection(t *testing.T) {
	env := newTestEnv(t, false)
	for i := 1; i <= 50; i++ {
		env.set(t, fmt.Sprint(i), "X", fmt.Sprint(i))
	}

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for w := range counts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := New(env.local, core.Query{Global: "X"})
			if err != nil {
				t.Errorf("New failed: %v", err)
				return
			}
			defer c.Close()
			for {
				v, err := c.Next()
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				if v == nil {
					return
				}
				counts[w]++
			}
		}()
	}
	wg.Wait()

	for w, n := range counts {
		if n != 50 {
			t.Errorf("Cursor %d saw %d keys, want 50", w, n)
		}
	}
}
