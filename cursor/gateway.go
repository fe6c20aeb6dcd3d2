package cursor

import (
	"context"
	"fmt"

	"github.com/nickyhof/GlobalDB/conn"
)

const (
	primitiveExecute = "sql_execute"
	primitiveCleanup = "sql_cleanup"
)

// Result is the outcome of Execute or Cleanup. Error is set only when
// the primitive failed.
type Result struct {
	SQLCode  int    `json:"sqlcode"`
	SQLState string `json:"sqlstate"`
	Error    string `json:"error,omitempty"`
	Output   string `json:"output,omitempty"`

	Err error `json:"-"`
}

// Callback receives the result of a queued Execute or Cleanup. It runs
// on a queue worker.
type Callback func(*Result)

// Execute runs the cursor's statement. Arguments other than a trailing
// Callback replace the statement's parameters. Without a callback it
// blocks and returns the result; with one it queues the statement,
// returns nil at once and later calls the callback exactly once.
func (c *Cursor) Execute(args ...any) (*Result, error) {
	return c.dispatch(context.Background(), primitiveExecute, args)
}

// Cleanup releases the statement's result set. The result's Output is
// the primitive's raw output.
func (c *Cursor) Cleanup(args ...any) (*Result, error) {
	return c.dispatch(context.Background(), primitiveCleanup, args)
}

func (c *Cursor) ExecuteContext(ctx context.Context, args ...any) (*Result, error) {
	return c.dispatch(ctx, primitiveExecute, args)
}

func (c *Cursor) CleanupContext(ctx context.Context, args ...any) (*Result, error) {
	return c.dispatch(ctx, primitiveCleanup, args)
}

// ExecuteAsync queues the statement and delivers its result on the
// returned channel.
func (c *Cursor) ExecuteAsync(args ...any) (<-chan *Result, error) {
	ch := make(chan *Result, 1)
	args = append(args[:len(args):len(args)], Callback(func(r *Result) { ch <- r }))
	if _, err := c.Execute(args...); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Cursor) dispatch(ctx context.Context, primitive string, args []any) (*Result, error) {
	if len(args) >= MaxArgs {
		return nil, argumentError("too many arguments (%d)", len(args))
	}
	if c.closed {
		return nil, ErrClosed
	}
	callback, async := callbackOf(args)
	if async {
		if callback == nil {
			return nil, argumentError("nil callback")
		}
		args = args[:len(args)-1]
	}
	if c.stmt == nil {
		return nil, argumentError("%s requires an SQL cursor", primitive)
	}
	if primitive == primitiveCleanup && len(args) > 0 {
		return nil, argumentError("cleanup does not take any arguments")
	}

	stmt := c.stmt
	connection := c.conn
	params := args
	run := func(ctx context.Context) *Result {
		connection.Lock()
		defer connection.Unlock()

		connection.Scratch().Argc = len(params)
		switch primitive {
		case primitiveExecute:
			if len(params) > 0 {
				stmt.Query.Args = params
			}
			return resultOf(primitive, stmt, nil, connection.SQLExecute(ctx, stmt))
		default:
			out, err := connection.SQLCleanup(ctx, stmt)
			return resultOf(primitive, stmt, out, err)
		}
	}

	if !async {
		return run(ctx), nil
	}

	task := connection.NewTask(primitive)
	var result *Result
	task.Run = func(ctx context.Context) {
		result = run(ctx)
	}
	task.Complete = func(recovered error) {
		if recovered != nil {
			fe := fetchError(primitive, recovered)
			result = &Result{SQLCode: fe.Code, SQLState: fe.State, Error: fe.Message, Err: fe}
		}
		callback(result)
	}
	if err := connection.Submit(task); err != nil {
		task.Release()
		return nil, fetchError(primitive, fmt.Errorf("submit: %w", err))
	}
	return nil, nil
}

func resultOf(primitive string, stmt *conn.Statement, out []byte, err error) *Result {
	r := &Result{
		SQLCode:  stmt.SQLCode,
		SQLState: stmt.SQLState,
		Output:   string(out),
	}
	if err != nil {
		fe := fetchError(primitive, err)
		if r.SQLCode != 0 {
			fe.Code = r.SQLCode
		}
		if r.SQLState != "" && r.SQLState != conn.SQLStateSuccess {
			fe.State = r.SQLState
		}
		r.SQLCode, r.SQLState = fe.Code, fe.State
		r.Error = fe.Message
		r.Err = fe
	}
	return r
}
