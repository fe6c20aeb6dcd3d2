package cursor

import (
	"context"

	"github.com/nickyhof/GlobalDB/conn"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/format"
)

// Cursor is a traversal handle over one connection. A Cursor is not
// safe for concurrent use; several cursors may share a connection.
type Cursor struct {
	conn conn.Connection

	kind      core.ContextKind
	strategy  Strategy
	getData   bool
	formatter format.Formatter
	counter   int
	buf       DoubleBuffer
	stmt      *conn.Statement
	closed    bool
}

// New binds a cursor to connection and, if args are given, resets it.
func New(connection conn.Connection, args ...any) (*Cursor, error) {
	if connection == nil || !connection.Connected() {
		return nil, ErrConnection
	}
	c := &Cursor{conn: connection}
	if len(args) > 0 {
		if err := c.Reset(args...); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Reset positions the cursor at a start parameter: a core.Query,
// core.Reference, reference string or core.SQLQuery, optionally
// followed by core.Options. The context derived from the start may not
// change once set.
func (c *Cursor) Reset(args ...any) error {
	if c.closed {
		return ErrClosed
	}
	if len(args) == 0 {
		return argumentError("reset requires a start parameter")
	}
	if len(args) >= MaxArgs {
		return argumentError("too many arguments (%d)", len(args))
	}

	start, options, err := parseStart(args)
	if err != nil {
		return err
	}
	kind, err := core.ContextOf(start, options)
	if err != nil {
		return argumentError("%v", err)
	}
	if q, ok := start.(core.Query); ok && kind != core.Directory && q.Global == "" {
		return argumentError("%s cursor requires a global name", kind)
	}
	if c.kind != 0 && kind != c.kind {
		return argumentError("cannot reset a %s cursor to %s", c.kind, kind)
	}

	c.conn.Lock()
	c.conn.Scratch().Argc = len(args)
	c.conn.Unlock()

	c.kind = kind
	c.getData = options.GetData
	c.formatter = format.Formatter{Format: options.Format}
	c.counter = 0

	switch kind {
	case core.SqlRow:
		q := start.(core.SQLQuery)
		c.stmt = conn.NewStatement(q)
		c.conn.Lock()
		c.conn.Scratch().Statement = c.stmt
		c.conn.Unlock()
		c.strategy = &SqlRowCursor{c: c}
	case core.Directory:
		q := start.(core.Query)
		c.buf.Prev = conn.Slot{Reference: core.Reference{Global: q.Global}}
		c.buf.Next = conn.Slot{}
		c.strategy = &DirectoryCursor{c: c}
	case core.RangeQuery:
		q := start.(core.Query)
		c.buf.Prev = conn.NewSlot(q.Reference())
		c.buf.Next = conn.Slot{Reference: core.Reference{Global: q.Global}}
		c.strategy = &RangeQueryCursor{c: c}
	default:
		q := start.(core.Query)
		ref := q.Reference()
		if len(ref.Keys) == 0 {
			ref = ref.Child(nil)
		}
		c.buf.Prev = conn.NewSlot(ref)
		c.buf.Next = conn.Slot{}
		c.strategy = &KeyOrderCursor{c: c}
	}
	return nil
}

// Next steps forward and returns the value there, or nil at the end.
func (c *Cursor) Next(args ...any) (format.Value, error) {
	return c.traverse(context.Background(), core.Forward, args)
}

// Previous steps backward and returns the value there, or nil at the
// start.
func (c *Cursor) Previous(args ...any) (format.Value, error) {
	return c.traverse(context.Background(), core.Backward, args)
}

func (c *Cursor) NextContext(ctx context.Context, args ...any) (format.Value, error) {
	return c.traverse(ctx, core.Forward, args)
}

func (c *Cursor) PreviousContext(ctx context.Context, args ...any) (format.Value, error) {
	return c.traverse(ctx, core.Backward, args)
}

func (c *Cursor) traverse(ctx context.Context, dir core.Direction, args []any) (format.Value, error) {
	if _, ok := callbackOf(args); ok {
		return nil, ErrOperationMode
	}
	if len(args) >= MaxArgs {
		return nil, argumentError("too many arguments (%d)", len(args))
	}
	if c.closed {
		return nil, ErrClosed
	}
	if c.strategy == nil {
		return nil, argumentError("cursor has not been reset")
	}
	return c.strategy.Step(ctx, dir)
}

// Close releases the cursor's buffers. It takes no arguments and may be
// called more than once.
func (c *Cursor) Close(args ...any) error {
	if len(args) > 0 {
		return argumentError("close does not take any arguments")
	}
	if c.closed {
		return nil
	}
	c.closed = true
	c.buf.Release()

	if c.stmt != nil {
		c.conn.Lock()
		if scratch := c.conn.Scratch(); scratch.Statement == c.stmt {
			scratch.Statement = nil
		}
		c.conn.Unlock()
		c.stmt = nil
	}
	return nil
}

func (c *Cursor) Kind() core.ContextKind          { return c.kind }
func (c *Cursor) Closed() bool                    { return c.closed }
func (c *Cursor) Counter() int                    { return c.counter }
func (c *Cursor) Statement() *conn.Statement      { return c.stmt }
func (c *Cursor) Connection() conn.Connection     { return c.conn }
func (c *Cursor) Buffers() (prev, next conn.Slot) { return c.buf.Prev, c.buf.Next }

// parseStart splits reset arguments into the start parameter, normalized
// to core.Query or core.SQLQuery, and options.
func parseStart(args []any) (any, core.Options, error) {
	var options core.Options
	if len(args) > 1 {
		switch o := args[1].(type) {
		case core.Options:
			options = o
		case *core.Options:
			if o != nil {
				options = *o
			}
		default:
			return nil, options, argumentError("second argument must be core.Options, got %T", args[1])
		}
	}

	switch s := args[0].(type) {
	case core.Query:
		return s, options, nil
	case *core.Query:
		if s == nil {
			break
		}
		return *s, options, nil
	case core.Reference:
		return core.Query{Global: s.Global, Keys: s.Keys}, options, nil
	case string:
		ref, err := core.ParseReference(s)
		if err != nil {
			if options.GlobalDirectory && s == "" {
				return core.Query{}, options, nil
			}
			return nil, options, argumentError("%v", err)
		}
		return core.Query{Global: ref.Global, Keys: ref.Keys}, options, nil
	case core.SQLQuery:
		return s, options, nil
	case *core.SQLQuery:
		if s == nil {
			break
		}
		return *s, options, nil
	}
	return nil, options, argumentError("unsupported start parameter %T", args[0])
}

// callbackOf returns the trailing callback of args. ok reports whether
// the last argument has a callback type, even when it is nil.
func callbackOf(args []any) (cb Callback, ok bool) {
	if len(args) == 0 {
		return nil, false
	}
	switch fn := args[len(args)-1].(type) {
	case Callback:
		return fn, true
	case func(*Result):
		return fn, true
	}
	return nil, false
}
