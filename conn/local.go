package conn

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/GlobalDB/block"
	"github.com/nickyhof/GlobalDB/core"
)

// Local is an in-process connection over a Store and an optional SQL
// database.
type Local struct {
	mu      sync.Mutex
	scratch Scratch
	closed  atomic.Bool

	store    Store
	db       *sql.DB
	queue    Queue
	layout   block.Layout
	log      *zap.SugaredLogger
	listener EventListener
}

var _ Connection = (*Local)(nil)

type Option func(*Local)

func WithSQL(db *sql.DB) Option {
	return func(l *Local) { l.db = db }
}

func WithQueue(q Queue) Option {
	return func(l *Local) { l.queue = q }
}

func WithLayout(layout block.Layout) Option {
	return func(l *Local) { l.layout = layout }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Local) { l.log = log }
}

func WithListener(listener EventListener) Option {
	return func(l *Local) { l.listener = listener }
}

func NewLocal(store Store, opts ...Option) *Local {
	l := &Local{
		store:    store,
		layout:   block.DBXLayout{},
		log:      zap.NewNop().Sugar(),
		listener: &SelectiveListener{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Connected() bool   { return !l.closed.Load() }
func (l *Local) Scratch() *Scratch { return &l.scratch }
func (l *Local) Lock()             { l.mu.Lock() }
func (l *Local) Unlock()           { l.mu.Unlock() }

func (l *Local) Layout() block.Layout { return l.layout }

// Store returns the node storage behind the connection.
func (l *Local) Store() Store { return l.store }

// Close marks the connection as closed. Cursors can no longer be bound
// to it.
func (l *Local) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrDisconnected
	}
	return nil
}

func (l *Local) observe(primitive string, start time.Time, err *error) {
	if *err != nil {
		l.scratch.Error = (*err).Error()
		l.log.Debugw("Primitive failed", "primitive", primitive, "err", *err)
	}
	l.listener.OnPrimitive(primitive, time.Since(start), *err)
}

func (l *Local) Order(ctx context.Context, slot *Slot, dir core.Direction, getData bool) (err error) {
	defer l.observe("order", time.Now(), &err)
	if err = l.check(ctx); err != nil {
		return err
	}
	if len(slot.Keys) == 0 {
		return ErrEmptyKey
	}

	sub, ok, err := l.store.Order(slot.Reference, dir)
	if err != nil {
		return fmt.Errorf("order %s: %w", slot.Reference, err)
	}
	last := len(slot.Keys) - 1
	if !ok {
		slot.Keys[last] = slot.Keys[last][:0]
		slot.SetData(nil, false)
		return nil
	}
	slot.Keys[last] = append(slot.Keys[last][:0], sub...)

	if getData {
		data, has, err := l.store.Get(slot.Reference)
		if err != nil {
			return fmt.Errorf("get %s: %w", slot.Reference, err)
		}
		slot.SetData(data, has)
	}
	return nil
}

func (l *Local) Query(ctx context.Context, next, prev *Slot, dir core.Direction, getData bool) (found bool, err error) {
	defer l.observe("query", time.Now(), &err)
	if err = l.check(ctx); err != nil {
		return false, err
	}
	if prev.Global == "" {
		return false, ErrEmptyGlobal
	}

	ref, ok, err := l.store.Query(prev.Reference, dir)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", prev.Reference, err)
	}
	if !ok {
		next.Set(core.Reference{Global: prev.Global})
		next.SetData(nil, false)
		return false, nil
	}
	next.Set(ref)

	if getData {
		data, has, err := l.store.Get(ref)
		if err != nil {
			return false, fmt.Errorf("get %s: %w", ref, err)
		}
		next.SetData(data, has)
	} else {
		next.SetData(nil, false)
	}
	return true, nil
}

// Directory keeps *counter within [0, N+1] where N is the number of
// globals: 0 and N+1 are the positions before the first and after the
// last name. A named slot takes precedence over the counter so a
// directory walk can start from any name.
func (l *Local) Directory(ctx context.Context, slot *Slot, dir core.Direction, counter *int) (end bool, err error) {
	defer l.observe("directory", time.Now(), &err)
	if err = l.check(ctx); err != nil {
		return false, err
	}

	names, err := l.store.Globals()
	if err != nil {
		return false, fmt.Errorf("list globals: %w", err)
	}

	pos := *counter
	if slot.Global != "" {
		i := sort.SearchStrings(names, slot.Global)
		switch {
		case i < len(names) && names[i] == slot.Global:
			pos = i + 1
		case dir == core.Backward:
			pos = i + 1
		default:
			pos = i
		}
	}

	idx := pos + int(dir)
	switch {
	case idx < 1:
		*counter = 0
		slot.Global = ""
		return true, nil
	case idx > len(names):
		*counter = len(names) + 1
		slot.Global = ""
		return true, nil
	}
	*counter = idx
	slot.Global = names[idx-1]
	return false, nil
}

func (l *Local) SQLExecute(ctx context.Context, stmt *Statement) (err error) {
	defer l.observe("sql_execute", time.Now(), &err)
	if stmt == nil {
		return ErrNilStatement
	}
	if err = l.check(ctx); err != nil {
		return err
	}
	if l.db == nil {
		stmt.fail()
		return ErrNoSQL
	}
	if err = stmt.execute(ctx, l.db); err != nil {
		return fmt.Errorf("execute %q: %w", stmt.Query.SQL, err)
	}
	l.log.Debugw("Statement executed", "sql", stmt.Query.SQL, "rows", stmt.RowCount())
	return nil
}

// SQLRow writes the row into the scratch output buffer and returns the
// same bytes. The buffer is reallocated on every call so a caller may
// keep the returned slice after unlocking the connection.
func (l *Local) SQLRow(ctx context.Context, stmt *Statement, dir core.Direction) (row []byte, end bool, err error) {
	defer l.observe("sql_row", time.Now(), &err)
	if stmt == nil {
		return nil, false, ErrNilStatement
	}
	if err = l.check(ctx); err != nil {
		return nil, false, err
	}
	if !stmt.executed {
		// No live result set reads as the end of the data.
		return nil, true, nil
	}

	idx := stmt.RowNo + int(dir)
	switch {
	case idx < 1:
		stmt.RowNo = 0
		return nil, true, nil
	case idx > len(stmt.rows):
		stmt.RowNo = len(stmt.rows) + 1
		return nil, true, nil
	}
	stmt.RowNo = idx

	row = stmt.encodeRow(nil, l.layout, idx)
	l.scratch.Output = row
	return row, false, nil
}

// SQLCleanup releases the statement's result set. The output is the
// number of rows released.
func (l *Local) SQLCleanup(ctx context.Context, stmt *Statement) (output []byte, err error) {
	defer l.observe("sql_cleanup", time.Now(), &err)
	if stmt == nil {
		return nil, ErrNilStatement
	}
	if err = l.check(ctx); err != nil {
		return nil, err
	}

	output = []byte(fmt.Sprint(stmt.release()))
	stmt.SQLCode = 0
	stmt.SQLState = SQLStateSuccess
	l.scratch.Output = output
	return output, nil
}

func (l *Local) NewTask(primitive string) *Task {
	return &Task{Conn: l, Primitive: primitive}
}

func (l *Local) Submit(task *Task) error {
	if l.queue == nil {
		l.listener.OnTask(task.Primitive, false)
		return ErrNoQueue
	}
	err := l.queue.Submit(task)
	l.listener.OnTask(task.Primitive, err == nil)
	return err
}

// Get, Set and Kill are direct node operations. They take the
// connection lock themselves.

func (l *Local) Get(ref core.Reference) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Get(ref)
}

func (l *Local) Set(ref core.Reference, data []byte) error {
	if ref.Global == "" {
		return ErrEmptyGlobal
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Set(ref, data)
}

func (l *Local) Kill(ref core.Reference) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Kill(ref)
}

func (l *Local) Globals() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Globals()
}

func (l *Local) check(ctx context.Context) error {
	if l.closed.Load() {
		return ErrDisconnected
	}
	return ctx.Err()
}
