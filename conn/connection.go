package conn

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/nickyhof/GlobalDB/block"
	"github.com/nickyhof/GlobalDB/core"
)

var (
	ErrNoSQL        = errors.New("no SQL database attached to connection")
	ErrNoQueue      = errors.New("no task queue attached to connection")
	ErrEmptyKey     = errors.New("reference has no subscripts")
	ErrEmptyGlobal  = errors.New("reference has no global name")
	ErrTaskReleased = errors.New("task already released")
	ErrDisconnected = errors.New("connection is closed")
	ErrNilStatement = errors.New("no statement bound")
)

// Connection is everything a cursor needs from a database connection.
type Connection interface {
	Connected() bool
	Scratch() *Scratch
	// Layout is the block header layout of SQLRow output.
	Layout() block.Layout

	Lock()
	Unlock()

	// Order replaces the last subscript of slot with its neighbour in
	// direction dir. An empty last subscript on return means there is no
	// neighbour.
	Order(ctx context.Context, slot *Slot, dir core.Direction, getData bool) error
	// Query fills next with the node following prev in depth-first order.
	// It reports false once the global is exhausted.
	Query(ctx context.Context, next, prev *Slot, dir core.Direction, getData bool) (bool, error)
	// Directory moves counter one position in direction dir and stores the
	// global name found there in slot. It reports true past either end.
	Directory(ctx context.Context, slot *Slot, dir core.Direction, counter *int) (bool, error)
	// SQLRow moves the statement one row in direction dir and returns the
	// row as a block stream. It reports true past either end.
	SQLRow(ctx context.Context, stmt *Statement, dir core.Direction) ([]byte, bool, error)
	SQLExecute(ctx context.Context, stmt *Statement) error
	SQLCleanup(ctx context.Context, stmt *Statement) ([]byte, error)

	NewTask(primitive string) *Task
	Submit(task *Task) error
}

// Scratch is the per-connection state shared by every cursor bound to
// the connection.
type Scratch struct {
	Argc      int
	Error     string
	Output    []byte
	Statement *Statement
}

// Slot holds one traversal result: a reference and optional data.
type Slot struct {
	core.Reference
	Data    []byte
	HasData bool
}

// NewSlot returns a slot positioned at ref.
func NewSlot(ref core.Reference) Slot {
	return Slot{Reference: ref.Clone()}
}

// Set copies ref into the slot, reusing its buffers.
func (s *Slot) Set(ref core.Reference) {
	s.Global = ref.Global
	if cap(s.Keys) < len(ref.Keys) {
		s.Keys = make([][]byte, len(ref.Keys))
	}
	s.Keys = s.Keys[:len(ref.Keys)]
	for i, k := range ref.Keys {
		s.Keys[i] = append(s.Keys[i][:0], k...)
	}
}

// SetData copies data into the slot.
func (s *Slot) SetData(data []byte, ok bool) {
	s.Data = append(s.Data[:0], data...)
	s.HasData = ok
}

// Release drops the slot's buffers.
func (s *Slot) Release() {
	*s = Slot{}
}

// Released reports whether the slot holds no buffers.
func (s *Slot) Released() bool {
	return s.Global == "" && s.Keys == nil && s.Data == nil
}

// Task is a unit of work handed to a Queue. The queue calls Run on a
// worker and then Complete exactly once; recovered is non-nil if Run
// panicked.
type Task struct {
	Conn      Connection
	Primitive string
	Run       func(ctx context.Context)
	Complete  func(recovered error)

	released atomic.Bool
}

// Release ends the task's ownership of its connection and closures.
func (t *Task) Release() error {
	if !t.released.CompareAndSwap(false, true) {
		return ErrTaskReleased
	}
	t.Conn = nil
	t.Run = nil
	t.Complete = nil
	return nil
}

func (t *Task) Released() bool {
	return t.released.Load()
}

// Queue accepts tasks for asynchronous execution.
type Queue interface {
	Submit(task *Task) error
}
