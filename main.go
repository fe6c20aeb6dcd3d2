package GlobalDB

import (
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/nickyhof/GlobalDB/conn"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/cursor"
	"github.com/nickyhof/GlobalDB/ps"
	"github.com/nickyhof/GlobalDB/ps/pebble"
	"github.com/nickyhof/GlobalDB/queue"
)

var (
	_ conn.Store = (*ps.GlobalStore)(nil)
	_ conn.Store = (*pebble.Store)(nil)
)

// Instance is an open database: a globals store, an optional SQL
// database and the task queue shared by its connections.
type Instance struct {
	Store conn.Store
	SQL   *sql.DB

	persistence *ps.Persistence
	queue       *queue.Queue
	log         *zap.SugaredLogger
	listener    conn.EventListener

	once    sync.Once
	primary *conn.Local
}

type Option func(*Instance)

// WithWorkers attaches a task queue with the given number of workers and
// pending task capacity. Without one, asynchronous execution fails.
func WithWorkers(workers, capacity int) Option {
	return func(i *Instance) { i.queue = queue.New(workers, capacity, i.log) }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(i *Instance) { i.log = log }
}

func WithListener(listener conn.EventListener) Option {
	return func(i *Instance) { i.listener = listener }
}

// Open wraps store and db. db may be nil when no SQL cursors are used.
// WithLogger must precede WithWorkers for the queue to log through it.
func Open(store conn.Store, db *sql.DB, opts ...Option) *Instance {
	instance := &Instance{
		Store: store,
		SQL:   db,
		log:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(instance)
	}
	return instance
}

// OpenGit opens an instance over a git-backed store whose commits are
// authored by identity.
func OpenGit(persistence *ps.Persistence, identity core.Identity, db *sql.DB, opts ...Option) *Instance {
	instance := Open(ps.NewGlobalStore(persistence, identity), db, opts...)
	instance.persistence = persistence
	return instance
}

// Connect returns a new connection with its own scratch area and lock.
// Connections share the store, the SQL database and the task queue.
func (instance *Instance) Connect(opts ...conn.Option) *conn.Local {
	return instance.connect(instance.Store, opts)
}

// ConnectAs is Connect with writes authored by identity. Only git-backed
// instances record authors; other stores ignore identity.
func (instance *Instance) ConnectAs(identity core.Identity, opts ...conn.Option) *conn.Local {
	if instance.persistence == nil {
		return instance.Connect(opts...)
	}
	return instance.connect(ps.NewGlobalStore(instance.persistence, identity), opts)
}

func (instance *Instance) connect(store conn.Store, opts []conn.Option) *conn.Local {
	base := []conn.Option{conn.WithLogger(instance.log)}
	if instance.SQL != nil {
		base = append(base, conn.WithSQL(instance.SQL))
	}
	if instance.queue != nil {
		base = append(base, conn.WithQueue(instance.queue))
	}
	if instance.listener != nil {
		base = append(base, conn.WithListener(instance.listener))
	}
	return conn.NewLocal(store, append(base, opts...)...)
}

// Cursor opens a cursor on the instance's primary connection.
func (instance *Instance) Cursor(args ...any) (*cursor.Cursor, error) {
	instance.once.Do(func() { instance.primary = instance.Connect() })
	return cursor.New(instance.primary, args...)
}

// Pending is the number of queued tasks not yet picked up by a worker.
func (instance *Instance) Pending() int {
	if instance.queue == nil {
		return 0
	}
	return instance.queue.Len()
}

// Close stops the task queue after its pending tasks have run. The store
// and SQL database belong to the caller.
func (instance *Instance) Close() error {
	if instance.primary != nil {
		instance.primary.Close()
	}
	if instance.queue != nil {
		instance.queue.Close()
	}
	return nil
}
