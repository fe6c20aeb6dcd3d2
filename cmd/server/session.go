package main

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/nickyhof/GlobalDB/conn"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/cursor"
)

var (
	ErrUnknownOp     = errors.New("unknown operation")
	ErrUnknownCursor = errors.New("unknown cursor")
	ErrMissingRef    = errors.New("missing ref")
)

// session is one client connection: its database connection and the
// cursors it has opened. Requests are handled one at a time; queued
// callbacks write from worker goroutines.
type session struct {
	server *Server
	nc     net.Conn
	state  ConnectionState

	writeMu sync.Mutex

	conn       *conn.Local
	cursors    map[int]*cursor.Cursor
	nextCursor int
}

func newSession(s *Server, nc net.Conn) *session {
	return &session{server: s, nc: nc, cursors: make(map[int]*cursor.Cursor)}
}

func (sess *session) send(resp Response) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.write(resp)
}

// write requires writeMu.
func (sess *session) write(resp Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = sess.nc.Write(data)
	return err
}

// connection opens the session's database connection on first use, as
// the authenticated identity if there is one.
func (sess *session) connection() *conn.Local {
	if sess.conn == nil {
		identity := sess.server.identity
		if id := sess.state.Identity(); id != nil {
			identity = *id
		}
		sess.conn = sess.server.instance.ConnectAs(identity, sess.server.connOptions()...)
	}
	return sess.conn
}

// reconnect drops the database connection so the next request picks up
// a new identity. Open cursors keep the old connection.
func (sess *session) reconnect() {
	if sess.conn != nil && len(sess.cursors) == 0 {
		sess.conn.Close()
		sess.conn = nil
	}
}

func (sess *session) close() {
	for id, c := range sess.cursors {
		c.Close()
		delete(sess.cursors, id)
	}
	if sess.conn != nil {
		sess.conn.Close()
	}
}

// handle runs req and returns the response to send, if any. Queued
// operations write their acknowledgement themselves.
func (sess *session) handle(req Request) (Response, bool) {
	resp, err := sess.dispatch(req)
	switch {
	case errors.Is(err, errAlreadySent):
		return Response{}, false
	case err != nil:
		return failure(req.ID, err), true
	}
	return resp, true
}

func (sess *session) dispatch(req Request) (Response, error) {
	switch req.Op {
	case OpSet:
		ref, err := parseRef(req.Ref)
		if err != nil {
			return Response{}, err
		}
		if err := sess.connection().Set(ref, []byte(req.Data)); err != nil {
			return Response{}, err
		}
		return success(req.ID, TypeResult, nil), nil

	case OpGet:
		ref, err := parseRef(req.Ref)
		if err != nil {
			return Response{}, err
		}
		data, ok, err := sess.connection().Get(ref)
		if err != nil {
			return Response{}, err
		}
		return success(req.ID, TypeResult, NodeResponse{Defined: ok, Data: string(data)}), nil

	case OpKill:
		ref, err := parseRef(req.Ref)
		if err != nil {
			return Response{}, err
		}
		if err := sess.connection().Kill(ref); err != nil {
			return Response{}, err
		}
		return success(req.ID, TypeResult, nil), nil

	case OpGlobals:
		names, err := sess.connection().Globals()
		if err != nil {
			return Response{}, err
		}
		if names == nil {
			names = []string{}
		}
		return success(req.ID, TypeResult, GlobalsResponse{Globals: names}), nil

	case OpOpen:
		start, options, err := startOf(req)
		if err != nil {
			return Response{}, err
		}
		c, err := cursor.New(sess.connection(), start, options)
		if err != nil {
			return Response{}, err
		}
		sess.nextCursor++
		sess.cursors[sess.nextCursor] = c
		return success(req.ID, TypeResult, OpenResponse{Cursor: sess.nextCursor, Context: c.Kind().String()}), nil

	case OpReset:
		c, err := sess.cursor(req.Cursor)
		if err != nil {
			return Response{}, err
		}
		start, options, err := startOf(req)
		if err != nil {
			return Response{}, err
		}
		if err := c.Reset(start, options); err != nil {
			return Response{}, err
		}
		return success(req.ID, TypeResult, nil), nil

	case OpNext, OpPrevious:
		c, err := sess.cursor(req.Cursor)
		if err != nil {
			return Response{}, err
		}
		step := c.Next
		if req.Op == OpPrevious {
			step = c.Previous
		}
		v, err := step()
		if err != nil {
			return Response{}, err
		}
		return success(req.ID, TypeResult, stepResponse(v)), nil

	case OpExecute, OpCleanup:
		c, err := sess.cursor(req.Cursor)
		if err != nil {
			return Response{}, err
		}
		run := c.Execute
		if req.Op == OpCleanup {
			run = c.Cleanup
		}
		if req.Async {
			return sess.queue(req, run)
		}
		res, err := run(req.Args...)
		if err != nil {
			return Response{}, err
		}
		resp := success(req.ID, TypeResult, res)
		resp.Success = res.Err == nil
		resp.Error = res.Error
		return resp, nil

	case OpClose:
		c, err := sess.cursor(req.Cursor)
		if err != nil {
			return Response{}, err
		}
		if err := c.Close(); err != nil {
			return Response{}, err
		}
		delete(sess.cursors, req.Cursor)
		return success(req.ID, TypeResult, nil), nil

	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
	}
}

// queue submits an execute or cleanup and returns the queued
// acknowledgement. writeMu is held until the acknowledgement is written
// so the callback frame always follows it.
func (sess *session) queue(req Request, run func(args ...any) (*cursor.Result, error)) (Response, error) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	log := sess.server.log
	callback := cursor.Callback(func(res *cursor.Result) {
		resp := success(req.ID, TypeCallback, res)
		resp.Success = res.Err == nil
		resp.Error = res.Error
		if err := sess.send(resp); err != nil {
			log.Debugw("Dropped callback", "id", req.ID, "err", err)
			return
		}
		log.Debugw("Callback delivered", "id", req.ID, "op", req.Op)
	})

	args := append(append([]any{}, req.Args...), callback)
	if _, err := run(args...); err != nil {
		return Response{}, err
	}
	if err := sess.write(success(req.ID, TypeQueued, nil)); err != nil {
		return Response{}, err
	}
	return Response{}, errAlreadySent
}

var errAlreadySent = errors.New("response already sent")

func (sess *session) cursor(id int) (*cursor.Cursor, error) {
	c, ok := sess.cursors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCursor, cursorName(id))
	}
	return c, nil
}

func parseRef(s string) (core.Reference, error) {
	if s == "" {
		return core.Reference{}, ErrMissingRef
	}
	return core.ParseReference(s)
}

// startOf converts a request into cursor reset arguments.
func startOf(req Request) (any, core.Options, error) {
	options, err := req.Options.options()
	if err != nil {
		return nil, options, err
	}
	if req.SQL != "" {
		return core.SQLQuery{SQL: req.SQL, Args: req.Args}, options, nil
	}
	if req.Ref == "" && !options.GlobalDirectory {
		return nil, options, ErrMissingRef
	}
	return req.Ref, options, nil
}
