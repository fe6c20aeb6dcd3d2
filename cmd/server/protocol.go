// Package main provides a TCP cursor server for GlobalDB.
package main

import (
	"encoding/json"
	"strconv"

	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/format"
)

// Operations accepted in Request.Op.
const (
	OpSet      = "set"
	OpGet      = "get"
	OpKill     = "kill"
	OpOpen     = "open"
	OpReset    = "reset"
	OpNext     = "next"
	OpPrevious = "previous"
	OpExecute  = "execute"
	OpCleanup  = "cleanup"
	OpClose    = "close"
	OpGlobals  = "globals"
)

// Response types.
const (
	TypeResult   = "result"
	TypeQueued   = "queued"
	TypeCallback = "callback"
	TypeAuth     = "auth"
)

// Request is one operation from the client. Ref is a reference such as
// ^Customer(1,"name"); SQL starts an SQL cursor instead.
type Request struct {
	ID      int64    `json:"id,omitempty"`
	Op      string   `json:"op" validate:"required"`
	Cursor  int      `json:"cursor,omitempty" validate:"gte=0"`
	Ref     string   `json:"ref,omitempty" validate:"omitempty,globalref"`
	Data    string   `json:"data,omitempty"`
	SQL     string   `json:"sql,omitempty"`
	Args    []any    `json:"args,omitempty"`
	Options *Options `json:"options,omitempty"`
	Async   bool     `json:"async,omitempty"`
}

// Options selects the cursor context and output format.
type Options struct {
	GetData         bool   `json:"getdata,omitempty"`
	Multilevel      bool   `json:"multilevel,omitempty"`
	GlobalDirectory bool   `json:"globaldirectory,omitempty"`
	Format          string `json:"format,omitempty" validate:"omitempty,oneof=native url encoded"`
}

func (o *Options) options() (core.Options, error) {
	if o == nil {
		return core.Options{}, nil
	}
	f, err := core.ParseFormat(o.Format)
	if err != nil {
		return core.Options{}, err
	}
	return core.Options{
		GetData:         o.GetData,
		Multilevel:      o.Multilevel,
		GlobalDirectory: o.GlobalDirectory,
		Format:          f,
	}, nil
}

// Response represents the server's response to a request. Async
// operations get a "queued" response and later a "callback" response
// with the same ID.
type Response struct {
	ID      int64           `json:"id,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Type    string          `json:"type,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// NodeResponse is the result of get.
type NodeResponse struct {
	Defined bool   `json:"defined"`
	Data    string `json:"data,omitempty"`
}

// OpenResponse is the result of open.
type OpenResponse struct {
	Cursor  int    `json:"cursor"`
	Context string `json:"context"`
}

// StepResponse is the result of next and previous. End is set once the
// cursor has run past either end.
type StepResponse struct {
	End     bool              `json:"end,omitempty"`
	Global  string            `json:"global,omitempty"`
	Key     string            `json:"key,omitempty"`
	Keys    []string          `json:"keys,omitempty"`
	Data    *string           `json:"data,omitempty"`
	Name    string            `json:"name,omitempty"`
	Columns []string          `json:"columns,omitempty"`
	Row     map[string]string `json:"row,omitempty"`
	Encoded string            `json:"encoded,omitempty"`
}

// GlobalsResponse is the result of globals.
type GlobalsResponse struct {
	Globals []string `json:"globals"`
}

// AuthResponse is the result of a successful AUTH command.
type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity"`
	ExpiresIn     int    `json:"expires_in,omitempty"`
}

func stepResponse(v format.Value) StepResponse {
	switch v := v.(type) {
	case nil:
		return StepResponse{End: true}
	case format.Key:
		return StepResponse{Key: string(v)}
	case format.KeyData:
		data := string(v.Data)
		return StepResponse{Key: string(v.Key), Data: &data}
	case format.Node:
		r := StepResponse{Global: v.Global, Keys: make([]string, len(v.Keys))}
		for i, k := range v.Keys {
			r.Keys[i] = string(k)
		}
		if v.HasData {
			data := string(v.Data)
			r.Data = &data
		}
		return r
	case format.Name:
		return StepResponse{Name: string(v)}
	case format.Row:
		return StepResponse{Columns: v.Columns, Row: v.Map()}
	case format.Encoded:
		return StepResponse{Encoded: string(v)}
	default:
		return StepResponse{Encoded: format.String(v)}
	}
}

// EncodeResponse serializes a Response to JSON with a newline.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a JSON request from a byte slice.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	return req, Validator().Struct(req)
}

func success(id int64, typ string, result any) Response {
	resp := Response{ID: id, Success: true, Type: typ}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return failure(id, err)
		}
		resp.Result = data
	}
	return resp
}

func failure(id int64, err error) Response {
	return Response{ID: id, Success: false, Type: TypeResult, Error: err.Error()}
}

func cursorName(id int) string {
	return "cursor " + strconv.Itoa(id)
}
