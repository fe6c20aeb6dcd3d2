package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nickyhof/GlobalDB/conn"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/cursor"
	"github.com/nickyhof/GlobalDB/format"
)

var ErrMalformedLine = errors.New("malformed dump line")

// maxLine bounds a single dump line.
const maxLine = 64 << 20

// Setter stores a node. conn.Local and every conn.Store satisfy it.
type Setter interface {
	Set(ref core.Reference, data []byte) error
}

// Dump writes every data node of global to w, one encoded line per node
// in traversal order, and returns the number of nodes written.
func Dump(ctx context.Context, connection conn.Connection, global string, w io.Writer) (int, error) {
	c, err := cursor.New(connection, core.Query{Global: global},
		core.Options{Multilevel: true, GetData: true, Format: core.Encoded})
	if err != nil {
		return 0, err
	}
	defer c.Close()

	bw := bufio.NewWriter(w)
	n := 0
	for {
		v, err := c.NextContext(ctx)
		if err != nil {
			return n, fmt.Errorf("dump ^%s: %w", global, err)
		}
		if v == nil {
			break
		}
		line, ok := v.(format.Encoded)
		if !ok {
			return n, fmt.Errorf("dump ^%s: unexpected value %T", global, v)
		}
		bw.WriteString(string(line))
		if err := bw.WriteByte('\n'); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

// Load reads lines written by Dump and stores them under global. It
// returns the number of nodes stored.
func Load(ctx context.Context, store Setter, global string, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	n, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		ref, data, err := parseLine(global, line)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := store.Set(ref, data); err != nil {
			return n, fmt.Errorf("line %d: set %s: %w", lineNo, ref, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	return n, nil
}

// parseLine expects key1..keyN in order, optionally followed by data.
func parseLine(global, line string) (core.Reference, []byte, error) {
	pairs, err := format.Decode(line)
	if err != nil {
		return core.Reference{}, nil, err
	}

	ref := core.Reference{Global: global}
	var data []byte
	for i, p := range pairs {
		if p.Name == "data" && i == len(pairs)-1 {
			data = p.Value
			break
		}
		if p.Name != "key"+strconv.Itoa(i+1) {
			return core.Reference{}, nil, fmt.Errorf("%w: unexpected field %q", ErrMalformedLine, p.Name)
		}
		ref.Keys = append(ref.Keys, p.Value)
	}
	if err := ref.Validate(); err != nil {
		return core.Reference{}, nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return ref, data, nil
}

// DumpTo dumps global to path. See OpenWriter for the accepted paths.
func DumpTo(ctx context.Context, connection conn.Connection, global, path string, cfg *S3Config) (n int, err error) {
	w, err := OpenWriter(ctx, path, cfg)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	return Dump(ctx, connection, global, w)
}

// LoadFrom loads a dump at path into global. See OpenReader for the
// accepted paths.
func LoadFrom(ctx context.Context, store Setter, global, path string, cfg *S3Config) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, fmt.Errorf("load ^%s: empty path", global)
	}
	r, err := OpenReader(ctx, path, cfg)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return Load(ctx, store, global, r)
}
