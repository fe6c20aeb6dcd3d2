// Package pebble stores globals in a pebble LSM tree. Every node with
// data is one record whose key encodes the node's reference in
// collation order, so sibling order and depth-first traversal are plain
// key seeks.
package pebble

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/nickyhof/GlobalDB/core"
)

type Store struct {
	pebble *pebble.DB
	wMutex *sync.Mutex
}

// New opens a store at the given path
func New(path string, logger pebble.Logger) (*Store, error) {
	return newPebble(path, &pebble.Options{Logger: logger})
}

// NewMem opens a new in-memory store
func NewMem() (*Store, error) {
	return newPebble("", &pebble.Options{
		FS: vfs.NewMem(),
	})
}

func newPebble(path string, options *pebble.Options) (*Store, error) {
	pDB, err := pebble.Open(path, options)
	if err != nil {
		return nil, err
	}
	return &Store{pebble: pDB, wMutex: new(sync.Mutex)}, nil
}

func (s *Store) Close() error {
	return s.pebble.Close()
}

func (s *Store) Get(ref core.Reference) ([]byte, bool, error) {
	if err := ref.Validate(); err != nil {
		return nil, false, err
	}
	key, err := encodeRef(ref)
	if err != nil {
		return nil, false, err
	}

	val, closer, err := s.pebble.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	data := append([]byte{}, val...)
	return data, true, closer.Close()
}

func (s *Store) Set(ref core.Reference, data []byte) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	key, err := encodeRef(ref)
	if err != nil {
		return err
	}

	s.wMutex.Lock()
	defer s.wMutex.Unlock()
	return s.pebble.Set(key, data, pebble.Sync)
}

func (s *Store) Kill(ref core.Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	key, err := encodeRef(ref)
	if err != nil {
		return err
	}

	s.wMutex.Lock()
	defer s.wMutex.Unlock()
	return s.pebble.DeleteRange(key, upperBound(key), pebble.Sync)
}

func (s *Store) Globals() ([]string, error) {
	iter, err := s.pebble.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for valid := iter.First(); valid; {
		key := iter.Key()
		end := bytes.IndexByte(key, 0x00)
		if end < 0 {
			return nil, fmt.Errorf("%w: %q has no global terminator", ErrCorruptKey, key)
		}
		name := string(key[:end])
		names = append(names, name)
		valid = iter.SeekGE(upperBound(encodeGlobal(nil, name)))
	}
	return names, iter.Error()
}

func (s *Store) Order(ref core.Reference, dir core.Direction) ([]byte, bool, error) {
	if len(ref.Keys) == 0 {
		return nil, false, fmt.Errorf("order on %s: %w", ref, core.ErrEmptySubscript)
	}
	parentRef := ref.Parent()
	if err := parentRef.Validate(); err != nil {
		return nil, false, err
	}
	parent, err := encodeRef(parentRef)
	if err != nil {
		return nil, false, err
	}

	iter, err := s.pebble.NewIter(&pebble.IterOptions{
		LowerBound: parent,
		UpperBound: upperBound(parent),
	})
	if err != nil {
		return nil, false, err
	}
	defer iter.Close()

	last := ref.Last()
	var valid bool
	switch {
	case len(last) == 0 && dir == core.Backward:
		valid = iter.Last()
	case len(last) == 0:
		valid = iter.First()
	default:
		start, err := encodeSubscript(append([]byte(nil), parent...), last)
		if err != nil {
			return nil, false, err
		}
		if dir == core.Backward {
			valid = iter.SeekLT(start)
		} else {
			valid = iter.SeekGE(upperBound(start))
		}
	}

	// The parent's own record is not a child.
	if valid && len(iter.Key()) == len(parent) {
		if dir == core.Backward {
			valid = false
		} else {
			valid = iter.Next()
		}
	}
	if !valid {
		return nil, false, iter.Error()
	}

	sub, _, err := decodeSubscript(iter.Key()[len(parent):])
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// Query walks data nodes in depth-first pre-order. Trailing empty
// subscripts are ignored; from the bare global it returns the first or
// the last data node.
func (s *Store) Query(ref core.Reference, dir core.Direction) (core.Reference, bool, error) {
	ref = ref.TrimEmpty()
	if err := ref.Validate(); err != nil {
		return core.Reference{}, false, err
	}
	start, err := encodeRef(ref)
	if err != nil {
		return core.Reference{}, false, err
	}

	global := encodeGlobal(nil, ref.Global)
	iter, err := s.pebble.NewIter(&pebble.IterOptions{
		// The bare global's own record is never a query result.
		LowerBound: append(append([]byte(nil), global...), tagNumber),
		UpperBound: upperBound(global),
	})
	if err != nil {
		return core.Reference{}, false, err
	}
	defer iter.Close()

	var valid bool
	switch {
	case dir == core.Backward && len(ref.Keys) == 0:
		valid = iter.Last()
	case dir == core.Backward:
		valid = iter.SeekLT(start)
	default:
		valid = iter.SeekGE(start)
		if valid && bytes.Equal(iter.Key(), start) {
			valid = iter.Next()
		}
	}
	if !valid {
		return core.Reference{}, false, iter.Error()
	}

	keys, err := decodeKeys(iter.Key()[len(global):])
	if err != nil {
		return core.Reference{}, false, err
	}
	return core.Reference{Global: ref.Global, Keys: keys}, true, nil
}
