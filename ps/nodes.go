package ps

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/nickyhof/GlobalDB/core"
)

// dataEntry is the blob holding a node's data inside the node's tree.
// Subscript names are escaped, so no subscript maps to it.
const dataEntry = "%"

// GlobalStore stores globals as a git tree: one top-level directory per
// global, one nested directory per subscript and a data blob per node
// that holds data. Every write is a commit made by the store identity.
type GlobalStore struct {
	persistence *Persistence
	identity    core.Identity
}

func NewGlobalStore(persistence *Persistence, identity core.Identity) *GlobalStore {
	return &GlobalStore{persistence: persistence, identity: identity}
}

func (s *GlobalStore) Persistence() *Persistence { return s.persistence }

// escapeName maps a subscript to a tree entry name.
func escapeName(key []byte) string {
	return strings.ReplaceAll(url.PathEscape(string(key)), ".", "%2E")
}

func unescapeName(name string) ([]byte, error) {
	s, err := url.PathUnescape(name)
	if err != nil {
		return nil, fmt.Errorf("corrupt subscript entry %q: %w", name, err)
	}
	return []byte(s), nil
}

// nodePath is the slash separated tree path of ref.
func nodePath(ref core.Reference) string {
	parts := make([]string, 0, len(ref.Keys)+1)
	parts = append(parts, ref.Global)
	for _, k := range ref.Keys {
		parts = append(parts, escapeName(k))
	}
	return path.Join(parts...)
}

func (s *GlobalStore) Get(ref core.Reference) ([]byte, bool, error) {
	if err := ref.Validate(); err != nil {
		return nil, false, err
	}
	s.persistence.RLock()
	defer s.persistence.RUnlock()

	root, err := s.persistence.headTree()
	if err != nil || root == nil {
		return nil, false, err
	}

	file, err := root.File(path.Join(nodePath(ref), dataEntry))
	if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read contents of %s: %w", ref, err)
	}
	return []byte(content), true, nil
}

func (s *GlobalStore) Set(ref core.Reference, data []byte) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	s.persistence.Lock()
	defer s.persistence.Unlock()

	blob, err := s.persistence.createBlob(data)
	if err != nil {
		return err
	}
	_, err = s.persistence.applyChanges([]TreeChange{{
		Path:     path.Join(nodePath(ref), dataEntry),
		BlobHash: blob,
	}}, s.identity, "Set "+ref.String())
	return err
}

func (s *GlobalStore) Kill(ref core.Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	s.persistence.Lock()
	defer s.persistence.Unlock()

	_, err := s.persistence.applyChanges([]TreeChange{{
		Path:     nodePath(ref),
		IsDelete: true,
	}}, s.identity, "Kill "+ref.String())
	return err
}

func (s *GlobalStore) Globals() ([]string, error) {
	s.persistence.RLock()
	defer s.persistence.RUnlock()

	root, err := s.persistence.headTree()
	if err != nil || root == nil {
		return nil, err
	}

	var names []string
	for _, entry := range root.Entries {
		if entry.Mode == filemode.Dir {
			names = append(names, entry.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *GlobalStore) Order(ref core.Reference, dir core.Direction) ([]byte, bool, error) {
	if len(ref.Keys) == 0 {
		return nil, false, fmt.Errorf("order on %s: %w", ref, core.ErrEmptySubscript)
	}
	if err := ref.Parent().Validate(); err != nil {
		return nil, false, err
	}
	s.persistence.RLock()
	defer s.persistence.RUnlock()

	trees, err := s.trail(ref.Parent())
	if err != nil || len(trees) != len(ref.Keys) {
		return nil, false, err
	}

	children, err := childrenOf(trees[len(trees)-1])
	if err != nil {
		return nil, false, err
	}
	last := ref.Last()
	if len(last) == 0 {
		if len(children) == 0 {
			return nil, false, nil
		}
		if dir == core.Backward {
			return children[len(children)-1].key, true, nil
		}
		return children[0].key, true, nil
	}

	if dir == core.Backward {
		for i := len(children) - 1; i >= 0; i-- {
			if core.Collate(children[i].key, last) < 0 {
				return children[i].key, true, nil
			}
		}
		return nil, false, nil
	}
	for _, c := range children {
		if core.Collate(c.key, last) > 0 {
			return c.key, true, nil
		}
	}
	return nil, false, nil
}

// Query walks data nodes in depth-first pre-order. Trailing empty
// subscripts are ignored; from the bare global it returns the first or
// the last data node.
func (s *GlobalStore) Query(ref core.Reference, dir core.Direction) (core.Reference, bool, error) {
	ref = ref.TrimEmpty()
	if err := ref.Validate(); err != nil {
		return core.Reference{}, false, err
	}
	s.persistence.RLock()
	defer s.persistence.RUnlock()

	trees, err := s.trail(ref)
	if err != nil || len(trees) == 0 {
		return core.Reference{}, false, err
	}

	var keys [][]byte
	var found bool
	if dir == core.Backward {
		keys, found, err = queryBackward(trees, ref.Keys)
	} else {
		keys, found, err = queryForward(trees, ref.Keys)
	}
	if err != nil || !found {
		return core.Reference{}, false, err
	}
	return core.Reference{Global: ref.Global, Keys: keys}, true, nil
}

// trail returns the trees along ref starting at the global's tree. It
// stops at the first missing node, so len(trees) == len(ref.Keys)+1
// only when the node exists.
func (s *GlobalStore) trail(ref core.Reference) ([]*object.Tree, error) {
	root, err := s.persistence.headTree()
	if err != nil || root == nil {
		return nil, err
	}

	t, err := subtree(root, ref.Global)
	if err != nil || t == nil {
		return nil, err
	}
	trees := []*object.Tree{t}
	for _, k := range ref.Keys {
		t, err = subtree(t, escapeName(k))
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		trees = append(trees, t)
	}
	return trees, nil
}

type child struct {
	key  []byte
	name string
}

func subtree(t *object.Tree, name string) (*object.Tree, error) {
	entry, err := t.FindEntry(name)
	if err != nil || entry.Mode != filemode.Dir {
		return nil, nil
	}
	sub, err := t.Tree(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree %s: %w", name, err)
	}
	return sub, nil
}

// childrenOf lists the subscripts below t in collation order.
func childrenOf(t *object.Tree) ([]child, error) {
	var children []child
	for _, entry := range t.Entries {
		if entry.Mode != filemode.Dir {
			continue
		}
		key, err := unescapeName(entry.Name)
		if err != nil {
			return nil, err
		}
		children = append(children, child{key: key, name: entry.Name})
	}
	sort.Slice(children, func(i, j int) bool {
		return core.Collate(children[i].key, children[j].key) < 0
	})
	return children, nil
}

func hasData(t *object.Tree) bool {
	entry, err := t.FindEntry(dataEntry)
	return err == nil && entry.Mode != filemode.Dir
}

func extend(prefix [][]byte, key []byte) [][]byte {
	keys := make([][]byte, len(prefix), len(prefix)+1)
	copy(keys, prefix)
	return append(keys, key)
}

// firstData returns the first data node strictly below t.
func firstData(t *object.Tree, prefix [][]byte) ([][]byte, bool, error) {
	children, err := childrenOf(t)
	if err != nil {
		return nil, false, err
	}
	for _, c := range children {
		sub, err := subtree(t, c.name)
		if err != nil {
			return nil, false, err
		}
		keys := extend(prefix, c.key)
		if hasData(sub) {
			return keys, true, nil
		}
		if found, ok, err := firstData(sub, keys); err != nil || ok {
			return found, ok, err
		}
	}
	return nil, false, nil
}

// lastData returns the last data node strictly below t in pre-order.
func lastData(t *object.Tree, prefix [][]byte) ([][]byte, bool, error) {
	children, err := childrenOf(t)
	if err != nil {
		return nil, false, err
	}
	for i := len(children) - 1; i >= 0; i-- {
		sub, err := subtree(t, children[i].name)
		if err != nil {
			return nil, false, err
		}
		keys := extend(prefix, children[i].key)
		if found, ok, err := lastData(sub, keys); err != nil || ok {
			return found, ok, err
		}
		if hasData(sub) {
			return keys, true, nil
		}
	}
	return nil, false, nil
}

func queryForward(trees []*object.Tree, keys [][]byte) ([][]byte, bool, error) {
	if len(trees) == len(keys)+1 {
		if found, ok, err := firstData(trees[len(trees)-1], keys); err != nil || ok {
			return found, ok, err
		}
	}

	for level := len(keys); level >= 1; level-- {
		if level-1 >= len(trees) {
			continue
		}
		parent := trees[level-1]
		children, err := childrenOf(parent)
		if err != nil {
			return nil, false, err
		}
		for _, c := range children {
			if core.Collate(c.key, keys[level-1]) <= 0 {
				continue
			}
			sub, err := subtree(parent, c.name)
			if err != nil {
				return nil, false, err
			}
			next := extend(keys[:level-1], c.key)
			if hasData(sub) {
				return next, true, nil
			}
			if found, ok, err := firstData(sub, next); err != nil || ok {
				return found, ok, err
			}
		}
	}
	return nil, false, nil
}

func queryBackward(trees []*object.Tree, keys [][]byte) ([][]byte, bool, error) {
	if len(keys) == 0 {
		return lastData(trees[0], nil)
	}

	for level := len(keys); level >= 1; level-- {
		if level-1 >= len(trees) {
			continue
		}
		parent := trees[level-1]
		children, err := childrenOf(parent)
		if err != nil {
			return nil, false, err
		}
		for i := len(children) - 1; i >= 0; i-- {
			c := children[i]
			if core.Collate(c.key, keys[level-1]) >= 0 {
				continue
			}
			sub, err := subtree(parent, c.name)
			if err != nil {
				return nil, false, err
			}
			prev := extend(keys[:level-1], c.key)
			if found, ok, err := lastData(sub, prev); err != nil || ok {
				return found, ok, err
			}
			if hasData(sub) {
				return prev, true, nil
			}
		}
		if level > 1 && hasData(parent) {
			return append([][]byte(nil), keys[:level-1]...), true, nil
		}
	}
	return nil, false, nil
}
