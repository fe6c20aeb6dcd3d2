package conn

import "github.com/nickyhof/GlobalDB/core"

// Store is the node storage behind a Local connection. Subscripts are
// ordered with core.Collate.
type Store interface {
	// Get returns the data of the node at ref; ok is false if the node
	// holds no data.
	Get(ref core.Reference) (data []byte, ok bool, err error)
	Set(ref core.Reference, data []byte) error
	// Kill removes the node at ref and all of its descendants.
	Kill(ref core.Reference) error
	// Order returns the sibling subscript next to ref.Last() in direction
	// dir. An empty last subscript starts from the respective end.
	Order(ref core.Reference, dir core.Direction) (sub []byte, ok bool, err error)
	// Query returns the data node next to ref in depth-first order.
	Query(ref core.Reference, dir core.Direction) (next core.Reference, ok bool, err error)
	// Globals lists global names in ascending order.
	Globals() ([]string, error)
}
