// Package ps provides the git-backed globals store.
//
// The store is backed by Git, using go-git for storage. Every write
// creates a commit, so the history of every global is kept.
//
// # Layout
//
// Each global is a top-level directory. Each subscript is a nested
// directory whose name is the path-escaped subscript. A node that holds
// data has a blob named "%" in its directory:
//
//	^Customer("London",1)="Alice"  ->  Customer/London/1/%
//
// # Memory Persistence
//
// For testing or ephemeral databases:
//
//	persistence, err := ps.NewMemoryPersistence()
//	store := ps.NewGlobalStore(persistence, identity)
//
// # File Persistence
//
//	persistence, err := ps.NewFilePersistence("/path/to/data", nil)
//
// # Transaction Batching
//
// Several writes can share one commit:
//
//	txn, _ := store.BeginTransaction()
//	txn.AddSet(ref1, data1)
//	txn.AddKill(ref2)
//	result, _ := txn.Commit()
//
// # History
//
// Snapshot tags a commit and Recover moves the branch back to it.
// RestoreGlobal rewinds a single global and records the rewind as a new
// commit. Branches, remotes, Push and Pull expose the underlying
// repository so a store can be shared between servers.
package ps
