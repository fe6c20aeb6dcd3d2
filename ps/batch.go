package ps

import (
	"errors"
	"fmt"
	"path"

	"github.com/nickyhof/GlobalDB/core"
)

var (
	ErrTransactionNotStarted = errors.New("transaction not started")
	ErrNoOperations          = errors.New("no operations to commit")
)

// Operation represents a single write operation in a transaction
type Operation struct {
	Type OperationType
	Ref  core.Reference
	Data []byte
}

type OperationType int

const (
	SetOp OperationType = iota
	KillOp
)

// TransactionBuilder batches node writes into a single commit.
type TransactionBuilder struct {
	store      *GlobalStore
	operations []Operation
	started    bool
}

func (s *GlobalStore) BeginTransaction() (*TransactionBuilder, error) {
	if err := s.persistence.ensureInitialized(); err != nil {
		return nil, err
	}

	return &TransactionBuilder{
		store:   s,
		started: true,
	}, nil
}

func (tb *TransactionBuilder) AddSet(ref core.Reference, data []byte) error {
	if !tb.started {
		return ErrTransactionNotStarted
	}
	if err := ref.Validate(); err != nil {
		return err
	}

	tb.operations = append(tb.operations, Operation{Type: SetOp, Ref: ref.Clone(), Data: data})
	return nil
}

func (tb *TransactionBuilder) AddKill(ref core.Reference) error {
	if !tb.started {
		return ErrTransactionNotStarted
	}
	if err := ref.Validate(); err != nil {
		return err
	}

	tb.operations = append(tb.operations, Operation{Type: KillOp, Ref: ref.Clone()})
	return nil
}

// Commit applies all batched operations in order as one commit.
func (tb *TransactionBuilder) Commit() (Transaction, error) {
	if !tb.started {
		return Transaction{}, ErrTransactionNotStarted
	}
	if len(tb.operations) == 0 {
		return Transaction{}, ErrNoOperations
	}

	p := tb.store.persistence
	p.Lock()
	defer p.Unlock()

	// Kills apply in order relative to sets: a batch groups changes by
	// directory and would otherwise lose a set made before a kill.
	currentTree, err := p.getCurrentTree()
	if err != nil {
		return Transaction{}, err
	}
	var pending []TreeChange
	for _, op := range tb.operations {
		switch op.Type {
		case SetOp:
			blob, err := p.createBlob(op.Data)
			if err != nil {
				return Transaction{}, fmt.Errorf("failed to create blob for %s: %w", op.Ref, err)
			}
			pending = append(pending, TreeChange{Path: path.Join(nodePath(op.Ref), dataEntry), BlobHash: blob})
		case KillOp:
			kill := TreeChange{Path: nodePath(op.Ref), IsDelete: true}
			for _, changes := range [][]TreeChange{pending, {kill}} {
				if currentTree, err = p.batchUpdateTree(currentTree, changes); err != nil {
					return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
				}
			}
			pending = nil
		}
	}
	newTree, err := p.batchUpdateTree(currentTree, pending)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}

	message := fmt.Sprintf("Batch transaction: %d operation(s)", len(tb.operations))
	txn, err := p.createCommitDirect(newTree, tb.store.identity, message)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to commit: %w", err)
	}

	if err := p.syncWorktree(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync worktree: %w", err)
	}

	tb.started = false
	tb.operations = nil

	return txn, nil
}

// Rollback discards all batched operations without committing
func (tb *TransactionBuilder) Rollback() {
	tb.started = false
	tb.operations = nil
}

func (tb *TransactionBuilder) OperationCount() int {
	return len(tb.operations)
}
