package ps

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/nickyhof/GlobalDB/core"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrCurrentBranch    = errors.New("cannot delete the checked out branch")
)

// commitOf resolves asof to a commit hash, HEAD when asof is nil.
func (p *Persistence) commitOf(asof *Transaction) (plumbing.Hash, error) {
	if asof != nil {
		return plumbing.NewHash(asof.Id), nil
	}
	headRef, err := p.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get HEAD: %w", err)
	}
	return headRef.Hash(), nil
}

// Snapshot tags the state of the store at asof, or at HEAD.
func (p *Persistence) Snapshot(name string, asof *Transaction) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()

	hash, err := p.commitOf(asof)
	if err != nil {
		return err
	}
	if _, err := p.repo.CreateTag(name, hash, nil); err != nil {
		return fmt.Errorf("failed to tag %s: %w", name, err)
	}
	return nil
}

// Recover moves the current branch back to a snapshot. Commits made
// after the snapshot are no longer reachable from the branch.
func (p *Persistence) Recover(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()

	ref, err := p.repo.Tag(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	return p.resetTo(ref.Hash())
}

func (p *Persistence) resetTo(hash plumbing.Hash) error {
	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	return wt.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: hash,
	})
}

// RestoreGlobal commits the content one global had at asof, leaving
// every other global untouched. A global absent at asof is removed.
func (p *Persistence) RestoreGlobal(asof Transaction, global string, identity core.Identity) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}
	p.Lock()
	defer p.Unlock()

	commit, err := p.repo.CommitObject(plumbing.NewHash(asof.Id))
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s not found: %w", asof.Id, err)
	}
	past, err := p.getTreeEntries(commit.TreeHash)
	if err != nil {
		return Transaction{}, err
	}

	currentTree, err := p.getCurrentTree()
	if err != nil {
		return Transaction{}, err
	}
	entries, err := p.getTreeEntries(currentTree)
	if err != nil {
		return Transaction{}, err
	}

	before, had := entries[global]
	after, has := past[global]
	if had == has && before.Hash == after.Hash {
		return Transaction{}, nil
	}
	if has {
		entries[global] = after
	} else {
		delete(entries, global)
	}

	newTree := plumbing.ZeroHash
	if len(entries) > 0 {
		list := make([]object.TreeEntry, 0, len(entries))
		for _, entry := range entries {
			list = append(list, entry)
		}
		if newTree, err = p.buildTreeFromEntries(list); err != nil {
			return Transaction{}, err
		}
	}

	txn, err := p.createCommitDirect(newTree, identity, fmt.Sprintf("Restore ^%s as of %s", global, asof.Id))
	if err != nil {
		return Transaction{}, err
	}
	if err := p.syncWorktree(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync worktree: %w", err)
	}
	return txn, nil
}

// Branch creates a branch at HEAD or at a specific transaction.
func (p *Persistence) Branch(name string, from *Transaction) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()

	hash, err := p.commitOf(from)
	if err != nil {
		return err
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	return p.repo.Storer.SetReference(ref)
}

// Checkout switches to an existing branch. Later writes commit to it.
func (p *Persistence) Checkout(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()

	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	return wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	})
}

func (p *Persistence) ListBranches() ([]string, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}
	p.RLock()
	defer p.RUnlock()

	refs, err := p.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	branches := []string{}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, ref.Name().Short())
		return nil
	})
	return branches, err
}

// CurrentBranch returns the checked out branch.
func (p *Persistence) CurrentBranch() (string, error) {
	if err := p.ensureInitialized(); err != nil {
		return "", err
	}

	headRef, err := p.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	if !headRef.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", headRef.Hash().String()[:7])
	}
	return headRef.Name().Short(), nil
}

func (p *Persistence) DeleteBranch(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if current, err := p.CurrentBranch(); err == nil && current == name {
		return fmt.Errorf("%w: %s", ErrCurrentBranch, name)
	}
	p.Lock()
	defer p.Unlock()
	return p.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name))
}
