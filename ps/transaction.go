package ps

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// Transaction is one commit of the store.
type Transaction struct {
	Id     string
	When   time.Time
	Author string // "Name <email>" format
}

func (transaction Transaction) String() string {
	return fmt.Sprintf("Transaction{Id: %s, When: %s, Author: %s}", transaction.Id, transaction.When, transaction.Author)
}

func (persistence *Persistence) LatestTransaction() Transaction {
	headRef, err := persistence.repo.Head()
	if err != nil || headRef == nil {
		return Transaction{}
	}

	commit, err := persistence.repo.CommitObject(headRef.Hash())
	if err != nil {
		return Transaction{}
	}

	return transactionOf(commit)
}

// TransactionsSince lists commits made at or after asof, newest first.
func (persistence *Persistence) TransactionsSince(asof time.Time) []Transaction {
	var transactions []Transaction

	cIter, err := persistence.repo.Log(&git.LogOptions{
		Since: &asof,
	})
	if err != nil {
		return nil
	}

	cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, transactionOf(c))
		return nil
	})

	return transactions
}

func transactionOf(c *object.Commit) Transaction {
	author := ""
	if c.Author.Name != "" || c.Author.Email != "" {
		author = fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)
	}
	return Transaction{
		Id:     c.Hash.String(),
		When:   c.Committer.When,
		Author: author,
	}
}
