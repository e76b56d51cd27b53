// Package directory is the account store and append-only transaction history
// the risk pipeline reads from and commits to.
package directory

import (
	"context"
	"errors"

	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

// ErrAccountNotFound is returned for unknown account ids. Every other error
// from a Directory is an infrastructure failure.
var ErrAccountNotFound = errors.New("account not found")

// Directory is the external account directory and history log.
type Directory interface {
	GetAccount(ctx context.Context, accountID string) (transaction.Account, error)
	SaveAccount(ctx context.Context, acct transaction.Account) error
	AppendHistory(ctx context.Context, accountID string, rec transaction.Record) error
	History(ctx context.Context, accountID string) ([]transaction.Record, error)
	ListAccounts(ctx context.Context) ([]transaction.Account, error)
}

// Committer appends a record and recomputes the account average as one
// atomic step.
type Committer interface {
	Commit(ctx context.Context, accountID string, rec transaction.Record) (transaction.Account, error)
}

// Commit appends rec to the account history and sets the account average to
// the mean of the full history. Directories that implement Committer do it
// atomically; for the rest the caller must hold the account lock.
func Commit(ctx context.Context, d Directory, accountID string, rec transaction.Record) (transaction.Account, error) {
	if c, ok := d.(Committer); ok {
		return c.Commit(ctx, accountID, rec)
	}

	acct, err := d.GetAccount(ctx, accountID)
	if err != nil {
		return transaction.Account{}, err
	}
	if err := d.AppendHistory(ctx, accountID, rec); err != nil {
		return transaction.Account{}, err
	}
	history, err := d.History(ctx, accountID)
	if err != nil {
		return transaction.Account{}, err
	}
	acct.AverageAmount = transaction.Mean(history)
	if err := d.SaveAccount(ctx, acct); err != nil {
		return transaction.Account{}, err
	}
	return acct, nil
}
