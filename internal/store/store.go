// Package store owns all durable state: accounts, balances, the
// transaction log, login-attempt counters, MFA challenges, sessions and
// login history. Services receive a Store so a transactional backend and
// an isolated in-memory instance are interchangeable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerline/bankcore/internal/domain"
)

// ErrAccountNumberTaken reports a uniqueness violation on the generated
// account number. Callers regenerate and retry; an email conflict is
// domain.ErrAlreadyExists and is never retried.
var ErrAccountNumberTaken = errors.New("account number taken")

// Store is the record-store boundary consumed by the services. The ledger
// service is the sole writer of balances and transactions; the auth
// service is the sole writer of attempts, challenges, sessions and
// history.
type Store interface {
	// CreateAccount inserts the account, seeds its balance with the
	// initial deposit and appends the deposit's credit transaction as one
	// unit of work. Uniqueness of email and account number is enforced by
	// the insert itself, not by a prior existence check.
	CreateAccount(ctx context.Context, acct domain.Account, deposit domain.Transaction) error
	AccountByID(ctx context.Context, id string) (*domain.Account, error)
	AccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	AccountByNumber(ctx context.Context, number string) (*domain.Account, error)

	Balance(ctx context.Context, accountID string) (domain.Cents, error)
	// Transactions lists an account's log newest first. A limit <= 0 means
	// no limit.
	Transactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error)
	// ExecTransfer applies both legs of a transfer atomically: the funds
	// check, both appends and both balance updates either all happen or
	// none do. Returns the sender's balance after the debit. The
	// recipient's balance record is created if it does not exist.
	ExecTransfer(ctx context.Context, debit, credit domain.Transaction) (domain.Cents, error)

	LoginAttempt(ctx context.Context, email string) (*domain.LoginAttempt, error)
	// RecordLoginFailure atomically increments the failure counter and
	// refreshes its timestamp, starting over at 1 when the previous
	// failure is older than window. Returns the new count.
	RecordLoginFailure(ctx context.Context, email string, at time.Time, window time.Duration) (int, error)
	ResetLoginAttempts(ctx context.Context, email string) error

	// PutChallenge stores the identity's live challenge, overwriting any
	// prior one. Last writer wins.
	PutChallenge(ctx context.Context, ch domain.MFAChallenge) error
	Challenge(ctx context.Context, email string) (*domain.MFAChallenge, error)
	DeleteChallenge(ctx context.Context, email string) error

	CreateSession(ctx context.Context, s domain.Session) error

	AppendLoginHistory(ctx context.Context, e domain.LoginHistoryEntry) error
	LoginHistory(ctx context.Context, accountID string) ([]domain.LoginHistoryEntry, error)

	Close()
}
