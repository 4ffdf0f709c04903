package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ledgerline/bankcore/internal/domain"
)

const uniqueViolation = "23505"

// Postgres is the transactional Store backed by pgx.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{db: pool}, nil
}

func (p *Postgres) Close() {
	p.db.Close()
}

// EnsureSchema creates the tables and uniqueness constraints the store
// relies on. Email and account-number uniqueness live here so inserts
// conflict instead of racing a separate existence check.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id             TEXT PRIMARY KEY,
			first_name     TEXT NOT NULL,
			last_name      TEXT NOT NULL,
			email          TEXT NOT NULL UNIQUE,
			secret_hash    TEXT NOT NULL,
			account_number TEXT NOT NULL UNIQUE,
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS balances (
			account_id   TEXT PRIMARY KEY REFERENCES accounts(id),
			amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id           TEXT PRIMARY KEY,
			account_id   TEXT NOT NULL REFERENCES accounts(id),
			kind         TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			description  TEXT NOT NULL,
			reference    TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions (account_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS login_attempts (
			email        TEXT PRIMARY KEY,
			failures     INT NOT NULL,
			last_failure TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS mfa_challenges (
			email      TEXT PRIMARY KEY,
			code       TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS login_history (
			id         BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			outcome    TEXT NOT NULL,
			device     TEXT NOT NULL,
			location   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (p *Postgres) CreateAccount(ctx context.Context, acct domain.Account, deposit domain.Transaction) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, first_name, last_name, email, secret_hash, account_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acct.ID, acct.FirstName, acct.LastName, acct.Email, acct.SecretHash, acct.AccountNumber, acct.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "account_number") {
				return ErrAccountNumberTaken
			}
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("account insert failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO balances (account_id, amount_cents) VALUES ($1, $2)",
		acct.ID, int64(deposit.Amount),
	)
	if err != nil {
		return fmt.Errorf("balance seed failed: %w", err)
	}

	if err := insertTransaction(ctx, tx, deposit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const accountColumns = "id, first_name, last_name, email, secret_hash, account_number, created_at"

func (p *Postgres) accountWhere(ctx context.Context, clause string, arg any) (*domain.Account, error) {
	var acct domain.Account
	err := p.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE "+clause, arg,
	).Scan(&acct.ID, &acct.FirstName, &acct.LastName, &acct.Email, &acct.SecretHash, &acct.AccountNumber, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (p *Postgres) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return p.accountWhere(ctx, "id = $1", id)
}

func (p *Postgres) AccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return p.accountWhere(ctx, "email = $1", email)
}

func (p *Postgres) AccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return p.accountWhere(ctx, "account_number = $1", number)
}

func (p *Postgres) Balance(ctx context.Context, accountID string) (domain.Cents, error) {
	var cents int64
	err := p.db.QueryRow(ctx,
		"SELECT amount_cents FROM balances WHERE account_id = $1", accountID,
	).Scan(&cents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return domain.Cents(cents), nil
}

func (p *Postgres) Transactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	if _, err := p.AccountByID(ctx, accountID); err != nil {
		return nil, err
	}

	query := `SELECT id, account_id, kind, amount_cents, description, reference, created_at
		FROM transactions WHERE account_id = $1 ORDER BY created_at DESC`
	args := []any{accountID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var cents int64
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Kind, &cents, &t.Description, &t.Reference, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Amount = domain.Cents(cents)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ExecTransfer runs the transfer protocol inside one transaction with
// balance rows locked in account-id order, so two concurrent transfers
// touching the same accounts cannot deadlock or interleave the funds
// check with the decrement.
func (p *Postgres) ExecTransfer(ctx context.Context, debit, credit domain.Transaction) (domain.Cents, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := debit.AccountID, credit.AccountID
	if first > second {
		first, second = second, first
	}
	ids := []string{first, second}
	if first == second {
		ids = ids[:1]
	}
	balances := map[string]int64{}
	for _, id := range ids {
		var bal int64
		err := tx.QueryRow(ctx, "SELECT amount_cents FROM balances WHERE account_id = $1 FOR UPDATE", id).Scan(&bal)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Sender must have a balance row; the recipient's is
				// created below on first credit.
				if id == debit.AccountID {
					return 0, domain.ErrNotFound
				}
				continue
			}
			return 0, fmt.Errorf("lock acquisition failed: %w", err)
		}
		balances[id] = bal
	}

	if balances[debit.AccountID] < int64(debit.Amount) {
		return 0, domain.ErrInsufficientFunds
	}

	if err := insertTransaction(ctx, tx, debit); err != nil {
		return 0, err
	}
	if err := insertTransaction(ctx, tx, credit); err != nil {
		return 0, err
	}

	var newBalance int64
	err = tx.QueryRow(ctx,
		"UPDATE balances SET amount_cents = amount_cents - $1 WHERE account_id = $2 RETURNING amount_cents",
		int64(debit.Amount), debit.AccountID,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("debit update failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balances (account_id, amount_cents) VALUES ($1, $2)
		 ON CONFLICT (account_id) DO UPDATE SET amount_cents = balances.amount_cents + EXCLUDED.amount_cents`,
		credit.AccountID, int64(credit.Amount),
	)
	if err != nil {
		return 0, fmt.Errorf("credit update failed: %w", err)
	}
	if credit.AccountID == debit.AccountID {
		newBalance += int64(credit.Amount)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return domain.Cents(newBalance), nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t domain.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, kind, amount_cents, description, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.AccountID, t.Kind, int64(t.Amount), t.Description, t.Reference, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (p *Postgres) LoginAttempt(ctx context.Context, email string) (*domain.LoginAttempt, error) {
	var att domain.LoginAttempt
	err := p.db.QueryRow(ctx,
		"SELECT email, failures, last_failure FROM login_attempts WHERE email = $1", email,
	).Scan(&att.Email, &att.Failures, &att.LastFailure)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &att, nil
}

func (p *Postgres) RecordLoginFailure(ctx context.Context, email string, at time.Time, window time.Duration) (int, error) {
	var failures int
	err := p.db.QueryRow(ctx,
		`INSERT INTO login_attempts (email, failures, last_failure) VALUES ($1, 1, $2)
		 ON CONFLICT (email) DO UPDATE SET
			failures = CASE WHEN login_attempts.last_failure < $3 THEN 1 ELSE login_attempts.failures + 1 END,
			last_failure = $2
		 RETURNING failures`,
		email, at, at.Add(-window),
	).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("failure record failed: %w", err)
	}
	return failures, nil
}

func (p *Postgres) ResetLoginAttempts(ctx context.Context, email string) error {
	_, err := p.db.Exec(ctx, "DELETE FROM login_attempts WHERE email = $1", email)
	return err
}

func (p *Postgres) PutChallenge(ctx context.Context, ch domain.MFAChallenge) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO mfa_challenges (email, code, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at`,
		ch.Email, ch.Code, ch.ExpiresAt,
	)
	return err
}

func (p *Postgres) Challenge(ctx context.Context, email string) (*domain.MFAChallenge, error) {
	var ch domain.MFAChallenge
	err := p.db.QueryRow(ctx,
		"SELECT email, code, expires_at FROM mfa_challenges WHERE email = $1", email,
	).Scan(&ch.Email, &ch.Code, &ch.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}

func (p *Postgres) DeleteChallenge(ctx context.Context, email string) error {
	_, err := p.db.Exec(ctx, "DELETE FROM mfa_challenges WHERE email = $1", email)
	return err
}

func (p *Postgres) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := p.db.Exec(ctx,
		"INSERT INTO sessions (id, account_id, expires_at, created_at) VALUES ($1, $2, $3, $4)",
		s.ID, s.AccountID, s.ExpiresAt, s.CreatedAt,
	)
	return err
}

func (p *Postgres) AppendLoginHistory(ctx context.Context, e domain.LoginHistoryEntry) error {
	_, err := p.db.Exec(ctx,
		"INSERT INTO login_history (account_id, outcome, device, location, created_at) VALUES ($1, $2, $3, $4, $5)",
		e.AccountID, e.Outcome, e.Device, e.Location, e.Timestamp,
	)
	return err
}

func (p *Postgres) LoginHistory(ctx context.Context, accountID string) ([]domain.LoginHistoryEntry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT account_id, outcome, device, location, created_at
		 FROM login_history WHERE account_id = $1 ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoginHistoryEntry
	for rows.Next() {
		var e domain.LoginHistoryEntry
		if err := rows.Scan(&e.AccountID, &e.Outcome, &e.Device, &e.Location, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
