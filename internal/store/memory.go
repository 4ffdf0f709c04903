package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/bankcore/internal/domain"
)

// Memory is an in-process Store. One mutex serializes every operation, so
// the transfer protocol, attempt increments and challenge overwrites are
// atomic by construction. Each instance is fully isolated, which is what
// the tests rely on.
type Memory struct {
	mu         sync.Mutex
	accounts   map[string]domain.Account // by id
	byEmail    map[string]string
	byNumber   map[string]string
	balances   map[string]domain.Cents
	txs        map[string][]domain.Transaction
	attempts   map[string]domain.LoginAttempt
	challenges map[string]domain.MFAChallenge
	sessions   map[string]domain.Session
	history    map[string][]domain.LoginHistoryEntry
}

func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[string]domain.Account),
		byEmail:    make(map[string]string),
		byNumber:   make(map[string]string),
		balances:   make(map[string]domain.Cents),
		txs:        make(map[string][]domain.Transaction),
		attempts:   make(map[string]domain.LoginAttempt),
		challenges: make(map[string]domain.MFAChallenge),
		sessions:   make(map[string]domain.Session),
		history:    make(map[string][]domain.LoginHistoryEntry),
	}
}

func (m *Memory) CreateAccount(ctx context.Context, acct domain.Account, deposit domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[acct.Email]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := m.byNumber[acct.AccountNumber]; ok {
		return ErrAccountNumberTaken
	}
	m.accounts[acct.ID] = acct
	m.byEmail[acct.Email] = acct.ID
	m.byNumber[acct.AccountNumber] = acct.ID
	m.balances[acct.ID] = deposit.Amount
	m.txs[acct.ID] = []domain.Transaction{deposit}
	return nil
}

func (m *Memory) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &acct, nil
}

func (m *Memory) AccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	acct := m.accounts[id]
	return &acct, nil
}

func (m *Memory) AccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNumber[number]
	if !ok {
		return nil, domain.ErrNotFound
	}
	acct := m.accounts[id]
	return &acct, nil
}

func (m *Memory) Balance(ctx context.Context, accountID string) (domain.Cents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[accountID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return bal, nil
}

func (m *Memory) Transactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.txs[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.Transaction, len(log))
	copy(out, log)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ExecTransfer(ctx context.Context, debit, credit domain.Transaction) (domain.Cents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	senderBal, ok := m.balances[debit.AccountID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if debit.Amount > senderBal {
		return 0, domain.ErrInsufficientFunds
	}
	if _, ok := m.accounts[credit.AccountID]; !ok {
		return 0, domain.ErrRecipientNotFound
	}
	m.balances[debit.AccountID] = senderBal - debit.Amount
	m.balances[credit.AccountID] += credit.Amount
	m.txs[debit.AccountID] = append(m.txs[debit.AccountID], debit)
	m.txs[credit.AccountID] = append(m.txs[credit.AccountID], credit)
	return m.balances[debit.AccountID], nil
}

func (m *Memory) LoginAttempt(ctx context.Context, email string) (*domain.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	att, ok := m.attempts[email]
	if !ok {
		return nil, nil
	}
	return &att, nil
}

func (m *Memory) RecordLoginFailure(ctx context.Context, email string, at time.Time, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	att, ok := m.attempts[email]
	if !ok || at.Sub(att.LastFailure) > window {
		att = domain.LoginAttempt{Email: email}
	}
	att.Failures++
	att.LastFailure = at
	m.attempts[email] = att
	return att.Failures, nil
}

func (m *Memory) ResetLoginAttempts(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, email)
	return nil
}

func (m *Memory) PutChallenge(ctx context.Context, ch domain.MFAChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[ch.Email] = ch
	return nil
}

func (m *Memory) Challenge(ctx context.Context, email string) (*domain.MFAChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[email]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (m *Memory) DeleteChallenge(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.challenges, email)
	return nil
}

func (m *Memory) CreateSession(ctx context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) AppendLoginHistory(ctx context.Context, e domain.LoginHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.AccountID] = append(m.history[e.AccountID], e)
	return nil
}

func (m *Memory) LoginHistory(ctx context.Context, accountID string) ([]domain.LoginHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[accountID]
	out := make([]domain.LoginHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) Close() {}
