package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/bankcore/internal/domain"
	"github.com/ledgerline/bankcore/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxTransferAmount keeps cent conversion inside int64 range.
var maxTransferAmount = decimal.New(1, 15)

// LedgerService reads balances and transaction logs and runs the
// transfer protocol. It is the only writer of ledger state.
type LedgerService struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewLedgerService(st store.Store, log *zap.Logger) *LedgerService {
	return &LedgerService{store: st, log: log, now: time.Now}
}

// Balance returns the account's current balance.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (domain.Cents, error) {
	return s.store.Balance(ctx, accountID)
}

// Transactions lists the account's log newest first. A limit <= 0 means
// the whole log.
func (s *LedgerService) Transactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	return s.store.Transactions(ctx, accountID, limit)
}

// Transfer moves amount from the sender to the account resolved by
// number. The supplied recipient name must exactly match the stored
// display name, which guards against account-number typos. Both legs
// share one reference and are applied atomically by the store.
func (s *LedgerService) Transfer(ctx context.Context, senderID, recipientNumber, recipientName string, amount decimal.Decimal, description string) (*domain.TransferReceipt, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) || amount.GreaterThan(maxTransferAmount) {
		return nil, domain.ErrInvalidAmount
	}
	cents := domain.CentsFromDecimal(amount)

	sender, err := s.store.AccountByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	balance, err := s.store.Balance(ctx, senderID)
	if err != nil {
		return nil, err
	}
	// Fast rejection; the authoritative check happens inside the store's
	// atomic unit so a concurrent debit cannot slip between check and act.
	if cents > balance {
		return nil, domain.ErrInsufficientFunds
	}

	recipient, err := s.store.AccountByNumber(ctx, recipientNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrRecipientNotFound
		}
		return nil, err
	}
	if recipient.FullName() != recipientName {
		return nil, domain.ErrRecipientMismatch
	}

	reference := "TRF-" + randomDigits(7)
	now := s.now()

	debitDesc, creditDesc := description, description
	if description == "" {
		debitDesc = fmt.Sprintf("Transfer to %s", recipient.FullName())
		creditDesc = fmt.Sprintf("Transfer from %s", sender.FullName())
	}

	debit := domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   sender.ID,
		Kind:        domain.TxDebit,
		Amount:      cents,
		Description: debitDesc,
		Reference:   reference,
		Timestamp:   now,
	}
	credit := domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   recipient.ID,
		Kind:        domain.TxCredit,
		Amount:      cents,
		Description: creditDesc,
		Reference:   reference,
		Timestamp:   now,
	}

	newBalance, err := s.store.ExecTransfer(ctx, debit, credit)
	if err != nil {
		return nil, err
	}

	s.log.Info("transfer completed",
		zap.String("reference", reference),
		zap.String("sender", sender.AccountNumber),
		zap.String("recipient", recipient.AccountNumber),
		zap.String("amount", cents.String()),
	)

	return &domain.TransferReceipt{Transaction: debit, NewBalance: newBalance}, nil
}
