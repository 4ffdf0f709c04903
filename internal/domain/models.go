package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the direction of a ledger entry relative to its
// owning account.
type TransactionKind string

const (
	TxCredit TransactionKind = "credit"
	TxDebit  TransactionKind = "debit"
)

// Cents is a monetary amount in minor units. It renders on the wire as a
// two-decimal string ("10000.00") to avoid float rounding at the boundary.
type Cents int64

// Decimal returns the amount as a two-place decimal.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Decimal().StringFixed(2))
}

// CentsFromDecimal converts a validated two-decimal amount into minor
// units. The caller is responsible for rejecting amounts with more than
// two decimal places first.
func CentsFromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Shift(2).IntPart())
}

// Account is a registered user record. The secret is stored only as a
// bcrypt hash and never serialized.
type Account struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	SecretHash    string    `json:"-"`
	AccountNumber string    `json:"accountNumber"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FullName is the display name recipients are matched against on transfer.
func (a *Account) FullName() string {
	return fmt.Sprintf("%s %s", a.FirstName, a.LastName)
}

// User is the public view of an Account, returned to authenticated callers.
type User struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	AccountNumber string    `json:"accountNumber"`
	CreatedAt     time.Time `json:"createdAt"`
}

// User strips the secret hash from an Account.
func (a *Account) User() User {
	return User{
		ID:            a.ID,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Email:         a.Email,
		AccountNumber: a.AccountNumber,
		CreatedAt:     a.CreatedAt,
	}
}

// Transaction is one immutable leg of a ledger entry. The two legs of a
// transfer share a Reference.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"-"`
	Kind        TransactionKind `json:"type"`
	Amount      Cents           `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SignedCents is the transaction's effect on its account's balance:
// positive for credits, negative for debits.
func (t *Transaction) SignedCents() Cents {
	if t.Kind == TxDebit {
		return -t.Amount
	}
	return t.Amount
}

// TransferReceipt is returned to the sender after a successful transfer.
type TransferReceipt struct {
	Transaction Transaction `json:"transaction"`
	NewBalance  Cents       `json:"newBalance"`
}

// LoginAttempt tracks consecutive failed secret checks for one identity.
// The record does not exist until the first failure.
type LoginAttempt struct {
	Email       string
	Failures    int
	LastFailure time.Time
}

// MFAChallenge is the single live one-time code for an identity. A new
// login overwrites any prior challenge.
type MFAChallenge struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// Session is the durable audit record created at MFA verification. Request
// authorization is carried by the bearer token, not by this record.
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// LoginHistoryEntry records the outcome of a login attempt after identity
// resolution.
type LoginHistoryEntry struct {
	AccountID string    `json:"-"`
	Outcome   string    `json:"status"`
	Device    string    `json:"device"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	LoginSuccess = "success"
	LoginFailed  = "failed"
)
