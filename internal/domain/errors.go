package domain

import "errors"

var (
	ErrAlreadyExists     = errors.New("user already exists")
	ErrNotFound          = errors.New("account not found")
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrAccountLocked     = errors.New("account locked due to too many login attempts")
	ErrInvalidCode       = errors.New("invalid or expired verification code")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRecipientNotFound = errors.New("recipient account not found")
	ErrRecipientMismatch = errors.New("recipient name does not match account")
	ErrUnauthorized      = errors.New("invalid or expired token")
)

// CredentialError is a failed secret check carrying the remaining attempts
// before lockout. Unknown identities get the bare ErrInvalidCredential so
// the two cases are indistinguishable to the caller by message.
type CredentialError struct {
	AttemptsLeft int
}

func (e *CredentialError) Error() string {
	return ErrInvalidCredential.Error()
}

func (e *CredentialError) Unwrap() error {
	return ErrInvalidCredential
}

func NewCredentialError(failures, max int) *CredentialError {
	left := max - failures
	if left < 0 {
		left = 0
	}
	return &CredentialError{AttemptsLeft: left}
}
