package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/bankcore/internal/domain"
	"github.com/ledgerline/bankcore/internal/notify"
	"github.com/ledgerline/bankcore/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MaxLoginFailures consecutive failed secret checks within
	// LockoutWindow lock the identity out until the window elapses.
	MaxLoginFailures = 3
	LockoutWindow    = 15 * time.Minute

	// MFATTL bounds how long an issued one-time code stays verifiable.
	MFATTL = 10 * time.Minute

	// SessionTTL bounds the durable audit session created at MFA
	// verification. The session is not consulted for authorization.
	SessionTTL = time.Hour

	accountNumberLen = 8
	mfaCodeLen       = 6
	bcryptCost       = 10

	// createRetries bounds regeneration attempts when a random account
	// number collides with an existing one.
	createRetries = 3

	notifyTimeout = 30 * time.Second
)

// AuthService composes the credential store, lockout tracking, MFA
// issuance and session minting into the register/login/verify flow.
//
// Issuance persists the challenge before dispatching delivery, so a code
// stays verifiable even when delivery fails. That matches the reference
// behavior; it trades a weaker delivery guarantee for never blocking or
// failing a login on the mail path.
type AuthService struct {
	store    store.Store
	tokens   *TokenManager
	notifier notify.Notifier
	log      *zap.Logger

	initialDeposit domain.Cents
	now            func() time.Time
}

func NewAuthService(st store.Store, tokens *TokenManager, notifier notify.Notifier, initialDeposit domain.Cents, log *zap.Logger) *AuthService {
	return &AuthService{
		store:          st,
		tokens:         tokens,
		notifier:       notifier,
		log:            log,
		initialDeposit: initialDeposit,
		now:            time.Now,
	}
}

// Register creates an account and seeds its ledger with the policy
// deposit. Duplicate emails surface as domain.ErrAlreadyExists; account
// number collisions are retried with a fresh number.
func (s *AuthService) Register(ctx context.Context, firstName, lastName, email, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}

	now := s.now()
	acct := domain.Account{
		ID:         uuid.NewString(),
		FirstName:  firstName,
		LastName:   lastName,
		Email:      email,
		SecretHash: string(hash),
		CreatedAt:  now,
	}
	deposit := domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   acct.ID,
		Kind:        domain.TxCredit,
		Amount:      s.initialDeposit,
		Description: "Initial deposit",
		Timestamp:   now,
	}

	for i := 0; i < createRetries; i++ {
		acct.AccountNumber = randomDigits(accountNumberLen)
		err = s.store.CreateAccount(ctx, acct, deposit)
		if !errors.Is(err, store.ErrAccountNumberTaken) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("create account: %w", err)
	}

	s.log.Info("account registered",
		zap.String("email", email),
		zap.String("account_number", acct.AccountNumber),
	)
	return nil
}

// Login runs the first factor: lockout check, secret verification,
// attempt bookkeeping and MFA issuance. A nil return means a code was
// issued and the caller should proceed to VerifyMFA.
func (s *AuthService) Login(ctx context.Context, email, secret, device, location string) error {
	acct, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Same rejection as a wrong secret so callers cannot probe
			// which identities exist.
			return domain.ErrInvalidCredential
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	now := s.now()
	attempt, err := s.store.LoginAttempt(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup attempts: %w", err)
	}
	if attempt != nil && attempt.Failures >= MaxLoginFailures && now.Before(attempt.LastFailure.Add(LockoutWindow)) {
		return domain.ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.SecretHash), []byte(secret)) != nil {
		failures, ferr := s.store.RecordLoginFailure(ctx, email, now, LockoutWindow)
		if ferr != nil {
			return fmt.Errorf("record failure: %w", ferr)
		}
		s.recordHistory(ctx, acct.ID, domain.LoginFailed, device, location)
		return domain.NewCredentialError(failures, MaxLoginFailures)
	}

	if err := s.store.ResetLoginAttempts(ctx, email); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}

	code := randomDigits(mfaCodeLen)
	ch := domain.MFAChallenge{
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(MFATTL),
	}
	if err := s.store.PutChallenge(ctx, ch); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}

	s.dispatchCode(email, code)
	return nil
}

// dispatchCode hands the code to the notifier without making the login
// response wait on delivery.
func (s *AuthService) dispatchCode(email, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, email, code); err != nil {
			s.log.Warn("verification code delivery failed",
				zap.String("email", email),
				zap.Error(err),
			)
		}
	}()
}

// VerifyMFA completes the second factor. On success the challenge is
// consumed, a durable session is recorded, a success history entry is
// written and a bearer token is minted.
func (s *AuthService) VerifyMFA(ctx context.Context, email, code, device, location string) (*domain.User, string, error) {
	acct, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", domain.ErrInvalidCode
		}
		return nil, "", fmt.Errorf("lookup account: %w", err)
	}

	ch, err := s.store.Challenge(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("lookup challenge: %w", err)
	}
	now := s.now()
	// On any mismatch the challenge stays intact so the caller may retry
	// until it expires.
	if ch == nil || ch.Code != code || now.After(ch.ExpiresAt) {
		return nil, "", domain.ErrInvalidCode
	}

	if err := s.store.DeleteChallenge(ctx, email); err != nil {
		return nil, "", fmt.Errorf("consume challenge: %w", err)
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		AccountID: acct.ID,
		ExpiresAt: now.Add(SessionTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	s.recordHistory(ctx, acct.ID, domain.LoginSuccess, device, location)

	token, err := s.tokens.Mint(acct.ID, acct.Email)
	if err != nil {
		return nil, "", fmt.Errorf("mint token: %w", err)
	}

	user := acct.User()
	return &user, token, nil
}

// CurrentUser resolves the account behind a validated token.
func (s *AuthService) CurrentUser(ctx context.Context, accountID string) (*domain.User, error) {
	acct, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	user := acct.User()
	return &user, nil
}

// LoginHistory lists the account's recorded login outcomes.
func (s *AuthService) LoginHistory(ctx context.Context, accountID string) ([]domain.LoginHistoryEntry, error) {
	return s.store.LoginHistory(ctx, accountID)
}

func (s *AuthService) recordHistory(ctx context.Context, accountID, outcome, device, location string) {
	if device == "" {
		device = "Unknown device"
	}
	if location == "" {
		location = "Unknown location"
	}
	entry := domain.LoginHistoryEntry{
		AccountID: accountID,
		Outcome:   outcome,
		Device:    device,
		Location:  location,
		Timestamp: s.now(),
	}
	if err := s.store.AppendLoginHistory(ctx, entry); err != nil {
		s.log.Warn("login history append failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
}
