package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ledgerline/bankcore/internal/domain"
	"github.com/ledgerline/bankcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent int
	err  error
}

func (n *captureNotifier) Send(ctx context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	return n.err
}

func newAuthFixture(t *testing.T) (*AuthService, *store.Memory, *captureNotifier) {
	t.Helper()
	st := store.NewMemory()
	notifier := &captureNotifier{}
	svc := NewAuthService(st, NewTokenManager("test-secret"), notifier, 1000000, zap.NewNop())
	return svc, st, notifier
}

// mfaCode reads the live challenge straight from the store; issuance
// persists the code before dispatching delivery, so this never races the
// notifier goroutine.
func mfaCode(t *testing.T, st *store.Memory, email string) string {
	t.Helper()
	ch, err := st.Challenge(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, ch, "expected a live challenge for %s", email)
	return ch.Code
}

func TestRegisterSeedsInitialDeposit(t *testing.T) {
	svc, st, _ := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	acct, err := st.AccountByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Len(t, acct.AccountNumber, 8)
	assert.NotEqual(t, "hunter22", acct.SecretHash)

	balance, err := st.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(1000000), balance)

	txs, err := st.Transactions(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxCredit, txs[0].Kind)
	assert.Equal(t, "Initial deposit", txs[0].Description)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))
	err := svc.Register(ctx, "Another", "Alice", "alice@x.com", "secret99")
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestLoginWrongSecretCountsDown(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	for want := 2; want >= 0; want-- {
		err := svc.Login(ctx, "alice@x.com", "wrong", "", "")
		var credErr *domain.CredentialError
		require.ErrorAs(t, err, &credErr)
		assert.Equal(t, want, credErr.AttemptsLeft)
	}
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	svc, st, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	base := time.Now()
	svc.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		err := svc.Login(ctx, "alice@x.com", "wrong", "", "")
		require.ErrorIs(t, err, domain.ErrInvalidCredential)
	}

	// Correct secret is rejected before verification while locked.
	err := svc.Login(ctx, "alice@x.com", "hunter22", "", "")
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	// The window is measured from the last failure; once it elapses the
	// correct secret goes through.
	svc.now = func() time.Time { return base.Add(LockoutWindow + time.Minute) }
	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))
	assert.NotEmpty(t, mfaCode(t, st, "alice@x.com"))
}

func TestFailureCounterRestartsAfterWindow(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	base := time.Now()
	svc.now = func() time.Time { return base }
	svc.Login(ctx, "alice@x.com", "wrong", "", "")
	svc.Login(ctx, "alice@x.com", "wrong", "", "")

	svc.now = func() time.Time { return base.Add(LockoutWindow + time.Minute) }
	err := svc.Login(ctx, "alice@x.com", "wrong", "", "")
	var credErr *domain.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, 2, credErr.AttemptsLeft, "stale failures should not carry over")
}

func TestUnknownIdentityGetsConstantMessage(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	unknownErr := svc.Login(ctx, "nobody@x.com", "whatever", "", "")
	wrongErr := svc.Login(ctx, "alice@x.com", "wrong", "", "")
	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, wrongErr.Error(), unknownErr.Error())
}

func TestMFACodeIsSingleUse(t *testing.T) {
	svc, st, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))
	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))

	code := mfaCode(t, st, "alice@x.com")
	user, token, err := svc.VerifyMFA(ctx, "alice@x.com", code, "", "")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.NotEmpty(t, token)

	_, _, err = svc.VerifyMFA(ctx, "alice@x.com", code, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestMFACodeExpires(t *testing.T) {
	svc, st, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	base := time.Now()
	svc.now = func() time.Time { return base }
	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))
	code := mfaCode(t, st, "alice@x.com")

	svc.now = func() time.Time { return base.Add(MFATTL + time.Minute) }
	_, _, err := svc.VerifyMFA(ctx, "alice@x.com", code, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestMFAWrongCodeLeavesChallengeIntact(t *testing.T) {
	svc, st, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))
	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))

	code := mfaCode(t, st, "alice@x.com")
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	_, _, err := svc.VerifyMFA(ctx, "alice@x.com", wrong, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidCode)

	_, _, err = svc.VerifyMFA(ctx, "alice@x.com", code, "", "")
	require.NoError(t, err, "retry with the right code should still succeed")
}

func TestNewLoginOverwritesChallenge(t *testing.T) {
	svc, st, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))
	first := mfaCode(t, st, "alice@x.com")

	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))
	second := mfaCode(t, st, "alice@x.com")

	if first != second {
		_, _, err := svc.VerifyMFA(ctx, "alice@x.com", first, "", "")
		require.ErrorIs(t, err, domain.ErrInvalidCode)
	}
	_, _, err := svc.VerifyMFA(ctx, "alice@x.com", second, "", "")
	require.NoError(t, err)
}

func TestNotifierFailureDoesNotFailLogin(t *testing.T) {
	svc, st, notifier := newAuthFixture(t)
	notifier.err = errors.New("smtp down")
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))

	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))

	// The code stays verifiable even though delivery failed.
	code := mfaCode(t, st, "alice@x.com")
	_, _, err := svc.VerifyMFA(ctx, "alice@x.com", code, "", "")
	require.NoError(t, err)
}

func TestLoginHistoryRecordsOutcomes(t *testing.T) {
	svc, st, _ := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "Alice", "Doe", "alice@x.com", "hunter22"))
	acct, err := st.AccountByEmail(ctx, "alice@x.com")
	require.NoError(t, err)

	svc.Login(ctx, "alice@x.com", "wrong", "Firefox on Linux", "IP: 10.0.0.9")
	require.NoError(t, svc.Login(ctx, "alice@x.com", "hunter22", "", ""))
	_, _, err = svc.VerifyMFA(ctx, "alice@x.com", mfaCode(t, st, "alice@x.com"), "", "")
	require.NoError(t, err)

	history, err := svc.LoginHistory(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.LoginFailed, history[0].Outcome)
	assert.Equal(t, "Firefox on Linux", history[0].Device)
	assert.Equal(t, domain.LoginSuccess, history[1].Outcome)
	assert.Equal(t, "Unknown device", history[1].Device)
	assert.Equal(t, "Unknown location", history[1].Location)
}
