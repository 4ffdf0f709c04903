package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/ledgerline/bankcore/internal/api"
	"github.com/ledgerline/bankcore/internal/domain"
	"github.com/ledgerline/bankcore/internal/notify"
	"github.com/ledgerline/bankcore/internal/service"
	"github.com/ledgerline/bankcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	server *httptest.Server
	store  *store.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	logger := zap.NewNop()
	tokens := service.NewTokenManager("test-secret")
	auth := service.NewAuthService(st, tokens, notify.NewLog(logger), 1000000, logger)
	ledger := service.NewLedgerService(st, logger)
	handler := api.NewHandler(auth, ledger, tokens, logger)

	r := mux.NewRouter()
	handler.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

// register + full MFA login, returning the bearer token.
func (e *testEnv) authenticate(t *testing.T, first, last, email, password string) string {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"firstName": first, "lastName": last, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["requiresMFA"])
	require.Equal(t, email, body["email"])

	ch, err := e.store.Challenge(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, ch)

	resp, body = e.do(t, http.MethodPost, "/api/auth/verify-mfa", "", map[string]string{
		"email": email, "code": ch.Code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegisterLoginVerifyFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.authenticate(t, "Alice", "Doe", "alice@x.com", "hunter22")

	// Duplicate registration conflicts.
	resp, _ := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"firstName": "Alice", "lastName": "Doe", "email": "alice@x.com", "password": "other",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/auth/verify", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice@x.com", body["email"])
	assert.NotContains(t, body, "secretHash")

	resp, body = env.do(t, http.MethodPost, "/api/auth/refresh", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])

	resp, body = env.do(t, http.MethodGet, "/api/account/balance", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10000.00", body["balance"])

	resp, body = env.do(t, http.MethodGet, "/api/account/transactions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txs, ok := body["transactions"].([]any)
	require.True(t, ok)
	require.Len(t, txs, 1)
	first := txs[0].(map[string]any)
	assert.Equal(t, "credit", first["type"])
	assert.Equal(t, "10000.00", first["amount"])
	assert.Equal(t, "Initial deposit", first["description"])
}

func TestLoginFailuresAndLockout(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"firstName": "Alice", "lastName": "Doe", "email": "alice@x.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for want := 2.0; want >= 0; want-- {
		resp, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "alice@x.com", "password": "wrong",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, want, body["attemptsLeft"])
	}

	// 4th attempt rejected even with the correct secret.
	resp, _ = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@x.com", "password": "hunter22",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown identity answers like a wrong secret, without attemptsLeft.
	resp, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "nobody@x.com", "password": "whatever",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotContains(t, body, "attemptsLeft")
}

func TestInvalidMFACode(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"firstName": "Alice", "lastName": "Doe", "email": "alice@x.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@x.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ch, err := env.store.Challenge(context.Background(), "alice@x.com")
	require.NoError(t, err)
	wrong := "000000"
	if ch.Code == wrong {
		wrong = "000001"
	}
	resp, _ = env.do(t, http.MethodPost, "/api/auth/verify-mfa", "", map[string]string{
		"email": "alice@x.com", "code": wrong,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransferFlow(t *testing.T) {
	env := newTestEnv(t)
	aliceToken := env.authenticate(t, "Alice", "Doe", "alice@x.com", "hunter22")
	bobToken := env.authenticate(t, "Bob", "Roe", "bob@x.com", "hunter22")

	bob, err := env.store.AccountByEmail(context.Background(), "bob@x.com")
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/account/transfer", aliceToken, map[string]any{
		"recipientName":    "Bob Roe",
		"recipientAccount": bob.AccountNumber,
		"amount":           "500.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9500.00", body["newBalance"])
	tx := body["transaction"].(map[string]any)
	assert.Equal(t, "debit", tx["type"])
	assert.Equal(t, "500.00", tx["amount"])
	reference := tx["reference"].(string)
	assert.NotEmpty(t, reference)

	resp, body = env.do(t, http.MethodGet, "/api/account/balance", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10500.00", body["balance"])

	resp, body = env.do(t, http.MethodGet, "/api/account/transactions", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txs := body["transactions"].([]any)
	require.Len(t, txs, 2)
	credit := txs[0].(map[string]any)
	assert.Equal(t, "credit", credit["type"])
	assert.Equal(t, reference, credit["reference"], "both legs share one reference")

	// Name typo defense: mismatched display name moves nothing.
	resp, _ = env.do(t, http.MethodPost, "/api/account/transfer", aliceToken, map[string]any{
		"recipientName":    "Bob X",
		"recipientAccount": bob.AccountNumber,
		"amount":           "100.00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp, body = env.do(t, http.MethodGet, "/api/account/balance", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9500.00", body["balance"])

	resp, _ = env.do(t, http.MethodPost, "/api/account/transfer", aliceToken, map[string]any{
		"recipientName":    "Bob Roe",
		"recipientAccount": "00000000",
		"amount":           "100.00",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/account/transfer", aliceToken, map[string]any{
		"recipientName":    "Bob Roe",
		"recipientAccount": bob.AccountNumber,
		"amount":           "12.345",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/account/transfer", aliceToken, map[string]any{
		"recipientName":    "Bob Roe",
		"recipientAccount": bob.AccountNumber,
		"amount":           "999999.00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestLoginHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.authenticate(t, "Alice", "Doe", "alice@x.com", "hunter22")

	resp, body := env.do(t, http.MethodGet, "/api/security/login-history", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := body["loginHistory"].([]any)
	require.Len(t, history, 1)
	entry := history[0].(map[string]any)
	assert.Equal(t, "success", entry["status"])
	assert.NotEmpty(t, entry["device"])
	assert.NotEmpty(t, entry["location"])
}

func TestUnauthorizedAccess(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/account/balance", "/api/account/transactions", "/api/security/login-history"} {
		resp, _ := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp, _ := env.do(t, http.MethodGet, "/api/account/balance", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestVerifyMFAUnknownIdentity(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/auth/verify-mfa", "", map[string]string{
		"email": "ghost@x.com", "code": "123456",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("%v", domain.ErrInvalidCode), body["message"])
}
