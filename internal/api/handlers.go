package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/ledgerline/bankcore/internal/domain"
	"github.com/ledgerline/bankcore/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	auth   *service.AuthService
	ledger *service.LedgerService
	tokens *service.TokenManager
	log    *zap.Logger
}

func NewHandler(auth *service.AuthService, ledger *service.LedgerService, tokens *service.TokenManager, log *zap.Logger) *Handler {
	return &Handler{auth: auth, ledger: ledger, tokens: tokens, log: log}
}

// Routes registers every endpoint on the router. Authenticated routes go
// through the bearer middleware.
func (h *Handler) Routes(r *mux.Router) {
	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.Handle("/register", h.instrument("/api/auth/register", h.RegisterHandler)).Methods("POST")
	auth.Handle("/login", h.instrument("/api/auth/login", h.LoginHandler)).Methods("POST")
	auth.Handle("/verify-mfa", h.instrument("/api/auth/verify-mfa", h.VerifyMFAHandler)).Methods("POST")
	auth.Handle("/verify", h.instrument("/api/auth/verify", h.authenticated(h.VerifyTokenHandler))).Methods("GET")
	auth.Handle("/refresh", h.instrument("/api/auth/refresh", h.authenticated(h.RefreshTokenHandler))).Methods("POST")

	account := r.PathPrefix("/api/account").Subrouter()
	account.Handle("/balance", h.instrument("/api/account/balance", h.authenticated(h.BalanceHandler))).Methods("GET")
	account.Handle("/transactions", h.instrument("/api/account/transactions", h.authenticated(h.TransactionsHandler))).Methods("GET")
	account.Handle("/transfer", h.instrument("/api/account/transfer", h.authenticated(h.TransferHandler))).Methods("POST")

	r.Handle("/api/security/login-history", h.instrument("/api/security/login-history", h.authenticated(h.LoginHistoryHandler))).Methods("GET")
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	if err := h.auth.Register(r.Context(), req.FirstName, req.LastName, req.Email, req.Password); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	err := h.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent(), "IP: "+clientIP(r))
	if err != nil {
		var credErr *domain.CredentialError
		if errors.As(err, &credErr) {
			respondWithJSON(w, http.StatusBadRequest, map[string]any{
				"message":      credErr.Error(),
				"attemptsLeft": credErr.AttemptsLeft,
			})
			return
		}
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"requiresMFA": true, "email": req.Email})
}

type verifyMFARequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) VerifyMFAHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	user, token, err := h.auth.VerifyMFA(r.Context(), req.Email, req.Code, r.UserAgent(), "IP: "+clientIP(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

func (h *Handler) VerifyTokenHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context(), accountIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	token, err := h.tokens.Refresh(bearerToken(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.Balance(r.Context(), accountIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (h *Handler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	txs, err := h.ledger.Transactions(r.Context(), accountIDFrom(r.Context()), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type transferRequest struct {
	RecipientName    string          `json:"recipientName"`
	RecipientAccount string          `json:"recipientAccount"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
}

func (h *Handler) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.RecipientName == "" || req.RecipientAccount == "" {
		respondWithError(w, http.StatusBadRequest, "Recipient name and account are required")
		return
	}

	receipt, err := h.ledger.Transfer(r.Context(), accountIDFrom(r.Context()), req.RecipientAccount, req.RecipientName, req.Amount, req.Description)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":     "Transfer successful",
		"transaction": receipt.Transaction,
		"newBalance":  receipt.NewBalance,
	})
}

func (h *Handler) LoginHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := h.auth.LoginHistory(r.Context(), accountIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if history == nil {
		history = []domain.LoginHistoryEntry{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"loginHistory": history})
}

// respondServiceError maps domain sentinels onto status codes. Anything
// unrecognized is logged and answered generically.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAccountLocked):
		respondWithError(w, http.StatusForbidden, "Account locked due to too many login attempts. Try again after 15 minutes.")
	case errors.Is(err, domain.ErrInvalidCredential):
		respondWithError(w, http.StatusBadRequest, domain.ErrInvalidCredential.Error())
	case errors.Is(err, domain.ErrInvalidCode):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRecipientMismatch):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRecipientNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Server error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"message": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
