package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ledgerline/bankcore/internal/domain"
)

// TokenTTL is how long a minted bearer token stays valid. Renewal is the
// caller's job via Refresh; the server never auto-extends.
const TokenTTL = time.Hour

// Claims are the statements embedded in a bearer token. Validity is
// decided purely by signature and expiry, never by a store lookup.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager mints and validates signed, time-bounded bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    TokenTTL,
		now:    time.Now,
	}
}

// Mint issues a token carrying the account id and identity.
func (m *TokenManager) Mint(accountID, email string) (string, error) {
	now := m.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate checks signature and expiry and returns the embedded claims.
// Any parse or verification failure surfaces as ErrUnauthorized.
func (m *TokenManager) Validate(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	return &claims, nil
}

// Refresh validates the presented token and issues a fresh one with the
// same claims and a new expiry window.
func (m *TokenManager) Refresh(token string) (string, error) {
	claims, err := m.Validate(token)
	if err != nil {
		return "", err
	}
	return m.Mint(claims.Subject, claims.Email)
}
