package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shoplens/medallion/internal/models"
)

const tokenIssuer = "medallion-api"

// Claims carries the tenant identity inside a signed token, embedding
// the registered claim set for expiry and issuer checks.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates tenant access tokens. The secret is
// injected from configuration so tests can run with a fixed key.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

// NewTokenManager builds a TokenManager with the given HMAC secret and
// token lifetime.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		nowFn:  time.Now,
	}
}

// Generate issues a signed token for the tenant.
func (tm *TokenManager) Generate(tenant *models.Tenant) (string, error) {
	now := tm.nowFn()
	claims := &Claims{
		TenantID: tenant.ID,
		Email:    tenant.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   tenant.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token string and returns its claims if the
// signature, expiry and issuer all check out.
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(tm.nowFn))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.TenantID == "" {
		return nil, errors.New("token carries no tenant")
	}
	return claims, nil
}
