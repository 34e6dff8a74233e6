package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type AdminTokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// AdminTokenManager signs and validates the bearer tokens protecting the
// admin API.
type AdminTokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewAdminTokenManager(signingKey []byte, ttl time.Duration) *AdminTokenManager {
	return &AdminTokenManager{signingKey: signingKey, ttl: ttl}
}

func (m *AdminTokenManager) GenerateAdminToken(subject string) (string, error) {
	claims := AdminTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   subject,
			Issuer:    "erpbridge",
		},
		Scope: "status,sync,retry,cleanup",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *AdminTokenManager) ValidateAdminToken(tokenString string) (*AdminTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AdminTokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (c *AdminTokenClaims) HasScope(required string) bool {
	scopes := strings.Split(c.Scope, ",")
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}
