// Package auth verifies bearer tokens and establishes the request identity
// the permission gate consumes. The engine never provisions identity.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service verifies and issues HMAC-signed JWTs.
type Service struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewService creates a token service with the given secret key and TTL.
func NewService(secretKey string, tokenTTL time.Duration) *Service {
	return &Service{secretKey: secretKey, tokenTTL: tokenTTL}
}

// Issue signs a token for a subject with extra claims.
func (s *Service) Issue(subject string, extra map[string]interface{}) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(s.tokenTTL).Unix(),
		"iat": now.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// Verify validates a token and returns its claims.
func (s *Service) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify exact signing method to prevent algorithm confusion attacks
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
