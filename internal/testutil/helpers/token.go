package helpers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// SignToken mints an HS256 credential for p the way the identity provider does.
func SignToken(t *testing.T, secret string, p domain.Principal, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   p.ID,
		"email": p.Email,
		"name":  p.Name,
		"role":  string(p.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
