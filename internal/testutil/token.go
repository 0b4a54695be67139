package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenSecret = "test-secret-key"

// Issue HS256 access token expiring at exp, the way backend would do
// Zero exp gives token without expiration claim
func IssueToken(subject string, exp time.Time) string {
	claims := jwt.RegisteredClaims{
		ID:       uuid.NewString(),
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSecret))
	if err != nil {
		panic(err)
	}
	return token
}
