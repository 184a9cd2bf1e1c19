package jwt

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSecret means JWT_SECRET is unset; no token can be trusted.
var ErrMissingSecret = errors.New("JWT_SECRET is not configured")

// GenerateStaffToken issues an HS256 token for a staff member. Tokens are
// normally issued by the user service; tooling and tests use this to call the
// ledger directly.
func GenerateStaffToken(staffID, role string, ttl time.Duration) (string, error) {
	key, err := secret()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  staffID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ValidateToken accepts HS256 tokens signed with JWT_SECRET that carry an
// expiry. Expired tokens fail with an error matching jwt.ErrTokenExpired.
func ValidateToken(tokenString string) (jwt.MapClaims, error) {
	key, err := secret()
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func secret() ([]byte, error) {
	s := os.Getenv("JWT_SECRET")
	if s == "" {
		return nil, ErrMissingSecret
	}
	return []byte(s), nil
}
