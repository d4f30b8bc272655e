package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleTeacher is the only role that can issue sessions and read analytics.
const RoleTeacher = "teacher"

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue issues signed access and refresh tokens for subject.
func Issue(subject, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	sign := func(exp time.Time) (string, error) {
		claims := Claims{
			Role: role,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   subject,
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(now),
			},
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	}

	pair := TokenPair{AccessExp: now.Add(accessTTL), RefreshExp: now.Add(refreshTTL)}
	var err error
	if pair.AccessToken, err = sign(pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = sign(pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
