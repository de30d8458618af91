package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Validator checks HS256 bearer tokens issued by the platform's identity
// provider and extracts the authenticated user id.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// Validate returns the subject (user id) on success.
func (v *Validator) Validate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errors.New("empty token")
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		if u, ok2 := claims["user_id"].(string); ok2 && u != "" {
			return u, nil
		}
		return "", errors.New("sub claim missing")
	}
	return sub, nil
}

// Sign issues a token for user id; used by tests and local tooling.
func (v *Validator) Sign(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID})
	return token.SignedString(v.secret)
}
