// Package auth verifies the access token presented in the handshake frame.
// Token issuance lives with the auth collaborator; this engine only consumes
// verification.
package auth

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a credential to a user id, or reports it invalid.
type Verifier interface {
	ResolveIdentity(token string) (int64, error)
}

// JWTVerifier checks HS256 access tokens whose subject is the user id.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) ResolveIdentity(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return 0, ErrInvalidToken
	}
	userId, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userId, nil
}
