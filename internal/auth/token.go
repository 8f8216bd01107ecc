// ABOUTME: JWT token minting and verification binding connections to actor refs
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/weft/internal/syncable"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (actor syncable.Ref, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs. The actor's
// id rides in "sub" and its syncable type in a custom "actor_type" claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the actor ref from its claims
func (v *JWTVerifier) Verify(tokenString string) (syncable.Ref, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return syncable.Ref{}, ErrExpiredToken
		}
		return syncable.Ref{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return syncable.Ref{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return syncable.Ref{}, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return syncable.Ref{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	actorType, ok := claims["actor_type"].(string)
	if !ok || actorType == "" {
		return syncable.Ref{}, fmt.Errorf("%w: actor_type", ErrMissingClaim)
	}

	return syncable.Ref{Type: actorType, ID: syncable.ID(sub)}, nil
}

// Generate creates a new JWT token for the given actor ref with expiration
func (v *JWTVerifier) Generate(actor syncable.Ref, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":        string(actor.ID),
		"actor_type": actor.Type,
		"iat":        now.Unix(),
		"exp":        now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
