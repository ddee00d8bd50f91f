/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNonceAction is returned when a token was issued for another action.
var ErrNonceAction = errors.New("nonce issued for a different action")

// NonceClaims binds a token to a form action.
type NonceClaims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

// Nonces issues short lived HS256 tokens that protect form submissions.
type Nonces struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewNonces creates a nonce issuer. A non-positive ttl defaults to one day.
func NewNonces(secret []byte, ttl time.Duration) *Nonces {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Nonces{secret: secret, ttl: ttl, now: time.Now}
}

// Issue creates a token for action.
func (n *Nonces) Issue(action string) (string, error) {
	now := n.now()
	claims := NonceClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(n.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.secret)
}

// Verify checks signature, expiry and the bound action of token.
func (n *Nonces) Verify(token, action string) error {
	parsed, err := jwt.ParseWithClaims(token, &NonceClaims{}, func(t *jwt.Token) (interface{}, error) {
		return n.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(n.now))
	if err != nil {
		return err
	}

	claims, ok := parsed.Claims.(*NonceClaims)
	if !ok || !parsed.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	if claims.Action != action {
		return fmt.Errorf("%w: %q", ErrNonceAction, claims.Action)
	}
	return nil
}
