// Package auth issues and verifies the party tokens the bus relay uses to
// stamp sender identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "ringcall"

var (
	ErrNoSecret     = errors.New("token secret is empty")
	ErrInvalidToken = errors.New("invalid party token")
)

type Claims struct {
	Party    domain.PartyID `json:"party"`
	Username string         `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs an HS256 token for p.
func (i *Issuer) Issue(p domain.Profile) (string, error) {
	if err := domain.ValidatePartyID(p.ID); err != nil {
		return "", err
	}
	now := i.now()
	claims := Claims{
		Party:    p.ID,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   string(p.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the claims of a valid, unexpired token.
func (i *Issuer) Verify(tk string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tk, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return claims, ErrInvalidToken
	}
	if err := domain.ValidatePartyID(claims.Party); err != nil {
		return claims, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
