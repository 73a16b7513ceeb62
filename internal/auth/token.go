package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrInactiveUser = errors.New("user is not active")
)

// Identity is the verified caller of a WebSocket connection.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

type claims struct {
	Email  string `json:"email"`
	Active bool   `json:"active"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed bearer or cookie tokens and extracts the
// caller identity.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier { return &Verifier{secret: []byte(secret)} }

// Verify parses and validates a token, returning the embedded identity.
// An empty token is ErrNoToken; a syntactically valid token for an
// inactive user is ErrInactiveUser.
func (v *Verifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.Subject == "" {
		return nil, ErrInvalidToken
	}
	if !c.Active {
		return nil, ErrInactiveUser
	}
	return &Identity{ID: c.Subject, Email: c.Email, IsActive: c.Active}, nil
}

// Mint signs a token for the given identity, valid until exp. Used by
// tests and provisioning tooling; the production issuer lives outside
// this service.
func Mint(secret string, id Identity, exp time.Time) (string, error) {
	c := claims{
		Email:  id.Email,
		Active: id.IsActive,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
