package hitl

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs and verifies opaque HITL request tokens with a process-local
// HS256 key, so a request id can be handed to an external channel (a Slack
// approval link, an email) without the channel itself being a trusted
// authorization boundary. Anyone who learns a bare request id could
// otherwise approve or reject it directly.
type Signer struct {
	key []byte
}

// NewSigner generates a fresh random key. A durable deployment should
// instead load a stable key so tokens survive process restarts.
func NewSigner() *Signer {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &Signer{key: key}
}

// NewSignerWithKey builds a Signer from a caller-supplied key.
func NewSignerWithKey(key []byte) *Signer {
	return &Signer{key: key}
}

type claims struct {
	jwt.RegisteredClaims
	RequestID string `json:"rid"`
}

// Sign returns a signed token embedding requestID, valid for 24 hours.
func (s *Signer) Sign(requestID string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		RequestID: requestID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.key)
}

// Verify parses and validates token, returning the embedded request id.
func (s *Signer) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return "", err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid hitl token")
	}
	return c.RequestID, nil
}
