// Package calltoken issues the capability tokens that grant access to the
// video-consultation channel for one appointment.
package calltoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const slotLength = 30 * time.Minute

var ErrExpired = errors.New("call link expired")

// Generator signs short-lived call links. A link stays valid until the
// appointment's end plus a grace period; asking for one after that fails
// with ErrExpired so callers can surface it distinctly from not-found.
type Generator struct {
	secret  []byte
	baseURL string
	grace   time.Duration
	now     func() time.Time
}

func New(secret, baseURL string, grace time.Duration) *Generator {
	return &Generator{
		secret:  []byte(secret),
		baseURL: baseURL,
		grace:   grace,
		now:     time.Now,
	}
}

// NewWithClock is for tests that need to control the expiry decision.
func NewWithClock(secret, baseURL string, grace time.Duration, now func() time.Time) *Generator {
	g := New(secret, baseURL, grace)
	g.now = now
	return g
}

type claims struct {
	Room string `json:"room"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue returns the call link for the given appointment slot, bound to the
// requesting user. date is "2006-01-02" and startTime is "HH:MM", both in
// the server's local zone.
func (g *Generator) Issue(appointmentID uuid.UUID, date, startTime string, userID uuid.UUID, role string) (string, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+startTime, time.Local)
	if err != nil {
		return "", fmt.Errorf("parse appointment time: %w", err)
	}

	validUntil := start.Add(slotLength).Add(g.grace)
	if g.now().After(validUntil) {
		return "", ErrExpired
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Room: appointmentID.String(),
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(g.now()),
			ExpiresAt: jwt.NewNumericDate(validUntil),
		},
	})

	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign call token: %w", err)
	}

	return fmt.Sprintf("%s/call/%s?token=%s", g.baseURL, appointmentID, signed), nil
}
