package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ticketAudience = "password-reset"

var errTicketInvalid = errors.New("reset ticket rejected")

// ticketClaims bind a reset ticket to the password hash current at issue time.
type ticketClaims struct {
	jwt.RegisteredClaims
	Fingerprint string `json:"pwf"`
}

// TicketIssuer produces stateless password reset tickets. Nothing is stored:
// changing the password changes the fingerprint and so voids every ticket
// issued before.
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTicketIssuer(secret string, ttl time.Duration) *TicketIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TicketIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TicketIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a ticket for userID bound to passwordHash.
func (t *TicketIssuer) Issue(userID int64, passwordHash string) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ticketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{ticketAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Fingerprint: t.fingerprint(passwordHash),
	})

	s, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign reset ticket: %w", err)
	}
	return s, nil
}

// Parse checks signature, audience and expiry and returns the user id and
// fingerprint the ticket was issued for.
func (t *TicketIssuer) Parse(ticket string) (int64, string, error) {
	claims := &ticketClaims{}
	token, err := jwt.ParseWithClaims(ticket, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(ticketAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", errTicketInvalid, err)
	}
	if !token.Valid || claims.Fingerprint == "" {
		return 0, "", errTicketInvalid
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", errTicketInvalid
	}
	return userID, claims.Fingerprint, nil
}

// Matches reports in constant time whether fingerprint belongs to passwordHash.
func (t *TicketIssuer) Matches(fingerprint, passwordHash string) bool {
	return hmac.Equal([]byte(fingerprint), []byte(t.fingerprint(passwordHash)))
}

func (t *TicketIssuer) fingerprint(passwordHash string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte("pwf:"))
	mac.Write([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
