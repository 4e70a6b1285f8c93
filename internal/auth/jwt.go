package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"file-service/internal/policy"

	"github.com/golang-jwt/jwt/v5"
)

const accessAudience = "file-service"

var ErrInvalidToken = errors.New("invalid token")

// Claims are carried by access tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64       `json:"uid"`
	Email  string      `json:"email"`
	Role   policy.Role `json:"role"`
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

func (i *TokenIssuer) GenerateAccessToken(p *policy.Principal) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			Audience:  jwt.ClaimStrings{accessAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID: p.UserID,
		Email:  p.Email,
		Role:   p.Role,
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return tokenString, nil
}

// ValidateAccessToken verifies signature, audience and expiry and returns the
// caller identity.
func (i *TokenIssuer) ValidateAccessToken(tokenString string) (*policy.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(accessAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || !claims.Role.Valid() || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}

	return &policy.Principal{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// GenerateRefreshToken returns 32 random bytes, hex encoded.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashRefreshToken is what gets stored, so a leaked table cannot be replayed.
func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
