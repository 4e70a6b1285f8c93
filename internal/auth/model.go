package auth

import (
	"context"
	"time"

	"file-service/internal/user"

	"github.com/uptrace/bun"
)

// RefreshToken stores the SHA-256 of an issued refresh token.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    int64     `bun:"user_id,notnull"`
	TokenHash string    `bun:"token_hash,unique,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

var _ bun.BeforeCreateTableHook = (*RefreshToken)(nil)

func (*RefreshToken) BeforeCreateTable(ctx context.Context, query *bun.CreateTableQuery) error {
	query.ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`)
	return nil
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PasswordResetConfirm redeems a reset ticket. max counts characters; the
// service also enforces bcrypt's 72-byte limit.
type PasswordResetConfirm struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

// AuthResponse is returned by login and refresh.
type AuthResponse struct {
	Access  string       `json:"access"`
	Refresh string       `json:"refresh"`
	User    user.Profile `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
