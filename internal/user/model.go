package user

import (
	"time"

	"file-service/internal/policy"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64       `bun:"id,pk,autoincrement" json:"user_id"`
	Email        string      `bun:"email,unique,notnull" json:"email"`
	Username     string      `bun:"username,notnull" json:"username"`
	FirstName    string      `bun:"first_name,notnull" json:"first_name"`
	LastName     string      `bun:"last_name,notnull" json:"last_name"`
	PasswordHash string      `bun:"password_hash,notnull" json:"-"`
	Role         policy.Role `bun:"role,notnull" json:"role"`
	CreatedAt    time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time   `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"-"`
}

// Principal returns the identity carried in access tokens for u.
func (u *User) Principal() *policy.Principal {
	return &policy.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Profile is the public view of a user returned by the API.
type Profile struct {
	ID       int64       `json:"user_id"`
	Email    string      `json:"email"`
	Username string      `json:"username"`
	Role     policy.Role `json:"role"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Email: u.Email, Username: u.Username, Role: u.Role}
}
