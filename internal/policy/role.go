package policy

import (
	"database/sql/driver"
	"fmt"
)

// Role is fixed when an account is provisioned and never changes afterwards.
type Role string

const (
	RoleProfessor Role = "PROFESSOR"
	RoleStudent   Role = "STUDENT"
)

// ParseRole accepts only the two known roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleProfessor:
		return RoleProfessor, nil
	case RoleStudent:
		return RoleStudent, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string {
	return string(r)
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// UnmarshalText rejects unknown roles, so tokens and requests carrying one fail to decode.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown role %q", string(r))
	}
	return string(r), nil
}

func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	case nil:
		return fmt.Errorf("role is null")
	}
	return fmt.Errorf("cannot scan %T into role", src)
}

// Scope decides which file records a caller can see.
type Scope string

const (
	// ScopeOwn limits professors to their own uploads. Students see every record.
	ScopeOwn Scope = "own"
	// ScopeAll lets every authenticated user see every record.
	ScopeAll Scope = "all"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeOwn, "":
		return ScopeOwn, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown visibility scope %q", s)
}
