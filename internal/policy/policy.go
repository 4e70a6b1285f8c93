// Package policy decides what an authenticated caller may do with file
// records. Every function is pure: the caller identity is always passed in.
package policy

import (
	"file-service/internal/apperr"
)

// Principal is the identity resolved from a verified access token.
// A nil *Principal means the request is not authenticated.
type Principal struct {
	UserID int64
	Email  string
	Role   Role
}

// CanList allows any authenticated user to list files.
func CanList(p *Principal) error {
	if p == nil {
		return apperr.ErrUnauthorized
	}
	switch p.Role {
	case RoleProfessor, RoleStudent:
		return nil
	default:
		return apperr.ErrForbidden
	}
}

// CanUpload allows professors only.
func CanUpload(p *Principal) error {
	if p == nil {
		return apperr.ErrUnauthorized
	}
	switch p.Role {
	case RoleProfessor:
		return nil
	case RoleStudent:
		return apperr.ErrForbidden
	default:
		return apperr.ErrForbidden
	}
}

// CanDelete allows the professor who owns the record.
func CanDelete(p *Principal, ownerID int64) error {
	if p == nil {
		return apperr.ErrUnauthorized
	}
	switch p.Role {
	case RoleProfessor:
		if p.UserID == ownerID {
			return nil
		}
		return apperr.ErrForbidden
	case RoleStudent:
		return apperr.ErrForbidden
	default:
		return apperr.ErrForbidden
	}
}

// CanDownload allows any authenticated user who can see the record.
func CanDownload(p *Principal, ownerID int64, scope Scope) error {
	if p == nil {
		return apperr.ErrUnauthorized
	}
	if !Visible(p, ownerID, scope) {
		return apperr.ErrForbidden
	}
	return nil
}

// Visible reports whether a record owned by ownerID shows up for p.
func Visible(p *Principal, ownerID int64, scope Scope) bool {
	if p == nil {
		return false
	}
	switch p.Role {
	case RoleProfessor:
		return scope == ScopeAll || p.UserID == ownerID
	case RoleStudent:
		return true
	default:
		return false
	}
}

// OwnerFilter returns the owner id a listing must be restricted to, if any.
func OwnerFilter(p *Principal, scope Scope) (int64, bool) {
	if p == nil || scope == ScopeAll {
		return 0, false
	}
	if p.Role == RoleProfessor {
		return p.UserID, true
	}
	return 0, false
}
