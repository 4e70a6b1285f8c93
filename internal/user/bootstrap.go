package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"file-service/internal/config"
	"file-service/internal/policy"

	"golang.org/x/crypto/bcrypt"
)

// Bootstrap provisions the configured accounts that do not exist yet.
// Existing accounts are left untouched, including their role.
func Bootstrap(ctx context.Context, repo Repository, accounts []config.BootstrapUser, logger *slog.Logger) error {
	for _, acc := range accounts {
		role, err := policy.ParseRole(acc.Role)
		if err != nil {
			return fmt.Errorf("bootstrap user %s: %w", acc.Email, err)
		}
		if acc.Email == "" {
			return errors.New("bootstrap user: email is required")
		}
		if err := ValidatePassword(acc.Password); err != nil {
			return fmt.Errorf("bootstrap user %s: %w", acc.Email, err)
		}

		_, err = repo.GetByEmail(ctx, acc.Email)
		if err == nil {
			logger.DebugContext(ctx, "bootstrap user already exists", "email", acc.Email)
			continue
		}
		if !errors.Is(err, ErrUserNotFound) {
			return fmt.Errorf("bootstrap user %s: %w", acc.Email, err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("bootstrap user %s: hash password: %w", acc.Email, err)
		}

		username := acc.Username
		if username == "" {
			username = acc.Email
		}

		_, err = repo.Create(ctx, &User{
			Email:        acc.Email,
			Username:     username,
			FirstName:    acc.FirstName,
			LastName:     acc.LastName,
			PasswordHash: string(hash),
			Role:         role,
		})
		if errors.Is(err, ErrEmailExists) {
			// another replica won the race
			continue
		}
		if err != nil {
			return fmt.Errorf("bootstrap user %s: %w", acc.Email, err)
		}

		logger.InfoContext(ctx, "bootstrap user created", "email", acc.Email, "role", role)
	}
	return nil
}
