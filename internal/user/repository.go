package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"file-service/internal/apperr"
	"file-service/internal/metrics"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	ErrUserNotFound = fmt.Errorf("user %w", apperr.ErrNotFound)
	ErrEmailExists  = fmt.Errorf("email already exists: %w", apperr.ErrConflict)

	// ErrPasswordChanged means the stored hash no longer matches the expected one.
	ErrPasswordChanged = errors.New("password changed concurrently")
)

type Repository interface {
	Create(ctx context.Context, u *User) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// ReplacePasswordHash swaps the hash only if it still equals oldHash.
	ReplacePasswordHash(ctx context.Context, id int64, oldHash, newHash string) error
}

type repository struct {
	db      bun.IDB
	metrics *metrics.Metrics
}

func NewRepository(db bun.IDB, m *metrics.Metrics) Repository {
	return &repository{
		db:      db,
		metrics: m,
	}
}

func (r *repository) Create(ctx context.Context, u *User) (*User, error) {
	start := time.Now()
	_, err := r.db.NewInsert().Model(u).Returning("*").Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "insert", "users", time.Since(start), err)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	return u, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*User, error) {
	start := time.Now()
	u := new(User)
	err := r.db.NewSelect().Model(u).Where("id = ?", id).Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "users", time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetByEmail matches the address exactly.
func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	start := time.Now()
	u := new(User)
	err := r.db.NewSelect().
		Model(u).
		Where("email = ?", email).
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "users", time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *repository) ReplacePasswordHash(ctx context.Context, id int64, oldHash, newHash string) error {
	start := time.Now()
	result, err := r.db.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", newHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("password_hash = ?", oldHash).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "update", "users", time.Since(start), err)

	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrPasswordChanged
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
