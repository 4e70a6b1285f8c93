package auth

import (
	"context"
	"time"

	"file-service/internal/metrics"

	"github.com/uptrace/bun"
)

type Repository struct {
	db      bun.IDB
	metrics *metrics.Metrics
}

func NewRepository(db bun.IDB, m *metrics.Metrics) *Repository {
	return &Repository{
		db:      db,
		metrics: m,
	}
}

// CreateRefreshToken stores the hash of a new refresh token
func (r *Repository) CreateRefreshToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	start := time.Now()
	refreshToken := &RefreshToken{
		UserID:    userID,
		TokenHash: hashRefreshToken(token),
		ExpiresAt: expiresAt,
	}

	_, err := r.db.NewInsert().Model(refreshToken).Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "insert", "refresh_tokens", time.Since(start), err)

	return err
}

// ConsumeRefreshToken deletes an unexpired token and returns it. Of two
// concurrent calls with the same token only one gets a row back.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	start := time.Now()
	refreshToken := &RefreshToken{}
	err := r.db.NewDelete().
		Model(refreshToken).
		Where("token_hash = ?", hashRefreshToken(token)).
		Where("expires_at > ?", time.Now()).
		Returning("*").
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "delete", "refresh_tokens", time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return refreshToken, nil
}

// DeleteRefreshToken removes a refresh token (for logout)
func (r *Repository) DeleteRefreshToken(ctx context.Context, token string) error {
	start := time.Now()
	_, err := r.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("token_hash = ?", hashRefreshToken(token)).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "delete", "refresh_tokens", time.Since(start), err)

	return err
}

// DeleteExpiredTokens removes all expired refresh tokens (cleanup)
func (r *Repository) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	start := time.Now()
	result, err := r.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("expires_at < ?", time.Now()).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "delete", "refresh_tokens", time.Since(start), err)

	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAllUserTokens signs the user out everywhere
func (r *Repository) DeleteAllUserTokens(ctx context.Context, userID int64) error {
	start := time.Now()
	_, err := r.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "delete", "refresh_tokens", time.Since(start), err)

	return err
}
