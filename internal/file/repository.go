package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"file-service/internal/apperr"
	"file-service/internal/metrics"

	"github.com/uptrace/bun"
)

var ErrFileNotFound = fmt.Errorf("file %w", apperr.ErrNotFound)

type Repository interface {
	Create(ctx context.Context, f *File) (*File, error)
	// GetByID returns the record in any status, with its owner loaded.
	GetByID(ctx context.Context, id int64) (*File, error)
	// ListActive returns active records newest first. ownerID <= 0 means any owner.
	ListActive(ctx context.Context, ownerID int64) ([]File, error)
	// MarkDeleting moves an active record owned by ownerID to deleting and
	// reports whether this call did it.
	MarkDeleting(ctx context.Context, id, ownerID int64) (bool, error)
	RestoreActive(ctx context.Context, id int64) error
	// Delete removes the row and reports whether it existed.
	Delete(ctx context.Context, id int64) (bool, error)
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

func selectOwner(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Column("id", "email")
}

func (r *repository) Create(ctx context.Context, f *File) (*File, error) {
	start := time.Now()
	_, err := r.db.NewInsert().Model(f).Returning("*").Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "insert", "files", time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*File, error) {
	start := time.Now()
	f := new(File)
	err := r.db.NewSelect().
		Model(f).
		Relation("Owner", selectOwner).
		Where("f.id = ?", id).
		Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "files", time.Since(start), err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f, nil
}

func (r *repository) ListActive(ctx context.Context, ownerID int64) ([]File, error) {
	start := time.Now()
	var files []File
	q := r.db.NewSelect().
		Model(&files).
		Relation("Owner", selectOwner).
		Where("f.status = ?", StatusActive)
	if ownerID > 0 {
		q = q.Where("f.owner_id = ?", ownerID)
	}
	err := q.OrderExpr("f.created_at DESC, f.id DESC").Scan(ctx)

	r.metrics.Database.RecordQuery(ctx, "select", "files", time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return files, nil
}

func (r *repository) MarkDeleting(ctx context.Context, id, ownerID int64) (bool, error) {
	start := time.Now()
	result, err := r.db.NewUpdate().
		Model((*File)(nil)).
		Set("status = ?", StatusDeleting).
		Where("id = ?", id).
		Where("owner_id = ?", ownerID).
		Where("status = ?", StatusActive).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "update", "files", time.Since(start), err)

	return affected(result, err)
}

func (r *repository) RestoreActive(ctx context.Context, id int64) error {
	start := time.Now()
	_, err := r.db.NewUpdate().
		Model((*File)(nil)).
		Set("status = ?", StatusActive).
		Where("id = ?", id).
		Where("status = ?", StatusDeleting).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "update", "files", time.Since(start), err)

	return err
}

func (r *repository) Delete(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	result, err := r.db.NewDelete().
		Model((*File)(nil)).
		Where("id = ?", id).
		Exec(ctx)

	r.metrics.Database.RecordQuery(ctx, "delete", "files", time.Since(start), err)

	return affected(result, err)
}

func affected(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
