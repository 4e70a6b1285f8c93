package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"file-service/internal/apperr"
	"file-service/internal/messaging"
	"file-service/internal/metrics"
	"file-service/internal/policy"
	"file-service/internal/storage"
)

const maxTitleLength = 255

// OrphanedBlobError reports a stored blob whose record could not be saved and
// whose removal failed too. Key must be reclaimed out of band.
type OrphanedBlobError struct {
	Key        string
	Err        error
	CleanupErr error
}

func (e *OrphanedBlobError) Error() string {
	return fmt.Sprintf("orphaned blob %q: save record: %v; remove blob: %v", e.Key, e.Err, e.CleanupErr)
}

func (e *OrphanedBlobError) Unwrap() error {
	return e.Err
}

// UploadInput describes a file received from a professor.
type UploadInput struct {
	Title        string
	OriginalName string
	ContentType  string
	Size         int64
	Body         io.Reader
}

// Download is a resolved, authorised download.
type Download struct {
	File View
	URL  *url.URL
}

type Service interface {
	List(ctx context.Context, p *policy.Principal) ([]View, error)
	Create(ctx context.Context, p *policy.Principal, in UploadInput) (*View, error)
	Delete(ctx context.Context, p *policy.Principal, id int64) error
	ResolveDownload(ctx context.Context, p *policy.Principal, id int64) (*Download, error)
	OpenDownload(ctx context.Context, p *policy.Principal, id int64) (*File, *storage.Object, error)
}

type Options struct {
	Scope          policy.Scope
	MaxUploadBytes int64
	PresignTTL     time.Duration
}

type service struct {
	repo     Repository
	store    storage.BlobStore
	producer messaging.Producer
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, store storage.BlobStore, producer messaging.Producer, opts Options, m *metrics.Metrics, logger *slog.Logger) Service {
	if opts.Scope == "" {
		opts.Scope = policy.ScopeOwn
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 5 * time.Minute
	}
	if producer == nil {
		producer = messaging.NoopProducer{}
	}
	return &service{
		repo:     repo,
		store:    store,
		producer: producer,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *service) List(ctx context.Context, p *policy.Principal) ([]View, error) {
	if err := policy.CanList(p); err != nil {
		return nil, err
	}

	var ownerID int64
	if id, ok := policy.OwnerFilter(p, s.opts.Scope); ok {
		ownerID = id
	}

	files, err := s.repo.ListActive(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	views := make([]View, 0, len(files))
	for i := range files {
		views = append(views, files[i].View())
	}
	s.metrics.Files.RecordListViewed(ctx, p.Role.String())
	return views, nil
}

// Create stores the blob first and then the record. If the record cannot be
// saved the blob is removed again; when that fails as well the key is
// returned in an *OrphanedBlobError.
func (s *service) Create(ctx context.Context, p *policy.Principal, in UploadInput) (*View, error) {
	if err := policy.CanUpload(p); err != nil {
		return nil, err
	}
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	key := storage.ObjectKey(p.UserID, s.now())
	if err := s.store.Put(ctx, key, in.Body, in.Size, in.ContentType); err != nil {
		return nil, err
	}

	record, err := s.repo.Create(ctx, &File{
		OwnerID:      p.UserID,
		Title:        in.Title,
		OriginalName: in.OriginalName,
		ContentType:  in.ContentType,
		SizeBytes:    in.Size,
		StorageKey:   key,
		Status:       StatusActive,
	})
	if err != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		if rmErr := s.store.Remove(cleanupCtx, key); rmErr != nil {
			s.metrics.Files.RecordOrphanedBlob(ctx)
			s.logger.ErrorContext(ctx, "orphaned blob after failed insert",
				"storage_key", key, "owner_id", p.UserID, "error", err, "cleanup_error", rmErr)
			return nil, &OrphanedBlobError{Key: key, Err: err, CleanupErr: rmErr}
		}
		return nil, fmt.Errorf("save file record: %w", err)
	}

	s.metrics.Files.RecordUpload(ctx)
	s.logger.InfoContext(ctx, "file uploaded", "file_id", record.ID, "owner_id", p.UserID, "size", in.Size)
	s.publish(ctx, messaging.EventFileUploaded, record)

	view := record.View()
	view.UploadedByEmail = p.Email
	return &view, nil
}

// Delete removes a record and its blob. The record is first marked deleting
// so it disappears from listings; the blob is removed next and the row last.
// If the blob cannot be removed the record is restored. A record found
// already deleting is finished off instead: an earlier attempt may have
// removed its blob and failed on the row.
func (s *service) Delete(ctx context.Context, p *policy.Principal, id int64) error {
	if p == nil {
		return apperr.ErrUnauthorized
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.CanDelete(p, record.OwnerID); err != nil {
		return err
	}

	marked, err := s.repo.MarkDeleting(ctx, id, p.UserID)
	if err != nil {
		return fmt.Errorf("mark file deleting: %w", err)
	}
	if !marked {
		record, err = s.repo.GetByID(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			// finished by a concurrent request
			return nil
		}
		if err != nil {
			return err
		}
		if record.Status != StatusDeleting {
			return fmt.Errorf("file %d changed during delete: %w", id, apperr.ErrConflict)
		}
		s.logger.InfoContext(ctx, "resuming file delete", "file_id", id)
	}

	if err := s.removeBlob(ctx, record.StorageKey); err != nil {
		if !marked {
			// the blob may already be gone, so the record stays hidden
			s.logger.ErrorContext(ctx, "resumed delete could not remove blob",
				"file_id", id, "storage_key", record.StorageKey, "error", err)
			return err
		}
		if restoreErr := s.repo.RestoreActive(context.WithoutCancel(ctx), id); restoreErr != nil {
			s.logger.ErrorContext(ctx, "failed to restore file after storage error",
				"file_id", id, "storage_key", record.StorageKey, "error", restoreErr)
		}
		return err
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	if !deleted {
		return nil
	}

	s.metrics.Files.RecordDelete(ctx)
	s.logger.InfoContext(ctx, "file deleted", "file_id", id, "owner_id", record.OwnerID)
	s.publish(ctx, messaging.EventFileDeleted, record)
	return nil
}

// removeBlob treats a blob that is already gone as removed.
func (s *service) removeBlob(ctx context.Context, key string) error {
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		s.logger.InfoContext(ctx, "blob already gone", "storage_key", key)
		return nil
	}
	return s.store.Remove(ctx, key)
}

func (s *service) ResolveDownload(ctx context.Context, p *policy.Principal, id int64) (*Download, error) {
	record, err := s.downloadable(ctx, p, id)
	if err != nil {
		return nil, err
	}

	u, err := s.store.PresignGet(ctx, record.StorageKey, record.OriginalName, s.opts.PresignTTL)
	if err != nil {
		return nil, err
	}

	s.metrics.Files.RecordDownload(ctx)
	return &Download{File: record.View(), URL: u}, nil
}

// OpenDownload returns the blob body for streaming. The caller closes it.
func (s *service) OpenDownload(ctx context.Context, p *policy.Principal, id int64) (*File, *storage.Object, error) {
	record, err := s.downloadable(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}

	obj, err := s.store.Open(ctx, record.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.ErrorContext(ctx, "file record without blob", "file_id", id, "storage_key", record.StorageKey)
			return nil, nil, fmt.Errorf("blob missing for file %d: %w", id, apperr.ErrInternal)
		}
		return nil, nil, err
	}

	s.metrics.Files.RecordDownload(ctx)
	return record, obj, nil
}

func (s *service) downloadable(ctx context.Context, p *policy.Principal, id int64) (*File, error) {
	if p == nil {
		return nil, apperr.ErrUnauthorized
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusActive {
		return nil, ErrFileNotFound
	}
	if err := policy.CanDownload(p, record.OwnerID, s.opts.Scope); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) publish(ctx context.Context, eventType string, f *File) {
	event := messaging.FileEvent{
		Type:       eventType,
		FileID:     f.ID,
		OwnerID:    f.OwnerID,
		Title:      f.Title,
		OccurredAt: s.now().UTC(),
	}
	if err := s.producer.SendMessage(ctx, eventType, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish file event", "type", eventType, "file_id", f.ID, "error", err)
	}
}

func (s *service) validate(in UploadInput) (UploadInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, fmt.Errorf("%w: title is required", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLength {
		return in, fmt.Errorf("%w: title must be at most %d characters", apperr.ErrValidation, maxTitleLength)
	}
	if in.Body == nil || in.Size <= 0 {
		return in, fmt.Errorf("%w: file is empty", apperr.ErrValidation)
	}
	if s.opts.MaxUploadBytes > 0 && in.Size > s.opts.MaxUploadBytes {
		return in, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrValidation, s.opts.MaxUploadBytes)
	}

	in.OriginalName = cleanFilename(in.OriginalName)
	if in.OriginalName == "" {
		in.OriginalName = cleanFilename(in.Title)
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}
	return in, nil
}

// cleanFilename keeps the base name and drops control characters.
func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}
