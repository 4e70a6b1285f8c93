package file_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"file-service/internal/apperr"
	"file-service/internal/file"
	"file-service/internal/messaging"
	"file-service/internal/metrics"
	"file-service/internal/policy"
	"file-service/internal/storage"
	"file-service/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory file.Repository. Every record gets the same
// created_at unless clock is set, so ordering falls back to the id.
type memRepo struct {
	mu        sync.Mutex
	files     map[int64]*file.File
	emails    map[int64]string
	nextID    int64
	clock     func() time.Time
	createErr error
	// deleteErrs fail the next Delete calls, one each
	deleteErrs []error
}

func newMemRepo() *memRepo {
	fixed := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	return &memRepo{
		files:  map[int64]*file.File{},
		emails: map[int64]string{},
		clock:  func() time.Time { return fixed },
	}
}

func (r *memRepo) Create(ctx context.Context, f *file.File) (*file.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.nextID++
	f.ID = r.nextID
	f.CreatedAt = r.clock()
	cp := *f
	r.files[f.ID] = &cp
	return f, nil
}

func (r *memRepo) withOwner(f file.File) *file.File {
	if email, ok := r.emails[f.OwnerID]; ok {
		f.Owner = &user.User{ID: f.OwnerID, Email: email}
	}
	return &f
}

func (r *memRepo) GetByID(ctx context.Context, id int64) (*file.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, file.ErrFileNotFound
	}
	return r.withOwner(*f), nil
}

func (r *memRepo) ListActive(ctx context.Context, ownerID int64) ([]file.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []file.File
	for _, f := range r.files {
		if f.Status != file.StatusActive {
			continue
		}
		if ownerID > 0 && f.OwnerID != ownerID {
			continue
		}
		out = append(out, *r.withOwner(*f))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *memRepo) MarkDeleting(ctx context.Context, id, ownerID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID || f.Status != file.StatusActive {
		return false, nil
	}
	f.Status = file.StatusDeleting
	return true, nil
}

func (r *memRepo) RestoreActive(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok && f.Status == file.StatusDeleting {
		f.Status = file.StatusActive
	}
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.deleteErrs) > 0 {
		err := r.deleteErrs[0]
		r.deleteErrs = r.deleteErrs[1:]
		return false, err
	}
	_, ok := r.files[id]
	delete(r.files, id)
	return ok, nil
}

func (r *memRepo) status(id int64) file.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok {
		return f.Status
	}
	return ""
}

type recordingProducer struct {
	mu     sync.Mutex
	events []messaging.FileEvent
	err    error
}

func (p *recordingProducer) SendMessage(ctx context.Context, key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, value.(messaging.FileEvent))
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var (
	profA   = &policy.Principal{UserID: 1, Email: "a@uni.test", Role: policy.RoleProfessor}
	profB   = &policy.Principal{UserID: 2, Email: "b@uni.test", Role: policy.RoleProfessor}
	student = &policy.Principal{UserID: 3, Email: "s@uni.test", Role: policy.RoleStudent}
)

type registry struct {
	svc      file.Service
	repo     *memRepo
	store    *storage.MemoryStore
	producer *recordingProducer
}

func newRegistry(scope policy.Scope) *registry {
	repo := newMemRepo()
	repo.emails[profA.UserID] = profA.Email
	repo.emails[profB.UserID] = profB.Email
	store := storage.NewMemoryStore()
	producer := &recordingProducer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := file.NewService(repo, store, producer, file.Options{
		Scope:          scope,
		MaxUploadBytes: 1024,
		PresignTTL:     time.Minute,
	}, metrics.NewMock(), logger)

	return &registry{svc: svc, repo: repo, store: store, producer: producer}
}

func upload(title, body string) file.UploadInput {
	return file.UploadInput{
		Title:        title,
		OriginalName: strings.ToLower(title) + ".pdf",
		ContentType:  "application/pdf",
		Size:         int64(len(body)),
		Body:         strings.NewReader(body),
	}
}

func (r *registry) mustCreate(t *testing.T, p *policy.Principal, title string) *file.View {
	t.Helper()
	v, err := r.svc.Create(context.Background(), p, upload(title, "%PDF-1.7 "+title))
	require.NoError(t, err)
	return v
}

func TestCreate_OnlyProfessors(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()

	_, err := r.svc.Create(ctx, student, upload("Notes", "x"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = r.svc.Create(ctx, nil, upload("Notes", "x"))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	assert.Empty(t, r.store.Keys(), "rejected uploads must not touch storage")
}

func TestCreate_Success(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)

	v := r.mustCreate(t, profA, "Syllabus")

	assert.Equal(t, "Syllabus", v.Title)
	assert.Equal(t, "syllabus.pdf", v.OriginalName)
	assert.Equal(t, profA.UserID, v.OwnerID)
	assert.Equal(t, profA.Email, v.UploadedByEmail)
	assert.Equal(t, "/api/files/1/download", v.DownloadURL)

	keys := r.store.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "uploads/1/"))

	stored, err := r.repo.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, keys[0], stored.StorageKey)
	assert.Equal(t, file.StatusActive, stored.Status)

	assert.Equal(t, []string{messaging.EventFileUploaded}, r.producer.types())
}

func TestCreate_Validation(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()

	tests := []struct {
		name string
		in   file.UploadInput
	}{
		{name: "blank title", in: upload("   ", "data")},
		{name: "title too long", in: upload(strings.Repeat("t", 256), "data")},
		{name: "empty file", in: upload("Empty", "")},
		{name: "too large", in: upload("Huge", strings.Repeat("x", 2048))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.svc.Create(ctx, profA, tt.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Empty(t, r.store.Keys())
}

func TestCreate_SanitisesFilename(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	in := upload("Lab", "data")
	in.OriginalName = `C:\Users\prof\..\lab` + "\n" + `.pdf`
	in.ContentType = ""

	v, err := r.svc.Create(context.Background(), profA, in)
	require.NoError(t, err)
	assert.Equal(t, "lab.pdf", v.OriginalName)
	assert.Equal(t, "application/octet-stream", v.ContentType)
}

func TestCreate_StorageUnavailable(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	r.store.SetFailures(true, false, false)

	_, err := r.svc.Create(context.Background(), profA, upload("Syllabus", "data"))
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)

	views, err := r.svc.List(context.Background(), profA)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestCreate_InsertFailureRemovesBlob(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	r.repo.createErr = errors.New("connection reset")

	_, err := r.svc.Create(context.Background(), profA, upload("Syllabus", "data"))
	require.Error(t, err)

	var orphan *file.OrphanedBlobError
	assert.False(t, errors.As(err, &orphan))
	assert.Empty(t, r.store.Keys(), "blob must be removed when the record is not saved")
	assert.Empty(t, r.producer.types())
}

func TestCreate_InsertAndCleanupFailureReportsOrphan(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	r.repo.createErr = errors.New("connection reset")
	r.store.SetFailures(false, true, false)

	_, err := r.svc.Create(context.Background(), profA, upload("Syllabus", "data"))
	require.Error(t, err)

	var orphan *file.OrphanedBlobError
	require.ErrorAs(t, err, &orphan)
	keys := r.store.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, keys[0], orphan.Key)
	assert.ErrorIs(t, orphan.CleanupErr, apperr.ErrStorageUnavailable)
	assert.Equal(t, 500, apperr.HTTPStatus(err))
}

func TestDelete_OwnerOnly(t *testing.T) {
	r := newRegistry(policy.ScopeAll)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")

	assert.ErrorIs(t, r.svc.Delete(ctx, student, v.ID), apperr.ErrForbidden)
	assert.ErrorIs(t, r.svc.Delete(ctx, profB, v.ID), apperr.ErrForbidden)
	assert.ErrorIs(t, r.svc.Delete(ctx, nil, v.ID), apperr.ErrUnauthorized)
	assert.Len(t, r.store.Keys(), 1)

	require.NoError(t, r.svc.Delete(ctx, profA, v.ID))
	assert.Empty(t, r.store.Keys())

	assert.ErrorIs(t, r.svc.Delete(ctx, profA, v.ID), apperr.ErrNotFound)
	assert.Equal(t, []string{messaging.EventFileUploaded, messaging.EventFileDeleted}, r.producer.types())
}

func TestDelete_Missing(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	assert.ErrorIs(t, r.svc.Delete(context.Background(), profA, 99), apperr.ErrNotFound)
}

func TestDelete_BlobAlreadyGone(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")

	for _, k := range r.store.Keys() {
		require.NoError(t, r.store.Remove(ctx, k))
	}

	require.NoError(t, r.svc.Delete(ctx, profA, v.ID))
	_, err := r.repo.GetByID(ctx, v.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete_StorageFailureRestoresRecord(t *testing.T) {
	tests := []struct {
		name         string
		remove, stat bool
	}{
		{name: "remove fails", remove: true},
		{name: "stat fails", stat: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(policy.ScopeOwn)
			ctx := context.Background()
			v := r.mustCreate(t, profA, "Syllabus")
			r.store.SetFailures(false, tt.remove, tt.stat)

			err := r.svc.Delete(ctx, profA, v.ID)
			assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
			assert.Equal(t, file.StatusActive, r.repo.status(v.ID))
			assert.Len(t, r.store.Keys(), 1)

			views, err := r.svc.List(ctx, profA)
			require.NoError(t, err)
			assert.Len(t, views, 1, "record is listed again after compensation")

			r.store.SetFailures(false, false, false)
			require.NoError(t, r.svc.Delete(ctx, profA, v.ID))
			assert.Empty(t, r.store.Keys())
		})
	}
}

func TestDelete_ResumesRecordLeftDeleting(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")

	marked, err := r.repo.MarkDeleting(ctx, v.ID, profA.UserID)
	require.NoError(t, err)
	require.True(t, marked)

	require.NoError(t, r.svc.Delete(ctx, profA, v.ID))
	assert.Empty(t, r.store.Keys())
	_, err = r.repo.GetByID(ctx, v.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete_RetryAfterRowDeleteFailure(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")
	r.repo.deleteErrs = []error{errors.New("connection reset")}

	err := r.svc.Delete(ctx, profA, v.ID)
	require.Error(t, err)
	assert.Equal(t, 500, apperr.HTTPStatus(err))
	assert.Empty(t, r.store.Keys(), "blob went before the row failed")
	assert.Equal(t, file.StatusDeleting, r.repo.status(v.ID))

	views, err := r.svc.List(ctx, profA)
	require.NoError(t, err)
	assert.Empty(t, views)

	require.NoError(t, r.svc.Delete(ctx, profA, v.ID))
	_, err = r.repo.GetByID(ctx, v.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{messaging.EventFileUploaded, messaging.EventFileDeleted}, r.producer.types())
}

func TestDelete_ResumedStorageFailureKeepsRecordHidden(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")

	_, err := r.repo.MarkDeleting(ctx, v.ID, profA.UserID)
	require.NoError(t, err)
	r.store.SetFailures(false, true, false)

	assert.ErrorIs(t, r.svc.Delete(ctx, profA, v.ID), apperr.ErrStorageUnavailable)
	assert.Equal(t, file.StatusDeleting, r.repo.status(v.ID))

	r.store.SetFailures(false, false, false)
	require.NoError(t, r.svc.Delete(ctx, profA, v.ID))
	assert.Empty(t, r.store.Keys())
}

func TestDelete_Concurrent(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.svc.Delete(ctx, profA, v.ID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		}
	}
	assert.Empty(t, r.store.Keys())
	_, err := r.repo.GetByID(ctx, v.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	deletes := 0
	for _, typ := range r.producer.types() {
		if typ == messaging.EventFileDeleted {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)
}

func TestList_OrderAndScope(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	a1 := r.mustCreate(t, profA, "Week 1")
	b1 := r.mustCreate(t, profB, "Lab")
	a2 := r.mustCreate(t, profA, "Week 2")

	ids := func(views []file.View) []int64 {
		var out []int64
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}

	t.Run("professor sees own uploads", func(t *testing.T) {
		views, err := r.svc.List(ctx, profA)
		require.NoError(t, err)
		assert.Equal(t, []int64{a2.ID, a1.ID}, ids(views))
	})

	t.Run("student sees everything, ties by id", func(t *testing.T) {
		first, err := r.svc.List(ctx, student)
		require.NoError(t, err)
		assert.Equal(t, []int64{a2.ID, b1.ID, a1.ID}, ids(first))

		second, err := r.svc.List(ctx, student)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, profB.Email, first[1].UploadedByEmail)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := r.svc.List(ctx, nil)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})

	t.Run("scope all", func(t *testing.T) {
		all := newRegistry(policy.ScopeAll)
		all.mustCreate(t, profA, "One")
		all.mustCreate(t, profB, "Two")

		views, err := all.svc.List(ctx, profA)
		require.NoError(t, err)
		assert.Len(t, views, 2)
	})
}

func TestList_NewestFirst(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	r.repo.clock = func() time.Time {
		now = now.Add(-time.Hour)
		return now
	}

	newer := r.mustCreate(t, profA, "First")
	older := r.mustCreate(t, profA, "Second")

	views, err := r.svc.List(context.Background(), student)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, newer.ID, views[0].ID)
	assert.Equal(t, older.ID, views[1].ID)
}

func TestResolveDownload(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")

	t.Run("student", func(t *testing.T) {
		d, err := r.svc.ResolveDownload(ctx, student, v.ID)
		require.NoError(t, err)
		assert.Equal(t, "Syllabus", d.File.Title)
		assert.Contains(t, d.URL.Query().Get("response-content-disposition"), `filename=syllabus.pdf`)
	})

	t.Run("other professor under own scope", func(t *testing.T) {
		_, err := r.svc.ResolveDownload(ctx, profB, v.ID)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := r.svc.ResolveDownload(ctx, nil, v.ID)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := r.svc.ResolveDownload(ctx, student, 404)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("record being deleted", func(t *testing.T) {
		marked, err := r.repo.MarkDeleting(ctx, v.ID, profA.UserID)
		require.NoError(t, err)
		require.True(t, marked)
		defer r.repo.RestoreActive(ctx, v.ID)

		_, err = r.svc.ResolveDownload(ctx, student, v.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestOpenDownload(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	ctx := context.Background()
	v := r.mustCreate(t, profA, "Syllabus")

	record, obj, err := r.svc.OpenDownload(ctx, student, v.ID)
	require.NoError(t, err)
	defer obj.Body.Close()

	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 Syllabus", string(body))
	assert.Equal(t, "application/pdf", obj.ContentType)
	assert.Equal(t, "syllabus.pdf", record.OriginalName)
}

func TestPublishFailureDoesNotFailUpload(t *testing.T) {
	r := newRegistry(policy.ScopeOwn)
	r.producer.err = errors.New("broker down")

	v := r.mustCreate(t, profA, "Syllabus")
	assert.NotZero(t, v.ID)
}
